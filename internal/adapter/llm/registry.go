package llm

import (
	"fmt"
	"slices"
	"sync"

	"switchboard/internal/domain"
)

// Registry holds named LLM providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.LLMProvider),
	}
}

// Register adds a provider. Returns error if name already registered.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, fmt.Sprintf("provider %q", name))
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderMissing, name)
	}
	return p, nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ModelRouter maps agent names to model identifiers. It implements
// domain.ModelSelector; unmapped names get the fallback model.
type ModelRouter struct {
	mapping  map[string]string
	fallback string
}

// NewModelRouter creates a router. An empty fallback lets the provider pick
// its configured model.
func NewModelRouter(mapping map[string]string, fallback string) *ModelRouter {
	return &ModelRouter{mapping: mapping, fallback: fallback}
}

// ModelForAgent implements domain.ModelSelector.
func (r *ModelRouter) ModelForAgent(name string) string {
	if r == nil {
		return ""
	}
	if m, ok := r.mapping[name]; ok && m != "" && m != "default" {
		return m
	}
	return r.fallback
}

var _ domain.ModelSelector = (*ModelRouter)(nil)
