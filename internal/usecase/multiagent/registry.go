package multiagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"switchboard/internal/domain"
	"switchboard/internal/infra/logger"
)

// CatalogSource supplies the raw agent definitions.
type CatalogSource interface {
	Agents(ctx context.Context) ([]domain.Agent, error)
}

// Registry is the validated, cached agent catalog. The first read loads it;
// Reload swaps it atomically and keeps the old catalog when the new one is
// invalid.
type Registry struct {
	source CatalogSource
	bus    domain.EventBus
	logger *slog.Logger

	loadMu sync.Mutex // serializes loads
	mu     sync.RWMutex
	loaded bool
	agents []domain.Agent // sorted by id
	byID   map[string]int
	defIdx int
}

var _ domain.AgentRegistry = (*Registry)(nil)

// NewRegistry creates a registry over source. bus may be nil.
func NewRegistry(source CatalogSource, bus domain.EventBus, log *slog.Logger) *Registry {
	return &Registry{
		source: source,
		bus:    bus,
		logger: logger.OrDiscard(log),
	}
}

// Load validates and caches the catalog on first use and returns a copy of
// it. Later calls return the cached catalog.
func (r *Registry) Load(ctx context.Context) ([]domain.Agent, error) {
	r.mu.RLock()
	if r.loaded {
		out := slices.Clone(r.agents)
		r.mu.RUnlock()
		return out, nil
	}
	r.mu.RUnlock()

	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	r.mu.RLock()
	done := r.loaded
	r.mu.RUnlock()
	if done {
		return r.List(), nil
	}
	return r.load(ctx)
}

// Reload re-reads the catalog. On failure the previous catalog stays active.
func (r *Registry) Reload(ctx context.Context) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	_, err := r.load(ctx)
	return err
}

// load fetches, validates and installs the catalog. Callers hold loadMu.
func (r *Registry) load(ctx context.Context) ([]domain.Agent, error) {
	if r.source == nil {
		return nil, domain.NewSubSystemError("agent", "Registry.Load", domain.ErrRegistry, "no catalog source configured")
	}
	agents, err := r.source.Agents(ctx)
	if err != nil {
		return nil, domain.NewSubSystemError("agent", "Registry.Load", fmt.Errorf("%w: %w", domain.ErrRegistry, err), "")
	}
	if err := ValidateCatalog(agents); err != nil {
		return nil, domain.NewSubSystemError("agent", "Registry.Load", fmt.Errorf("%w: %w", domain.ErrRegistry, err), "")
	}

	sorted := slices.Clone(agents)
	slices.SortFunc(sorted, func(a, b domain.Agent) int { return strings.Compare(a.ID, b.ID) })
	byID := make(map[string]int, len(sorted))
	def := 0
	for i, a := range sorted {
		byID[a.ID] = i
		if a.Default {
			def = i
		}
	}

	r.mu.Lock()
	r.agents = sorted
	r.byID = byID
	r.defIdx = def
	r.loaded = true
	r.mu.Unlock()

	r.logger.Info("agent catalog loaded", "agents", len(sorted), "default", sorted[def].ID)
	if r.bus != nil {
		ids := make([]string, len(sorted))
		for i, a := range sorted {
			ids[i] = a.ID
		}
		r.bus.Publish(ctx, domain.NewEvent(domain.EventRegistryLoaded, "", map[string]any{"agents": ids}))
	}
	return slices.Clone(sorted), nil
}

// ensure lazily loads the catalog for read paths.
func (r *Registry) ensure() error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}
	_, err := r.Load(context.Background())
	return err
}

// GetByID returns the agent with id.
func (r *Registry) GetByID(id string) (domain.Agent, error) {
	if err := r.ensure(); err != nil {
		return domain.Agent{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byID[id]
	if !ok {
		return domain.Agent{}, domain.NewSubSystemError("agent", "Registry.GetByID", domain.ErrNotFound, id)
	}
	return r.agents[i], nil
}

// GetDefault returns the catalog's default agent.
func (r *Registry) GetDefault() (domain.Agent, error) {
	if err := r.ensure(); err != nil {
		return domain.Agent{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.agents[r.defIdx], nil
}

// IsValid reports whether id names a catalog agent. A catalog that cannot be
// loaded has no valid ids.
func (r *Registry) IsValid(id string) bool {
	if r.ensure() != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// List returns the cached catalog sorted by id, or nil before a successful load.
func (r *Registry) List() []domain.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.agents)
}

// ValidateCatalog checks the catalog invariants: at least one agent, unique
// non-empty ids, a name and both usage lists on every agent, and exactly one
// default. All violations are reported together.
func ValidateCatalog(agents []domain.Agent) error {
	if len(agents) == 0 {
		return errors.New("catalog is empty")
	}

	var errs []error
	seen := make(map[string]bool, len(agents))
	defaults := 0
	for i, a := range agents {
		label := a.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Errorf("agent %s: id is required", label))
		} else if seen[a.ID] {
			errs = append(errs, fmt.Errorf("agent %s: %w", label, domain.ErrDuplicate))
		}
		seen[a.ID] = true

		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, fmt.Errorf("agent %s: name is required", label))
		}
		if len(a.WhenToUse) == 0 {
			errs = append(errs, fmt.Errorf("agent %s: when_to_use must not be empty", label))
		}
		if len(a.WhenNotToUse) == 0 {
			errs = append(errs, fmt.Errorf("agent %s: when_not_to_use must not be empty", label))
		}
		if a.Default {
			defaults++
		}
	}
	if defaults != 1 {
		errs = append(errs, fmt.Errorf("exactly one default agent required, found %d", defaults))
	}
	return errors.Join(errs...)
}
