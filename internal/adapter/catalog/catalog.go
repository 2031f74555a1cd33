// Package catalog loads agent definitions for the agent registry.
package catalog

import (
	"context"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

// Source supplies the raw agent list.
type Source interface {
	Agents(ctx context.Context) ([]domain.Agent, error)
}

// FileSource reads agents from a YAML file with a top-level `agents:` list.
// The file is re-read on every call so registry reloads pick up edits.
type FileSource struct {
	path string
}

// NewFileSource creates a source for the catalog file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

type catalogFile struct {
	Agents []domain.Agent `yaml:"agents"`
}

// Agents implements Source.
func (s *FileSource) Agents(ctx context.Context) ([]domain.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read agent catalog %s: %w", s.path, err)
	}

	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse agent catalog %s: %w", s.path, err)
	}
	return f.Agents, nil
}

// String returns the catalog path for log output.
func (s *FileSource) String() string { return s.path }

// StaticSource serves a fixed agent list, e.g. instances declared inline in
// the config file.
type StaticSource struct {
	agents []domain.Agent
}

// NewStaticSource copies agents into a new source.
func NewStaticSource(agents []domain.Agent) *StaticSource {
	return &StaticSource{agents: slices.Clone(agents)}
}

// Agents implements Source.
func (s *StaticSource) Agents(_ context.Context) ([]domain.Agent, error) {
	out := make([]domain.Agent, len(s.agents))
	for i, a := range s.agents {
		a.WhenToUse = slices.Clone(a.WhenToUse)
		a.WhenNotToUse = slices.Clone(a.WhenNotToUse)
		out[i] = a
	}
	return out, nil
}

// String implements fmt.Stringer.
func (s *StaticSource) String() string { return "inline" }

// FromConfig picks the source the agents section describes: the catalog file
// when set, the inline instances otherwise.
func FromConfig(cfg config.AgentsConfig) Source {
	if cfg.CatalogPath != "" {
		return NewFileSource(cfg.CatalogPath)
	}

	agents := make([]domain.Agent, 0, len(cfg.Instances))
	for _, inst := range cfg.Instances {
		agents = append(agents, domain.Agent{
			ID:           inst.ID,
			Name:         inst.Name,
			Description:  inst.Description,
			WhenToUse:    inst.WhenToUse,
			WhenNotToUse: inst.WhenNotToUse,
			Default:      inst.Default,
			Model:        inst.Model,
		})
	}
	return NewStaticSource(agents)
}
