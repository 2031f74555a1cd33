package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
)

const sampleCatalog = `
agents:
  - id: router
    name: Router
    description: General conversation and triage.
    when_to_use: ["general questions"]
    when_not_to_use: ["deep code debugging"]
    default: true
  - id: librarian
    name: Librarian
    description: Finds documentation.
    when_to_use: ["looking up docs", "searching"]
    when_not_to_use: ["fixing bugs"]
    model: gpt-4o-mini
`

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))

	src := NewFileSource(path)
	agents, err := src.Agents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 2)

	assert.Equal(t, "router", agents[0].ID)
	assert.True(t, agents[0].Default)
	assert.Equal(t, []string{"looking up docs", "searching"}, agents[1].WhenToUse)
	assert.Equal(t, "gpt-4o-mini", agents[1].Model)
	assert.Equal(t, path, src.String())
}

func TestFileSourceErrors(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml")).Agents(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents: [unterminated"), 0o600))
	_, err = NewFileSource(path).Agents(context.Background())
	assert.ErrorContains(t, err, "parse agent catalog")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewFileSource(path).Agents(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStaticSourceReturnsCopies(t *testing.T) {
	src := NewStaticSource([]domain.Agent{{ID: "a", WhenToUse: []string{"x"}}})

	first, err := src.Agents(context.Background())
	require.NoError(t, err)
	first[0].WhenToUse[0] = "mutated"
	first[0].ID = "changed"

	second, err := src.Agents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", second[0].ID)
	assert.Equal(t, "x", second[0].WhenToUse[0])
}

func TestFromConfig(t *testing.T) {
	src := FromConfig(config.AgentsConfig{CatalogPath: "/etc/agents.yaml"})
	assert.IsType(t, &FileSource{}, src)

	src = FromConfig(config.AgentsConfig{Instances: []config.AgentInstanceConfig{
		{ID: "router", Name: "Router", WhenToUse: []string{"a"}, WhenNotToUse: []string{"b"}, Default: true},
	}})
	agents, err := src.Agents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "Router", agents[0].Name)
	assert.True(t, agents[0].Default)
}
