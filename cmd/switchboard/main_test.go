package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/domain"
)

const testConfig = `
logger:
  level: error
storage:
  path: %DB%
agents:
  instances:
    - id: router
      name: Router
      description: General triage
      when_to_use: ["general questions"]
      when_not_to_use: ["deep debugging"]
      default: true
    - id: librarian
      name: Librarian
      description: Finds prompts and documents
      when_to_use: ["searching"]
      when_not_to_use: ["debugging"]
    - id: dojo
      name: Dojo
      description: Debugs conflicts
      when_to_use: ["errors"]
      when_not_to_use: ["lookups"]
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := bytes.ReplaceAll([]byte(testConfig), []byte("%DB%"), []byte(filepath.Join(dir, "sb.db")))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, body, 0o600))
	return path
}

func execute(t *testing.T, args ...string) ([]byte, error) {
	t.Helper()
	routeFlags.context = nil
	handoffFlags.messages = nil
	historyFlags.last, historyFlags.count = false, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.Bytes(), err
}

func TestRouteHandoffHistoryTrace(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := execute(t, "--config", cfg, "route", "Find prompts similar to my budget planning", "--session", "s1", "--user", "alice")
	require.NoError(t, err, string(out))

	var routed struct {
		Decision domain.RoutingDecision `json:"decision"`
		TraceID  string                 `json:"trace_id"`
	}
	require.NoError(t, json.Unmarshal(out, &routed))
	assert.Equal(t, "librarian", routed.Decision.AgentID)
	assert.Equal(t, 0.5, routed.Decision.Confidence)
	assert.True(t, routed.Decision.Fallback)
	assert.Equal(t, domain.ReasonNoAPIKey, routed.Decision.FallbackReason)
	require.NotEmpty(t, routed.TraceID)

	out, err = execute(t, "--config", cfg, "trace", "get", routed.TraceID)
	require.NoError(t, err, string(out))
	var tr domain.Trace
	require.NoError(t, json.Unmarshal(out, &tr))
	assert.Equal(t, "s1", tr.SessionID)
	assert.Equal(t, []string{"librarian"}, tr.Summary.AgentsUsed)

	out, err = execute(t, "--config", cfg, "handoff",
		"--session", "s1", "--from", "router", "--to", "librarian",
		"--reason", "needs search", "--intent", "find budget prompts",
		"--message", "user: find my budget prompts")
	require.NoError(t, err, string(out))
	var res domain.HandoffResult
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, "librarian", res.Event.ToAgent)
	require.Len(t, res.Event.ConversationHistory, 1)
	assert.Equal(t, domain.RoleUser, res.Event.ConversationHistory[0].Role)

	_, err = execute(t, "--config", cfg, "handoff",
		"--session", "s1", "--from", "dojo", "--to", "dojo",
		"--reason", "r", "--intent", "i")
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(domain.CodeSameAgent))

	out, err = execute(t, "--config", cfg, "history", "s1", "--count")
	require.NoError(t, err, string(out))
	assert.JSONEq(t, `{"count":1}`, string(out))

	out, err = execute(t, "--config", cfg, "trace", "session", "s1")
	require.NoError(t, err, string(out))
	var traces []domain.Trace
	require.NoError(t, json.Unmarshal(out, &traces))
	assert.Len(t, traces, 3, "route, handoff and the failed handoff each persist a trace")

	out, err = execute(t, "--config", cfg, "events", "s1")
	require.NoError(t, err, string(out))
	var events []domain.Event
	require.NoError(t, json.Unmarshal(out, &events))
	counts := map[domain.EventType]int{}
	for _, e := range events {
		assert.Equal(t, "s1", e.SessionID)
		counts[e.Type]++
	}
	assert.Equal(t, 1, counts[domain.EventRoutingFallback], "keyword routing is journaled as a fallback")
	assert.Equal(t, 1, counts[domain.EventAgentHandoff], "only the accepted handoff is journaled")
	assert.Equal(t, 3, counts[domain.EventTraceEnded])

	out, err = execute(t, "--config", cfg, "events", "nobody")
	require.NoError(t, err, string(out))
	assert.JSONEq(t, `[]`, string(out))
}

func TestParseMessages(t *testing.T) {
	msgs := parseMessages([]string{"assistant: hello", "user:hi", "no role here", "tool: x"})
	require.Len(t, msgs, 4)
	assert.Equal(t, domain.Message{Role: domain.RoleAssistant, Content: "hello"}, msgs[0])
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "hi"}, msgs[1])
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "no role here"}, msgs[2])
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "tool: x"}, msgs[3])
}
