package multiagent

import (
	"testing"

	"switchboard/internal/domain"
)

func testAgents() []domain.Agent {
	return []domain.Agent{
		{ID: "router", Name: "Router", WhenToUse: []string{"general"}, WhenNotToUse: []string{"code"}, Default: true},
		{ID: "librarian", Name: "Librarian", WhenToUse: []string{"search"}, WhenNotToUse: []string{"debug"}},
		{ID: "dojo", Name: "Dojo", WhenToUse: []string{"debug"}, WhenNotToUse: []string{"search"}},
	}
}

func newTestKeywordRouter() *KeywordRouter {
	return NewKeywordRouter(KeywordConfig{SearchAgent: "librarian", DebugAgent: "dojo"}, nil)
}

func TestKeywordRouter(t *testing.T) {
	agents := testAgents()
	def := agents[0]
	r := newTestKeywordRouter()

	tests := []struct {
		query   string
		want    string
		keyword string
	}{
		{"Find prompts similar to my budget planning", "librarian", "find"},
		{"search for conflicts and debug errors", "librarian", "search"},
		{"I have a CONFLICT in my config", "dojo", "conflict"},
		{"what went wrong here", "dojo", "wrong"},
		{"hello there", "router", ""},
		{"", "router", ""},
	}
	for _, tt := range tests {
		got := r.Route(tt.query, agents, def)
		if got.Agent.ID != tt.want {
			t.Errorf("Route(%q) = %q, want %q", tt.query, got.Agent.ID, tt.want)
		}
		if got.Keyword != tt.keyword {
			t.Errorf("Route(%q) keyword = %q, want %q", tt.query, got.Keyword, tt.keyword)
		}
	}
}

func TestKeywordRouterSpecialistUnavailable(t *testing.T) {
	agents := testAgents()[:1]
	r := newTestKeywordRouter()

	got := r.Route("search the docs", agents, agents[0])
	if got.Agent.ID != "router" {
		t.Errorf("got %q, want default agent", got.Agent.ID)
	}
}

func TestKeywordRouterCustomKeywords(t *testing.T) {
	agents := testAgents()
	r := NewKeywordRouter(KeywordConfig{
		SearchAgent:    "librarian",
		DebugAgent:     "dojo",
		SearchKeywords: []string{"  Grep ", ""},
		DebugKeywords:  []string{"stacktrace"},
	}, nil)

	if got := r.Route("grep the repo", agents, agents[0]); got.Agent.ID != "librarian" {
		t.Errorf("custom search keyword: got %q", got.Agent.ID)
	}
	if got := r.Route("find the docs", agents, agents[0]); got.Agent.ID != "router" {
		t.Errorf("default keywords should be replaced, got %q", got.Agent.ID)
	}
	if got := r.Route("here is a stacktrace", agents, agents[0]); got.Agent.ID != "dojo" {
		t.Errorf("custom debug keyword: got %q", got.Agent.ID)
	}
}
