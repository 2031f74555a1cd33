package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("Defaults should pass validation: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Routing.Timeout = 0
	cfg.Storage.Path = ""
	cfg.Tracer.Exporter = "zipkin"

	err := Validate(cfg)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidateLLM(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty default", func(c *Config) { c.LLM.DefaultProvider = "" }, "llm.default_provider must not be empty"},
		{"unnamed provider", func(c *Config) {
			c.LLM.Providers = []ProviderConfig{{Type: "openai"}}
		}, "llm.providers[0].name must not be empty"},
		{"duplicate", func(c *Config) {
			c.LLM.Providers = []ProviderConfig{{Name: "openai"}, {Name: "openai"}}
		}, "duplicate provider name"},
		{"bad type", func(c *Config) {
			c.LLM.Providers = []ProviderConfig{{Name: "openai", Type: "gemini"}}
		}, "type \"gemini\" is invalid"},
		{"bedrock region", func(c *Config) {
			c.LLM.DefaultProvider = "aws"
			c.LLM.Providers = []ProviderConfig{{Name: "aws", Type: "bedrock"}}
		}, "region is required"},
		{"unknown default", func(c *Config) {
			c.LLM.Providers = []ProviderConfig{{Name: "claude", Type: "anthropic"}}
		}, "does not match any configured provider"},
		{"unknown fallback", func(c *Config) {
			c.LLM.Providers = []ProviderConfig{{Name: "openai"}}
			c.LLM.Failover = FailoverConfig{Enabled: true, Fallbacks: []string{"ghost"}}
		}, "unknown provider \"ghost\""},
		{"rate limit", func(c *Config) {
			c.LLM.Providers = []ProviderConfig{{Name: "openai"}}
			c.LLM.RateLimit = RateLimitConfig{Enabled: true}
		}, "llm.rate_limit.requests_per_second must be > 0"},
		{"routing provider", func(c *Config) {
			c.LLM.Providers = []ProviderConfig{{Name: "openai"}}
			c.Routing.Provider = "ghost"
		}, "routing.provider \"ghost\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			assertContains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateLLMMissingAPIKeyAllowed(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{{Name: "openai", Type: "openai"}}
	if err := Validate(cfg); err != nil {
		t.Errorf("missing api key must not fail validation: %v", err)
	}
}

func TestValidateRouting(t *testing.T) {
	cfg := Defaults()
	cfg.Routing.ConfidenceThreshold = -0.1
	cfg.Routing.MaxTokens = -1
	cfg.Routing.ContextMessages = -1
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "routing.confidence_threshold")
	assertContains(t, err.Error(), "routing.max_tokens")
	assertContains(t, err.Error(), "routing.context_messages")
}

func TestValidateAgents(t *testing.T) {
	agent := func(id string, def bool) AgentInstanceConfig {
		return AgentInstanceConfig{ID: id, Name: id, Default: def}
	}
	tests := []struct {
		name   string
		agents AgentsConfig
		want   string
	}{
		{"empty id", AgentsConfig{Instances: []AgentInstanceConfig{agent("", true)}}, "id must not be empty"},
		{"duplicate", AgentsConfig{Instances: []AgentInstanceConfig{agent("a", true), agent("a", false)}}, "duplicate agent ID"},
		{"no default", AgentsConfig{Instances: []AgentInstanceConfig{agent("a", false)}}, "exactly one default agent required, found 0"},
		{"two defaults", AgentsConfig{Instances: []AgentInstanceConfig{agent("a", true), agent("b", true)}}, "found 2"},
		{"both sources", AgentsConfig{CatalogPath: "x.yaml", Instances: []AgentInstanceConfig{agent("a", true)}}, "mutually exclusive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Agents = tt.agents
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			assertContains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateTracerOTLPNeedsEndpoint(t *testing.T) {
	cfg := Defaults()
	cfg.Tracer = TracerConfig{Enabled: true, Exporter: "otlp"}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "tracer.endpoint is required")
}

func TestValidateScheduler(t *testing.T) {
	cfg := Defaults()
	cfg.Scheduler = SchedulerConfig{
		Enabled: true,
		Tasks: []ScheduledTaskConfig{
			{Name: "", Schedule: "", Action: ""},
			{Name: "x", Schedule: "1h", Action: "send_email"},
			{Name: "ok", Schedule: "@daily", Action: "trace_retention", MaxAge: 24 * time.Hour},
		},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	assertContains(t, msg, "scheduler.tasks[0].name is required")
	assertContains(t, msg, "scheduler.tasks[0].schedule is required")
	assertContains(t, msg, "scheduler.tasks[0].action is required")
	assertContains(t, msg, "action \"send_email\" is invalid")
	if strings.Contains(msg, "tasks[2]") {
		t.Errorf("valid task reported: %s", msg)
	}
}

func TestValidateSchedulerDisabledSkipsTasks(t *testing.T) {
	cfg := Defaults()
	cfg.Scheduler.Tasks = []ScheduledTaskConfig{{}}
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled scheduler should not validate tasks: %v", err)
	}
}
