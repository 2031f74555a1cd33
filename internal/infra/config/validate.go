package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
//
// Missing API keys are not an error: the routing engine degrades to keyword
// routing when its provider has no credential.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLLM(cfg, ve)
	validateRouting(cfg, ve)
	validateAgents(cfg, ve)
	validateStorage(cfg, ve)
	validateTracer(cfg, ve)
	validateScheduler(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validProviderTypes = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"bedrock":   true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}

	if len(cfg.LLM.Providers) == 0 {
		return
	}

	seen := make(map[string]bool)
	foundDefault := false
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.Type != "" && !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, anthropic, bedrock)", i, p.Type)
		}
		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
		if p.Name == cfg.LLM.DefaultProvider {
			foundDefault = true
		}
	}

	if !foundDefault && cfg.LLM.DefaultProvider != "" {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}

	if cfg.LLM.Failover.Enabled {
		for _, fb := range cfg.LLM.Failover.Fallbacks {
			if !seen[fb] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", fb)
			}
		}
	}
	if cfg.LLM.RateLimit.Enabled {
		if cfg.LLM.RateLimit.RequestsPerSecond <= 0 {
			ve.Add("llm.rate_limit.requests_per_second must be > 0")
		}
		if cfg.LLM.RateLimit.Burst <= 0 {
			ve.Add("llm.rate_limit.burst must be > 0")
		}
	}
	if cfg.Routing.Provider != "" && !seen[cfg.Routing.Provider] {
		ve.Add("routing.provider %q does not match any configured provider", cfg.Routing.Provider)
	}
}

func validateRouting(cfg *Config, ve *ValidationError) {
	r := cfg.Routing
	if r.ConfidenceThreshold < 0 || r.ConfidenceThreshold > 1 {
		ve.Add("routing.confidence_threshold %v must be within [0, 1]", r.ConfidenceThreshold)
	}
	if r.Timeout <= 0 {
		ve.Add("routing.timeout must be > 0")
	}
	if r.MaxTokens < 0 {
		ve.Add("routing.max_tokens must be >= 0")
	}
	if r.ContextMessages < 0 {
		ve.Add("routing.context_messages must be >= 0")
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	if cfg.Agents.CatalogPath != "" && len(cfg.Agents.Instances) > 0 {
		ve.Add("agents: catalog_path and instances are mutually exclusive")
	}

	seen := make(map[string]bool)
	defaults := 0
	for i, inst := range cfg.Agents.Instances {
		if inst.ID == "" {
			ve.Add("agents.instances[%d].id must not be empty", i)
			continue
		}
		if seen[inst.ID] {
			ve.Add("agents.instances[%d]: duplicate agent ID %q", i, inst.ID)
		}
		seen[inst.ID] = true
		if inst.Default {
			defaults++
		}
	}
	if len(cfg.Agents.Instances) > 0 && defaults != 1 {
		ve.Add("agents.instances: exactly one default agent required, found %d", defaults)
	}
}

func validateStorage(cfg *Config, ve *ValidationError) {
	if cfg.Storage.Path == "" {
		ve.Add("storage.path must not be empty")
	}
	if cfg.Storage.TraceRetention < 0 {
		ve.Add("storage.trace_retention must be >= 0")
	}
}

var validExporters = map[string]bool{"noop": true, "stdout": true, "otlp": true, "": true}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout, otlp)", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.Enabled && cfg.Tracer.Exporter == "otlp" && cfg.Tracer.Endpoint == "" {
		ve.Add("tracer.endpoint is required for the otlp exporter")
	}
}

var validActions = map[string]bool{"registry_reload": true, "trace_retention": true}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		}
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		}
		if t.Action == "" {
			ve.Add("scheduler.tasks[%d].action is required", i)
		} else if !validActions[t.Action] {
			ve.Add("scheduler.tasks[%d].action %q is invalid (want: registry_reload, trace_retention)", i, t.Action)
		}
	}
}
