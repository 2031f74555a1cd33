package tracing

import (
	"encoding/json"
	"slices"

	"switchboard/internal/domain"
)

// applySummary folds one event's metadata into the rolling summary. Error
// events are counted once, when created.
func applySummary(s domain.TraceSummary, eventType domain.TraceEventType, metadata map[string]any, created bool) domain.TraceSummary {
	if v, ok := number(metadata[domain.MetaDurationMs]); ok {
		s.TotalDurationMs += v
	}
	if v, ok := number(metadata[domain.MetaTokenCount]); ok {
		s.TotalTokens += int(v)
	}
	if v, ok := number(metadata[domain.MetaCostUSD]); ok {
		s.TotalCostUSD += v
	}

	switch eventType {
	case domain.TraceError:
		if created {
			s.Errors++
		}
	case domain.TraceAgentRouting:
		if id, ok := metadata[domain.MetaAgentID].(string); ok && id != "" && !slices.Contains(s.AgentsUsed, id) {
			s.AgentsUsed = append(s.AgentsUsed, id)
		}
	case domain.TraceModeTransition:
		if mode, ok := metadata[domain.MetaMode].(string); ok && mode != "" && !slices.Contains(s.ModesUsed, mode) {
			s.ModesUsed = append(s.ModesUsed, mode)
		}
	}
	return s
}

// number accepts the numeric shapes metadata values arrive in, including
// values decoded from JSON.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
