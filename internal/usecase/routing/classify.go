package routing

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"switchboard/internal/domain"
)

// apiErrorPattern matches the "API error <status>:" text the HTTP providers
// produce, for errors that reach us without a sentinel.
var apiErrorPattern = regexp.MustCompile(`API error (\d+):`)

// Classify maps a routing failure onto a FallbackReason and a message fit
// for the decision's reasoning. Wrapped sentinels are checked first, then
// an embedded HTTP status, then the error text.
func Classify(err error) (domain.FallbackReason, string) {
	if err == nil {
		return domain.ReasonUnknownError, "unknown error"
	}
	if reason, msg, ok := classifyBySentinel(err); ok {
		return reason, msg
	}

	text := err.Error()
	if m := apiErrorPattern.FindStringSubmatch(text); len(m) == 2 {
		code, _ := strconv.Atoi(m[1])
		return classifyByStatus(code, text)
	}
	return classifyByString(text)
}

func classifyBySentinel(err error) (domain.FallbackReason, string, bool) {
	switch {
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.ReasonTimeout, "routing timed out: " + err.Error(), true
	case errors.Is(err, domain.ErrRateLimit):
		return domain.ReasonRateLimit, "provider rate limit exceeded: " + err.Error(), true
	case errors.Is(err, domain.ErrCircuitOpen):
		return domain.ReasonAPIError, "provider temporarily unavailable: " + err.Error(), true
	case errors.Is(err, domain.ErrAuthInvalid):
		return domain.ReasonAPIError, "invalid or missing API key", true
	case errors.Is(err, domain.ErrRouting), errors.Is(err, domain.ErrProviderError), errors.Is(err, domain.ErrProviderMissing):
		return domain.ReasonAPIError, "provider error: " + err.Error(), true
	case errors.Is(err, domain.ErrNotFound):
		return domain.ReasonAgentUnavailable, "agent not available: " + err.Error(), true
	case errors.Is(err, domain.ErrRegistry):
		return domain.ReasonRegistryError, "agent registry error: " + err.Error(), true
	}
	return "", "", false
}

func classifyByStatus(code int, text string) (domain.FallbackReason, string) {
	switch {
	case code == 429:
		return domain.ReasonRateLimit, "provider rate limit exceeded: " + text
	case code == 401 || code == 403:
		return domain.ReasonAPIError, "invalid or missing API key"
	case code == 408 || code == 504:
		return domain.ReasonTimeout, "routing timed out: " + text
	default:
		return domain.ReasonAPIError, "provider error: " + text
	}
}

func classifyByString(text string) (domain.FallbackReason, string) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"), strings.Contains(lower, "deadline exceeded"):
		return domain.ReasonTimeout, "routing timed out: " + text
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "too many requests"):
		return domain.ReasonRateLimit, "provider rate limit exceeded: " + text
	case strings.Contains(lower, "api key"), strings.Contains(lower, "unauthorized"):
		return domain.ReasonAPIError, "invalid or missing API key"
	}
	return domain.ReasonUnknownError, text
}
