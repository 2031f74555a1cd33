package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Subsystem-specific variants are built with NewSubSystemError.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrProviderError = fmt.Errorf("provider error")
)

// Provider errors. LLM adapters wrap one of these so the fallback
// classifier can resolve a FallbackReason with errors.Is.
var (
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrProviderMissing = fmt.Errorf("llm provider not found")
	ErrCircuitOpen     = fmt.Errorf("provider circuit open")
)

// Core errors.
var (
	ErrRouting       = fmt.Errorf("routing failed")
	ErrRegistry      = fmt.Errorf("agent registry invalid")
	ErrStorage       = fmt.Errorf("storage operation failed")
	ErrSameAgent     = fmt.Errorf("source and target agent are the same")
	ErrNoActiveTrace = fmt.Errorf("no active trace")
	ErrSpanMismatch  = fmt.Errorf("span is not open")
	ErrSpanNotFound  = fmt.Errorf("span not found")
	ErrConfigLoad    = fmt.Errorf("failed to load configuration")
	ErrDecryption    = fmt.Errorf("decryption failed")
	ErrEncryption    = fmt.Errorf("encryption operation failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Registry.GetByID")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // e.g. "agent", "trace", "handoff"; used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed
// on another provider or a later attempt.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrCircuitOpen)
}

// FieldError reports a missing or malformed input field.
type FieldError struct {
	Field  string
	Detail string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Detail)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match every FieldError.
func (e *FieldError) Unwrap() error { return ErrInvalidInput }

// NewFieldError creates a FieldError.
func NewFieldError(field, detail string) *FieldError {
	return &FieldError{Field: field, Detail: detail}
}

// HandoffError is returned by the handoff pipeline. It always names both
// agents so callers can report which transfer failed.
type HandoffError struct {
	FromAgent string
	ToAgent   string
	Step      string // "validate", "persist", "notify", "invoke"
	Err       error
}

func (e *HandoffError) Error() string {
	return fmt.Sprintf("handoff %s -> %s failed at %s: %v", e.FromAgent, e.ToAgent, e.Step, e.Err)
}

func (e *HandoffError) Unwrap() error { return e.Err }

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown        ErrorCode = "UNKNOWN"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeDuplicate      ErrorCode = "DUPLICATE"
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeTimeout        ErrorCode = "TIMEOUT"
	CodeProviderError  ErrorCode = "PROVIDER_ERROR"
	CodeRateLimit      ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid    ErrorCode = "AUTH_INVALID"
	CodeProviderNotFnd ErrorCode = "PROVIDER_NOT_FOUND"
	CodeCircuitOpen    ErrorCode = "CIRCUIT_OPEN"
	CodeRouting        ErrorCode = "ROUTING"
	CodeRegistry       ErrorCode = "REGISTRY"
	CodeStorage        ErrorCode = "STORAGE"
	CodeSameAgent      ErrorCode = "SAME_AGENT"
	CodeNoActiveTrace  ErrorCode = "NO_ACTIVE_TRACE"
	CodeSpanMismatch   ErrorCode = "SPAN_MISMATCH"
	CodeSpanNotFound   ErrorCode = "SPAN_NOT_FOUND"
	CodeConfigLoad     ErrorCode = "CONFIG_LOAD"
	CodeDecryption     ErrorCode = "DECRYPTION"
	CodeEncryption     ErrorCode = "ENCRYPTION"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeAgentNotFound   ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentDuplicate  ErrorCode = "AGENT_DUPLICATE"
	CodeTraceNotFound   ErrorCode = "TRACE_NOT_FOUND"
	CodeHandoffInvalid  ErrorCode = "HANDOFF_INVALID"
	CodeRoutingTimeout  ErrorCode = "ROUTING_TIMEOUT"
	CodeRoutingNotFound ErrorCode = "ROUTING_AGENT_NOT_FOUND"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:        CodeNotFound,
	ErrDuplicate:       CodeDuplicate,
	ErrInvalidInput:    CodeInvalidInput,
	ErrTimeout:         CodeTimeout,
	ErrProviderError:   CodeProviderError,
	ErrRateLimit:       CodeRateLimit,
	ErrAuthInvalid:     CodeAuthInvalid,
	ErrProviderMissing: CodeProviderNotFnd,
	ErrCircuitOpen:     CodeCircuitOpen,
	ErrRouting:         CodeRouting,
	ErrRegistry:        CodeRegistry,
	ErrStorage:         CodeStorage,
	ErrSameAgent:       CodeSameAgent,
	ErrNoActiveTrace:   CodeNoActiveTrace,
	ErrSpanMismatch:    CodeSpanMismatch,
	ErrSpanNotFound:    CodeSpanNotFound,
	ErrConfigLoad:      CodeConfigLoad,
	ErrDecryption:      CodeDecryption,
	ErrEncryption:      CodeEncryption,
}

var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"agent":   CodeAgentNotFound,
		"trace":   CodeTraceNotFound,
		"routing": CodeRoutingNotFound,
	},
	ErrDuplicate: {
		"agent": CodeAgentDuplicate,
	},
	ErrInvalidInput: {
		"handoff": CodeHandoffInvalid,
	},
	ErrTimeout: {
		"routing": CodeRoutingTimeout,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	// Specific sentinels first so a wrapped ErrNotFound inside ErrRouting
	// reports ROUTING rather than NOT_FOUND.
	for _, sentinel := range codePriority {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

var codePriority = []error{
	ErrRouting, ErrRegistry, ErrStorage, ErrSameAgent,
	ErrRateLimit, ErrAuthInvalid, ErrCircuitOpen, ErrProviderMissing, ErrTimeout,
	ErrNoActiveTrace, ErrSpanMismatch, ErrSpanNotFound,
	ErrConfigLoad, ErrDecryption, ErrEncryption,
	ErrNotFound, ErrDuplicate, ErrInvalidInput, ErrProviderError,
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
