package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is().
// These cover every failure kind the pipeline surfaces internally;
// none of them ever escapes Analyze.
var (
	// Provider call failures
	ErrTransport        = errors.New("provider transport error")
	ErrOperationTimeout = errors.New("operation timeout")
	ErrAuthentication   = errors.New("provider authentication failed")
	ErrRateLimited      = errors.New("provider rate limit exceeded")
	ErrContentFiltered  = errors.New("content filtered by provider")
	ErrParse            = errors.New("response is not valid structured advice")
	ErrNoAdvice         = errors.New("response contains no advice")

	// Admission failures
	ErrCircuitOpen    = errors.New("circuit breaker is open")
	ErrQueueExhausted = errors.New("admission queue exhausted")

	// Pre-flight failures
	ErrAbsentCredential   = errors.New("no provider credential available")
	ErrReentrantTransport = errors.New("error originates from outbound transport")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// PipelineError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type PipelineError struct {
	Op      string // Operation that failed (e.g., "provider.analyze")
	Kind    string // Failure kind (see KindOf)
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *PipelineError) Error() string {
	if e.Op != "" && e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a new PipelineError
func NewPipelineError(op string, err error) *PipelineError {
	return &PipelineError{
		Op:   op,
		Kind: KindOf(err),
		Err:  err,
	}
}

// KindOf maps an error to its failure kind for structured logging.
// Authentication and rate-limit failures surface as transport errors;
// they stay distinct sentinels so callers can branch on them.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOperationTimeout):
		return "operation-timeout"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit-open"
	case errors.Is(err, ErrQueueExhausted):
		return "queue-exhausted"
	case errors.Is(err, ErrAbsentCredential):
		return "absent-credential"
	case errors.Is(err, ErrParse):
		return "parse-error"
	case errors.Is(err, ErrNoAdvice):
		return "no-advice"
	case errors.Is(err, ErrContentFiltered):
		return "content-filtered"
	case errors.Is(err, ErrReentrantTransport):
		return "reentrant-transport"
	case errors.Is(err, ErrAuthentication),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrTransport):
		return "transport-error"
	default:
		return "transport-error"
	}
}

// IsAdmissionError checks if an error is a local admission rejection
// rather than a provider failure
func IsAdmissionError(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrQueueExhausted)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}
