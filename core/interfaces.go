package core

import (
	"context"
	"encoding/json"
)

// Logger interface - minimal structured logging interface
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// LeveledLogger extends Logger with the terminal and audit levels used
// by the reporting facade. Components only depend on Logger; the facade
// implements the full set.
type LeveledLogger interface {
	Logger
	Fatal(msg string, fields map[string]interface{})
	Audit(msg string, fields map[string]interface{})
}

// ProviderClient is the interface for LLM advice backends.
// Implementations send a single analysis request and parse the advice
// envelope from the response.
type ProviderClient interface {
	Analyze(ctx context.Context, prompt string, options *ProviderOptions) (*Advice, error)
}

// ProviderOptions for a single analysis request
type ProviderOptions struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int
}

// Advice is the remediation payload returned by a provider.
// Treated as an immutable value once produced; cached hits share the
// same instance.
type Advice struct {
	// Text is the advice field of the provider's JSON envelope
	Text string `json:"advice"`

	// Provider and Model identify the backend that produced the advice
	Provider string `json:"-"`
	Model    string `json:"-"`

	// Raw is the unparsed envelope, kept for diagnostics
	Raw json.RawMessage `json:"-"`
}

// Report is the transient error record submitted for analysis.
// It is passed by value; the analyzer never mutates caller state.
type Report struct {
	// Name is the error class or type name (e.g. "TypeError")
	Name string

	// Message is the error message
	Message string

	// Stack is the raw stack trace, if available
	Stack string

	// Context is a free-form description of what the caller was doing
	Context string

	// IncidentID correlates log records for one analysis. Assigned by
	// the analyzer when empty.
	IncidentID string
}

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Fatal(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Audit(msg string, fields map[string]interface{}) {}
