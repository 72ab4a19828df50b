// Package providers implements the provider-adapter layer: a uniform
// analyze-prompt capability over one or more LLM backends, selected
// through a static factory registry.
package providers

import (
	"time"

	"github.com/erradvise/erradvise/core"
)

// Standard provider ids
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config holds configuration for provider client creation
type Config struct {
	// Provider id, one of the registered factory names
	Provider string

	// API credentials and endpoint
	APIKey     string
	BaseURL    string
	APIVersion string

	// Request shaping defaults
	Model           string
	Temperature     float32
	MaxOutputTokens int

	// Connection settings
	Timeout        time.Duration
	MaxSockets     int
	MaxFreeSockets int

	// Retry settings for the HTTP client. These are internal to the
	// provider call; the orchestrator never retries.
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	Logger core.Logger
}

// ConfigFromCore maps the pipeline configuration onto a provider
// client configuration
func ConfigFromCore(c *core.Config) *Config {
	return &Config{
		Provider:        c.Provider,
		BaseURL:         c.OpenAIURL,
		APIVersion:      c.OpenAIAPIVersion,
		Model:           c.Model,
		Temperature:     c.Temperature,
		MaxOutputTokens: c.MaxTokens,
		Timeout:         c.Timeout,
		MaxSockets:      c.MaxSockets,
		MaxFreeSockets:  c.MaxFreeSockets,
		RetryAttempts:   c.RetryAttempts,
		RetryBaseDelay:  c.RetryBaseDelay,
		RetryMaxDelay:   c.RetryMaxDelay,
		Logger:          c.Logger,
	}
}

// LogFields returns the configuration as log fields with the
// credential masked
func (c *Config) LogFields() map[string]interface{} {
	return map[string]interface{}{
		"provider":          c.Provider,
		"base_url":          c.BaseURL,
		"model":             c.Model,
		"api_key":           core.MaskKey(c.APIKey),
		"max_output_tokens": c.MaxOutputTokens,
		"timeout_ms":        c.Timeout.Milliseconds(),
	}
}
