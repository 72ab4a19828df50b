package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/erradvise/erradvise/core"
)

// BaseClient provides common functionality for all provider backends:
// a bounded HTTP connection pool, capped-exponential-backoff retry and
// shared error mapping.
type BaseClient struct {
	HTTPClient *http.Client
	Logger     core.Logger

	// Retry configuration (internal to the HTTP call)
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Request shaping defaults
	DefaultModel           string
	DefaultTemperature     float32
	DefaultMaxOutputTokens int
}

// NewBaseClient creates a base client from provider configuration
func NewBaseClient(config *Config) *BaseClient {
	logger := config.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		MaxConnsPerHost:     config.MaxSockets,
		MaxIdleConnsPerHost: config.MaxFreeSockets,
		IdleConnTimeout:     90 * time.Second,
	}

	baseDelay := config.RetryBaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := config.RetryMaxDelay
	if maxDelay <= 0 {
		maxDelay = 8 * time.Second
	}

	return &BaseClient{
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		Logger:                 logger,
		RetryAttempts:          config.RetryAttempts,
		RetryBaseDelay:         baseDelay,
		RetryMaxDelay:          maxDelay,
		DefaultTemperature:     config.Temperature,
		DefaultMaxOutputTokens: config.MaxOutputTokens,
	}
}

// ApplyDefaults applies client defaults to unset options
func (b *BaseClient) ApplyDefaults(options *core.ProviderOptions) *core.ProviderOptions {
	if options == nil {
		options = &core.ProviderOptions{}
	}
	if options.Model == "" {
		options.Model = b.DefaultModel
	}
	if options.Temperature == 0 {
		options.Temperature = b.DefaultTemperature
	}
	if options.MaxOutputTokens == 0 {
		options.MaxOutputTokens = b.DefaultMaxOutputTokens
		if options.MaxOutputTokens == 0 {
			options.MaxOutputTokens = 1000
		}
	}
	return options
}

// ExecuteWithRetry performs an HTTP request with capped exponential
// backoff. Non-429 client errors return immediately; network errors,
// 429 and 5xx retry up to RetryAttempts additional attempts.
func (b *BaseClient) ExecuteWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= b.RetryAttempts; attempt++ {
		reqClone := req.Clone(ctx)

		resp, err := b.HTTPClient.Do(reqClone)
		if err == nil && resp.StatusCode < 400 {
			if attempt > 0 {
				b.Logger.Info("Provider request succeeded after retry", map[string]interface{}{
					"operation":          "provider_request_recovery",
					"successful_attempt": attempt + 1,
				})
			}
			return resp, nil
		}

		// Non-retryable client errors are returned for error mapping
		if err == nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			_ = resp.Body.Close()
		}

		if attempt < b.RetryAttempts {
			delay := b.backoff(attempt)
			b.Logger.Warn("Provider request failed, retrying", map[string]interface{}{
				"operation":      "provider_request_retry",
				"attempt":        attempt + 1,
				"max_attempts":   b.RetryAttempts + 1,
				"retry_delay_ms": delay.Milliseconds(),
				"error":          lastErr.Error(),
			})

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("%w: request failed after %d attempts: %v",
		core.ErrTransport, b.RetryAttempts+1, lastErr)
}

func (b *BaseClient) backoff(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := b.RetryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > b.RetryMaxDelay || delay <= 0 {
		delay = b.RetryMaxDelay
	}
	return delay
}

// MapStatusError maps an API error status to the typed failure
// consumed by the circuit breaker
func (b *BaseClient) MapStatusError(statusCode int, body []byte, provider string) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s rejected credentials (status %d)",
			core.ErrAuthentication, provider, statusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s (status 429)", core.ErrRateLimited, provider)
	default:
		return fmt.Errorf("%w: %s status %d: %s",
			core.ErrTransport, provider, statusCode, truncateForLog(string(body), 200))
	}
}

// adviceEnvelope is the JSON object every provider is instructed to
// return
type adviceEnvelope struct {
	Advice string `json:"advice"`
}

// ParseAdviceEnvelope parses model output into an Advice value.
// Markdown code fences are tolerated and stripped. A syntactically
// valid envelope with an empty advice field is no-advice, not a
// failure.
func ParseAdviceEnvelope(content, provider, model string) (*core.Advice, error) {
	trimmed := stripCodeFence(strings.TrimSpace(content))
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty response from %s", core.ErrNoAdvice, provider)
	}

	var envelope adviceEnvelope
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %s returned a non-envelope response: %v",
			core.ErrParse, provider, err)
	}

	if strings.TrimSpace(envelope.Advice) == "" {
		return nil, fmt.Errorf("%w: envelope from %s has no advice field", core.ErrNoAdvice, provider)
	}

	return &core.Advice{
		Text:     envelope.Advice,
		Provider: provider,
		Model:    model,
		Raw:      json.RawMessage(trimmed),
	}, nil
}

// stripCodeFence removes a surrounding markdown fence, with or without
// a language tag
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		// Drop the language tag line
		if !strings.HasPrefix(strings.TrimSpace(s[:idx]), "{") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// LogRequest logs an outgoing provider request
func (b *BaseClient) LogRequest(provider, model, prompt string) {
	b.Logger.Info("Provider request initiated", map[string]interface{}{
		"operation":     "provider_request",
		"provider":      provider,
		"model":         model,
		"prompt_length": len(prompt),
	})
}

// LogResponse logs a provider response
func (b *BaseClient) LogResponse(provider, model string, duration time.Duration) {
	b.Logger.Info("Provider response received", map[string]interface{}{
		"operation":   "provider_response",
		"provider":    provider,
		"model":       model,
		"duration_ms": duration.Milliseconds(),
		"status":      "success",
	})
}

func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
