package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/erradvise/erradvise/core"
	"github.com/erradvise/erradvise/providers"
)

// Client implements core.ProviderClient for OpenAI and compatible
// endpoints
type Client struct {
	*providers.BaseClient
	apiKey     string
	baseURL    string
	apiVersion string
}

// NewClient creates a new OpenAI client
func NewClient(apiKey, baseURL, apiVersion string, config *providers.Config) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	base := providers.NewBaseClient(config)
	if base.DefaultModel == "" {
		base.DefaultModel = DefaultModel
	}
	if config.Model != "" {
		base.DefaultModel = config.Model
	}

	return &Client{
		BaseClient: base,
		apiKey:     apiKey,
		baseURL:    baseURL,
		apiVersion: apiVersion,
	}
}

// Analyze sends a single advice request and parses the JSON envelope
func (c *Client) Analyze(ctx context.Context, prompt string, options *core.ProviderOptions) (*core.Advice, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: openai", core.ErrAbsentCredential)
	}

	options = c.ApplyDefaults(options)
	c.LogRequest("openai", options.Model, prompt)
	startTime := time.Now()

	reqBody := chatRequest{
		Model: options.Model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:      options.MaxOutputTokens,
		Temperature:    options.Temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %v", core.ErrTransport, err)
	}

	endpoint := c.baseURL + "/chat/completions"
	if c.apiVersion != "" {
		// Azure-style deployments version the endpoint via query
		endpoint += "?api-version=" + url.QueryEscape(c.apiVersion)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", core.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.ExecuteWithRetry(ctx, req)
	if err != nil {
		c.Logger.Error("OpenAI request failed - send error", map[string]interface{}{
			"operation": "provider_request_error",
			"provider":  "openai",
			"error":     err.Error(),
			"phase":     "request_execution",
		})
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", core.ErrTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.Logger.Error("OpenAI request failed - API error", map[string]interface{}{
			"operation":   "provider_request_error",
			"provider":    "openai",
			"status_code": resp.StatusCode,
			"phase":       "api_response",
		})
		return nil, c.MapStatusError(resp.StatusCode, body, "openai")
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("%w: openai response is not valid JSON: %v", core.ErrParse, err)
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai returned no choices", core.ErrNoAdvice)
	}

	choice := chatResp.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, fmt.Errorf("%w: openai", core.ErrContentFiltered)
	}

	advice, err := providers.ParseAdviceEnvelope(choice.Message.Content, "openai", chatResp.Model)
	if err != nil {
		return nil, err
	}

	c.LogResponse("openai", chatResp.Model, time.Since(startTime))
	return advice, nil
}
