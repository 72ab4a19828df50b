package gemini

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

// Client implements core.ProviderClient for the Google AI Studio
// generateContent API
type Client struct {
	*providers.BaseClient
	apiKey  string
	baseURL string
}

// NewClient creates a new Gemini client
func NewClient(apiKey, baseURL string, config *providers.Config) *Client {
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
	}
}

// Analyze sends a single advice request and parses the JSON envelope
func (c *Client) Analyze(ctx context.Context, prompt string, options *core.ProviderOptions) (*core.Advice, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: gemini", core.ErrAbsentCredential)
	}

	options = c.ApplyDefaults(options)
	c.LogRequest("gemini", options.Model, prompt)
	startTime := time.Now()

	reqBody := generateRequest{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: prompt}}},
		},
		GenerationConfig: &generationConfig{
			Temperature:      options.Temperature,
			MaxOutputTokens:  options.MaxOutputTokens,
			ResponseMimeType: "application/json",
		},
		SafetySettings: []safetySetting{
			{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_ONLY_HIGH"},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %v", core.ErrTransport, err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(options.Model), url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", core.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.ExecuteWithRetry(ctx, req)
	if err != nil {
		c.Logger.Error("Gemini request failed - send error", map[string]interface{}{
			"operation": "provider_request_error",
			"provider":  "gemini",
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
		c.Logger.Error("Gemini request failed - API error", map[string]interface{}{
			"operation":   "provider_request_error",
			"provider":    "gemini",
			"status_code": resp.StatusCode,
			"phase":       "api_response",
		})
		return nil, c.MapStatusError(resp.StatusCode, body, "gemini")
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return nil, fmt.Errorf("%w: gemini response is not valid JSON: %v", core.ErrParse, err)
	}

	if genResp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("%w: gemini blocked prompt (%s)",
			core.ErrContentFiltered, genResp.PromptFeedback.BlockReason)
	}

	if len(genResp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: gemini returned no candidates", core.ErrNoAdvice)
	}

	candidate := genResp.Candidates[0]
	if candidate.FinishReason == "SAFETY" {
		return nil, fmt.Errorf("%w: gemini", core.ErrContentFiltered)
	}

	if len(candidate.Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: gemini candidate has no parts", core.ErrNoAdvice)
	}

	advice, err := providers.ParseAdviceEnvelope(candidate.Content.Parts[0].Text, "gemini", options.Model)
	if err != nil {
		return nil, err
	}

	c.LogResponse("gemini", options.Model, time.Since(startTime))
	return advice, nil
}
