// Package mock provides a scriptable provider client for tests
package mock

import (
	"context"
	"sync"

	"github.com/erradvise/erradvise/core"
)

// Client is a scriptable core.ProviderClient. Responses are consumed
// in order; once exhausted the last response repeats. Safe for
// concurrent use.
type Client struct {
	mu        sync.Mutex
	responses []Response
	calls     int

	// AnalyzeFunc, when set, overrides the scripted responses entirely
	AnalyzeFunc func(ctx context.Context, prompt string, options *core.ProviderOptions) (*core.Advice, error)

	// Prompts records every prompt received
	Prompts []string
}

// Response is a single scripted reply
type Response struct {
	Advice *core.Advice
	Err    error
}

// New creates a mock client that returns the given responses in order
func New(responses ...Response) *Client {
	return &Client{responses: responses}
}

// Succeeding creates a mock client that always returns advice with the
// given text
func Succeeding(text string) *Client {
	return New(Response{Advice: &core.Advice{Text: text, Provider: "mock", Model: "mock-1"}})
}

// Failing creates a mock client that always returns err
func Failing(err error) *Client {
	return New(Response{Err: err})
}

// Analyze returns the next scripted response
func (c *Client) Analyze(ctx context.Context, prompt string, options *core.ProviderOptions) (*core.Advice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.calls++
	c.Prompts = append(c.Prompts, prompt)
	fn := c.AnalyzeFunc
	var resp Response
	if fn == nil {
		if len(c.responses) == 0 {
			resp = Response{Err: core.ErrNoAdvice}
		} else {
			idx := c.calls - 1
			if idx >= len(c.responses) {
				idx = len(c.responses) - 1
			}
			resp = c.responses[idx]
		}
	}
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, options)
	}
	return resp.Advice, resp.Err
}

// Calls returns how many times Analyze has been invoked
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}
