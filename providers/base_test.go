package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erradvise/erradvise/core"
)

func testConfig() *Config {
	return &Config{
		Timeout:        5 * time.Second,
		RetryAttempts:  2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
}

func TestExecuteWithRetryRecoversFromServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	base := NewBaseClient(testConfig())
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	resp, err := base.ExecuteWithRetry(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestExecuteWithRetryRetriesRateLimits(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	base := NewBaseClient(testConfig())
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := base.ExecuteWithRetry(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExecuteWithRetryReturnsClientErrorsImmediately(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	base := NewBaseClient(testConfig())
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := base.ExecuteWithRetry(context.Background(), req)
	require.NoError(t, err, "4xx is returned to the caller for mapping")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "no retry on auth failure")
}

func TestExecuteWithRetryExhaustionWrapsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	base := NewBaseClient(testConfig())
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	_, err := base.ExecuteWithRetry(context.Background(), req)
	assert.ErrorIs(t, err, core.ErrTransport)
}

func TestExecuteWithRetryHonorsContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := testConfig()
	config.RetryBaseDelay = time.Minute
	config.RetryMaxDelay = time.Minute
	base := NewBaseClient(config)

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := base.ExecuteWithRetry(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffCapped(t *testing.T) {
	base := NewBaseClient(&Config{
		RetryBaseDelay: 100 * time.Millisecond,
		RetryMaxDelay:  time.Second,
	})

	assert.Equal(t, 100*time.Millisecond, base.backoff(0))
	assert.Equal(t, 200*time.Millisecond, base.backoff(1))
	assert.Equal(t, 800*time.Millisecond, base.backoff(3))
	assert.Equal(t, time.Second, base.backoff(4))
	assert.Equal(t, time.Second, base.backoff(60), "no overflow at large attempt counts")
}

func TestMapStatusError(t *testing.T) {
	base := NewBaseClient(testConfig())

	assert.ErrorIs(t, base.MapStatusError(401, nil, "openai"), core.ErrAuthentication)
	assert.ErrorIs(t, base.MapStatusError(403, nil, "openai"), core.ErrAuthentication)
	assert.ErrorIs(t, base.MapStatusError(429, nil, "openai"), core.ErrRateLimited)
	assert.ErrorIs(t, base.MapStatusError(500, []byte("oops"), "openai"), core.ErrTransport)

	// Every mapped failure is a transport-error kind except none
	assert.Equal(t, "transport-error", core.KindOf(base.MapStatusError(401, nil, "x")))
}

func TestParseAdviceEnvelope(t *testing.T) {
	advice, err := ParseAdviceEnvelope(`{"advice": "increase the pool size"}`, "openai", "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "increase the pool size", advice.Text)
	assert.Equal(t, "openai", advice.Provider)
	assert.Equal(t, "gpt-4o-mini", advice.Model)
	assert.NotEmpty(t, advice.Raw)
}

func TestParseAdviceEnvelopeStripsCodeFences(t *testing.T) {
	for _, content := range []string{
		"```json\n{\"advice\": \"use a mutex\"}\n```",
		"```\n{\"advice\": \"use a mutex\"}\n```",
	} {
		advice, err := ParseAdviceEnvelope(content, "gemini", "m")
		require.NoError(t, err, "content: %s", content)
		assert.Equal(t, "use a mutex", advice.Text)
	}
}

func TestParseAdviceEnvelopeNoAdvice(t *testing.T) {
	for _, content := range []string{
		"",
		"   ",
		`{"advice": ""}`,
		`{"advice": "   "}`,
		`{"other": "field"}`,
	} {
		_, err := ParseAdviceEnvelope(content, "openai", "m")
		assert.ErrorIs(t, err, core.ErrNoAdvice, "content: %q", content)
	}
}

func TestParseAdviceEnvelopeParseError(t *testing.T) {
	for _, content := range []string{
		"just some prose, not JSON",
		`{"advice": `,
	} {
		_, err := ParseAdviceEnvelope(content, "openai", "m")
		assert.ErrorIs(t, err, core.ErrParse, "content: %q", content)
	}
}

func TestApplyDefaults(t *testing.T) {
	base := NewBaseClient(&Config{Temperature: 0.3, MaxOutputTokens: 512})
	base.DefaultModel = "default-model"

	options := base.ApplyDefaults(nil)
	assert.Equal(t, "default-model", options.Model)
	assert.Equal(t, float32(0.3), options.Temperature)
	assert.Equal(t, 512, options.MaxOutputTokens)

	custom := base.ApplyDefaults(&core.ProviderOptions{Model: "override"})
	assert.Equal(t, "override", custom.Model)
}
