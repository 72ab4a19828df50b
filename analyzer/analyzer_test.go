package analyzer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erradvise/erradvise/cache"
	"github.com/erradvise/erradvise/core"
	"github.com/erradvise/erradvise/providers/mock"
	"github.com/erradvise/erradvise/resilience"
)

type testLogger struct {
	mu     sync.Mutex
	warns  []string
	fields []map[string]interface{}
}

func (l *testLogger) Debug(msg string, fields map[string]interface{}) {}
func (l *testLogger) Info(msg string, fields map[string]interface{})  {}
func (l *testLogger) Error(msg string, fields map[string]interface{}) {}

func (l *testLogger) Warn(msg string, fields map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
	l.fields = append(l.fields, fields)
}

func (l *testLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.warns)
}

func (l *testLogger) lastWarnFields() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.fields) == 0 {
		return nil
	}
	return l.fields[len(l.fields)-1]
}

type pipeline struct {
	analyzer *Analyzer
	store    cache.Store
	breaker  *resilience.CircuitBreaker
	logger   *testLogger
}

func newPipeline(t *testing.T, client core.ProviderClient, opts ...core.Option) *pipeline {
	t.Helper()

	logger := &testLogger{}
	config, err := core.NewConfig(opts...)
	require.NoError(t, err)

	store := cache.NewAdviceCache(config.CacheLimit, config.CacheTTL, nil)
	t.Cleanup(store.StopReaper)

	gate := resilience.NewGate(&resilience.GateConfig{
		Name:        "test",
		Concurrency: config.Concurrency,
		QueueLimit:  config.QueueLimit,
	})
	breaker, err := resilience.NewCircuitBreaker(&resilience.BreakerConfig{
		Name:             "test",
		FailureThreshold: config.FailureThreshold,
		RecoveryTimeout:  config.RecoveryTimeout,
		OperationTimeout: config.Timeout,
	})
	require.NoError(t, err)

	return &pipeline{
		analyzer: New(Deps{
			Store:    store,
			Gate:     gate,
			Breaker:  breaker,
			Client:   client,
			Provider: "mock",
			Logger:   logger,
			Config:   config,
		}),
		store:   store,
		breaker: breaker,
		logger:  logger,
	}
}

func report(name, message string) core.Report {
	return core.Report{
		Name:    name,
		Message: message,
		Stack:   "at handler.go:42",
		Context: "processing checkout",
	}
}

func TestAnalyzeSuccessCachesAdvice(t *testing.T) {
	client := mock.Succeeding("close the leaking cursor")
	p := newPipeline(t, client)
	ctx := context.Background()

	advice := p.analyzer.Analyze(ctx, report("DatabaseError", "too many connections"))
	require.NotNil(t, advice)
	assert.Equal(t, "close the leaking cursor", advice.Text)
	assert.Equal(t, 1, client.Calls())

	// Equivalent error is served from the cache
	again := p.analyzer.Analyze(ctx, report("DatabaseError", "too many connections"))
	require.NotNil(t, again)
	assert.Equal(t, advice.Text, again.Text)
	assert.Equal(t, 1, client.Calls(), "provider is not called twice for one fingerprint")
}

func TestAnalyzeDistinctErrorsGetDistinctCalls(t *testing.T) {
	client := mock.Succeeding("advice")
	p := newPipeline(t, client)
	ctx := context.Background()

	p.analyzer.Analyze(ctx, report("TypeError", "a"))
	p.analyzer.Analyze(ctx, report("TypeError", "b"))

	assert.Equal(t, 2, client.Calls())
}

func TestAnalyzeReentrantErrorSkipped(t *testing.T) {
	client := mock.Succeeding("should never run")
	p := newPipeline(t, client)

	advice := p.analyzer.Analyze(context.Background(),
		report("AxiosError: timeout of 30000ms exceeded", "timeout"))

	assert.Nil(t, advice)
	assert.Equal(t, 0, client.Calls(), "reentrant transport errors never reach the provider")
}

func TestAnalyzeNoCredentialWarnsOnce(t *testing.T) {
	p := newPipeline(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.Nil(t, p.analyzer.Analyze(ctx, report("TypeError", "x")))
	}

	assert.Equal(t, 1, p.logger.warnCount(), "absent-credential warning is one-shot")
	fields := p.logger.lastWarnFields()
	assert.Equal(t, "absent-credential", fields["failure_kind"])
}

func TestAnalyzeProviderFailureDegradesToNil(t *testing.T) {
	client := mock.Failing(core.ErrTransport)
	p := newPipeline(t, client)

	advice := p.analyzer.Analyze(context.Background(), report("TypeError", "x"))

	assert.Nil(t, advice)
	require.Equal(t, 1, p.logger.warnCount())
	fields := p.logger.lastWarnFields()
	assert.Equal(t, "transport-error", fields["failure_kind"])
	assert.NotEmpty(t, fields["request_id"], "incident id is assigned when absent")
	assert.NotEmpty(t, fields["fingerprint"])
	assert.Contains(t, fields["error"], "provider.analyze:", "failure is wrapped with its operation")
}

func TestAnalyzeNoAdviceIsQuiet(t *testing.T) {
	client := mock.Failing(core.ErrNoAdvice)
	p := newPipeline(t, client)

	advice := p.analyzer.Analyze(context.Background(), report("TypeError", "x"))

	assert.Nil(t, advice)
	assert.Equal(t, 0, p.logger.warnCount(), "no-advice is logged at debug, not warn")
	assert.Equal(t, "closed", p.breaker.GetState(), "no-advice does not trip the breaker")
	assert.Equal(t, 0, p.store.Len(), "nothing cached on a no-advice outcome")
}

func TestAnalyzeFailureNotCached(t *testing.T) {
	client := mock.New(
		mock.Response{Err: core.ErrTransport},
		mock.Response{Advice: &core.Advice{Text: "fixed now"}},
	)
	p := newPipeline(t, client)
	ctx := context.Background()

	assert.Nil(t, p.analyzer.Analyze(ctx, report("TypeError", "x")))

	advice := p.analyzer.Analyze(ctx, report("TypeError", "x"))
	require.NotNil(t, advice, "a later attempt retries the provider")
	assert.Equal(t, "fixed now", advice.Text)
	assert.Equal(t, 2, client.Calls())
}

func TestAnalyzeOpenBreakerShortCircuits(t *testing.T) {
	client := mock.Failing(core.ErrTransport)
	p := newPipeline(t, client, core.WithFailureThreshold(2))
	ctx := context.Background()

	p.analyzer.Analyze(ctx, report("E", "1"))
	p.analyzer.Analyze(ctx, report("E", "2"))
	require.Equal(t, "open", p.breaker.GetState())

	p.analyzer.Analyze(ctx, report("E", "3"))

	assert.Equal(t, 2, client.Calls(), "open breaker rejects before the provider")
	fields := p.logger.lastWarnFields()
	assert.Equal(t, "circuit-open", fields["failure_kind"])
}

func TestAnalyzeIncidentIDPreserved(t *testing.T) {
	client := mock.Failing(core.ErrTransport)
	p := newPipeline(t, client)

	r := report("TypeError", "x")
	r.IncidentID = "incident-7"
	p.analyzer.Analyze(context.Background(), r)

	fields := p.logger.lastWarnFields()
	assert.Equal(t, "incident-7", fields["request_id"])
}

func TestAnalyzeSecureFingerprintMode(t *testing.T) {
	client := mock.Succeeding("advice")
	p := newPipeline(t, client, core.WithSecureCacheKeys(true))
	ctx := context.Background()

	r := report("TypeError", "x")
	require.NotNil(t, p.analyzer.Analyze(ctx, r))

	key := core.SecureFingerprint(r.Name, r.Message, r.Stack)
	_, ok := p.store.Get(ctx, key)
	assert.True(t, ok, "advice stored under the SHA-256 fingerprint")
}

func TestAnalyzeNeverPanics(t *testing.T) {
	client := mock.New(mock.Response{})
	client.AnalyzeFunc = func(ctx context.Context, prompt string, options *core.ProviderOptions) (*core.Advice, error) {
		panic("provider bug")
	}
	p := newPipeline(t, client)

	assert.NotPanics(t, func() {
		assert.Nil(t, p.analyzer.Analyze(context.Background(), report("E", "x")))
	})
}

func TestAnalyzeCancelledContext(t *testing.T) {
	client := mock.New(mock.Response{})
	client.AnalyzeFunc = func(ctx context.Context, prompt string, options *core.ProviderOptions) (*core.Advice, error) {
		select {
		case <-time.After(time.Second):
			return &core.Advice{Text: "late"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p := newPipeline(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	assert.Nil(t, p.analyzer.Analyze(ctx, report("E", "x")))
	assert.Equal(t, "closed", p.breaker.GetState(), "cancellation is not an upstream failure")
}

func TestAnalyzeQueueExhaustion(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 16)
	client := mock.New(mock.Response{})
	client.AnalyzeFunc = func(ctx context.Context, prompt string, options *core.ProviderOptions) (*core.Advice, error) {
		started <- struct{}{}
		<-block
		return nil, errors.New("unused")
	}

	p := newPipeline(t, client, core.WithConcurrency(1), core.WithQueueLimit(0))
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.analyzer.Analyze(ctx, report("E", "holds the slot"))
	}()
	<-started

	assert.Nil(t, p.analyzer.Analyze(ctx, report("E", "rejected")))
	fields := p.logger.lastWarnFields()
	assert.Equal(t, "queue-exhausted", fields["failure_kind"])

	close(block)
	<-done
}
