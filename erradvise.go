// Package erradvise turns production errors into cached remediation
// advice. A Reporter fingerprints each submitted error, serves repeat
// errors from a bounded TTL cache and sends novel ones to an LLM
// provider behind a concurrency gate and a circuit breaker. Analysis
// is strictly best-effort: every failure mode degrades to "no advice",
// never to an error surfaced to the caller.
package erradvise

import (
	"context"
	"fmt"

	"github.com/erradvise/erradvise/analyzer"
	"github.com/erradvise/erradvise/cache"
	"github.com/erradvise/erradvise/core"
	"github.com/erradvise/erradvise/providers"
	"github.com/erradvise/erradvise/resilience"

	// Provider backends register themselves at import time
	_ "github.com/erradvise/erradvise/providers/gemini"
	_ "github.com/erradvise/erradvise/providers/openai"
)

// Re-exported option constructors so callers only import the root
// package for ordinary use.
type Option = core.Option

var (
	WithService           = core.WithService
	WithEnvironment       = core.WithEnvironment
	WithConcurrency       = core.WithConcurrency
	WithQueueLimit        = core.WithQueueLimit
	WithCacheLimit        = core.WithCacheLimit
	WithCacheTTL          = core.WithCacheTTL
	WithCacheBackend      = core.WithCacheBackend
	WithFailureThreshold  = core.WithFailureThreshold
	WithRecoveryTimeout   = core.WithRecoveryTimeout
	WithTimeout           = core.WithTimeout
	WithProvider          = core.WithProvider
	WithModel             = core.WithModel
	WithMaxTokens         = core.WithMaxTokens
	WithMetricInterval    = core.WithMetricInterval
	WithVerbose           = core.WithVerbose
	WithSecureCacheKeys   = core.WithSecureCacheKeys
	WithReentrantPrefixes = core.WithReentrantPrefixes
	WithLogger            = core.WithLogger
)

// Report is the error record submitted for analysis
type Report = core.Report

// Advice is the remediation payload produced by analysis
type Advice = core.Advice

// Reporter is the assembled pipeline: logger, advice store,
// concurrency gate, circuit breaker and the selected provider client.
type Reporter struct {
	config   *core.Config
	logger   core.Logger
	store    cache.Store
	gate     *resilience.Gate
	breaker  *resilience.CircuitBreaker
	analyzer *analyzer.Analyzer
	provider string

	// ownedLogger is non-nil when the Reporter created its own
	// structured logger and must close it
	ownedLogger *core.StructuredLogger
	redisStore  *cache.RedisStore
}

// New assembles a Reporter from defaults, environment variables and
// options. Provider selection happens here: the configured provider if
// set, otherwise the highest-priority backend with a discoverable
// credential. A missing credential is not an error; the Reporter is
// created with analysis disabled and warns once on first use.
func New(opts ...Option) (*Reporter, error) {
	config, err := core.NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	r := &Reporter{config: config}

	if _, isNoop := config.Logger.(*core.NoOpLogger); isNoop {
		r.ownedLogger = core.NewStructuredLogger(config.Service, config.Environment, config.Verbose)
		config.Logger = r.ownedLogger
	}
	r.logger = config.Logger

	if err := r.buildStore(); err != nil {
		r.closeLogger()
		return nil, err
	}

	r.gate = resilience.NewGate(&resilience.GateConfig{
		Name:          "provider",
		Concurrency:   config.Concurrency,
		QueueLimit:    config.QueueLimit,
		SafeThreshold: config.SafeThreshold,
		Logger:        r.logger,
	})
	r.gate.StartMetricsReporter(config.MetricInterval)

	var client core.ProviderClient
	name, factory, ok := providers.Select(config.Provider, r.logger)
	if ok {
		providerConfig := providers.ConfigFromCore(config)
		providerConfig.Provider = name
		client = factory.Create(providerConfig)
		r.logger.Info("Provider client created", providerConfig.LogFields())
	}
	r.provider = name

	breakerName := name
	if breakerName == "" {
		breakerName = "provider"
	}
	r.breaker, err = resilience.NewCircuitBreaker(&resilience.BreakerConfig{
		Name:             breakerName,
		FailureThreshold: config.FailureThreshold,
		RecoveryTimeout:  config.RecoveryTimeout,
		OperationTimeout: config.Timeout,
		Logger:           r.logger,
	})
	if err != nil {
		r.Close()
		return nil, err
	}

	r.analyzer = analyzer.New(analyzer.Deps{
		Store:    r.store,
		Gate:     r.gate,
		Breaker:  r.breaker,
		Client:   client,
		Provider: name,
		Logger:   r.logger,
		Config:   config,
	})
	return r, nil
}

// NewWithClient assembles a Reporter around an injected provider
// client, bypassing registry selection. Intended for tests and for
// embedding custom backends.
func NewWithClient(client core.ProviderClient, opts ...Option) (*Reporter, error) {
	config, err := core.NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	r := &Reporter{config: config, logger: config.Logger, provider: "custom"}

	if err := r.buildStore(); err != nil {
		return nil, err
	}

	r.gate = resilience.NewGate(&resilience.GateConfig{
		Name:          "provider",
		Concurrency:   config.Concurrency,
		QueueLimit:    config.QueueLimit,
		SafeThreshold: config.SafeThreshold,
		Logger:        r.logger,
	})

	r.breaker, err = resilience.NewCircuitBreaker(&resilience.BreakerConfig{
		Name:             "custom",
		FailureThreshold: config.FailureThreshold,
		RecoveryTimeout:  config.RecoveryTimeout,
		OperationTimeout: config.Timeout,
		Logger:           r.logger,
	})
	if err != nil {
		return nil, err
	}

	r.analyzer = analyzer.New(analyzer.Deps{
		Store:    r.store,
		Gate:     r.gate,
		Breaker:  r.breaker,
		Client:   client,
		Provider: "custom",
		Logger:   r.logger,
		Config:   config,
	})
	return r, nil
}

func (r *Reporter) buildStore() error {
	switch r.config.CacheBackend {
	case "", "memory":
		r.store = cache.NewAdviceCache(r.config.CacheLimit, r.config.CacheTTL, r.logger)
	case "redis":
		redisStore, err := cache.NewRedisStore(r.config.RedisURL, r.config.CacheTTL, r.logger)
		if err != nil {
			return fmt.Errorf("%w: redis cache backend: %v", core.ErrInvalidConfiguration, err)
		}
		r.redisStore = redisStore
		r.store = redisStore
	default:
		return fmt.Errorf("%w: unknown cache backend %q", core.ErrInvalidConfiguration, r.config.CacheBackend)
	}
	return nil
}

// Analyze submits one error report through the pipeline. It returns
// advice or nil and never returns an error.
func (r *Reporter) Analyze(ctx context.Context, report Report) *Advice {
	return r.analyzer.Analyze(ctx, report)
}

// Logger returns the pipeline logger
func (r *Reporter) Logger() core.Logger {
	return r.logger
}

// Provider returns the id of the selected provider, or "" when no
// credential was discovered
func (r *Reporter) Provider() string {
	return r.provider
}

// audit records an administrative action. Loggers that implement the
// full level set get an AUDIT record; plain loggers get INFO.
func (r *Reporter) audit(msg string, fields map[string]interface{}) {
	if leveled, ok := r.logger.(core.LeveledLogger); ok {
		leveled.Audit(msg, fields)
		return
	}
	r.logger.Info(msg, fields)
}

// ClearCache removes all cached advice
func (r *Reporter) ClearCache(ctx context.Context) {
	removed := r.store.Len()
	r.store.Clear(ctx)
	r.audit("Advice cache cleared", map[string]interface{}{
		"operation": "cache_clear",
		"removed":   removed,
	})
}

// PurgeExpired removes expired cache entries and reports how many
func (r *Reporter) PurgeExpired(ctx context.Context) int {
	return r.store.PurgeExpired(ctx)
}

// CacheLen returns the number of live cache entries
func (r *Reporter) CacheLen() int {
	return r.store.Len()
}

// CacheStats returns cache hit/miss statistics
func (r *Reporter) CacheStats() map[string]interface{} {
	return r.store.Stats()
}

// StartReaper starts the background cache purge timer
func (r *Reporter) StartReaper() {
	r.store.StartReaper()
}

// StopReaper stops the background cache purge timer
func (r *Reporter) StopReaper() {
	r.store.StopReaper()
}

// ResetBreaker returns the circuit breaker to CLOSED and zeroes its
// counters
func (r *Reporter) ResetBreaker() {
	r.breaker.Reset()
	r.audit("Circuit breaker reset", map[string]interface{}{
		"operation": "breaker_reset",
		"provider":  r.provider,
	})
}

// ForceOpenBreaker opens the circuit breaker immediately
func (r *Reporter) ForceOpenBreaker() {
	r.breaker.ForceOpen()
	r.audit("Circuit breaker forced open", map[string]interface{}{
		"operation": "breaker_force_open",
		"provider":  r.provider,
	})
}

// BreakerState returns the breaker state as a string
func (r *Reporter) BreakerState() string {
	return r.breaker.GetState()
}

// BreakerMetrics returns breaker request counters and latency
func (r *Reporter) BreakerMetrics() resilience.Metrics {
	return r.breaker.GetMetrics()
}

// GateRejectCount returns how many analyses were rejected with a full
// queue
func (r *Reporter) GateRejectCount() uint64 {
	return r.gate.RejectCount()
}

// GateDepth returns the current in-flight and queued task counts
func (r *Reporter) GateDepth() (inFlight, queued int) {
	return r.gate.InFlight(), r.gate.QueueDepth()
}

// Close releases background resources: the cache reaper, the gate
// metrics reporter, the Redis connection if any and the owned logger
func (r *Reporter) Close() error {
	if r.store != nil {
		r.store.StopReaper()
	}
	if r.gate != nil {
		r.gate.StopMetricsReporter()
	}

	var err error
	if r.redisStore != nil {
		err = r.redisStore.Close()
	}
	if closeErr := r.closeLogger(); err == nil {
		err = closeErr
	}
	return err
}

func (r *Reporter) closeLogger() error {
	if r.ownedLogger == nil {
		return nil
	}
	err := r.ownedLogger.Close()
	r.ownedLogger = nil
	return err
}
