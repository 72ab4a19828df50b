// Package analyzer implements the error-analysis pipeline: fingerprint
// the report, consult the advice store, and on a miss run the provider
// call through the concurrency gate and circuit breaker.
package analyzer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/erradvise/erradvise/cache"
	"github.com/erradvise/erradvise/core"
	"github.com/erradvise/erradvise/resilience"
	"github.com/erradvise/erradvise/telemetry"
)

// Analyzer orchestrates one analysis per submitted report. Analyze
// never returns an error: every failure mode degrades to no advice
// with a structured log record naming the failure kind.
type Analyzer struct {
	store   cache.Store
	gate    *resilience.Gate
	breaker *resilience.CircuitBreaker
	client  core.ProviderClient
	logger  core.Logger

	provider          string
	secureKeys        bool
	reentrantPrefixes []string
	options           core.ProviderOptions

	// credWarnOnce limits the absent-credential warning to one record
	// per analyzer lifetime
	credWarnOnce sync.Once
}

// Deps carries the wired pipeline components
type Deps struct {
	Store   cache.Store
	Gate    *resilience.Gate
	Breaker *resilience.CircuitBreaker

	// Client is nil when no provider credential was discovered
	Client   core.ProviderClient
	Provider string

	Logger core.Logger
	Config *core.Config
}

// New creates an analyzer from wired dependencies
func New(deps Deps) *Analyzer {
	logger := deps.Logger
	if logger == nil {
		logger = &core.NoOpLogger{}
	}

	config := deps.Config
	if config == nil {
		config = core.DefaultConfig()
	}

	return &Analyzer{
		store:             deps.Store,
		gate:              deps.Gate,
		breaker:           deps.Breaker,
		client:            deps.Client,
		logger:            logger,
		provider:          deps.Provider,
		secureKeys:        config.UseSecureCacheKeys,
		reentrantPrefixes: config.ReentrantPrefixes,
		options: core.ProviderOptions{
			Model:           config.Model,
			Temperature:     config.Temperature,
			MaxOutputTokens: config.MaxTokens,
		},
	}
}

// Analyze runs the full pipeline for one report and returns advice or
// nil. It never panics and never returns an error to the caller.
func (a *Analyzer) Analyze(ctx context.Context, report core.Report) *core.Advice {
	if report.IncidentID == "" {
		report.IncidentID = uuid.NewString()
	}

	if a.isReentrant(report.Name) {
		telemetry.Counter("advice.analyses", "result", "reentrant")
		a.logger.Debug("Skipping analysis of reentrant transport error", map[string]interface{}{
			"operation":  "analysis_skip",
			"request_id": report.IncidentID,
			"error_name": report.Name,
		})
		return nil
	}

	fingerprint := a.fingerprint(report)

	if a.store != nil {
		if advice, ok := a.store.Get(ctx, fingerprint); ok {
			telemetry.Counter("advice.analyses", "result", "cache_hit")
			a.logger.Debug("Advice served from cache", map[string]interface{}{
				"operation":   "analysis_cache_hit",
				"request_id":  report.IncidentID,
				"fingerprint": fingerprint,
			})
			return advice
		}
	}

	if a.client == nil {
		a.credWarnOnce.Do(func() {
			a.logger.Warn("No provider credential discovered, analysis disabled", map[string]interface{}{
				"operation":    "analysis_disabled",
				"failure_kind": core.KindOf(core.ErrAbsentCredential),
			})
		})
		telemetry.Counter("advice.analyses", "result", "no_credential")
		return nil
	}

	prompt := BuildPrompt(report)
	startTime := time.Now()

	var advice *core.Advice
	err := a.gate.Do(ctx, func() error {
		return a.breaker.Execute(ctx, func(ctx context.Context) error {
			result, callErr := a.client.Analyze(ctx, prompt, &a.options)
			if callErr != nil {
				return callErr
			}
			advice = result
			return nil
		})
	})

	if err != nil {
		return a.recordFailure(report, fingerprint, err)
	}

	if a.store != nil {
		a.store.Put(ctx, fingerprint, advice)
	}

	telemetry.Counter("advice.analyses", "result", "success")
	telemetry.Histogram("advice.analysis.duration_ms", float64(time.Since(startTime).Milliseconds()),
		"provider", a.provider)
	a.logger.Info("Analysis produced advice", map[string]interface{}{
		"operation":   "analysis_complete",
		"request_id":  report.IncidentID,
		"fingerprint": fingerprint,
		"provider":    a.provider,
		"duration_ms": time.Since(startTime).Milliseconds(),
	})
	return advice
}

// recordFailure downgrades any pipeline error to a no-advice outcome
func (a *Analyzer) recordFailure(report core.Report, fingerprint string, err error) *core.Advice {
	perr := core.NewPipelineError("provider.analyze", err)
	telemetry.Counter("advice.analyses", "result", "failure", "kind", perr.Kind)

	if errors.Is(err, core.ErrNoAdvice) {
		a.logger.Debug("Provider had no advice", map[string]interface{}{
			"operation":   "analysis_no_advice",
			"request_id":  report.IncidentID,
			"fingerprint": fingerprint,
			"provider":    a.provider,
		})
		return nil
	}

	a.logger.Warn("Analysis failed", map[string]interface{}{
		"operation":    "analysis_failure",
		"request_id":   report.IncidentID,
		"fingerprint":  fingerprint,
		"provider":     a.provider,
		"failure_kind": perr.Kind,
		"error":        perr.Error(),
	})
	return nil
}

func (a *Analyzer) fingerprint(report core.Report) string {
	if a.secureKeys {
		return core.SecureFingerprint(report.Name, report.Message, report.Stack)
	}
	return core.Fingerprint(report.Name, report.Message, report.Stack)
}

func (a *Analyzer) isReentrant(name string) bool {
	for _, prefix := range a.reentrantPrefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
