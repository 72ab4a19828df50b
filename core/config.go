package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the error-advice pipeline.
// It supports three-layer configuration priority:
//  1. Default values (lowest priority)
//  2. Environment variables (medium priority)
//  3. Functional options (highest priority)
//
// Bounds are clamped during validation; every clamp emits a WARN record
// so silently-adjusted limits are visible in production logs.
type Config struct {
	// Identity, stamped on every log record
	Service     string `json:"service" yaml:"service"`
	Environment string `json:"environment" yaml:"environment"`

	// Concurrency gate
	Concurrency int `json:"concurrency" yaml:"concurrency"`
	QueueLimit  int `json:"queue_limit" yaml:"queue_limit"`

	// SafeThreshold is the upper clamp applied to concurrency, queue
	// and socket limits
	SafeThreshold int `json:"safe_threshold" yaml:"safe_threshold"`

	// Advice cache
	CacheLimit   int           `json:"cache_limit" yaml:"cache_limit"`
	CacheTTL     time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	CacheBackend string        `json:"cache_backend" yaml:"cache_backend"`
	RedisURL     string        `json:"redis_url" yaml:"redis_url"`

	// Circuit breaker
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`

	// Provider call bounds. Timeout is the per-operation timeout
	// enforced by the breaker; the retry settings are consumed by the
	// provider HTTP client, never by the orchestrator.
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	RetryAttempts  int           `json:"retry_attempts" yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `json:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `json:"retry_max_delay" yaml:"retry_max_delay"`

	// Provider selection and request shaping
	Provider    string  `json:"provider" yaml:"provider"`
	Model       string  `json:"model" yaml:"model"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	Temperature float32 `json:"temperature" yaml:"temperature"`

	// OpenAI-style endpoint configuration
	OpenAIURL        string `json:"openai_url" yaml:"openai_url"`
	OpenAIAPIVersion string `json:"openai_api_version" yaml:"openai_api_version"`

	// Outbound HTTP pool bounds
	MaxSockets     int `json:"max_sockets" yaml:"max_sockets"`
	MaxFreeSockets int `json:"max_free_sockets" yaml:"max_free_sockets"`

	// Metrics cadence for gate and cache reporters
	MetricInterval time.Duration `json:"metric_interval" yaml:"metric_interval"`

	// Verbose enables DEBUG records
	Verbose bool `json:"verbose" yaml:"verbose"`

	// UseSecureCacheKeys switches fingerprints to the SHA-256 form
	UseSecureCacheKeys bool `json:"use_secure_cache_keys" yaml:"use_secure_cache_keys"`

	// ReentrantPrefixes lists error-name prefixes recognized as coming
	// from the library's own outbound HTTP client
	ReentrantPrefixes []string `json:"reentrant_prefixes" yaml:"reentrant_prefixes"`

	// Logger used during configuration and by components that are not
	// given one explicitly
	Logger Logger `json:"-" yaml:"-"`
}

// Clamp bounds. MaxCacheEntries and MaxCacheTTL bound the advice
// cache; the others are operational safety rails.
const (
	MaxCacheEntries      = 1000
	MaxCacheTTL          = 24 * time.Hour
	DefaultSafeThreshold = 100
	MinMetricInterval    = time.Second
)

// Option is a functional option for configuring the pipeline
type Option func(*Config)

// DefaultConfig returns the baseline configuration before environment
// variables and options are applied
func DefaultConfig() *Config {
	return &Config{
		Service:            "erradvise",
		Environment:        "development",
		Concurrency:        2,
		QueueLimit:         10,
		SafeThreshold:      DefaultSafeThreshold,
		CacheLimit:         100,
		CacheTTL:           time.Hour,
		CacheBackend:       "memory",
		FailureThreshold:   5,
		RecoveryTimeout:    30 * time.Second,
		Timeout:            30 * time.Second,
		RetryAttempts:      2,
		RetryBaseDelay:     500 * time.Millisecond,
		RetryMaxDelay:      8 * time.Second,
		MaxTokens:          1000,
		Temperature:        0.2,
		MaxSockets:         50,
		MaxFreeSockets:     10,
		MetricInterval:     60 * time.Second,
		ReentrantPrefixes:  []string{"AxiosError", "FetchError", "ProviderTransportError"},
		Logger:             &NoOpLogger{},
	}
}

// NewConfig creates a configuration with the standard three-layer
// precedence and validates the result
func NewConfig(opts ...Option) (*Config, error) {
	config := DefaultConfig()
	config.applyEnvironment()

	for _, opt := range opts {
		opt(config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvironment reads the recognized environment variables
func (c *Config) applyEnvironment() {
	setInt(&c.Concurrency, "CONCURRENCY")
	setInt(&c.QueueLimit, "QUEUE_LIMIT")
	setInt(&c.SafeThreshold, "SAFE_THRESHOLD")
	setInt(&c.CacheLimit, "CACHE_LIMIT")
	setDurationSeconds(&c.CacheTTL, "CACHE_TTL")
	setString(&c.CacheBackend, "CACHE_BACKEND")
	setString(&c.RedisURL, "REDIS_URL")
	setInt(&c.FailureThreshold, "FAILURE_THRESHOLD")
	setDurationMillis(&c.RecoveryTimeout, "RECOVERY_TIMEOUT_MS")
	setDurationMillis(&c.Timeout, "TIMEOUT")
	setInt(&c.RetryAttempts, "RETRY_ATTEMPTS")
	setDurationMillis(&c.RetryBaseDelay, "RETRY_BASE_MS")
	setDurationMillis(&c.RetryMaxDelay, "RETRY_MAX_MS")
	setString(&c.Provider, "PROVIDER")
	setString(&c.Model, "MODEL")
	setInt(&c.MaxTokens, "MAX_TOKENS")
	setString(&c.OpenAIURL, "OPENAI_URL")
	setString(&c.OpenAIAPIVersion, "OPENAI_API_VERSION")
	setInt(&c.MaxSockets, "MAX_SOCKETS")
	setInt(&c.MaxFreeSockets, "MAX_FREE_SOCKETS")
	setDurationMillis(&c.MetricInterval, "METRIC_INTERVAL_MS")
	setBool(&c.Verbose, "VERBOSE")
	setBool(&c.UseSecureCacheKeys, "USE_SECURE_CACHE_KEYS")
	setString(&c.Service, "SERVICE_NAME")
	setString(&c.Environment, "ENVIRONMENT")
}

// Validate checks invariants and clamps tunables into their safe
// ranges, warning on every adjustment
func (c *Config) Validate() error {
	logger := c.Logger
	if logger == nil {
		logger = &NoOpLogger{}
		c.Logger = logger
	}

	if c.SafeThreshold <= 0 {
		c.SafeThreshold = DefaultSafeThreshold
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be >= 1, got %d", ErrInvalidConfiguration, c.Concurrency)
	}
	if c.QueueLimit < 0 {
		return fmt.Errorf("%w: queue limit must be >= 0, got %d", ErrInvalidConfiguration, c.QueueLimit)
	}
	if c.FailureThreshold < 0 {
		return fmt.Errorf("%w: failure threshold must be >= 0, got %d", ErrInvalidConfiguration, c.FailureThreshold)
	}

	c.clampInt(&c.Concurrency, c.SafeThreshold, "concurrency")
	c.clampInt(&c.QueueLimit, c.SafeThreshold, "queue_limit")
	c.clampInt(&c.MaxSockets, c.SafeThreshold, "max_sockets")
	c.clampInt(&c.MaxFreeSockets, c.SafeThreshold, "max_free_sockets")

	if c.CacheLimit < 0 {
		c.warnClamp("cache_limit", c.CacheLimit, 0)
		c.CacheLimit = 0
	}
	if c.CacheLimit > MaxCacheEntries {
		c.warnClamp("cache_limit", c.CacheLimit, MaxCacheEntries)
		c.CacheLimit = MaxCacheEntries
	}
	if c.CacheTTL < 0 {
		c.warnClamp("cache_ttl", int(c.CacheTTL), 0)
		c.CacheTTL = 0
	}
	if c.CacheTTL > MaxCacheTTL {
		c.warnClamp("cache_ttl_seconds", int(c.CacheTTL/time.Second), int(MaxCacheTTL/time.Second))
		c.CacheTTL = MaxCacheTTL
	}
	if c.MetricInterval < MinMetricInterval {
		c.warnClamp("metric_interval_ms", int(c.MetricInterval/time.Millisecond), int(MinMetricInterval/time.Millisecond))
		c.MetricInterval = MinMetricInterval
	}

	return nil
}

func (c *Config) clampInt(v *int, max int, name string) {
	if *v > max {
		c.warnClamp(name, *v, max)
		*v = max
	}
}

func (c *Config) warnClamp(name string, requested, applied int) {
	c.Logger.Warn("Configuration value clamped", map[string]interface{}{
		"operation": "config_clamp",
		"setting":   name,
		"requested": requested,
		"applied":   applied,
	})
}

// LoadConfigFile loads configuration from a JSON or YAML file and
// applies it on top of defaults and environment, below options
func LoadConfigFile(path string, opts ...Option) (*Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("%w: unsupported config file type %q", ErrInvalidConfiguration, ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	config.applyEnvironment()

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Functional options

func WithService(name string) Option {
	return func(c *Config) { c.Service = name }
}

func WithEnvironment(env string) Option {
	return func(c *Config) { c.Environment = env }
}

func WithConcurrency(n int) Option {
	return func(c *Config) { c.Concurrency = n }
}

func WithQueueLimit(n int) Option {
	return func(c *Config) { c.QueueLimit = n }
}

func WithSafeThreshold(n int) Option {
	return func(c *Config) { c.SafeThreshold = n }
}

func WithCacheLimit(n int) Option {
	return func(c *Config) { c.CacheLimit = n }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Config) { c.CacheTTL = ttl }
}

func WithCacheBackend(backend, redisURL string) Option {
	return func(c *Config) {
		c.CacheBackend = backend
		c.RedisURL = redisURL
	}
}

func WithFailureThreshold(n int) Option {
	return func(c *Config) { c.FailureThreshold = n }
}

func WithRecoveryTimeout(d time.Duration) Option {
	return func(c *Config) { c.RecoveryTimeout = d }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

func WithProvider(name string) Option {
	return func(c *Config) { c.Provider = name }
}

func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

func WithMetricInterval(d time.Duration) Option {
	return func(c *Config) { c.MetricInterval = d }
}

func WithVerbose(v bool) Option {
	return func(c *Config) { c.Verbose = v }
}

func WithSecureCacheKeys(v bool) Option {
	return func(c *Config) { c.UseSecureCacheKeys = v }
}

func WithReentrantPrefixes(prefixes []string) Option {
	return func(c *Config) { c.ReentrantPrefixes = prefixes }
}

func WithLogger(logger Logger) Option {
	return func(c *Config) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// Environment parsing helpers

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func setBool(dst *bool, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func setDurationMillis(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		*dst = time.Duration(n) * time.Millisecond
	}
}

func setDurationSeconds(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		*dst = time.Duration(n) * time.Second
	}
}
