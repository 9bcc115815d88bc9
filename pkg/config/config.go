// Package config provides the unified configuration system for Hubble.
// It defines a single BaseConfig structure that all connectors use,
// ensuring consistent configuration across the entire system.
//
// The configuration is organized into logical sections:
//   - Extraction: Streams, paging, incremental sync and retry budget
//   - Performance: Batch sizes, concurrency, streaming settings
//   - Timeouts: Connection and operation timeouts
//   - Reliability: Retry logic, circuit breakers, rate limiting
//   - Security: TLS and credentials
//   - Observability: Metrics, tracing, logging
//   - Advanced: Optional features like output compression
//
// Example usage:
//
//	cfg := config.NewBaseConfig("vacancies-sync", "source")
//	cfg.Security.Credentials["api_token"] = os.Getenv("HUBBLE_API_TOKEN")
//	cfg.Extraction.Streams = []config.StreamSpec{
//	    {Name: "vacancies", EndpointURL: "https://api.example.com/api/v1/vacancies"},
//	}
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/ajitpratap0/hubble/pkg/errors"
)

// BaseConfig is the single unified configuration structure that all
// connectors use. Connectors read the sections relevant to them; the
// extraction engine reads Extraction and Security, destinations mostly
// read Performance, Security and Advanced.
type BaseConfig struct {
	// Name identifies the connector instance
	Name string `yaml:"name" json:"name"`
	// Type specifies the connector role ("source" or "destination")
	Type string `yaml:"type" json:"type"`
	// Version indicates the configuration version
	Version string `yaml:"version" json:"version"`

	// Extraction settings drive the incremental page loop
	Extraction ExtractionConfig `yaml:"extraction" json:"extraction"`

	// Performance settings control throughput and resource usage
	Performance PerformanceConfig `yaml:"performance" json:"performance"`

	// Timeouts define transport-level timeout durations
	Timeouts TimeoutConfig `yaml:"timeouts" json:"timeouts"`

	// Reliability settings for error handling and resilience
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Security configuration for authentication and encryption
	Security SecurityConfig `yaml:"security" json:"security"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`

	// Advanced features and optimizations
	Advanced AdvancedConfig `yaml:"advanced" json:"advanced"`
}

// StreamSpec names one extractable stream and the endpoint it lives at.
type StreamSpec struct {
	// Name is the stream identifier; lowercase letters, digits and
	// underscores, starting with a letter
	Name string `yaml:"name" json:"name"`
	// EndpointURL is the HTTPS endpoint the find queries are POSTed to
	EndpointURL string `yaml:"endpoint_url" json:"endpoint_url"`
}

// ExtractionConfig contains the settings of the incremental extraction loop.
// All durations accept Go duration strings in YAML ("500ms", "2m").
type ExtractionConfig struct {
	// StartDate seeds the high-water mark of streams that have no saved
	// state yet; ISO-8601, optional
	StartDate string `yaml:"start_date" json:"start_date"`
	// PageSize is the $limit of every page query (1-1000)
	PageSize int `yaml:"page_size" json:"page_size"`
	// InterPageDelay is the pause between consecutive page requests (0-30s)
	InterPageDelay time.Duration `yaml:"inter_page_delay" json:"inter_page_delay"`
	// RequestTimeout bounds a single page request (10s-300s)
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// MaxRetries is the attempt budget for retryable responses (1-10)
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// Streams lists the streams to extract; at least one is required
	Streams []StreamSpec `yaml:"streams" json:"streams"`
}

// PerformanceConfig contains all performance-related settings.
type PerformanceConfig struct {
	// BatchSize controls the number of records grouped per destination write
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// BufferSize sets the capacity of the record channels
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
	// Workers defines the number of concurrent pipeline workers
	Workers int `yaml:"workers" json:"workers"`
	// MaxConcurrency bounds concurrently extracting streams
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`
	// FlushInterval triggers periodic batch flushes
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
	// EnableStreaming enables streaming mode if the destination supports it
	EnableStreaming bool `yaml:"enable_streaming" json:"enable_streaming"`
}

// TimeoutConfig contains transport timeout settings.
type TimeoutConfig struct {
	// Request timeout for individual operations other than page requests
	Request time.Duration `yaml:"request" json:"request"`
	// Connection timeout for establishing connections
	Connection time.Duration `yaml:"connection" json:"connection"`
	// Idle timeout before closing inactive connections
	Idle time.Duration `yaml:"idle" json:"idle"`
	// KeepAlive interval for connection health checks
	KeepAlive time.Duration `yaml:"keep_alive" json:"keep_alive"`
}

// ReliabilityConfig contains reliability settings used by destinations and
// the pipeline. The page-request retry budget lives in ExtractionConfig;
// these knobs govern everything else.
type ReliabilityConfig struct {
	// RetryAttempts sets maximum retry attempts for failed writes
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// RetryMultiplier increases delay exponentially
	RetryMultiplier float64 `yaml:"retry_multiplier" json:"retry_multiplier"`
	// MaxRetryDelay caps the maximum retry delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	// CircuitBreaker enables the circuit breaker around remote calls
	CircuitBreaker bool `yaml:"circuit_breaker" json:"circuit_breaker"`
	// RateLimitPerSec limits operations per second (0 = unlimited)
	RateLimitPerSec int `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	// AdaptiveRateLimit scales the request rate with observed upstream
	// health instead of holding RateLimitPerSec flat
	AdaptiveRateLimit bool `yaml:"adaptive_rate_limit" json:"adaptive_rate_limit"`
	// HealthCheck enables periodic health checks
	HealthCheck bool `yaml:"health_check" json:"health_check"`
	// FailFast aborts the run on the first stream failure
	FailFast bool `yaml:"fail_fast" json:"fail_fast"`
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	// EnableTLS enables TLS/SSL encryption
	EnableTLS bool `yaml:"enable_tls" json:"enable_tls"`
	// TLSSkipVerify disables certificate verification (insecure)
	TLSSkipVerify bool `yaml:"tls_skip_verify" json:"tls_skip_verify"`
	// Credentials stores authentication credentials; the extraction engine
	// requires "api_token" (use env vars in production)
	Credentials map[string]string `yaml:"credentials" json:"credentials"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// EnableMetrics activates metrics collection
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// EnableTracing activates distributed tracing
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// MetricsInterval sets how often throughput gauges refresh
	MetricsInterval time.Duration `yaml:"metrics_interval" json:"metrics_interval"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// AdvancedConfig contains optional advanced features.
type AdvancedConfig struct {
	// EnableCompression activates output compression in file destinations
	EnableCompression bool `yaml:"enable_compression" json:"enable_compression"`
	// CompressionAlgorithm selects compression type (gzip, snappy, lz4, zstd)
	CompressionAlgorithm string `yaml:"compression_algorithm" json:"compression_algorithm"`
	// Debug enables detailed debug output
	Debug bool `yaml:"debug" json:"debug"`
}

// Limits on the extraction settings. Out-of-range values are configuration
// mistakes and fail validation rather than being clamped.
const (
	MinPageSize = 1
	MaxPageSize = 1000

	MinInterPageDelay = 0
	MaxInterPageDelay = 30 * time.Second

	MinRequestTimeout = 10 * time.Second
	MaxRequestTimeout = 300 * time.Second

	MinMaxRetries = 1
	MaxMaxRetries = 10
)

// Extraction defaults.
const (
	DefaultPageSize       = 200
	DefaultInterPageDelay = 500 * time.Millisecond
	DefaultRequestTimeout = 60 * time.Second
	DefaultMaxRetries     = 5
)

var streamNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// NewBaseConfig creates a new BaseConfig with production defaults. Specific
// deployments override the defaults via the YAML loader or directly.
func NewBaseConfig(name, connectorType string) *BaseConfig {
	return &BaseConfig{
		Name:    name,
		Type:    connectorType,
		Version: "1.0.0",
		Extraction: ExtractionConfig{
			PageSize:       DefaultPageSize,
			InterPageDelay: DefaultInterPageDelay,
			RequestTimeout: DefaultRequestTimeout,
			MaxRetries:     DefaultMaxRetries,
		},
		Performance: PerformanceConfig{
			BatchSize:       1000,
			BufferSize:      10000,
			Workers:         runtime.NumCPU(),
			MaxConcurrency:  1,
			FlushInterval:   10 * time.Second,
			EnableStreaming: true,
		},
		Timeouts: TimeoutConfig{
			Request:    30 * time.Second,
			Connection: 10 * time.Second,
			Idle:       5 * time.Minute,
			KeepAlive:  30 * time.Second,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			RetryMultiplier: 2.0,
			MaxRetryDelay:   60 * time.Second,
			CircuitBreaker:  true,
			RateLimitPerSec: 0,
			HealthCheck:     true,
			FailFast:        false,
		},
		Security: SecurityConfig{
			EnableTLS:     true,
			TLSSkipVerify: false,
			Credentials:   make(map[string]string),
		},
		Observability: ObservabilityConfig{
			EnableMetrics:     true,
			EnableTracing:     false,
			MetricsInterval:   30 * time.Second,
			LogLevel:          "info",
			TracingSampleRate: 0.1,
		},
		Advanced: AdvancedConfig{
			EnableCompression:    false,
			CompressionAlgorithm: "gzip",
			Debug:                false,
		},
	}
}

// Validate validates the configuration for correctness. It checks required
// fields and ensures values are within acceptable ranges; connectors call
// this after loading configuration to catch mistakes pre-flight.
func (bc *BaseConfig) Validate() error {
	if bc.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "name is required")
	}
	if bc.Type == "" {
		return errors.New(errors.ErrorTypeConfig, "type is required")
	}
	if bc.Performance.BatchSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "batch_size must be positive")
	}
	if bc.Performance.BufferSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "buffer_size must be positive")
	}
	if bc.Performance.MaxConcurrency <= 0 {
		return errors.New(errors.ErrorTypeConfig, "max_concurrency must be positive")
	}
	if bc.Reliability.RetryAttempts < 0 {
		return errors.New(errors.ErrorTypeConfig, "retry_attempts cannot be negative")
	}
	if bc.Reliability.RateLimitPerSec < 0 {
		return errors.New(errors.ErrorTypeConfig, "rate_limit_per_sec cannot be negative")
	}
	return bc.Extraction.Validate()
}

// Validate checks the extraction section. Streams may legitimately be empty
// for destination-only configurations; sources require at least one and
// enforce that themselves.
func (e *ExtractionConfig) Validate() error {
	if e.PageSize < MinPageSize || e.PageSize > MaxPageSize {
		return errors.New(errors.ErrorTypeConfig, "page_size must be between 1 and 1000").
			WithDetail("page_size", e.PageSize)
	}
	if e.InterPageDelay < MinInterPageDelay || e.InterPageDelay > MaxInterPageDelay {
		return errors.New(errors.ErrorTypeConfig, "inter_page_delay must be between 0s and 30s").
			WithDetail("inter_page_delay", e.InterPageDelay.String())
	}
	if e.RequestTimeout < MinRequestTimeout || e.RequestTimeout > MaxRequestTimeout {
		return errors.New(errors.ErrorTypeConfig, "request_timeout must be between 10s and 300s").
			WithDetail("request_timeout", e.RequestTimeout.String())
	}
	if e.MaxRetries < MinMaxRetries || e.MaxRetries > MaxMaxRetries {
		return errors.New(errors.ErrorTypeConfig, "max_retries must be between 1 and 10").
			WithDetail("max_retries", e.MaxRetries)
	}
	if e.StartDate != "" {
		if _, err := time.Parse(time.RFC3339, e.StartDate); err != nil {
			return errors.New(errors.ErrorTypeConfig, "start_date must be an ISO-8601 timestamp").
				WithDetail("start_date", e.StartDate)
		}
	}
	for _, stream := range e.Streams {
		if err := ValidateStreamName(stream.Name); err != nil {
			return err
		}
		if err := ValidateEndpointURL(stream.EndpointURL); err != nil {
			return err
		}
	}
	return nil
}

// ValidateStreamName checks a stream identifier: lowercase letters, digits
// and underscores, starting with a letter.
func ValidateStreamName(name string) error {
	if name == "" {
		return errors.New(errors.ErrorTypeConfig, "stream name is required")
	}
	if !streamNamePattern.MatchString(name) {
		return errors.New(errors.ErrorTypeConfig, "invalid stream name").
			WithDetail("name", name).
			WithDetail("pattern", streamNamePattern.String())
	}
	return nil
}

// ValidateEndpointURL checks a stream endpoint: HTTPS only, no whitespace
// and none of the characters that suggest an unexpanded template.
func ValidateEndpointURL(rawURL string) error {
	if rawURL == "" {
		return errors.New(errors.ErrorTypeConfig, "endpoint_url is required")
	}
	if !strings.HasPrefix(rawURL, "https://") {
		return errors.New(errors.ErrorTypeConfig, "endpoint_url must use https").
			WithDetail("endpoint_url", rawURL)
	}
	if strings.ContainsAny(rawURL, "<>\"'{}") || strings.ContainsAny(rawURL, " \t\n\r") {
		return errors.New(errors.ErrorTypeConfig, "endpoint_url contains invalid characters").
			WithDetail("endpoint_url", rawURL)
	}
	return nil
}

// GetWorkers returns the number of workers, ensuring it's at least 1.
func (p *PerformanceConfig) GetWorkers() int {
	if p.Workers <= 0 {
		return runtime.NumCPU()
	}
	return p.Workers
}

// IsRateLimited returns true if rate limiting is enabled.
func (r *ReliabilityConfig) IsRateLimited() bool {
	return r.RateLimitPerSec > 0
}

// HasCredentials returns true if credentials are configured.
func (s *SecurityConfig) HasCredentials() bool {
	return len(s.Credentials) > 0
}

// IsCompressionEnabled returns true if output compression should be used.
func (a *AdvancedConfig) IsCompressionEnabled() bool {
	return a.EnableCompression && a.CompressionAlgorithm != "" && a.CompressionAlgorithm != "none"
}
