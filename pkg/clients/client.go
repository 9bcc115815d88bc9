package clients

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/ajitpratap0/hubble/pkg/errors"
	jsonpool "github.com/ajitpratap0/hubble/pkg/json"
)

// APIClient issues requests against an upstream JSON API. It owns a pooled
// transport, attaches the bearer token from its TokenProvider, and routes
// every request through the optional rate limiter and circuit breaker.
//
// Responses are fully read and closed before being returned, so the caller
// always gets a complete byte payload and the underlying connection goes
// straight back to the pool.
type APIClient struct {
	config     *Config
	logger     *zap.Logger
	httpClient *http.Client
	transport  *http.Transport
	tokens     TokenProvider

	totalRequests  int64
	failedRequests int64

	metrics        *HTTPMetrics
	circuitBreaker *CircuitBreaker
	rateLimiter    RateLimiter
}

// Config configures the API client transport and its protection layers.
type Config struct {
	// Connection settings
	MaxIdleConns        int           `json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `json:"idle_conn_timeout"`
	DisableCompression  bool          `json:"disable_compression"`
	EnableHTTP2         bool          `json:"enable_http2"`

	// Timeouts
	DialTimeout           time.Duration `json:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `json:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `json:"response_header_timeout"`
	RequestTimeout        time.Duration `json:"request_timeout"`
	KeepAlive             time.Duration `json:"keep_alive"`

	// TLS settings
	InsecureSkipVerify bool   `json:"insecure_skip_verify"`
	TLSMinVersion      uint16 `json:"tls_min_version"`

	// Rate limiting; zero disables the limiter (the extraction loop's
	// inter-page delay is the primary politeness mechanism)
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`
	// AdaptiveRateLimit lets the limiter follow upstream health instead of
	// holding RateLimit flat: errors and slow responses shrink the rate,
	// quiet windows grow it back
	AdaptiveRateLimit bool `json:"adaptive_rate_limit"`

	// Circuit breaker
	CircuitBreakerEnabled bool          `json:"circuit_breaker_enabled"`
	FailureThreshold      int           `json:"failure_threshold"`
	SuccessThreshold      int           `json:"success_threshold"`
	BreakerTimeout        time.Duration `json:"breaker_timeout"`

	// UserAgent overrides the default request User-Agent
	UserAgent string `json:"user_agent"`
}

// DefaultConfig returns defaults sized for sequential page extraction, not
// high-fanout crawling.
func DefaultConfig() *Config {
	return &Config{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		DisableCompression:    false,
		EnableHTTP2:           true,
		DialTimeout:           30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		RequestTimeout:        60 * time.Second,
		KeepAlive:             30 * time.Second,
		InsecureSkipVerify:    false,
		TLSMinVersion:         tls.VersionTLS12,
		RateLimit:             0,
		RateBurst:             1,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      3,
		BreakerTimeout:        30 * time.Second,
		UserAgent:             "Hubble/1.0",
	}
}

// APIResponse is a fully materialized HTTP response.
type APIResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Success reports whether the status code is 2xx.
func (r *APIResponse) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// NewAPIClient creates a client. tokens may be nil for unauthenticated
// endpoints.
func NewAPIClient(config *Config, tokens TokenProvider, logger *zap.Logger) *APIClient {
	if config == nil {
		config = DefaultConfig()
	}

	client := &APIClient{
		config:  config,
		logger:  logger.With(zap.String("component", "api_client")),
		tokens:  tokens,
		metrics: NewHTTPMetrics(),
	}

	client.transport = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		DisableCompression:    config.DisableCompression,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipVerify,
			MinVersion:         config.TLSMinVersion,
		},
	}

	if config.EnableHTTP2 {
		if err := http2.ConfigureTransport(client.transport); err != nil {
			client.logger.Warn("failed to configure HTTP/2", zap.Error(err))
		}
	}

	client.httpClient = &http.Client{
		Transport: client.transport,
		Timeout:   config.RequestTimeout,
	}

	if config.RateLimit > 0 {
		if config.AdaptiveRateLimit {
			client.rateLimiter = NewAdaptiveRateLimiter(config.RateLimit, config.RateBurst)
		} else {
			client.rateLimiter = NewTokenBucketRateLimiter(config.RateLimit, config.RateBurst)
		}
	}

	if config.CircuitBreakerEnabled {
		client.circuitBreaker = NewCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold: config.FailureThreshold,
			SuccessThreshold: config.SuccessThreshold,
			Timeout:          config.BreakerTimeout,
		}, client.logger)
	}

	return client
}

// PostJSON marshals body and POSTs it to url, returning the materialized
// response. A non-2xx status is not an error here; the caller owns that
// decision (the retry policy reads the status and headers).
func (c *APIClient) PostJSON(ctx context.Context, url string, body interface{}) (*APIResponse, error) {
	payload, err := jsonpool.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode request body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// Get issues a GET request, returning the materialized response.
func (c *APIClient) Get(ctx context.Context, url string) (*APIResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to build request")
	}
	return c.do(req)
}

func (c *APIClient) do(req *http.Request) (*APIResponse, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			atomic.AddInt64(&c.failedRequests, 1)
			return nil, errors.Wrap(err, errors.ErrorTypeRateLimit, "rate limit wait interrupted")
		}
	}

	if c.circuitBreaker != nil && !c.circuitBreaker.Allow() {
		atomic.AddInt64(&c.failedRequests, 1)
		return nil, errors.New(errors.ErrorTypeConnection, "circuit breaker is open")
	}

	if c.tokens != nil {
		token, err := c.tokens.Token(req.Context())
		if err != nil {
			atomic.AddInt64(&c.failedRequests, 1)
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	atomic.AddInt64(&c.totalRequests, 1)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	latency := time.Since(start)

	c.metrics.RecordRequest(req.Method, req.URL.Host, latency, err)
	c.recordOutcome(latency, err == nil && resp.StatusCode < 500)

	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		if c.circuitBreaker != nil {
			c.circuitBreaker.RecordFailure()
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		atomic.AddInt64(&c.failedRequests, 1)
		if c.circuitBreaker != nil {
			c.circuitBreaker.RecordFailure()
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response body")
	}

	if c.circuitBreaker != nil {
		// Server errors count against the breaker; a 4xx is the caller's
		// problem, not upstream health.
		if resp.StatusCode >= 500 {
			c.circuitBreaker.RecordFailure()
		} else {
			c.circuitBreaker.RecordSuccess()
		}
	}

	return &APIResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// recordOutcome feeds request outcomes to the limiter when it adapts.
func (c *APIClient) recordOutcome(latency time.Duration, success bool) {
	type responseRecorder interface {
		RecordResponse(time.Duration, bool)
	}
	if recorder, ok := c.rateLimiter.(responseRecorder); ok {
		recorder.RecordResponse(latency, success)
	}
}

// Stats is a point-in-time snapshot of client counters.
type Stats struct {
	TotalRequests  int64         `json:"total_requests"`
	FailedRequests int64         `json:"failed_requests"`
	SuccessRate    float64       `json:"success_rate"`
	AverageLatency time.Duration `json:"average_latency"`
	P95Latency     time.Duration `json:"p95_latency"`
	P99Latency     time.Duration `json:"p99_latency"`
}

// GetStats returns current client statistics.
func (c *APIClient) GetStats() Stats {
	total := atomic.LoadInt64(&c.totalRequests)
	failed := atomic.LoadInt64(&c.failedRequests)

	stats := Stats{
		TotalRequests:  total,
		FailedRequests: failed,
		AverageLatency: c.metrics.GetAverageLatency(),
		P95Latency:     c.metrics.GetP95Latency(),
		P99Latency:     c.metrics.GetP99Latency(),
	}
	if total > 0 {
		stats.SuccessRate = float64(total-failed) / float64(total) * 100
	}
	return stats
}

// Close releases idle connections.
func (c *APIClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}
