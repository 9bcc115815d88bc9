// Package base provides the foundational BaseConnector that Hubble
// connectors embed. It implements the cross-cutting machinery every
// connector needs: circuit breakers, rate limiting, health monitoring,
// metrics collection, error categorization and retry logic.
//
// # Usage
//
// Connectors embed BaseConnector to inherit its functionality:
//
//	type MyConnector struct {
//	    *base.BaseConnector
//	    // connector-specific fields
//	}
//
//	func NewMyConnector() *MyConnector {
//	    return &MyConnector{
//	        BaseConnector: base.NewBaseConnector("my-connector", core.ConnectorTypeSource, "1.0.0"),
//	    }
//	}
//
// # Lifecycle
//
// 1. Create with NewBaseConnector
// 2. Initialize with Initialize() - sets up the production features
// 3. Use throughout connector operations
// 4. Close with Close() - cleans up all resources
//
// Circuit breaking and rate limiting are driven by the reliability section
// of the connector configuration; both are optional and disabled connectors
// simply pass calls through.
package base

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/hubble/pkg/clients"
	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/errors"
	"github.com/ajitpratap0/hubble/pkg/logger"
	"github.com/ajitpratap0/hubble/pkg/metrics"
	"github.com/ajitpratap0/hubble/pkg/pool"
	"go.uber.org/zap"
)

// BaseConnector provides common functionality for all connectors including
// circuit breakers, rate limiting, health monitoring and metrics collection.
type BaseConnector struct {
	// Core fields
	name          string             // Unique connector identifier
	connectorType core.ConnectorType // Source or Destination
	version       string             // Connector version
	config        *config.BaseConfig // Unified configuration
	logger        *zap.Logger        // Structured logger

	// State management
	state      core.State    // Connector state for incremental sync
	position   core.Position // Current processing position
	stateMutex sync.RWMutex  // Protects state access

	// Resource management
	ctx        context.Context    // Connector context
	cancel     context.CancelFunc // Context cancellation
	closed     bool               // Shutdown flag
	closeMutex sync.Mutex         // Protects close operation

	// Production features
	circuitBreaker   *clients.CircuitBreaker // Failure protection
	rateLimiter      clients.RateLimiter     // Request rate control
	healthChecker    *HealthChecker          // Health monitoring
	metricsCollector *metrics.Collector      // Metrics collection
	errorHandler     *ErrorHandler           // Error handling logic
	retryPolicy      *RetryPolicy            // Retry configuration

	// Progress tracking
	progressReporter *ProgressReporter // Progress updates
}

// NewBaseConnector creates a new base connector with the specified name,
// type, and version. Connector implementations call this during
// construction.
//
// Example:
//
//	func NewJSONLDestination() *JSONLDestination {
//	    return &JSONLDestination{
//	        BaseConnector: base.NewBaseConnector("jsonl", core.ConnectorTypeDestination, "1.0.0"),
//	    }
//	}
func NewBaseConnector(name string, connectorType core.ConnectorType, version string) *BaseConnector {
	return &BaseConnector{
		name:          name,
		connectorType: connectorType,
		version:       version,
		state:         make(core.State),
		logger:        logger.Get().With(zap.String("connector", name)),
	}
}

// Initialize sets up the production features of the base connector:
// circuit breaker, rate limiter, health monitoring, metrics collection,
// error handling and retry policy. It must be called before the connector
// is used.
func (bc *BaseConnector) Initialize(ctx context.Context, config *config.BaseConfig) error {
	bc.config = config
	bc.ctx, bc.cancel = context.WithCancel(ctx)

	// Circuit breaker for failure protection
	if config.Reliability.CircuitBreaker {
		bc.circuitBreaker = clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
			FailureThreshold: 5,                // Open after 5 consecutive failures
			SuccessThreshold: 3,                // Close after 3 consecutive successes
			Timeout:          30 * time.Second, // Half-open timeout
		}, bc.logger)
	}

	// Rate limiter if configured
	if config.Reliability.RateLimitPerSec > 0 {
		bc.rateLimiter = clients.NewRateLimiter(
			config.Reliability.RateLimitPerSec,
			config.Reliability.RateLimitPerSec*2, // Allow bursts up to 2x the limit
		)
	}

	// Periodic health monitoring
	if config.Reliability.HealthCheck {
		bc.healthChecker = NewHealthChecker(bc.name, 30*time.Second)
		bc.healthChecker.Start(bc.ctx)
	}

	// Metrics collector for observability
	bc.metricsCollector = metrics.NewCollector(bc.name)

	// Error handler with retry configuration
	bc.errorHandler = NewErrorHandler(
		bc.logger,
		config.Reliability.RetryAttempts,
		config.Reliability.RetryDelay,
	)

	// Retry policy for transient failures
	bc.retryPolicy = NewRetryPolicy(
		config.Reliability.RetryAttempts,
		config.Reliability.RetryDelay,
	)

	// Progress reporter for user feedback
	bc.progressReporter = NewProgressReporter(bc.logger, bc.metricsCollector)

	bc.logger.Info("connector initialized",
		zap.String("type", string(bc.connectorType)),
		zap.String("version", bc.version))

	return nil
}

// Name returns the connector name
func (bc *BaseConnector) Name() string {
	return bc.name
}

// Type returns the connector type
func (bc *BaseConnector) Type() core.ConnectorType {
	return bc.connectorType
}

// Version returns the connector version
func (bc *BaseConnector) Version() string {
	return bc.version
}

// GetState returns the current state
func (bc *BaseConnector) GetState() core.State {
	bc.stateMutex.RLock()
	defer bc.stateMutex.RUnlock()

	// Return a copy to prevent external modification
	stateCopy := make(core.State)
	for k, v := range bc.state {
		stateCopy[k] = v
	}
	return stateCopy
}

// SetState updates the connector state
func (bc *BaseConnector) SetState(state core.State) error {
	bc.stateMutex.Lock()
	defer bc.stateMutex.Unlock()

	bc.state = state
	bc.logger.Debug("state updated", zap.Any("state", state))
	return nil
}

// GetPosition returns the current position
func (bc *BaseConnector) GetPosition() core.Position {
	bc.stateMutex.RLock()
	defer bc.stateMutex.RUnlock()
	return bc.position
}

// SetPosition updates the current position
func (bc *BaseConnector) SetPosition(position core.Position) error {
	bc.stateMutex.Lock()
	defer bc.stateMutex.Unlock()

	bc.position = position
	if position != nil {
		bc.logger.Debug("position updated", zap.String("position", position.String()))
	}
	return nil
}

// Health reports connector health from the periodic health checker.
// Connectors that can probe their upstream system directly should
// override this with a real connectivity check.
func (bc *BaseConnector) Health(ctx context.Context) (*core.HealthStatus, error) {
	if bc.closed {
		return nil, errors.New(errors.ErrorTypeConnection, "connector is closed")
	}

	if bc.healthChecker == nil {
		return &core.HealthStatus{Status: "healthy", Timestamp: time.Now()}, nil
	}

	return bc.healthChecker.GetStatus(), nil
}

// Metrics returns current metrics
func (bc *BaseConnector) Metrics() map[string]interface{} {
	m := map[string]interface{}{
		"name":    bc.name,
		"type":    string(bc.connectorType),
		"version": bc.version,
	}

	if bc.metricsCollector != nil {
		m["uptime"] = time.Since(bc.metricsCollector.StartTime()).Seconds()
	}

	// Circuit breaker status
	if bc.circuitBreaker != nil {
		cbState := bc.circuitBreaker.GetState()
		m["circuit_breaker_state"] = cbState.State
		m["circuit_breaker_failure_rate"] = cbState.FailureRate
	}

	// Rate limiter status
	if bc.rateLimiter != nil {
		rlStats := bc.rateLimiter.GetStats()
		m["rate_limit"] = rlStats.Rate
		m["rate_limit_burst"] = rlStats.Burst
		m["rate_limiter_allowed"] = rlStats.AllowedRequests
		m["rate_limiter_blocked"] = rlStats.BlockedRequests
	}

	// Health status
	if bc.healthChecker != nil {
		status := bc.healthChecker.GetStatus()
		m["health_status"] = status.Status
		m["health_check_count"] = bc.healthChecker.CheckCount()
		m["health_failure_count"] = bc.healthChecker.FailureCount()
	}

	// Progress
	if bc.progressReporter != nil {
		processed, total := bc.progressReporter.GetProgress()
		m["records_processed"] = processed
		if total > 0 {
			m["records_total"] = total
		}
	}

	// Error counts by category
	if bc.errorHandler != nil {
		for category, count := range bc.errorHandler.GetErrorStats() {
			m["errors_"+category] = count
		}
	}

	return m
}

// Close shuts down the connector
func (bc *BaseConnector) Close(ctx context.Context) error {
	bc.closeMutex.Lock()
	defer bc.closeMutex.Unlock()

	if bc.closed {
		return nil
	}

	bc.logger.Info("closing connector")

	// Cancel context to stop background operations
	if bc.cancel != nil {
		bc.cancel()
	}

	// Stop health checker
	if bc.healthChecker != nil {
		bc.healthChecker.Stop()
	}

	bc.closed = true
	bc.logger.Info("connector closed")

	return nil
}

// ExecuteWithRetry executes a function with automatic retry logic including
// exponential backoff. Only errors the taxonomy marks retryable are
// retried; a config or data error comes back on the first attempt.
//
// Example:
//
//	err := connector.ExecuteWithRetry(ctx, func() error {
//	    return apiClient.FetchData()
//	})
//	if err != nil {
//	    logger.Error("operation failed after retries", zap.Error(err))
//	}
func (bc *BaseConnector) ExecuteWithRetry(ctx context.Context, fn func() error) error {
	return bc.retryPolicy.ExecuteWithCondition(ctx, fn, errors.IsRetryable)
}

// ExecuteWithCircuitBreaker executes a function with circuit breaker
// protection. If the circuit is open due to excessive failures, the
// function is not executed and an error is returned immediately. When no
// breaker is configured the function runs directly.
func (bc *BaseConnector) ExecuteWithCircuitBreaker(fn func() error) error {
	if bc.circuitBreaker == nil {
		return fn()
	}
	return bc.circuitBreaker.Execute(fn)
}

// RateLimit enforces the configured rate limit, blocking if necessary.
// Returns immediately if no rate limiter is configured.
func (bc *BaseConnector) RateLimit(ctx context.Context) error {
	if bc.rateLimiter == nil {
		return nil
	}
	return bc.rateLimiter.Wait(ctx)
}

// HandleError handles an error with the configured error handler
func (bc *BaseConnector) HandleError(ctx context.Context, err error, record *pool.Record) error {
	return bc.errorHandler.HandleError(ctx, err, record)
}

// ShouldRetry checks if an error should be retried
func (bc *BaseConnector) ShouldRetry(err error) bool {
	return bc.errorHandler.ShouldRetry(err)
}

// ReportProgress reports operation progress
func (bc *BaseConnector) ReportProgress(processed, total int64) {
	if bc.progressReporter != nil {
		bc.progressReporter.ReportProgress(processed, total)
	}
}

// GetLogger returns the connector logger
func (bc *BaseConnector) GetLogger() *zap.Logger {
	return bc.logger
}

// GetConfig returns the connector configuration
func (bc *BaseConnector) GetConfig() *config.BaseConfig {
	return bc.config
}

// GetContext returns the connector context
func (bc *BaseConnector) GetContext() context.Context {
	return bc.ctx
}

// IsHealthy returns true if the connector is healthy
func (bc *BaseConnector) IsHealthy() bool {
	if bc.closed {
		return false
	}

	if bc.healthChecker != nil {
		status := bc.healthChecker.GetStatus()
		return status.Status == "healthy"
	}

	return true
}

// UpdateHealth updates the health status
func (bc *BaseConnector) UpdateHealth(healthy bool, details map[string]interface{}) {
	if bc.healthChecker != nil {
		bc.healthChecker.UpdateStatus(healthy, details)
	}
}

// GetCircuitBreaker returns the circuit breaker
func (bc *BaseConnector) GetCircuitBreaker() *clients.CircuitBreaker {
	return bc.circuitBreaker
}

// GetRateLimiter returns the rate limiter
func (bc *BaseConnector) GetRateLimiter() clients.RateLimiter {
	return bc.rateLimiter
}

// GetErrorHandler returns the error handler
func (bc *BaseConnector) GetErrorHandler() *ErrorHandler {
	return bc.errorHandler
}

// GetMetricsCollector returns the metrics collector
func (bc *BaseConnector) GetMetricsCollector() *metrics.Collector {
	return bc.metricsCollector
}

// GetProgressReporter returns the progress reporter
func (bc *BaseConnector) GetProgressReporter() *ProgressReporter {
	return bc.progressReporter
}

// Validate validates the connector configuration
func (bc *BaseConnector) Validate() error {
	if bc.config == nil {
		return errors.New(errors.ErrorTypeConfig, "configuration is required")
	}

	if bc.config.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "connector name is required")
	}

	if bc.config.Performance.BatchSize <= 0 {
		bc.config.Performance.BatchSize = 1000
	}

	if bc.config.Performance.MaxConcurrency <= 0 {
		bc.config.Performance.MaxConcurrency = 10
	}

	if bc.config.Performance.BufferSize <= 0 {
		bc.config.Performance.BufferSize = 10000
	}

	return nil
}
