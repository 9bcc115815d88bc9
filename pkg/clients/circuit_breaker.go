package clients

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CircuitBreakerConfig configures failure and recovery thresholds.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // consecutive successes before closing
	Timeout          time.Duration // open duration before probing
}

// CircuitBreaker protects an upstream from request storms during outages.
// It opens after consecutive failures or a high failure rate over a sliding
// window, and probes with a limited number of requests after Timeout.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	logger *zap.Logger

	state           int32 // 0: closed, 1: open, 2: half-open
	lastStateChange time.Time
	nextRetryTime   time.Time

	consecutiveFailures  int32
	consecutiveSuccesses int32

	window          *SlidingWindow
	halfOpenLimit   int32
	halfOpenCounter int32

	mu sync.RWMutex
}

// CircuitState represents the state of a circuit breaker
type CircuitState int32

const (
	// StateClosed allows all requests to pass through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows a limited number of requests to test if the service has recovered
	StateHalfOpen
)

// NewCircuitBreaker creates a circuit breaker in the closed state. It uses a
// one-minute sliding window of ten-second buckets to track the failure rate.
func NewCircuitBreaker(config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := &CircuitBreaker{
		config:          config,
		logger:          logger.With(zap.String("component", "circuit_breaker")),
		state:           int32(StateClosed),
		lastStateChange: time.Now(),
		halfOpenLimit:   5,
	}

	cb.window = NewSlidingWindow(10*time.Second, 60*time.Second)

	return cb
}

// Execute runs fn with circuit breaker protection. If the circuit is open
// it fails immediately without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return fmt.Errorf("circuit breaker is open")
	}

	err := fn()
	if err != nil {
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()
	return nil
}

// Allow reports whether a request should proceed in the current state.
func (cb *CircuitBreaker) Allow() bool {
	state := CircuitState(atomic.LoadInt32(&cb.state))

	switch state {
	case StateClosed:
		return true

	case StateOpen:
		cb.mu.RLock()
		shouldRetry := time.Now().After(cb.nextRetryTime)
		cb.mu.RUnlock()

		if shouldRetry {
			cb.transitionToHalfOpen()
			return cb.allowHalfOpen()
		}
		return false

	case StateHalfOpen:
		return cb.allowHalfOpen()

	default:
		return false
	}
}

// RecordSuccess records a successful request. In half-open state, enough
// consecutive successes close the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	state := CircuitState(atomic.LoadInt32(&cb.state))

	cb.window.RecordRequest(true)

	switch state {
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)

	case StateHalfOpen:
		successes := atomic.AddInt32(&cb.consecutiveSuccesses, 1)
		if successes >= int32(cb.config.SuccessThreshold) {
			cb.transitionToClosed()
		}
	}
}

// RecordFailure records a failed request. In closed state, hitting the
// failure threshold or a window failure rate above one half opens the
// circuit; in half-open state any failure reopens it.
func (cb *CircuitBreaker) RecordFailure() {
	state := CircuitState(atomic.LoadInt32(&cb.state))

	cb.window.RecordRequest(false)

	switch state {
	case StateClosed:
		failures := atomic.AddInt32(&cb.consecutiveFailures, 1)

		// The window rate only counts once it has enough samples to mean
		// something; sparse traffic is governed by the consecutive
		// threshold alone.
		stats := cb.window.GetStats()
		rateTripped := stats.TotalRequests >= 10 && stats.FailureRate > 0.5

		if failures >= int32(cb.config.FailureThreshold) || rateTripped {
			cb.transitionToOpen()
		}

	case StateHalfOpen:
		cb.transitionToOpen()
	}
}

func (cb *CircuitBreaker) allowHalfOpen() bool {
	current := atomic.LoadInt32(&cb.halfOpenCounter)
	if current >= cb.halfOpenLimit {
		return false
	}

	atomic.AddInt32(&cb.halfOpenCounter, 1)
	return true
}

func (cb *CircuitBreaker) transitionToOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateOpen)) {
		atomic.CompareAndSwapInt32(&cb.state, int32(StateClosed), int32(StateOpen))
	}

	cb.lastStateChange = time.Now()
	cb.nextRetryTime = time.Now().Add(cb.config.Timeout)
	atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
	atomic.StoreInt32(&cb.halfOpenCounter, 0)

	cb.logger.Warn("circuit breaker opened",
		zap.Time("retry_after", cb.nextRetryTime),
		zap.Int32("consecutive_failures", atomic.LoadInt32(&cb.consecutiveFailures)))
}

func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.CompareAndSwapInt32(&cb.state, int32(StateOpen), int32(StateHalfOpen)) {
		cb.lastStateChange = time.Now()
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
		atomic.StoreInt32(&cb.halfOpenCounter, 0)

		cb.logger.Info("circuit breaker half-open")
	}
}

func (cb *CircuitBreaker) transitionToClosed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if atomic.CompareAndSwapInt32(&cb.state, int32(StateHalfOpen), int32(StateClosed)) {
		cb.lastStateChange = time.Now()
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.halfOpenCounter, 0)

		cb.logger.Info("circuit breaker closed")
	}
}

// GetState returns the current state and window statistics.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	state := CircuitState(atomic.LoadInt32(&cb.state))
	stateStr := "unknown"

	switch state {
	case StateClosed:
		stateStr = "closed"
	case StateOpen:
		stateStr = "open"
	case StateHalfOpen:
		stateStr = "half_open"
	}

	stats := cb.window.GetStats()

	return CircuitBreakerState{
		State:                stateStr,
		LastStateChange:      cb.lastStateChange,
		ConsecutiveFailures:  atomic.LoadInt32(&cb.consecutiveFailures),
		ConsecutiveSuccesses: atomic.LoadInt32(&cb.consecutiveSuccesses),
		TotalRequests:        stats.TotalRequests,
		FailedRequests:       stats.FailedRequests,
		FailureRate:          stats.FailureRate,
		NextRetryTime:        cb.nextRetryTime,
	}
}

// SlidingWindow tracks requests and failures over a time window for
// calculating failure rates.
type SlidingWindow struct {
	buckets        []int64
	failureBuckets []int64
	bucketSize     time.Duration
	windowSize     time.Duration
	currentBucket  int
	lastUpdate     time.Time
	mu             sync.RWMutex
}

// NewSlidingWindow creates a sliding window. bucketSize sets the
// granularity, windowSize the total span.
func NewSlidingWindow(bucketSize, windowSize time.Duration) *SlidingWindow {
	numBuckets := int(windowSize / bucketSize)
	return &SlidingWindow{
		buckets:        make([]int64, numBuckets),
		failureBuckets: make([]int64, numBuckets),
		bucketSize:     bucketSize,
		windowSize:     windowSize,
		lastUpdate:     time.Now(),
	}
}

// RecordRequest records one request outcome in the current bucket.
func (sw *SlidingWindow) RecordRequest(success bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.updateBuckets()

	sw.buckets[sw.currentBucket]++
	if !success {
		sw.failureBuckets[sw.currentBucket]++
	}
}

func (sw *SlidingWindow) updateBuckets() {
	now := time.Now()
	elapsed := now.Sub(sw.lastUpdate)

	if elapsed >= sw.bucketSize {
		bucketsToAdvance := int(elapsed / sw.bucketSize)
		if bucketsToAdvance > len(sw.buckets) {
			bucketsToAdvance = len(sw.buckets)
		}

		for i := 0; i < bucketsToAdvance; i++ {
			sw.currentBucket = (sw.currentBucket + 1) % len(sw.buckets)
			sw.buckets[sw.currentBucket] = 0
			sw.failureBuckets[sw.currentBucket] = 0
		}

		sw.lastUpdate = now
	}
}

// GetFailureRate returns the failure rate across the window, 0 when no
// requests have been recorded.
func (sw *SlidingWindow) GetFailureRate() float64 {
	sw.mu.RLock()
	defer sw.mu.RUnlock()

	var totalRequests, totalFailures int64
	for i := range sw.buckets {
		totalRequests += sw.buckets[i]
		totalFailures += sw.failureBuckets[i]
	}

	if totalRequests == 0 {
		return 0
	}

	return float64(totalFailures) / float64(totalRequests)
}

// GetStats returns request totals and the failure rate over the window.
func (sw *SlidingWindow) GetStats() WindowStats {
	sw.mu.RLock()
	defer sw.mu.RUnlock()

	var totalRequests, totalFailures int64
	for i := range sw.buckets {
		totalRequests += sw.buckets[i]
		totalFailures += sw.failureBuckets[i]
	}

	failureRate := float64(0)
	if totalRequests > 0 {
		failureRate = float64(totalFailures) / float64(totalRequests)
	}

	return WindowStats{
		TotalRequests:  totalRequests,
		FailedRequests: totalFailures,
		FailureRate:    failureRate,
	}
}

// CircuitBreakerState represents the current state and statistics of a circuit breaker
type CircuitBreakerState struct {
	State                string    `json:"state"`
	LastStateChange      time.Time `json:"last_state_change"`
	ConsecutiveFailures  int32     `json:"consecutive_failures"`
	ConsecutiveSuccesses int32     `json:"consecutive_successes"`
	TotalRequests        int64     `json:"total_requests"`
	FailedRequests       int64     `json:"failed_requests"`
	FailureRate          float64   `json:"failure_rate"`
	NextRetryTime        time.Time `json:"next_retry_time,omitempty"`
}

// WindowStats represents statistics collected over a sliding time window
type WindowStats struct {
	TotalRequests  int64   `json:"total_requests"`
	FailedRequests int64   `json:"failed_requests"`
	FailureRate    float64 `json:"failure_rate"`
}
