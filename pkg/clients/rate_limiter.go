package clients

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// NewRateLimiter creates a new rate limiter with the specified rate (requests per second)
// and burst size (maximum requests that can be made at once).
func NewRateLimiter(rate int, burst int) RateLimiter {
	return NewTokenBucketRateLimiter(float64(rate), burst)
}

// RateLimiter defines the interface for rate limiting implementations.
// It supports immediate checks, blocking waits, and future reservations.
type RateLimiter interface {
	// Allow checks if a request is allowed
	Allow() bool

	// Wait blocks until a request is allowed
	Wait(ctx context.Context) error

	// Reserve reserves a future request
	Reserve() Reservation

	// SetRate updates the rate limit
	SetRate(rate float64)

	// SetBurst updates the burst size
	SetBurst(burst int)

	// GetStats returns rate limiter statistics
	GetStats() RateLimiterStats
}

// Reservation represents a rate limiter reservation for future use.
// It allows checking validity, delay time, and cancellation.
type Reservation interface {
	// OK returns whether the reservation is valid
	OK() bool

	// Delay returns the delay before the request can proceed
	Delay() time.Duration

	// Cancel cancels the reservation
	Cancel()
}

// RateLimiterStats provides detailed statistics about rate limiter performance
// and current state for monitoring and debugging.
type RateLimiterStats struct {
	Rate            float64       `json:"rate"`
	Burst           int           `json:"burst"`
	AllowedRequests int64         `json:"allowed_requests"`
	BlockedRequests int64         `json:"blocked_requests"`
	CurrentTokens   float64       `json:"current_tokens"`
	LastRefill      time.Time     `json:"last_refill"`
	AverageWaitTime time.Duration `json:"average_wait_time"`
}

// TokenBucketRateLimiter implements the token bucket algorithm for rate limiting.
// Tokens are added at a constant rate and consumed by requests.
type TokenBucketRateLimiter struct {
	rate     float64
	burst    int
	tokens   float64
	lastTime time.Time

	// Stats
	allowedRequests int64
	blockedRequests int64
	totalWaitTime   int64

	mu sync.Mutex
}

// NewTokenBucketRateLimiter creates a new token bucket rate limiter with the specified
// rate (tokens per second) and burst capacity (maximum tokens).
func NewTokenBucketRateLimiter(rate float64, burst int) *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		rate:     rate,
		burst:    burst,
		tokens:   float64(burst),
		lastTime: time.Now(),
	}
}

// Allow checks if a request is allowed immediately.
// Returns true if a token is available and consumes it, false otherwise.
func (tb *TokenBucketRateLimiter) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= 1.0 {
		tb.tokens--
		atomic.AddInt64(&tb.allowedRequests, 1)
		return true
	}

	atomic.AddInt64(&tb.blockedRequests, 1)
	return false
}

// Wait blocks until a request is allowed
func (tb *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	start := time.Now()

	for {
		tb.mu.Lock()
		tb.refill()

		if tb.tokens >= 1.0 {
			tb.tokens--
			atomic.AddInt64(&tb.allowedRequests, 1)
			atomic.AddInt64(&tb.totalWaitTime, time.Since(start).Nanoseconds())
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time
		deficit := 1.0 - tb.tokens
		waitTime := time.Duration(deficit / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		// Wait with context
		timer := time.NewTimer(waitTime)
		defer timer.Stop()

		select {
		case <-timer.C:
			continue
		case <-ctx.Done():
			atomic.AddInt64(&tb.blockedRequests, 1)
			return ctx.Err()
		}
	}
}

// Reserve reserves a future request
func (tb *TokenBucketRateLimiter) Reserve() Reservation {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	now := time.Now()

	if tb.tokens >= 1.0 {
		tb.tokens--
		atomic.AddInt64(&tb.allowedRequests, 1)
		return &tokenReservation{
			ok:    true,
			delay: 0,
			at:    now,
		}
	}

	// Calculate when token will be available
	deficit := 1.0 - tb.tokens
	delay := time.Duration(deficit / tb.rate * float64(time.Second))

	// Reserve the token
	tb.tokens = 0

	return &tokenReservation{
		ok:      true,
		delay:   delay,
		at:      now.Add(delay),
		limiter: tb,
	}
}

// refill adds tokens based on elapsed time
func (tb *TokenBucketRateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastTime).Seconds()

	tb.tokens += elapsed * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}

	tb.lastTime = now
}

// SetRate updates the rate limit
func (tb *TokenBucketRateLimiter) SetRate(rate float64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.rate = rate
}

// SetBurst updates the burst size
func (tb *TokenBucketRateLimiter) SetBurst(burst int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.burst = burst
	if tb.tokens > float64(burst) {
		tb.tokens = float64(burst)
	}
}

// GetStats returns rate limiter statistics
func (tb *TokenBucketRateLimiter) GetStats() RateLimiterStats {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	allowed := atomic.LoadInt64(&tb.allowedRequests)
	blocked := atomic.LoadInt64(&tb.blockedRequests)
	totalWait := atomic.LoadInt64(&tb.totalWaitTime)

	avgWait := time.Duration(0)
	if allowed > 0 {
		avgWait = time.Duration(totalWait / allowed)
	}

	return RateLimiterStats{
		Rate:            tb.rate,
		Burst:           tb.burst,
		AllowedRequests: allowed,
		BlockedRequests: blocked,
		CurrentTokens:   tb.tokens,
		LastRefill:      tb.lastTime,
		AverageWaitTime: avgWait,
	}
}

// tokenReservation implements the Reservation interface
type tokenReservation struct {
	ok        bool
	delay     time.Duration
	at        time.Time
	limiter   *TokenBucketRateLimiter
	canceled bool
	mu        sync.Mutex
}

func (r *tokenReservation) OK() bool {
	return r.ok && !r.canceled
}

func (r *tokenReservation) Delay() time.Duration {
	return r.delay
}

func (r *tokenReservation) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.canceled && r.delay > 0 {
		r.canceled = true
		// Return the reserved token
		if r.limiter != nil {
			r.limiter.mu.Lock()
			r.limiter.tokens++
			r.limiter.mu.Unlock()
		}
	}
}

// AdaptiveRateLimiter wraps a token bucket whose rate follows observed
// upstream health: sustained errors or slow responses shrink the rate
// multiplicatively, a quiet window grows it back toward its ceiling. The
// client feeds it one RecordResponse per request.
type AdaptiveRateLimiter struct {
	baseRate float64
	floor    float64
	ceiling  float64

	window           *responseWindow
	errorThreshold   float64
	latencyThreshold time.Duration

	limiter *TokenBucketRateLimiter

	mu             sync.Mutex
	currentRate    float64
	lastAdaptation time.Time
	adaptations    int64
}

const (
	adaptationCooldown = 5 * time.Second
	rateGrowthFactor   = 1.1
	rateDecayFactor    = 0.9
)

// NewAdaptiveRateLimiter creates a limiter starting at baseRate. The rate
// floats between 10% and 200% of baseRate.
func NewAdaptiveRateLimiter(baseRate float64, burst int) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		baseRate:         baseRate,
		currentRate:      baseRate,
		floor:            baseRate * 0.1,
		ceiling:          baseRate * 2.0,
		errorThreshold:   0.05,
		latencyThreshold: time.Second,
		window:           newResponseWindow(60 * time.Second),
		limiter:          NewTokenBucketRateLimiter(baseRate, burst),
		lastAdaptation:   time.Now(),
	}
}

// Allow checks if a request is allowed under the current adapted rate.
func (ar *AdaptiveRateLimiter) Allow() bool {
	ar.maybeAdapt()
	return ar.limiter.Allow()
}

// Wait blocks until a request is allowed under the current adapted rate.
func (ar *AdaptiveRateLimiter) Wait(ctx context.Context) error {
	ar.maybeAdapt()
	return ar.limiter.Wait(ctx)
}

// Reserve reserves a future request.
func (ar *AdaptiveRateLimiter) Reserve() Reservation {
	ar.maybeAdapt()
	return ar.limiter.Reserve()
}

// RecordResponse feeds one request outcome into the observation window.
func (ar *AdaptiveRateLimiter) RecordResponse(latency time.Duration, success bool) {
	ar.window.record(latency, success)
}

func (ar *AdaptiveRateLimiter) maybeAdapt() {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if time.Since(ar.lastAdaptation) < adaptationCooldown {
		return
	}

	stats := ar.window.stats()
	if stats.Count == 0 {
		return
	}

	var newRate float64
	switch {
	case stats.ErrorRate > ar.errorThreshold || stats.P95Latency > ar.latencyThreshold:
		newRate = ar.currentRate * rateDecayFactor
		if newRate < ar.floor {
			newRate = ar.floor
		}
	case stats.ErrorRate < ar.errorThreshold/2 && stats.P95Latency < ar.latencyThreshold/2:
		newRate = ar.currentRate * rateGrowthFactor
		if newRate > ar.ceiling {
			newRate = ar.ceiling
		}
	default:
		return
	}

	if newRate == ar.currentRate {
		return
	}
	ar.currentRate = newRate
	ar.limiter.SetRate(newRate)
	ar.adaptations++
	ar.lastAdaptation = time.Now()
}

// SetRate resets the base rate; floor and ceiling are re-derived from it.
func (ar *AdaptiveRateLimiter) SetRate(rate float64) {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	ar.baseRate = rate
	ar.currentRate = rate
	ar.floor = rate * 0.1
	ar.ceiling = rate * 2.0
	ar.limiter.SetRate(rate)
}

// SetBurst updates the burst size of the underlying bucket.
func (ar *AdaptiveRateLimiter) SetBurst(burst int) {
	ar.limiter.SetBurst(burst)
}

// GetStats returns the underlying bucket's statistics carrying the current
// adapted rate.
func (ar *AdaptiveRateLimiter) GetStats() RateLimiterStats {
	ar.mu.Lock()
	current := ar.currentRate
	ar.mu.Unlock()

	stats := ar.limiter.GetStats()
	stats.Rate = current
	return stats
}

// responseWindow is a fixed-size ring of recent request outcomes, aged out
// by a wall-clock horizon when read.
type responseWindow struct {
	mu      sync.Mutex
	samples []responseSample
	next    int
	horizon time.Duration
}

type responseSample struct {
	latency time.Duration
	success bool
	at      time.Time
}

const responseWindowSize = 1000

func newResponseWindow(horizon time.Duration) *responseWindow {
	return &responseWindow{
		samples: make([]responseSample, responseWindowSize),
		horizon: horizon,
	}
}

func (w *responseWindow) record(latency time.Duration, success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = responseSample{latency: latency, success: success, at: time.Now()}
	w.next = (w.next + 1) % len(w.samples)
}

func (w *responseWindow) stats() ResponseTimeStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := time.Now().Add(-w.horizon)

	var latencies []time.Duration
	var failures int
	for _, sample := range w.samples {
		if sample.at.IsZero() || !sample.at.After(cutoff) {
			continue
		}
		latencies = append(latencies, sample.latency)
		if !sample.success {
			failures++
		}
	}

	if len(latencies) == 0 {
		return ResponseTimeStats{}
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	return ResponseTimeStats{
		Count:       len(latencies),
		ErrorRate:   float64(failures) / float64(len(latencies)),
		P95Latency:  percentileOf(sorted, 0.95),
		P99Latency:  percentileOf(sorted, 0.99),
		MeanLatency: sum / time.Duration(len(latencies)),
	}
}

// percentileOf reads a percentile from an ascending-sorted slice.
func percentileOf(sorted []time.Duration, percentile float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	index := int(float64(len(sorted)-1) * percentile)
	return sorted[index]
}

// ResponseTimeStats summarizes the recent outcome window.
type ResponseTimeStats struct {
	Count       int           `json:"count"`
	ErrorRate   float64       `json:"error_rate"`
	P95Latency  time.Duration `json:"p95_latency"`
	P99Latency  time.Duration `json:"p99_latency"`
	MeanLatency time.Duration `json:"mean_latency"`
}
