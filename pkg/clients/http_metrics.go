package clients

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// HTTPMetrics tracks client performance in-process: request counts,
// latencies, and error rates. Cross-process visibility goes through the
// Prometheus collectors in pkg/metrics; this tracker backs the client's own
// stats snapshot.
type HTTPMetrics struct {
	totalRequests      int64
	successfulRequests int64
	failedRequests     int64

	// Latency tracking
	latencyBuckets map[string]*LatencyBucket
	latencySamples []time.Duration
	sampleIndex    int
	maxSamples     int

	// Rate tracking
	requestsPerSecond float64
	lastRateCalc      time.Time
	rateWindow        []int64

	// Error tracking
	errorsByType map[string]int64

	mu sync.RWMutex
}

// LatencyBucket tracks latency statistics for specific endpoints,
// maintaining samples for percentile calculations.
type LatencyBucket struct {
	host         string
	method       string
	count        int64
	totalLatency int64
	minLatency   time.Duration
	maxLatency   time.Duration
	samples      []time.Duration
}

// NewHTTPMetrics creates a metrics tracker with pre-allocated sample
// buffers.
func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		latencyBuckets: make(map[string]*LatencyBucket),
		latencySamples: make([]time.Duration, 1000), // Keep last 1000 samples
		maxSamples:     1000,
		errorsByType:   make(map[string]int64),
		rateWindow:     make([]int64, 60), // 60-second window
		lastRateCalc:   time.Now(),
	}
}

// RecordRequest records metrics for an HTTP request including its method,
// host, latency, and whether it succeeded or failed.
func (hm *HTTPMetrics) RecordRequest(method, host string, latency time.Duration, err error) {
	atomic.AddInt64(&hm.totalRequests, 1)

	hm.updateRequestRate()

	if err != nil {
		atomic.AddInt64(&hm.failedRequests, 1)
		hm.recordError(err)
	} else {
		atomic.AddInt64(&hm.successfulRequests, 1)
	}

	hm.recordLatency(method, host, latency)
}

func (hm *HTTPMetrics) recordLatency(method, host string, latency time.Duration) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.latencySamples[hm.sampleIndex] = latency
	hm.sampleIndex = (hm.sampleIndex + 1) % hm.maxSamples

	key := method + ":" + host
	bucket, exists := hm.latencyBuckets[key]
	if !exists {
		bucket = &LatencyBucket{
			host:       host,
			method:     method,
			minLatency: latency,
			maxLatency: latency,
			samples:    make([]time.Duration, 0, 100),
		}
		hm.latencyBuckets[key] = bucket
	}

	bucket.count++
	bucket.totalLatency += int64(latency)

	if latency < bucket.minLatency {
		bucket.minLatency = latency
	}
	if latency > bucket.maxLatency {
		bucket.maxLatency = latency
	}

	// Keep last 100 samples per endpoint
	if len(bucket.samples) >= 100 {
		bucket.samples = bucket.samples[1:]
	}
	bucket.samples = append(bucket.samples, latency)
}

func (hm *HTTPMetrics) recordError(err error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	errorType := "unknown"
	if err != nil {
		errorType = err.Error()
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
	}

	hm.errorsByType[errorType]++
}

func (hm *HTTPMetrics) updateRequestRate() {
	now := time.Now()
	second := now.Unix() % 60

	hm.mu.Lock()
	defer hm.mu.Unlock()

	if now.Sub(hm.lastRateCalc) >= time.Second {
		hm.rateWindow[second] = 0
		hm.lastRateCalc = now

		var total int64
		for _, count := range hm.rateWindow {
			total += count
		}
		hm.requestsPerSecond = float64(total) / 60.0
	}

	hm.rateWindow[second]++
}

// GetAverageLatency returns the average latency over the sample buffer.
func (hm *HTTPMetrics) GetAverageLatency() time.Duration {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	var total time.Duration
	var count int

	for _, sample := range hm.latencySamples {
		if sample > 0 {
			total += sample
			count++
		}
	}

	if count == 0 {
		return 0
	}

	return total / time.Duration(count)
}

// GetP95Latency returns the 95th percentile latency
func (hm *HTTPMetrics) GetP95Latency() time.Duration {
	return hm.getPercentileLatency(0.95)
}

// GetP99Latency returns the 99th percentile latency
func (hm *HTTPMetrics) GetP99Latency() time.Duration {
	return hm.getPercentileLatency(0.99)
}

func (hm *HTTPMetrics) getPercentileLatency(percentile float64) time.Duration {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	validSamples := make([]time.Duration, 0, len(hm.latencySamples))
	for _, sample := range hm.latencySamples {
		if sample > 0 {
			validSamples = append(validSamples, sample)
		}
	}

	if len(validSamples) == 0 {
		return 0
	}

	sort.Slice(validSamples, func(i, j int) bool {
		return validSamples[i] < validSamples[j]
	})

	index := int(float64(len(validSamples)-1) * percentile)
	return validSamples[index]
}

// GetEndpointMetrics returns metrics for a specific endpoint
func (hm *HTTPMetrics) GetEndpointMetrics(method, host string) EndpointMetrics {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	key := method + ":" + host
	bucket, exists := hm.latencyBuckets[key]
	if !exists {
		return EndpointMetrics{}
	}

	avgLatency := time.Duration(0)
	if bucket.count > 0 {
		avgLatency = time.Duration(bucket.totalLatency) / time.Duration(bucket.count)
	}

	return EndpointMetrics{
		Host:           host,
		Method:         method,
		RequestCount:   bucket.count,
		AverageLatency: avgLatency,
		MinLatency:     bucket.minLatency,
		MaxLatency:     bucket.maxLatency,
	}
}

// GetRequestRate returns the current request rate per second
func (hm *HTTPMetrics) GetRequestRate() float64 {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.requestsPerSecond
}

// GetErrorStats returns error counts keyed by truncated error text.
func (hm *HTTPMetrics) GetErrorStats() map[string]int64 {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	errorsCopy := make(map[string]int64)
	for errorType, count := range hm.errorsByType {
		errorsCopy[errorType] = count
	}

	return errorsCopy
}

// Reset resets all metrics
func (hm *HTTPMetrics) Reset() {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	atomic.StoreInt64(&hm.totalRequests, 0)
	atomic.StoreInt64(&hm.successfulRequests, 0)
	atomic.StoreInt64(&hm.failedRequests, 0)

	hm.latencyBuckets = make(map[string]*LatencyBucket)
	hm.latencySamples = make([]time.Duration, hm.maxSamples)
	hm.sampleIndex = 0
	hm.errorsByType = make(map[string]int64)
	hm.rateWindow = make([]int64, 60)
}

// EndpointMetrics represents metrics for a specific endpoint
type EndpointMetrics struct {
	Host           string        `json:"host"`
	Method         string        `json:"method"`
	RequestCount   int64         `json:"request_count"`
	AverageLatency time.Duration `json:"average_latency"`
	MinLatency     time.Duration `json:"min_latency"`
	MaxLatency     time.Duration `json:"max_latency"`
}
