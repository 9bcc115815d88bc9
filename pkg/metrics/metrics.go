// Package metrics provides performance tracking and observability for Hubble
// using Prometheus metrics. It offers collectors for the extraction loop
// (pages, records, retries, sanitized payloads) and for the pipeline that
// moves extracted records into destinations.
//
// # Basic Usage
//
//	// Count an extracted page and its records
//	metrics.PagesFetched.WithLabelValues("vacancies").Inc()
//	metrics.RecordsExtracted.WithLabelValues("vacancies").Add(float64(len(records)))
//
//	// Track a page request
//	timer := metrics.NewTimer("page_request")
//	resp, err := client.Do(req)
//	metrics.PageRequestDuration.WithLabelValues("vacancies").Observe(timer.Stop().Seconds())
//
// All metrics use the hubble_ prefix and are registered automatically via
// promauto. Recording is thread-safe.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesFetched counts fully processed pages per stream. A page counts
	// only after its records were emitted and the cursor advanced.
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubble_pages_fetched_total",
			Help: "Total number of pages fetched and committed",
		},
		[]string{"stream"},
	)

	// RecordsExtracted counts records emitted downstream per stream.
	RecordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubble_records_extracted_total",
			Help: "Total number of records extracted",
		},
		[]string{"stream"},
	)

	// Retries counts page-request retries by cause. reason is one of
	// rate_limit, server_error, transport.
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubble_retries_total",
			Help: "Total number of page request retries",
		},
		[]string{"stream", "reason"},
	)

	// NullBytesRemoved counts null-codepoint occurrences the sanitizer
	// stripped from raw payloads.
	NullBytesRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubble_null_bytes_removed_total",
			Help: "Total null-byte occurrences removed from responses",
		},
		[]string{"stream"},
	)

	// PageRequestDuration tracks wall time of individual page requests,
	// successful or not. Backoff waits are not included.
	PageRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hubble_page_request_duration_seconds",
			Help:    "Duration of individual page requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"stream"},
	)

	// HighWaterMarkAge reports how far behind real time the committed
	// high-water mark of each stream is.
	HighWaterMarkAge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hubble_high_water_mark_age_seconds",
			Help: "Age of the committed high-water mark",
		},
		[]string{"stream"},
	)

	// RecordsProcessed tracks records moved through pipelines.
	// Labels: source, destination, status (success/failure).
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubble_records_processed_total",
			Help: "Total number of records processed",
		},
		[]string{"source", "destination", "status"},
	)

	// ProcessingLatency tracks the distribution of pipeline stage latencies
	// in nanoseconds. Buckets cover memory operations up to large batches.
	ProcessingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "hubble_processing_latency_nanoseconds",
			Help: "Processing latency in nanoseconds",
			Buckets: []float64{
				1000,  // 1μs - memory operations
				10000, // 10μs - fast I/O
				1e5,   // 100μs - network operations
				1e6,   // 1ms - standard processing
				1e7,   // 10ms - transformations
				1e8,   // 100ms - batch operations
				1e9,   // 1s - large batches
			},
		},
		[]string{"operation", "source", "destination"},
	)

	// QueueDepth tracks channel backlogs inside the pipeline.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hubble_queue_depth",
			Help: "Current queue depth",
		},
		[]string{"queue_name"},
	)

	// ActiveStreams tracks streams currently extracting.
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hubble_active_streams",
			Help: "Number of streams currently extracting",
		},
	)

	// Throughput tracks records per second per pipeline.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hubble_throughput_records_per_second",
			Help: "Current throughput in records per second",
		},
		[]string{"source", "destination"},
	)

	// componentEvents backs Collector.RecordCounter for ad-hoc component
	// counters (errors, writes, flushes).
	componentEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubble_component_events_total",
			Help: "Component-level event counts",
		},
		[]string{"component", "event", "type"},
	)

	// componentValues backs Collector.RecordGauge.
	componentValues = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hubble_component_value",
			Help: "Component-level gauge values",
		},
		[]string{"component", "name"},
	)
)

// ObserveHighWaterMark parses an ISO-8601 high-water mark and publishes its
// age for the stream. Unparseable marks are skipped; the gauge is strictly
// informational.
func ObserveHighWaterMark(stream, mark string) {
	if mark == "" {
		return
	}
	ts, err := time.Parse(time.RFC3339, mark)
	if err != nil {
		return
	}
	HighWaterMarkAge.WithLabelValues(stream).Set(time.Since(ts).Seconds())
}

// Collector provides a per-component metrics recording interface. Components
// create one with their name and use it for ad-hoc counters and gauges; the
// name becomes the component label.
type Collector struct {
	name      string
	startTime time.Time
}

// NewCollector creates a new metrics collector for a component.
//
// Example:
//
//	collector := metrics.NewCollector("jsonl_destination")
//	collector.RecordCounter("errors", 1, "type", "stream_error")
func NewCollector(name string) *Collector {
	return &Collector{
		name:      name,
		startTime: time.Now(),
	}
}

// StartTime returns when the collector was created.
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// RecordCounter increments a component counter. Labels are key-value pairs;
// only the "type" key is exported, other keys are ignored.
func (c *Collector) RecordCounter(name string, value float64, labels ...string) {
	componentEvents.WithLabelValues(c.name, name, labelValue(labels, "type")).Add(value)
}

// RecordGauge sets a component gauge.
func (c *Collector) RecordGauge(name string, value float64, labels ...string) {
	componentValues.WithLabelValues(c.name, name).Set(value)
}

// RecordHistogram observes a pipeline latency value in nanoseconds under the
// component's name.
func (c *Collector) RecordHistogram(name string, value float64, labels ...string) {
	ProcessingLatency.WithLabelValues(name, c.name, labelValue(labels, "destination")).Observe(value)
}

func labelValue(labels []string, key string) string {
	for i := 0; i+1 < len(labels); i += 2 {
		if labels[i] == key {
			return labels[i+1]
		}
	}
	return ""
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed duration since creation. The timer can be stopped
// multiple times, each returning the total elapsed time since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks records per second over reporting windows.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu          sync.Mutex
	count       int64
	lastReset   time.Time
	source      string
	destination string
}

// NewThroughputTracker creates a throughput tracker for a pipeline. The
// source and destination names become metric labels.
func NewThroughputTracker(source, destination string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset:   time.Now(),
		source:      source,
		destination: destination,
	}
}

// Increment adds n to the record count. Safe for concurrent use.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the throughput since the last reset, publishes it
// to the Throughput gauge, resets the window and returns the value.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed
	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.source, t.destination).Set(throughput)

	return throughput
}
