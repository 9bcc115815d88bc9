// Package pipeline moves records from a source connector to a destination
// connector. It is the host side of an extraction run: the source owns
// pagination and checkpointing, the destination owns persistence, and the
// pipeline owns the channel topology between them.
//
// Topology: source reader → transform workers → batch collector →
// destination writer, connected by bounded channels. A flush ticker keeps
// tail records from sitting in a partially filled batch. Source errors are
// collected rather than aborting the whole run, because one failed stream
// must not discard the records other streams already produced; the first
// error is returned when the run finishes so the process can exit non-zero.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/errors"
	"github.com/ajitpratap0/hubble/pkg/metrics"
	"github.com/ajitpratap0/hubble/pkg/pool"
)

// Config controls the pipeline's channel and worker sizing.
type Config struct {
	// BatchSize is the number of records per destination batch
	BatchSize int
	// Workers is the number of parallel transform workers
	Workers int
	// FlushInterval bounds how long a partial batch may wait
	FlushInterval time.Duration
}

// DefaultConfig returns sizing that suits a single paginated API stream.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:     1000,
		Workers:       2,
		FlushInterval: 5 * time.Second,
	}
}

// Transform mutates or filters a record in flight. Returning a nil record
// drops it from the run; transforms apply in the order they were added.
type Transform func(ctx context.Context, record *pool.Record) (*pool.Record, error)

// Pipeline drives one extraction run from source to destination.
type Pipeline struct {
	source      core.Source
	destination core.Destination
	transforms  []Transform

	batchSize     int
	workers       int
	flushInterval time.Duration

	logger     *zap.Logger
	throughput *metrics.ThroughputTracker

	recordsMoved   int64
	recordsDropped int64
	startTime      time.Time

	mu       sync.Mutex
	firstErr error
	errCount int
}

// New creates a pipeline. Both connectors must already be initialized.
func New(source core.Source, destination core.Destination, cfg *Config, logger *zap.Logger) *Pipeline {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}

	return &Pipeline{
		source:        source,
		destination:   destination,
		batchSize:     cfg.BatchSize,
		workers:       cfg.Workers,
		flushInterval: cfg.FlushInterval,
		logger:        logger,
	}
}

// AddTransform appends a transform stage. Must be called before Run.
func (p *Pipeline) AddTransform(t Transform) {
	p.transforms = append(p.transforms, t)
}

// Run executes the pipeline until the source is exhausted or ctx is
// cancelled. It blocks, then returns the first error any stage reported.
// Partial progress survives an error: the source's state reflects its last
// committed page regardless of how the run ended.
func (p *Pipeline) Run(ctx context.Context) error {
	p.startTime = time.Now()
	p.throughput = metrics.NewThroughputTracker(
		connectorName(p.source), connectorName(p.destination))

	p.logger.Info("pipeline starting",
		zap.Int("batch_size", p.batchSize),
		zap.Int("workers", p.workers),
		zap.Duration("flush_interval", p.flushInterval),
		zap.Int("transforms", len(p.transforms)))

	records := make(chan *pool.Record, p.batchSize*2)
	transformed := make(chan *pool.Record, p.batchSize*2)
	batches := make(chan []*pool.Record, 10)

	var stages sync.WaitGroup

	stages.Add(1)
	go func() {
		defer stages.Done()
		p.readSource(ctx, records)
	}()

	var workerWg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		workerWg.Add(1)
		go func(id int) {
			defer workerWg.Done()
			p.transformWorker(ctx, id, records, transformed)
		}(i)
	}
	go func() {
		workerWg.Wait()
		close(transformed)
	}()

	stages.Add(1)
	go func() {
		defer stages.Done()
		p.collectBatches(ctx, transformed, batches)
	}()

	stages.Add(1)
	go func() {
		defer stages.Done()
		p.writeDestination(ctx, batches)
	}()

	stages.Wait()

	duration := time.Since(p.startTime)
	moved := atomic.LoadInt64(&p.recordsMoved)
	p.logger.Info("pipeline finished",
		zap.Int64("records_moved", moved),
		zap.Int64("records_dropped", atomic.LoadInt64(&p.recordsDropped)),
		zap.Int("errors", p.errorCount()),
		zap.Duration("duration", duration),
		zap.Float64("throughput_rps", float64(moved)/duration.Seconds()))

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.firstErr
}

// readSource drains the source's record stream into the pipeline. The error
// channel is serviced alongside the record channel so a stream failure
// cannot stall emission from the streams still running.
func (p *Pipeline) readSource(ctx context.Context, out chan<- *pool.Record) {
	defer close(out)

	stream, err := p.source.Read(ctx)
	if err != nil {
		p.reportError(errors.Wrap(err, errors.ErrorTypeConnection, "source read failed to start"))
		return
	}

	in, errs := stream.Records, stream.Errors
	for in != nil || errs != nil {
		select {
		case record, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			select {
			case out <- record:
			case <-ctx.Done():
				record.Release()
				return
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				p.reportError(err)
			}

		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) transformWorker(ctx context.Context, id int, in <-chan *pool.Record, out chan<- *pool.Record) {
	for record := range in {
		result, err := p.applyTransforms(ctx, record)
		if err != nil {
			p.reportError(err)
			record.Release()
			continue
		}
		if result == nil {
			atomic.AddInt64(&p.recordsDropped, 1)
			record.Release()
			continue
		}

		select {
		case out <- result:
		case <-ctx.Done():
			result.Release()
			p.logger.Debug("transform worker cancelled", zap.Int("worker", id))
			return
		}
	}
}

func (p *Pipeline) applyTransforms(ctx context.Context, record *pool.Record) (*pool.Record, error) {
	current := record
	for i, transform := range p.transforms {
		next, err := transform(ctx, current)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "transform failed").
				WithDetail("stage", i).
				WithDetail("record_id", record.ID)
		}
		if next == nil {
			return nil, nil
		}
		current = next
	}
	return current, nil
}

// collectBatches groups records into destination batches. The ticker flush
// bounds how stale a record can get when the source trickles.
func (p *Pipeline) collectBatches(ctx context.Context, in <-chan *pool.Record, out chan<- []*pool.Record) {
	defer close(out)

	batch := pool.GetBatchSlice(p.batchSize)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		select {
		case out <- batch:
			batch = pool.GetBatchSlice(p.batchSize)
			return true
		case <-ctx.Done():
			pool.PutBatchSlice(batch)
			batch = nil
			return false
		}
	}

	for {
		select {
		case record, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, record)
			if len(batch) >= p.batchSize {
				if !flush() {
					return
				}
			}

		case <-ticker.C:
			p.throughput.GetAndReset()
			if !flush() {
				return
			}

		case <-ctx.Done():
			pool.PutBatchSlice(batch)
			return
		}
	}
}

// batchExecutor is the protection surface every connector built on the
// shared base exposes. The pipeline routes each batch write through it so
// destination writes get the same retry, breaker, and rate-limit treatment
// as source reads.
type batchExecutor interface {
	RateLimit(ctx context.Context) error
	ExecuteWithRetry(ctx context.Context, fn func() error) error
	ExecuteWithCircuitBreaker(fn func() error) error
}

// writeDestination delivers collected batches to the destination, one
// WriteBatch call per batch. WriteBatch owns the records it receives; the
// pipeline only counts them on the way through.
func (p *Pipeline) writeDestination(ctx context.Context, in <-chan []*pool.Record) {
	executor, _ := p.destination.(batchExecutor)

	for batch := range in {
		select {
		case <-ctx.Done():
			pool.PutBatchSlice(batch)
			return
		default:
		}

		n := int64(len(batch))
		if err := p.writeBatch(ctx, executor, batch); err != nil {
			p.reportError(errors.Wrap(err, errors.ErrorTypeConnection, "destination write failed"))
			metrics.RecordsProcessed.WithLabelValues(
				connectorName(p.source), connectorName(p.destination), "error").Add(float64(n))
			continue
		}

		atomic.AddInt64(&p.recordsMoved, n)
		p.throughput.Increment(n)
		metrics.RecordsProcessed.WithLabelValues(
			connectorName(p.source), connectorName(p.destination), "success").Add(float64(n))
	}
}

// writeBatch runs one WriteBatch call under the destination's own
// protections: rate limit first, then retry around the breaker. A
// destination that does not expose the executor surface is written to
// directly.
func (p *Pipeline) writeBatch(ctx context.Context, executor batchExecutor, batch []*pool.Record) error {
	write := func() error {
		batches := make(chan []*pool.Record, 1)
		batches <- batch
		close(batches)
		return p.destination.WriteBatch(ctx, &core.BatchStream{Batches: batches})
	}

	if executor == nil {
		return write()
	}
	if err := executor.RateLimit(ctx); err != nil {
		return err
	}
	return executor.ExecuteWithRetry(ctx, func() error {
		return executor.ExecuteWithCircuitBreaker(write)
	})
}

func (p *Pipeline) reportError(err error) {
	p.logger.Error("pipeline error", zap.Error(err))
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errCount++
	if p.firstErr == nil {
		p.firstErr = err
	}
}

func (p *Pipeline) errorCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errCount
}

// Metrics returns a point-in-time snapshot of the run.
func (p *Pipeline) Metrics() map[string]interface{} {
	duration := time.Since(p.startTime)
	moved := atomic.LoadInt64(&p.recordsMoved)

	return map[string]interface{}{
		"records_moved":   moved,
		"records_dropped": atomic.LoadInt64(&p.recordsDropped),
		"errors":          p.errorCount(),
		"duration":        duration.String(),
		"throughput_rps":  float64(moved) / duration.Seconds(),
		"batch_size":      p.batchSize,
		"workers":         p.workers,
	}
}

func connectorName(c core.Connector) string {
	type named interface{ Name() string }
	if n, ok := c.(named); ok {
		return n.Name()
	}
	return "connector"
}
