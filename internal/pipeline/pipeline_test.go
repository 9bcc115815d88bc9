package pipeline

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/base"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/errors"
	"github.com/ajitpratap0/hubble/pkg/pool"
)

// stubSource produces a fixed set of records, optionally followed by an
// error on the stream's error channel.
type stubSource struct {
	count     int
	streamErr error
}

func (s *stubSource) Initialize(context.Context, *config.BaseConfig) error { return nil }
func (s *stubSource) Health(context.Context) (*core.HealthStatus, error) {
	return &core.HealthStatus{Status: "healthy"}, nil
}
func (s *stubSource) Metrics() map[string]interface{}          { return nil }
func (s *stubSource) Close(context.Context) error              { return nil }
func (s *stubSource) Discover(context.Context) (*core.Schema, error) {
	return &core.Schema{Name: "stub"}, nil
}
func (s *stubSource) GetPosition() core.Position          { return nil }
func (s *stubSource) SetPosition(core.Position) error     { return nil }
func (s *stubSource) GetState() core.State                { return core.State{} }
func (s *stubSource) SetState(core.State) error           { return nil }
func (s *stubSource) SupportsIncremental() bool           { return false }
func (s *stubSource) SupportsBatch() bool                 { return false }
func (s *stubSource) Name() string                        { return "stub-source" }

func (s *stubSource) Read(ctx context.Context) (*core.RecordStream, error) {
	records := make(chan *pool.Record, s.count)
	errs := make(chan error, 1)
	go func() {
		defer close(records)
		defer close(errs)
		for i := 0; i < s.count; i++ {
			record := pool.GetRecord()
			record.ID = strconv.Itoa(i)
			record.Data["n"] = i
			select {
			case records <- record:
			case <-ctx.Done():
				record.Release()
				return
			}
		}
		if s.streamErr != nil {
			errs <- s.streamErr
		}
	}()
	return &core.RecordStream{Records: records, Errors: errs}, nil
}

func (s *stubSource) ReadBatch(context.Context, int) (*core.BatchStream, error) {
	return nil, errors.New(errors.ErrorTypeConfig, "not supported")
}

// stubDestination counts the records it receives.
type stubDestination struct {
	mu       sync.Mutex
	received int
	writeErr error
}

func (d *stubDestination) Initialize(context.Context, *config.BaseConfig) error { return nil }
func (d *stubDestination) Health(context.Context) (*core.HealthStatus, error) {
	return &core.HealthStatus{Status: "healthy"}, nil
}
func (d *stubDestination) Metrics() map[string]interface{}                  { return nil }
func (d *stubDestination) Close(context.Context) error                      { return nil }
func (d *stubDestination) CreateSchema(context.Context, *core.Schema) error { return nil }
func (d *stubDestination) Write(context.Context, *core.RecordStream) error  { return nil }
func (d *stubDestination) Upsert(context.Context, []*pool.Record, []string) error {
	return errors.New(errors.ErrorTypeConfig, "not supported")
}
func (d *stubDestination) SupportsBatch() bool     { return true }
func (d *stubDestination) SupportsStreaming() bool { return true }
func (d *stubDestination) SupportsUpsert() bool    { return false }
func (d *stubDestination) Name() string            { return "stub-destination" }

func (d *stubDestination) WriteBatch(ctx context.Context, stream *core.BatchStream) error {
	for batch := range stream.Batches {
		d.mu.Lock()
		d.received += len(batch)
		d.mu.Unlock()
		pool.PutBatchSlice(batch)
	}
	return d.writeErr
}

func (d *stubDestination) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.received
}

func TestPipelineMovesAllRecords(t *testing.T) {
	source := &stubSource{count: 2500}
	dest := &stubDestination{}

	p := New(source, dest, &Config{BatchSize: 100, Workers: 2, FlushInterval: time.Second}, zaptest.NewLogger(t))
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, 2500, dest.count())
	m := p.Metrics()
	assert.Equal(t, int64(2500), m["records_moved"])
	assert.Equal(t, int64(0), m["records_dropped"])
}

func TestPipelineFlushesPartialBatches(t *testing.T) {
	// Fewer records than one batch; only the ticker or stream close can
	// flush them.
	source := &stubSource{count: 7}
	dest := &stubDestination{}

	p := New(source, dest, &Config{BatchSize: 1000, Workers: 1, FlushInterval: time.Hour}, zaptest.NewLogger(t))
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 7, dest.count())
}

func TestPipelineAppliesTransformsInOrder(t *testing.T) {
	source := &stubSource{count: 10}
	dest := &stubDestination{}

	p := New(source, dest, &Config{BatchSize: 5, Workers: 1, FlushInterval: time.Second}, zaptest.NewLogger(t))
	p.AddTransform(func(_ context.Context, r *pool.Record) (*pool.Record, error) {
		r.Data["first"] = true
		return r, nil
	})
	p.AddTransform(func(_ context.Context, r *pool.Record) (*pool.Record, error) {
		if _, ok := r.Data["first"]; !ok {
			t.Error("second transform ran before first")
		}
		return r, nil
	})

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 10, dest.count())
}

func TestPipelineDropsFilteredRecords(t *testing.T) {
	source := &stubSource{count: 10}
	dest := &stubDestination{}

	p := New(source, dest, &Config{BatchSize: 5, Workers: 1, FlushInterval: time.Second}, zaptest.NewLogger(t))
	p.AddTransform(func(_ context.Context, r *pool.Record) (*pool.Record, error) {
		n := r.Data["n"].(int)
		if n%2 == 1 {
			return nil, nil
		}
		return r, nil
	})

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 5, dest.count())

	m := p.Metrics()
	assert.Equal(t, int64(5), m["records_dropped"])
}

func TestPipelineSurfacesSourceError(t *testing.T) {
	streamErr := errors.New(errors.ErrorTypeAPI, "stream failed mid-sync")
	source := &stubSource{count: 50, streamErr: streamErr}
	dest := &stubDestination{}

	p := New(source, dest, &Config{BatchSize: 10, Workers: 1, FlushInterval: time.Second}, zaptest.NewLogger(t))
	err := p.Run(context.Background())

	// The error is surfaced, but records produced before it still land.
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAPI))
	assert.Equal(t, 50, dest.count())
}

func TestPipelineSurfacesDestinationError(t *testing.T) {
	source := &stubSource{count: 20}
	dest := &stubDestination{writeErr: errors.New(errors.ErrorTypeConnection, "disk full")}

	p := New(source, dest, &Config{BatchSize: 10, Workers: 1, FlushInterval: time.Second}, zaptest.NewLogger(t))
	err := p.Run(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

// flakyDestination is built on the shared connector base so batch writes
// run under its retry and breaker executors. The first failures writes
// fail with a transient error, then writes succeed.
type flakyDestination struct {
	*base.BaseConnector

	mu       sync.Mutex
	failures int
	calls    int
	received int
}

func newFlakyDestination(t *testing.T, failures int) *flakyDestination {
	t.Helper()

	d := &flakyDestination{
		BaseConnector: base.NewBaseConnector("flaky-destination", core.ConnectorTypeDestination, "1.0.0"),
		failures:      failures,
	}

	cfg := config.NewBaseConfig("flaky-destination", "destination")
	cfg.Reliability.HealthCheck = false
	cfg.Reliability.RetryDelay = time.Millisecond
	cfg.Reliability.RetryAttempts = 3
	require.NoError(t, d.Initialize(context.Background(), cfg))
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

func (d *flakyDestination) CreateSchema(context.Context, *core.Schema) error { return nil }
func (d *flakyDestination) Write(context.Context, *core.RecordStream) error  { return nil }
func (d *flakyDestination) Upsert(context.Context, []*pool.Record, []string) error {
	return errors.New(errors.ErrorTypeConfig, "not supported")
}
func (d *flakyDestination) SupportsBatch() bool     { return true }
func (d *flakyDestination) SupportsStreaming() bool { return true }
func (d *flakyDestination) SupportsUpsert() bool    { return false }

func (d *flakyDestination) WriteBatch(ctx context.Context, stream *core.BatchStream) error {
	d.mu.Lock()
	d.calls++
	fail := d.failures > 0
	if fail {
		d.failures--
	}
	d.mu.Unlock()

	if fail {
		// Drain so the sender is not blocked, then report the failure.
		for range stream.Batches {
		}
		return errors.New(errors.ErrorTypeTransient, "upstream hiccup")
	}

	for batch := range stream.Batches {
		d.mu.Lock()
		d.received += len(batch)
		d.mu.Unlock()
		pool.PutBatchSlice(batch)
	}
	return nil
}

// A transient destination failure is absorbed by the connector base's retry
// executor; the run still succeeds and every record lands.
func TestPipelineRetriesTransientDestinationFailure(t *testing.T) {
	source := &stubSource{count: 30}
	dest := newFlakyDestination(t, 1)

	p := New(source, dest, &Config{BatchSize: 30, Workers: 1, FlushInterval: time.Second}, zaptest.NewLogger(t))
	require.NoError(t, p.Run(context.Background()))

	dest.mu.Lock()
	defer dest.mu.Unlock()
	assert.Equal(t, 30, dest.received)
	assert.GreaterOrEqual(t, dest.calls, 2)
}

// When the destination keeps failing, the retry budget bounds the attempts
// and the run surfaces the failure.
func TestPipelineExhaustsRetriesOnPersistentDestinationFailure(t *testing.T) {
	source := &stubSource{count: 5}
	dest := newFlakyDestination(t, 100)

	p := New(source, dest, &Config{BatchSize: 10, Workers: 1, FlushInterval: time.Second}, zaptest.NewLogger(t))
	err := p.Run(context.Background())
	require.Error(t, err)

	dest.mu.Lock()
	calls := dest.calls
	dest.mu.Unlock()
	// 3 attempts for the single batch, not 3 per failure.
	assert.Equal(t, 3, calls)
}

func TestPipelineTransformErrorSkipsRecordOnly(t *testing.T) {
	source := &stubSource{count: 10}
	dest := &stubDestination{}

	p := New(source, dest, &Config{BatchSize: 5, Workers: 1, FlushInterval: time.Second}, zaptest.NewLogger(t))
	p.AddTransform(func(_ context.Context, r *pool.Record) (*pool.Record, error) {
		if r.Data["n"].(int) == 3 {
			return nil, errors.New(errors.ErrorTypeData, "bad record")
		}
		return r, nil
	})

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 9, dest.count())
}
