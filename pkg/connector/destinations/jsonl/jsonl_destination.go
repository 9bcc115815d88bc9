// Package jsonl writes extracted records to a line-delimited JSON file,
// optionally compressed. One record per line, encoded from the record's
// document as-is, so the output replays cleanly into any NDJSON consumer.
package jsonl

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/hubble/pkg/compression"
	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/base"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/errors"
	jsonpool "github.com/ajitpratap0/hubble/pkg/json"
	"github.com/ajitpratap0/hubble/pkg/pool"
)

// JSONLDestination writes records as JSON lines to a local file.
type JSONLDestination struct {
	*base.BaseConnector

	config    *config.BaseConfig
	path      string
	algorithm compression.Algorithm

	mu         sync.Mutex
	file       *os.File
	buffered   *bufio.Writer
	compressor io.WriteCloser
	encoder    *jsonpool.StreamingEncoder
	counter    *countingWriter

	recordsWritten int64
}

// NewJSONLDestination creates an uninitialized jsonl destination.
func NewJSONLDestination(name string, _ *config.BaseConfig) (core.Destination, error) {
	return &JSONLDestination{
		BaseConnector: base.NewBaseConnector(name, core.ConnectorTypeDestination, "1.0.0"),
	}, nil
}

// Initialize opens the output file and builds the write chain:
// encoder → byte counter → compressor → buffered writer → file.
func (d *JSONLDestination) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := d.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}
	d.config = cfg

	path := cfg.Security.Credentials["path"]
	if path == "" {
		return errors.New(errors.ErrorTypeConfig, "path credential is required")
	}

	algorithm, err := compression.ParseAlgorithm(cfg.Security.Credentials["compression"])
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression setting")
	}
	d.algorithm = algorithm

	if ext := compression.Extension(algorithm); ext != "" && filepath.Ext(path) != ext {
		path += ext
	}
	d.path = path

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create output directory")
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create output file")
	}
	d.file = file

	bufferSize := cfg.Performance.BufferSize
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}
	d.buffered = bufio.NewWriterSize(file, bufferSize)

	d.compressor, err = compression.NewStreamWriter(d.buffered, &compression.Config{
		Algorithm: algorithm,
		Level:     compression.Default,
	})
	if err != nil {
		file.Close()
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to build compression writer")
	}

	d.counter = &countingWriter{w: d.compressor}
	d.encoder = jsonpool.NewStreamingEncoder(d.counter, false)

	d.GetLogger().Info("jsonl destination initialized",
		zap.String("path", d.path),
		zap.String("compression", string(algorithm)))

	return nil
}

// CreateSchema is a no-op; JSON lines carry their own structure.
func (d *JSONLDestination) CreateSchema(ctx context.Context, schema *core.Schema) error {
	return nil
}

// Write consumes the record stream until it closes. Upstream errors are
// logged and skipped; only the destination's own write failures abort.
func (d *JSONLDestination) Write(ctx context.Context, stream *core.RecordStream) error {
	records, errs := stream.Records, stream.Errors
	for records != nil || errs != nil {
		select {
		case record, ok := <-records:
			if !ok {
				records = nil
				continue
			}
			if err := d.writeRecord(record); err != nil {
				return err
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				d.GetLogger().Error("upstream error", zap.Error(err))
			}

		case <-ctx.Done():
			d.flush()
			return ctx.Err()
		}
	}
	return d.flush()
}

// WriteBatch consumes the batch stream until it closes.
func (d *JSONLDestination) WriteBatch(ctx context.Context, stream *core.BatchStream) error {
	batches, errs := stream.Batches, stream.Errors
	for batches != nil || errs != nil {
		select {
		case batch, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			for _, record := range batch {
				if err := d.writeRecord(record); err != nil {
					return err
				}
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				d.GetLogger().Error("upstream error", zap.Error(err))
			}

		case <-ctx.Done():
			d.flush()
			return ctx.Err()
		}
	}
	return d.flush()
}

func (d *JSONLDestination) writeRecord(record *pool.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.encoder == nil {
		return errors.New(errors.ErrorTypeState, "destination is not initialized")
	}
	if err := d.encoder.Encode(record.Data); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode record").
			WithDetail("record_id", record.ID)
	}
	atomic.AddInt64(&d.recordsWritten, 1)
	return nil
}

func (d *JSONLDestination) flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushLocked()
}

// flushLocked pushes buffered output down to the file. The compression
// frame stays open so more records can follow.
func (d *JSONLDestination) flushLocked() error {
	if d.buffered == nil {
		return nil
	}
	if err := d.buffered.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to flush output file")
	}
	return nil
}

// Upsert is not supported; the file is append-only.
func (d *JSONLDestination) Upsert(ctx context.Context, records []*pool.Record, keys []string) error {
	return errors.New(errors.ErrorTypeConfig, "jsonl destination is append-only")
}

// SupportsBatch reports that WriteBatch is implemented.
func (d *JSONLDestination) SupportsBatch() bool { return true }

// SupportsStreaming reports that records can be written continuously.
func (d *JSONLDestination) SupportsStreaming() bool { return true }

// SupportsUpsert reports that upsert is not available.
func (d *JSONLDestination) SupportsUpsert() bool { return false }

// Metrics reports written record and byte counts on top of the base
// connector snapshot.
func (d *JSONLDestination) Metrics() map[string]interface{} {
	m := d.BaseConnector.Metrics()
	m["path"] = d.path
	m["compression"] = string(d.algorithm)
	m["records_written"] = atomic.LoadInt64(&d.recordsWritten)
	if d.counter != nil {
		m["bytes_written"] = d.counter.Count()
	}
	return m
}

// Close flushes the compression frame and closes the file.
func (d *JSONLDestination) Close(ctx context.Context) error {
	d.mu.Lock()

	var firstErr error
	if d.compressor != nil {
		if err := d.compressor.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeConnection, "failed to finish compression frame")
		}
		d.compressor = nil
	}
	if d.buffered != nil {
		if err := d.buffered.Flush(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeConnection, "failed to flush output file")
		}
		d.buffered = nil
	}
	if d.file != nil {
		if err := d.file.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeConnection, "failed to close output file")
		}
		d.file = nil
	}
	d.encoder = nil
	d.mu.Unlock()

	if firstErr != nil {
		return firstErr
	}

	var bytesWritten int64
	if d.counter != nil {
		bytesWritten = d.counter.Count()
	}
	d.GetLogger().Info("jsonl destination closed",
		zap.String("path", d.path),
		zap.Int64("records_written", atomic.LoadInt64(&d.recordsWritten)),
		zap.Int64("bytes_uncompressed", bytesWritten))

	return d.BaseConnector.Close(ctx)
}

// countingWriter tracks uncompressed bytes flowing into the compressor.
type countingWriter struct {
	w     io.Writer
	count int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	atomic.AddInt64(&cw.count, int64(n))
	return n, err
}

// Count returns the number of bytes written so far.
func (cw *countingWriter) Count() int64 {
	return atomic.LoadInt64(&cw.count)
}
