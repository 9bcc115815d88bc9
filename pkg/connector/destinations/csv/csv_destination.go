// Package csv writes extracted records to a CSV file. Columns come from the
// discovered schema when one is provided, otherwise from the first record's
// sorted field names; fields that appear later are dropped with a counter,
// because a CSV header cannot grow after rows are written.
package csv

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/base"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/errors"
	jsonpool "github.com/ajitpratap0/hubble/pkg/json"
	"github.com/ajitpratap0/hubble/pkg/pool"
)

// CSVDestination writes records as rows of a local CSV file.
type CSVDestination struct {
	*base.BaseConnector

	path      string
	delimiter rune

	mu      sync.Mutex
	file    *os.File
	writer  *csv.Writer
	headers []string
	row     []string

	recordsWritten int64
	fieldsDropped  int64
}

// NewCSVDestination creates an uninitialized csv destination.
func NewCSVDestination(name string, _ *config.BaseConfig) (core.Destination, error) {
	return &CSVDestination{
		BaseConnector: base.NewBaseConnector(name, core.ConnectorTypeDestination, "1.0.0"),
		delimiter:     ',',
	}, nil
}

// Initialize opens the output file. Headers are not written yet; they come
// from CreateSchema or the first record.
func (d *CSVDestination) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := d.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	path := cfg.Security.Credentials["path"]
	if path == "" {
		return errors.New(errors.ErrorTypeConfig, "path credential is required")
	}
	d.path = path

	if delim := cfg.Security.Credentials["delimiter"]; delim != "" {
		runes := []rune(delim)
		if len(runes) != 1 {
			return errors.New(errors.ErrorTypeConfig, "delimiter must be a single character").
				WithDetail("delimiter", delim)
		}
		d.delimiter = runes[0]
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create output directory")
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create output file")
	}
	d.file = file
	d.writer = csv.NewWriter(file)
	d.writer.Comma = d.delimiter

	d.GetLogger().Info("csv destination initialized",
		zap.String("path", path),
		zap.String("delimiter", string(d.delimiter)))
	return nil
}

// CreateSchema fixes the column set from the discovered schema. Without it
// the first record decides the columns.
func (d *CSVDestination) CreateSchema(ctx context.Context, schema *core.Schema) error {
	if schema == nil || len(schema.Fields) == 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.headers != nil {
		return errors.New(errors.ErrorTypeState, "columns are already fixed")
	}

	headers := make([]string, len(schema.Fields))
	for i, field := range schema.Fields {
		headers[i] = field.Name
	}
	return d.setHeadersLocked(headers)
}

// Write consumes the record stream until it closes.
func (d *CSVDestination) Write(ctx context.Context, stream *core.RecordStream) error {
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
func (d *CSVDestination) WriteBatch(ctx context.Context, stream *core.BatchStream) error {
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

func (d *CSVDestination) writeRecord(record *pool.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.writer == nil {
		return errors.New(errors.ErrorTypeState, "destination is not initialized")
	}

	if d.headers == nil {
		if err := d.setHeadersLocked(sortedKeys(record.Data)); err != nil {
			return err
		}
	}

	row := d.row[:0]
	for _, header := range d.headers {
		value, ok := record.Data[header]
		if !ok {
			row = append(row, "")
			continue
		}
		cell, err := formatValue(value)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to format field").
				WithDetail("field", header).
				WithDetail("record_id", record.ID)
		}
		row = append(row, cell)
	}
	d.row = row

	if dropped := len(record.Data) - countKnown(record.Data, d.headers); dropped > 0 {
		atomic.AddInt64(&d.fieldsDropped, int64(dropped))
	}

	if err := d.writer.Write(row); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to write row").
			WithDetail("record_id", record.ID)
	}
	atomic.AddInt64(&d.recordsWritten, 1)
	return nil
}

func (d *CSVDestination) setHeadersLocked(headers []string) error {
	if err := d.writer.Write(headers); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to write header row")
	}
	d.headers = headers
	d.row = make([]string, 0, len(headers))
	return nil
}

func (d *CSVDestination) flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer == nil {
		return nil
	}
	d.writer.Flush()
	if err := d.writer.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to flush output file")
	}
	return nil
}

// Upsert is not supported; the file is append-only.
func (d *CSVDestination) Upsert(ctx context.Context, records []*pool.Record, keys []string) error {
	return errors.New(errors.ErrorTypeConfig, "csv destination is append-only")
}

// SupportsBatch reports that WriteBatch is implemented.
func (d *CSVDestination) SupportsBatch() bool { return true }

// SupportsStreaming reports that records can be written continuously.
func (d *CSVDestination) SupportsStreaming() bool { return true }

// SupportsUpsert reports that upsert is not available.
func (d *CSVDestination) SupportsUpsert() bool { return false }

// Metrics reports row counts on top of the base connector snapshot.
func (d *CSVDestination) Metrics() map[string]interface{} {
	m := d.BaseConnector.Metrics()
	m["path"] = d.path
	m["records_written"] = atomic.LoadInt64(&d.recordsWritten)
	m["fields_dropped"] = atomic.LoadInt64(&d.fieldsDropped)
	return m
}

// Close flushes remaining rows and closes the file.
func (d *CSVDestination) Close(ctx context.Context) error {
	d.mu.Lock()
	var firstErr error
	if d.writer != nil {
		d.writer.Flush()
		if err := d.writer.Error(); err != nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeConnection, "failed to flush output file")
		}
		d.writer = nil
	}
	if d.file != nil {
		if err := d.file.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.ErrorTypeConnection, "failed to close output file")
		}
		d.file = nil
	}
	d.mu.Unlock()

	if firstErr != nil {
		return firstErr
	}

	d.GetLogger().Info("csv destination closed",
		zap.String("path", d.path),
		zap.Int64("records_written", atomic.LoadInt64(&d.recordsWritten)),
		zap.Int64("fields_dropped", atomic.LoadInt64(&d.fieldsDropped)))
	return d.BaseConnector.Close(ctx)
}

// formatValue renders one field as a CSV cell. Scalars print naturally;
// arrays and nested objects are embedded as JSON.
func formatValue(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		// json.Number keeps its wire form via its String method; arrays
		// and objects round-trip through the encoder.
		if s, ok := v.(interface{ String() string }); ok {
			return s.String(), nil
		}
		encoded, err := jsonpool.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	}
}

func sortedKeys(data map[string]interface{}) []string {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func countKnown(data map[string]interface{}, headers []string) int {
	known := 0
	for _, header := range headers {
		if _, ok := data[header]; ok {
			known++
		}
	}
	return known
}
