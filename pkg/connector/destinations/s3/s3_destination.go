// Package s3 uploads extracted records to an S3 bucket as compressed JSONL
// objects. Each flushed batch becomes one object under a date-partitioned
// key, so downstream table formats can discover new files without listing
// the whole prefix.
package s3

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/hubble/pkg/compression"
	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/base"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/errors"
	jsonpool "github.com/ajitpratap0/hubble/pkg/json"
	"github.com/ajitpratap0/hubble/pkg/pool"
	stringpool "github.com/ajitpratap0/hubble/pkg/strings"
)

const (
	defaultRegion     = "us-east-1"
	defaultObjectRows = 10000
)

// uploaderAPI is the slice of manager.Uploader the destination uses,
// extracted so tests can substitute a fake.
type uploaderAPI interface {
	Upload(ctx context.Context, input *awss3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Destination writes records to S3 as date-partitioned JSONL objects.
type S3Destination struct {
	*base.BaseConnector

	bucket     string
	prefix     string
	region     string
	endpoint   string
	objectRows int
	algorithm  compression.Algorithm

	client     *awss3.Client
	uploader   uploaderAPI
	compressor *compression.CompressorPool

	mu      sync.Mutex
	pending []*pool.Record

	recordsWritten int64
	bytesWritten   int64
	objectsCreated int64
}

// NewS3Destination creates an uninitialized s3 destination.
func NewS3Destination(name string, _ *config.BaseConfig) (core.Destination, error) {
	return &S3Destination{
		BaseConnector: base.NewBaseConnector(name, core.ConnectorTypeDestination, "1.0.0"),
	}, nil
}

// Initialize reads the bucket settings, builds the AWS clients and verifies
// bucket access.
func (d *S3Destination) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := d.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	d.bucket = cfg.Security.Credentials["bucket"]
	if d.bucket == "" {
		return errors.New(errors.ErrorTypeConfig, "bucket credential is required")
	}
	d.prefix = cfg.Security.Credentials["prefix"]
	d.region = cfg.Security.Credentials["region"]
	if d.region == "" {
		d.region = defaultRegion
	}
	d.endpoint = cfg.Security.Credentials["endpoint"]

	d.objectRows = defaultObjectRows
	if raw := cfg.Security.Credentials["object_rows"]; raw != "" {
		rows, err := strconv.Atoi(raw)
		if err != nil || rows <= 0 {
			return errors.New(errors.ErrorTypeConfig, "object_rows must be a positive integer").
				WithDetail("object_rows", raw)
		}
		d.objectRows = rows
	}

	algorithm, err := compression.ParseAlgorithm(cfg.Security.Credentials["compression"])
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression setting")
	}
	d.algorithm = algorithm
	d.compressor = compression.NewCompressorPool(&compression.Config{
		Algorithm: algorithm,
		Level:     compression.Default,
	})

	if err := d.buildClients(ctx); err != nil {
		return err
	}
	if err := d.checkBucketAccess(ctx); err != nil {
		return err
	}

	d.GetLogger().Info("s3 destination initialized",
		zap.String("bucket", d.bucket),
		zap.String("prefix", d.prefix),
		zap.String("region", d.region),
		zap.String("compression", string(d.algorithm)),
		zap.Int("object_rows", d.objectRows))
	return nil
}

func (d *S3Destination) buildClients(ctx context.Context) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(d.region))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	d.client = awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if d.endpoint != "" {
			o.BaseEndpoint = aws.String(d.endpoint)
			o.UsePathStyle = true
		}
	})
	d.uploader = manager.NewUploader(d.client)
	return nil
}

func (d *S3Destination) checkBucketAccess(ctx context.Context) error {
	_, err := d.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(d.bucket)})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "bucket is not accessible").
			WithDetail("bucket", d.bucket)
	}
	return nil
}

// CreateSchema is a no-op; JSONL objects carry their own structure.
func (d *S3Destination) CreateSchema(ctx context.Context, schema *core.Schema) error {
	return nil
}

// Write consumes the record stream, flushing an object whenever object_rows
// records have accumulated.
func (d *S3Destination) Write(ctx context.Context, stream *core.RecordStream) error {
	records, errs := stream.Records, stream.Errors
	for records != nil || errs != nil {
		select {
		case record, ok := <-records:
			if !ok {
				records = nil
				continue
			}
			if err := d.buffer(ctx, record); err != nil {
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
			return ctx.Err()
		}
	}
	return d.flush(ctx)
}

// WriteBatch consumes the batch stream; every incoming batch joins the
// pending object buffer so object sizes stay governed by object_rows, not
// by the pipeline's batch size.
func (d *S3Destination) WriteBatch(ctx context.Context, stream *core.BatchStream) error {
	batches, errs := stream.Batches, stream.Errors
	for batches != nil || errs != nil {
		select {
		case batch, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			for _, record := range batch {
				if err := d.buffer(ctx, record); err != nil {
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
			return ctx.Err()
		}
	}
	return d.flush(ctx)
}

func (d *S3Destination) buffer(ctx context.Context, record *pool.Record) error {
	d.mu.Lock()
	d.pending = append(d.pending, record)
	full := len(d.pending) >= d.objectRows
	d.mu.Unlock()

	if full {
		return d.flush(ctx)
	}
	return nil
}

// flush encodes the pending records as one compressed JSONL object and
// uploads it. Records are released once the upload succeeds.
func (d *S3Destination) flush(ctx context.Context) error {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	body, err := jsonpool.MarshalRecordsLines(batch)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode object body")
	}
	compressed, err := d.compressor.Compress(body)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to compress object body")
	}

	key := d.objectKey(batch[0], time.Now().UTC())
	_, err = d.uploader.Upload(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(compressed),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "object upload failed").
			WithDetail("bucket", d.bucket).
			WithDetail("key", key).
			WithDetail("records", len(batch))
	}

	atomic.AddInt64(&d.recordsWritten, int64(len(batch)))
	atomic.AddInt64(&d.bytesWritten, int64(len(compressed)))
	atomic.AddInt64(&d.objectsCreated, 1)
	d.GetLogger().Debug("uploaded object",
		zap.String("key", key),
		zap.Int("records", len(batch)),
		zap.Int("bytes", len(compressed)))

	for _, record := range batch {
		record.Release()
	}
	return nil
}

// objectKey builds the date-partitioned object key:
// <prefix>/stream=<name>/dt=<yyyy-mm-dd>/part-<unixnano>.jsonl<.ext>
func (d *S3Destination) objectKey(first *pool.Record, now time.Time) string {
	stream := first.GetStreamID()
	if stream == "" {
		stream = "default"
	}

	b := stringpool.GetBuilder(stringpool.Small)
	defer stringpool.PutBuilder(b, stringpool.Small)

	if d.prefix != "" {
		b.WriteString(d.prefix)
		b.WriteByte('/')
	}
	b.WriteString("stream=")
	b.WriteString(stream)
	b.WriteString("/dt=")
	b.WriteString(now.Format("2006-01-02"))
	b.WriteString("/part-")
	b.WriteString(strconv.FormatInt(now.UnixNano(), 10))
	b.WriteString(".jsonl")
	b.WriteString(compression.Extension(d.algorithm))
	// The builder goes back to the pool on return, so the key must own
	// its memory.
	return stringpool.Clone(b.String())
}

// Upsert is not supported; objects are immutable.
func (d *S3Destination) Upsert(ctx context.Context, records []*pool.Record, keys []string) error {
	return errors.New(errors.ErrorTypeConfig, "s3 destination is append-only")
}

// SupportsBatch reports that WriteBatch is implemented.
func (d *S3Destination) SupportsBatch() bool { return true }

// SupportsStreaming reports that records can be written continuously.
func (d *S3Destination) SupportsStreaming() bool { return true }

// SupportsUpsert reports that upsert is not available.
func (d *S3Destination) SupportsUpsert() bool { return false }

// Metrics reports upload counts on top of the base connector snapshot.
func (d *S3Destination) Metrics() map[string]interface{} {
	m := d.BaseConnector.Metrics()
	m["bucket"] = d.bucket
	m["records_written"] = atomic.LoadInt64(&d.recordsWritten)
	m["bytes_written"] = atomic.LoadInt64(&d.bytesWritten)
	m["objects_created"] = atomic.LoadInt64(&d.objectsCreated)
	return m
}

// Close uploads any pending records and shuts the connector down.
func (d *S3Destination) Close(ctx context.Context) error {
	if d.uploader != nil {
		if err := d.flush(ctx); err != nil {
			return err
		}
	}

	d.GetLogger().Info("s3 destination closed",
		zap.String("bucket", d.bucket),
		zap.Int64("records_written", atomic.LoadInt64(&d.recordsWritten)),
		zap.Int64("objects_created", atomic.LoadInt64(&d.objectsCreated)))
	return d.BaseConnector.Close(ctx)
}
