// Package kafka publishes extracted records to a Kafka topic. Record data is
// serialized as JSON, keyed by record ID so updates to the same entity land
// on the same partition.
package kafka

import (
	"context"
	"crypto/tls"
	"strings"
	"sync/atomic"

	"github.com/IBM/sarama"
	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/base"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/errors"
	"github.com/ajitpratap0/hubble/pkg/pool"
)

// messageProducer is the slice of sarama.SyncProducer the destination uses,
// extracted so tests can substitute a fake.
type messageProducer interface {
	SendMessages(msgs []*sarama.ProducerMessage) error
	Close() error
}

// KafkaDestination writes records to a Kafka topic.
type KafkaDestination struct {
	*base.BaseConnector

	brokers []string
	topic   string

	producer messageProducer

	recordsWritten int64
	bytesWritten   int64
}

// NewKafkaDestination creates an uninitialized kafka destination.
func NewKafkaDestination(name string, _ *config.BaseConfig) (core.Destination, error) {
	return &KafkaDestination{
		BaseConnector: base.NewBaseConnector(name, core.ConnectorTypeDestination, "1.0.0"),
	}, nil
}

// Initialize reads broker settings from credentials and connects the
// producer.
func (d *KafkaDestination) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := d.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	rawBrokers := cfg.Security.Credentials["brokers"]
	if rawBrokers == "" {
		return errors.New(errors.ErrorTypeConfig, "brokers credential is required")
	}
	for _, broker := range strings.Split(rawBrokers, ",") {
		if b := strings.TrimSpace(broker); b != "" {
			d.brokers = append(d.brokers, b)
		}
	}

	d.topic = cfg.Security.Credentials["topic"]
	if d.topic == "" {
		return errors.New(errors.ErrorTypeConfig, "topic credential is required")
	}

	saramaConfig, err := buildSaramaConfig(cfg)
	if err != nil {
		return err
	}

	producer, err := sarama.NewSyncProducer(d.brokers, saramaConfig)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka producer").
			WithDetail("brokers", rawBrokers)
	}
	d.producer = producer

	d.GetLogger().Info("kafka destination initialized",
		zap.Strings("brokers", d.brokers),
		zap.String("topic", d.topic))
	return nil
}

// buildSaramaConfig maps credential settings onto the sarama producer
// configuration. Unset credentials keep sarama defaults except acks, which
// defaults to all for durability.
func buildSaramaConfig(cfg *config.BaseConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	switch cfg.Security.Credentials["acks"] {
	case "", "all", "-1":
		saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	case "1":
		saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	case "0":
		saramaConfig.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, errors.New(errors.ErrorTypeConfig, "acks must be one of all, 1, 0").
			WithDetail("acks", cfg.Security.Credentials["acks"])
	}

	switch cfg.Security.Credentials["compression"] {
	case "", "none":
		saramaConfig.Producer.Compression = sarama.CompressionNone
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	default:
		return nil, errors.New(errors.ErrorTypeConfig, "unsupported compression codec").
			WithDetail("compression", cfg.Security.Credentials["compression"])
	}

	if cfg.Security.Credentials["tls"] == "true" {
		saramaConfig.Net.TLS.Enable = true
		saramaConfig.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if mechanism := cfg.Security.Credentials["sasl_mechanism"]; mechanism != "" {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = cfg.Security.Credentials["sasl_username"]
		saramaConfig.Net.SASL.Password = cfg.Security.Credentials["sasl_password"]

		switch mechanism {
		case "PLAIN":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "SCRAM-SHA-512":
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			return nil, errors.New(errors.ErrorTypeConfig, "unsupported SASL mechanism").
				WithDetail("sasl_mechanism", mechanism)
		}
	}

	return saramaConfig, nil
}

// CreateSchema is a no-op; topics are schemaless from the producer side.
func (d *KafkaDestination) CreateSchema(ctx context.Context, schema *core.Schema) error {
	return nil
}

// Write consumes the record stream, publishing each record individually.
func (d *KafkaDestination) Write(ctx context.Context, stream *core.RecordStream) error {
	records, errs := stream.Records, stream.Errors
	for records != nil || errs != nil {
		select {
		case record, ok := <-records:
			if !ok {
				records = nil
				continue
			}
			if err := d.publish(record); err != nil {
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
	return nil
}

// WriteBatch consumes the batch stream, publishing each batch in one
// producer round trip.
func (d *KafkaDestination) WriteBatch(ctx context.Context, stream *core.BatchStream) error {
	batches, errs := stream.Batches, stream.Errors
	for batches != nil || errs != nil {
		select {
		case batch, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			if err := d.publishBatch(batch); err != nil {
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
	return nil
}

func (d *KafkaDestination) publish(record *pool.Record) error {
	return d.publishBatch([]*pool.Record{record})
}

func (d *KafkaDestination) publishBatch(batch []*pool.Record) error {
	if len(batch) == 0 {
		return nil
	}

	messages := make([]*sarama.ProducerMessage, 0, len(batch))
	var bytes int64
	for _, record := range batch {
		message, size, err := d.buildMessage(record)
		if err != nil {
			return err
		}
		messages = append(messages, message)
		bytes += size
	}

	if err := d.producer.SendMessages(messages); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to publish records").
			WithDetail("topic", d.topic).
			WithDetail("records", len(batch))
	}

	atomic.AddInt64(&d.recordsWritten, int64(len(batch)))
	atomic.AddInt64(&d.bytesWritten, bytes)

	for _, record := range batch {
		record.Release()
	}
	return nil
}

func (d *KafkaDestination) buildMessage(record *pool.Record) (*sarama.ProducerMessage, int64, error) {
	value, err := gojson.Marshal(record.Data)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrorTypeData, "failed to serialize record").
			WithDetail("record_id", record.ID)
	}

	message := &sarama.ProducerMessage{
		Topic: d.topic,
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("source"), Value: []byte(record.Metadata.Source)},
			{Key: []byte("stream"), Value: []byte(record.GetStreamID())},
			{Key: []byte("content-type"), Value: []byte("application/json")},
		},
	}
	if record.ID != "" {
		message.Key = sarama.ByteEncoder(record.ID)
	}
	return message, int64(len(value) + len(record.ID)), nil
}

// Upsert is not supported; topics are append-only logs.
func (d *KafkaDestination) Upsert(ctx context.Context, records []*pool.Record, keys []string) error {
	return errors.New(errors.ErrorTypeConfig, "kafka destination is append-only")
}

// SupportsBatch reports that WriteBatch is implemented.
func (d *KafkaDestination) SupportsBatch() bool { return true }

// SupportsStreaming reports that records can be written continuously.
func (d *KafkaDestination) SupportsStreaming() bool { return true }

// SupportsUpsert reports that upsert is not available.
func (d *KafkaDestination) SupportsUpsert() bool { return false }

// Metrics reports publish counts on top of the base connector snapshot.
func (d *KafkaDestination) Metrics() map[string]interface{} {
	m := d.BaseConnector.Metrics()
	m["topic"] = d.topic
	m["records_written"] = atomic.LoadInt64(&d.recordsWritten)
	m["bytes_written"] = atomic.LoadInt64(&d.bytesWritten)
	return m
}

// Close shuts the producer down.
func (d *KafkaDestination) Close(ctx context.Context) error {
	if d.producer != nil {
		if err := d.producer.Close(); err != nil {
			d.GetLogger().Error("failed to close producer", zap.Error(err))
		}
	}

	d.GetLogger().Info("kafka destination closed",
		zap.String("topic", d.topic),
		zap.Int64("records_written", atomic.LoadInt64(&d.recordsWritten)))
	return d.BaseConnector.Close(ctx)
}
