// Package mongodb writes extracted records into MongoDB collections. Each
// stream maps to its own collection unless a fixed collection is configured,
// and record IDs become document _id values so re-extraction stays
// idempotent through upserts.
package mongodb

import (
	"context"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/connector/base"
	"github.com/ajitpratap0/hubble/pkg/connector/core"
	"github.com/ajitpratap0/hubble/pkg/errors"
	"github.com/ajitpratap0/hubble/pkg/pool"
)

const defaultCollection = "records"

// collectionAPI is the slice of mongo.Collection the destination uses,
// extracted so tests can substitute a fake.
type collectionAPI interface {
	InsertMany(ctx context.Context, documents []interface{}, opts ...*options.InsertManyOptions) (*mongo.InsertManyResult, error)
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
}

// MongoDBDestination writes records into MongoDB collections.
type MongoDBDestination struct {
	*base.BaseConnector

	uri        string
	database   string
	collection string

	client        *mongo.Client
	collectionFor func(name string) collectionAPI

	recordsWritten int64
	recordsFailed  int64
}

// NewMongoDBDestination creates an uninitialized mongodb destination.
func NewMongoDBDestination(name string, _ *config.BaseConfig) (core.Destination, error) {
	return &MongoDBDestination{
		BaseConnector: base.NewBaseConnector(name, core.ConnectorTypeDestination, "1.0.0"),
	}, nil
}

// Initialize reads connection settings, connects the client and verifies
// the deployment is reachable.
func (d *MongoDBDestination) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := d.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	d.uri = cfg.Security.Credentials["uri"]
	if d.uri == "" {
		return errors.New(errors.ErrorTypeConfig, "uri credential is required")
	}
	d.database = cfg.Security.Credentials["database"]
	if d.database == "" {
		return errors.New(errors.ErrorTypeConfig, "database credential is required")
	}
	d.collection = cfg.Security.Credentials["collection"]

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(d.uri))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to MongoDB")
	}
	if err := client.Ping(ctx, nil); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping MongoDB").
			WithDetail("database", d.database)
	}
	d.client = client

	db := client.Database(d.database)
	d.collectionFor = func(name string) collectionAPI {
		return db.Collection(name)
	}

	d.GetLogger().Info("mongodb destination initialized",
		zap.String("database", d.database),
		zap.String("collection", d.collection))
	return nil
}

// CreateSchema is a no-op; collections are created on first insert.
func (d *MongoDBDestination) CreateSchema(ctx context.Context, schema *core.Schema) error {
	return nil
}

// Write consumes the record stream, inserting each record as it arrives.
func (d *MongoDBDestination) Write(ctx context.Context, stream *core.RecordStream) error {
	records, errs := stream.Records, stream.Errors
	for records != nil || errs != nil {
		select {
		case record, ok := <-records:
			if !ok {
				records = nil
				continue
			}
			if err := d.insertBatch(ctx, []*pool.Record{record}); err != nil {
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

// WriteBatch consumes the batch stream, inserting each batch with one
// unordered InsertMany per target collection.
func (d *MongoDBDestination) WriteBatch(ctx context.Context, stream *core.BatchStream) error {
	batches, errs := stream.Batches, stream.Errors
	for batches != nil || errs != nil {
		select {
		case batch, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			if err := d.insertBatch(ctx, batch); err != nil {
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

func (d *MongoDBDestination) insertBatch(ctx context.Context, batch []*pool.Record) error {
	if len(batch) == 0 {
		return nil
	}

	grouped := d.groupByCollection(batch)
	for name, records := range grouped {
		documents := make([]interface{}, 0, len(records))
		for _, record := range records {
			documents = append(documents, d.document(record))
		}

		opts := options.InsertMany().SetOrdered(false)
		if _, err := d.collectionFor(name).InsertMany(ctx, documents, opts); err != nil {
			atomic.AddInt64(&d.recordsFailed, int64(len(records)))
			return errors.Wrap(err, errors.ErrorTypeConnection, "insert failed").
				WithDetail("collection", name).
				WithDetail("records", len(records))
		}
		atomic.AddInt64(&d.recordsWritten, int64(len(records)))
	}

	for _, record := range batch {
		record.Release()
	}
	return nil
}

// Upsert replaces documents matched on _id, inserting those that do not
// exist yet. Replay of an extraction page therefore converges instead of
// duplicating.
func (d *MongoDBDestination) Upsert(ctx context.Context, records []*pool.Record, keys []string) error {
	if len(records) == 0 {
		return nil
	}

	grouped := d.groupByCollection(records)
	for name, group := range grouped {
		models := make([]mongo.WriteModel, 0, len(group))
		for _, record := range group {
			doc := d.document(record)
			models = append(models, mongo.NewReplaceOneModel().
				SetFilter(bson.M{"_id": doc["_id"]}).
				SetReplacement(doc).
				SetUpsert(true))
		}

		opts := options.BulkWrite().SetOrdered(false)
		if _, err := d.collectionFor(name).BulkWrite(ctx, models, opts); err != nil {
			atomic.AddInt64(&d.recordsFailed, int64(len(group)))
			return errors.Wrap(err, errors.ErrorTypeConnection, "upsert failed").
				WithDetail("collection", name).
				WithDetail("records", len(group))
		}
		atomic.AddInt64(&d.recordsWritten, int64(len(group)))
	}

	for _, record := range records {
		record.Release()
	}
	return nil
}

func (d *MongoDBDestination) groupByCollection(records []*pool.Record) map[string][]*pool.Record {
	grouped := make(map[string][]*pool.Record)
	for _, record := range records {
		name := d.collection
		if name == "" {
			name = record.GetStreamID()
		}
		if name == "" {
			name = defaultCollection
		}
		grouped[name] = append(grouped[name], record)
	}
	return grouped
}

// document builds the BSON document for a record. The record ID becomes the
// document _id when the data has none of its own.
func (d *MongoDBDestination) document(record *pool.Record) bson.M {
	doc := make(bson.M, len(record.Data)+1)
	for k, v := range record.Data {
		doc[k] = v
	}
	if _, ok := doc["_id"]; !ok && record.ID != "" {
		doc["_id"] = record.ID
	}
	return doc
}

// SupportsBatch reports that WriteBatch is implemented.
func (d *MongoDBDestination) SupportsBatch() bool { return true }

// SupportsStreaming reports that records can be written continuously.
func (d *MongoDBDestination) SupportsStreaming() bool { return true }

// SupportsUpsert reports that _id-keyed upserts are available.
func (d *MongoDBDestination) SupportsUpsert() bool { return true }

// Metrics reports write counts on top of the base connector snapshot.
func (d *MongoDBDestination) Metrics() map[string]interface{} {
	m := d.BaseConnector.Metrics()
	m["database"] = d.database
	m["records_written"] = atomic.LoadInt64(&d.recordsWritten)
	m["records_failed"] = atomic.LoadInt64(&d.recordsFailed)
	return m
}

// Close disconnects the client.
func (d *MongoDBDestination) Close(ctx context.Context) error {
	if d.client != nil {
		if err := d.client.Disconnect(ctx); err != nil {
			d.GetLogger().Error("failed to disconnect client", zap.Error(err))
		}
	}

	d.GetLogger().Info("mongodb destination closed",
		zap.String("database", d.database),
		zap.Int64("records_written", atomic.LoadInt64(&d.recordsWritten)))
	return d.BaseConnector.Close(ctx)
}
