// Package core defines the contracts every Hubble connector implements:
// sources that extract records from upstream systems, destinations that
// load them, and the stream, schema and state types the two sides exchange.
//
// Connectors compose capability methods instead of inheriting behavior. A
// source declares whether it supports incremental sync and batch reads; a
// destination declares batching, streaming and upsert support. Hosts check
// these capabilities at runtime rather than type-switching on concrete
// connector types.
package core

import (
	"context"
	"time"

	"github.com/ajitpratap0/hubble/pkg/config"
	"github.com/ajitpratap0/hubble/pkg/pool"
)

// ConnectorType identifies whether a connector produces or consumes records.
type ConnectorType string

const (
	// ConnectorTypeSource marks connectors that extract records.
	ConnectorTypeSource ConnectorType = "source"
	// ConnectorTypeDestination marks connectors that load records.
	ConnectorTypeDestination ConnectorType = "destination"
)

// State carries a connector's checkpoint data as loose key-value pairs.
// Sources expose it so hosts can persist sync progress between runs and
// seed the next run with it. Keys and value shapes are connector-defined.
type State map[string]interface{}

// Position identifies a location within a source's data, such as a page
// cursor.
type Position interface {
	// String returns a string representation of the position
	String() string
	// Compare returns -1 if this < other, 0 if equal, 1 if this > other
	Compare(other Position) int
}

// Connector is the lifecycle shared by sources and destinations.
type Connector interface {
	// Initialize prepares the connector from its configuration. It must be
	// called before any other method.
	Initialize(ctx context.Context, config *config.BaseConfig) error

	// Health reports whether the connector can currently reach its
	// upstream or downstream system.
	Health(ctx context.Context) (*HealthStatus, error)

	// Metrics returns a point-in-time snapshot of connector metrics.
	Metrics() map[string]interface{}

	// Close releases connections, flushes buffers and stops background
	// work. The connector is unusable afterwards.
	Close(ctx context.Context) error
}

// Source extracts records from an upstream system.
type Source interface {
	Connector

	// Discover infers the schema of the records this source produces.
	Discover(ctx context.Context) (*Schema, error)

	// Read streams records until the source is exhausted or ctx is
	// cancelled. The source closes the returned stream's channels.
	Read(ctx context.Context) (*RecordStream, error)

	// ReadBatch streams records grouped into slices of up to batchSize.
	ReadBatch(ctx context.Context, batchSize int) (*BatchStream, error)

	// GetPosition returns the source's current read position.
	GetPosition() Position

	// SetPosition moves the source to a previously captured position.
	SetPosition(position Position) error

	// GetState returns checkpoint state for persistence. For incremental
	// sources this reflects the last fully committed page, not records
	// in flight.
	GetState() State

	// SetState seeds the source with state from a previous run.
	SetState(state State) error

	// SupportsIncremental reports whether the source can resume from
	// persisted state instead of re-reading everything.
	SupportsIncremental() bool

	// SupportsBatch reports whether ReadBatch is implemented.
	SupportsBatch() bool
}

// Destination loads records into a downstream system.
type Destination interface {
	Connector

	// CreateSchema prepares the downstream system for records of the
	// given schema. Destinations without schema objects treat this as
	// a no-op.
	CreateSchema(ctx context.Context, schema *Schema) error

	// Write consumes a record stream until it is closed.
	Write(ctx context.Context, stream *RecordStream) error

	// WriteBatch consumes a batch stream until it is closed.
	WriteBatch(ctx context.Context, stream *BatchStream) error

	// Upsert writes records, updating rows whose key fields match an
	// existing row. Only valid when SupportsUpsert reports true.
	Upsert(ctx context.Context, records []*pool.Record, keys []string) error

	// SupportsBatch reports whether WriteBatch is implemented.
	SupportsBatch() bool

	// SupportsStreaming reports whether the destination can consume
	// records continuously rather than in discrete loads.
	SupportsStreaming() bool

	// SupportsUpsert reports whether Upsert is implemented.
	SupportsUpsert() bool
}

// RecordStream delivers records and errors on separate channels. The
// producer closes both channels when the stream ends; an error on Errors
// does not necessarily terminate Records.
type RecordStream struct {
	Records <-chan *pool.Record
	Errors  <-chan error
}

// BatchStream delivers records pre-grouped into batches.
type BatchStream struct {
	Batches <-chan []*pool.Record
	Errors  <-chan error
}

// Schema describes the structure of records a source produces or a
// destination accepts.
type Schema struct {
	Name     string                 `json:"name"`
	Version  string                 `json:"version,omitempty"`
	Fields   []Field                `json:"fields"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Field describes a single schema field.
type Field struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Nullable    bool      `json:"nullable"`
	Format      string    `json:"format,omitempty"`
	Description string    `json:"description,omitempty"`
}

// FieldType enumerates the types a schema field can carry.
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInteger   FieldType = "integer"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBool      FieldType = "boolean"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeArray     FieldType = "array"
	FieldTypeObject    FieldType = "object"
	FieldTypeJSON      FieldType = "json"
)

// HealthStatus reports connector health. Status is one of "healthy",
// "degraded" or "unhealthy".
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Healthy reports whether the status allows normal operation.
func (h *HealthStatus) Healthy() bool {
	return h != nil && h.Status == "healthy"
}

// ConnectorMetadata describes a connector for catalogs and CLIs.
type ConnectorMetadata struct {
	Name         string        `json:"name"`
	Type         ConnectorType `json:"type"`
	Version      string        `json:"version"`
	Description  string        `json:"description"`
	Capabilities []string      `json:"capabilities"`
}
