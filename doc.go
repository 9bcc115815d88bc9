// Package hubble is an incremental extraction engine for REST APIs that
// serve cursor-paginated collections. It pulls records page by page, keyed
// on document IDs, and tracks a per-stream high-water mark so each run only
// fetches what changed since the last one.
//
// # Architecture
//
// The engine is organized around a small set of packages:
//
//   - pkg/connector/core defines the Source and Destination interfaces plus
//     the record and batch stream types that connect them.
//
//   - pkg/connector/sources/hubble implements the extraction state machine:
//     request a page, sanitize the payload, decode it, discover the schema
//     on the first page, emit records, and decide whether to continue.
//
//   - pkg/connector/destinations holds the sinks: csv and jsonl files,
//     date-partitioned S3 objects, Kafka topics, and MongoDB collections.
//
//   - internal/pipeline moves records from a source to a destination
//     through a small worker pool with optional transforms and periodic
//     flushing.
//
//   - pkg/state persists high-water marks between runs, backed by a JSON
//     file or PostgreSQL.
//
// Supporting packages cover configuration (pkg/config), structured errors
// (pkg/errors), Prometheus metrics (pkg/metrics), OpenTelemetry tracing
// (pkg/observability), payload sanitization (pkg/sanitize), query
// construction (pkg/query), and pooled records (pkg/pool).
//
// # Usage
//
// The hubble CLI wires everything together:
//
//	hubble run --source source.yaml --destination dest.yaml
//	hubble check --config source.yaml
//	hubble discover --config source.yaml
//
// Connectors self-register through their init functions; the registry
// resolves them by the Name field of their configuration.
package hubble
