// Package pool implements a type-safe object pooling system that is central
// to Hubble's memory management. Every document extracted from an API
// endpoint becomes a pooled Record, so the allocation cost of a sync is
// dominated by page decoding rather than per-record bookkeeping.
//
// Architecture
//
// The pool package uses Go generics to provide type-safe pooling for any
// object type. It builds on sync.Pool and adds statistics, reset hooks,
// and pre-configured global pools.
//
// Core Types:
//
//   - Pool[T]: Generic pool implementation for any type T
//   - Record: The unified record type used throughout Hubble
//   - BufferPool: Size-bucketed byte buffers for I/O paths
//   - StringInternPool: Canonical instances of repeated field names
//
// Global Pools
//
// Pre-configured pools are available for common types:
//
//	var (
//		RecordPool      // Record objects
//		MapPool         // map[string]interface{} document payloads
//		StringSlicePool // []string scratch slices
//		ByteSlicePool   // []byte scratch buffers
//		BatchSlicePool  // []*Record pipeline batches
//	)
//
// Usage Patterns
//
// Basic record usage:
//
//	record := pool.GetRecord()
//	defer record.Release() // Always release back to pool
//
//	record.SetData("_id", "66f2a1")
//	record.SetData("updatedAt", "2024-01-15T10:30:00Z")
//	record.Metadata.StreamID = "projects"
//
// Creating a custom pool:
//
//	bufPool := pool.New(
//		func() *bytes.Buffer { return &bytes.Buffer{} },
//		func(b *bytes.Buffer) { b.Reset() },
//	)
//
// Guidelines
//
//  1. Always release objects back to pools
//  2. Reset objects properly to avoid data leaking between syncs
//  3. Do not hold pool objects across goroutines without synchronization
//  4. Use pool statistics (GetGlobalStats) to spot records that are
//     emitted but never released
package pool
