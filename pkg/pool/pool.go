// Package pool provides unified object pooling for Hubble.
// It offers zero-allocation memory management with automatic object
// recycling, keeping garbage collection pressure low on the extraction
// hot path where every API document becomes a Record.
//
// The package provides:
//   - Generic type-safe object pooling with Pool[T]
//   - Pre-configured global pools for common types (Records, Maps, Slices)
//   - Buffer pooling with size-based buckets
//   - String interning for repeated document field names
//
// Example usage:
//
//	record := pool.GetRecord()
//	defer record.Release()
//
//	record.SetData("name", "Crater Lake")
//	record.SetData("magnitude", 8.4)
package pool

import (
	"sync"
	"sync/atomic"
	"time"
)

// Pool is a generic object pool with type safety. It wraps sync.Pool with
// statistics tracking and automatic reset functionality, and is safe for
// concurrent use.
//
// Pointer types are recommended for T. The pool maintains counters on
// allocations, usage, and hit rates for monitoring.
type Pool[T any] struct {
	pool  sync.Pool
	new   func() T
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		hits      int64
		misses    int64
	}
}

// New creates a typed pool with custom allocation and reset functions.
// The new function is called when the pool is empty. The reset function,
// if non-nil, is called before an object re-enters the pool.
//
// Example:
//
//	bufs := pool.New(
//	    func() *Buffer { return &Buffer{data: make([]byte, 0, 1024)} },
//	    func(b *Buffer) { b.data = b.data[:0] },
//	)
func New[T any](new func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{
		new:   new,
		reset: reset,
	}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return new()
	}
	return p
}

// Get retrieves an object from the pool, creating one if the pool is empty.
// The returned object should be handed back with Put when no longer needed.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	obj := p.pool.Get().(T)
	atomic.AddInt64(&p.stats.hits, 1)
	return obj
}

// Put returns an object to the pool for reuse, running the reset function
// first when one was provided.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns current pool counters: total objects created, objects
// currently checked out, successful Gets, and forced allocations.
func (p *Pool[T]) Stats() (allocated, inUse, hits, misses int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.hits),
		atomic.LoadInt64(&p.stats.misses)
}

// RecordMetadata carries provenance for extracted records: which connector
// produced them, which stream and endpoint they came from, and where in the
// stream they sit. All fields are optional.
type RecordMetadata struct {
	// Source identifies the origin connector
	Source string `json:"source,omitempty"`
	// StreamID identifies the stream for multi-stream sources
	StreamID string `json:"stream_id,omitempty"`
	// Endpoint is the API endpoint the record was fetched from
	Endpoint string `json:"endpoint,omitempty"`
	// Offset is the record's ordinal position within its stream
	Offset int64 `json:"offset,omitempty"`
	// Timestamp is when the record was extracted
	Timestamp time.Time `json:"timestamp"`
	// Custom holds connector-specific metadata fields
	Custom map[string]interface{} `json:"custom,omitempty"`
}

// Record is the unified record type used throughout Hubble. Every document
// pulled from an API endpoint travels the pipeline as a Record, and
// destinations consume Records without caring which source produced them.
// Records are pooled; obtain them with GetRecord or the constructors below
// rather than creating them directly.
type Record struct {
	// ID is a unique identifier for the record
	ID string `json:"id"`
	// Data contains the decoded document fields
	Data map[string]interface{} `json:"data"`
	// Metadata contains source, stream, and timing information
	Metadata RecordMetadata `json:"metadata"`
	// RawData optionally holds the original document bytes (not serialized)
	RawData []byte `json:"-"`
}

// Global pools for the common object shapes moving through the pipeline.
var (
	// RecordPool pools Record objects. Records come with a 16-capacity
	// data map and are fully cleared before reuse.
	RecordPool = New(
		func() *Record {
			return &Record{
				Data: make(map[string]interface{}, 16),
			}
		},
		func(r *Record) {
			r.ID = ""
			r.RawData = nil
			for k := range r.Data {
				delete(r.Data, k)
			}
			if r.Metadata.Custom != nil {
				for k := range r.Metadata.Custom {
					delete(r.Metadata.Custom, k)
				}
			}
			r.Metadata = RecordMetadata{}
		},
	)

	// MapPool pools map[string]interface{} objects with capacity 16.
	MapPool = New(
		func() map[string]interface{} {
			return make(map[string]interface{}, 16)
		},
		func(m map[string]interface{}) {
			for k := range m {
				delete(m, k)
			}
		},
	)

	// StringSlicePool pools []string slices with capacity 32.
	StringSlicePool = New(
		func() []string {
			return make([]string, 0, 32)
		},
		func(s []string) {
			for i := range s {
				s[i] = ""
			}
		},
	)

	// ByteSlicePool pools general-purpose byte slices with 1KB capacity.
	ByteSlicePool = New(
		func() []byte {
			return make([]byte, 0, 1024)
		},
		func(b []byte) {},
	)

	// IDBufferPool pools the small buffers used for ID generation.
	IDBufferPool = New(
		func() []byte {
			return make([]byte, 0, 64)
		},
		func(b []byte) {},
	)

	// BatchSlicePool pools record batches used in pipeline processing,
	// pre-sized for the default batch of 1000 records.
	BatchSlicePool = New(
		func() []*Record {
			return make([]*Record, 0, 1000)
		},
		func(s []*Record) {
			for i := range s {
				s[i] = nil
			}
		},
	)
)

// idCounter provides atomic unique ID generation
var idCounter uint64

// GetRecord retrieves a Record from the global pool. The record carries a
// fresh timestamp and an initialized Custom metadata map. Return it with
// PutRecord or record.Release when done.
func GetRecord() *Record {
	r := RecordPool.Get()
	r.Metadata.Timestamp = time.Now()
	if r.Metadata.Custom == nil {
		r.Metadata.Custom = GetMap()
	}
	return r
}

// PutRecord returns a Record to the global pool, handing nested maps back
// to their own pools first. Safe to call with nil.
func PutRecord(record *Record) {
	if record != nil {
		if record.Metadata.Custom != nil {
			PutMap(record.Metadata.Custom)
			record.Metadata.Custom = nil
		}
		RecordPool.Put(record)
	}
}

// GetMap retrieves an empty map[string]interface{} from the global pool.
func GetMap() map[string]interface{} {
	return MapPool.Get()
}

// PutMap returns a map to the global pool. The map is cleared before being
// pooled. Safe to call with nil.
func PutMap(m map[string]interface{}) {
	if m != nil {
		MapPool.Put(m)
	}
}

// GetStringSlice retrieves a zero-length string slice from the global pool.
func GetStringSlice() []string {
	return StringSlicePool.Get()
}

// PutStringSlice returns a string slice to the global pool. Safe to call
// with nil.
func PutStringSlice(s []string) {
	if s != nil {
		StringSlicePool.Put(s)
	}
}

// GetByteSlice retrieves a zero-length byte slice from the global pool.
func GetByteSlice() []byte {
	return ByteSlicePool.Get()
}

// PutByteSlice returns a byte slice to the global pool. Safe to call with nil.
func PutByteSlice(b []byte) {
	if b != nil {
		ByteSlicePool.Put(b)
	}
}

// GetBatchSlice retrieves a record batch from the global pool, growing it
// when the requested capacity exceeds the pooled one. The returned slice
// always has zero length.
//
// Example:
//
//	batch := pool.GetBatchSlice(5000)
//	defer pool.PutBatchSlice(batch)
func GetBatchSlice(capacity int) []*Record {
	batch := BatchSlicePool.Get()
	if cap(batch) < capacity {
		batch = make([]*Record, 0, capacity)
	}
	return batch[:0]
}

// PutBatchSlice returns a batch slice to the global pool. Record references
// are cleared so the records themselves can be collected or reused. Safe to
// call with nil.
func PutBatchSlice(batch []*Record) {
	if batch != nil {
		BatchSlicePool.Put(batch)
	}
}

// GenerateID generates a unique "prefix-number" ID using pooled buffers and
// an atomic counter. Safe for concurrent use.
//
// Example:
//
//	id := pool.GenerateID("rec")  // "rec-1", "rec-2", ...
func GenerateID(prefix string) string {
	buf := IDBufferPool.Get()
	defer IDBufferPool.Put(buf)

	id := atomic.AddUint64(&idCounter, 1)

	buf = append(buf, prefix...)
	buf = append(buf, '-')
	buf = appendUint64(buf, id)

	return string(buf)
}

// appendUint64 efficiently appends uint64 to byte slice
func appendUint64(buf []byte, n uint64) []byte {
	if n == 0 {
		return append(buf, '0')
	}

	temp := n
	digits := 0
	for temp > 0 {
		temp /= 10
		digits++
	}

	start := len(buf)
	buf = buf[:start+digits]

	for i := digits - 1; i >= 0; i-- {
		buf[start+i] = byte('0' + n%10)
		n /= 10
	}

	return buf
}

// BufferPool manages byte buffer pooling with size-based buckets. It keeps
// one pool per bucket and picks the smallest bucket that fits a request,
// which keeps fragmentation down for I/O-heavy destinations.
type BufferPool struct {
	pools []*Pool[[]byte]
	sizes []int
}

// NewBufferPool creates a buffer pool with power-of-2 buckets from 512B to
// 16MB. Requests above the largest bucket are allocated directly.
func NewBufferPool() *BufferPool {
	sizes := []int{
		512,
		1024,
		4096,
		16384,
		65536,
		262144,
		1048576,
		4194304,
		16777216,
	}

	pools := make([]*Pool[[]byte], len(sizes))
	for i, size := range sizes {
		size := size
		pools[i] = New(
			func() []byte {
				return make([]byte, size)
			},
			func(b []byte) {},
		)
	}

	return &BufferPool{
		pools: pools,
		sizes: sizes,
	}
}

// Get returns a buffer of at least the requested size. The buffer's length
// is set to size; its capacity may be larger.
func (p *BufferPool) Get(size int) []byte {
	for i, s := range p.sizes {
		if s >= size {
			buf := p.pools[i].Get()
			return buf[:size]
		}
	}

	// Too large for any bucket
	return make([]byte, size)
}

// Put returns a buffer to the bucket matching its capacity. Buffers that
// fit no bucket are left to the garbage collector.
func (p *BufferPool) Put(buf []byte) {
	size := cap(buf)

	for i, s := range p.sizes {
		if s == size {
			p.pools[i].Put(buf)
			return
		}
	}
}

// GlobalBufferPool provides size-based byte buffer pooling for I/O paths.
var GlobalBufferPool = NewBufferPool()

// SetData sets a data field on the record, initializing the data map from
// the pool if needed.
func (r *Record) SetData(key string, value interface{}) {
	if r.Data == nil {
		r.Data = GetMap()
	}
	r.Data[key] = value
}

// GetData retrieves a data field from the record.
func (r *Record) GetData(key string) (interface{}, bool) {
	if r.Data == nil {
		return nil, false
	}
	val, ok := r.Data[key]
	return val, ok
}

// SetMetadata sets a custom metadata field, initializing the metadata map
// from the pool if needed.
func (r *Record) SetMetadata(key string, value interface{}) {
	if r.Metadata.Custom == nil {
		r.Metadata.Custom = GetMap()
	}
	r.Metadata.Custom[key] = value
}

// GetMetadata retrieves a custom metadata field from the record.
func (r *Record) GetMetadata(key string) (interface{}, bool) {
	if r.Metadata.Custom == nil {
		return nil, false
	}
	val, ok := r.Metadata.Custom[key]
	return val, ok
}

// Release returns the record and its nested resources to their pools.
// Call it when the record is no longer needed, typically via defer.
func (r *Record) Release() {
	PutRecord(r)
}

// SetTimestamp sets the record's extraction timestamp.
func (r *Record) SetTimestamp(t time.Time) {
	r.Metadata.Timestamp = t
}

// GetTimestamp returns the record's extraction timestamp.
func (r *Record) GetTimestamp() time.Time {
	return r.Metadata.Timestamp
}

// SetStreamID sets the stream identifier for multi-stream sources.
func (r *Record) SetStreamID(streamID string) {
	r.Metadata.StreamID = streamID
}

// GetStreamID returns the stream identifier.
func (r *Record) GetStreamID() string {
	return r.Metadata.StreamID
}

// SetEndpoint sets the API endpoint the record was fetched from.
func (r *Record) SetEndpoint(endpoint string) {
	r.Metadata.Endpoint = endpoint
}

// GetEndpoint returns the API endpoint the record was fetched from.
func (r *Record) GetEndpoint() string {
	return r.Metadata.Endpoint
}

// SetOffset sets the record's ordinal position within its stream.
func (r *Record) SetOffset(offset int64) {
	r.Metadata.Offset = offset
}

// GetOffset returns the record's ordinal position within its stream.
func (r *Record) GetOffset() int64 {
	return r.Metadata.Offset
}

// NewRecord creates a record with the given source and data. The record
// comes from the pool with a unique ID and current timestamp; the provided
// data map is used directly. Call record.Release when done.
func NewRecord(source string, data map[string]interface{}) *Record {
	r := GetRecord()
	r.ID = GenerateID("rec")
	r.Data = data
	r.Metadata.Source = source
	r.Metadata.Timestamp = time.Now()
	if r.Metadata.Custom == nil {
		r.Metadata.Custom = GetMap()
	}
	return r
}

// NewRecordFromPool creates a record using entirely pooled resources,
// including a fresh pooled data map. This is the most efficient way to
// build records field by field. Call record.Release when done.
func NewRecordFromPool(source string) *Record {
	r := GetRecord()
	r.ID = GenerateID("rec")
	r.Data = GetMap()
	r.Metadata.Source = source
	r.Metadata.Timestamp = time.Now()
	r.Metadata.Custom = GetMap()
	return r
}

// Stats represents pool statistics for monitoring.
type Stats struct {
	// Allocated is the total number of objects created by the pool
	Allocated int64
	// InUse is the current number of objects checked out from the pool
	InUse int64
	// Hits is the number of successful pool retrievals
	Hits int64
	// Misses is the number of times a new object had to be created
	Misses int64
}

// GetGlobalStats returns statistics for the global pools, keyed by
// "record", "map", "string_slice", and "byte_slice". Useful for spotting
// leaks where records are emitted but never released.
func GetGlobalStats() map[string]Stats {
	recordAlloc, recordInUse, recordHits, recordMisses := RecordPool.Stats()
	mapAlloc, mapInUse, mapHits, mapMisses := MapPool.Stats()
	stringAlloc, stringInUse, stringHits, stringMisses := StringSlicePool.Stats()
	byteAlloc, byteInUse, byteHits, byteMisses := ByteSlicePool.Stats()

	return map[string]Stats{
		"record": {
			Allocated: recordAlloc,
			InUse:     recordInUse,
			Hits:      recordHits,
			Misses:    recordMisses,
		},
		"map": {
			Allocated: mapAlloc,
			InUse:     mapInUse,
			Hits:      mapHits,
			Misses:    mapMisses,
		},
		"string_slice": {
			Allocated: stringAlloc,
			InUse:     stringInUse,
			Hits:      stringHits,
			Misses:    stringMisses,
		},
		"byte_slice": {
			Allocated: byteAlloc,
			InUse:     byteInUse,
			Hits:      byteHits,
			Misses:    byteMisses,
		},
	}
}
