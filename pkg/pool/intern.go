package pool

import (
	"sync"
	"sync/atomic"
)

// StringInternPool deduplicates frequently seen strings. Extraction decodes
// thousands of documents per stream that all share the same field names, so
// interning the keys collapses them to a single allocation.
type StringInternPool struct {
	mu      sync.RWMutex
	strings map[string]string
	maxSize int
	size    int64
	hits    int64
	misses  int64
}

// Global string intern pool with common document fields pre-populated
var globalStringInternPool = &StringInternPool{
	strings: make(map[string]string, 1024),
	maxSize: 10000, // Limit to prevent unbounded growth
}

func init() {
	internCommonFields()
}

// internCommonFields pre-interns the field names that show up in nearly
// every document the API returns.
func internCommonFields() {
	commonFields := []string{
		// Document identity and cursor fields
		"_id", "id", "updatedAt", "createdAt", "deletedAt",

		// Common document fields
		"name", "value", "type", "data", "status", "title",
		"description", "email", "url", "tags", "items", "count",
		"total", "meta", "params", "query",

		// Record metadata fields
		"source", "stream", "stream_id", "endpoint", "offset",
		"extracted_at", "page", "sync_id", "connector_version",
	}

	for _, field := range commonFields {
		globalStringInternPool.Intern(field)
	}
}

// Intern returns the canonical instance of s, adding it to the pool when
// seen for the first time. Once the pool is full, unseen strings are
// returned as-is.
func (p *StringInternPool) Intern(s string) string {
	// Fast path: already interned
	p.mu.RLock()
	if interned, ok := p.strings[s]; ok {
		p.mu.RUnlock()
		atomic.AddInt64(&p.hits, 1)
		return interned
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring write lock
	if interned, ok := p.strings[s]; ok {
		atomic.AddInt64(&p.hits, 1)
		return interned
	}

	currentSize := atomic.LoadInt64(&p.size)
	if currentSize >= int64(p.maxSize) {
		atomic.AddInt64(&p.misses, 1)
		return s
	}

	p.strings[s] = s
	atomic.AddInt64(&p.size, 1)
	atomic.AddInt64(&p.misses, 1)
	return s
}

// InternBytes interns a byte slice as a string.
func (p *StringInternPool) InternBytes(b []byte) string {
	return p.Intern(string(b))
}

// Stats returns intern pool statistics.
func (p *StringInternPool) Stats() (size, hits, misses int64) {
	return atomic.LoadInt64(&p.size),
		atomic.LoadInt64(&p.hits),
		atomic.LoadInt64(&p.misses)
}

// Clear resets the intern pool and re-seeds the common fields. Useful for
// tests.
func (p *StringInternPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.strings = make(map[string]string, 1024)
	atomic.StoreInt64(&p.size, 0)
	atomic.StoreInt64(&p.hits, 0)
	atomic.StoreInt64(&p.misses, 0)

	internCommonFields()
}

// InternString interns a string using the global pool.
func InternString(s string) string {
	return globalStringInternPool.Intern(s)
}

// InternBytes interns a byte slice as a string using the global pool.
func InternBytes(b []byte) string {
	return globalStringInternPool.InternBytes(b)
}

// GetInternStats returns global intern pool statistics.
func GetInternStats() (size, hits, misses int64) {
	return globalStringInternPool.Stats()
}
