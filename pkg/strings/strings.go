// Package strings provides pooled string building for hot paths: error
// formatting, object-key assembly, and compression buffers reuse builders
// instead of allocating per call.
package strings

import (
	"fmt"
	"sync"
	"unsafe"
)

// BytesToString converts a byte slice to a string without copying.
// The string shares memory with b; b must not be modified afterwards.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToBytes converts a string to a byte slice without copying.
// The slice shares memory with s and must not be written to.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// Clone copies s into freshly owned memory. Required before a string built
// on a pooled buffer outlives the builder's return to the pool.
func Clone(s string) string {
	if len(s) == 0 {
		return ""
	}
	b := make([]byte, len(s))
	copy(b, s)
	return BytesToString(b)
}

// Builder accumulates bytes into a reusable buffer. Unlike strings.Builder
// it can be reset and pooled, and String is zero-copy, so callers that keep
// the result past PutBuilder must Clone it.
type Builder struct {
	buf []byte
}

// NewBuilder returns a builder with the given initial capacity.
func NewBuilder(capacity int) *Builder {
	return &Builder{buf: make([]byte, 0, capacity)}
}

// WriteString appends s.
func (b *Builder) WriteString(s string) {
	b.buf = append(b.buf, s...)
}

// WriteByte appends a single byte.
func (b *Builder) WriteByte(c byte) {
	b.buf = append(b.buf, c)
}

// Write implements io.Writer so compressors can stream into the buffer.
func (b *Builder) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// String returns the accumulated bytes as a string without copying.
func (b *Builder) String() string {
	return BytesToString(b.buf)
}

// Bytes returns the underlying buffer.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Len returns the number of accumulated bytes.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Reset truncates the buffer, keeping its capacity.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
}

// BuilderSize selects which pool a builder comes from.
type BuilderSize int

// Size classes: keys and log lines fit Small, compressed pages and error
// chains fit Medium, Large is for whole-object bodies.
const (
	Small BuilderSize = iota
	Medium
	Large
)

var builderPools = [...]*sync.Pool{
	Small:  newBuilderPool(1 << 10),
	Medium: newBuilderPool(16 << 10),
	Large:  newBuilderPool(64 << 10),
}

func newBuilderPool(capacity int) *sync.Pool {
	return &sync.Pool{
		New: func() interface{} {
			return NewBuilder(capacity)
		},
	}
}

func poolFor(size BuilderSize) *sync.Pool {
	if size < Small || size > Large {
		size = Small
	}
	return builderPools[size]
}

// GetBuilder takes a reset builder from the pool for the given size class.
func GetBuilder(size BuilderSize) *Builder {
	builder := poolFor(size).Get().(*Builder)
	builder.Reset()
	return builder
}

// PutBuilder returns a builder to its pool. The builder and any zero-copy
// strings taken from it must not be used afterwards.
func PutBuilder(builder *Builder, size BuilderSize) {
	if builder == nil {
		return
	}
	builder.Reset()
	poolFor(size).Put(builder)
}

// Sprintf formats through a pooled builder instead of fmt's internal
// buffer. The result is cloned, so it is safe to retain.
func Sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}

	size := Small
	if estimated := len(format) + len(args)*16; estimated > 1<<10 {
		size = Medium
	}

	builder := GetBuilder(size)
	defer PutBuilder(builder, size)

	fmt.Fprintf(builder, format, args...)
	return Clone(builder.String())
}
