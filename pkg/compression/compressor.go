// Package compression provides output compression for extraction
// destinations. It wraps six algorithms behind one Compressor interface,
// supports both in-memory and streaming operation, and pools expensive
// encoder state so destinations can compress every batch without
// re-allocating.
//
// Algorithm choice is a destination config concern: gzip for files that
// downstream tools must read, zstd for the best ratio, snappy/s2/lz4 when
// write throughput matters more than size.
package compression

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"sync"

	stringpool "github.com/ajitpratap0/hubble/pkg/strings"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies a compression algorithm.
type Algorithm string

const (
	// None passes data through unchanged.
	None Algorithm = "none"
	// Gzip is the widely compatible default for file output.
	Gzip Algorithm = "gzip"
	// Snappy favors speed over ratio.
	Snappy Algorithm = "snappy"
	// LZ4 is extremely fast with a modest ratio.
	LZ4 Algorithm = "lz4"
	// Zstd gives the best ratio at good speed.
	Zstd Algorithm = "zstd"
	// S2 is snappy-compatible framing with better compression.
	S2 Algorithm = "s2"
	// Deflate is raw DEFLATE without the gzip envelope.
	Deflate Algorithm = "deflate"
)

// ParseAlgorithm maps a config string to an Algorithm. The empty string
// means no compression.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", None:
		return None, nil
	case Gzip, Snappy, LZ4, Zstd, S2, Deflate:
		return Algorithm(s), nil
	default:
		return None, fmt.Errorf("unsupported compression algorithm: %q", s)
	}
}

// Extension returns the conventional file suffix for an algorithm, empty
// for None. Destinations append it to output paths so files are readable
// by standard tools.
func Extension(a Algorithm) string {
	switch a {
	case Gzip:
		return ".gz"
	case Snappy:
		return ".snappy"
	case LZ4:
		return ".lz4"
	case Zstd:
		return ".zst"
	case S2:
		return ".s2"
	case Deflate:
		return ".deflate"
	default:
		return ""
	}
}

// Level controls the speed/ratio trade-off for algorithms that support
// tunable effort.
type Level int

const (
	// Fastest prioritizes throughput.
	Fastest Level = 1
	// Default balances speed and ratio.
	Default Level = 5
	// Better spends CPU for a smaller output.
	Better Level = 7
	// Best maximizes the ratio, for archival output.
	Best Level = 9
)

// Compressor compresses and decompresses byte slices and streams. All
// implementations are safe for concurrent use.
type Compressor interface {
	// Compress returns the compressed form of data. Input is not modified.
	Compress(data []byte) ([]byte, error)

	// Decompress returns the original bytes. Input is not modified.
	Decompress(data []byte) ([]byte, error)

	// CompressStream compresses src into dst.
	CompressStream(dst io.Writer, src io.Reader) error

	// DecompressStream decompresses src into dst.
	DecompressStream(dst io.Writer, src io.Reader) error

	// Algorithm returns the configured algorithm.
	Algorithm() Algorithm

	// Level returns the configured level.
	Level() Level
}

// Config selects the algorithm and level for a compressor.
type Config struct {
	Algorithm  Algorithm
	Level      Level
	BufferSize int // streaming buffer size, 0 uses the io.Copy default
}

// DefaultConfig favors speed: snappy at the default level.
func DefaultConfig() *Config {
	return &Config{
		Algorithm:  Snappy,
		Level:      Default,
		BufferSize: 64 * 1024,
	}
}

// NewCompressor builds a compressor for the configured algorithm. A nil
// config uses DefaultConfig.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Algorithm {
	case None:
		return &noneCompressor{}, nil
	case Gzip:
		return newGzipCompressor(config)
	case Snappy:
		return newSnappyCompressor(config)
	case LZ4:
		return newLZ4Compressor(config)
	case Zstd:
		return newZstdCompressor(config)
	case S2:
		return newS2Compressor(config)
	case Deflate:
		return newDeflateCompressor(config)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %q", config.Algorithm)
	}
}

// CompressorPool reuses compressor instances across batches. Worth it for
// gzip and zstd, whose encoders carry large internal state.
type CompressorPool struct {
	pool   sync.Pool
	config *Config
}

// NewCompressorPool creates a pool producing compressors for config.
func NewCompressorPool(config *Config) *CompressorPool {
	if config == nil {
		config = DefaultConfig()
	}

	cp := &CompressorPool{config: config}
	cp.pool.New = func() interface{} {
		comp, _ := NewCompressor(config)
		return comp
	}
	return cp
}

// Get takes a compressor from the pool.
func (cp *CompressorPool) Get() Compressor {
	return cp.pool.Get().(Compressor)
}

// Put returns a compressor to the pool.
func (cp *CompressorPool) Put(c Compressor) {
	cp.pool.Put(c)
}

// Compress compresses data with a pooled compressor.
func (cp *CompressorPool) Compress(data []byte) ([]byte, error) {
	c := cp.Get()
	defer cp.Put(c)
	return c.Compress(data)
}

// Decompress decompresses data with a pooled compressor.
func (cp *CompressorPool) Decompress(data []byte) ([]byte, error) {
	c := cp.Get()
	defer cp.Put(c)
	return c.Decompress(data)
}

type baseCompressor struct {
	algorithm  Algorithm
	level      Level
	bufferSize int
}

func (bc *baseCompressor) Algorithm() Algorithm { return bc.algorithm }
func (bc *baseCompressor) Level() Level         { return bc.level }

type noneCompressor struct {
	baseCompressor
}

func (nc *noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (nc *noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

func (nc *noneCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	return err
}

func (nc *noneCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	return err
}

type gzipCompressor struct {
	baseCompressor
	writerPool sync.Pool
	readerPool sync.Pool
}

func newGzipCompressor(config *Config) (*gzipCompressor, error) {
	level := mapGzipLevel(config.Level)

	gc := &gzipCompressor{
		baseCompressor: baseCompressor{
			algorithm:  Gzip,
			level:      config.Level,
			bufferSize: config.BufferSize,
		},
	}

	gc.writerPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, level)
		return w
	}
	gc.readerPool.New = func() interface{} {
		return new(gzip.Reader)
	}

	return gc, nil
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	builder := stringpool.GetBuilder(stringpool.Medium)
	defer stringpool.PutBuilder(builder, stringpool.Medium)

	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)

	w.Reset(builder)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return copyOut(builder), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r := gc.readerPool.Get().(*gzip.Reader)
	defer gc.readerPool.Put(r)

	if err := r.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}

	builder := stringpool.GetBuilder(stringpool.Medium)
	defer stringpool.PutBuilder(builder, stringpool.Medium)

	if _, err := io.Copy(builder, r); err != nil {
		return nil, err
	}

	return copyOut(builder), nil
}

func (gc *gzipCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)

	w.Reset(dst)
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	return w.Close()
}

func (gc *gzipCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	r := gc.readerPool.Get().(*gzip.Reader)
	defer gc.readerPool.Put(r)

	if err := r.Reset(src); err != nil {
		return err
	}

	_, err := io.Copy(dst, r)
	return err
}

type snappyCompressor struct {
	baseCompressor
}

func newSnappyCompressor(config *Config) (*snappyCompressor, error) {
	return &snappyCompressor{
		baseCompressor: baseCompressor{
			algorithm:  Snappy,
			level:      config.Level,
			bufferSize: config.BufferSize,
		},
	}, nil
}

func (sc *snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (sc *snappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

func (sc *snappyCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	w := snappy.NewBufferedWriter(dst)
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	return w.Close()
}

func (sc *snappyCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, snappy.NewReader(src))
	return err
}

type lz4Compressor struct {
	baseCompressor
	compressionLevel lz4.CompressionLevel
}

func newLZ4Compressor(config *Config) (*lz4Compressor, error) {
	return &lz4Compressor{
		baseCompressor: baseCompressor{
			algorithm:  LZ4,
			level:      config.Level,
			bufferSize: config.BufferSize,
		},
		compressionLevel: mapLZ4Level(config.Level),
	}, nil
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	builder := stringpool.GetBuilder(stringpool.Medium)
	defer stringpool.PutBuilder(builder, stringpool.Medium)

	w := lz4.NewWriter(builder)
	if err := w.Apply(lz4.CompressionLevelOption(lc.compressionLevel)); err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return copyOut(builder), nil
}

func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	builder := stringpool.GetBuilder(stringpool.Medium)
	defer stringpool.PutBuilder(builder, stringpool.Medium)

	if _, err := io.Copy(builder, lz4.NewReader(bytes.NewReader(data))); err != nil {
		return nil, err
	}

	return copyOut(builder), nil
}

func (lc *lz4Compressor) CompressStream(dst io.Writer, src io.Reader) error {
	w := lz4.NewWriter(dst)
	if err := w.Apply(lz4.CompressionLevelOption(lc.compressionLevel)); err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	return w.Close()
}

func (lc *lz4Compressor) DecompressStream(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, lz4.NewReader(src))
	return err
}

type zstdCompressor struct {
	baseCompressor
	encoderPool sync.Pool
	decoderPool sync.Pool
}

func newZstdCompressor(config *Config) (*zstdCompressor, error) {
	level := mapZstdLevel(config.Level)

	zc := &zstdCompressor{
		baseCompressor: baseCompressor{
			algorithm:  Zstd,
			level:      config.Level,
			bufferSize: config.BufferSize,
		},
	}

	zc.encoderPool.New = func() interface{} {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
		return enc
	}
	zc.decoderPool.New = func() interface{} {
		dec, _ := zstd.NewReader(nil)
		return dec
	}

	return zc, nil
}

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc := zc.encoderPool.Get().(*zstd.Encoder)
	defer zc.encoderPool.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	dec := zc.decoderPool.Get().(*zstd.Decoder)
	defer zc.decoderPool.Put(dec)
	return dec.DecodeAll(data, nil)
}

func (zc *zstdCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	enc := zc.encoderPool.Get().(*zstd.Encoder)
	defer zc.encoderPool.Put(enc)

	enc.Reset(dst)
	if _, err := io.Copy(enc, src); err != nil {
		return err
	}
	return enc.Close()
}

func (zc *zstdCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	dec := zc.decoderPool.Get().(*zstd.Decoder)
	defer zc.decoderPool.Put(dec)

	if err := dec.Reset(src); err != nil {
		return err
	}
	_, err := io.Copy(dst, dec)
	return err
}

type s2Compressor struct {
	baseCompressor
}

func newS2Compressor(config *Config) (*s2Compressor, error) {
	return &s2Compressor{
		baseCompressor: baseCompressor{
			algorithm:  S2,
			level:      config.Level,
			bufferSize: config.BufferSize,
		},
	}, nil
}

func (sc *s2Compressor) Compress(data []byte) ([]byte, error) {
	return s2.Encode(nil, data), nil
}

func (sc *s2Compressor) Decompress(data []byte) ([]byte, error) {
	return s2.Decode(nil, data)
}

func (sc *s2Compressor) CompressStream(dst io.Writer, src io.Reader) error {
	w := s2.NewWriter(dst)
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	return w.Close()
}

func (sc *s2Compressor) DecompressStream(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, s2.NewReader(src))
	return err
}

type deflateCompressor struct {
	baseCompressor
	flateLevel int
}

func newDeflateCompressor(config *Config) (*deflateCompressor, error) {
	return &deflateCompressor{
		baseCompressor: baseCompressor{
			algorithm:  Deflate,
			level:      config.Level,
			bufferSize: config.BufferSize,
		},
		flateLevel: mapDeflateLevel(config.Level),
	}, nil
}

func (dc *deflateCompressor) Compress(data []byte) ([]byte, error) {
	builder := stringpool.GetBuilder(stringpool.Medium)
	defer stringpool.PutBuilder(builder, stringpool.Medium)

	w, err := flate.NewWriter(builder, dc.flateLevel)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	return copyOut(builder), nil
}

func (dc *deflateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	builder := stringpool.GetBuilder(stringpool.Medium)
	defer stringpool.PutBuilder(builder, stringpool.Medium)

	if _, err := io.Copy(builder, r); err != nil {
		return nil, err
	}

	return copyOut(builder), nil
}

func (dc *deflateCompressor) CompressStream(dst io.Writer, src io.Reader) error {
	w, err := flate.NewWriter(dst, dc.flateLevel)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	return w.Close()
}

func (dc *deflateCompressor) DecompressStream(dst io.Writer, src io.Reader) error {
	r := flate.NewReader(src)
	defer r.Close()

	_, err := io.Copy(dst, r)
	return err
}

// copyOut snapshots a pooled builder's contents before the builder is
// returned to the pool.
func copyOut(builder *stringpool.Builder) []byte {
	result := make([]byte, builder.Len())
	copy(result, builder.Bytes())
	return result
}

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

func mapDeflateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}
