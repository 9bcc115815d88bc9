package compression

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// NewStreamWriter wraps dst in a compressing io.WriteCloser for the
// configured algorithm. Closing the returned writer flushes the
// compression frame but does not close dst; the caller still owns the
// underlying file or connection.
//
// Unlike Compressor.Compress, the stream writer never buffers the whole
// payload, so destinations can emit arbitrarily large outputs.
func NewStreamWriter(dst io.Writer, config *Config) (io.WriteCloser, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Algorithm {
	case None:
		return nopWriteCloser{dst}, nil
	case Gzip:
		return gzip.NewWriterLevel(dst, mapGzipLevel(config.Level))
	case Snappy:
		return snappy.NewBufferedWriter(dst), nil
	case S2:
		return s2.NewWriter(dst), nil
	case LZ4:
		w := lz4.NewWriter(dst)
		if err := w.Apply(lz4.CompressionLevelOption(mapLZ4Level(config.Level))); err != nil {
			return nil, err
		}
		return w, nil
	case Zstd:
		return zstd.NewWriter(dst, zstd.WithEncoderLevel(mapZstdLevel(config.Level)))
	case Deflate:
		return flate.NewWriter(dst, mapDeflateLevel(config.Level))
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %q", config.Algorithm)
	}
}

// NewStreamReader wraps src in a decompressing io.Reader for the given
// algorithm, the inverse of NewStreamWriter.
func NewStreamReader(src io.Reader, algorithm Algorithm) (io.Reader, error) {
	switch algorithm {
	case None:
		return src, nil
	case Gzip:
		return gzip.NewReader(src)
	case Snappy:
		return snappy.NewReader(src), nil
	case S2:
		return s2.NewReader(src), nil
	case LZ4:
		return lz4.NewReader(src), nil
	case Zstd:
		dec, err := zstd.NewReader(src)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case Deflate:
		return flate.NewReader(src), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %q", algorithm)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
