package compression

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var algorithms = []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2, Deflate}

func TestCompressorRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte(`{"_id": "42", "name": "roundtrip roundtrip roundtrip"}`+"\n"), 200)

	for _, algorithm := range algorithms {
		t.Run(string(algorithm), func(t *testing.T) {
			comp, err := NewCompressor(&Config{Algorithm: algorithm, Level: Default})
			require.NoError(t, err)

			compressed, err := comp.Compress(original)
			require.NoError(t, err)

			decompressed, err := comp.Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, original, decompressed)

			if algorithm != None {
				assert.Less(t, len(compressed), len(original),
					"repetitive payload should shrink under %s", algorithm)
			}
		})
	}
}

func TestCompressorStreamRoundTrip(t *testing.T) {
	original := bytes.Repeat([]byte("stream stream stream stream "), 500)

	for _, algorithm := range algorithms {
		t.Run(string(algorithm), func(t *testing.T) {
			comp, err := NewCompressor(&Config{Algorithm: algorithm, Level: Default})
			require.NoError(t, err)

			var compressed bytes.Buffer
			require.NoError(t, comp.CompressStream(&compressed, bytes.NewReader(original)))

			var decompressed bytes.Buffer
			require.NoError(t, comp.DecompressStream(&decompressed, &compressed))
			assert.Equal(t, original, decompressed.Bytes())
		})
	}
}

func TestStreamWriterMatchesStreamReader(t *testing.T) {
	original := bytes.Repeat([]byte("chunked output line\n"), 300)

	for _, algorithm := range algorithms {
		t.Run(string(algorithm), func(t *testing.T) {
			var sink bytes.Buffer
			w, err := NewStreamWriter(&sink, &Config{Algorithm: algorithm, Level: Default})
			require.NoError(t, err)

			// Write in small chunks the way a destination does.
			for off := 0; off < len(original); off += 64 {
				end := off + 64
				if end > len(original) {
					end = len(original)
				}
				_, err := w.Write(original[off:end])
				require.NoError(t, err)
			}
			require.NoError(t, w.Close())

			r, err := NewStreamReader(bytes.NewReader(sink.Bytes()), algorithm)
			require.NoError(t, err)

			decompressed, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, original, decompressed)
		})
	}
}

func TestCompressorPoolReuse(t *testing.T) {
	pool := NewCompressorPool(&Config{Algorithm: Zstd, Level: Default})
	payload := bytes.Repeat([]byte("pooled "), 100)

	for i := 0; i < 5; i++ {
		compressed, err := pool.Compress(payload)
		require.NoError(t, err)

		decompressed, err := pool.Decompress(compressed)
		require.NoError(t, err)
		assert.Equal(t, payload, decompressed)
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in      string
		want    Algorithm
		wantErr bool
	}{
		{in: "", want: None},
		{in: "none", want: None},
		{in: "gzip", want: Gzip},
		{in: "snappy", want: Snappy},
		{in: "lz4", want: LZ4},
		{in: "zstd", want: Zstd},
		{in: "s2", want: S2},
		{in: "deflate", want: Deflate},
		{in: "brotli", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseAlgorithm(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".gz", Extension(Gzip))
	assert.Equal(t, ".zst", Extension(Zstd))
	assert.Equal(t, ".lz4", Extension(LZ4))
	assert.Equal(t, ".snappy", Extension(Snappy))
	assert.Equal(t, ".s2", Extension(S2))
	assert.Equal(t, ".deflate", Extension(Deflate))
	assert.Equal(t, "", Extension(None))
}

func TestNewCompressorRejectsUnknownAlgorithm(t *testing.T) {
	_, err := NewCompressor(&Config{Algorithm: "sevenzip"})
	assert.Error(t, err)
}

func TestNoneCompressorPassesThrough(t *testing.T) {
	comp, err := NewCompressor(&Config{Algorithm: None})
	require.NoError(t, err)

	data := []byte("untouched")
	out, err := comp.Compress(data)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}
