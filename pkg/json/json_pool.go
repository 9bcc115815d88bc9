// Package json provides high-performance JSON serialization with object pooling
package json

import (
	"bytes"
	"io"
	"sync"

	"github.com/ajitpratap0/hubble/pkg/pool"
	gojson "github.com/goccy/go-json"
)

// JSONPool manages pooled JSON encoders and decoders
type JSONPool struct {
	encoderPool sync.Pool
	decoderPool sync.Pool
	bufferPool  sync.Pool
}

// Global JSON pool instance
var globalPool = &JSONPool{
	encoderPool: sync.Pool{
		New: func() interface{} {
			return &pooledEncoder{
				buffer: bytes.NewBuffer(make([]byte, 0, 4096)),
			}
		},
	},
	decoderPool: sync.Pool{
		New: func() interface{} {
			return &pooledDecoder{}
		},
	},
	bufferPool: sync.Pool{
		New: func() interface{} {
			return bytes.NewBuffer(make([]byte, 0, 4096))
		},
	},
}

// pooledEncoder wraps a JSON encoder with a reusable buffer
type pooledEncoder struct {
	encoder *gojson.Encoder
	buffer  *bytes.Buffer
}

// pooledDecoder wraps a JSON decoder
type pooledDecoder struct {
	decoder *gojson.Decoder
}

// GetEncoder gets a pooled JSON encoder
func GetEncoder(w io.Writer) *gojson.Encoder {
	pe := globalPool.encoderPool.Get().(*pooledEncoder)
	pe.buffer.Reset()

	// Always create a new encoder with the specified writer
	pe.encoder = gojson.NewEncoder(w)

	// Configure for performance
	pe.encoder.SetEscapeHTML(false)

	return pe.encoder
}

// PutEncoder returns an encoder to the pool
func PutEncoder(enc *gojson.Encoder) {
	pe := &pooledEncoder{
		encoder: enc,
		buffer:  bytes.NewBuffer(make([]byte, 0, 4096)),
	}
	globalPool.encoderPool.Put(pe)
}

// GetDecoder gets a pooled JSON decoder. Decoders always use json.Number for
// numeric values so integer and floating point inputs stay distinguishable.
func GetDecoder(r io.Reader) *gojson.Decoder {
	pd := globalPool.decoderPool.Get().(*pooledDecoder)

	// Always create a new decoder with the specified reader
	pd.decoder = gojson.NewDecoder(r)
	pd.decoder.UseNumber()

	return pd.decoder
}

// PutDecoder returns a decoder to the pool
func PutDecoder(dec *gojson.Decoder) {
	pd := &pooledDecoder{
		decoder: dec,
	}
	globalPool.decoderPool.Put(pd)
}

// GetBuffer gets a pooled bytes.Buffer
func GetBuffer() *bytes.Buffer {
	buf := globalPool.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a buffer to the pool
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 1024*1024 { // Don't pool very large buffers
		return
	}
	globalPool.bufferPool.Put(buf)
}

// Marshal is a high-performance drop-in replacement for json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a high-performance drop-in replacement for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// UnmarshalWithNumbers decodes data preserving the integer/float distinction:
// all numeric values arrive as json.Number instead of float64.
func UnmarshalWithNumbers(data []byte, v interface{}) error {
	dec := GetDecoder(bytes.NewReader(data))
	defer PutDecoder(dec)

	return dec.Decode(v)
}

// MarshalIndent is a high-performance replacement for json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// MarshalToWriter marshals v directly to a writer using a pooled encoder
func MarshalToWriter(w io.Writer, v interface{}) error {
	enc := GetEncoder(w)
	defer PutEncoder(enc)

	return enc.Encode(v)
}

// MarshalToBuffer marshals v to a pooled buffer
func MarshalToBuffer(v interface{}) (*bytes.Buffer, error) {
	buf := GetBuffer()

	enc := GetEncoder(buf)
	defer PutEncoder(enc)

	if err := enc.Encode(v); err != nil {
		PutBuffer(buf)
		return nil, err
	}

	return buf, nil
}

// StreamingEncoder provides efficient streaming JSON encoding
type StreamingEncoder struct {
	writer      io.Writer
	encoder     *gojson.Encoder
	firstRecord bool
	isArray     bool
	pretty      bool
	indent      string
}

// NewStreamingEncoder creates a new streaming encoder
func NewStreamingEncoder(w io.Writer, isArray bool) *StreamingEncoder {
	enc := GetEncoder(w)

	se := &StreamingEncoder{
		writer:      w,
		encoder:     enc,
		firstRecord: true,
		isArray:     isArray,
	}

	if isArray {
		w.Write([]byte{'['})
	}

	return se
}

// SetPretty enables pretty printing
func (se *StreamingEncoder) SetPretty(pretty bool, indent string) {
	se.pretty = pretty
	se.indent = indent
	if pretty {
		se.encoder.SetIndent("", indent)
	}
}

// Encode encodes a single value
func (se *StreamingEncoder) Encode(v interface{}) error {
	if se.isArray {
		if !se.firstRecord {
			se.writer.Write([]byte{','})
			if se.pretty {
				se.writer.Write([]byte{'\n'})
			}
		}
		se.firstRecord = false
	}

	return se.encoder.Encode(v)
}

// Close finalizes the encoding
func (se *StreamingEncoder) Close() error {
	if se.isArray {
		if se.pretty {
			se.writer.Write([]byte{'\n'})
		}
		se.writer.Write([]byte{']'})
	}

	PutEncoder(se.encoder)
	return nil
}

// MarshalRecords marshals a slice of records in the requested output format
func MarshalRecords(records []*pool.Record, format string) ([]byte, error) {
	switch format {
	case "array":
		return MarshalRecordsArray(records)
	case "lines", "jsonl":
		return MarshalRecordsLines(records)
	default:
		return MarshalRecordsArray(records)
	}
}

// MarshalRecordsArray marshals records as a JSON array
func MarshalRecordsArray(records []*pool.Record) ([]byte, error) {
	if len(records) == 0 {
		return []byte("[]"), nil
	}

	buf := GetBuffer()
	defer PutBuffer(buf)

	buf.WriteByte('[')
	for i, record := range records {
		if i > 0 {
			buf.WriteByte(',')
		}

		data, err := gojson.Marshal(record.Data)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
	}
	buf.WriteByte(']')

	// Copy out: the buffer goes back to the pool
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())

	return result, nil
}

// MarshalRecordsLines marshals records as line-delimited JSON
func MarshalRecordsLines(records []*pool.Record) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	for _, record := range records {
		data, err := gojson.Marshal(record.Data)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())

	return result, nil
}
