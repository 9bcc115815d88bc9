package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsonpool "github.com/ajitpratap0/hubble/pkg/json"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name        string
		input       []byte
		want        []byte
		wantRemoved int
	}{
		{
			name:        "clean payload untouched",
			input:       []byte(`{"_id": "a1", "name": "widget"}`),
			want:        []byte(`{"_id": "a1", "name": "widget"}`),
			wantRemoved: 0,
		},
		{
			name:        "escape text removed",
			input:       []byte(`{"name": "wid\u0000get"}`),
			want:        []byte(`{"name": "widget"}`),
			wantRemoved: 1,
		},
		{
			name:        "raw null byte removed",
			input:       append([]byte(`{"name": "wid`), append([]byte{0x00}, []byte(`get"}`)...)...),
			want:        []byte(`{"name": "widget"}`),
			wantRemoved: 1,
		},
		{
			name:        "mixed forms counted separately",
			input:       append([]byte(`{"a": "x\u0000y`), append([]byte{0x00, 0x00}, []byte(`z"}`)...)...),
			want:        []byte(`{"a": "xyz"}`),
			wantRemoved: 3,
		},
		{
			name:        "repeated escapes",
			input:       []byte(`{"a": "\u0000\u0000\u0000"}`),
			want:        []byte(`{"a": ""}`),
			wantRemoved: 3,
		},
		{
			name:        "empty payload",
			input:       []byte{},
			want:        []byte{},
			wantRemoved: 0,
		},
		{
			name:        "multibyte text preserved",
			input:       []byte(`{"name": "næch\u0000ste – 日本"}`),
			want:        []byte(`{"name": "næchste – 日本"}`),
			wantRemoved: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, removed := Clean(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantRemoved, removed)
		})
	}
}

func TestCleanZeroCopyWhenClean(t *testing.T) {
	raw := []byte(`{"_id": "a1"}`)
	cleaned, removed := Clean(raw)
	require.Equal(t, 0, removed)
	// No occurrence means no allocation: same backing array comes back.
	assert.Same(t, &raw[0], &cleaned[0])
}

func TestCleanIdempotent(t *testing.T) {
	raw := []byte("{\"a\": \"x\\u0000y\x00z\"}")
	once, removedOnce := Clean(raw)
	twice, removedTwice := Clean(once)

	assert.Equal(t, once, twice)
	assert.Equal(t, 2, removedOnce)
	assert.Equal(t, 0, removedTwice)
}

// A raw 0x00 byte lodged inside the escape text splices the surrounding
// bytes back into a complete escape once it is removed, so one removal pass
// is not enough.
func TestCleanRemovesEscapeReassembledByNullByte(t *testing.T) {
	raw := append([]byte(`{"notes": "x\u00`), append([]byte{0x00}, []byte(`00y"}`)...)...)

	cleaned, removed := Clean(raw)
	assert.Equal(t, []byte(`{"notes": "xy"}`), cleaned)
	assert.Equal(t, 2, removed)

	again, removedAgain := Clean(cleaned)
	assert.Equal(t, cleaned, again)
	assert.Equal(t, 0, removedAgain)
}

// A payload that fails to decode before cleaning must decode after it; this
// is the reason the sanitizer runs ahead of the decoder.
func TestCleanMakesPayloadDecodable(t *testing.T) {
	raw := append([]byte(`{"data": [{"_id": "a1", "notes": "line`), append([]byte{0x00}, []byte(`break"}]}`)...)...)

	cleaned, removed := Clean(raw)
	require.Equal(t, 1, removed)

	var envelope struct {
		Data []map[string]interface{} `json:"data"`
	}
	require.NoError(t, jsonpool.Unmarshal(cleaned, &envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, "linebreak", envelope.Data[0]["notes"])
}
