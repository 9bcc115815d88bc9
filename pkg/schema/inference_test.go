package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jsonpool "github.com/ajitpratap0/hubble/pkg/json"
)

func TestInferType(t *testing.T) {
	tests := []struct {
		name       string
		value      interface{}
		wantTypes  Types
		wantFormat string
	}{
		{name: "null", value: nil, wantTypes: Types{"null"}},
		{name: "boolean", value: true, wantTypes: Types{"null", "boolean"}},
		{name: "integer number", value: json.Number("42"), wantTypes: Types{"null", "integer"}},
		{name: "float number", value: json.Number("3.14"), wantTypes: Types{"null", "number"}},
		{name: "native int", value: 42, wantTypes: Types{"null", "integer"}},
		{name: "native float", value: 3.14, wantTypes: Types{"null", "number"}},
		{name: "whole-valued float stays number", value: 3.0, wantTypes: Types{"null", "number"}},
		{name: "plain string", value: "hello", wantTypes: Types{"null", "string"}},
		{
			name:       "date-time string",
			value:      "2024-01-01T00:00:00.000Z",
			wantTypes:  Types{"null", "string"},
			wantFormat: "date-time",
		},
		{
			name:       "offset date-time string",
			value:      "2024-01-01T12:30:45+02:00",
			wantTypes:  Types{"null", "string"},
			wantFormat: "date-time",
		},
		{name: "bare date stays string", value: "2024-01-01", wantTypes: Types{"null", "string"}},
		{name: "almost a date", value: "2024-01-01Txyz", wantTypes: Types{"null", "string"}},
		{name: "array", value: []interface{}{1, 2, 3}, wantTypes: Types{"null", "array"}},
		{name: "object", value: map[string]interface{}{"key": "value"}, wantTypes: Types{"null", "object"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := InferType(tt.value)
			assert.Equal(t, tt.wantTypes, desc.Type)
			assert.Equal(t, tt.wantFormat, desc.Format)
		})
	}
}

// Booleans must map to boolean even though they are representable as
// integers; the switch order carries that guarantee.
func TestInferTypeBooleanBeforeInteger(t *testing.T) {
	desc := InferType(false)
	assert.Equal(t, Types{"null", "boolean"}, desc.Type)
}

func TestInferTypeArrayAndObjectShape(t *testing.T) {
	arr := InferType([]interface{}{"a", 1})
	require.NotNil(t, arr.Items)
	assert.False(t, arr.AdditionalProperties)

	obj := InferType(map[string]interface{}{"nested": true})
	assert.Nil(t, obj.Items)
	assert.True(t, obj.AdditionalProperties)
}

func TestInferDocument(t *testing.T) {
	record := map[string]interface{}{
		"a": true,
		"b": json.Number("3"),
		"c": json.Number("3.5"),
		"s": "x",
		"d": "2024-01-01T00:00:00.000Z",
		"n": nil,
	}

	doc := InferDocument(record)
	require.Len(t, doc, 6)

	assert.Equal(t, Types{"null", "boolean"}, doc["a"].Type)
	assert.Equal(t, Types{"null", "integer"}, doc["b"].Type)
	assert.Equal(t, Types{"null", "number"}, doc["c"].Type)
	assert.Equal(t, Types{"null", "string"}, doc["s"].Type)
	assert.Equal(t, "date-time", doc["d"].Format)
	assert.Equal(t, Types{"null"}, doc["n"].Type)
}

func TestDocumentMarshalShape(t *testing.T) {
	doc := Document{
		"n":    {Type: Types{"null"}},
		"tags": {Type: Types{"null", "array"}, Items: &ItemsSpec{}},
		"meta": {Type: Types{"null", "object"}, AdditionalProperties: true},
		"when": {Type: Types{"null", "string"}, Format: "date-time"},
	}

	raw, err := jsonpool.Marshal(doc)
	require.NoError(t, err)

	want := `{
		"n":    {"type": "null"},
		"tags": {"type": ["null", "array"], "items": {}},
		"meta": {"type": ["null", "object"], "additionalProperties": true},
		"when": {"type": ["null", "string"], "format": "date-time"}
	}`
	assert.JSONEq(t, want, string(raw))
}

func TestTypesRoundTrip(t *testing.T) {
	var single Types
	require.NoError(t, jsonpool.Unmarshal([]byte(`"null"`), &single))
	assert.Equal(t, Types{"null"}, single)

	var many Types
	require.NoError(t, jsonpool.Unmarshal([]byte(`["null","string"]`), &many))
	assert.Equal(t, Types{"null", "string"}, many)

	assert.True(t, many.Has("string"))
	assert.False(t, many.Has("integer"))
	assert.Equal(t, "string", many.Concrete())
	assert.Equal(t, "null", single.Concrete())
}

func TestFallbackDocument(t *testing.T) {
	doc := FallbackDocument()

	require.NotEmpty(t, doc)
	assert.Contains(t, doc, "_id")
	assert.Contains(t, doc, "updatedAt")
	assert.Equal(t, "date-time", doc["updatedAt"].Format)
	// The fallback is a fresh copy each call; mutating one must not leak.
	doc["_id"] = Descriptor{Type: Types{"null", "integer"}}
	assert.Equal(t, Types{"null", "string"}, FallbackDocument()["_id"].Type)
}
