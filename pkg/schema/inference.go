// Package schema infers JSON-schema-style field descriptors from observed
// records. Inference runs once per stream, over the first record of the
// first page; the resulting document is reused for the remainder of the
// stream's lifetime rather than re-derived per record.
//
// Every descriptor is nullable by convention: later pages or later syncs may
// omit a field present in the sampled record, or carry one absent from it.
// Streams that never return a record get a static fallback document, never
// an empty one.
package schema

import (
	"encoding/json"
	"regexp"

	gojson "github.com/goccy/go-json"
)

// dateTimePattern recognizes ISO-8601 timestamps such as
// "2024-01-01T00:00:00.000Z". Bare dates stay plain strings; the source
// system only ever emits full timestamps for its temporal fields.
var dateTimePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`)

// Types holds the JSON-schema type list of a descriptor. A single entry
// marshals to a bare string, multiple entries to an array, matching the
// conventional schema shorthand.
type Types []string

// MarshalJSON implements json.Marshaler.
func (t Types) MarshalJSON() ([]byte, error) {
	if len(t) == 1 {
		return gojson.Marshal(t[0])
	}
	return gojson.Marshal([]string(t))
}

// UnmarshalJSON implements json.Unmarshaler, accepting both the bare-string
// and the array form.
func (t *Types) UnmarshalJSON(data []byte) error {
	var single string
	if err := gojson.Unmarshal(data, &single); err == nil {
		*t = Types{single}
		return nil
	}
	var many []string
	if err := gojson.Unmarshal(data, &many); err != nil {
		return err
	}
	*t = many
	return nil
}

// Has reports whether name is among the descriptor's types.
func (t Types) Has(name string) bool {
	for _, n := range t {
		if n == name {
			return true
		}
	}
	return false
}

// Concrete returns the first non-null type name, or "null" when the
// descriptor allows nothing else.
func (t Types) Concrete() string {
	for _, n := range t {
		if n != "null" {
			return n
		}
	}
	return "null"
}

// ItemsSpec is the unconstrained array-items descriptor. It always marshals
// to an empty object; heterogeneous arrays are common upstream, so items are
// deliberately left open.
type ItemsSpec struct{}

// Descriptor describes a single field in JSON-schema style.
type Descriptor struct {
	Type                 Types      `json:"type"`
	Format               string     `json:"format,omitempty"`
	Items                *ItemsSpec `json:"items,omitempty"`
	AdditionalProperties bool       `json:"additionalProperties,omitempty"`
}

// Document maps field names to their inferred descriptors.
type Document map[string]Descriptor

// InferType derives the descriptor for one decoded JSON value. Booleans are
// checked before integers because a boolean is representable as an integer
// in some source type systems; json.Number keeps integer and floating point
// inputs distinguishable, which plain float64 decoding would collapse.
func InferType(value interface{}) Descriptor {
	switch v := value.(type) {
	case nil:
		return Descriptor{Type: Types{"null"}}
	case bool:
		return Descriptor{Type: Types{"null", "boolean"}}
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return Descriptor{Type: Types{"null", "integer"}}
		}
		return Descriptor{Type: Types{"null", "number"}}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Descriptor{Type: Types{"null", "integer"}}
	case float32:
		return Descriptor{Type: Types{"null", "number"}}
	case float64:
		// Only reached when the payload was decoded without UseNumber,
		// which collapses 3 and 3.0 into the same value. Classify as
		// number: widening integer to number is safe, the reverse is not.
		return Descriptor{Type: Types{"null", "number"}}
	case string:
		if dateTimePattern.MatchString(v) {
			return Descriptor{Type: Types{"null", "string"}, Format: "date-time"}
		}
		return Descriptor{Type: Types{"null", "string"}}
	case []interface{}:
		return Descriptor{Type: Types{"null", "array"}, Items: &ItemsSpec{}}
	case map[string]interface{}:
		return Descriptor{Type: Types{"null", "object"}, AdditionalProperties: true}
	default:
		return Descriptor{Type: Types{"null", "string"}}
	}
}

// InferDocument derives a full document from one representative record.
func InferDocument(record map[string]interface{}) Document {
	doc := make(Document, len(record))
	for field, value := range record {
		doc[field] = InferType(value)
	}
	return doc
}

// FallbackDocument returns the static document used when a stream is empty
// at discovery time. It names only the fields the extraction contract
// guarantees, plus an open data object for everything else.
func FallbackDocument() Document {
	return Document{
		"_id":       {Type: Types{"null", "string"}},
		"updatedAt": {Type: Types{"null", "string"}, Format: "date-time"},
		"createdAt": {Type: Types{"null", "string"}, Format: "date-time"},
		"data":      {Type: Types{"null", "object"}, AdditionalProperties: true},
	}
}
