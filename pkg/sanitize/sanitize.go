// Package sanitize scrubs null-codepoint artifacts from raw API payloads
// before they reach the JSON decoder.
//
// Some upstream backends leak NUL characters into string fields, either as
// the literal six-byte escape text `\u0000` or as a raw 0x00 byte. Decoding
// them would produce NUL runes that downstream stores (Postgres text columns
// in particular) reject, so the payload is cleaned first and the removal
// count is reported for observability.
package sanitize

import "bytes"

// escapedNull is the six-byte escape text as it appears in the undecoded
// payload, i.e. backslash-u-0-0-0-0, not the decoded rune.
var escapedNull = []byte(`\u0000`)

// Clean removes every occurrence of the `\u0000` escape text and every raw
// 0x00 byte from raw. It returns the cleaned payload and the number of
// occurrences removed. A clean payload is returned as-is without copying.
// Clean never fails; errors from malformed JSON are the decoder's to report.
//
// Removal repeats until a pass finds nothing to remove: deleting a raw
// 0x00 byte that interrupts the escape text splices the surrounding bytes
// into a complete escape, which a single pass would leave in the payload.
func Clean(raw []byte) ([]byte, int) {
	cleaned := raw
	total := 0
	for {
		escapes := bytes.Count(cleaned, escapedNull)
		nulls := bytes.Count(cleaned, []byte{0x00})
		if escapes == 0 && nulls == 0 {
			return cleaned, total
		}
		if escapes > 0 {
			cleaned = bytes.ReplaceAll(cleaned, escapedNull, nil)
		}
		if nulls > 0 {
			cleaned = bytes.ReplaceAll(cleaned, []byte{0x00}, nil)
		}
		total += escapes + nulls
	}
}
