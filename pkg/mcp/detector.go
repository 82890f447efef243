package mcp

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// StreamJSONDetector extracts complete JSON values from a token stream
// without assuming fragment boundaries align with JSON token boundaries.
// Accumulation starts at the first '{' or '[' observed; nesting depth and
// string-literal escaping are tracked so braces inside strings do not end
// a value early.
type StreamJSONDetector struct {
	buf      strings.Builder
	active   bool
	depth    int
	inString bool
	escaped  bool
}

// NewStreamJSONDetector creates a detector with empty accumulation state.
func NewStreamJSONDetector() *StreamJSONDetector {
	return &StreamJSONDetector{}
}

// ProcessChunk consumes one stream fragment. Text that is not part of a
// JSON value comes back in passthrough, in order. When a syntactically
// complete value has been accumulated, its parsed form is returned and
// internal state resets, so later fragments are scanned from scratch.
// Balanced input that fails to parse is surfaced as passthrough text
// rather than dropped.
func (d *StreamJSONDetector) ProcessChunk(fragment string) (value any, passthrough string) {
	var plain strings.Builder

	for _, r := range fragment {
		if !d.active {
			if r == '{' || r == '[' {
				d.active = true
				d.depth = 1
				d.buf.WriteRune(r)
			} else {
				plain.WriteRune(r)
			}
			continue
		}

		d.buf.WriteRune(r)

		if d.inString {
			switch {
			case d.escaped:
				d.escaped = false
			case r == '\\':
				d.escaped = true
			case r == '"':
				d.inString = false
			}
			continue
		}

		switch r {
		case '"':
			d.inString = true
		case '{', '[':
			d.depth++
		case '}', ']':
			d.depth--
		}

		if d.depth == 0 {
			raw := d.Flush()
			var v any
			if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(raw, &v); err != nil {
				plain.WriteString(raw)
			} else if value == nil {
				value = v
			} else {
				// The driving loop only consumes one value per call;
				// surface extras as plain text.
				plain.WriteString(raw)
			}
		}
	}

	return value, plain.String()
}

// Active reports whether a value is currently being accumulated.
func (d *StreamJSONDetector) Active() bool {
	return d.active
}

// Flush returns whatever has been accumulated so far and resets the
// detector. Callers use it at stream end to surface an unterminated
// value as diagnostic text.
func (d *StreamJSONDetector) Flush() string {
	raw := d.buf.String()
	d.buf.Reset()
	d.active = false
	d.depth = 0
	d.inString = false
	d.escaped = false
	return raw
}
