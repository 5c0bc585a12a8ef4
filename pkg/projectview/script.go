package projectview

import (
	"bytes"
	"encoding/json"
)

// CanonicalScript collapses the polymorphic script payload into one stable
// textual form. The engine writes the script either as a JSON string or as
// a structured segments object, and re-serializing on save can stack
// string layers (a JSON string whose value is itself JSON text). A string
// unwraps to its value, repeatedly while the value is again a JSON string;
// null or empty yields ""; any other JSON value yields its compact
// serialization, which re-parses to an equivalent structure.
func CanonicalScript(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	for {
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			return ""
		}
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			break
		}
		inner := bytes.TrimSpace([]byte(s))
		if len(inner) == 0 || inner[0] != '"' || !json.Valid(inner) {
			return s
		}
		// Each layer is strictly shorter, so this terminates.
		trimmed = inner
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		// Not valid JSON at all; hand back the raw text rather than fail.
		return string(trimmed)
	}
	return buf.String()
}
