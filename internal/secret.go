package internal

import "encoding/json"

// Secret wraps a sensitive string (provider API key, blob credential, harvest
// token) so it can never be logged or JSON-marshaled in the clear. The
// surrounding code treats every credential as a Secret from the CLI flag
// boundary inward instead of mixing wrapped and bare-string shapes.
type Secret string

// Get returns the underlying value. Callers should hold onto the result for
// as little time as possible.
func (s Secret) Get() string {
	return string(s)
}

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

// LogValue lets charmbracelet/log (and anything using slog's Valuer
// interface) print Secret fields without ever emitting the value.
func (s Secret) LogValue() string {
	return s.String()
}

// MarshalJSON ensures a Secret never escapes into a response body or cached
// envelope by accident.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
