package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is an ordered, self-describing key/value document. It is the single
// encoding used for queue item files on disk and for dataset payloads carried
// inside events. Values are scalars only: int64, float64, bool, or string.
type Record struct {
	keys   []string
	values map[string]any
}

// NewRecord creates an empty record.
func NewRecord() *Record {
	return &Record{values: make(map[string]any)}
}

// Set stores a scalar under key, preserving first-insertion order.
// Integer and float variants are normalized to int64/float64.
func (r *Record) Set(key string, value any) {
	if _, exists := r.values[key]; !exists {
		r.keys = append(r.keys, key)
	}
	r.values[key] = NormalizeScalar(value)
}

// Get returns the raw value stored under key.
func (r *Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// GetString returns the value under key if it is a string.
func (r *Record) GetString(key string) (string, bool) {
	v, ok := r.values[key].(string)
	return v, ok
}

// GetInt returns the value under key if it is an integer.
func (r *Record) GetInt(key string) (int64, bool) {
	v, ok := r.values[key].(int64)
	return v, ok
}

// GetBool returns the value under key if it is a boolean.
func (r *Record) GetBool(key string) (bool, bool) {
	v, ok := r.values[key].(bool)
	return v, ok
}

// Keys returns the record's keys in insertion order.
func (r *Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of keys in the record.
func (r *Record) Len() int {
	return len(r.keys)
}

// Encode renders the record as one "key: value" line per entry. Strings are
// quoted so that numeric-looking strings survive a round trip; floats always
// carry a decimal point or exponent for the same reason.
func (r *Record) Encode() string {
	var sb strings.Builder
	for _, key := range r.keys {
		sb.WriteString(key)
		sb.WriteString(": ")
		sb.WriteString(formatScalar(r.values[key]))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// DecodeRecord parses the textual form produced by Encode.
func DecodeRecord(text string) (*Record, error) {
	rec := NewRecord()
	for lineno, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, raw, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("record line %d: missing ':' separator", lineno+1)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("record line %d: empty key", lineno+1)
		}
		value, err := parseScalar(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("record line %d: %w", lineno+1, err)
		}
		rec.Set(key, value)
	}
	return rec, nil
}

// NormalizeScalar collapses integer and float variants to int64/float64 so
// that values compare equal regardless of where they were produced.
func NormalizeScalar(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

// FormatScalar renders a normalized scalar the way Encode does, without the
// string quoting. Used for canonical dataset keys.
func FormatScalar(v any) string {
	switch n := v.(type) {
	case string:
		return n
	default:
		return formatScalar(v)
	}
}

func formatScalar(v any) string {
	switch n := v.(type) {
	case string:
		return strconv.Quote(n)
	case bool:
		return strconv.FormatBool(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		s := strconv.FormatFloat(n, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

func parseScalar(raw string) (any, error) {
	if raw == "" {
		return "", nil
	}
	if raw[0] == '"' {
		s, err := strconv.Unquote(raw)
		if err != nil {
			return nil, fmt.Errorf("bad quoted string %s: %w", raw, err)
		}
		return s, nil
	}
	if raw == "true" || raw == "false" {
		return raw == "true", nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f, nil
	}
	// Bare strings are tolerated on input even though Encode quotes them.
	return raw, nil
}
