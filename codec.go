package auditry

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the fixed-width ISO-8601 form stored in the timestamp column. Fixed
// width keeps text ordering identical to time ordering on every engine.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		// rows written by other tools may carry any RFC 3339 precision
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("auditry: invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// EncodeFields renders f as JSON text. A nil map encodes to NULL.
func EncodeFields(f Fields) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("auditry: failed to marshal fields: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// DecodeFields parses text written by EncodeFields. Integral numbers decode to int64 and
// others to float64, so integers survive a round trip without precision loss. JSON does
// not keep the float/int distinction: a float64 with an integral value such as 3.0 comes
// back as int64(3).
func DecodeFields(s sql.NullString) (Fields, error) {
	if !s.Valid {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s.String)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("auditry: failed to unmarshal fields: %w", err)
	}
	if m == nil {
		return nil, nil
	}
	out := make(Fields, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out, nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, e := range x {
			x[k] = normalize(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = normalize(e)
		}
		return x
	default:
		return v
	}
}
