package remote

import (
	"fmt"
	"strconv"
	"time"
)

// Drivers and JSON decode the same column differently (int64 vs float64,
// bool vs 0/1, []byte vs string). These helpers normalize a Row value.

// String returns the string form of r[col], or "" when absent or nil.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// Float returns r[col] as a float64, or 0 when absent or unparsable.
func (r Row) Float(col string) float64 {
	switch v := r[col].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case []byte:
		f, _ := strconv.ParseFloat(string(v), 64)
		return f
	default:
		return 0
	}
}

// Bool returns r[col] as a bool. Missing values report def.
func (r Row) Bool(col string, def bool) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case float64:
		return v != 0
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

// Time parses r[col] as an RFC 3339 timestamp. Unparsable values return the zero time.
func (r Row) Time(col string) time.Time {
	if t, ok := r[col].(time.Time); ok {
		return t.UTC()
	}
	s := r.String(col)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
