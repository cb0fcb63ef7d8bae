package gateway

// Row is one record of a collection keyed by column name.
type Row map[string]any

// String returns the field as a string, or "" when absent or not a string.
func (r Row) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Int64 returns the field as an int64, or 0 when absent or not an integer.
func (r Row) Int64(field string) int64 {
	n, _ := asInt64(r[field])
	return n
}

// Bool returns the field as a bool, or false when absent or not a bool.
func (r Row) Bool(field string) bool {
	b, _ := r[field].(bool)
	return b
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
