package vector

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// dateLayout is the ISO date used for Date attributes in text formats.
const dateLayout = "2006-01-02"

// Normalize converts v to the canonical Go type for t: string, int64,
// float64, time.Time or bool. Nil stays nil.
func Normalize(v interface{}, t FieldType) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch t {
	case String:
		return toString(v), nil

	case Integer:
		if i, ok := toInt64(v); ok {
			return i, nil
		}
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				return nil, nil
			}
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i, nil
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return int64(f), nil
			}
		}

	case Float:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
		if s, ok := v.(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				return nil, nil
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f, nil
			}
		}

	case Date:
		switch d := v.(type) {
		case time.Time:
			return d, nil
		case string:
			return parseDate(d)
		}

	case Bool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch strings.ToUpper(strings.TrimSpace(b)) {
			case "":
				return nil, nil
			case "T", "Y", "TRUE", "YES", "1":
				return true, nil
			case "F", "N", "FALSE", "NO", "0":
				return false, nil
			case "?":
				return nil, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: cannot use %T as %s", ErrInvalidData, v, t)
}

func parseDate(s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{dateLayout, "20060102", time.RFC3339, time.RFC3339Nano} {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: bad date %q", ErrInvalidData, s)
}

// inferFieldType returns the attribute type of a decoded JSON value.
func inferFieldType(v interface{}) FieldType {
	switch val := v.(type) {
	case bool:
		return Bool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Integer
	case float32:
		return inferFieldType(float64(val))
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return Integer
		}
		return Float
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return Integer
		}
		return Float
	case time.Time:
		return Date
	default:
		return String
	}
}

// promoteFieldType returns the more general type when two values of one
// column disagree.
func promoteFieldType(a, b FieldType) FieldType {
	if a == b {
		return a
	}
	if (a == Integer && b == Float) || (a == Float && b == Integer) {
		return Float
	}
	return String
}

// Type conversion helpers

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint:
		return int64(val), true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint64:
		return int64(val), true
	case float32:
		return int64(val), true
	case float64:
		return int64(val), true
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
		if f, err := val.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(dateLayout)
	case fmt.Stringer:
		return val.String()
	default:
		// For other types, use JSON encoding
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
