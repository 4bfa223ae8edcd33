package queryset

import (
	"strconv"
	"strings"
	"time"

	"gqlorm/internal/model"
)

// normalizeScalar converts driver values into plain Go values.
func normalizeScalar(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// normalizeValue converts a driver value to the field's Go type. Drivers
// disagree on representations (MySQL returns text for most types, SQLite
// returns int64 for booleans), so values are coerced by declared type.
func normalizeValue(t model.Type, v any) any {
	v = normalizeScalar(v)
	if v == nil {
		return nil
	}
	switch t {
	case model.TypeInt:
		switch x := v.(type) {
		case int64:
			return x
		case float64:
			return int64(x)
		case bool:
			if x {
				return int64(1)
			}
			return int64(0)
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return n
			}
		}
	case model.TypeFloat:
		switch x := v.(type) {
		case float64:
			return x
		case int64:
			return float64(x)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f
			}
		}
	case model.TypeBool:
		switch x := v.(type) {
		case bool:
			return x
		case int64:
			return x != 0
		case float64:
			return x != 0
		case string:
			switch strings.ToLower(strings.TrimSpace(x)) {
			case "1", "true", "t", "yes":
				return true
			case "0", "false", "f", "no":
				return false
			}
		}
	case model.TypeTime:
		if x, ok := v.(time.Time); ok {
			return x.UTC().Format(time.RFC3339)
		}
		return v
	case model.TypeString, model.TypeJSON:
		switch x := v.(type) {
		case string:
			return x
		case int64:
			return strconv.FormatInt(x, 10)
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		case time.Time:
			return x.UTC().Format(time.RFC3339)
		}
	}
	return v
}
