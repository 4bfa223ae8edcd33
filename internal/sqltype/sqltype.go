// Package sqltype maps SQL data types reported by a database catalog to
// model field types. It accepts MySQL/TiDB, PostgreSQL and SQLite spellings.
package sqltype

import (
	"strings"

	"gqlorm/internal/model"
)

// ModelType converts a SQL data type to a model field type.
// The input is case-insensitive. Size specifiers like (10,2) or (255) and
// modifiers like UNSIGNED are stripped before matching.
func ModelType(sqlType string) model.Type {
	base := normalize(sqlType)
	switch base {
	// Integer numeric types
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT",
		"SERIAL", "BIGSERIAL", "SMALLSERIAL", "BIT", "INT2", "INT4", "INT8":
		return model.TypeInt
	// Floating and fixed point types
	case "FLOAT", "DOUBLE", "DOUBLE PRECISION", "REAL", "DECIMAL", "NUMERIC",
		"FLOAT4", "FLOAT8":
		return model.TypeFloat
	case "BOOL", "BOOLEAN":
		return model.TypeBool
	case "JSON", "JSONB":
		return model.TypeJSON
	// Date and time types
	case "DATE", "DATETIME", "TIMESTAMP", "TIMESTAMPTZ",
		"TIMESTAMP WITHOUT TIME ZONE", "TIMESTAMP WITH TIME ZONE":
		return model.TypeTime
	case "POINT", "MULTIPOINT", "INTERVAL":
		return model.TypeString
	}
	// SQLite accepts arbitrary declared types and applies affinity rules.
	switch {
	case strings.Contains(base, "INT"):
		return model.TypeInt
	case strings.Contains(base, "REAL"), strings.Contains(base, "FLOA"), strings.Contains(base, "DOUB"):
		return model.TypeFloat
	default:
		return model.TypeString
	}
}

func normalize(sqlType string) string {
	t := strings.ToUpper(strings.TrimSpace(sqlType))
	if idx := strings.Index(t, "("); idx != -1 {
		rest := ""
		if end := strings.Index(t[idx:], ")"); end != -1 {
			rest = t[idx+end+1:]
		}
		t = t[:idx] + rest
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), " UNSIGNED")
	t = strings.TrimSuffix(t, " ZEROFILL")
	return strings.Join(strings.Fields(t), " ")
}
