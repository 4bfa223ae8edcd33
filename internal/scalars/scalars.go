// Package scalars defines the custom GraphQL scalars used for model columns
// that have no built-in GraphQL counterpart.
package scalars

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// A schema may hold only one type per name, so the scalars are shared.
var (
	jsonScalar     = newJSON()
	dateTimeScalar = newDateTime()
)

// JSON returns the scalar for JSON columns. Values travel as JSON text.
func JSON() *graphql.Scalar { return jsonScalar }

// DateTime returns the scalar for date and time columns. Values travel as
// RFC 3339 strings in UTC.
func DateTime() *graphql.Scalar { return dateTimeScalar }

func newJSON() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "JSON",
		Description: "A JSON document serialized as text.",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case nil:
				return nil
			case string:
				return v
			case []byte:
				return string(v)
			case json.RawMessage:
				return string(v)
			default:
				text, err := json.Marshal(v)
				if err != nil {
					slog.Default().Warn("failed to serialize JSON scalar", slog.String("error", err.Error()))
					return nil
				}
				return string(text)
			}
		},
		ParseValue: func(value interface{}) interface{} {
			s, ok := value.(string)
			if !ok || !json.Valid([]byte(s)) {
				return nil
			}
			return s
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			sv, ok := valueAST.(*ast.StringValue)
			if !ok || !json.Valid([]byte(sv.Value)) {
				return nil
			}
			return sv.Value
		},
	})
}

func newDateTime() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "DateTime",
		Description: "An RFC 3339 timestamp.",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case nil:
				return nil
			case time.Time:
				return v.UTC().Format(time.RFC3339)
			case *time.Time:
				if v == nil {
					return nil
				}
				return v.UTC().Format(time.RFC3339)
			case string:
				return v
			case []byte:
				return string(v)
			default:
				return nil
			}
		},
		ParseValue: func(value interface{}) interface{} {
			if s, ok := value.(string); ok {
				return parseDateTime(s)
			}
			return nil
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			if sv, ok := valueAST.(*ast.StringValue); ok {
				return parseDateTime(sv.Value)
			}
			return nil
		},
	})
}

// parseDateTime returns s unchanged when it is an RFC 3339 timestamp, a
// SQL datetime or a plain date, and nil otherwise. The text is bound as is
// so the database applies its own conversion.
func parseDateTime(s string) interface{} {
	for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
		if _, err := time.Parse(layout, s); err == nil {
			return s
		}
	}
	return nil
}
