// Package cursor encodes and decodes Relay-style connection cursors.
// Cursors are opaque base64-encoded JSON objects carrying the type name, the
// ordering they were issued under and the absolute row position.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const version = 1

type payload struct {
	Version    int    `json:"v"`
	TypeName   string `json:"t"`
	OrderByKey string `json:"k"`
	Position   uint64 `json:"p"`
}

// Cursor identifies one edge of a connection.
type Cursor struct {
	TypeName   string
	OrderByKey string
	// Position is the zero-based index of the edge in the full ordered result.
	Position uint64
}

// EncodeCursor builds an opaque cursor for the edge at position.
func EncodeCursor(typeName, orderByKey string, position uint64) string {
	data, err := json.Marshal(payload{
		Version:    version,
		TypeName:   typeName,
		OrderByKey: orderByKey,
		Position:   position,
	})
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(raw string) (Cursor, error) {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor: %w", err)
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor format")
	}
	if p.Version != version {
		return Cursor{}, fmt.Errorf("invalid cursor format: unsupported version %d", p.Version)
	}
	if p.TypeName == "" {
		return Cursor{}, fmt.Errorf("invalid cursor: missing type")
	}
	return Cursor{TypeName: p.TypeName, OrderByKey: p.OrderByKey, Position: p.Position}, nil
}

// Validate confirms the cursor was issued for the same type and ordering.
func (c Cursor) Validate(expectedType, expectedOrderByKey string) error {
	if c.TypeName != expectedType {
		return fmt.Errorf("cursor type mismatch: expected %s, got %s", expectedType, c.TypeName)
	}
	if c.OrderByKey != expectedOrderByKey {
		return fmt.Errorf("cursor orderBy mismatch: expected %q, got %q", expectedOrderByKey, c.OrderByKey)
	}
	return nil
}
