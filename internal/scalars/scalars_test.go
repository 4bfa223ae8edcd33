package scalars

import (
	"testing"
	"time"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/stretchr/testify/assert"
)

func TestJSONSerialize(t *testing.T) {
	s := JSON()
	assert.Same(t, s, JSON())
	assert.Equal(t, `{"a":1}`, s.Serialize(`{"a":1}`))
	assert.Equal(t, `[1,2]`, s.Serialize([]byte(`[1,2]`)))
	assert.Equal(t, `{"k":"v"}`, s.Serialize(map[string]string{"k": "v"}))
	assert.Nil(t, s.Serialize(nil))
	assert.Nil(t, s.Serialize(make(chan int)))
}

func TestJSONParse(t *testing.T) {
	s := JSON()
	assert.Equal(t, `{"a":1}`, s.ParseValue(`{"a":1}`))
	assert.Nil(t, s.ParseValue(`{"a":`))
	assert.Nil(t, s.ParseValue(42))
	assert.Equal(t, `[true]`, s.ParseLiteral(&ast.StringValue{Value: `[true]`}))
	assert.Nil(t, s.ParseLiteral(&ast.IntValue{Value: "1"}))
}

func TestDateTime(t *testing.T) {
	s := DateTime()
	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "2024-03-01T11:30:00Z", s.Serialize(when))
	assert.Equal(t, "2024-03-01T11:30:00Z", s.Serialize(&when))
	assert.Equal(t, "2024-03-01", s.Serialize("2024-03-01"))
	assert.Nil(t, s.Serialize(3.5))

	assert.Equal(t, "2024-03-01", s.ParseValue("2024-03-01"))
	assert.Equal(t, "2024-03-01 10:00:00", s.ParseValue("2024-03-01 10:00:00"))
	assert.Equal(t, "2024-03-01T12:30:00+01:00", s.ParseLiteral(&ast.StringValue{Value: "2024-03-01T12:30:00+01:00"}))
	assert.Nil(t, s.ParseValue("yesterday"))
}
