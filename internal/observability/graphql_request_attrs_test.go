package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func TestGraphQLSpanAttributes(t *testing.T) {
	attrs := GraphQLSpanAttributes(OperationInfo{
		RequestedName: "Q",
		Name:          "Q",
		Type:          "query",
		Hash:          "hash123",
		DocumentSize:  24,
		FieldCount:    2,
		Depth:         2,
		VariableCount: 1,
		Parsed:        true,
	})

	set := attribute.NewSet(attrs...)
	depth, ok := set.Value("graphql.query.depth")
	assert.True(t, ok)
	assert.Equal(t, int64(2), depth.AsInt64())
	opType, _ := set.Value("graphql.operation.type")
	assert.Equal(t, "query", opType.AsString())
	assert.Equal(t, 8, set.Len())
}

func TestGraphQLSpanAttributesUnparsed(t *testing.T) {
	attrs := GraphQLSpanAttributes(OperationInfo{DocumentSize: 7})
	assert.Equal(t, []attribute.KeyValue{attribute.Int("graphql.document.size_bytes", 7)}, attrs)
}

func TestGraphQLLogFieldsIncludesTraceID(t *testing.T) {
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3},
		SpanID:  trace.SpanID{4, 5, 6},
		Remote:  true,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)
	fields := GraphQLLogFields(ctx, OperationInfo{Name: "Q", Type: "query"})

	assert.Contains(t, fields, slog.String("trace_id", spanCtx.TraceID().String()))
	assert.Len(t, fields, 3)
}
