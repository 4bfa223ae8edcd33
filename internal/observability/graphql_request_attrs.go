package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OperationInfo is the request metadata shared by spans and log records.
type OperationInfo struct {
	RequestedName string
	Name          string
	Type          string
	Hash          string
	DocumentSize  int
	FieldCount    int
	Depth         int
	VariableCount int
	// Parsed is false when the document could not be parsed or no operation
	// was selected; the counts are then zero.
	Parsed bool
}

// GraphQLSpanAttributes builds span attributes for a GraphQL request.
func GraphQLSpanAttributes(info OperationInfo) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 8)
	if info.RequestedName != "" {
		attrs = append(attrs, attribute.String("graphql.operation.requested_name", info.RequestedName))
	}
	if info.Name != "" {
		attrs = append(attrs, attribute.String("graphql.operation.name", info.Name))
	}
	if info.Type != "" {
		attrs = append(attrs, attribute.String("graphql.operation.type", info.Type))
	}
	if info.Hash != "" {
		attrs = append(attrs, attribute.String("graphql.operation.hash", info.Hash))
	}
	if info.DocumentSize > 0 {
		attrs = append(attrs, attribute.Int("graphql.document.size_bytes", info.DocumentSize))
	}
	if info.Parsed {
		attrs = append(attrs,
			attribute.Int("graphql.query.field_count", info.FieldCount),
			attribute.Int("graphql.query.depth", info.Depth),
			attribute.Int("graphql.query.variable_count", info.VariableCount),
		)
	}
	return attrs
}

// GraphQLLogFields builds structured log fields for a GraphQL request,
// including the trace ID when ctx carries a valid span.
func GraphQLLogFields(ctx context.Context, info OperationInfo) []any {
	fields := make([]any, 0, 5)
	if info.RequestedName != "" {
		fields = append(fields, slog.String("operation_requested_name", info.RequestedName))
	}
	if info.Name != "" {
		fields = append(fields, slog.String("operation_name", info.Name))
	}
	if info.Type != "" {
		fields = append(fields, slog.String("operation_type", info.Type))
	}
	if info.Hash != "" {
		fields = append(fields, slog.String("operation_hash", info.Hash))
	}
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		fields = append(fields, slog.String("trace_id", spanCtx.TraceID().String()))
	}
	return fields
}
