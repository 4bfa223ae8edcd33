package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	tp.RegisterSpanProcessor(recorder)
	originalTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(originalTP)
	})
	return recorder
}

func spanNames(recorder *tracetest.SpanRecorder) map[string]int {
	names := map[string]int{}
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	return names
}

func TestResolverSpans(t *testing.T) {
	recorder := installSpanRecorder(t)
	s := newTestServer(t, true)
	s.do(t, `{ milestones { name issues { title } } }`, nil)

	names := spanNames(recorder)
	assert.Equal(t, 1, names["graphql.resolve.root"])
	assert.Equal(t, 1, names["optimizer.walk"])
	assert.Equal(t, 1, names["optimizer.compile"])
	assert.Equal(t, 1, names["queryset.evaluate"])
	assert.Zero(t, names["graphql.resolve.relation"], "prefetched relations do not query")
}

func TestLazyRelationSpans(t *testing.T) {
	recorder := installSpanRecorder(t)
	s := newTestServer(t, false)
	s.do(t, `{ milestones { name issues { title } } }`, nil)

	names := spanNames(recorder)
	assert.Equal(t, 3, names["graphql.resolve.relation"])
	assert.Zero(t, names["optimizer.walk"])
}

func TestMutationSpanOutcome(t *testing.T) {
	recorder := installSpanRecorder(t)
	s := newTestServer(t, true)
	s.do(t, `mutation { deleteOrderItem(id: 99) }`, nil)

	for _, span := range recorder.Ended() {
		if span.Name() != "graphql.mutation.delete" {
			continue
		}
		for _, attr := range span.Attributes() {
			if attr.Key == "graphql.resolver.outcome" {
				assert.Equal(t, "not_found", attr.Value.AsString())
				return
			}
		}
	}
	t.Fatalf("expected graphql.mutation.delete span with an outcome")
}
