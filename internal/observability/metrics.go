package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of every gqlorm instrument.
const MeterName = "gqlorm"

// GraphQLMetrics holds the per-request GraphQL instruments.
type GraphQLMetrics struct {
	requestDuration metric.Float64Histogram
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	queryDepth      metric.Int64Histogram
	rejected        metric.Int64Counter
	dbQueries       metric.Int64Histogram
	dbExecs         metric.Int64Histogram
}

// InitGraphQLMetrics initializes GraphQL-specific metrics
func InitGraphQLMetrics() (*GraphQLMetrics, error) {
	meter := otel.Meter(MeterName)

	requestDuration, err := meter.Float64Histogram(
		"graphql.request.duration",
		metric.WithDescription("Duration of GraphQL requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"graphql.requests.total",
		metric.WithDescription("Total number of GraphQL requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"graphql.errors.total",
		metric.WithDescription("Total number of GraphQL requests answered with errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"graphql.requests.active",
		metric.WithDescription("Number of active GraphQL requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	queryDepth, err := meter.Int64Histogram(
		"graphql.query.depth",
		metric.WithDescription("Selection depth of GraphQL operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query depth histogram: %w", err)
	}

	rejected, err := meter.Int64Counter(
		"graphql.requests.rejected",
		metric.WithDescription("GraphQL requests rejected before execution"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rejected requests counter: %w", err)
	}

	dbQueries, err := meter.Int64Histogram(
		"graphql.db.queries",
		metric.WithDescription("Read statements issued while serving one GraphQL request"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db queries histogram: %w", err)
	}

	dbExecs, err := meter.Int64Histogram(
		"graphql.db.execs",
		metric.WithDescription("Write statements issued while serving one GraphQL request"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db execs histogram: %w", err)
	}

	return &GraphQLMetrics{
		requestDuration: requestDuration,
		requestCounter:  requestCounter,
		errorCounter:    errorCounter,
		activeRequests:  activeRequests,
		queryDepth:      queryDepth,
		rejected:        rejected,
		dbQueries:       dbQueries,
		dbExecs:         dbExecs,
	}, nil
}

// RecordRequest records a GraphQL request with its duration and outcome
func (m *GraphQLMetrics) RecordRequest(ctx context.Context, duration time.Duration, hasErrors bool, operationType string) {
	attrs := []attribute.KeyValue{
		attribute.String("operation_type", operationType),
		attribute.Bool("has_errors", hasErrors),
	}

	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if hasErrors {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation_type", operationType),
		))
	}
}

// RecordQueryDepth records the depth of a GraphQL query
func (m *GraphQLMetrics) RecordQueryDepth(ctx context.Context, depth int64, operationType string) {
	m.queryDepth.Record(ctx, depth, metric.WithAttributes(
		attribute.String("operation_type", operationType),
	))
}

// RecordRejected counts a request refused before execution, such as one
// exceeding the depth limit.
func (m *GraphQLMetrics) RecordRejected(ctx context.Context, reason string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordStatements records how many statements one request issued.
func (m *GraphQLMetrics) RecordStatements(ctx context.Context, queries, execs int64, operationType string) {
	opt := metric.WithAttributes(attribute.String("operation_type", operationType))
	m.dbQueries.Record(ctx, queries, opt)
	if execs > 0 {
		m.dbExecs.Record(ctx, execs, opt)
	}
}

// IncrementActiveRequests increments the active requests counter
func (m *GraphQLMetrics) IncrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter
func (m *GraphQLMetrics) DecrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, -1)
}

// Metrics bundles the request, optimizer and schema refresh instruments.
type Metrics struct {
	GraphQL       *GraphQLMetrics
	Optimizer     *OptimizerMetrics
	SchemaRefresh *SchemaRefreshMetrics
}

// InitMetrics initializes all custom metrics against the global meter provider.
func InitMetrics(logger *slog.Logger) (*Metrics, error) {
	graphqlMetrics, err := InitGraphQLMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GraphQL metrics: %w", err)
	}
	optimizerMetrics, err := InitOptimizerMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize optimizer metrics: %w", err)
	}

	refreshMetrics, err := InitSchemaRefreshMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize schema refresh metrics: %w", err)
	}

	logger.Info("custom metrics initialized")
	return &Metrics{GraphQL: graphqlMetrics, Optimizer: optimizerMetrics, SchemaRefresh: refreshMetrics}, nil
}

type graphQLMetricsContextKey struct{}

// ContextWithGraphQLMetrics stores GraphQL metrics in the provided context.
func ContextWithGraphQLMetrics(ctx context.Context, metrics *GraphQLMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, graphQLMetricsContextKey{}, metrics)
}

// GraphQLMetricsFromContext retrieves GraphQL metrics from the context.
func GraphQLMetricsFromContext(ctx context.Context) *GraphQLMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(graphQLMetricsContextKey{}).(*GraphQLMetrics)
	return metrics
}
