package middleware

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gqlorm/internal/dbexec"
	"gqlorm/internal/logging"
	"gqlorm/internal/observability"
	"gqlorm/internal/queryset"
	"gqlorm/internal/resolver"
	"gqlorm/internal/sqlutil"
)

// QuerySessionMiddleware gives every request its own queryset session over a
// counting executor. Inside a transactional mutation the session runs on the
// mutation's transaction. When the request completes, the number of
// statements it issued is recorded on the current span, in metrics and in
// the request log.
func QuerySessionMiddleware(exec dbexec.QueryExecutor, dialect sqlutil.Dialect, metrics *observability.GraphQLMetrics, opts ...queryset.SessionOption) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var base dbexec.QueryExecutor = exec
			if mc := resolver.MutationContextFromContext(r.Context()); mc != nil {
				base = mc.Tx()
			}
			counter := dbexec.NewCountingExecutor(base)
			session := queryset.NewSession(counter, dialect, opts...)
			ctx := queryset.WithSession(r.Context(), session)

			next.ServeHTTP(w, r.WithContext(ctx))

			queries, execs := counter.Queries(), counter.Execs()
			info := RequestInfoFromContext(ctx)
			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.Int64("db.queries", queries),
					attribute.Int64("db.execs", execs),
				)
			}
			if metrics != nil && info != nil && info.Operation != nil {
				metrics.RecordStatements(ctx, queries, execs, info.OperationType)
			}
			logging.FromContext(ctx).Debug("graphql request statements",
				slog.Int64("db_queries", queries),
				slog.Int64("db_execs", execs),
			)
		})
	}
}
