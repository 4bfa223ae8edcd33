package middleware

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"gqlorm/internal/logging"
	"gqlorm/internal/observability"
)

// GraphQLTracingMiddleware wraps GraphQL execution in a "graphql.execute"
// span carrying the request analysis. Requests without a query (GraphiQL
// page loads) pass through untraced.
func GraphQLTracingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := RequestInfoFromContext(r.Context())
			if info == nil || info.Query == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx, span := otel.Tracer("gqlorm/graphql").Start(r.Context(), "graphql.execute")
			defer span.End()

			reqLogger := logging.FromContext(ctx).WithFields(observability.GraphQLLogFields(ctx, info.OperationInfo())...)
			if spanCtx := span.SpanContext(); spanCtx.IsValid() {
				reqLogger = reqLogger.WithFields(slog.String("span_id", spanCtx.SpanID().String()))
			}
			ctx = logging.WithLogger(ctx, reqLogger)

			if span.IsRecording() {
				span.SetAttributes(observability.GraphQLSpanAttributes(info.OperationInfo())...)
				if info.Err != nil {
					span.SetStatus(codes.Error, info.Err.Error())
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
