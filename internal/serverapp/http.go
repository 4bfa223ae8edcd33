package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"gqlorm/internal/config"
	"gqlorm/internal/dbexec"
	"gqlorm/internal/logging"
	"gqlorm/internal/middleware"
	"gqlorm/internal/observability"
	"gqlorm/internal/schemarefresh"
	"gqlorm/internal/sqlutil"
)

const (
	graphqlPath       = "/graphql"
	healthPath        = "/health"
	metricsPath       = "/metrics"
	reloadSchemaPath  = "/admin/reload-schema"
	schemaReloadLimit = 30 * time.Second
)

// buildGraphQLHandler assembles the GraphQL chain:
//
//	request analysis -> metrics -> tracing -> mutation transaction -> query session -> snapshot handler
func buildGraphQLHandler(cfg *config.Config, logger *logging.Logger, schema http.Handler, db *sql.DB, dialect sqlutil.Dialect, metrics *observability.Metrics) http.Handler {
	var graphqlMetrics *observability.GraphQLMetrics
	if metrics != nil {
		graphqlMetrics = metrics.GraphQL
	}

	exec := dbexec.NewStandardExecutor(db)
	handler := middleware.QuerySessionMiddleware(exec, dialect, graphqlMetrics, cfg.Optimizer.SessionOptions()...)(schema)
	handler = middleware.MutationTransactionMiddleware(exec)(handler)
	handler = middleware.GraphQLTracingMiddleware()(handler)
	if graphqlMetrics != nil {
		handler = middleware.GraphQLMetricsMiddleware(graphqlMetrics)(handler)
		logger.Info("GraphQL metrics middleware enabled")
	}
	return middleware.GraphQLRequestMiddleware(cfg.Server.GraphQLMaxDepth, graphqlMetrics)(handler)
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, graphqlHandler, reloadHandler http.Handler, meterProvider *observability.MeterProvider) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(graphqlPath, graphqlHandler)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, graphqlPath, http.StatusFound)
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc(healthPath, healthHandler(db, cfg.Server.HealthCheckTimeout))

	if cfg.Server.SchemaReloadEnabled && reloadHandler != nil {
		mux.Handle(reloadSchemaPath, reloadHandler)
		logger.Warn("schema reload endpoint enabled without authentication", slog.String("path", reloadSchemaPath))
	}

	if meterProvider != nil {
		mux.Handle(metricsPath, meterProvider.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", metricsPath))
	}
	return mux
}

// wrapHTTPHandler applies the outer layers shared by every route:
// instrumentation, request logging and CORS.
func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	handler = middleware.CORSMiddleware(middleware.CORSConfig{
		Enabled:          cfg.Server.CORSEnabled,
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   cfg.Server.CORSAllowedMethods,
		AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
		ExposeHeaders:    cfg.Server.CORSExposeHeaders,
		AllowCredentials: cfg.Server.CORSAllowCredentials,
		MaxAge:           cfg.Server.CORSMaxAge,
	})(handler)
	handler = middleware.LoggingMiddleware(logger)(handler)

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
		)
		logger.Info("HTTP instrumentation enabled")
	}
	return handler
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}
	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}
	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

// normalizeHTTPSpanRoute keeps span names low-cardinality.
func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case "/", graphqlPath, healthPath, metricsPath, reloadSchemaPath:
		return rawPath
	default:
		return "/*"
	}
}

func buildServer(cfg *config.Config, handler http.Handler, serverAddr string) *http.Server {
	return &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server) chan error {
	serverErrors := make(chan error, 1)
	go func() {
		logAttrs := []any{
			slog.String("address", srv.Addr),
			slog.String("graphql_endpoint", graphqlPath),
			slog.String("health_endpoint", healthPath),
			slog.Int("graphql_max_depth", cfg.Server.GraphQLMaxDepth),
			slog.Bool("graphiql", cfg.Server.GraphiQLEnabled),
		}
		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", metricsPath))
		}
		logger.Info("server starting", logAttrs...)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

// healthHandler pings the database within timeout.
func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		reqLogger.Debug("health check passed")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}

// schemaReloadHandler rebuilds the schema snapshot on POST.
func schemaReloadHandler(manager *schemarefresh.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = fmt.Fprint(w, `{"error":"method not allowed"}`)
			return
		}

		reqLogger.Info("schema reload requested", slog.String("remote_addr", r.RemoteAddr))
		ctx, cancel := context.WithTimeout(r.Context(), schemaReloadLimit)
		defer cancel()

		if err := manager.RefreshNowContext(ctx); err != nil {
			reqLogger.Error("schema reload failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = fmt.Fprint(w, `{"status":"error","message":"schema reload failed"}`)
			return
		}

		snapshot := manager.CurrentSnapshot()
		reqLogger.Info("schema reloaded", slog.String("fingerprint", snapshot.Fingerprint))
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","fingerprint":%q}`, snapshot.Fingerprint)
	}
}
