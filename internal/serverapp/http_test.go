package serverapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gqlorm/internal/logging"
	"gqlorm/internal/middleware"
	"gqlorm/internal/sqlutil"
	"gqlorm/internal/testutil/fixtures"
	"gqlorm/internal/testutil/sqlitedb"
)

func initApp(t *testing.T, mutate func(*App)) *App {
	t.Helper()
	cfg := sqliteConfig(t)
	app, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	if mutate != nil {
		mutate(app)
	}
	require.NoError(t, app.Init(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})
	return app
}

func serve(app *App, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGraphQLEndpoint(t *testing.T) {
	app := initApp(t, nil)

	rec := serve(app, http.MethodPost, "/graphql",
		`{"query":"{ projects(orderBy: [{id: ASC}]) { name milestones { name } } }"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	var resp struct {
		Data struct {
			Projects []struct {
				Name       string `json:"name"`
				Milestones []struct {
					Name string `json:"name"`
				} `json:"milestones"`
			} `json:"projects"`
		} `json:"data"`
		Errors []any `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Errors)
	require.Len(t, resp.Data.Projects, 2)
	assert.Equal(t, "Compiler", resp.Data.Projects[0].Name)
}

func TestGraphQLEndpointDepthLimit(t *testing.T) {
	app := initApp(t, func(a *App) { a.cfg.Server.GraphQLMaxDepth = 2 })

	rec := serve(app, http.MethodPost, "/graphql",
		`{"query":"{ projects { milestones { issues { id } } } }"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "MAX_DEPTH_EXCEEDED")
}

func TestRootRedirects(t *testing.T) {
	app := initApp(t, nil)

	rec := serve(app, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/graphql", rec.Header().Get("Location"))

	rec = serve(app, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	app := initApp(t, nil)

	rec := serve(app, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","database":"ok"}`, rec.Body.String())
}

func TestHealthHandlerUnhealthy(t *testing.T) {
	db := sqlitedb.NewTestDB(t)
	require.NoError(t, db.Close())

	rec := httptest.NewRecorder()
	healthHandler(db, time.Second)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}

func TestSchemaReloadEndpoint(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		app := initApp(t, nil)
		rec := serve(app, http.MethodPost, "/admin/reload-schema", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		app := initApp(t, func(a *App) { a.cfg.Server.SchemaReloadEnabled = true })
		before := app.manager.CurrentSnapshot()

		rec := serve(app, http.MethodGet, "/admin/reload-schema", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
		assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))

		rec = serve(app, http.MethodPost, "/admin/reload-schema", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, before.Fingerprint, body["fingerprint"])
		assert.NotSame(t, before, app.manager.CurrentSnapshot())
	})
}

func TestMetricsEndpoint(t *testing.T) {
	app := initApp(t, func(a *App) { a.cfg.Observability.MetricsEnabled = true })

	rec := serve(app, http.MethodPost, "/graphql", `{"query":"{ tags { name } }"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(app, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHTTPRootSpanName(t *testing.T) {
	tests := []struct {
		method string
		path   string
		want   string
	}{
		{method: http.MethodPost, path: "/graphql", want: "POST /graphql"},
		{method: http.MethodGet, path: "/health", want: "GET /health"},
		{method: http.MethodPost, path: "/admin/reload-schema", want: "POST /admin/reload-schema"},
		{method: http.MethodGet, path: "/users/42", want: "GET /*"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		assert.Equal(t, tt.want, httpRootSpanName(req))
	}
	assert.Equal(t, "HTTP /*", httpRootSpanName(nil))
}

func TestBuildServer(t *testing.T) {
	cfg := baseConfig()
	cfg.Server.ReadTimeout = 3 * time.Second
	srv := buildServer(cfg, http.NotFoundHandler(), ":9000")
	assert.Equal(t, ":9000", srv.Addr)
	assert.Equal(t, 3*time.Second, srv.ReadTimeout)
	assert.Equal(t, cfg.Server.IdleTimeout, srv.IdleTimeout)
}

func TestBuildSchemaConfig(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Optimizer.Enabled = "yes"
	db := sqlitedb.NewTestDB(t, fixtures.Schema)
	_, err := buildSchemaConfig(cfg, logging.Discard(), db, sqlutil.SQLite, nil)
	assert.Error(t, err, "a non-boolean gate is rejected")
}

func TestGraphQLMutationIsAtomic(t *testing.T) {
	app := initApp(t, nil)

	rec := serve(app, http.MethodPost, "/graphql",
		`{"query":"mutation { a: createTag(input: {name: \"infra\"}) { id } b: createTag(input: {id: 1, name: \"dup\"}) { id } }"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"errors"`)

	rec = serve(app, http.MethodPost, "/graphql", `{"query":"{ tags { name } }"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Data struct {
			Tags []struct {
				Name string `json:"name"`
			} `json:"tags"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Tags, 3, "the first create was rolled back with the failed one")

	rec = serve(app, http.MethodPost, "/graphql",
		`{"query":"mutation { createTag(input: {name: \"infra\"}) { name } }"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), `"errors"`)

	rec = serve(app, http.MethodPost, "/graphql", `{"query":"{ tags { name } }"}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Tags, 4)
}
