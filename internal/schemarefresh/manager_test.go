package schemarefresh

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"gqlorm/internal/dbexec"
	"gqlorm/internal/introspection"
	"gqlorm/internal/observability"
	"gqlorm/internal/optimizer"
	"gqlorm/internal/resolver"
	"gqlorm/internal/sqlutil"
	"gqlorm/internal/testutil/fixtures"
	"gqlorm/internal/testutil/sqlitedb"
)

func buildConfig(t *testing.T, db *sql.DB) BuildSchemaConfig {
	t.Helper()
	gate, err := optimizer.NewGate(true)
	require.NoError(t, err)
	return BuildSchemaConfig{
		Queryer:     db,
		Executor:    dbexec.NewStandardExecutor(db),
		Dialect:     sqlutil.SQLite,
		Polymorphic: fixtures.Declarations(),
		Resolver:    resolver.Config{Gate: gate},
	}
}

func newManager(t *testing.T, cfg Config) (*Manager, *sql.DB) {
	t.Helper()
	db := sqlitedb.NewTestDB(t, fixtures.Schema, fixtures.Seed)
	cfg.Build = buildConfig(t, db)
	m, err := NewManager(context.Background(), cfg)
	require.NoError(t, err)
	return m, db
}

func queryFields(s *Snapshot) map[string]bool {
	out := map[string]bool{}
	for name := range s.Schema.QueryType().Fields() {
		out[name] = true
	}
	return out
}

func TestFingerprint(t *testing.T) {
	users := introspection.Table{
		Name:       "users",
		PrimaryKey: []string{"id"},
		Columns:    []introspection.Column{{Name: "id", DataType: "int", IsPrimaryKey: true}},
	}
	posts := introspection.Table{
		Name:       "posts",
		PrimaryKey: []string{"id"},
		Columns: []introspection.Column{
			{Name: "id", DataType: "int", IsPrimaryKey: true},
			{Name: "author_id", DataType: "int"},
			{Name: "editor_id", DataType: "int", IsNullable: true},
		},
		ForeignKeys: []introspection.ForeignKey{
			{ConstraintName: "fk_author", ColumnName: "author_id", ReferencedTable: "users", ReferencedColumn: "id", OrdinalPosition: 1},
			{ConstraintName: "fk_editor", ColumnName: "editor_id", ReferencedTable: "users", ReferencedColumn: "id", OrdinalPosition: 1},
		},
	}
	base := Fingerprint(&introspection.Schema{Tables: []introspection.Table{users, posts}})
	assert.Len(t, base, 64)

	reordered := posts
	reordered.ForeignKeys = []introspection.ForeignKey{posts.ForeignKeys[1], posts.ForeignKeys[0]}
	assert.Equal(t, base, Fingerprint(&introspection.Schema{Tables: []introspection.Table{reordered, users}}),
		"table and constraint order is irrelevant")

	retyped := posts
	retyped.Columns = append([]introspection.Column(nil), posts.Columns...)
	retyped.Columns[1].DataType = "bigint"
	assert.NotEqual(t, base, Fingerprint(&introspection.Schema{Tables: []introspection.Table{users, retyped}}))

	assert.NotEqual(t, base, Fingerprint(&introspection.Schema{Tables: []introspection.Table{users}}))
}

func TestBuildSchema(t *testing.T) {
	db := sqlitedb.NewTestDB(t, fixtures.Schema)
	built, err := BuildSchema(context.Background(), buildConfig(t, db))
	require.NoError(t, err)

	_, err = built.Registry.Model("Document")
	assert.Error(t, err, "subclass tables fold into their base")
	asset, err := built.Registry.Model("Asset")
	require.NoError(t, err)
	assert.NotNil(t, asset.Polymorphism)

	assert.Contains(t, built.GraphQLSchema.QueryType().Fields(), "issues")
	assert.Equal(t, Fingerprint(built.DBSchema), built.Fingerprint)
}

func TestBuildSchemaErrors(t *testing.T) {
	db := sqlitedb.NewTestDB(t, fixtures.Schema)

	cfg := buildConfig(t, db)
	cfg.Queryer = nil
	_, err := BuildSchema(context.Background(), cfg)
	assert.ErrorContains(t, err, "queryer")

	cfg = buildConfig(t, db)
	cfg.Executor = nil
	_, err = BuildSchema(context.Background(), cfg)
	assert.ErrorContains(t, err, "executor")

	cfg = buildConfig(t, db)
	cfg.Filters.DenyTables = []string{"documents"}
	_, err = BuildSchema(context.Background(), cfg)
	assert.ErrorContains(t, err, "polymorphic", "a declaration naming a filtered table fails the build")
}

func TestManagerServesSnapshot(t *testing.T) {
	m, _ := newManager(t, Config{})
	snapshot := m.CurrentSnapshot()
	require.NotNil(t, snapshot)
	assert.True(t, queryFields(snapshot)["projects"])

	body := strings.NewReader(`{"query":"{ projects(orderBy: [{id: ASC}]) { name } }"}`)
	req := httptest.NewRequest(http.MethodPost, "/graphql", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Projects []struct {
				Name string `json:"name"`
			} `json:"projects"`
		} `json:"data"`
		Errors []any `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Errors)
	require.Len(t, resp.Data.Projects, 2)
	assert.Equal(t, "Compiler", resp.Data.Projects[0].Name)
}

func TestManagerNotReady(t *testing.T) {
	rec := httptest.NewRecorder()
	(&Manager{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/graphql", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRefreshOnce(t *testing.T) {
	m, db := newManager(t, Config{MinInterval: time.Second, MaxInterval: 2 * time.Second})
	first := m.CurrentSnapshot()

	next := m.refreshOnce(context.Background(), time.Second)
	assert.Equal(t, 1500*time.Millisecond, next, "unchanged catalog backs off")
	assert.Same(t, first, m.CurrentSnapshot())

	_, err := db.Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`)
	require.NoError(t, err)

	next = m.refreshOnce(context.Background(), 2*time.Second)
	assert.Equal(t, time.Second, next, "a change resets the interval")
	current := m.CurrentSnapshot()
	assert.NotSame(t, first, current)
	assert.NotEqual(t, first.Fingerprint, current.Fingerprint)
	assert.True(t, queryFields(current)["widgets"])
	assert.False(t, queryFields(first)["widgets"], "earlier snapshots are immutable")
}

func TestRefreshNowContext(t *testing.T) {
	m, _ := newManager(t, Config{})
	first := m.CurrentSnapshot()

	require.NoError(t, m.RefreshNowContext(context.Background()))
	current := m.CurrentSnapshot()
	assert.NotSame(t, first, current)
	assert.Equal(t, first.Fingerprint, current.Fingerprint)
}

func TestNextInterval(t *testing.T) {
	tests := []struct {
		current, want time.Duration
	}{
		{current: 0, want: 10 * time.Second},
		{current: 10 * time.Second, want: 15 * time.Second},
		{current: 40 * time.Second, want: time.Minute},
		{current: time.Minute, want: time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nextInterval(tt.current, 10*time.Second, time.Minute), tt.current.String())
	}
}

func TestStartAndWait(t *testing.T) {
	m, _ := newManager(t, Config{MinInterval: 5 * time.Millisecond, MaxInterval: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, m.Wait(waitCtx))
}

func TestStartDisabled(t *testing.T) {
	m, _ := newManager(t, Config{})
	m.Start(context.Background())
	require.NoError(t, m.Wait(context.Background()))
}

func TestManagerRecordsRefreshes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(mp)
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		otel.SetMeterProvider(previous)
	})

	metrics, err := observability.InitSchemaRefreshMetrics()
	require.NoError(t, err)
	m, _ := newManager(t, Config{Metrics: metrics, MinInterval: time.Second})
	m.refreshOnce(context.Background(), time.Second)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	triggers := map[string]int64{}
	var lastSuccess bool
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			switch metric.Name {
			case "schema.refresh.total":
				for _, p := range metric.Data.(metricdata.Sum[int64]).DataPoints {
					trigger, _ := p.Attributes.Value("trigger")
					triggers[trigger.AsString()] += p.Value
				}
			case "schema.refresh.last_success_unix":
				lastSuccess = len(metric.Data.(metricdata.Gauge[int64]).DataPoints) == 1
			}
		}
	}
	assert.Equal(t, map[string]int64{"startup": 1, "poll_no_change": 1}, triggers)
	assert.True(t, lastSuccess)
}
