// Package schemarefresh builds schema snapshots from the database catalog
// and swaps in a new snapshot when the catalog changes.
package schemarefresh

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"

	"gqlorm/internal/introspection"
	"gqlorm/internal/logging"
	"gqlorm/internal/observability"
	"gqlorm/internal/resolver"
)

// Snapshot is an immutable view of one schema build.
type Snapshot struct {
	Schema      *graphql.Schema
	Handler     http.Handler
	Resolver    *resolver.Resolver
	DBSchema    *introspection.Schema
	BuiltAt     time.Time
	Fingerprint string
}

// Config controls schema building and refresh behavior.
type Config struct {
	Build   BuildSchemaConfig
	Logger  *logging.Logger
	Metrics *observability.SchemaRefreshMetrics
	// MinInterval is the first poll delay. Zero disables polling.
	MinInterval time.Duration
	// MaxInterval caps the delay, which grows while the catalog is unchanged.
	MaxInterval time.Duration
	GraphiQL    bool
}

// Manager maintains the active schema snapshot.
type Manager struct {
	build       BuildSchemaConfig
	logger      *logging.Logger
	metrics     *observability.SchemaRefreshMetrics
	minInterval time.Duration
	maxInterval time.Duration
	graphiQL    bool

	active  atomic.Pointer[Snapshot]
	buildMu sync.Mutex
	wg      sync.WaitGroup
}

// NewManager builds the initial snapshot and returns a manager serving it.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	maxInterval := cfg.MaxInterval
	if maxInterval < cfg.MinInterval {
		maxInterval = cfg.MinInterval
	}

	m := &Manager{
		build:       cfg.Build,
		logger:      cfg.Logger.WithFields(slog.String("component", "schema_refresh")),
		metrics:     cfg.Metrics,
		minInterval: cfg.MinInterval,
		maxInterval: maxInterval,
		graphiQL:    cfg.GraphiQL,
	}

	start := time.Now()
	snapshot, err := m.rebuild(ctx)
	m.recordRefresh(ctx, time.Since(start), err == nil, "startup")
	if err != nil {
		return nil, err
	}
	m.active.Store(snapshot)
	return m, nil
}

// Start begins the background refresh loop. It returns immediately when
// polling is disabled.
func (m *Manager) Start(ctx context.Context) {
	if m.minInterval <= 0 {
		m.logger.Info("schema refresh disabled")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.refreshLoop(ctx)
	}()
}

// CurrentSnapshot returns the active snapshot.
func (m *Manager) CurrentSnapshot() *Snapshot {
	return m.active.Load()
}

// ServeHTTP routes the request to the handler of the snapshot active when
// the request arrives.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := m.CurrentSnapshot()
	if snapshot == nil || snapshot.Handler == nil {
		http.Error(w, "schema not ready", http.StatusServiceUnavailable)
		return
	}
	snapshot.Handler.ServeHTTP(w, r)
}

// RefreshNowContext rebuilds the snapshot and swaps it in regardless of the
// fingerprint.
func (m *Manager) RefreshNowContext(ctx context.Context) error {
	start := time.Now()
	snapshot, err := m.rebuild(ctx)
	m.recordRefresh(ctx, time.Since(start), err == nil, "manual")
	if err != nil {
		return err
	}
	m.active.Store(snapshot)
	return nil
}

// Wait blocks until the refresh loop exits or the context is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) refreshLoop(ctx context.Context) {
	interval := m.minInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("schema refresh stopped")
			return
		case <-timer.C:
			interval = m.refreshOnce(ctx, interval)
			timer.Reset(interval)
		}
	}
}

// refreshOnce polls the catalog and rebuilds when its fingerprint moved. It
// returns the delay before the next poll.
func (m *Manager) refreshOnce(ctx context.Context, interval time.Duration) time.Duration {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	start := time.Now()
	dbSchema, err := introspect(ctx, m.build)
	if err != nil {
		m.logger.Warn("schema fingerprint check failed", slog.String("error", err.Error()))
		m.recordRefresh(ctx, time.Since(start), false, "poll")
		return m.minInterval
	}

	fingerprint := Fingerprint(dbSchema)
	if current := m.CurrentSnapshot(); current != nil && current.Fingerprint == fingerprint {
		m.recordRefresh(ctx, time.Since(start), true, "poll_no_change")
		return nextInterval(interval, m.minInterval, m.maxInterval)
	}

	m.logger.Info("schema change detected, rebuilding", slog.String("fingerprint", fingerprint))
	built, err := assemble(ctx, dbSchema, m.build)
	if err != nil {
		m.logger.Error("failed to rebuild schema", slog.String("error", err.Error()))
		m.recordRefresh(ctx, time.Since(start), false, "poll")
		return m.minInterval
	}
	snapshot := m.snapshotFrom(built)
	m.active.Store(snapshot)
	m.recordRefresh(ctx, time.Since(start), true, "poll")
	m.logger.Info("schema refresh complete", slog.String("fingerprint", snapshot.Fingerprint))
	return m.minInterval
}

func (m *Manager) rebuild(ctx context.Context) (*Snapshot, error) {
	m.buildMu.Lock()
	defer m.buildMu.Unlock()

	m.logger.Info("introspecting database schema")
	built, err := BuildSchema(ctx, m.build)
	if err != nil {
		return nil, err
	}
	return m.snapshotFrom(built), nil
}

func (m *Manager) snapshotFrom(built *BuildSchemaResult) *Snapshot {
	for _, table := range built.DBSchema.Tables {
		m.logger.Debug("table exposed",
			slog.String("table", table.Name),
			slog.Int("columns", len(table.Columns)),
			slog.Int("foreign_keys", len(table.ForeignKeys)),
		)
	}

	schema := built.GraphQLSchema
	h := handler.New(&handler.Config{
		Schema:   &schema,
		Pretty:   true,
		GraphiQL: m.graphiQL,
	})
	m.logger.Info("schema snapshot built",
		slog.Int("tables", len(built.DBSchema.Tables)),
		slog.Int("models", len(built.Registry.Models())),
		slog.String("fingerprint", built.Fingerprint),
	)

	return &Snapshot{
		Schema:      &schema,
		Handler:     h,
		Resolver:    built.Resolver,
		DBSchema:    built.DBSchema,
		BuiltAt:     time.Now(),
		Fingerprint: built.Fingerprint,
	}
}

func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	next := current + current/2
	if next > maxInterval {
		return maxInterval
	}
	return next
}

func (m *Manager) recordRefresh(ctx context.Context, duration time.Duration, success bool, trigger string) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordRefresh(context.WithoutCancel(ctx), duration, success, trigger)
}

