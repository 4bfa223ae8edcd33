package serverapp

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gqlorm/internal/config"
	"gqlorm/internal/logging"
	"gqlorm/internal/naming"
	"gqlorm/internal/testutil/fixtures"
	"gqlorm/internal/testutil/sqlitedb"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "info", Format: "text"})
}

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:               0,
			GraphQLMaxDepth:    8,
			GraphQLMaxLimit:    100,
			ReadTimeout:        time.Second,
			WriteTimeout:       time.Second,
			IdleTimeout:        time.Second,
			ShutdownTimeout:    time.Second,
			HealthCheckTimeout: time.Second,
		},
		Optimizer: config.OptimizerConfig{
			Enabled:     true,
			MaxInClause: 100,
		},
		Observability: config.ObservabilityConfig{
			ServiceName:    "gqlorm",
			ServiceVersion: "test",
			Environment:    "test",
			Logging: config.LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
		Naming: naming.DefaultConfig(),
	}
}

// sqliteConfig seeds a tracker database file and points the config at it.
func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracker.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, script := range []string{fixtures.Schema, fixtures.Seed} {
		for _, stmt := range sqlitedb.SplitStatements(script) {
			if _, err := db.Exec(stmt); err != nil {
				t.Fatalf("exec %q: %v", stmt, err)
			}
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close sqlite: %v", err)
	}

	cfg := baseConfig()
	cfg.Database = config.DatabaseConfig{
		Driver:   config.DriverSQLite,
		Database: path,
		Pool:     config.PoolConfig{MaxOpen: 4, MaxIdle: 2, MaxLifetime: time.Minute},
	}
	return cfg
}

func TestWaitForStop(t *testing.T) {
	boom := errors.New("listen tcp: address in use")
	tests := []struct {
		name       string
		signal     bool
		serverErr  error
		noChannels bool
		wantReason string
		wantErr    string
	}{
		{name: "signal", signal: true, wantReason: StopSignal},
		{name: "server failure", serverErr: boom, wantReason: StopServerError, wantErr: boom.Error()},
		{name: "server channel closed", serverErr: nil, wantReason: StopServerError, wantErr: "stopped unexpectedly"},
		{name: "nothing to wait for", noChannels: true, wantErr: "nothing to wait for"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &App{logger: testLogger()}
			if tt.noChannels {
				_, err := app.WaitForStop(nil, nil)
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}

			stop := make(chan os.Signal, 1)
			serverErrors := make(chan error, 1)
			if tt.signal {
				stop <- syscall.SIGTERM
			} else if tt.serverErr != nil {
				serverErrors <- tt.serverErr
			} else {
				close(serverErrors)
			}

			reason, err := app.WaitForStop(stop, serverErrors)
			assert.Equal(t, tt.wantReason, reason)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestWaitForStopUsesStartedServerChannel(t *testing.T) {
	errs := make(chan error, 1)
	errs <- errors.New("accept failed")
	app := &App{logger: testLogger(), serverErrors: errs}

	reason, err := app.WaitForStop(nil, nil)
	assert.Equal(t, StopServerError, reason)
	assert.ErrorContains(t, err, "accept failed")
}

func TestShutdownRunsOnce(t *testing.T) {
	app := &App{logger: testLogger()}
	var calls atomic.Int32
	app.cleanup.push("database", func(context.Context) error {
		calls.Add(1)
		return errors.New("close failed")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first := app.Shutdown(ctx)
	require.ErrorContains(t, first, "database: close failed")
	assert.Equal(t, first, app.Shutdown(ctx))
	assert.Equal(t, int32(1), calls.Load())
}

func TestShutdownAppliesConfiguredTimeout(t *testing.T) {
	app := &App{cfg: baseConfig(), logger: testLogger()}
	var hadDeadline bool
	app.cleanup.push("HTTP server", func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})
	require.NoError(t, app.Shutdown(context.Background()))
	assert.True(t, hadDeadline)
}

func TestCleanupStackReleasesInReverse(t *testing.T) {
	var order []string
	stack := cleanupStack{}
	for _, name := range []string{"database", "schema manager", "HTTP server"} {
		stack.push(name, func(context.Context) error {
			order = append(order, name)
			if name == "schema manager" {
				return errors.New("still refreshing")
			}
			return nil
		})
	}
	err := stack.run(context.Background(), logging.Discard())

	assert.Equal(t, []string{"HTTP server", "schema manager", "database"}, order)
	assert.EqualError(t, err, "schema manager: still refreshing")
}

func TestStartBeforeInitFails(t *testing.T) {
	app := &App{logger: testLogger()}
	_, err := app.Start()
	assert.Error(t, err)
}

func TestStartAndShutdown(t *testing.T) {
	app := &App{
		cfg:        baseConfig(),
		logger:     testLogger(),
		serverAddr: "127.0.0.1:0",
		srv: &http.Server{
			Addr:    "127.0.0.1:0",
			Handler: http.NewServeMux(),
		},
		initialized: true,
	}
	app.cleanup.push("HTTP server", func(ctx context.Context) error {
		return app.srv.Shutdown(ctx)
	})

	first, err := app.Start()
	require.NoError(t, err)
	second, err := app.Start()
	require.NoError(t, err)
	assert.Equal(t, first, second, "a repeated Start returns the running server's channel")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, app.Shutdown(ctx))
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, testLogger()); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := New(baseConfig(), nil); err == nil {
		t.Fatalf("expected error for nil logger")
	}

	cfg := baseConfig()
	cfg.Database.Driver = "oracle"
	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}

	cfg = baseConfig()
	cfg.Database.Driver = config.DriverSQLite
	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatalf("expected error for sqlite without a database path")
	}
}

func TestInitFailure_DoesNotMarkInitialized(t *testing.T) {
	appCfg := baseConfig()
	appCfg.Database = config.DatabaseConfig{
		Driver:   config.DriverMySQL,
		Host:     "127.0.0.1",
		Port:     1,
		User:     "root",
		Password: "invalid",
		Database: "test",
		TLS: config.DatabaseTLSConfig{
			Mode: "off",
		},
		Pool: config.PoolConfig{
			MaxOpen:     1,
			MaxIdle:     1,
			MaxLifetime: time.Second,
		},
		ConnectionTimeout:       0,
		ConnectionRetryInterval: 10 * time.Millisecond,
	}

	app, err := New(appCfg, testLogger())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}

	if err := app.Init(context.Background()); err == nil {
		t.Fatalf("expected init to fail with unreachable database")
	}

	app.stateMu.Lock()
	initialized := app.initialized
	app.stateMu.Unlock()
	if initialized {
		t.Fatalf("app should not be marked initialized after failed Init")
	}
	if app.Handler() != nil {
		t.Fatalf("handler should be nil after failed Init")
	}
}

func TestInit_SQLite(t *testing.T) {
	app, err := New(sqliteConfig(t), logging.Discard())
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	if err := app.Init(context.Background()); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})

	if err := app.Init(context.Background()); err != nil {
		t.Fatalf("second init should be a no-op: %v", err)
	}
	if app.Handler() == nil {
		t.Fatalf("handler should be set after Init")
	}
	if app.manager.CurrentSnapshot() == nil {
		t.Fatalf("schema snapshot should be built during Init")
	}
}
