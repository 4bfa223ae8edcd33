package serverapp

import (
	"context"
	"database/sql"
	"log/slog"

	"gqlorm/internal/config"
	"gqlorm/internal/dbexec"
	"gqlorm/internal/logging"
	"gqlorm/internal/observability"
	"gqlorm/internal/optimizer"
	"gqlorm/internal/resolver"
	"gqlorm/internal/schemarefresh"
	"gqlorm/internal/sqlutil"
)

// buildSchemaConfig translates the optimizer, filter and naming settings
// into the schema builder's input.
func buildSchemaConfig(cfg *config.Config, logger *logging.Logger, db *sql.DB, dialect sqlutil.Dialect, metrics *observability.Metrics) (schemarefresh.BuildSchemaConfig, error) {
	var out schemarefresh.BuildSchemaConfig

	databaseName, err := cfg.Database.IntrospectionSchema()
	if err != nil {
		return out, err
	}
	gate, err := cfg.Optimizer.Gate()
	if err != nil {
		return out, err
	}
	hints, err := cfg.Optimizer.FieldHints()
	if err != nil {
		return out, err
	}
	computed, err := cfg.Optimizer.ComputedFields()
	if err != nil {
		return out, err
	}
	baseFilters, err := cfg.Optimizer.BaseFilterMap()
	if err != nil {
		return out, err
	}
	declarations, err := cfg.Optimizer.Declarations()
	if err != nil {
		return out, err
	}

	optimizerOpts := []optimizer.Option{optimizer.WithParallelWalk(cfg.Optimizer.ParallelWalk)}
	if metrics != nil && metrics.Optimizer != nil {
		optimizerOpts = append(optimizerOpts, optimizer.WithRecorder(metrics.Optimizer))
	}
	var maxLimit uint64
	if cfg.Server.GraphQLMaxLimit > 0 {
		maxLimit = uint64(cfg.Server.GraphQLMaxLimit)
	}

	return schemarefresh.BuildSchemaConfig{
		Queryer:      db,
		Executor:     dbexec.NewStandardExecutor(db),
		Dialect:      dialect,
		DatabaseName: databaseName,
		Filters:      cfg.SchemaFilters,
		Naming:       cfg.Naming,
		NamingLogger: logger.Logger,
		Polymorphic:  declarations,
		Resolver: resolver.Config{
			Gate:             gate,
			MaxLimit:         maxLimit,
			Hints:            hints,
			Computed:         computed,
			BaseFilters:      baseFilters,
			Deferred:         cfg.Optimizer.DeferredRelations,
			Permission:       cfg.Optimizer.Permission(),
			Mutations:        cfg.SchemaFilters.MutationPolicy(),
			OptimizerOptions: optimizerOpts,
			SessionOptions:   cfg.Optimizer.SessionOptions(),
		},
	}, nil
}

// startSchemaManager builds the first snapshot and starts the refresh loop.
// The returned cancel function stops the loop.
func startSchemaManager(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, dialect sqlutil.Dialect, metrics *observability.Metrics) (*schemarefresh.Manager, context.CancelFunc, error) {
	build, err := buildSchemaConfig(cfg, logger, db, dialect, metrics)
	if err != nil {
		return nil, nil, err
	}

	var refreshMetrics *observability.SchemaRefreshMetrics
	if metrics != nil {
		refreshMetrics = metrics.SchemaRefresh
	}
	manager, err := schemarefresh.NewManager(ctx, schemarefresh.Config{
		Build:       build,
		Logger:      logger,
		Metrics:     refreshMetrics,
		MinInterval: cfg.Server.SchemaRefreshMinInterval,
		MaxInterval: cfg.Server.SchemaRefreshMaxInterval,
		GraphiQL:    cfg.Server.GraphiQLEnabled,
	})
	if err != nil {
		return nil, nil, err
	}

	schemaCtx, schemaCancel := context.WithCancel(context.WithoutCancel(ctx))
	manager.Start(schemaCtx)

	logger.Info("optimizer configured",
		slog.Bool("enabled", build.Resolver.Gate.Enabled()),
		slog.Bool("parallel_walk", cfg.Optimizer.ParallelWalk),
		slog.Int("hints", len(build.Resolver.Hints)),
		slog.Int("computed_fields", len(build.Resolver.Computed)),
		slog.Int("polymorphic_models", len(build.Polymorphic)),
	)
	return manager, schemaCancel, nil
}
