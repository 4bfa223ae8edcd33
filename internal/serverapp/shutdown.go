package serverapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gqlorm/internal/logging"
)

// cleanupStack releases resources in the reverse order they were acquired.
type cleanupStack struct {
	steps []cleanupStep
}

type cleanupStep struct {
	component string
	release   func(context.Context) error
}

func (s *cleanupStack) push(component string, release func(context.Context) error) {
	s.steps = append(s.steps, cleanupStep{component: component, release: release})
}

// run releases every component, newest first, and keeps going past
// failures. The returned error joins every failure.
func (s *cleanupStack) run(ctx context.Context, logger *logging.Logger) error {
	var errs []error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		start := time.Now()
		err := step.release(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.component, err))
		}
		if logger == nil {
			continue
		}
		if err != nil {
			logger.Warn("cleanup failed",
				slog.String("component", step.component),
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.Info("released "+step.component, slog.Duration("took", time.Since(start)))
	}
	return errors.Join(errs...)
}

// Shutdown releases everything Init acquired. Only the first call does any
// work; later calls return its result. A context without a deadline gets
// the configured shutdown timeout.
func (a *App) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.shutdownOnce.Do(func() {
		if _, ok := ctx.Deadline(); !ok && a.cfg != nil && a.cfg.Server.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
			defer cancel()
		}

		a.stateMu.Lock()
		cleanup := a.cleanup
		a.started = false
		a.stateMu.Unlock()

		a.shutdownErr = cleanup.run(ctx, a.logger)
	})
	return a.shutdownErr
}
