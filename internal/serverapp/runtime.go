package serverapp

import (
	"errors"
	"log/slog"
	"os"
)

// Reasons WaitForStop returns.
const (
	StopSignal      = "signal"
	StopServerError = "server_error"
)

// Start serves HTTP in the background once Init has completed. Calling it
// again returns the channel of the running server.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	switch {
	case !a.initialized:
		return nil, errors.New("app is not initialized")
	case a.started:
		return a.serverErrors, nil
	}
	a.serverErrors = startServer(a.cfg, a.logger, a.srv)
	a.started = true
	return a.serverErrors, nil
}

// WaitForStop blocks until a signal arrives on stop or the server fails.
// A nil serverErrors falls back to the channel returned by Start; a nil
// channel is never selected.
func (a *App) WaitForStop(stop <-chan os.Signal, serverErrors <-chan error) (string, error) {
	if serverErrors == nil {
		a.stateMu.Lock()
		if a.serverErrors != nil {
			serverErrors = a.serverErrors
		}
		a.stateMu.Unlock()
	}
	if stop == nil && serverErrors == nil {
		return "", errors.New("nothing to wait for: no stop or server error channel")
	}

	select {
	case err := <-serverErrors:
		if err == nil {
			err = errors.New("server stopped unexpectedly")
		}
		return StopServerError, err
	case sig := <-stop:
		if a.logger != nil {
			a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		}
		return StopSignal, nil
	}
}
