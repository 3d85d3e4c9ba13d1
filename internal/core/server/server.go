// Package server assembles the HTTP handler and runs it until shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/panoview-bridge/internal/core/config"
	"github.com/mohammed-shakir/panoview-bridge/internal/core/health"
	middleware "github.com/mohammed-shakir/panoview-bridge/internal/core/middleware"
	"github.com/mohammed-shakir/panoview-bridge/internal/core/router"
)

type Options struct {
	API     router.API
	Ready   health.ReadinessReporter
	Metrics http.Handler // nil leaves /metrics unmounted
}

func NewHandler(logger *slog.Logger, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())

	r.Get("/healthz", health.Liveness())
	if opts.Ready != nil {
		r.Get("/readyz", health.Readiness(opts.Ready))
	}
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	opts.API.Mount(r)
	return r
}

// Run serves the bridge API until ctx is canceled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(logger, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
