package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"recruiting-ai-queue/internal/bootstrap"
	"recruiting-ai-queue/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}
	cfg := app.Config

	metrics := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           telemetry.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	app.Manager.Start()
	app.Log.Info().
		Int("concurrency", cfg.Queue.Concurrency).
		Dur("visibility", cfg.Queue.VisibilityTimeout).
		Dur("backoff_initial", cfg.Queue.BackoffInitial).
		Msg("worker started")

	go runCleanup(ctx, app)

	<-ctx.Done()
	app.Log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		app.Log.Warn().Err(err).Msg("worker shutdown")
	}
	_ = metrics.Shutdown(shutdownCtx)
}

// runCleanup prunes terminal jobs older than CleanupMaxAge every CleanupInterval.
func runCleanup(ctx context.Context, app *bootstrap.App) {
	interval, maxAge := app.Config.Queue.CleanupInterval, app.Config.Queue.CleanupMaxAge
	if interval <= 0 || maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		removed, err := app.Manager.Cleanup(ctx, maxAge)
		if err != nil && ctx.Err() == nil {
			app.Log.Warn().Err(err).Msg("periodic cleanup failed")
			continue
		}
		for kind, n := range removed {
			if n > 0 {
				app.Log.Info().Str("queue", string(kind)).Int("removed", n).Msg("pruned old jobs")
			}
		}
	}
}
