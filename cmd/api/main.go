package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	api "recruiting-ai-queue/internal/api"
	"recruiting-ai-queue/internal/bootstrap"
	"recruiting-ai-queue/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}
	cfg := app.Config

	if cfg.Queue.EmbeddedWorkers {
		app.Manager.Start()
		app.Log.Info().Int("concurrency", cfg.Queue.Concurrency).Msg("embedded workers started")
	}

	server := api.New(cfg, app.Manager, app.Limiter, logging.Component(app.Log, "api"))
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		app.Log.Info().Str("addr", httpServer.Addr).Msg("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	app.Log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		app.Log.Warn().Err(err).Msg("http shutdown")
	}
	if err := app.Shutdown(shutdownCtx); err != nil {
		app.Log.Warn().Err(err).Msg("worker shutdown")
	}
}
