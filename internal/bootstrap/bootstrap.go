// Package bootstrap assembles the runtime graph shared by the api and worker binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"recruiting-ai-queue/internal/ai"
	"recruiting-ai-queue/internal/analysis"
	"recruiting-ai-queue/internal/archive"
	"recruiting-ai-queue/internal/cache"
	"recruiting-ai-queue/internal/config"
	"recruiting-ai-queue/internal/jobs"
	"recruiting-ai-queue/internal/logging"
	"recruiting-ai-queue/internal/ratelimit"
	"recruiting-ai-queue/internal/store"
)

// App holds the long-lived components built from Config.
type App struct {
	Config  config.Config
	Log     zerolog.Logger
	Manager *jobs.Manager
	// Limiter is nil when rate limiting is disabled.
	Limiter *ratelimit.FixedWindow

	store *store.Store
}

// Load reads configuration, configures logging and builds the App.
func Load(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.Configure(cfg.LogLevel, cfg.LogFormat)
	return New(ctx, cfg, logger)
}

// New builds the App from an already loaded configuration.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	app := &App{Config: cfg, Log: logger}
	deps := jobs.Deps{Logger: logging.Component(logger, "jobs")}

	if cfg.Postgres.DSN != "" {
		st, err := store.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		if cfg.Postgres.RunMigrationsOnStart {
			if err := st.RunMigrations(ctx); err != nil {
				st.Close()
				_ = client.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		app.store = st
		deps.Recorder = st
		logger.Info().Msg("postgres result store enabled")
	}

	if cfg.Archive.S3Bucket != "" {
		archiver, err := archive.NewS3(ctx, cfg.Archive, logging.Component(logger, "archive"))
		if err != nil {
			app.closeStore()
			_ = client.Close()
			return nil, err
		}
		deps.Archiver = archiver
		logger.Info().Str("bucket", cfg.Archive.S3Bucket).Msg("s3 job archive enabled")
	}

	completer := ai.NewOpenAIClient(cfg.AI, logging.Component(logger, "ai"))
	results := cache.New(client, cfg.Cache.Prefix, logging.Component(logger, "cache"))
	// Shared AI fetches outlive the request that started them but never a job.
	results.SetFlightTimeout(cfg.Queue.JobTimeout)
	analysisLog := logging.Component(logger, "analysis")
	app.Manager = jobs.NewManager(client, cfg.Queue, jobs.Processors{
		CVAnalysis:         analysis.NewCVAnalysisProcessor(completer, results, cfg.Cache.CVAnalysisTTL, analysisLog),
		JobRequirements:    analysis.NewJobRequirementsProcessor(completer, results, cfg.Cache.JobRequirementsTTL, analysisLog),
		InterviewAnalysis:  analysis.NewInterviewAnalysisProcessor(completer, results, cfg.Cache.InterviewAnalysisTTL, analysisLog),
		QuestionGeneration: analysis.NewQuestionGenerationProcessor(completer, results, cfg.Cache.QuestionsTTL, analysisLog),
	}, deps)

	if cfg.RateLimit.Enabled {
		app.Limiter = ratelimit.NewFixedWindow(client, cfg.RateLimit.Prefix, ratelimit.RulesFromConfig(cfg.RateLimit), logging.Component(logger, "ratelimit"))
	}
	return app, nil
}

// Shutdown stops the workers, closes Redis and releases the result store.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Manager.Shutdown(ctx)
	a.closeStore()
	return err
}

func (a *App) closeStore() {
	if a.store != nil {
		a.store.Close()
	}
}
