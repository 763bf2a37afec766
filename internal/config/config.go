package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds shared runtime configuration for the API and worker services.
type Config struct {
	Env         string `env:"APP_ENV"      envDefault:"dev"`
	HTTPPort    string `env:"HTTP_PORT"    envDefault:"8080"`
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT"   envDefault:"json"`
	// TrustedUserHeader carries the authenticated user id set by the upstream gateway.
	TrustedUserHeader string `env:"TRUSTED_USER_HEADER" envDefault:"X-User-ID"`

	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Queue     QueueConfig     `envPrefix:"QUEUE_"`
	AI        AIConfig        `envPrefix:"AI_"`
	Cache     CacheConfig     `envPrefix:"CACHE_"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Postgres  PostgresConfig  `envPrefix:"POSTGRES_"`
	Archive   ArchiveConfig   `envPrefix:"ARCHIVE_"`
}

// RedisConfig describes the single Redis shared by queue, cache and rate limiter.
type RedisConfig struct {
	Addr     string `env:"ADDR"     envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"       envDefault:"0"`
}

// QueueConfig tunes the job queues and their worker pools.
type QueueConfig struct {
	Prefix            string        `env:"PREFIX"             envDefault:"queue"`
	Concurrency       int           `env:"CONCURRENCY"        envDefault:"2"`
	MaxAttempts       int           `env:"MAX_ATTEMPTS"       envDefault:"3"`
	BackoffInitial    time.Duration `env:"BACKOFF_INITIAL"    envDefault:"2s"`
	BackoffMax        time.Duration `env:"BACKOFF_MAX"        envDefault:"5m"`
	VisibilityTimeout time.Duration `env:"VISIBILITY_TIMEOUT" envDefault:"2m"`
	PollInterval      time.Duration `env:"POLL_INTERVAL"      envDefault:"1s"`
	JobTimeout        time.Duration `env:"JOB_TIMEOUT"        envDefault:"3m"`
	// EmbeddedWorkers runs the worker pools inside the API process.
	EmbeddedWorkers bool          `env:"EMBEDDED_WORKERS" envDefault:"true"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	CleanupMaxAge   time.Duration `env:"CLEANUP_MAX_AGE"  envDefault:"24h"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// AIConfig configures the chat-completion provider.
type AIConfig struct {
	APIKey         string        `env:"API_KEY"`
	BaseURL        string        `env:"BASE_URL"`
	Model          string        `env:"MODEL"            envDefault:"gpt-4o-mini"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"  envDefault:"60s"`
	// RequestsPerSecond throttles outbound calls; zero disables throttling.
	RequestsPerSecond float64 `env:"REQUESTS_PER_SECOND" envDefault:"5"`
	Burst             int     `env:"BURST"               envDefault:"5"`
}

// CacheConfig configures the AI result cache.
type CacheConfig struct {
	Prefix               string        `env:"PREFIX"                 envDefault:"cache:"`
	CVAnalysisTTL        time.Duration `env:"CV_ANALYSIS_TTL"        envDefault:"24h"`
	JobRequirementsTTL   time.Duration `env:"JOB_REQUIREMENTS_TTL"   envDefault:"168h"`
	InterviewAnalysisTTL time.Duration `env:"INTERVIEW_ANALYSIS_TTL" envDefault:"24h"`
	QuestionsTTL         time.Duration `env:"QUESTIONS_TTL"          envDefault:"12h"`
}

// RateLimitConfig holds the fixed-window table per endpoint class.
type RateLimitConfig struct {
	Enabled       bool          `env:"ENABLED"        envDefault:"true"`
	Prefix        string        `env:"PREFIX"         envDefault:"rl:"`
	GeneralLimit  int           `env:"GENERAL_LIMIT"  envDefault:"100"`
	GeneralWindow time.Duration `env:"GENERAL_WINDOW" envDefault:"15m"`
	AILimit       int           `env:"AI_LIMIT"       envDefault:"20"`
	AIWindow      time.Duration `env:"AI_WINDOW"      envDefault:"1m"`
	PaymentLimit  int           `env:"PAYMENT_LIMIT"  envDefault:"10"`
	PaymentWindow time.Duration `env:"PAYMENT_WINDOW" envDefault:"1m"`
	AuthLimit     int           `env:"AUTH_LIMIT"     envDefault:"5"`
	AuthWindow    time.Duration `env:"AUTH_WINDOW"    envDefault:"15m"`
	UploadLimit   int           `env:"UPLOAD_LIMIT"   envDefault:"10"`
	UploadWindow  time.Duration `env:"UPLOAD_WINDOW"  envDefault:"1h"`
}

// PostgresConfig enables the optional results repository when DSN is set.
type PostgresConfig struct {
	DSN                  string `env:"DSN"`
	RunMigrationsOnStart bool   `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// ArchiveConfig enables S3 archival of pruned jobs when Bucket is set.
type ArchiveConfig struct {
	S3Bucket    string `env:"S3_BUCKET"`
	S3Region    string `env:"S3_REGION"     envDefault:"us-east-1"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3PathStyle bool   `env:"S3_PATH_STYLE" envDefault:"false"`
	S3Prefix    string `env:"S3_PREFIX"     envDefault:"ai-jobs"`
}

// Load reads configuration from an optional .env file and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// Sanitize applies guardrails to values loaded from the environment.
func (c *Config) Sanitize() {
	q := &c.Queue
	if q.Prefix == "" {
		q.Prefix = "queue"
	}
	if q.Concurrency <= 0 {
		q.Concurrency = 1
	}
	if q.MaxAttempts <= 0 {
		q.MaxAttempts = 1
	}
	if q.BackoffInitial <= 0 {
		q.BackoffInitial = 2 * time.Second
	}
	if q.BackoffMax < q.BackoffInitial {
		q.BackoffMax = q.BackoffInitial
	}
	if q.VisibilityTimeout <= 0 {
		q.VisibilityTimeout = 2 * time.Minute
	}
	if q.PollInterval <= 0 {
		q.PollInterval = time.Second
	}
	if q.JobTimeout <= 0 {
		q.JobTimeout = 3 * time.Minute
	}
	if q.ShutdownTimeout <= 0 {
		q.ShutdownTimeout = 30 * time.Second
	}
	if c.AI.RequestTimeout <= 0 {
		c.AI.RequestTimeout = 60 * time.Second
	}
	if c.AI.Burst <= 0 {
		c.AI.Burst = 1
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "cache:"
	}
	if c.RateLimit.Prefix == "" {
		c.RateLimit.Prefix = "rl:"
	}
}

