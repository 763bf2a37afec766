// Package jobs runs typed AI work asynchronously on Redis-backed queues.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"recruiting-ai-queue/internal/apperr"
	"recruiting-ai-queue/internal/config"
	"recruiting-ai-queue/internal/models"
	"recruiting-ai-queue/internal/queue"
	"recruiting-ai-queue/internal/telemetry"
	"recruiting-ai-queue/internal/worker"
)

// Processor performs the domain work of one job kind.
type Processor[T, R any] interface {
	Validate(payload T) error
	Process(ctx context.Context, payload T) (R, error)
	EstimateProcessingTime(payload T) time.Duration
}

// Archiver keeps a copy of terminal jobs before cleanup deletes them.
type Archiver interface {
	Archive(ctx context.Context, queue string, jobs []models.Job) error
}

// Deps are the optional collaborators shared by every Service.
type Deps struct {
	Recorder worker.Recorder
	Archiver Archiver
	Logger   zerolog.Logger
}

// EnqueueOptions carries submission metadata.
type EnqueueOptions struct {
	UserID string
}

const (
	cleanupBatch    = 500
	defaultEstimate = 30 * time.Second
	maxProgress     = 95
)

// Service executes a Processor against payloads submitted to its queue.
type Service[T, R any] struct {
	kind      models.Kind
	cfg       config.QueueConfig
	queue     *queue.RedisQueue
	processor Processor[T, R]
	recorder  worker.Recorder
	archiver  Archiver
	log       zerolog.Logger

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the service for kind. Workers are not started until Start is called.
func NewService[T, R any](kind models.Kind, client redis.UniversalClient, cfg config.QueueConfig, processor Processor[T, R], deps Deps) *Service[T, R] {
	return &Service[T, R]{
		kind:      kind,
		cfg:       cfg,
		queue:     queue.NewRedisQueue(client, cfg.Prefix, string(kind), cfg.VisibilityTimeout),
		processor: processor,
		recorder:  deps.Recorder,
		archiver:  deps.Archiver,
		log:       deps.Logger.With().Str("queue", string(kind)).Logger(),
	}
}

// Kind returns the job kind served by this queue.
func (s *Service[T, R]) Kind() models.Kind { return s.kind }

// Validate checks payload without submitting it.
func (s *Service[T, R]) Validate(payload T) error {
	return s.processor.Validate(payload)
}

// Estimate returns the processor's expected run time for payload.
func (s *Service[T, R]) Estimate(payload T) time.Duration {
	return s.processor.EstimateProcessingTime(payload)
}

// Enqueue stores payload as a pending job and returns its id. It does not validate payload.
func (s *Service[T, R]) Enqueue(ctx context.Context, payload T, opts EnqueueOptions) (string, error) {
	if s.isClosed() {
		return "", apperr.QueueUnavailable(errors.New("queue is shutting down"))
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("encode payload: %w", err))
	}

	now := time.Now().UTC()
	job := models.Job{
		ID:               uuid.NewString(),
		Kind:             s.kind,
		UserID:           opts.UserID,
		Payload:          raw,
		Status:           models.StatusPending,
		MaxAttempts:      s.cfg.MaxAttempts,
		EstimatedSeconds: int(math.Ceil(s.processor.EstimateProcessingTime(payload).Seconds())),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.queue.Add(ctx, job); err != nil {
		return "", apperr.QueueUnavailable(err)
	}
	telemetry.EnqueueCounter.WithLabelValues(string(s.kind)).Inc()
	s.log.Debug().Str("job_id", job.ID).Str("user_id", opts.UserID).Msg("job enqueued")
	if s.recorder != nil {
		if err := s.recorder.AppendAudit(ctx, job.ID, "enqueued", fmt.Sprintf("queue=%s user=%s", s.kind, opts.UserID)); err != nil {
			s.log.Warn().Err(err).Str("job_id", job.ID).Msg("append audit failed")
		}
	}
	return job.ID, nil
}

// Status returns the job, or nil when the id is unknown to the queue.
func (s *Service[T, R]) Status(ctx context.Context, jobID string) (*models.Job, error) {
	job, found, err := s.queue.Get(ctx, jobID)
	if err != nil {
		return nil, apperr.QueueUnavailable(err)
	}
	if !found {
		return nil, nil
	}
	return &job, nil
}

// Progress returns a 0-100 estimate for the job. Unknown ids are a not-found error.
func (s *Service[T, R]) Progress(ctx context.Context, jobID string) (int, error) {
	job, err := s.Status(ctx, jobID)
	if err != nil {
		return 0, err
	}
	if job == nil {
		return 0, apperr.JobNotFound(jobID)
	}
	return Progress(*job, time.Now()), nil
}

// Progress estimates completion from elapsed time against the job's estimate. Running jobs never
// report more than 95 since processors do not report checkpoints.
func Progress(job models.Job, now time.Time) int {
	switch {
	case job.Status.Terminal():
		return 100
	case job.Status != models.StatusProcessing || job.StartedAt == nil:
		return 0
	}
	estimate := time.Duration(job.EstimatedSeconds) * time.Second
	if estimate <= 0 {
		estimate = defaultEstimate
	}
	elapsed := now.Sub(*job.StartedAt)
	if elapsed <= 0 {
		return 0
	}
	pct := int(float64(elapsed) / float64(estimate) * 100)
	if pct > maxProgress {
		return maxProgress
	}
	return pct
}

// Stats returns job counts per status.
func (s *Service[T, R]) Stats(ctx context.Context) (models.QueueStats, error) {
	stats, err := s.queue.Counts(ctx)
	if err != nil {
		return models.QueueStats{}, apperr.QueueUnavailable(err)
	}
	return stats, nil
}

// ListByStatus returns the most recently updated jobs in status.
func (s *Service[T, R]) ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.Job, error) {
	ids, err := s.queue.ListByStatus(ctx, status, int64(limit))
	if err != nil {
		return nil, apperr.QueueUnavailable(err)
	}
	jobs, err := s.queue.GetMany(ctx, ids)
	if err != nil {
		return nil, apperr.QueueUnavailable(err)
	}
	return jobs, nil
}

// CleanupOldJobs deletes completed and failed jobs that finished more than maxAge ago and returns
// how many were removed. With an Archiver configured, a batch is only deleted after it was archived.
func (s *Service[T, R]) CleanupOldJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for {
		ids, err := s.queue.TerminalBefore(ctx, cutoff, cleanupBatch)
		if err != nil {
			return removed, apperr.QueueUnavailable(err)
		}
		if len(ids) == 0 {
			break
		}
		if s.archiver != nil {
			jobs, err := s.queue.GetMany(ctx, ids)
			if err != nil {
				return removed, apperr.QueueUnavailable(err)
			}
			if err := s.archiver.Archive(ctx, string(s.kind), jobs); err != nil {
				return removed, fmt.Errorf("archive %s jobs: %w", s.kind, err)
			}
		}
		if err := s.queue.Remove(ctx, ids); err != nil {
			return removed, apperr.QueueUnavailable(err)
		}
		removed += len(ids)
		telemetry.JobsPruned.WithLabelValues(string(s.kind)).Add(float64(len(ids)))
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Dur("max_age", maxAge).Msg("cleaned up old jobs")
	}
	return removed, nil
}

// RunSync validates payload and processes it inline, bypassing the queue.
func (s *Service[T, R]) RunSync(ctx context.Context, payload T) (R, error) {
	if err := s.processor.Validate(payload); err != nil {
		var zero R
		return zero, err
	}
	return s.processor.Process(ctx, payload)
}

// Start launches the worker pool. It is a no-op when already started or shut down.
func (s *Service[T, R]) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	proc := worker.NewProcessor(s.cfg, s.queue, s.handle, s.recorder, s.log)
	go func() {
		defer close(s.done)
		_ = proc.Run(ctx)
	}()
}

// Shutdown stops accepting jobs, stops polling and waits for in-flight jobs until ctx is done.
func (s *Service[T, R]) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown %s workers: %w", s.kind, ctx.Err())
	}
}

func (s *Service[T, R]) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// handle decodes a job payload and runs the processor on it.
func (s *Service[T, R]) handle(ctx context.Context, job models.Job) (json.RawMessage, error) {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, apperr.Validation("payload", "cannot be decoded")
	}
	result, err := s.processor.Process(ctx, payload)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("encode result: %w", err))
	}
	return raw, nil
}
