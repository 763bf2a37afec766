package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"recruiting-ai-queue/internal/apperr"
	"recruiting-ai-queue/internal/config"
	"recruiting-ai-queue/internal/models"
	"recruiting-ai-queue/internal/queue"
	"recruiting-ai-queue/internal/telemetry"
)

// Handler executes a job and returns its JSON-encoded result.
type Handler func(ctx context.Context, job models.Job) (json.RawMessage, error)

// Recorder receives job lifecycle events. Implementations must be safe for concurrent use.
type Recorder interface {
	AppendAudit(ctx context.Context, jobID, event, detail string) error
	RecordResult(ctx context.Context, job models.Job) error
}

// Processor drives the worker execution loops of one queue.
type Processor struct {
	cfg      config.QueueConfig
	queue    *queue.RedisQueue
	handler  Handler
	recorder Recorder
	log      zerolog.Logger
}

// NewProcessor creates a processor. recorder may be nil.
func NewProcessor(cfg config.QueueConfig, q *queue.RedisQueue, handler Handler, recorder Recorder, logger zerolog.Logger) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		handler:  handler,
		recorder: recorder,
		log:      logger.With().Str("queue", q.Name()).Logger(),
	}
}

// Run starts cfg.Concurrency worker loops plus lease maintenance and blocks until ctx is cancelled
// and every in-flight job has finished. Jobs already running are not interrupted by ctx.
func (p *Processor) Run(ctx context.Context) error {
	concurrency := p.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.maintain(ctx)
	}()
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.loop(ctx, slot)
		}(i)
	}

	p.log.Info().Int("concurrency", concurrency).Msg("worker pool started")
	wg.Wait()
	p.log.Info().Msg("worker pool stopped")
	return ctx.Err()
}

func (p *Processor) loop(ctx context.Context, slot int) {
	for {
		if ctx.Err() != nil {
			return
		}
		jobID, err := p.queue.DequeueWithLease(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn().Err(err).Int("slot", slot).Msg("dequeue failed")
			sleep(ctx, p.cfg.PollInterval)
			continue
		}
		if jobID == "" {
			sleep(ctx, p.cfg.PollInterval)
			continue
		}
		p.process(context.WithoutCancel(ctx), jobID)
	}
}

// maintain promotes due retries and reclaims expired leases.
func (p *Processor) maintain(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := time.Now()
		if _, err := p.queue.PromoteScheduled(ctx, now, 100); err != nil && ctx.Err() == nil {
			p.log.Warn().Err(err).Msg("promote scheduled jobs failed")
		}
		if n, err := p.queue.RequeueExpired(ctx, now, 100); err != nil && ctx.Err() == nil {
			p.log.Warn().Err(err).Msg("requeue expired leases failed")
		} else if n > 0 {
			p.log.Warn().Int("count", n).Msg("requeued jobs with expired leases")
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.WithLabelValues(p.queue.Name()).Set(float64(depth))
		}
	}
}

// process runs one leased job to completion, retry scheduling or permanent failure.
func (p *Processor) process(ctx context.Context, jobID string) {
	logger := p.log.With().Str("job_id", jobID).Logger()

	job, found, err := p.queue.Get(ctx, jobID)
	if err != nil {
		// Leave the lease in place; it expires and the job is retried.
		logger.Error().Err(err).Msg("load job failed")
		return
	}
	if !found || job.Status.Terminal() {
		_ = p.queue.Ack(ctx, jobID)
		return
	}

	previous := job.Status
	started := time.Now().UTC()
	job.Status = models.StatusProcessing
	job.Attempts++
	job.StartedAt = &started
	job.UpdatedAt = started
	if err := p.queue.Save(ctx, job, previous); err != nil {
		logger.Error().Err(err).Msg("mark job processing failed")
		return
	}
	logger.Debug().Int("attempt", job.Attempts).Msg("processing job")

	inflight := telemetry.InFlightGauge.WithLabelValues(p.queue.Name())
	inflight.Inc()
	defer inflight.Dec()

	result, runErr := p.runJob(ctx, job)
	finished := time.Now().UTC()
	job.UpdatedAt = finished

	if runErr == nil {
		job.Status = models.StatusCompleted
		job.Result = result
		job.Error = ""
		job.ErrorCode = ""
		job.FinishedAt = &finished
		if err := p.queue.Save(ctx, job, models.StatusProcessing); err != nil {
			logger.Error().Err(err).Msg("mark job completed failed")
			return
		}
		_ = p.queue.Ack(ctx, job.ID)
		telemetry.WorkerSuccess.WithLabelValues(p.queue.Name()).Inc()
		logger.Info().Int("attempt", job.Attempts).Dur("duration", finished.Sub(started)).Msg("job completed")
		p.recordResult(ctx, job)
		p.audit(ctx, job.ID, "completed", fmt.Sprintf("attempt=%d", job.Attempts))
		return
	}

	// Job records are served to API clients; the full cause only goes to logs and the audit trail.
	job.Error = apperr.PublicMessage(runErr)
	job.ErrorCode = apperr.Code(runErr)
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	if !apperr.Retryable(runErr) || job.Attempts >= maxAttempts {
		job.Status = models.StatusFailed
		job.FinishedAt = &finished
		if err := p.queue.Save(ctx, job, models.StatusProcessing); err != nil {
			logger.Error().Err(err).Msg("mark job failed failed")
			return
		}
		_ = p.queue.Ack(ctx, job.ID)
		telemetry.WorkerFailures.WithLabelValues(p.queue.Name()).Inc()
		logger.Error().Err(runErr).Int("attempt", job.Attempts).Msg("job failed permanently")
		p.audit(ctx, job.ID, "failed", runErr.Error())
		return
	}

	nextRun := finished.Add(backoffWithJitter(p.cfg.BackoffInitial, p.cfg.BackoffMax, job.Attempts))
	job.Status = models.StatusPending
	if err := p.queue.Save(ctx, job, models.StatusProcessing); err != nil {
		logger.Error().Err(err).Msg("mark job for retry failed")
		return
	}
	// Schedule before releasing the lease so a crash in between cannot lose the job.
	if err := p.queue.Schedule(ctx, job.ID, nextRun); err != nil {
		logger.Error().Err(err).Msg("schedule retry failed")
		return
	}
	_ = p.queue.Ack(ctx, job.ID)
	telemetry.WorkerRetries.WithLabelValues(p.queue.Name()).Inc()
	logger.Warn().Err(runErr).Int("attempt", job.Attempts).Time("next_run", nextRun).Msg("job attempt failed, retry scheduled")
	p.audit(ctx, job.ID, "retry_scheduled", fmt.Sprintf("next_run=%s attempts=%d", nextRun.Format(time.RFC3339), job.Attempts))
}

// runJob executes the handler under the job timeout while keeping the lease alive.
func (p *Processor) runJob(ctx context.Context, job models.Job) (json.RawMessage, error) {
	if p.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.JobTimeout)
		defer cancel()
	}
	stop := p.keepLeased(ctx, job.ID)
	defer stop()
	return p.safeHandle(ctx, job)
}

func (p *Processor) safeHandle(ctx context.Context, job models.Job) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("job_id", job.ID).Interface("panic", r).Str("stack", string(debug.Stack())).Msg("handler panicked")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler(ctx, job)
}

// keepLeased extends the job's lease periodically until the returned stop func is called.
func (p *Processor) keepLeased(ctx context.Context, jobID string) func() {
	visibility := p.cfg.VisibilityTimeout
	if visibility <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(visibility / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.queue.ExtendLease(ctx, jobID, visibility); err != nil {
					p.log.Warn().Err(err).Str("job_id", jobID).Msg("extend lease failed")
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

func (p *Processor) recordResult(ctx context.Context, job models.Job) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.RecordResult(ctx, job); err != nil {
		p.log.Warn().Err(err).Str("job_id", job.ID).Msg("persist job result failed")
	}
}

func (p *Processor) audit(ctx context.Context, jobID, event, detail string) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.AppendAudit(ctx, jobID, event, detail); err != nil {
		p.log.Warn().Err(err).Str("job_id", jobID).Msg("append audit failed")
	}
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max || wait <= 0 {
		wait = max
	}
	half := int64(wait / 2)
	if half <= 0 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(half))
	return wait/2 + jitter
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
