package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruiting-ai-queue/internal/apperr"
	"recruiting-ai-queue/internal/config"
	"recruiting-ai-queue/internal/models"
	"recruiting-ai-queue/internal/queue"
)

type recordedEvent struct {
	jobID string
	event string
}

type fakeRecorder struct {
	mu      sync.Mutex
	events  []recordedEvent
	results []string
}

func (f *fakeRecorder) AppendAudit(_ context.Context, jobID, event, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{jobID: jobID, event: event})
	return nil
}

func (f *fakeRecorder) RecordResult(_ context.Context, job models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, job.ID)
	return nil
}

func (f *fakeRecorder) eventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.events))
	for _, e := range f.events {
		names = append(names, e.event)
	}
	return names
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		Prefix:            "queue",
		Concurrency:       2,
		MaxAttempts:       3,
		BackoffInitial:    time.Second,
		BackoffMax:        4 * time.Second,
		VisibilityTimeout: time.Minute,
		PollInterval:      10 * time.Millisecond,
		JobTimeout:        5 * time.Second,
	}
}

func newTestProcessor(t *testing.T, handler Handler) (*Processor, *queue.RedisQueue, *fakeRecorder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testQueueConfig()
	q := queue.NewRedisQueue(client, cfg.Prefix, string(models.KindCVAnalysis), cfg.VisibilityTimeout)
	rec := &fakeRecorder{}
	return NewProcessor(cfg, q, handler, rec, zerolog.Nop()), q, rec, mr
}

func enqueue(t *testing.T, q *queue.RedisQueue, id string, maxAttempts int) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, q.Add(context.Background(), models.Job{
		ID:          id,
		Kind:        models.KindCVAnalysis,
		Payload:     json.RawMessage(`{"cvText":"go developer"}`),
		Status:      models.StatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}))
}

func leaseAndProcess(t *testing.T, p *Processor, q *queue.RedisQueue) models.Job {
	t.Helper()
	ctx := context.Background()
	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	p.process(ctx, id)
	job, found, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	return job
}

func TestProcessCompletesJob(t *testing.T) {
	p, q, rec, mr := newTestProcessor(t, func(_ context.Context, job models.Job) (json.RawMessage, error) {
		return json.RawMessage(`{"score":72}`), nil
	})
	enqueue(t, q, "j1", 3)

	job := leaseAndProcess(t, p, q)

	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.JSONEq(t, `{"score":72}`, string(job.Result))
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.FinishedAt)
	assert.Empty(t, job.Error)
	assert.False(t, mr.Exists("queue:cv-analysis:inflight"))
	assert.Equal(t, []string{"completed"}, rec.eventNames())
	assert.Equal(t, []string{"j1"}, rec.results)
}

func TestProcessSchedulesRetryForUpstreamFailure(t *testing.T) {
	p, q, rec, mr := newTestProcessor(t, func(context.Context, models.Job) (json.RawMessage, error) {
		return nil, apperr.UpstreamAI(errors.New("provider timeout"))
	})
	enqueue(t, q, "j1", 3)

	before := time.Now()
	job := leaseAndProcess(t, p, q)

	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, apperr.CodeAIService, job.ErrorCode)
	assert.Equal(t, "AI service request failed", job.Error)
	assert.NotContains(t, job.Error, "provider timeout")
	assert.Nil(t, job.FinishedAt)

	score, err := mr.ZScore("queue:cv-analysis:scheduled", "j1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, int64(score), before.Add(500*time.Millisecond).UnixMilli())
	assert.False(t, mr.Exists("queue:cv-analysis:inflight"))
	assert.Equal(t, []string{"retry_scheduled"}, rec.eventNames())

	stats, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Pending)
	assert.EqualValues(t, 1, stats.Delayed)
}

func TestProcessFailsAfterMaxAttempts(t *testing.T) {
	calls := 0
	p, q, rec, _ := newTestProcessor(t, func(context.Context, models.Job) (json.RawMessage, error) {
		calls++
		return nil, apperr.UpstreamAI(errors.New("unavailable"))
	})
	enqueue(t, q, "j1", 2)
	ctx := context.Background()

	job := leaseAndProcess(t, p, q)
	require.Equal(t, models.StatusPending, job.Status)

	n, err := q.PromoteScheduled(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job = leaseAndProcess(t, p, q)
	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "AI service request failed", job.Error)
	require.NotNil(t, job.FinishedAt)
	assert.Equal(t, []string{"retry_scheduled", "failed"}, rec.eventNames())
}

func TestProcessFailsImmediatelyOnInvalidRequest(t *testing.T) {
	p, q, _, mr := newTestProcessor(t, func(context.Context, models.Job) (json.RawMessage, error) {
		return nil, apperr.MissingFields("cvText")
	})
	enqueue(t, q, "j1", 3)

	job := leaseAndProcess(t, p, q)

	assert.Equal(t, models.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, apperr.CodeMissingFields, job.ErrorCode)
	assert.False(t, mr.Exists("queue:cv-analysis:scheduled"))
}

func TestProcessRecoversHandlerPanic(t *testing.T) {
	p, q, _, _ := newTestProcessor(t, func(context.Context, models.Job) (json.RawMessage, error) {
		panic("boom")
	})
	enqueue(t, q, "j1", 3)

	job := leaseAndProcess(t, p, q)

	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, "internal server error", job.Error)
	assert.Equal(t, apperr.CodeInternal, job.ErrorCode)
}

func TestProcessKeepsLeaseAliveWhileHandlerRuns(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := testQueueConfig()
	cfg.VisibilityTimeout = 150 * time.Millisecond
	q := queue.NewRedisQueue(client, cfg.Prefix, string(models.KindCVAnalysis), cfg.VisibilityTimeout)
	release := make(chan struct{})
	p := NewProcessor(cfg, q, func(context.Context, models.Job) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{"score":60}`), nil
	}, nil, zerolog.Nop())
	enqueue(t, q, "j1", 3)

	ctx := context.Background()
	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.process(ctx, id)
	}()

	// The handler outlives the initial lease several times over.
	for i := 0; i < 4; i++ {
		time.Sleep(100 * time.Millisecond)
		n, err := q.RequeueExpired(ctx, time.Now(), 10)
		require.NoError(t, err)
		assert.Zero(t, n, "lease reclaimed while the handler was still running")
	}
	close(release)
	<-done

	job, found, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.False(t, mr.Exists("queue:cv-analysis:inflight"))
}

func TestProcessSkipsTerminalJob(t *testing.T) {
	called := false
	p, q, _, mr := newTestProcessor(t, func(context.Context, models.Job) (json.RawMessage, error) {
		called = true
		return json.RawMessage(`{}`), nil
	})
	ctx := context.Background()
	enqueue(t, q, "j1", 3)
	job, _, err := q.Get(ctx, "j1")
	require.NoError(t, err)
	job.Status = models.StatusCompleted
	require.NoError(t, q.Save(ctx, job, models.StatusPending))

	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	p.process(ctx, id)

	assert.False(t, called)
	assert.False(t, mr.Exists("queue:cv-analysis:inflight"))
}

func TestRunDrainsQueueAndStops(t *testing.T) {
	p, q, _, _ := newTestProcessor(t, func(_ context.Context, job models.Job) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})
	for _, id := range []string{"a", "b", "c"} {
		enqueue(t, q, id, 3)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		stats, err := q.Counts(context.Background())
		return err == nil && stats.Completed == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not stop")
	}
}

func TestRunFinishesInFlightJobAfterCancel(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p, q, _, _ := newTestProcessor(t, func(ctx context.Context, job models.Job) (json.RawMessage, error) {
		close(started)
		<-release
		return json.RawMessage(`{"ok":true}`), ctx.Err()
	})
	enqueue(t, q, "slow", 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	<-started
	cancel()
	close(release)
	<-done

	job, found, err := q.Get(context.Background(), "slow")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.StatusCompleted, job.Status)
}

func TestBackoffWithJitter(t *testing.T) {
	base := time.Second
	max := 8 * time.Second

	for i := 0; i < 50; i++ {
		b1 := backoffWithJitter(base, max, 1)
		assert.GreaterOrEqual(t, b1, base/2)
		assert.Less(t, b1, base)

		b3 := backoffWithJitter(base, max, 3)
		assert.GreaterOrEqual(t, b3, 2*time.Second)
		assert.Less(t, b3, 4*time.Second)

		b10 := backoffWithJitter(base, max, 10)
		assert.GreaterOrEqual(t, b10, max/2)
		assert.LessOrEqual(t, b10, max)
	}
	assert.Equal(t, base, backoffWithJitter(base, max, 0))
}
