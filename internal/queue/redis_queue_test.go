package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruiting-ai-queue/internal/models"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, "queue", "cv-analysis", time.Minute), mr
}

func pendingJob(id string) models.Job {
	now := time.Now().UTC()
	return models.Job{
		ID:          id,
		Kind:        models.KindCVAnalysis,
		Payload:     json.RawMessage(`{"cvText":"x"}`),
		Status:      models.StatusPending,
		MaxAttempts: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestAddGetAndDequeue(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)

	require.NoError(t, q.Add(ctx, pendingJob("j1")))
	require.NoError(t, q.Add(ctx, pendingJob("j2")))

	job, found, err := q.Get(ctx, "j1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.JSONEq(t, `{"cvText":"x"}`, string(job.Payload))

	_, found, err = q.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	depth, err := q.ReadyDepth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, depth)

	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", id)
	score, err := mr.ZScore("queue:cv-analysis:inflight", "j1")
	require.NoError(t, err)
	assert.Greater(t, score, float64(time.Now().UnixMilli()))

	id, err = q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j2", id)

	id, err = q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSaveMovesStatusIndex(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	job := pendingJob("j1")
	require.NoError(t, q.Add(ctx, job))

	job.Status = models.StatusProcessing
	job.Attempts = 1
	require.NoError(t, q.Save(ctx, job, models.StatusPending))

	stats, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Pending)
	assert.EqualValues(t, 1, stats.Processing)

	finished := time.Now().UTC()
	job.Status = models.StatusCompleted
	job.FinishedAt = &finished
	job.Result = json.RawMessage(`{"score":80}`)
	require.NoError(t, q.Save(ctx, job, models.StatusProcessing))

	stats, err = q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStats{Queue: "cv-analysis", Completed: 1}, stats)

	ids, err := q.ListByStatus(ctx, models.StatusCompleted, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"j1"}, ids)

	stored, found, err := q.Get(ctx, "j1")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"score":80}`, string(stored.Result))
}

func TestRequeueExpiredLeases(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	require.NoError(t, q.Add(ctx, pendingJob("j1")))
	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	require.Equal(t, "j1", id)

	n, err := q.RequeueExpired(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Zero(t, n, "lease still valid")

	n, err = q.RequeueExpired(ctx, time.Now().Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	id, err = q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", id)
}

func TestExtendLeaseAndAck(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t)

	require.NoError(t, q.Add(ctx, pendingJob("j1")))
	_, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)

	require.NoError(t, q.ExtendLease(ctx, "j1", 10*time.Minute))
	n, err := q.RequeueExpired(ctx, time.Now().Add(5*time.Minute), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, q.Ack(ctx, "j1"))
	assert.False(t, mr.Exists("queue:cv-analysis:inflight"))

	// Extending a released lease must not resurrect it.
	require.NoError(t, q.ExtendLease(ctx, "j1", time.Minute))
	assert.False(t, mr.Exists("queue:cv-analysis:inflight"))
}

func TestScheduleAndPromote(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	runAt := time.Now().Add(time.Minute)
	require.NoError(t, q.Schedule(ctx, "j1", runAt))

	stats, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Delayed)

	n, err := q.PromoteScheduled(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = q.PromoteScheduled(ctx, runAt.Add(time.Second), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	id, err := q.DequeueWithLease(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j1", id)
}

func TestTerminalBeforeAndRemove(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t)

	old := time.Now().Add(-48 * time.Hour).UTC()
	recent := time.Now().UTC()
	for id, finished := range map[string]time.Time{"old": old, "recent": recent} {
		job := pendingJob(id)
		require.NoError(t, q.Add(ctx, job))
		job.Status = models.StatusFailed
		job.FinishedAt = &finished
		require.NoError(t, q.Save(ctx, job, models.StatusPending))
	}

	ids, err := q.TerminalBefore(ctx, time.Now().Add(-24*time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)

	jobs, err := q.GetMany(ctx, append(ids, "ghost"))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "old", jobs[0].ID)

	require.NoError(t, q.Remove(ctx, ids))
	_, found, err := q.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, found)

	stats, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Failed)
}
