package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"recruiting-ai-queue/internal/models"
)

// RedisQueue coordinates the ready list, lease set, retry schedule and job records of one named
// queue in Redis. Keys share "<prefix>:<name>:" so several queues can live in one database.
type RedisQueue struct {
	client        redis.UniversalClient
	name          string
	readyKey      string
	inflightKey   string
	scheduledKey  string
	jobKeyPrefix  string
	statusPrefix  string
	visibilityTTL time.Duration
}

// NewRedisQueue builds a queue named name on top of a shared client.
func NewRedisQueue(client redis.UniversalClient, prefix, name string, visibility time.Duration) *RedisQueue {
	if prefix == "" {
		prefix = "queue"
	}
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	base := fmt.Sprintf("%s:%s:", prefix, name)
	return &RedisQueue{
		client:        client,
		name:          name,
		readyKey:      base + "ready",
		inflightKey:   base + "inflight",
		scheduledKey:  base + "scheduled",
		jobKeyPrefix:  base + "job:",
		statusPrefix:  base + "status:",
		visibilityTTL: visibility,
	}
}

// Name returns the queue name.
func (q *RedisQueue) Name() string { return q.name }

func (q *RedisQueue) jobKey(jobID string) string {
	return q.jobKeyPrefix + jobID
}

func (q *RedisQueue) statusKey(s models.Status) string {
	return q.statusPrefix + string(s)
}

// Add stores a new pending job and pushes it onto the ready list in one transaction.
func (q *RedisQueue) Add(ctx context.Context, job models.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), raw, 0)
	pipe.ZAdd(ctx, q.statusKey(models.StatusPending), redis.Z{Score: float64(job.CreatedAt.UnixMilli()), Member: job.ID})
	pipe.RPush(ctx, q.readyKey, job.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// Get loads a job record. The boolean is false when the id is unknown.
func (q *RedisQueue) Get(ctx context.Context, jobID string) (models.Job, bool, error) {
	raw, err := q.client.Get(ctx, q.jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, err
	}
	var job models.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return models.Job{}, false, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return job, true, nil
}

// GetMany loads several job records, skipping ids without a record.
func (q *RedisQueue) GetMany(ctx context.Context, ids []string) ([]models.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = q.jobKey(id)
	}
	vals, err := q.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]models.Job, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var job models.Job
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Save writes a job record and moves it between status indexes when its status changed.
func (q *RedisQueue) Save(ctx context.Context, job models.Job, previous models.Status) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	score := job.UpdatedAt
	if job.FinishedAt != nil {
		score = *job.FinishedAt
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), raw, 0)
	if previous != "" && previous != job.Status {
		pipe.ZRem(ctx, q.statusKey(previous), job.ID)
	}
	pipe.ZAdd(ctx, q.statusKey(job.Status), redis.Z{Score: float64(score.UnixMilli()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

// Schedule places a job into the retry schedule for deferred execution.
func (q *RedisQueue) Schedule(ctx context.Context, jobID string, runAt time.Time) error {
	return q.client.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID}).Err()
}

// PromoteScheduled moves due scheduled jobs onto the ready list. It returns how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	n, err := moveDueScript.Run(ctx, q.client, []string{q.scheduledKey, q.readyKey}, now.UnixMilli(), limit).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// DequeueWithLease pops the next ready job and records it in the lease set with a visibility deadline.
// It returns "" when the queue is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAddXX(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack releases the lease of an in-flight job.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	return q.client.ZRem(ctx, q.inflightKey, jobID).Err()
}

// RequeueExpired reclaims leases whose deadline passed, pushing the jobs back onto the ready list.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) (int, error) {
	n, err := moveDueScript.Run(ctx, q.client, []string{q.inflightKey, q.readyKey}, now.UnixMilli(), limit).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ReadyDepth returns the length of the ready list.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// Counts returns the number of jobs per status plus the jobs waiting in the retry schedule.
func (q *RedisQueue) Counts(ctx context.Context) (models.QueueStats, error) {
	pipe := q.client.Pipeline()
	cmds := make(map[models.Status]*redis.IntCmd, len(models.Statuses))
	for _, s := range models.Statuses {
		cmds[s] = pipe.ZCard(ctx, q.statusKey(s))
	}
	delayed := pipe.ZCard(ctx, q.scheduledKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.QueueStats{}, err
	}
	return models.QueueStats{
		Queue:      q.name,
		Pending:    cmds[models.StatusPending].Val(),
		Processing: cmds[models.StatusProcessing].Val(),
		Completed:  cmds[models.StatusCompleted].Val(),
		Failed:     cmds[models.StatusFailed].Val(),
		Delayed:    delayed.Val(),
	}, nil
}

// ListByStatus returns the most recently updated job ids in a status.
func (q *RedisQueue) ListByStatus(ctx context.Context, status models.Status, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	return q.client.ZRevRange(ctx, q.statusKey(status), 0, limit-1).Result()
}

// TerminalBefore returns ids of completed and failed jobs that finished before the cutoff.
func (q *RedisQueue) TerminalBefore(ctx context.Context, cutoff time.Time, limit int64) ([]string, error) {
	var ids []string
	for _, s := range []models.Status{models.StatusCompleted, models.StatusFailed} {
		found, err := q.client.ZRangeByScore(ctx, q.statusKey(s), &redis.ZRangeBy{
			Min:    "-inf",
			Max:    fmt.Sprintf("%d", cutoff.UnixMilli()),
			Offset: 0,
			Count:  limit,
		}).Result()
		if err != nil {
			return nil, err
		}
		ids = append(ids, found...)
	}
	return ids, nil
}

// Remove deletes terminal job records and their index entries.
func (q *RedisQueue) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, q.jobKey(id))
		pipe.ZRem(ctx, q.statusKey(models.StatusCompleted), id)
		pipe.ZRem(ctx, q.statusKey(models.StatusFailed), id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)

// moveDueScript moves members of a sorted set whose score is <= ARGV[1] onto a list.
// ZREM guards against two callers moving the same member.
var moveDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local moved = 0
for _, id in ipairs(ids) do
  if redis.call('ZREM', KEYS[1], id) == 1 then
    redis.call('RPUSH', KEYS[2], id)
    moved = moved + 1
  end
end
return moved
`)
