package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"

	jobStateWaiting   = "waiting"
	jobStateActive    = "active"
	jobStateDelayed   = "delayed"
	jobStateCompleted = "completed"
	jobStateFailed    = "failed"
)

// ErrJobGone is returned when a popped id has no job hash left (expired or purged).
var ErrJobGone = errors.New("queued job no longer exists")

type Backoff struct {
	Type  string
	Delay time.Duration
}

type Retention struct {
	CompletedAge time.Duration
	FailedAge    time.Duration
}

type EnqueueOptions struct {
	JobID     string
	Attempts  int
	Backoff   Backoff
	Retention Retention
}

// Job is a dequeued unit of work.
type Job struct {
	ID           string
	Name         string
	Payload      []byte
	AttemptsMade int
	MaxAttempts  int
	Backoff      Backoff
	Retention    Retention
}

// HasAttemptsLeft reports whether another delivery is allowed after the current one fails.
func (j *Job) HasAttemptsLeft() bool {
	return j.AttemptsMade < j.MaxAttempts
}

// NextDelay is the wait before redelivery after AttemptsMade failures.
func (j *Job) NextDelay() time.Duration {
	if j.Backoff.Type != BackoffExponential || j.AttemptsMade <= 1 {
		return j.Backoff.Delay
	}
	return j.Backoff.Delay * time.Duration(1<<uint(j.AttemptsMade-1))
}

// The job hash and the list push happen in one script so a duplicate job id
// never reaches the list twice.
var enqueueScript = redis.NewScript(`
if redis.call("exists", KEYS[1]) == 1 then
    return 0
end
redis.call("hset", KEYS[1],
    "name", ARGV[2], "payload", ARGV[3], "max_attempts", ARGV[4], "attempts_made", "0",
    "backoff_type", ARGV[5], "backoff_ms", ARGV[6], "completed_ttl_ms", ARGV[7], "failed_ttl_ms", ARGV[8],
    "state", "waiting")
redis.call("lpush", KEYS[2], ARGV[1])
return 1
`)

// Moves due delayed ids back onto the list.
var promoteScript = redis.NewScript(`
local ids = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[1])
for _, id in ipairs(ids) do
    redis.call("zrem", KEYS[1], id)
    redis.call("lpush", KEYS[2], id)
end
return #ids
`)

// RedisJobQueue is a list-backed job queue with job-id deduplication,
// attempt counting, delayed redelivery and retention of finished jobs.
type RedisJobQueue struct {
	rdb  *redis.Client
	name string
}

func NewRedisJobQueue(rdb *redis.Client, name string) *RedisJobQueue {
	return &RedisJobQueue{rdb: rdb, name: name}
}

func (q *RedisJobQueue) Name() string { return q.name }

func (q *RedisJobQueue) listKey() string { return q.name }

func (q *RedisJobQueue) delayedKey() string { return q.name + ":delayed" }

func (q *RedisJobQueue) jobKey(jobID string) string { return q.name + ":job:" + jobID }

// Enqueue stores the job and pushes it for delivery. Re-enqueueing an existing
// job id is a no-op that returns the same handle.
func (q *RedisJobQueue) Enqueue(ctx context.Context, jobName string, payload interface{}, opts EnqueueOptions) (string, error) {
	if opts.JobID == "" {
		return "", errors.New("enqueue requires a job id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}
	attempts := opts.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoffType := opts.Backoff.Type
	if backoffType == "" {
		backoffType = BackoffFixed
	}

	_, err = enqueueScript.Run(ctx, q.rdb,
		[]string{q.jobKey(opts.JobID), q.listKey()},
		opts.JobID, jobName, string(body), attempts,
		backoffType, opts.Backoff.Delay.Milliseconds(),
		opts.Retention.CompletedAge.Milliseconds(), opts.Retention.FailedAge.Milliseconds(),
	).Int()
	if err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", opts.JobID, err)
	}
	return opts.JobID, nil
}

// Dequeue blocks up to timeout for the next job. It returns (nil, nil) when nothing arrived.
func (q *RedisJobQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	if err := q.PromoteDelayed(ctx, time.Now()); err != nil {
		return nil, err
	}
	res, err := q.rdb.BRPop(ctx, timeout, q.listKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(res) < 2 || res[1] == "" {
		return nil, nil
	}
	jobID := res[1]

	fields, err := q.rdb.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return &Job{ID: jobID}, ErrJobGone
	}
	pipe := q.rdb.TxPipeline()
	attempts := pipe.HIncrBy(ctx, q.jobKey(jobID), "attempts_made", 1)
	pipe.HSet(ctx, q.jobKey(jobID), "state", jobStateActive)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("activate job %s: %w", jobID, err)
	}
	attemptsMade := attempts.Val()

	return &Job{
		ID:           jobID,
		Name:         fields["name"],
		Payload:      []byte(fields["payload"]),
		AttemptsMade: int(attemptsMade),
		MaxAttempts:  atoi(fields["max_attempts"]),
		Backoff: Backoff{
			Type:  fields["backoff_type"],
			Delay: time.Duration(atoi(fields["backoff_ms"])) * time.Millisecond,
		},
		Retention: Retention{
			CompletedAge: time.Duration(atoi(fields["completed_ttl_ms"])) * time.Millisecond,
			FailedAge:    time.Duration(atoi(fields["failed_ttl_ms"])) * time.Millisecond,
		},
	}, nil
}

// Retry schedules the job for redelivery after its backoff delay.
func (q *RedisJobQueue) Retry(ctx context.Context, job *Job) error {
	delay := job.NextDelay()
	if err := q.rdb.HSet(ctx, q.jobKey(job.ID), "state", jobStateDelayed).Err(); err != nil {
		return err
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	return q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: due, Member: job.ID}).Err()
}

// Requeue pushes the job back for immediate redelivery without consuming an attempt.
func (q *RedisJobQueue) Requeue(ctx context.Context, job *Job) error {
	pipe := q.rdb.TxPipeline()
	pipe.HIncrBy(ctx, q.jobKey(job.ID), "attempts_made", -1)
	pipe.HSet(ctx, q.jobKey(job.ID), "state", jobStateWaiting)
	pipe.RPush(ctx, q.listKey(), job.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) Complete(ctx context.Context, job *Job) error {
	return q.finish(ctx, job.ID, jobStateCompleted, job.Retention.CompletedAge)
}

func (q *RedisJobQueue) Fail(ctx context.Context, job *Job) error {
	return q.finish(ctx, job.ID, jobStateFailed, job.Retention.FailedAge)
}

func (q *RedisJobQueue) finish(ctx context.Context, jobID, state string, ttl time.Duration) error {
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(jobID), "state", state)
	if ttl > 0 {
		pipe.PExpire(ctx, q.jobKey(jobID), ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// State returns the job's lifecycle state, or "" when unknown.
func (q *RedisJobQueue) State(ctx context.Context, jobID string) (string, error) {
	state, err := q.rdb.HGet(ctx, q.jobKey(jobID), "state").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return state, err
}

func (q *RedisJobQueue) PromoteDelayed(ctx context.Context, now time.Time) error {
	return promoteScript.Run(ctx, q.rdb, []string{q.delayedKey(), q.listKey()}, now.UnixMilli()).Err()
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
