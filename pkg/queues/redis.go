package queues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis key prefixes.
const (
	keyPrefixQueue      = "queue:"      // ready jobs, scored by readyAt
	keyPrefixProcessing = "processing:" // claimed jobs, scored by visibility deadline
	keyPrefixJob        = "job:"        // job body
	keyPrefixDLQ        = "dlq:"        // dead letters
)

// priorityWindow is how far ahead of its enqueue time each priority level moves a job.
const priorityWindow = 10 * time.Second

// pollInterval is how long Dequeue sleeps when no job is ready.
const pollInterval = 100 * time.Millisecond

// RedisQueue implements Queue using Redis sorted sets.
//
// The main set is scored by the time a job becomes ready, so backed-off
// retries stay invisible until their delay passes. Dequeue claims a job by
// removing it from the main set; only the caller whose ZREM succeeds owns it.
type RedisQueue struct {
	client redis.Cmdable
	name   string
	config QueueConfig
	now    func() time.Time
}

// NewRedisQueue creates a queue over client.
func NewRedisQueue(client redis.Cmdable, config QueueConfig) *RedisQueue {
	if config.Retry.MaxRetries == 0 && config.Retry.InitialBackoff == 0 {
		config.Retry = DefaultRetryPolicy()
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 60 * time.Second
	}
	if config.RetentionPeriod <= 0 {
		config.RetentionPeriod = 24 * time.Hour
	}
	return &RedisQueue{client: client, name: config.Name, config: config, now: time.Now}
}

// Name returns the queue name.
func (q *RedisQueue) Name() string {
	return q.name
}

func (q *RedisQueue) queueKey() string      { return keyPrefixQueue + q.name }
func (q *RedisQueue) processingKey() string { return keyPrefixProcessing + q.name }
func (q *RedisQueue) dlqKey() string        { return keyPrefixDLQ + q.name }
func (q *RedisQueue) jobKey(id string) string {
	return keyPrefixJob + q.name + ":" + id
}

// readyScore orders ready jobs earliest first, with higher priority treated as older.
func readyScore(readyAt time.Time, p Priority) float64 {
	return float64(readyAt.Add(-time.Duration(p) * priorityWindow).UnixMilli())
}

// Enqueue adds a job to the queue.
func (q *RedisQueue) Enqueue(ctx context.Context, job Job) (string, error) {
	if err := job.Payload.Validate(); err != nil {
		return "", err
	}

	now := q.now()
	qj := &QueuedJob{
		ID:         uuid.New().String(),
		Type:       job.Type,
		Payload:    job.Payload,
		Priority:   job.Priority,
		EnqueuedAt: now,
	}
	data, err := json.Marshal(qj)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(qj.ID), data, q.config.RetentionPeriod)
	pipe.ZAdd(ctx, q.queueKey(), redis.Z{Score: readyScore(now, qj.Priority), Member: qj.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return qj.ID, nil
}

// Dequeue claims up to maxJobs ready jobs. It polls until at least one job is
// claimed or timeout passes.
func (q *RedisQueue) Dequeue(ctx context.Context, maxJobs int, timeout time.Duration) ([]*QueuedJob, error) {
	if maxJobs <= 0 {
		maxJobs = 1
	}
	deadline := q.now().Add(timeout)

	for {
		jobs, err := q.claim(ctx, maxJobs)
		if err != nil || len(jobs) > 0 {
			return jobs, err
		}
		if !q.now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (q *RedisQueue) claim(ctx context.Context, maxJobs int) ([]*QueuedJob, error) {
	now := q.now()
	ids, err := q.client.ZRangeByScore(ctx, q.queueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(maxJobs),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue: %w", err)
	}

	var jobs []*QueuedJob
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.queueKey(), id).Result()
		if err != nil {
			return jobs, fmt.Errorf("failed to claim job: %w", err)
		}
		if removed == 0 {
			// another worker claimed it first
			continue
		}

		qj, err := q.load(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return jobs, err
		}

		qj.VisibleAfter = now.Add(q.config.VisibilityTimeout)
		data, err := json.Marshal(qj)
		if err != nil {
			return jobs, fmt.Errorf("failed to marshal job: %w", err)
		}
		pipe := q.client.TxPipeline()
		pipe.Set(ctx, q.jobKey(id), data, q.config.RetentionPeriod)
		pipe.ZAdd(ctx, q.processingKey(), redis.Z{Score: float64(qj.VisibleAfter.UnixMilli()), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return jobs, fmt.Errorf("failed to move to processing: %w", err)
		}
		jobs = append(jobs, qj)
	}
	return jobs, nil
}

func (q *RedisQueue) load(ctx context.Context, id string) (*QueuedJob, error) {
	data, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	var qj QueuedJob
	if err := json.Unmarshal(data, &qj); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &qj, nil
}

// Ack acknowledges successful processing of a job.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), jobID)
	pipe.Del(ctx, q.jobKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// Nack records a failed attempt. Retryable failures are re-queued after the
// policy's backoff; permanent failures and exhausted jobs go to the dead letter set.
func (q *RedisQueue) Nack(ctx context.Context, jobID string, cause error) error {
	qj, err := q.load(ctx, jobID)
	if err != nil {
		return err
	}

	qj.RetryCount++
	if cause != nil {
		qj.LastError = cause.Error()
	}

	decision := q.config.Retry.DecideRetry(cause, qj.RetryCount)
	if !decision.ShouldRetry {
		return q.deadLetter(ctx, qj, decision.Reason)
	}

	readyAt := q.now().Add(decision.BackoffDuration)
	qj.VisibleAfter = readyAt
	data, err := json.Marshal(qj)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), jobID)
	pipe.Set(ctx, q.jobKey(jobID), data, q.config.RetentionPeriod)
	pipe.ZAdd(ctx, q.queueKey(), redis.Z{Score: readyScore(readyAt, qj.Priority), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to nack job: %w", err)
	}
	return nil
}

// MoveToDeadLetter moves a job to the dead letter set.
func (q *RedisQueue) MoveToDeadLetter(ctx context.Context, jobID, reason string) error {
	qj, err := q.load(ctx, jobID)
	if err != nil {
		return err
	}
	return q.deadLetter(ctx, qj, reason)
}

// DeadLetter is an entry in the dead letter set.
type DeadLetter struct {
	Job       QueuedJob `json:"job"`
	Reason    string    `json:"reason"`
	MovedAt   time.Time `json:"moved_at"`
	QueueName string    `json:"queue_name"`
}

func (q *RedisQueue) deadLetter(ctx context.Context, qj *QueuedJob, reason string) error {
	now := q.now()
	data, err := json.Marshal(DeadLetter{Job: *qj, Reason: reason, MovedAt: now, QueueName: q.name})
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), qj.ID)
	pipe.ZRem(ctx, q.queueKey(), qj.ID)
	pipe.Del(ctx, q.jobKey(qj.ID))
	pipe.ZAdd(ctx, q.dlqKey(), redis.Z{Score: float64(now.UnixMilli()), Member: string(data)})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to move to DLQ: %w", err)
	}
	return nil
}

// DeadLetters returns up to limit of the most recent dead letters.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	raw, err := q.client.ZRevRange(ctx, q.dlqKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ: %w", err)
	}
	letters := make([]DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err != nil {
			continue
		}
		letters = append(letters, dl)
	}
	return letters, nil
}

// Depth returns the number of jobs waiting, including backed-off retries.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueKey()).Result()
}

// RecoverStale returns jobs whose visibility timeout expired to the queue.
// A timed-out attempt counts as a failure for retry purposes.
func (q *RedisQueue) RecoverStale(ctx context.Context) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.processingKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find stale jobs: %w", err)
	}

	recovered := 0
	for _, id := range ids {
		err := q.Nack(ctx, id, NewTransientError("visibility_timeout", "visibility timeout exceeded", nil))
		if errors.Is(err, ErrJobNotFound) {
			q.client.ZRem(ctx, q.processingKey(), id)
			continue
		}
		if err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

var _ Queue = (*RedisQueue)(nil)
