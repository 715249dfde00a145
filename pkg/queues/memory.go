package queues

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue with the same ordering and retry
// behaviour as RedisQueue. It backs tests and single-process runs.
type MemoryQueue struct {
	mu         sync.Mutex
	name       string
	config     QueueConfig
	now        func() time.Time
	ready      map[string]*QueuedJob
	readyAt    map[string]time.Time
	processing map[string]*QueuedJob
	dead       []DeadLetter
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue(config QueueConfig) *MemoryQueue {
	if config.Retry.MaxRetries == 0 && config.Retry.InitialBackoff == 0 {
		config.Retry = DefaultRetryPolicy()
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 60 * time.Second
	}
	return &MemoryQueue{
		name:       config.Name,
		config:     config,
		now:        time.Now,
		ready:      make(map[string]*QueuedJob),
		readyAt:    make(map[string]time.Time),
		processing: make(map[string]*QueuedJob),
	}
}

// SetClock replaces the time source.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

func (q *MemoryQueue) Name() string { return q.name }

func (q *MemoryQueue) Enqueue(_ context.Context, job Job) (string, error) {
	if err := job.Payload.Validate(); err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	qj := &QueuedJob{
		ID:         uuid.New().String(),
		Type:       job.Type,
		Payload:    job.Payload,
		Priority:   job.Priority,
		EnqueuedAt: now,
	}
	q.ready[qj.ID] = qj
	q.readyAt[qj.ID] = now
	return qj.ID, nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, maxJobs int, timeout time.Duration) ([]*QueuedJob, error) {
	if maxJobs <= 0 {
		maxJobs = 1
	}
	deadline := time.Now().Add(timeout)
	for {
		if jobs := q.claim(maxJobs); len(jobs) > 0 {
			return jobs, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) claim(maxJobs int) []*QueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	type candidate struct {
		id    string
		score float64
	}
	var due []candidate
	for id, qj := range q.ready {
		if q.readyAt[id].After(now) {
			continue
		}
		due = append(due, candidate{id: id, score: readyScore(q.readyAt[id], qj.Priority)})
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].score != due[j].score {
			return due[i].score < due[j].score
		}
		return due[i].id < due[j].id
	})
	if len(due) > maxJobs {
		due = due[:maxJobs]
	}

	jobs := make([]*QueuedJob, 0, len(due))
	for _, c := range due {
		qj := q.ready[c.id]
		delete(q.ready, c.id)
		delete(q.readyAt, c.id)
		qj.VisibleAfter = now.Add(q.config.VisibilityTimeout)
		q.processing[c.id] = qj
		cp := *qj
		jobs = append(jobs, &cp)
	}
	return jobs
}

func (q *MemoryQueue) Ack(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, jobID)
	return nil
}

func (q *MemoryQueue) Nack(_ context.Context, jobID string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nackLocked(jobID, cause)
}

func (q *MemoryQueue) nackLocked(jobID string, cause error) error {
	qj, ok := q.processing[jobID]
	if !ok {
		return ErrJobNotFound
	}
	qj.RetryCount++
	if cause != nil {
		qj.LastError = cause.Error()
	}
	decision := q.config.Retry.DecideRetry(cause, qj.RetryCount)
	if !decision.ShouldRetry {
		q.deadLetterLocked(qj, decision.Reason)
		return nil
	}
	delete(q.processing, jobID)
	readyAt := q.now().Add(decision.BackoffDuration)
	qj.VisibleAfter = readyAt
	q.ready[jobID] = qj
	q.readyAt[jobID] = readyAt
	return nil
}

func (q *MemoryQueue) MoveToDeadLetter(_ context.Context, jobID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	qj, ok := q.processing[jobID]
	if !ok {
		if qj, ok = q.ready[jobID]; !ok {
			return ErrJobNotFound
		}
	}
	q.deadLetterLocked(qj, reason)
	return nil
}

func (q *MemoryQueue) deadLetterLocked(qj *QueuedJob, reason string) {
	delete(q.processing, qj.ID)
	delete(q.ready, qj.ID)
	delete(q.readyAt, qj.ID)
	q.dead = append(q.dead, DeadLetter{Job: *qj, Reason: reason, MovedAt: q.now(), QueueName: q.name})
}

// DeadLetters returns the dead-lettered jobs, oldest first.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// Pending returns the jobs waiting in the ready set, in claim order.
func (q *MemoryQueue) Pending() []QueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedJob, 0, len(q.ready))
	for _, qj := range q.ready {
		out = append(out, *qj)
	}
	sort.Slice(out, func(i, j int) bool {
		si := readyScore(q.readyAt[out[i].ID], out[i].Priority)
		sj := readyScore(q.readyAt[out[j].ID], out[j].Priority)
		if si != sj {
			return si < sj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (q *MemoryQueue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready)), nil
}

func (q *MemoryQueue) RecoverStale(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	recovered := 0
	for id, qj := range q.processing {
		if qj.VisibleAfter.After(now) {
			continue
		}
		if err := q.nackLocked(id, NewTransientError("visibility_timeout", "visibility timeout exceeded", nil)); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

var _ Queue = (*MemoryQueue)(nil)
