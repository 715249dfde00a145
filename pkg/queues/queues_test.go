package queues

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intakeerrors "github.com/otherjamesbrown/intake/pkg/errors"
	"github.com/otherjamesbrown/intake/pkg/intake"
)

func TestQueueName(t *testing.T) {
	assert.Equal(t, "intake:message", QueueName(JobMessageAI))
	assert.Equal(t, "intake:file", QueueName(JobFileAI))
	assert.Equal(t, "intake:vocal:transcription", QueueName(JobVocalTranscription))
	assert.Equal(t, "intake:vocal:insights", QueueName(JobVocalInsights))
}

func TestJobType_ItemType(t *testing.T) {
	assert.Equal(t, intake.ItemTypeMessage, JobMessageAI.ItemType())
	assert.Equal(t, intake.ItemTypeFile, JobFileAI.ItemType())
	assert.Equal(t, intake.ItemTypeVocal, JobVocalTranscription.ItemType())
	assert.Equal(t, intake.ItemTypeVocal, JobVocalInsights.ItemType())
}

func TestDefaultQueueConfigs(t *testing.T) {
	configs := DefaultQueueConfigs()
	require.Len(t, configs, 4)
	assert.Equal(t, 60*time.Second, configs[JobMessageAI].VisibilityTimeout)
	assert.Equal(t, 60*time.Second, configs[JobFileAI].VisibilityTimeout)
	assert.Equal(t, 300*time.Second, configs[JobVocalTranscription].VisibilityTimeout)
	assert.Equal(t, 300*time.Second, configs[JobVocalInsights].VisibilityTimeout)
	assert.Equal(t, 24*time.Hour, configs[JobMessageAI].RetentionPeriod)
}

func TestRetryPolicy_CalculateBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.CalculateBackoff(1))
	assert.Equal(t, 2*time.Second, p.CalculateBackoff(2))
	assert.Equal(t, 4*time.Second, p.CalculateBackoff(3))
	assert.Equal(t, 5*time.Minute, p.CalculateBackoff(20))
}

func TestRetryPolicy_DecideRetry(t *testing.T) {
	p := DefaultRetryPolicy()

	d := p.DecideRetry(NewTransientError("timeout", "slow", nil), 1)
	assert.True(t, d.ShouldRetry)
	assert.Equal(t, time.Second, d.BackoffDuration)

	d = p.DecideRetry(NewTransientError("timeout", "slow", nil), 4)
	assert.False(t, d.ShouldRetry)
	assert.Equal(t, "max retries exceeded", d.Reason)

	d = p.DecideRetry(intakeerrors.NotFound("vocal", "v1"), 1)
	assert.False(t, d.ShouldRetry)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.True(t, Classify(context.DeadlineExceeded).IsRetryable())
	assert.False(t, Classify(intakeerrors.Validationf("bad")).IsRetryable())

	pe := NewPermanentError("parse_error", "bad json", errors.New("eof"))
	assert.Same(t, pe, Classify(pe))
	assert.Equal(t, "bad json: eof", pe.Error())
}

func TestReadyScore_PriorityAheadOfRecent(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	assert.Less(t, readyScore(now, PriorityHigh), readyScore(now, PriorityNormal))
	assert.Less(t, readyScore(now, PriorityNormal), readyScore(now.Add(time.Second), PriorityNormal))
}

func TestMemoryQueue_EnqueueRejectsMissingIDs(t *testing.T) {
	q := NewMemoryQueue(QueueConfig{Name: "test"})
	_, err := q.Enqueue(context.Background(), Job{Type: JobMessageAI, Payload: Payload{OrgID: "org-1"}})
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestMemoryQueue_FIFOAndAck(t *testing.T) {
	ctx := context.Background()
	clock := time.Unix(1_700_000_000, 0)
	q := NewMemoryQueue(QueueConfig{Name: "test"})
	q.SetClock(func() time.Time { return clock })

	first, err := q.Enqueue(ctx, Job{Type: JobMessageAI, Payload: Payload{OrgID: "org-1", EntityID: "m1"}})
	require.NoError(t, err)
	clock = clock.Add(time.Millisecond)
	_, err = q.Enqueue(ctx, Job{Type: JobMessageAI, Payload: Payload{OrgID: "org-1", EntityID: "m2"}})
	require.NoError(t, err)

	jobs, err := q.Dequeue(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, first, jobs[0].ID)
	assert.Equal(t, "m1", jobs[0].Payload.EntityID)

	require.NoError(t, q.Ack(ctx, jobs[0].ID))
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestMemoryQueue_NackBacksOffThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	clock := time.Unix(1_700_000_000, 0)
	q := NewMemoryQueue(QueueConfig{Name: "test"})
	q.SetClock(func() time.Time { return clock })

	_, err := q.Enqueue(ctx, Job{Type: JobFileAI, Payload: Payload{OrgID: "org-1", EntityID: "f1"}})
	require.NoError(t, err)

	transient := NewTransientError("timeout", "provider slow", nil)
	for attempt := 1; attempt <= 3; attempt++ {
		jobs, err := q.Dequeue(ctx, 1, 0)
		require.NoError(t, err)
		require.Len(t, jobs, 1, "attempt %d", attempt)
		require.NoError(t, q.Nack(ctx, jobs[0].ID, transient))

		// backed-off job is not visible yet
		jobs, err = q.Dequeue(ctx, 1, 0)
		require.NoError(t, err)
		assert.Empty(t, jobs)

		clock = clock.Add(DefaultRetryPolicy().CalculateBackoff(attempt))
	}

	jobs, err := q.Dequeue(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, q.Nack(ctx, jobs[0].ID, transient))

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "max retries exceeded", dead[0].Reason)
	assert.Equal(t, 4, dead[0].Job.RetryCount)
}

func TestMemoryQueue_PermanentErrorDeadLettersImmediately(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(QueueConfig{Name: "test"})
	_, err := q.Enqueue(ctx, Job{Type: JobVocalInsights, Payload: Payload{OrgID: "org-1", EntityID: "v1"}})
	require.NoError(t, err)

	jobs, err := q.Dequeue(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NoError(t, q.Nack(ctx, jobs[0].ID, intakeerrors.NotFound("vocal", "v1")))

	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Contains(t, dead[0].Job.LastError, "not found")
}

func TestMemoryQueue_RecoverStale(t *testing.T) {
	ctx := context.Background()
	clock := time.Unix(1_700_000_000, 0)
	q := NewMemoryQueue(QueueConfig{Name: "test", VisibilityTimeout: time.Minute})
	q.SetClock(func() time.Time { return clock })

	_, err := q.Enqueue(ctx, Job{Type: JobMessageAI, Payload: Payload{OrgID: "org-1", EntityID: "m1"}})
	require.NoError(t, err)
	jobs, err := q.Dequeue(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	n, err := q.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock = clock.Add(2 * time.Minute)
	n, err = q.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
}

func TestMemoryQueue_DequeueHonoursContext(t *testing.T) {
	q := NewMemoryQueue(QueueConfig{Name: "test"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx, 1, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
