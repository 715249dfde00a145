package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/otherjamesbrown/intake/pkg/logging"
	"github.com/otherjamesbrown/intake/pkg/observability"
	"github.com/otherjamesbrown/intake/pkg/queues"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t queues.JobType) WorkerConfig {
	return WorkerConfig{
		JobType:             t,
		Count:               2,
		BatchSize:           1,
		PollInterval:        20 * time.Millisecond,
		HandlerTimeout:      time.Second,
		ShutdownTimeout:     time.Second,
		MaintenanceInterval: 10 * time.Millisecond,
	}
}

func newQueue(t queues.JobType) *queues.MemoryQueue {
	return queues.NewMemoryQueue(queues.DefaultQueueConfigs()[t])
}

type recorder struct {
	mu   sync.Mutex
	seen []string
	fail map[string]error
}

func (r *recorder) handle(_ context.Context, job *queues.QueuedJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, job.Payload.EntityID)
	return r.fail[job.Payload.EntityID]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func enqueue(t *testing.T, q queues.Queue, jt queues.JobType, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := q.Enqueue(context.Background(), queues.Job{Type: jt, Payload: queues.Payload{OrgID: "org-1", EntityID: id}})
		require.NoError(t, err)
	}
}

func runPool(t *testing.T, p *Pool) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Fatal("pool did not stop")
		}
	}
}

func TestPool_ProcessesAndAcks(t *testing.T) {
	q := newQueue(queues.JobMessageAI)
	enqueue(t, q, queues.JobMessageAI, "m1", "m2", "m3")
	rec := &recorder{}

	p := NewPool(testConfig(queues.JobMessageAI), q, rec.handle, WithLogger(logging.NewNopLogger()))
	stop := runPool(t, p)

	require.Eventually(t, func() bool { return rec.count() == 3 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return p.Stats().Processed == 3 }, time.Second, 10*time.Millisecond)
	stop()

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
	assert.Empty(t, q.Pending())
	assert.Equal(t, 2, p.Stats().WorkerCount)
	assert.Zero(t, p.Stats().ActiveCount)
}

func TestPool_PermanentErrorDeadLetters(t *testing.T) {
	q := newQueue(queues.JobFileAI)
	enqueue(t, q, queues.JobFileAI, "gone")
	rec := &recorder{fail: map[string]error{
		"gone": queues.NewPermanentError("not_found", "entity not found", errors.New("file gone not found")),
	}}

	p := NewPool(testConfig(queues.JobFileAI), q, rec.handle, WithLogger(logging.NewNopLogger()))
	stop := runPool(t, p)
	require.Eventually(t, func() bool { return len(q.DeadLetters()) == 1 }, 2*time.Second, 10*time.Millisecond)
	stop()

	assert.Equal(t, 1, rec.count())
	assert.Equal(t, int64(1), p.Stats().Failed)
	assert.Equal(t, "gone", q.DeadLetters()[0].Job.Payload.EntityID)
}

func TestPool_TransientErrorIsRetriedLater(t *testing.T) {
	q := newQueue(queues.JobVocalInsights)
	enqueue(t, q, queues.JobVocalInsights, "v1")
	rec := &recorder{fail: map[string]error{
		"v1": queues.NewTransientError("rate_limit", "stage failed", errors.New("429")),
	}}

	p := NewPool(testConfig(queues.JobVocalInsights), q, rec.handle, WithLogger(logging.NewNopLogger()))
	stop := runPool(t, p)
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	stop()

	pending := q.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Empty(t, q.DeadLetters())
}

func TestPool_MaintainOnceReportsDepth(t *testing.T) {
	q := newQueue(queues.JobVocalTranscription)
	enqueue(t, q, queues.JobVocalTranscription, "a", "b")

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	p := NewPool(testConfig(queues.JobVocalTranscription), q, (&recorder{}).handle,
		WithMetrics(metrics), WithLogger(logging.NewNopLogger()))

	p.MaintainOnce(context.Background())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.QueueDepth.WithLabelValues(q.Name())))
}

func TestPoolManager_RunsAllPools(t *testing.T) {
	msgQ := newQueue(queues.JobMessageAI)
	fileQ := newQueue(queues.JobFileAI)
	enqueue(t, msgQ, queues.JobMessageAI, "m1")
	enqueue(t, fileQ, queues.JobFileAI, "f1")
	rec := &recorder{}

	pm := NewPoolManager()
	pm.RegisterPool(NewPool(testConfig(queues.JobMessageAI), msgQ, rec.handle, WithLogger(logging.NewNopLogger())))
	pm.RegisterPool(NewPool(testConfig(queues.JobFileAI), fileQ, rec.handle, WithLogger(logging.NewNopLogger())))

	_, ok := pm.GetPool(queues.JobFileAI)
	assert.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pm.Run(ctx) }()

	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	stats := pm.AllStats()
	assert.Len(t, stats, 2)
}

func TestDefaultWorkerConfigs(t *testing.T) {
	cfgs := DefaultWorkerConfigs()
	require.Len(t, cfgs, len(queues.JobTypes))
	qc := queues.DefaultQueueConfigs()
	for jt, c := range cfgs {
		assert.Equal(t, jt, c.JobType)
		assert.Less(t, c.HandlerTimeout, qc[jt].VisibilityTimeout)
		assert.Positive(t, c.Count)
	}
}
