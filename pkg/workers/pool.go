// Package workers runs pools of goroutines that pull jobs from the intake
// queues and hand them to the pipeline.
package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/otherjamesbrown/intake/pkg/logging"
	"github.com/otherjamesbrown/intake/pkg/observability"
	"github.com/otherjamesbrown/intake/pkg/queues"
)

// WorkerStatus represents the worker's current status.
type WorkerStatus string

const (
	WorkerStatusStarting WorkerStatus = "starting"
	WorkerStatusHealthy  WorkerStatus = "healthy"
	WorkerStatusDraining WorkerStatus = "draining"
	WorkerStatusStopped  WorkerStatus = "stopped"
)

// JobHandler processes a queued job. A nil error acks the job; any other
// error nacks it and the queue decides between retry and dead-letter.
type JobHandler func(ctx context.Context, job *queues.QueuedJob) error

// WorkerConfig configures the workers of one queue.
type WorkerConfig struct {
	JobType             queues.JobType `yaml:"job_type"`
	Count               int            `yaml:"count"`
	BatchSize           int            `yaml:"batch_size"`
	PollInterval        time.Duration  `yaml:"poll_interval"`
	HandlerTimeout      time.Duration  `yaml:"handler_timeout"`
	ShutdownTimeout     time.Duration  `yaml:"shutdown_timeout"`
	MaintenanceInterval time.Duration  `yaml:"maintenance_interval"`
}

// DefaultWorkerConfigs returns worker settings per job type. Handler timeouts
// stay under the queue visibility timeout so a slow job is abandoned before
// the queue hands it to someone else.
func DefaultWorkerConfigs() map[queues.JobType]WorkerConfig {
	qc := queues.DefaultQueueConfigs()
	cfg := func(t queues.JobType, count int, shutdown time.Duration) WorkerConfig {
		return WorkerConfig{
			JobType:             t,
			Count:               count,
			BatchSize:           1,
			PollInterval:        time.Second,
			HandlerTimeout:      qc[t].VisibilityTimeout - 10*time.Second,
			ShutdownTimeout:     shutdown,
			MaintenanceInterval: 30 * time.Second,
		}
	}
	return map[queues.JobType]WorkerConfig{
		queues.JobMessageAI:          cfg(queues.JobMessageAI, 4, 30*time.Second),
		queues.JobFileAI:             cfg(queues.JobFileAI, 4, 30*time.Second),
		queues.JobVocalTranscription: cfg(queues.JobVocalTranscription, 2, 2*time.Minute),
		queues.JobVocalInsights:      cfg(queues.JobVocalInsights, 2, 2*time.Minute),
	}
}

// Worker is a single goroutine processing jobs from one queue.
type Worker struct {
	ID     string
	Config WorkerConfig

	queue   queues.Queue
	handler JobHandler
	logger  logging.Logger

	mu           sync.Mutex
	status       WorkerStatus
	lastActivity time.Time

	ProcessedCount atomic.Int64
	FailedCount    atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates a worker.
func NewWorker(config WorkerConfig, queue queues.Queue, handler JobHandler, logger logging.Logger) *Worker {
	id := uuid.New().String()
	return &Worker{
		ID:      id,
		Config:  config,
		queue:   queue,
		handler: handler,
		logger:  logger.With(logging.F("worker_id", id)),
		status:  WorkerStatusStarting,
		done:    make(chan struct{}),
	}
}

// Status returns the worker's current status.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// LastActivity returns when the worker last picked up a job.
func (w *Worker) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity
}

func (w *Worker) setStatus(s WorkerStatus) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

// Start begins processing jobs until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.setStatus(WorkerStatusHealthy)

	go func() {
		defer close(w.done)
		w.processLoop(ctx)
	}()
}

// Stop cancels the worker and waits up to ShutdownTimeout for the job in
// hand to finish.
func (w *Worker) Stop() {
	w.setStatus(WorkerStatusDraining)
	if w.cancel != nil {
		w.cancel()
	}

	timeout := w.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-w.done:
	case <-time.After(timeout):
		w.logger.Warn("Worker did not drain before shutdown timeout")
	}
	w.setStatus(WorkerStatusStopped)
}

func (w *Worker) processLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		jobs, err := w.queue.Dequeue(ctx, w.Config.BatchSize, w.Config.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("Dequeue failed", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.Config.PollInterval):
			}
			continue
		}

		for _, job := range jobs {
			if ctx.Err() != nil {
				return
			}
			w.processJob(ctx, job)
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job *queues.QueuedJob) {
	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()

	hctx := ctx
	if w.Config.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, w.Config.HandlerTimeout)
		defer cancel()
	}

	// Queue bookkeeping must survive a shutdown that cancels ctx mid-job.
	bctx := context.WithoutCancel(ctx)

	err := w.handler(hctx, job)
	if err == nil {
		if ackErr := w.queue.Ack(bctx, job.ID); ackErr != nil {
			w.logger.Warn("Ack failed", logging.F("job_id", job.ID), logging.Err(ackErr))
		}
		w.ProcessedCount.Add(1)
		return
	}

	w.FailedCount.Add(1)
	log := w.logger.With(logging.F("job_id", job.ID), logging.F("job_type", string(job.Type)), logging.F("retry_count", job.RetryCount))
	if nackErr := w.queue.Nack(bctx, job.ID, err); nackErr != nil && !errors.Is(nackErr, queues.ErrJobNotFound) {
		log.Error("Nack failed", logging.Err(nackErr))
		return
	}
	log.Warn("Job failed", logging.Err(err))
}

// PoolOption configures a pool.
type PoolOption func(*Pool)

// WithMetrics sets the metrics sink for queue depth.
func WithMetrics(m *observability.Metrics) PoolOption {
	return func(p *Pool) { p.metrics = m }
}

// WithLogger sets a custom logger.
func WithLogger(l logging.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// Pool runs Count workers over one queue, plus a maintenance loop that
// requeues jobs whose visibility timeout expired and reports queue depth.
type Pool struct {
	Config  WorkerConfig
	Queue   queues.Queue
	Handler JobHandler

	metrics *observability.Metrics
	logger  logging.Logger

	mu      sync.RWMutex
	workers []*Worker
}

// NewPool creates a worker pool.
func NewPool(config WorkerConfig, queue queues.Queue, handler JobHandler, opts ...PoolOption) *Pool {
	p := &Pool{
		Config:  config,
		Queue:   queue,
		Handler: handler,
		logger:  logging.MustGlobal(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logging.F("component", "workers"), logging.F("queue", queue.Name()))
	return p
}

// Run starts the workers and blocks until ctx is cancelled, then drains them.
func (p *Pool) Run(ctx context.Context) error {
	p.start(ctx)
	p.logger.Info("Worker pool started", logging.F("workers", p.Config.Count))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.maintain(ctx)
	}()

	<-ctx.Done()
	p.stop()
	wg.Wait()
	p.logger.Info("Worker pool stopped")
	return nil
}

func (p *Pool) start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := p.Config.Count
	if count <= 0 {
		count = 1
	}
	for i := 0; i < count; i++ {
		w := NewWorker(p.Config, p.Queue, p.Handler, p.logger)
		w.Start(ctx)
		p.workers = append(p.workers, w)
	}
}

func (p *Pool) stop() {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
}

func (p *Pool) maintain(ctx context.Context) {
	interval := p.Config.MaintenanceInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.MaintainOnce(ctx)
		}
	}
}

// MaintainOnce requeues timed-out jobs and records the queue depth.
func (p *Pool) MaintainOnce(ctx context.Context) {
	recovered, err := p.Queue.RecoverStale(ctx)
	if err != nil && ctx.Err() == nil {
		p.logger.Warn("Stale job recovery failed", logging.Err(err))
	} else if recovered > 0 {
		p.logger.Info("Recovered timed-out jobs", logging.F("count", recovered))
	}

	depth, err := p.Queue.Depth(ctx)
	if err != nil {
		return
	}
	p.metrics.SetQueueDepth(p.Queue.Name(), depth)
}

// PoolStats contains pool statistics.
type PoolStats struct {
	JobType     queues.JobType
	WorkerCount int
	ActiveCount int
	Processed   int64
	Failed      int64
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{JobType: p.Config.JobType, WorkerCount: len(p.workers)}
	for _, w := range p.workers {
		if w.Status() == WorkerStatusHealthy {
			stats.ActiveCount++
		}
		stats.Processed += w.ProcessedCount.Load()
		stats.Failed += w.FailedCount.Load()
	}
	return stats
}

// PoolManager runs several pools under one errgroup.
type PoolManager struct {
	mu    sync.RWMutex
	pools map[queues.JobType]*Pool
}

// NewPoolManager creates an empty manager.
func NewPoolManager() *PoolManager {
	return &PoolManager{pools: make(map[queues.JobType]*Pool)}
}

// RegisterPool registers a worker pool.
func (pm *PoolManager) RegisterPool(pool *Pool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.pools[pool.Config.JobType] = pool
}

// GetPool returns a pool by job type.
func (pm *PoolManager) GetPool(t queues.JobType) (*Pool, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	pool, ok := pm.pools[t]
	return pool, ok
}

// Run runs every registered pool until ctx is cancelled.
func (pm *PoolManager) Run(ctx context.Context) error {
	pm.mu.RLock()
	pools := make([]*Pool, 0, len(pm.pools))
	for _, p := range pm.pools {
		pools = append(pools, p)
	}
	pm.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pools {
		p := p
		g.Go(func() error { return p.Run(gctx) })
	}
	return g.Wait()
}

// AllStats returns statistics for all pools.
func (pm *PoolManager) AllStats() map[queues.JobType]PoolStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	stats := make(map[queues.JobType]PoolStats, len(pm.pools))
	for t, p := range pm.pools {
		stats[t] = p.Stats()
	}
	return stats
}
