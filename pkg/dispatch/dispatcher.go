// Package dispatch exposes the typed enqueue operations used by producers
// (HTTP handlers, channel sync, the pipeline itself) to schedule intake work.
package dispatch

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/intake/pkg/broker"
	"github.com/otherjamesbrown/intake/pkg/logging"
	"github.com/otherjamesbrown/intake/pkg/observability"
	"github.com/otherjamesbrown/intake/pkg/queues"
)

// QueueResolver returns the queue carrying jobs of type t.
type QueueResolver func(ctx context.Context, t queues.JobType) (queues.Queue, error)

// Dispatcher pushes job descriptors onto the broker and returns job ids.
type Dispatcher struct {
	resolve QueueResolver
	logger  logging.Logger
	metrics *observability.Metrics
}

// SetMetrics records enqueued jobs on m.
func (d *Dispatcher) SetMetrics(m *observability.Metrics) *Dispatcher {
	d.metrics = m
	return d
}

// New creates a dispatcher that resolves queues through the shared broker
// connection on every call, so a reconnect after Close is picked up.
func New(manager *broker.Manager, configs map[queues.JobType]queues.QueueConfig, logger logging.Logger) *Dispatcher {
	if configs == nil {
		configs = queues.DefaultQueueConfigs()
	}
	return NewWithResolver(BrokerResolver(manager, configs), logger)
}

// NewWithResolver creates a dispatcher over an arbitrary resolver.
func NewWithResolver(resolve QueueResolver, logger logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Dispatcher{resolve: resolve, logger: logger.With(logging.F("component", "dispatcher"))}
}

// BrokerResolver builds Redis queues over the manager's current connection.
func BrokerResolver(manager *broker.Manager, configs map[queues.JobType]queues.QueueConfig) QueueResolver {
	return func(ctx context.Context, t queues.JobType) (queues.Queue, error) {
		cfg, ok := configs[t]
		if !ok {
			return nil, fmt.Errorf("no queue configured for job type %q", t)
		}
		conn, err := manager.GetOrCreate(ctx)
		if err != nil {
			return nil, err
		}
		return queues.NewRedisQueue(conn.Client(), cfg), nil
	}
}

// StaticResolver serves a fixed set of queues.
func StaticResolver(qs map[queues.JobType]queues.Queue) QueueResolver {
	return func(_ context.Context, t queues.JobType) (queues.Queue, error) {
		q, ok := qs[t]
		if !ok {
			return nil, fmt.Errorf("no queue configured for job type %q", t)
		}
		return q, nil
	}
}

// EnqueueMessageAIJob schedules message classification.
func (d *Dispatcher) EnqueueMessageAIJob(ctx context.Context, orgID, messageID string) (string, error) {
	return d.enqueue(ctx, queues.JobMessageAI, orgID, messageID)
}

// EnqueueFileAIJob schedules document classification.
func (d *Dispatcher) EnqueueFileAIJob(ctx context.Context, orgID, fileID string) (string, error) {
	return d.enqueue(ctx, queues.JobFileAI, orgID, fileID)
}

// EnqueueVocalTranscriptionJob schedules transcription and type detection of a voice note.
func (d *Dispatcher) EnqueueVocalTranscriptionJob(ctx context.Context, orgID, vocalID string) (string, error) {
	return d.enqueue(ctx, queues.JobVocalTranscription, orgID, vocalID)
}

// EnqueueVocalInsightsJob schedules insight extraction for a classified voice note.
func (d *Dispatcher) EnqueueVocalInsightsJob(ctx context.Context, orgID, vocalID string) (string, error) {
	return d.enqueue(ctx, queues.JobVocalInsights, orgID, vocalID)
}

// Enqueue schedules a job of an arbitrary type.
func (d *Dispatcher) Enqueue(ctx context.Context, t queues.JobType, orgID, entityID string) (string, error) {
	return d.enqueue(ctx, t, orgID, entityID)
}

func (d *Dispatcher) enqueue(ctx context.Context, t queues.JobType, orgID, entityID string) (string, error) {
	q, err := d.resolve(ctx, t)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", t, err)
	}

	jobID, err := q.Enqueue(ctx, queues.Job{
		Type:     t,
		Payload:  queues.Payload{OrgID: orgID, EntityID: entityID},
		Priority: queues.PriorityNormal,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", t, err)
	}

	d.metrics.RecordEnqueued(string(t))
	d.logger.Debug("Job enqueued",
		logging.F("job_type", string(t)),
		logging.F("job_id", jobID),
		logging.F("org_id", orgID),
		logging.F("entity_id", entityID),
	)
	return jobID, nil
}
