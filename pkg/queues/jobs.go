// Package queues provides the Redis-backed job queues that carry intake
// work from producers to pipeline workers.
package queues

import (
	"context"
	"fmt"
	"time"

	"github.com/otherjamesbrown/intake/pkg/intake"
)

// JobType identifies the pipeline stage a job triggers.
type JobType string

const (
	JobMessageAI          JobType = "message_ai"
	JobFileAI             JobType = "file_ai"
	JobVocalTranscription JobType = "vocal_transcription"
	JobVocalInsights      JobType = "vocal_insights"
)

// JobTypes lists every job type in pipeline order.
var JobTypes = []JobType{JobMessageAI, JobFileAI, JobVocalTranscription, JobVocalInsights}

// ItemType returns the kind of record the job refers to.
func (t JobType) ItemType() intake.ItemType {
	switch t {
	case JobMessageAI:
		return intake.ItemTypeMessage
	case JobFileAI:
		return intake.ItemTypeFile
	default:
		return intake.ItemTypeVocal
	}
}

// Priority levels for jobs. Higher runs sooner among ready jobs.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// Payload is the minimal job body. Workers reload everything else from the store.
type Payload struct {
	OrgID    string `json:"orgId"`
	EntityID string `json:"entityId"`
}

// Validate checks both ids are present.
func (p Payload) Validate() error {
	if p.OrgID == "" || p.EntityID == "" {
		return fmt.Errorf("%w: orgId and entityId are required", ErrInvalidJob)
	}
	return nil
}

// Job is a unit of work to enqueue.
type Job struct {
	Type     JobType
	Payload  Payload
	Priority Priority
}

// QueuedJob wraps a job with queue bookkeeping.
type QueuedJob struct {
	ID           string    `json:"id"`
	Type         JobType   `json:"type"`
	Payload      Payload   `json:"payload"`
	Priority     Priority  `json:"priority"`
	RetryCount   int       `json:"retry_count"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	VisibleAfter time.Time `json:"visible_after,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Queue is a named at-least-once job queue.
type Queue interface {
	Name() string

	// Enqueue adds a job and returns its id.
	Enqueue(ctx context.Context, job Job) (string, error)

	// Dequeue claims up to maxJobs ready jobs, waiting at most timeout for the first.
	Dequeue(ctx context.Context, maxJobs int, timeout time.Duration) ([]*QueuedJob, error)

	// Ack removes a successfully processed job.
	Ack(ctx context.Context, jobID string) error

	// Nack schedules a retry with backoff, or dead-letters the job once retries run out.
	Nack(ctx context.Context, jobID string, cause error) error

	// MoveToDeadLetter parks a job that must not be retried.
	MoveToDeadLetter(ctx context.Context, jobID, reason string) error

	// Depth returns the number of jobs waiting.
	Depth(ctx context.Context) (int64, error)

	// RecoverStale requeues jobs whose visibility timeout expired.
	RecoverStale(ctx context.Context) (int, error)
}

// QueueConfig configures queue behaviour.
type QueueConfig struct {
	Name              string        `yaml:"name"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	RetentionPeriod   time.Duration `yaml:"retention_period"`
	Retry             RetryPolicy   `yaml:"retry"`
}

// QueueName returns the queue carrying jobs of type t.
func QueueName(t JobType) string {
	switch t {
	case JobMessageAI:
		return "intake:message"
	case JobFileAI:
		return "intake:file"
	case JobVocalTranscription:
		return "intake:vocal:transcription"
	case JobVocalInsights:
		return "intake:vocal:insights"
	}
	return "intake:" + string(t)
}

// DefaultQueueConfigs returns the default configuration for each job type.
func DefaultQueueConfigs() map[JobType]QueueConfig {
	configs := make(map[JobType]QueueConfig, len(JobTypes))
	for _, t := range JobTypes {
		visibility := 60 * time.Second
		if t == JobVocalTranscription || t == JobVocalInsights {
			visibility = 300 * time.Second
		}
		configs[t] = QueueConfig{
			Name:              QueueName(t),
			VisibilityTimeout: visibility,
			RetentionPeriod:   24 * time.Hour,
			Retry:             DefaultRetryPolicy(),
		}
	}
	return configs
}
