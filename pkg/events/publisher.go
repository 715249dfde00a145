// Package events publishes intake lifecycle events over Redis pub/sub so
// connectors and UIs can follow statuses without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/intake/pkg/logging"
)

// Redis channels
const (
	ChannelStatusChanged  = "events.intake.status_changed"
	ChannelReviewRaised   = "events.intake.review_raised"
	ChannelReviewResolved = "events.intake.review_resolved"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	TraceID   string    `json:"trace_id,omitempty"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent stamped with the current time.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    "intake",
		Version:   "1.0",
	}
}

// StatusChanged is published when a pipeline stage writes a new status.
type StatusChanged struct {
	BaseEvent

	OrgID      string  `json:"org_id"`
	ItemType   string  `json:"item_type"`
	ItemID     string  `json:"item_id"`
	Stage      string  `json:"stage"`
	Status     string  `json:"status"`
	PropertyID *string `json:"property_id,omitempty"`
	Confidence float64 `json:"confidence"`
}

// ReviewRaised is published when an item is escalated for human review.
// Created is false when an open item for the same reason already existed.
type ReviewRaised struct {
	BaseEvent

	OrgID    string `json:"org_id"`
	ReviewID string `json:"review_id"`
	ItemType string `json:"item_type"`
	ItemID   string `json:"item_id"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
	Created  bool   `json:"created"`
}

// ReviewResolved is published when a reviewer acts on an item.
type ReviewResolved struct {
	BaseEvent

	OrgID      string  `json:"org_id"`
	ReviewID   string  `json:"review_id"`
	ItemType   string  `json:"item_type"`
	ItemID     string  `json:"item_id"`
	Resolution string  `json:"resolution"`
	PropertyID *string `json:"property_id,omitempty"`
}

// Notifier receives lifecycle events. Implementations must not block the
// pipeline for long; delivery is best effort.
type Notifier interface {
	StatusChanged(ctx context.Context, e StatusChanged)
	ReviewRaised(ctx context.Context, e ReviewRaised)
	ReviewResolved(ctx context.Context, e ReviewResolved)
}

// Client is the subset of a Redis client the publisher needs.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher publishes events to Redis. Failures are logged, never returned
// to the pipeline.
type Publisher struct {
	client Client
	logger logging.Logger
}

// NewPublisher creates a new event publisher.
func NewPublisher(client Client, logger logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Publisher{
		client: client,
		logger: logger.With(logging.F("component", "event_publisher")),
	}
}

var _ Notifier = (*Publisher)(nil)

func (p *Publisher) StatusChanged(ctx context.Context, e StatusChanged) {
	if e.EventType == "" {
		e.BaseEvent = NewBaseEvent("intake.status_changed")
	}
	_ = p.publish(ctx, ChannelStatusChanged, e)
}

func (p *Publisher) ReviewRaised(ctx context.Context, e ReviewRaised) {
	if e.EventType == "" {
		e.BaseEvent = NewBaseEvent("intake.review_raised")
	}
	_ = p.publish(ctx, ChannelReviewRaised, e)
}

func (p *Publisher) ReviewResolved(ctx context.Context, e ReviewResolved) {
	if e.EventType == "" {
		e.BaseEvent = NewBaseEvent("intake.review_resolved")
	}
	_ = p.publish(ctx, ChannelReviewResolved, e)
}

// publish serializes and publishes an event to Redis.
func (p *Publisher) publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Warn("Failed to publish event",
			logging.Err(err),
			logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.logger.Debug("Event published",
		logging.F("channel", channel),
		logging.F("payload_size", len(data)))
	return nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) StatusChanged(context.Context, StatusChanged)   {}
func (Nop) ReviewRaised(context.Context, ReviewRaised)     {}
func (Nop) ReviewResolved(context.Context, ReviewResolved) {}

// Recorder keeps events in memory. It is used by tests and by the CLI's
// one-shot commands that print what happened.
type Recorder struct {
	mu       sync.Mutex
	Statuses []StatusChanged
	Raised   []ReviewRaised
	Resolved []ReviewResolved
}

func (r *Recorder) StatusChanged(_ context.Context, e StatusChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Statuses = append(r.Statuses, e)
}

func (r *Recorder) ReviewRaised(_ context.Context, e ReviewRaised) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Raised = append(r.Raised, e)
}

func (r *Recorder) ReviewResolved(_ context.Context, e ReviewResolved) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Resolved = append(r.Resolved, e)
}

// RaisedCount returns how many review raises were recorded.
func (r *Recorder) RaisedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Raised)
}
