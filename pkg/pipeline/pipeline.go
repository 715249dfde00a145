// Package pipeline holds the intake stage handlers: property matching for
// messages, document classification for files, and the voice note state
// machine. Every handler is a function of the stored entity state and is
// safe to run again after a duplicate delivery.
package pipeline

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/otherjamesbrown/intake/pkg/events"
	"github.com/otherjamesbrown/intake/pkg/inference"
	"github.com/otherjamesbrown/intake/pkg/intake"
	"github.com/otherjamesbrown/intake/pkg/logging"
	"github.com/otherjamesbrown/intake/pkg/observability"
	"github.com/otherjamesbrown/intake/pkg/review"
)

// Stage names, used in logs, metrics and composed processing errors.
const (
	StageProcessMessage = "process_message"
	StageProcessFile    = "process_file"
	StageTranscription  = "transcription"
	StageTypeDetection  = "type_detection"
	StagePropertyParams = "property_params"
	StageInsights       = "insights"
)

// StepForStatus names the stage a vocal in status s is waiting on.
func StepForStatus(s intake.VocalStatus) string {
	switch s {
	case intake.VocalStatusUploaded:
		return StageTranscription
	case intake.VocalStatusTranscribed:
		return StageTypeDetection
	case intake.VocalStatusTypeClassified:
		return StageInsights
	}
	return "unknown"
}

// DefaultPropertyCacheTTL bounds how long an org's open property list is reused.
const DefaultPropertyCacheTTL = 60 * time.Second

// Pipeline runs the intake stages.
type Pipeline struct {
	store      intake.Repository
	reviews    review.Repository
	provider   inference.Capability
	thresholds Thresholds
	notifier   events.Notifier
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	logger     logging.Logger
	properties *cache.Cache
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithThresholds sets the decision thresholds.
func WithThresholds(t Thresholds) Option {
	return func(p *Pipeline) { p.thresholds = t }
}

// WithNotifier sets the lifecycle event sink.
func WithNotifier(n events.Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithLogger sets a custom logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithPropertyCacheTTL sets how long open properties are cached per org.
// Zero disables the cache.
func WithPropertyCacheTTL(ttl time.Duration) Option {
	return func(p *Pipeline) {
		if ttl <= 0 {
			p.properties = nil
			return
		}
		p.properties = cache.New(ttl, 2*ttl)
	}
}

// New creates a pipeline.
func New(store intake.Repository, reviews review.Repository, provider inference.Capability, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:      store,
		reviews:    reviews,
		provider:   provider,
		thresholds: DefaultThresholds(),
		notifier:   events.Nop{},
		tracer:     observability.NewTracer(),
		logger:     logging.MustGlobal(),
		properties: cache.New(DefaultPropertyCacheTTL, 2*DefaultPropertyCacheTTL),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logging.F("component", "pipeline"))
	return p
}

// Thresholds returns the active thresholds.
func (p *Pipeline) Thresholds() Thresholds {
	return p.thresholds
}

func (p *Pipeline) openProperties(ctx context.Context, orgID string) ([]*intake.Property, error) {
	if p.properties != nil {
		if cached, ok := p.properties.Get(orgID); ok {
			return cached.([]*intake.Property), nil
		}
	}
	props, err := p.store.ListOpenProperties(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if p.properties != nil {
		p.properties.SetDefault(orgID, props)
	}
	return props, nil
}

// match asks the provider which open property text is about. It returns the
// chosen property id when the answer clears the auto-attach threshold and
// names a property that is still open in the org.
func (p *Pipeline) match(ctx context.Context, orgID, text string) (string, inference.Result[string], error) {
	props, err := p.openProperties(ctx, orgID)
	if err != nil {
		return "", inference.Result[string]{}, err
	}
	if len(props) == 0 {
		return "", inference.Result[string]{}, nil
	}

	candidates := make([]inference.Candidate, 0, len(props))
	open := make(map[string]bool, len(props))
	for _, prop := range props {
		candidates = append(candidates, inference.CandidateFromProperty(prop))
		open[prop.ID] = true
	}

	res, err := callProvider(ctx, p, "match", func(ctx context.Context) (inference.Result[string], error) {
		return p.provider.Match(ctx, inference.MatchRequest{Text: text, Candidates: candidates})
	})
	if err != nil {
		return "", res, err
	}
	if res.Value == "" || !open[res.Value] || res.Confidence < p.thresholds.AutoAttach {
		return "", res, nil
	}

	// The open list may be cached; confirm the winner was not closed since.
	prop, err := p.store.GetProperty(ctx, orgID, res.Value)
	if err != nil {
		return "", res, err
	}
	if !prop.IsOpen() {
		if p.properties != nil {
			p.properties.Delete(orgID)
		}
		return "", res, nil
	}
	return res.Value, res, nil
}

// callProvider wraps a provider call in a span and records its latency and confidence.
func callProvider[T any](ctx context.Context, p *Pipeline, op string, fn func(context.Context) (inference.Result[T], error)) (inference.Result[T], error) {
	ctx, span := p.tracer.StartInferenceSpan(ctx, op, p.provider.Name())
	start := time.Now()
	res, err := fn(ctx)
	observability.EndSpan(span, "", err)
	if err == nil {
		p.metrics.RecordInference(op, p.provider.Name(), time.Since(start), res.Confidence)
	}
	return res, err
}

// raise escalates an entity. It runs before the status write so a crash
// between the two leaves a state the next delivery completes.
func (p *Pipeline) raise(ctx context.Context, orgID string, itemType intake.ItemType, itemID string, reason review.Reason, detail string) error {
	_, _, err := p.raiseItem(ctx, orgID, itemType, itemID, reason, detail)
	return err
}

// raiseItem is raise for callers that may need to take the item back.
func (p *Pipeline) raiseItem(ctx context.Context, orgID string, itemType intake.ItemType, itemID string, reason review.Reason, detail string) (*review.Item, bool, error) {
	item, created, err := p.reviews.Raise(ctx, orgID, itemType, itemID, reason, detail)
	if err != nil {
		return nil, false, err
	}
	p.metrics.RecordReviewRaised(string(reason), created)
	p.notifier.ReviewRaised(ctx, events.ReviewRaised{
		BaseEvent: events.NewBaseEvent("intake.review_raised"),
		OrgID:     orgID,
		ReviewID:  item.ID,
		ItemType:  string(itemType),
		ItemID:    itemID,
		Reason:    string(reason),
		Detail:    detail,
		Created:   created,
	})
	return item, created, nil
}

func (p *Pipeline) statusChanged(ctx context.Context, orgID string, itemType intake.ItemType, itemID, stage, status string, propertyID *string, confidence float64) {
	p.notifier.StatusChanged(ctx, events.StatusChanged{
		BaseEvent:  events.NewBaseEvent("intake.status_changed"),
		OrgID:      orgID,
		ItemType:   string(itemType),
		ItemID:     itemID,
		Stage:      stage,
		Status:     status,
		PropertyID: propertyID,
		Confidence: confidence,
	})
}

// begin opens the span and logger for one stage invocation.
func (p *Pipeline) begin(ctx context.Context, stage, orgID, id string) (context.Context, func(Outcome) Outcome, logging.Logger) {
	ctx, span := p.tracer.StartStageSpan(ctx, stage, orgID, id)
	log := p.logger.WithContext(ctx).With(
		logging.F("stage", stage),
		logging.F("org_id", orgID),
		logging.F("entity_id", id),
	)
	finish := func(o Outcome) Outcome {
		observability.EndSpan(span, string(o.Kind), o.Err)
		p.metrics.RecordStage(stage, string(o.Kind))
		switch o.Kind {
		case OutcomeFailed:
			log.Warn("Stage failed", logging.Err(o.Err), logging.F("attempt", o.Attempt))
		case OutcomeReviewRequired:
			log.Info("Escalated for review", logging.F("reason", string(o.Reason)))
		default:
			log.Debug("Stage finished", logging.F("outcome", string(o.Kind)), logging.F("status", o.Status))
		}
		return o
	}
	return ctx, finish, log
}
