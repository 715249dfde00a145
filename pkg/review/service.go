package review

import (
	"context"
	"fmt"
	"strings"

	intakeerrors "github.com/otherjamesbrown/intake/pkg/errors"
	"github.com/otherjamesbrown/intake/pkg/events"
	"github.com/otherjamesbrown/intake/pkg/intake"
	"github.com/otherjamesbrown/intake/pkg/logging"
	"github.com/otherjamesbrown/intake/pkg/observability"
)

// Page size bounds for List.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Entities is the part of the intake store a resolution writes to.
type Entities interface {
	GetProperty(ctx context.Context, orgID, id string) (*intake.Property, error)
	AttachMessage(ctx context.Context, orgID, id, propertyID string) error
	AttachFile(ctx context.Context, orgID, id, propertyID string) error
	AttachVocal(ctx context.Context, orgID, id, propertyID string) (intake.VocalStatus, error)
}

// Requeuer schedules insight extraction for a vocal released from review.
type Requeuer interface {
	EnqueueVocalInsightsJob(ctx context.Context, orgID, vocalID string) (string, error)
}

// Service implements listing and resolving review items.
type Service struct {
	items    Repository
	entities Entities
	requeue  Requeuer
	notifier events.Notifier
	metrics  *observability.Metrics
	logger   logging.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRequeuer sets the scheduler used when an attached vocal resumes.
func WithRequeuer(r Requeuer) ServiceOption {
	return func(s *Service) { s.requeue = r }
}

// WithNotifier sets the event sink.
func WithNotifier(n events.Notifier) ServiceOption {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a review service.
func NewService(items Repository, entities Entities, opts ...ServiceOption) *Service {
	s := &Service{
		items:    items,
		entities: entities,
		notifier: events.Nop{},
		logger:   logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.F("component", "review"))
	return s
}

// List returns one page of open items, oldest first.
func (s *Service) List(ctx context.Context, orgID, cursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	after, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	items, err := s.items.ListOpen(ctx, orgID, after, limit+1)
	if err != nil {
		return nil, err
	}

	page := &Page{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		page.NextCursor = cursorOf(page.Items[limit-1]).Encode()
	}
	if page.Items == nil {
		page.Items = []*Item{}
	}
	return page, nil
}

// Get returns a single item, open or resolved.
func (s *Service) Get(ctx context.Context, orgID, id string) (*Item, error) {
	return s.items.Get(ctx, orgID, id)
}

// ResolveRequest carries a reviewer's decision.
type ResolveRequest struct {
	OrgID      string
	ID         string
	Resolution Resolution
	PropertyID *string
	Note       string
}

// Resolve applies a reviewer's decision. Resolving an already resolved item
// returns it unchanged and applies no side effects.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*Item, error) {
	item, err := s.items.Get(ctx, req.OrgID, req.ID)
	if err != nil {
		return nil, err
	}
	if !item.IsOpen() {
		return item, nil
	}

	switch req.Resolution {
	case ResolutionAttach:
		err = s.attach(ctx, item, req.PropertyID)
	case ResolutionDismiss:
		_, err = s.items.MarkResolved(ctx, req.OrgID, req.ID, ResolutionDismiss, nil)
	case ResolutionEscalateNote:
		note := strings.TrimSpace(req.Note)
		if note == "" {
			return nil, intakeerrors.Validationf("note is required to escalate")
		}
		_, err = s.items.Escalate(ctx, req.OrgID, req.ID, note)
	default:
		return nil, intakeerrors.Validationf("unknown resolution %q", req.Resolution)
	}
	if err != nil {
		return nil, err
	}

	resolved, err := s.items.Get(ctx, req.OrgID, req.ID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordReviewResolved(string(req.Resolution))
	s.notifier.ReviewResolved(ctx, events.ReviewResolved{
		BaseEvent:  events.NewBaseEvent("intake.review_resolved"),
		OrgID:      resolved.OrgID,
		ReviewID:   resolved.ID,
		ItemType:   string(resolved.ItemType),
		ItemID:     resolved.ItemID,
		Resolution: string(req.Resolution),
		PropertyID: resolved.ResolvedPropertyID,
	})
	s.logger.Info("Review item resolved",
		logging.F("org_id", resolved.OrgID),
		logging.F("review_id", resolved.ID),
		logging.F("resolution", string(req.Resolution)))
	return resolved, nil
}

// attach writes the entity first and closes the item second, so a crash in
// between leaves the item open and a retry converges.
func (s *Service) attach(ctx context.Context, item *Item, propertyID *string) error {
	if propertyID == nil || strings.TrimSpace(*propertyID) == "" {
		return intakeerrors.Validationf("property id is required to attach")
	}
	pid := strings.TrimSpace(*propertyID)

	if _, err := s.entities.GetProperty(ctx, item.OrgID, pid); err != nil {
		if intakeerrors.IsNotFound(err) {
			return intakeerrors.Validationf("property %s does not exist", pid)
		}
		return err
	}

	switch item.ItemType {
	case intake.ItemTypeMessage:
		if err := s.entities.AttachMessage(ctx, item.OrgID, item.ItemID, pid); err != nil {
			return err
		}
	case intake.ItemTypeFile:
		if err := s.entities.AttachFile(ctx, item.OrgID, item.ItemID, pid); err != nil {
			return err
		}
	case intake.ItemTypeVocal:
		status, err := s.entities.AttachVocal(ctx, item.OrgID, item.ItemID, pid)
		if err != nil {
			return err
		}
		if status == intake.VocalStatusTypeClassified && s.requeue != nil {
			if _, err := s.requeue.EnqueueVocalInsightsJob(ctx, item.OrgID, item.ItemID); err != nil {
				return fmt.Errorf("requeue insights for vocal %s: %w", item.ItemID, err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown item type %q", intakeerrors.ErrInvalidState, item.ItemType)
	}

	_, err := s.items.MarkResolved(ctx, item.OrgID, item.ID, ResolutionAttach, &pid)
	return err
}
