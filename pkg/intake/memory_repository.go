package intake

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	intakeerrors "github.com/otherjamesbrown/intake/pkg/errors"
)

// MemoryRepository is an in-process Repository used by tests and local runs.
// Returned records are copies; mutating them does not affect the store.
type MemoryRepository struct {
	mu         sync.Mutex
	now        func() time.Time
	messages   map[string]*Message
	files      map[string]*File
	vocals     map[string]*Vocal
	properties map[string]*Property
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:        time.Now,
		messages:   map[string]*Message{},
		files:      map[string]*File{},
		vocals:     map[string]*Vocal{},
		properties: map[string]*Property{},
	}
}

var _ Repository = (*MemoryRepository)(nil)

// SetClock overrides the time source used for timestamps.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *MemoryRepository) stamp(created *time.Time, updated *time.Time) {
	now := r.now()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

// PutMessage inserts or replaces a message, assigning an id and defaults when missing.
func (r *MemoryRepository) PutMessage(m Message) *Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.AIStatus == "" {
		m.AIStatus = AIStatusPending
	}
	r.stamp(&m.CreatedAt, &m.UpdatedAt)
	r.messages[m.ID] = &m
	out := m
	return &out
}

// PutFile inserts or replaces a file.
func (r *MemoryRepository) PutFile(f File) *File {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Status == "" {
		f.Status = FileStatusUploaded
	}
	r.stamp(&f.CreatedAt, &f.UpdatedAt)
	r.files[f.ID] = &f
	out := f
	return &out
}

// PutVocal inserts or replaces a vocal.
func (r *MemoryRepository) PutVocal(v Vocal) *Vocal {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = VocalStatusUploaded
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = r.now()
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = r.now()
	}
	r.vocals[v.ID] = &v
	return copyVocal(&v)
}

// PutProperty inserts or replaces a property.
func (r *MemoryRepository) PutProperty(p Property) *Property {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PropertyOpen
	}
	if p.Details == nil {
		p.Details = map[string]interface{}{}
	}
	r.stamp(&p.CreatedAt, &p.UpdatedAt)
	r.properties[p.ID] = &p
	return copyProperty(&p)
}

func copyVocal(v *Vocal) *Vocal {
	out := *v
	if v.ParamsAppliedAt != nil {
		at := *v.ParamsAppliedAt
		out.ParamsAppliedAt = &at
	}
	if v.Insights != nil {
		out.Insights = make(map[string]interface{}, len(v.Insights))
		for k, val := range v.Insights {
			out.Insights[k] = val
		}
	}
	return &out
}

func copyProperty(p *Property) *Property {
	out := *p
	out.Details = make(map[string]interface{}, len(p.Details))
	for k, v := range p.Details {
		out.Details[k] = v
	}
	return &out
}

func (r *MemoryRepository) message(orgID, id string) (*Message, error) {
	m, ok := r.messages[id]
	if !ok || m.OrgID != orgID {
		return nil, intakeerrors.NotFound("message", id)
	}
	return m, nil
}

func (r *MemoryRepository) file(orgID, id string) (*File, error) {
	f, ok := r.files[id]
	if !ok || f.OrgID != orgID {
		return nil, intakeerrors.NotFound("file", id)
	}
	return f, nil
}

func (r *MemoryRepository) vocal(orgID, id string) (*Vocal, error) {
	v, ok := r.vocals[id]
	if !ok || v.OrgID != orgID {
		return nil, intakeerrors.NotFound("vocal", id)
	}
	return v, nil
}

func (r *MemoryRepository) property(orgID, id string) (*Property, error) {
	p, ok := r.properties[id]
	if !ok || p.OrgID != orgID {
		return nil, intakeerrors.NotFound("property", id)
	}
	return p, nil
}

func (r *MemoryRepository) GetMessage(_ context.Context, orgID, id string) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.message(orgID, id)
	if err != nil {
		return nil, err
	}
	out := *m
	return &out, nil
}

func (r *MemoryRepository) CompleteMessage(_ context.Context, orgID, id string, status AIStatus, propertyID *string, confidence float64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.message(orgID, id)
	if err != nil {
		return false, err
	}
	if m.AIStatus != AIStatusPending {
		return false, nil
	}
	m.AIStatus = status
	if propertyID != nil {
		m.PropertyID = strPtr(*propertyID)
	}
	m.MatchConfidence = confidence
	m.UpdatedAt = r.now()
	return true, nil
}

func (r *MemoryRepository) AttachMessage(_ context.Context, orgID, id, propertyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.message(orgID, id)
	if err != nil {
		return err
	}
	m.PropertyID = strPtr(propertyID)
	m.AIStatus = AIStatusProcessed
	m.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) GetFile(_ context.Context, orgID, id string) (*File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := r.file(orgID, id)
	if err != nil {
		return nil, err
	}
	out := *f
	return &out, nil
}

func (r *MemoryRepository) CompleteFile(_ context.Context, orgID, id string, status FileStatus, docType *DocumentType, confidence float64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := r.file(orgID, id)
	if err != nil {
		return false, err
	}
	if f.Status != FileStatusUploaded {
		return false, nil
	}
	f.Status = status
	if docType != nil {
		dt := *docType
		f.TypeDocument = &dt
	}
	f.ClassificationConfidence = confidence
	f.UpdatedAt = r.now()
	return true, nil
}

func (r *MemoryRepository) AttachFile(_ context.Context, orgID, id, propertyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := r.file(orgID, id)
	if err != nil {
		return err
	}
	f.PropertyID = strPtr(propertyID)
	f.Status = FileStatusClassified
	f.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) GetVocal(_ context.Context, orgID, id string) (*Vocal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.vocal(orgID, id)
	if err != nil {
		return nil, err
	}
	return copyVocal(v), nil
}

func (r *MemoryRepository) BeginVocalAttempt(_ context.Context, orgID, id string, expected VocalStatus) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.vocal(orgID, id)
	if err != nil {
		return 0, err
	}
	if v.Status != expected {
		return 0, fmt.Errorf("vocal %s left %s: %w", id, expected, intakeerrors.ErrConflict)
	}
	v.ProcessingAttempts++
	v.UpdatedAt = r.now()
	return v.ProcessingAttempts, nil
}

func (r *MemoryRepository) AdvanceVocal(_ context.Context, orgID, id string, from VocalStatus, u VocalUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.vocal(orgID, id)
	if err != nil {
		return false, err
	}
	if v.Status != from {
		return false, nil
	}
	v.Status = u.Status
	if u.Transcript != nil {
		v.Transcript = *u.Transcript
	}
	if u.Summary != nil {
		v.Summary = *u.Summary
	}
	if u.VocalType != nil {
		t := *u.VocalType
		v.VocalType = &t
	}
	if u.Insights != nil {
		v.Insights = copyVocal(&Vocal{Insights: u.Insights}).Insights
	}
	if u.Confidence != nil {
		v.Confidence = *u.Confidence
	}
	if u.PropertyID != nil {
		v.PropertyID = strPtr(*u.PropertyID)
	}
	v.UpdatedAt = r.now()
	return true, nil
}

func (r *MemoryRepository) RecordVocalError(_ context.Context, orgID, id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.vocal(orgID, id)
	if err != nil {
		return err
	}
	v.ProcessingError = message
	v.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) FailVocal(_ context.Context, orgID, id, message string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.vocal(orgID, id)
	if err != nil {
		return false, err
	}
	if v.IsTerminal() || v.Status == VocalStatusInsightsReady {
		return false, nil
	}
	t := VocalTypeProcessingError
	v.Status = VocalStatusReviewRequired
	v.VocalType = &t
	v.ProcessingError = message
	v.UpdatedAt = r.now()
	return true, nil
}

func (r *MemoryRepository) AttachVocal(_ context.Context, orgID, id, propertyID string) (VocalStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.vocal(orgID, id)
	if err != nil {
		return "", err
	}
	v.Status = statusAfterAttach(v)
	v.PropertyID = strPtr(propertyID)
	v.UpdatedAt = r.now()
	return v.Status, nil
}

func (r *MemoryRepository) ListStaleVocals(_ context.Context, staleBefore time.Time, minAttempts, limit int) ([]*Vocal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Vocal
	for _, v := range r.vocals {
		if v.Status.Rank() == 0 || v.Status == VocalStatusInsightsReady {
			continue
		}
		if !v.UpdatedAt.Before(staleBefore) || v.ProcessingAttempts < minAttempts {
			continue
		}
		out = append(out, copyVocal(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) GetProperty(_ context.Context, orgID, id string) (*Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.property(orgID, id)
	if err != nil {
		return nil, err
	}
	return copyProperty(p), nil
}

func (r *MemoryRepository) ListOpenProperties(_ context.Context, orgID string) ([]*Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Property
	for _, p := range r.properties {
		if p.OrgID == orgID && p.IsOpen() {
			out = append(out, copyProperty(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) MergePropertyDetails(_ context.Context, orgID, id string, patch map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.property(orgID, id)
	if err != nil {
		return err
	}
	if len(patch) == 0 {
		return nil
	}
	for k, v := range patch {
		p.Details[k] = v
	}
	p.UpdatedAt = r.now()
	return nil
}

func (r *MemoryRepository) ApplyPropertyParams(_ context.Context, orgID, vocalID, propertyID string, patch map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.vocal(orgID, vocalID)
	if err != nil {
		return false, err
	}
	p, err := r.property(orgID, propertyID)
	if err != nil {
		return false, err
	}
	if v.ParamsAppliedAt != nil {
		return false, nil
	}
	now := r.now()
	v.ParamsAppliedAt = &now
	v.UpdatedAt = now
	for k, val := range patch {
		p.Details[k] = val
	}
	p.UpdatedAt = now
	return true, nil
}

func strPtr(s string) *string {
	return &s
}
