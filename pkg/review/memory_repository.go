package review

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	intakeerrors "github.com/otherjamesbrown/intake/pkg/errors"
	"github.com/otherjamesbrown/intake/pkg/intake"
)

// MemoryRepository is an in-memory Repository for tests and local runs.
type MemoryRepository struct {
	mu    sync.Mutex
	items map[string]*Item
	now   func() time.Time
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]*Item), now: time.Now}
}

var _ Repository = (*MemoryRepository)(nil)

// SetClock replaces the time source.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func clone(i *Item) *Item {
	cp := *i
	return &cp
}

func (r *MemoryRepository) Raise(_ context.Context, orgID string, itemType intake.ItemType, itemID string, reason Reason, detail string) (*Item, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, i := range r.items {
		if i.OrgID == orgID && i.ItemType == itemType && i.ItemID == itemID && i.Reason == reason && i.IsOpen() {
			i.Detail = detail
			return clone(i), false, nil
		}
	}
	i := &Item{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		ItemType:  itemType,
		ItemID:    itemID,
		Reason:    reason,
		Detail:    detail,
		CreatedAt: r.now(),
	}
	r.items[i.ID] = i
	return clone(i), true, nil
}

func (r *MemoryRepository) Get(_ context.Context, orgID, id string) (*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.items[id]
	if !ok || i.OrgID != orgID {
		return nil, intakeerrors.NotFound("review item", id)
	}
	return clone(i), nil
}

func (r *MemoryRepository) ListOpen(_ context.Context, orgID string, after *Cursor, limit int) ([]*Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var open []*Item
	for _, i := range r.items {
		if i.OrgID != orgID || !i.IsOpen() {
			continue
		}
		if after != nil && !after.before(i) {
			continue
		}
		open = append(open, clone(i))
	}
	sort.Slice(open, func(a, b int) bool {
		if !open[a].CreatedAt.Equal(open[b].CreatedAt) {
			return open[a].CreatedAt.Before(open[b].CreatedAt)
		}
		return open[a].ID < open[b].ID
	})
	if limit > 0 && len(open) > limit {
		open = open[:limit]
	}
	return open, nil
}

func (r *MemoryRepository) MarkResolved(_ context.Context, orgID, id string, resolution Resolution, propertyID *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.items[id]
	if !ok || i.OrgID != orgID {
		return false, intakeerrors.NotFound("review item", id)
	}
	if !i.IsOpen() {
		return false, nil
	}
	now := r.now()
	i.ResolvedAt = &now
	i.Resolution = &resolution
	i.ResolvedPropertyID = propertyID
	return true, nil
}

func (r *MemoryRepository) Escalate(_ context.Context, orgID, id, note string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.items[id]
	if !ok || i.OrgID != orgID {
		return false, intakeerrors.NotFound("review item", id)
	}
	if !i.IsOpen() {
		return false, nil
	}
	now := r.now()
	res := ResolutionEscalateNote
	i.Resolution = &res
	i.Note = note
	i.EscalatedAt = &now
	return true, nil
}

func (r *MemoryRepository) CountOpen(_ context.Context, orgID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, i := range r.items {
		if i.OrgID == orgID && i.IsOpen() {
			n++
		}
	}
	return n, nil
}

// All returns every item for orgID regardless of state, oldest first.
func (r *MemoryRepository) All(orgID string) []*Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Item
	for _, i := range r.items {
		if i.OrgID == orgID {
			out = append(out, clone(i))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out
}
