package review

import (
	"context"

	"github.com/otherjamesbrown/intake/pkg/intake"
)

// Repository persists review items. Every method is scoped by orgID; a
// missing or foreign item is errors.ErrNotFound.
type Repository interface {
	// Raise creates an open item, or refreshes the detail of the open item
	// already held for the same (org, item type, item id, reason). created
	// reports which happened.
	Raise(ctx context.Context, orgID string, itemType intake.ItemType, itemID string, reason Reason, detail string) (item *Item, created bool, err error)

	Get(ctx context.Context, orgID, id string) (*Item, error)

	// ListOpen returns up to limit open items ordered by (created_at, id),
	// starting after the cursor when one is given.
	ListOpen(ctx context.Context, orgID string, after *Cursor, limit int) ([]*Item, error)

	// MarkResolved closes an open item. It reports false if the item was
	// already resolved.
	MarkResolved(ctx context.Context, orgID, id string, resolution Resolution, propertyID *string) (bool, error)

	// Escalate records a note on an open item without closing it.
	Escalate(ctx context.Context, orgID, id, note string) (bool, error)

	CountOpen(ctx context.Context, orgID string) (int, error)
}
