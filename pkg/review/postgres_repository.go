package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/intake/pkg/db"
	intakeerrors "github.com/otherjamesbrown/intake/pkg/errors"
	"github.com/otherjamesbrown/intake/pkg/intake"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db db.Pool
}

// NewPostgresRepository creates a new PostgreSQL review repository.
func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

var _ Repository = (*PostgresRepository)(nil)

const itemColumns = `id, org_id, item_type, item_id, reason, detail, created_at,
	resolved_at, resolution, resolved_property_id, note, escalated_at`

func scanItem(row pgx.Row, extra ...any) (*Item, error) {
	var i Item
	dest := []any{&i.ID, &i.OrgID, &i.ItemType, &i.ItemID, &i.Reason, &i.Detail, &i.CreatedAt,
		&i.ResolvedAt, &i.Resolution, &i.ResolvedPropertyID, &i.Note, &i.EscalatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &i, nil
}

// Raise upserts the open item for (org, item type, item id, reason). The
// partial unique index on open items makes concurrent raises converge on one row.
func (r *PostgresRepository) Raise(ctx context.Context, orgID string, itemType intake.ItemType, itemID string, reason Reason, detail string) (*Item, bool, error) {
	var created bool
	item, err := scanItem(r.db.QueryRow(ctx, `
		INSERT INTO review_queue_items (org_id, item_type, item_id, reason, detail)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (org_id, item_type, item_id, reason) WHERE resolved_at IS NULL
		DO UPDATE SET detail = EXCLUDED.detail
		RETURNING `+itemColumns+`, (xmax = 0) AS created
	`, orgID, string(itemType), itemID, string(reason), detail), &created)
	if err != nil {
		return nil, false, fmt.Errorf("raising review item: %w", err)
	}
	return item, created, nil
}

// Get retrieves a review item by id within orgID.
func (r *PostgresRepository) Get(ctx context.Context, orgID, id string) (*Item, error) {
	item, err := scanItem(r.db.QueryRow(ctx,
		`SELECT `+itemColumns+` FROM review_queue_items WHERE org_id = $1 AND id = $2`, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, intakeerrors.NotFound("review item", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting review item: %w", err)
	}
	return item, nil
}

// ListOpen returns open items in (created_at, id) order.
func (r *PostgresRepository) ListOpen(ctx context.Context, orgID string, after *Cursor, limit int) ([]*Item, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = r.db.Query(ctx, `
			SELECT `+itemColumns+` FROM review_queue_items
			WHERE org_id = $1 AND resolved_at IS NULL
			ORDER BY created_at, id
			LIMIT $2
		`, orgID, limit)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT `+itemColumns+` FROM review_queue_items
			WHERE org_id = $1 AND resolved_at IS NULL AND (created_at, id) > ($2, $3)
			ORDER BY created_at, id
			LIMIT $4
		`, orgID, after.CreatedAt, after.ID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing review items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning review item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkResolved closes an open item.
func (r *PostgresRepository) MarkResolved(ctx context.Context, orgID, id string, resolution Resolution, propertyID *string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE review_queue_items
		SET resolved_at = NOW(), resolution = $3, resolved_property_id = $4
		WHERE org_id = $1 AND id = $2 AND resolved_at IS NULL
	`, orgID, id, string(resolution), propertyID)
	if err != nil {
		return false, fmt.Errorf("resolving review item: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, orgID, id); err != nil {
		return false, err
	}
	return false, nil
}

// Escalate records a note and keeps the item open.
func (r *PostgresRepository) Escalate(ctx context.Context, orgID, id, note string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE review_queue_items
		SET resolution = 'ESCALATE_NOTE', note = $3, escalated_at = NOW()
		WHERE org_id = $1 AND id = $2 AND resolved_at IS NULL
	`, orgID, id, note)
	if err != nil {
		return false, fmt.Errorf("escalating review item: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.Get(ctx, orgID, id); err != nil {
		return false, err
	}
	return false, nil
}

// CountOpen returns the number of open items for orgID.
func (r *PostgresRepository) CountOpen(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM review_queue_items WHERE org_id = $1 AND resolved_at IS NULL`, orgID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting review items: %w", err)
	}
	return n, nil
}
