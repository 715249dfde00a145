package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/otherjamesbrown/intake/pkg/db"
	intakeerrors "github.com/otherjamesbrown/intake/pkg/errors"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db db.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(pool db.Pool) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

var _ Repository = (*PostgresRepository)(nil)

const messageColumns = `id, org_id, property_id, channel, subject, body, sender,
	ai_status, match_confidence, created_at, updated_at`

// GetMessage retrieves a message by id within orgID.
func (r *PostgresRepository) GetMessage(ctx context.Context, orgID, id string) (*Message, error) {
	row := r.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE org_id = $1 AND id = $2`, orgID, id)

	var m Message
	err := row.Scan(&m.ID, &m.OrgID, &m.PropertyID, &m.Channel, &m.Subject, &m.Body, &m.Sender,
		&m.AIStatus, &m.MatchConfidence, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, intakeerrors.NotFound("message", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}
	return &m, nil
}

// CompleteMessage moves a PENDING message to status.
func (r *PostgresRepository) CompleteMessage(ctx context.Context, orgID, id string, status AIStatus, propertyID *string, confidence float64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET ai_status = $3, property_id = COALESCE($4, property_id), match_confidence = $5, updated_at = NOW()
		WHERE org_id = $1 AND id = $2 AND ai_status = 'PENDING'
	`, orgID, id, string(status), propertyID, confidence)
	if err != nil {
		return false, fmt.Errorf("completing message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AttachMessage sets the property chosen by a reviewer and marks the message processed.
func (r *PostgresRepository) AttachMessage(ctx context.Context, orgID, id, propertyID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages SET property_id = $3, ai_status = 'PROCESSED', updated_at = NOW()
		WHERE org_id = $1 AND id = $2
	`, orgID, id, propertyID)
	if err != nil {
		return fmt.Errorf("attaching message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return intakeerrors.NotFound("message", id)
	}
	return nil
}

const fileColumns = `id, org_id, property_id, file_name, mime_type, size_bytes, storage_key,
	type_document, status, classification_confidence, created_at, updated_at`

// GetFile retrieves a file by id within orgID.
func (r *PostgresRepository) GetFile(ctx context.Context, orgID, id string) (*File, error) {
	row := r.db.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE org_id = $1 AND id = $2`, orgID, id)

	var f File
	var docType *string
	err := row.Scan(&f.ID, &f.OrgID, &f.PropertyID, &f.FileName, &f.MimeType, &f.SizeBytes, &f.StorageKey,
		&docType, &f.Status, &f.ClassificationConfidence, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, intakeerrors.NotFound("file", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}
	if docType != nil {
		t := DocumentType(*docType)
		f.TypeDocument = &t
	}
	return &f, nil
}

// CompleteFile moves an UPLOADED file to status.
func (r *PostgresRepository) CompleteFile(ctx context.Context, orgID, id string, status FileStatus, docType *DocumentType, confidence float64) (bool, error) {
	var dt *string
	if docType != nil {
		s := string(*docType)
		dt = &s
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE files
		SET status = $3, type_document = COALESCE($4, type_document), classification_confidence = $5, updated_at = NOW()
		WHERE org_id = $1 AND id = $2 AND status = 'UPLOADED'
	`, orgID, id, string(status), dt, confidence)
	if err != nil {
		return false, fmt.Errorf("completing file: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AttachFile sets the property chosen by a reviewer and marks the file classified.
func (r *PostgresRepository) AttachFile(ctx context.Context, orgID, id, propertyID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE files SET property_id = $3, status = 'CLASSIFIED', updated_at = NOW()
		WHERE org_id = $1 AND id = $2
	`, orgID, id, propertyID)
	if err != nil {
		return fmt.Errorf("attaching file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return intakeerrors.NotFound("file", id)
	}
	return nil
}

const vocalColumns = `id, org_id, property_id, file_id, file_name, mime_type, duration_seconds, storage_key,
	vocal_type, transcript, summary, insights, confidence, processing_error, processing_attempts,
	status, property_params_applied_at, created_at, updated_at`

func scanVocal(row pgx.Row) (*Vocal, error) {
	var v Vocal
	var vocalType *string
	var insights []byte
	err := row.Scan(&v.ID, &v.OrgID, &v.PropertyID, &v.FileID, &v.FileName, &v.MimeType, &v.DurationSeconds,
		&v.StorageKey, &vocalType, &v.Transcript, &v.Summary, &insights, &v.Confidence, &v.ProcessingError,
		&v.ProcessingAttempts, &v.Status, &v.ParamsAppliedAt, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if vocalType != nil {
		t := VocalType(*vocalType)
		v.VocalType = &t
	}
	if len(insights) > 0 {
		if err := json.Unmarshal(insights, &v.Insights); err != nil {
			return nil, fmt.Errorf("decoding insights: %w", err)
		}
	}
	return &v, nil
}

// GetVocal retrieves a vocal by id within orgID.
func (r *PostgresRepository) GetVocal(ctx context.Context, orgID, id string) (*Vocal, error) {
	v, err := scanVocal(r.db.QueryRow(ctx, `SELECT `+vocalColumns+` FROM vocals WHERE org_id = $1 AND id = $2`, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, intakeerrors.NotFound("vocal", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting vocal: %w", err)
	}
	return v, nil
}

// BeginVocalAttempt increments processing_attempts while the vocal is in expected.
func (r *PostgresRepository) BeginVocalAttempt(ctx context.Context, orgID, id string, expected VocalStatus) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx, `
		UPDATE vocals SET processing_attempts = processing_attempts + 1, updated_at = NOW()
		WHERE org_id = $1 AND id = $2 AND status = $3
		RETURNING processing_attempts
	`, orgID, id, string(expected)).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("vocal %s left %s: %w", id, expected, intakeerrors.ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("beginning vocal attempt: %w", err)
	}
	return attempts, nil
}

// AdvanceVocal applies u if the vocal is still in from.
func (r *PostgresRepository) AdvanceVocal(ctx context.Context, orgID, id string, from VocalStatus, u VocalUpdate) (bool, error) {
	var insights interface{}
	if u.Insights != nil {
		raw, err := json.Marshal(u.Insights)
		if err != nil {
			return false, fmt.Errorf("encoding insights: %w", err)
		}
		insights = string(raw)
	}
	var vocalType *string
	if u.VocalType != nil {
		s := string(*u.VocalType)
		vocalType = &s
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE vocals SET
			status = $4,
			transcript = COALESCE($5, transcript),
			summary = COALESCE($6, summary),
			vocal_type = COALESCE($7, vocal_type),
			insights = COALESCE($8::jsonb, insights),
			confidence = COALESCE($9, confidence),
			property_id = COALESCE($10, property_id),
			updated_at = NOW()
		WHERE org_id = $1 AND id = $2 AND status = $3
	`, orgID, id, string(from), string(u.Status), u.Transcript, u.Summary, vocalType, insights, u.Confidence, u.PropertyID)
	if err != nil {
		return false, fmt.Errorf("advancing vocal: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordVocalError stores a transient failure without changing status.
func (r *PostgresRepository) RecordVocalError(ctx context.Context, orgID, id, message string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE vocals SET processing_error = $3, updated_at = NOW()
		WHERE org_id = $1 AND id = $2
	`, orgID, id, message)
	if err != nil {
		return fmt.Errorf("recording vocal error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return intakeerrors.NotFound("vocal", id)
	}
	return nil
}

// FailVocal closes a vocal as REVIEW_REQUIRED + PROCESSING_ERROR.
func (r *PostgresRepository) FailVocal(ctx context.Context, orgID, id, message string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE vocals SET
			status = 'REVIEW_REQUIRED',
			vocal_type = 'PROCESSING_ERROR',
			processing_error = $3,
			updated_at = NOW()
		WHERE org_id = $1 AND id = $2
			AND status <> 'INSIGHTS_READY'
			AND NOT (status = 'REVIEW_REQUIRED' AND vocal_type IS NOT DISTINCT FROM 'PROCESSING_ERROR')
	`, orgID, id, message)
	if err != nil {
		return false, fmt.Errorf("failing vocal: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetVocal(ctx, orgID, id); err != nil {
		return false, err
	}
	return false, nil
}

// AttachVocal sets the property chosen by a reviewer. The resume rules match statusAfterAttach.
func (r *PostgresRepository) AttachVocal(ctx context.Context, orgID, id, propertyID string) (VocalStatus, error) {
	var status VocalStatus
	err := r.db.QueryRow(ctx, `
		UPDATE vocals SET
			property_id = $3,
			status = CASE
				WHEN status <> 'REVIEW_REQUIRED' OR vocal_type IS NOT DISTINCT FROM 'PROCESSING_ERROR' THEN status
				WHEN insights IS NOT NULL THEN 'INSIGHTS_READY'
				WHEN vocal_type IS NOT NULL AND transcript <> '' THEN 'TYPE_CLASSIFIED'
				ELSE status
			END,
			updated_at = NOW()
		WHERE org_id = $1 AND id = $2
		RETURNING status
	`, orgID, id, propertyID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", intakeerrors.NotFound("vocal", id)
	}
	if err != nil {
		return "", fmt.Errorf("attaching vocal: %w", err)
	}
	return status, nil
}

// ListStaleVocals returns in-flight vocals untouched since staleBefore with at
// least minAttempts attempts, oldest first.
func (r *PostgresRepository) ListStaleVocals(ctx context.Context, staleBefore time.Time, minAttempts, limit int) ([]*Vocal, error) {
	statuses := make([]string, 0, len(InFlightVocalStatuses))
	for _, s := range InFlightVocalStatuses {
		statuses = append(statuses, string(s))
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+vocalColumns+` FROM vocals
		WHERE status = ANY($1) AND updated_at < $2 AND processing_attempts >= $3
		ORDER BY updated_at
		LIMIT $4
	`, statuses, staleBefore, minAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("listing stale vocals: %w", err)
	}
	defer rows.Close()

	var vocals []*Vocal
	for rows.Next() {
		v, err := scanVocal(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning vocal: %w", err)
		}
		vocals = append(vocals, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating vocals: %w", err)
	}
	return vocals, nil
}

const propertyColumns = `id, org_id, reference, title, address, city, postal_code, status, details, created_at, updated_at`

func scanProperty(row pgx.Row) (*Property, error) {
	var p Property
	var details []byte
	if err := row.Scan(&p.ID, &p.OrgID, &p.Reference, &p.Title, &p.Address, &p.City, &p.PostalCode,
		&p.Status, &details, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Details = map[string]interface{}{}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &p.Details); err != nil {
			return nil, fmt.Errorf("decoding property details: %w", err)
		}
	}
	return &p, nil
}

// GetProperty retrieves a property by id within orgID.
func (r *PostgresRepository) GetProperty(ctx context.Context, orgID, id string) (*Property, error) {
	p, err := scanProperty(r.db.QueryRow(ctx, `SELECT `+propertyColumns+` FROM properties WHERE org_id = $1 AND id = $2`, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, intakeerrors.NotFound("property", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting property: %w", err)
	}
	return p, nil
}

// ListOpenProperties returns the org's properties that still accept inbound content.
func (r *PostgresRepository) ListOpenProperties(ctx context.Context, orgID string) ([]*Property, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+propertyColumns+` FROM properties
		WHERE org_id = $1 AND status IN ('OPEN', 'UNDER_OFFER')
		ORDER BY created_at
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("listing open properties: %w", err)
	}
	defer rows.Close()

	var properties []*Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning property: %w", err)
		}
		properties = append(properties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating properties: %w", err)
	}
	return properties, nil
}

// ApplyPropertyParams stamps the vocal's params marker and merges patch into
// the property in one transaction. It reports false, writing nothing, when
// the marker was already set.
func (r *PostgresRepository) ApplyPropertyParams(ctx context.Context, orgID, vocalID, propertyID string, patch map[string]interface{}) (bool, error) {
	raw, err := json.Marshal(patch)
	if err != nil {
		return false, fmt.Errorf("encoding property details: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint: errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE vocals SET property_params_applied_at = NOW(), updated_at = NOW()
		WHERE org_id = $1 AND id = $2 AND property_params_applied_at IS NULL
	`, orgID, vocalID)
	if err != nil {
		return false, fmt.Errorf("marking property params: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	tag, err = tx.Exec(ctx, `
		UPDATE properties SET details = details || $3::jsonb, updated_at = NOW()
		WHERE org_id = $1 AND id = $2
	`, orgID, propertyID, string(raw))
	if err != nil {
		return false, fmt.Errorf("merging property details: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, intakeerrors.NotFound("property", propertyID)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing property params: %w", err)
	}
	return true, nil
}

// MergePropertyDetails merges patch into details with jsonb concatenation.
func (r *PostgresRepository) MergePropertyDetails(ctx context.Context, orgID, id string, patch map[string]interface{}) error {
	if len(patch) == 0 {
		return nil
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("encoding property details: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE properties SET details = details || $3::jsonb, updated_at = NOW()
		WHERE org_id = $1 AND id = $2
	`, orgID, id, string(raw))
	if err != nil {
		return fmt.Errorf("merging property details: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return intakeerrors.NotFound("property", id)
	}
	return nil
}
