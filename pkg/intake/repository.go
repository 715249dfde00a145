package intake

import (
	"context"
	"time"
)

// Repository persists inbound records. Every method is scoped by orgID and
// reports a missing or foreign record as errors.ErrNotFound.
//
// Status-changing writes are compare-and-set on the expected current status
// and report whether they applied, so a duplicate job delivery racing the
// first one performs no second write.
type Repository interface {
	GetMessage(ctx context.Context, orgID, id string) (*Message, error)
	// CompleteMessage moves a PENDING message to status.
	CompleteMessage(ctx context.Context, orgID, id string, status AIStatus, propertyID *string, confidence float64) (bool, error)
	AttachMessage(ctx context.Context, orgID, id, propertyID string) error

	GetFile(ctx context.Context, orgID, id string) (*File, error)
	// CompleteFile moves an UPLOADED file to status.
	CompleteFile(ctx context.Context, orgID, id string, status FileStatus, docType *DocumentType, confidence float64) (bool, error)
	AttachFile(ctx context.Context, orgID, id, propertyID string) error

	GetVocal(ctx context.Context, orgID, id string) (*Vocal, error)
	// BeginVocalAttempt increments processing_attempts while the vocal is
	// still in expected and returns the new count. ErrConflict otherwise.
	BeginVocalAttempt(ctx context.Context, orgID, id string, expected VocalStatus) (int, error)
	// AdvanceVocal applies u if the vocal is still in from. The last
	// recorded processing_error is kept as history.
	AdvanceVocal(ctx context.Context, orgID, id string, from VocalStatus, u VocalUpdate) (bool, error)
	// RecordVocalError stores a transient failure without changing status.
	RecordVocalError(ctx context.Context, orgID, id, message string) error
	// FailVocal closes a vocal as REVIEW_REQUIRED + PROCESSING_ERROR. It is a
	// no-op (false) for vocals already terminal or INSIGHTS_READY.
	FailVocal(ctx context.Context, orgID, id, message string) (bool, error)
	// AttachVocal sets the property and returns the resulting status.
	AttachVocal(ctx context.Context, orgID, id, propertyID string) (VocalStatus, error)
	// ListStaleVocals spans all organizations; it backs the recovery sweep.
	ListStaleVocals(ctx context.Context, staleBefore time.Time, minAttempts, limit int) ([]*Vocal, error)

	GetProperty(ctx context.Context, orgID, id string) (*Property, error)
	ListOpenProperties(ctx context.Context, orgID string) ([]*Property, error)
	// MergePropertyDetails adds patch to the property details. Keys absent
	// from patch are preserved.
	MergePropertyDetails(ctx context.Context, orgID, id string, patch map[string]interface{}) error
	// ApplyPropertyParams merges patch into propertyID and marks vocalID as
	// applied, atomically. It returns false without writing when the vocal
	// was already marked.
	ApplyPropertyParams(ctx context.Context, orgID, vocalID, propertyID string, patch map[string]interface{}) (bool, error)
}

// statusAfterAttach decides where an attached vocal resumes. A vocal whose
// insights were held for review is accepted as ready; one that stopped
// after type detection resumes there so insights can run again.
func statusAfterAttach(v *Vocal) VocalStatus {
	if v.Status != VocalStatusReviewRequired || v.IsTerminal() {
		return v.Status
	}
	if v.Insights != nil {
		return VocalStatusInsightsReady
	}
	if v.VocalType != nil && v.Transcript != "" {
		return VocalStatusTypeClassified
	}
	return v.Status
}
