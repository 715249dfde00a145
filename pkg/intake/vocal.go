package intake

import "time"

// VocalStatus is the stage a voice note has reached.
type VocalStatus string

const (
	VocalStatusUploaded       VocalStatus = "UPLOADED"
	VocalStatusTranscribed    VocalStatus = "TRANSCRIBED"
	VocalStatusTypeClassified VocalStatus = "TYPE_CLASSIFIED"
	VocalStatusInsightsReady  VocalStatus = "INSIGHTS_READY"
	VocalStatusReviewRequired VocalStatus = "REVIEW_REQUIRED"
)

// Rank orders the happy-path statuses. REVIEW_REQUIRED has no rank.
func (s VocalStatus) Rank() int {
	switch s {
	case VocalStatusUploaded:
		return 1
	case VocalStatusTranscribed:
		return 2
	case VocalStatusTypeClassified:
		return 3
	case VocalStatusInsightsReady:
		return 4
	}
	return 0
}

// InFlightVocalStatuses are the statuses the recovery sweep watches.
var InFlightVocalStatuses = []VocalStatus{
	VocalStatusUploaded,
	VocalStatusTranscribed,
	VocalStatusTypeClassified,
}

// VocalType is the kind of voice note.
type VocalType string

const (
	VocalTypeInitialVisit    VocalType = "INITIAL_VISIT"
	VocalTypeBuyerFeedback   VocalType = "BUYER_FEEDBACK"
	VocalTypeSellerCall      VocalType = "SELLER_CALL"
	VocalTypeGenericNote     VocalType = "GENERIC_NOTE"
	VocalTypeOther           VocalType = "OTHER"
	VocalTypeProcessingError VocalType = "PROCESSING_ERROR"
)

// VocalTypes lists the types a classifier may return.
var VocalTypes = []VocalType{
	VocalTypeInitialVisit, VocalTypeBuyerFeedback, VocalTypeSellerCall, VocalTypeGenericNote, VocalTypeOther,
}

// ParseVocalType normalises s onto a classifiable type; unknown values map to OTHER.
func ParseVocalType(s string) VocalType {
	for _, t := range VocalTypes {
		if string(t) == s {
			return t
		}
	}
	return VocalTypeOther
}

// Vocal is a recorded voice note moving through transcription and analysis.
type Vocal struct {
	ID                 string                 `json:"id"`
	OrgID              string                 `json:"org_id"`
	PropertyID         *string                `json:"property_id,omitempty"`
	FileID             string                 `json:"file_id"`
	FileName           string                 `json:"file_name"`
	MimeType           string                 `json:"mime_type"`
	DurationSeconds    float64                `json:"duration_seconds"`
	StorageKey         string                 `json:"storage_key"`
	VocalType          *VocalType             `json:"vocal_type,omitempty"`
	Transcript         string                 `json:"transcript,omitempty"`
	Summary            string                 `json:"summary,omitempty"`
	Insights           map[string]interface{} `json:"insights,omitempty"`
	Confidence         float64                `json:"confidence"`
	ProcessingError    string                 `json:"processing_error,omitempty"`
	ProcessingAttempts int                    `json:"processing_attempts"`
	Status             VocalStatus            `json:"status"`
	// ParamsAppliedAt is set once initial-visit parameters were merged
	// into the property; the merge never runs twice for a vocal.
	ParamsAppliedAt *time.Time `json:"property_params_applied_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the vocal was closed by the recovery sweep.
// Terminal vocals are never touched again by any pipeline stage.
func (v *Vocal) IsTerminal() bool {
	return v.Status == VocalStatusReviewRequired && v.VocalType != nil && *v.VocalType == VocalTypeProcessingError
}

// VocalUpdate carries the fields a stage writes when it advances a vocal.
// Nil fields are left untouched.
type VocalUpdate struct {
	Status     VocalStatus
	Transcript *string
	Summary    *string
	VocalType  *VocalType
	Insights   map[string]interface{}
	Confidence *float64
	PropertyID *string
}
