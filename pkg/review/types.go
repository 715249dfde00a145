// Package review is the durable backlog of inbound items the pipeline could
// not resolve confidently, together with the human resolution workflow.
package review

import (
	"time"

	"github.com/otherjamesbrown/intake/pkg/intake"
)

// Reason explains why an item was escalated.
type Reason string

const (
	ReasonAmbiguousMatch           Reason = "AMBIGUOUS_MATCH"
	ReasonUnknownDocumentType      Reason = "UNKNOWN_DOCUMENT_TYPE"
	ReasonVocalEmptyTranscript     Reason = "VOCAL_EMPTY_TRANSCRIPT"
	ReasonVocalLowConfidence       Reason = "VOCAL_LOW_CONFIDENCE"
	ReasonVocalAmbiguousProperty   Reason = "VOCAL_AMBIGUOUS_PROPERTY"
	ReasonVocalInsightsUnparseable Reason = "VOCAL_INSIGHTS_UNPARSEABLE"
	ReasonProcessingError          Reason = "PROCESSING_ERROR"
)

// Resolution is the action a reviewer took.
type Resolution string

const (
	// ResolutionAttach links the item to a property and returns it to its processed status.
	ResolutionAttach Resolution = "ATTACH"
	// ResolutionDismiss closes the item without touching the entity.
	ResolutionDismiss Resolution = "DISMISS"
	// ResolutionEscalateNote records a note and keeps the item open.
	ResolutionEscalateNote Resolution = "ESCALATE_NOTE"
)

// ParseResolution validates s.
func ParseResolution(s string) (Resolution, bool) {
	switch r := Resolution(s); r {
	case ResolutionAttach, ResolutionDismiss, ResolutionEscalateNote:
		return r, true
	}
	return "", false
}

// Item is a review queue entry.
type Item struct {
	ID                 string          `json:"id"`
	OrgID              string          `json:"org_id"`
	ItemType           intake.ItemType `json:"item_type"`
	ItemID             string          `json:"item_id"`
	Reason             Reason          `json:"reason"`
	Detail             string          `json:"detail,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	ResolvedAt         *time.Time      `json:"resolved_at,omitempty"`
	Resolution         *Resolution     `json:"resolution,omitempty"`
	ResolvedPropertyID *string         `json:"resolved_property_id,omitempty"`
	Note               string          `json:"note,omitempty"`
	EscalatedAt        *time.Time      `json:"escalated_at,omitempty"`
}

// IsOpen reports whether the item still awaits a final resolution.
// Escalated items stay open.
func (i *Item) IsOpen() bool {
	return i.ResolvedAt == nil
}

// Page is one page of open review items.
type Page struct {
	Items      []*Item `json:"items"`
	NextCursor string  `json:"next_cursor,omitempty"`
}
