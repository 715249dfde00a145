// Package intake holds the inbound content records of an agency workspace
// (messages, uploaded files and voice notes) together with the properties
// they get attached to, and the repositories that persist them.
package intake

import (
	"strings"
	"time"
)

// ItemType identifies which kind of inbound record a review item or job refers to.
type ItemType string

const (
	ItemTypeMessage ItemType = "MESSAGE"
	ItemTypeFile    ItemType = "FILE"
	ItemTypeVocal   ItemType = "VOCAL"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeMessage, ItemTypeFile, ItemTypeVocal:
		return true
	}
	return false
}

// Channel is the inbound channel a message arrived on.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelSMS      Channel = "SMS"
	ChannelChat     Channel = "CHAT"
)

// AIStatus is the classification status of a message.
type AIStatus string

const (
	AIStatusPending        AIStatus = "PENDING"
	AIStatusProcessed      AIStatus = "PROCESSED"
	AIStatusReviewRequired AIStatus = "REVIEW_REQUIRED"
)

// Message is an inbound message awaiting property attachment.
type Message struct {
	ID              string    `json:"id"`
	OrgID           string    `json:"org_id"`
	PropertyID      *string   `json:"property_id,omitempty"`
	Channel         Channel   `json:"channel"`
	Subject         string    `json:"subject,omitempty"`
	Body            string    `json:"body"`
	Sender          string    `json:"sender,omitempty"`
	AIStatus        AIStatus  `json:"ai_status"`
	MatchConfidence float64   `json:"match_confidence"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// MatchText is the text the matcher sees for a message.
func (m *Message) MatchText() string {
	return strings.TrimSpace(strings.TrimSpace(m.Subject) + "\n" + strings.TrimSpace(m.Body))
}

// FileStatus is the classification status of an uploaded file.
type FileStatus string

const (
	FileStatusUploaded       FileStatus = "UPLOADED"
	FileStatusClassified     FileStatus = "CLASSIFIED"
	FileStatusReviewRequired FileStatus = "REVIEW_REQUIRED"
)

// DocumentType is the classified type of an uploaded document.
type DocumentType string

const (
	DocumentSalesMandate     DocumentType = "SALES_MANDATE"
	DocumentRentalMandate    DocumentType = "RENTAL_MANDATE"
	DocumentEnergyDiagnostic DocumentType = "ENERGY_DIAGNOSTIC"
	DocumentTitleDeed        DocumentType = "TITLE_DEED"
	DocumentFloorPlan        DocumentType = "FLOOR_PLAN"
	DocumentPropertyPhoto    DocumentType = "PROPERTY_PHOTO"
	DocumentIdentity         DocumentType = "IDENTITY_DOCUMENT"
	DocumentPurchaseOffer    DocumentType = "PURCHASE_OFFER"
	DocumentInvoice          DocumentType = "INVOICE"
	DocumentOther            DocumentType = "OTHER"
)

// DocumentTypes lists every known document type, OTHER last.
var DocumentTypes = []DocumentType{
	DocumentSalesMandate, DocumentRentalMandate, DocumentEnergyDiagnostic, DocumentTitleDeed,
	DocumentFloorPlan, DocumentPropertyPhoto, DocumentIdentity, DocumentPurchaseOffer,
	DocumentInvoice, DocumentOther,
}

// ParseDocumentType normalises s onto a known type; unknown values map to OTHER.
func ParseDocumentType(s string) DocumentType {
	want := DocumentType(strings.ToUpper(strings.TrimSpace(s)))
	for _, t := range DocumentTypes {
		if t == want {
			return t
		}
	}
	return DocumentOther
}

// File is an uploaded document. The blob itself lives in external storage.
type File struct {
	ID                       string        `json:"id"`
	OrgID                    string        `json:"org_id"`
	PropertyID               *string       `json:"property_id,omitempty"`
	FileName                 string        `json:"file_name"`
	MimeType                 string        `json:"mime_type"`
	SizeBytes                int64         `json:"size_bytes"`
	StorageKey               string        `json:"storage_key"`
	TypeDocument             *DocumentType `json:"type_document,omitempty"`
	Status                   FileStatus    `json:"status"`
	ClassificationConfidence float64       `json:"classification_confidence"`
	CreatedAt                time.Time     `json:"created_at"`
	UpdatedAt                time.Time     `json:"updated_at"`
}

// PropertyStatus is the commercial status of a property.
type PropertyStatus string

const (
	PropertyOpen       PropertyStatus = "OPEN"
	PropertyUnderOffer PropertyStatus = "UNDER_OFFER"
	PropertySold       PropertyStatus = "SOLD"
	PropertyArchived   PropertyStatus = "ARCHIVED"
)

// Property is a listing that inbound content can be attached to.
type Property struct {
	ID         string                 `json:"id"`
	OrgID      string                 `json:"org_id"`
	Reference  string                 `json:"reference"`
	Title      string                 `json:"title"`
	Address    string                 `json:"address"`
	City       string                 `json:"city"`
	PostalCode string                 `json:"postal_code"`
	Status     PropertyStatus         `json:"status"`
	Details    map[string]interface{} `json:"details"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// IsOpen reports whether the property still accepts inbound content.
func (p *Property) IsOpen() bool {
	return p.Status == PropertyOpen || p.Status == PropertyUnderOffer
}
