// Package inference defines the capability boundary between the intake
// pipeline and whatever model provider answers its questions.
//
// Every operation returns a Result carrying a value and a confidence in
// [0,1]. An error means the provider could not be reached or failed; a
// provider that does not know the answer returns a low confidence instead.
// Thresholds are applied by the pipeline, never here.
package inference

import (
	"context"

	"github.com/otherjamesbrown/intake/pkg/intake"
)

// Result is a provider answer with its confidence.
type Result[T any] struct {
	Value      T
	Confidence float64
}

// Candidate is a property the matcher may choose.
type Candidate struct {
	ID         string
	Reference  string
	Title      string
	Address    string
	City       string
	PostalCode string
}

// CandidateFromProperty builds a Candidate from a stored property.
func CandidateFromProperty(p *intake.Property) Candidate {
	return Candidate{
		ID:         p.ID,
		Reference:  p.Reference,
		Title:      p.Title,
		Address:    p.Address,
		City:       p.City,
		PostalCode: p.PostalCode,
	}
}

// MatchRequest asks which candidate a piece of text is about.
type MatchRequest struct {
	Text       string
	Candidates []Candidate
}

// DocumentRequest carries the metadata a document classifier works from.
type DocumentRequest struct {
	FileName string
	MimeType string
}

// AudioRequest references a stored recording. Providers fetch the blob themselves.
type AudioRequest struct {
	StorageKey      string
	FileName        string
	MimeType        string
	DurationSeconds float64
}

// InsightsRequest asks for structured insights about a transcript.
type InsightsRequest struct {
	Transcript string
	VocalType  intake.VocalType
}

// Capability is the set of questions the pipeline asks a provider.
type Capability interface {
	Name() string

	// Match returns the id of the best candidate, or "" when none fits.
	Match(ctx context.Context, req MatchRequest) (Result[string], error)

	ClassifyDocument(ctx context.Context, req DocumentRequest) (Result[intake.DocumentType], error)

	Transcribe(ctx context.Context, req AudioRequest) (Result[string], error)

	ClassifyVocalType(ctx context.Context, transcript string) (Result[intake.VocalType], error)

	// ExtractPropertyParameters returns property attributes mentioned in the transcript.
	ExtractPropertyParameters(ctx context.Context, transcript string) (Result[map[string]interface{}], error)

	// ExtractInsights returns a JSON object describing the transcript.
	ExtractInsights(ctx context.Context, req InsightsRequest) (Result[string], error)
}

// Transcriber turns a stored recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req AudioRequest) (Result[string], error)
}

func clamp(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}
