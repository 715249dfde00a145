package pipeline

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/intake/pkg/inference"
	"github.com/otherjamesbrown/intake/pkg/intake"
	"github.com/otherjamesbrown/intake/pkg/review"
)

// ProcessMessage attaches a PENDING message to a property when the match is
// confident, and escalates it otherwise. Messages no longer PENDING are
// returned as SKIPPED with their current status.
func (p *Pipeline) ProcessMessage(ctx context.Context, orgID, messageID string) Outcome {
	ctx, finish, _ := p.begin(ctx, StageProcessMessage, orgID, messageID)

	m, err := p.store.GetMessage(ctx, orgID, messageID)
	if err != nil {
		return finish(failed("", 0, err))
	}
	if m.AIStatus != intake.AIStatusPending {
		return finish(skipped(string(m.AIStatus)))
	}

	propertyID, res, err := p.match(ctx, orgID, m.MatchText())
	if err != nil {
		return finish(failed(string(m.AIStatus), 0, err))
	}

	if propertyID != "" {
		applied, err := p.store.CompleteMessage(ctx, orgID, messageID, intake.AIStatusProcessed, &propertyID, res.Confidence)
		if err != nil {
			return finish(failed(string(m.AIStatus), 0, err))
		}
		if !applied {
			return finish(p.currentMessage(ctx, orgID, messageID))
		}
		p.statusChanged(ctx, orgID, intake.ItemTypeMessage, messageID, StageProcessMessage, string(intake.AIStatusProcessed), &propertyID, res.Confidence)
		return finish(Outcome{Kind: OutcomeProcessed, Status: string(intake.AIStatusProcessed)})
	}

	if err := p.raise(ctx, orgID, intake.ItemTypeMessage, messageID, review.ReasonAmbiguousMatch, matchDetail(res)); err != nil {
		return finish(failed(string(m.AIStatus), 0, err))
	}
	applied, err := p.store.CompleteMessage(ctx, orgID, messageID, intake.AIStatusReviewRequired, nil, res.Confidence)
	if err != nil {
		return finish(failed(string(m.AIStatus), 0, err))
	}
	if !applied {
		return finish(p.currentMessage(ctx, orgID, messageID))
	}
	p.statusChanged(ctx, orgID, intake.ItemTypeMessage, messageID, StageProcessMessage, string(intake.AIStatusReviewRequired), nil, res.Confidence)
	return finish(Outcome{Kind: OutcomeReviewRequired, Status: string(intake.AIStatusReviewRequired), Reason: review.ReasonAmbiguousMatch})
}

func (p *Pipeline) currentMessage(ctx context.Context, orgID, id string) Outcome {
	m, err := p.store.GetMessage(ctx, orgID, id)
	if err != nil {
		return failed("", 0, err)
	}
	return skipped(string(m.AIStatus))
}

func matchDetail(res inference.Result[string]) string {
	if res.Value == "" {
		return fmt.Sprintf("no property matched (confidence %.2f)", res.Confidence)
	}
	return fmt.Sprintf("best candidate %s at confidence %.2f", res.Value, res.Confidence)
}

// ProcessFile classifies an UPLOADED file from its name and mime type.
func (p *Pipeline) ProcessFile(ctx context.Context, orgID, fileID string) Outcome {
	ctx, finish, _ := p.begin(ctx, StageProcessFile, orgID, fileID)

	f, err := p.store.GetFile(ctx, orgID, fileID)
	if err != nil {
		return finish(failed("", 0, err))
	}
	if f.Status != intake.FileStatusUploaded {
		return finish(skipped(string(f.Status)))
	}

	res, err := callProvider(ctx, p, "classify_document", func(ctx context.Context) (inference.Result[intake.DocumentType], error) {
		return p.provider.ClassifyDocument(ctx, inference.DocumentRequest{FileName: f.FileName, MimeType: f.MimeType})
	})
	if err != nil {
		return finish(failed(string(f.Status), 0, err))
	}

	docType := intake.ParseDocumentType(string(res.Value))
	if res.Value != "" && docType != intake.DocumentOther && res.Confidence >= p.thresholds.DocumentType {
		applied, err := p.store.CompleteFile(ctx, orgID, fileID, intake.FileStatusClassified, &docType, res.Confidence)
		if err != nil {
			return finish(failed(string(f.Status), 0, err))
		}
		if !applied {
			return finish(p.currentFile(ctx, orgID, fileID))
		}
		p.statusChanged(ctx, orgID, intake.ItemTypeFile, fileID, StageProcessFile, string(intake.FileStatusClassified), f.PropertyID, res.Confidence)
		return finish(Outcome{Kind: OutcomeProcessed, Status: string(intake.FileStatusClassified)})
	}

	detail := fmt.Sprintf("classified as %s at confidence %.2f", docType, res.Confidence)
	if err := p.raise(ctx, orgID, intake.ItemTypeFile, fileID, review.ReasonUnknownDocumentType, detail); err != nil {
		return finish(failed(string(f.Status), 0, err))
	}
	applied, err := p.store.CompleteFile(ctx, orgID, fileID, intake.FileStatusReviewRequired, nil, res.Confidence)
	if err != nil {
		return finish(failed(string(f.Status), 0, err))
	}
	if !applied {
		return finish(p.currentFile(ctx, orgID, fileID))
	}
	p.statusChanged(ctx, orgID, intake.ItemTypeFile, fileID, StageProcessFile, string(intake.FileStatusReviewRequired), f.PropertyID, res.Confidence)
	return finish(Outcome{Kind: OutcomeReviewRequired, Status: string(intake.FileStatusReviewRequired), Reason: review.ReasonUnknownDocumentType})
}

func (p *Pipeline) currentFile(ctx context.Context, orgID, id string) Outcome {
	f, err := p.store.GetFile(ctx, orgID, id)
	if err != nil {
		return failed("", 0, err)
	}
	return skipped(string(f.Status))
}
