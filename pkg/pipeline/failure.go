package pipeline

import (
	"context"
	"strings"
	"unicode"

	"github.com/otherjamesbrown/intake/pkg/intake"
	"github.com/otherjamesbrown/intake/pkg/logging"
	"github.com/otherjamesbrown/intake/pkg/review"
)

// StageProcessingFailure labels MarkProcessingFailure in logs and metrics.
const StageProcessingFailure = "processing_failure"

func composeError(step, message string) string {
	return step + ": " + message
}

// MarkProcessingFailure records a failed step on a vocal. A non-final failure
// only stores the error text and the vocal stays where it is. A final failure
// closes the vocal: REVIEW_REQUIRED with type PROCESSING_ERROR and an open
// PROCESSING_ERROR review item. Closed and INSIGHTS_READY vocals are skipped.
func (p *Pipeline) MarkProcessingFailure(ctx context.Context, orgID, vocalID, step, message string, isFinal bool) Outcome {
	ctx, finish, log := p.begin(ctx, StageProcessingFailure, orgID, vocalID)
	text := composeError(step, message)

	v, err := p.store.GetVocal(ctx, orgID, vocalID)
	if err != nil {
		return finish(failed("", 0, err))
	}
	if v.IsTerminal() || v.Status == intake.VocalStatusInsightsReady {
		return finish(skipped(string(v.Status)))
	}

	if !isFinal {
		if err := p.store.RecordVocalError(ctx, orgID, vocalID, text); err != nil {
			return finish(failed(string(v.Status), v.ProcessingAttempts, err))
		}
		return finish(Outcome{Kind: OutcomeFailed, Status: string(v.Status), Attempt: v.ProcessingAttempts, Err: errString(text)})
	}

	item, created, err := p.raiseItem(ctx, orgID, intake.ItemTypeVocal, vocalID, review.ReasonProcessingError, text)
	if err != nil {
		return finish(failed(string(v.Status), v.ProcessingAttempts, err))
	}
	applied, err := p.store.FailVocal(ctx, orgID, vocalID, text)
	if err != nil {
		return finish(failed(string(v.Status), v.ProcessingAttempts, err))
	}
	if !applied {
		return finish(p.withdraw(ctx, log, item, created))
	}

	log.Warn("Vocal closed after processing failure", logging.F("step", step), logging.F("attempts", v.ProcessingAttempts))
	status := string(intake.VocalStatusReviewRequired)
	p.statusChanged(ctx, orgID, intake.ItemTypeVocal, vocalID, StageProcessingFailure, status, v.PropertyID, v.Confidence)
	return finish(Outcome{Kind: OutcomeReviewRequired, Status: status, Reason: review.ReasonProcessingError, Attempt: v.ProcessingAttempts})
}

// withdraw handles a lost close: the vocal moved on after it was read. An item
// this call opened is dismissed unless the vocal ended up closed anyway, in
// which case the item belongs to whoever closed it.
func (p *Pipeline) withdraw(ctx context.Context, log logging.Logger, item *review.Item, created bool) Outcome {
	cur, err := p.store.GetVocal(ctx, item.OrgID, item.ItemID)
	if err != nil {
		return failed("", 0, err)
	}
	if created && !cur.IsTerminal() {
		if _, err := p.reviews.MarkResolved(ctx, item.OrgID, item.ID, review.ResolutionDismiss, nil); err != nil {
			return failed(string(cur.Status), cur.ProcessingAttempts, err)
		}
		log.Info("Withdrew processing error review", logging.F("review_id", item.ID), logging.F("status", string(cur.Status)))
	}
	return skipped(string(cur.Status))
}

type errString string

func (e errString) Error() string { return string(e) }

// MaxSummaryRunes caps the stored summary of a transcript.
const MaxSummaryRunes = 280

// Summarize keeps the leading sentences of transcript that fit in
// MaxSummaryRunes. A first sentence longer than the cap is cut on a word
// boundary and ends with an ellipsis.
func Summarize(transcript string) string {
	text := strings.Join(strings.Fields(transcript), " ")
	if text == "" {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= MaxSummaryRunes {
		return text
	}

	end := 0
	for i, r := range runes {
		if i >= MaxSummaryRunes {
			break
		}
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			end = i + 1
		}
	}
	if end > 0 {
		return string(runes[:end])
	}

	cut := MaxSummaryRunes - 1
	for cut > 0 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut == 0 {
		cut = MaxSummaryRunes - 1
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}
