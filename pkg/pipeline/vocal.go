package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	intakeerrors "github.com/otherjamesbrown/intake/pkg/errors"
	"github.com/otherjamesbrown/intake/pkg/inference"
	"github.com/otherjamesbrown/intake/pkg/intake"
	"github.com/otherjamesbrown/intake/pkg/logging"
	"github.com/otherjamesbrown/intake/pkg/review"
)

// gate decides whether a vocal may enter the stage that starts at from.
// It returns nil when the stage should run.
func gate(v *intake.Vocal, from intake.VocalStatus) *Outcome {
	var o Outcome
	switch {
	case v.IsTerminal():
		o = skipped(string(v.Status))
	case v.Status == from:
		return nil
	case v.Status == intake.VocalStatusReviewRequired:
		o = skipped(string(v.Status))
	case v.Status.Rank() > from.Rank():
		o = skipped(string(v.Status))
	default:
		o = Outcome{Kind: OutcomeNotReady, Status: string(v.Status)}
	}
	return &o
}

// startAttempt loads the vocal, gates it and counts the attempt.
func (p *Pipeline) startAttempt(ctx context.Context, orgID, id string, from intake.VocalStatus) (*intake.Vocal, int, *Outcome) {
	v, err := p.store.GetVocal(ctx, orgID, id)
	if err != nil {
		o := failed("", 0, err)
		return nil, 0, &o
	}
	if o := gate(v, from); o != nil {
		return nil, 0, o
	}
	attempt, err := p.store.BeginVocalAttempt(ctx, orgID, id, from)
	if intakeerrors.IsConflict(err) {
		o := p.currentVocal(ctx, orgID, id)
		return nil, 0, &o
	}
	if err != nil {
		o := failed(string(v.Status), v.ProcessingAttempts, err)
		return nil, 0, &o
	}
	v.ProcessingAttempts = attempt
	return v, attempt, nil
}

func (p *Pipeline) currentVocal(ctx context.Context, orgID, id string) Outcome {
	v, err := p.store.GetVocal(ctx, orgID, id)
	if err != nil {
		return failed("", 0, err)
	}
	return skipped(string(v.Status))
}

// transient records a failed attempt on the vocal and leaves its status alone
// so the next delivery resumes at the same stage.
func (p *Pipeline) transient(ctx context.Context, log logging.Logger, v *intake.Vocal, step string, attempt int, cause error) Outcome {
	if err := p.store.RecordVocalError(ctx, v.OrgID, v.ID, composeError(step, cause.Error())); err != nil {
		log.Warn("Failed to record vocal error", logging.Err(err))
	}
	return failed(string(v.Status), attempt, cause)
}

// advance writes the next state. A lost compare-and-set means a concurrent
// delivery got there first.
func (p *Pipeline) advance(ctx context.Context, v *intake.Vocal, stage string, from intake.VocalStatus, u intake.VocalUpdate, attempt int) (Outcome, bool) {
	applied, err := p.store.AdvanceVocal(ctx, v.OrgID, v.ID, from, u)
	if err != nil {
		return failed(string(from), attempt, err), false
	}
	if !applied {
		return p.currentVocal(ctx, v.OrgID, v.ID), false
	}
	propertyID := v.PropertyID
	if u.PropertyID != nil {
		propertyID = u.PropertyID
	}
	confidence := v.Confidence
	if u.Confidence != nil {
		confidence = *u.Confidence
	}
	p.statusChanged(ctx, v.OrgID, intake.ItemTypeVocal, v.ID, stage, string(u.Status), propertyID, confidence)
	return Outcome{Status: string(u.Status), Attempt: attempt}, true
}

// escalate raises a review item and moves the vocal to REVIEW_REQUIRED.
func (p *Pipeline) escalate(ctx context.Context, v *intake.Vocal, stage string, from intake.VocalStatus, reason review.Reason, detail string, u intake.VocalUpdate, attempt int) Outcome {
	if err := p.raise(ctx, v.OrgID, intake.ItemTypeVocal, v.ID, reason, detail); err != nil {
		return failed(string(from), attempt, err)
	}
	u.Status = intake.VocalStatusReviewRequired
	o, ok := p.advance(ctx, v, stage, from, u, attempt)
	if !ok {
		return o
	}
	o.Kind = OutcomeReviewRequired
	o.Reason = reason
	return o
}

// TranscribeVocal turns an UPLOADED vocal's audio into a transcript and summary.
// A blank transcript escalates with VOCAL_EMPTY_TRANSCRIPT.
func (p *Pipeline) TranscribeVocal(ctx context.Context, orgID, vocalID string) Outcome {
	ctx, finish, log := p.begin(ctx, StageTranscription, orgID, vocalID)

	v, attempt, gated := p.startAttempt(ctx, orgID, vocalID, intake.VocalStatusUploaded)
	if gated != nil {
		return finish(*gated)
	}

	res, err := callProvider(ctx, p, "transcribe", func(ctx context.Context) (inference.Result[string], error) {
		return p.provider.Transcribe(ctx, inference.AudioRequest{
			StorageKey:      v.StorageKey,
			FileName:        v.FileName,
			MimeType:        v.MimeType,
			DurationSeconds: v.DurationSeconds,
		})
	})
	if err != nil {
		return finish(p.transient(ctx, log, v, StageTranscription, attempt, err))
	}

	transcript := strings.TrimSpace(res.Value)
	if transcript == "" {
		return finish(p.escalate(ctx, v, StageTranscription, intake.VocalStatusUploaded,
			review.ReasonVocalEmptyTranscript, "transcription returned no speech", intake.VocalUpdate{}, attempt))
	}

	summary := Summarize(transcript)
	o, ok := p.advance(ctx, v, StageTranscription, intake.VocalStatusUploaded, intake.VocalUpdate{
		Status:     intake.VocalStatusTranscribed,
		Transcript: &transcript,
		Summary:    &summary,
	}, attempt)
	if ok {
		o.Kind = OutcomeProcessed
	}
	return finish(o)
}

// DetectVocalType classifies the purpose of a TRANSCRIBED vocal. Answers
// below the vocal type threshold are stored as OTHER; the vocal always
// advances to TYPE_CLASSIFIED.
func (p *Pipeline) DetectVocalType(ctx context.Context, orgID, vocalID string) Outcome {
	ctx, finish, log := p.begin(ctx, StageTypeDetection, orgID, vocalID)

	v, attempt, gated := p.startAttempt(ctx, orgID, vocalID, intake.VocalStatusTranscribed)
	if gated != nil {
		return finish(*gated)
	}

	res, err := callProvider(ctx, p, "classify_vocal_type", func(ctx context.Context) (inference.Result[intake.VocalType], error) {
		return p.provider.ClassifyVocalType(ctx, v.Transcript)
	})
	if err != nil {
		return finish(p.transient(ctx, log, v, StageTypeDetection, attempt, err))
	}

	vocalType := intake.ParseVocalType(string(res.Value))
	if res.Confidence < p.thresholds.VocalType {
		vocalType = intake.VocalTypeOther
	}

	o, ok := p.advance(ctx, v, StageTypeDetection, intake.VocalStatusTranscribed, intake.VocalUpdate{
		Status:    intake.VocalStatusTypeClassified,
		VocalType: &vocalType,
	}, attempt)
	if ok {
		o.Kind = OutcomeProcessed
	}
	return finish(o)
}

// ExtractInitialVisitPropertyParams merges property attributes described in an
// INITIAL_VISIT recording into the linked property's details. Existing keys
// not mentioned are preserved. It runs only while the vocal is
// TYPE_CLASSIFIED and at most once per vocal, so later edits to the property
// are never overwritten by a redelivered job.
func (p *Pipeline) ExtractInitialVisitPropertyParams(ctx context.Context, orgID, vocalID string) Outcome {
	ctx, finish, log := p.begin(ctx, StagePropertyParams, orgID, vocalID)

	v, err := p.store.GetVocal(ctx, orgID, vocalID)
	if err != nil {
		return finish(failed("", 0, err))
	}
	if v.IsTerminal() || v.ParamsAppliedAt != nil {
		return finish(skipped(string(v.Status)))
	}
	if r := v.Status.Rank(); r > 0 && r < intake.VocalStatusTypeClassified.Rank() {
		return finish(Outcome{Kind: OutcomeNotReady, Status: string(v.Status)})
	}
	if v.Status != intake.VocalStatusTypeClassified {
		return finish(skipped(string(v.Status)))
	}
	if v.VocalType == nil || *v.VocalType != intake.VocalTypeInitialVisit || v.PropertyID == nil || v.Transcript == "" {
		return finish(Outcome{Kind: OutcomeNotApplicable, Status: string(v.Status)})
	}

	res, err := callProvider(ctx, p, "extract_property_parameters", func(ctx context.Context) (inference.Result[map[string]interface{}], error) {
		return p.provider.ExtractPropertyParameters(ctx, v.Transcript)
	})
	if err != nil {
		return finish(p.transient(ctx, log, v, StagePropertyParams, v.ProcessingAttempts, err))
	}
	if res.Confidence < p.thresholds.PropertyParams {
		log.Debug("Property parameters below threshold",
			logging.F("confidence", res.Confidence), logging.F("threshold", p.thresholds.PropertyParams))
		return finish(Outcome{Kind: OutcomeNotApplicable, Status: string(v.Status)})
	}

	patch := nonEmpty(res.Value)
	if len(patch) == 0 {
		return finish(Outcome{Kind: OutcomeNotApplicable, Status: string(v.Status)})
	}
	applied, err := p.store.ApplyPropertyParams(ctx, orgID, v.ID, *v.PropertyID, patch)
	if err != nil {
		return finish(failed(string(v.Status), v.ProcessingAttempts, err))
	}
	if !applied {
		return finish(skipped(string(v.Status)))
	}
	if p.properties != nil {
		p.properties.Delete(orgID)
	}
	log.Debug("Property details merged", logging.F("property_id", *v.PropertyID), logging.F("keys", len(patch)))
	return finish(Outcome{Kind: OutcomeUpdated, Status: string(v.Status)})
}

// nonEmpty drops nil values, blank strings and empty collections.
func nonEmpty(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if strings.TrimSpace(val) == "" {
				continue
			}
		case []interface{}:
			if len(val) == 0 {
				continue
			}
		case map[string]interface{}:
			if len(val) == 0 {
				continue
			}
		}
		out[k] = v
	}
	return out
}

// ExtractVocalInsights runs last on a TYPE_CLASSIFIED vocal. A vocal with no
// property is matched first; an ambiguous match, an unparseable answer or a
// low-confidence answer escalates. Otherwise insights are stored and the
// vocal becomes INSIGHTS_READY.
func (p *Pipeline) ExtractVocalInsights(ctx context.Context, orgID, vocalID string) Outcome {
	ctx, finish, log := p.begin(ctx, StageInsights, orgID, vocalID)
	from := intake.VocalStatusTypeClassified

	v, attempt, gated := p.startAttempt(ctx, orgID, vocalID, from)
	if gated != nil {
		return finish(*gated)
	}

	var update intake.VocalUpdate
	if v.PropertyID == nil {
		propertyID, res, err := p.match(ctx, orgID, v.Transcript)
		if err != nil {
			return finish(p.transient(ctx, log, v, StageInsights, attempt, err))
		}
		if propertyID == "" {
			return finish(p.escalate(ctx, v, StageInsights, from, review.ReasonVocalAmbiguousProperty, matchDetail(res), update, attempt))
		}
		update.PropertyID = &propertyID
	}

	vocalType := intake.VocalTypeOther
	if v.VocalType != nil {
		vocalType = *v.VocalType
	}
	res, err := callProvider(ctx, p, "extract_insights", func(ctx context.Context) (inference.Result[string], error) {
		return p.provider.ExtractInsights(ctx, inference.InsightsRequest{Transcript: v.Transcript, VocalType: vocalType})
	})
	if err != nil {
		return finish(p.transient(ctx, log, v, StageInsights, attempt, err))
	}

	insights, perr := parseInsights(res.Value)
	if perr != nil {
		return finish(p.escalate(ctx, v, StageInsights, from, review.ReasonVocalInsightsUnparseable, perr.Error(), update, attempt))
	}

	confidence := res.Confidence
	update.Insights = insights
	update.Confidence = &confidence

	if confidence < p.thresholds.Insights {
		detail := fmt.Sprintf("insights confidence %.2f", confidence)
		return finish(p.escalate(ctx, v, StageInsights, from, review.ReasonVocalLowConfidence, detail, update, attempt))
	}

	update.Status = intake.VocalStatusInsightsReady
	o, ok := p.advance(ctx, v, StageInsights, from, update, attempt)
	if ok {
		o.Kind = OutcomeProcessed
	}
	return finish(o)
}

func parseInsights(raw string) (map[string]interface{}, error) {
	var insights map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &insights); err != nil {
		return nil, fmt.Errorf("insights are not a JSON object: %w", err)
	}
	if insights == nil {
		return nil, fmt.Errorf("insights are not a JSON object")
	}
	return insights, nil
}
