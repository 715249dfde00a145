package pipeline

import (
	"context"
	"fmt"
	"time"

	intakeerrors "github.com/otherjamesbrown/intake/pkg/errors"
	"github.com/otherjamesbrown/intake/pkg/intake"
	"github.com/otherjamesbrown/intake/pkg/logging"
	"github.com/otherjamesbrown/intake/pkg/observability"
	"github.com/otherjamesbrown/intake/pkg/queues"
)

// Enqueuer schedules the insights job once a vocal reaches TYPE_CLASSIFIED.
// *dispatch.Dispatcher satisfies it.
type Enqueuer interface {
	EnqueueVocalInsightsJob(ctx context.Context, orgID, vocalID string) (string, error)
}

// Handler routes queued jobs to pipeline stages and turns failed outcomes
// into queue errors: not-found is permanent, everything else is transient.
type Handler struct {
	pipeline *Pipeline
	enqueuer Enqueuer
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   logging.Logger
}

// NewHandler creates a job handler over p.
func NewHandler(p *Pipeline, enqueuer Enqueuer) *Handler {
	return &Handler{
		pipeline: p,
		enqueuer: enqueuer,
		metrics:  p.metrics,
		tracer:   p.tracer,
		logger:   p.logger.With(logging.F("component", "job_handler")),
	}
}

// Handle runs one job. A nil return means the job can be acked.
func (h *Handler) Handle(ctx context.Context, job *queues.QueuedJob) error {
	if err := job.Payload.Validate(); err != nil {
		return queues.NewPermanentError("invalid_payload", "invalid job payload", err)
	}

	ctx = context.WithValue(ctx, logging.JobIDKey, job.ID)
	ctx = context.WithValue(ctx, logging.OrgIDKey, job.Payload.OrgID)
	ctx, span := h.tracer.StartJobSpan(ctx, string(job.Type), job.ID)
	start := time.Now()

	err := h.route(ctx, job)

	result := "success"
	if err != nil {
		result = string(queues.Classify(err).Category)
	}
	observability.EndSpan(span, result, err)
	h.metrics.RecordJob(string(job.Type), result, time.Since(start))
	return err
}

func (h *Handler) route(ctx context.Context, job *queues.QueuedJob) error {
	org, id := job.Payload.OrgID, job.Payload.EntityID
	switch job.Type {
	case queues.JobMessageAI:
		return jobError(h.pipeline.ProcessMessage(ctx, org, id))
	case queues.JobFileAI:
		return jobError(h.pipeline.ProcessFile(ctx, org, id))
	case queues.JobVocalTranscription:
		return h.transcription(ctx, org, id)
	case queues.JobVocalInsights:
		return jobError(h.pipeline.ExtractVocalInsights(ctx, org, id))
	default:
		return queues.NewPermanentError("unknown_job_type", fmt.Sprintf("unknown job type %q", job.Type), nil)
	}
}

// transcription runs transcribe, type detection and property parameters in
// order, then hands off to the insights queue. Each stage gates on the stored
// status, so a redelivered job resumes where the last one stopped.
func (h *Handler) transcription(ctx context.Context, orgID, vocalID string) error {
	if err := jobError(h.pipeline.TranscribeVocal(ctx, orgID, vocalID)); err != nil {
		return err
	}

	detected := h.pipeline.DetectVocalType(ctx, orgID, vocalID)
	if err := jobError(detected); err != nil {
		return err
	}
	if detected.Status != string(intake.VocalStatusTypeClassified) {
		return nil
	}

	// Property parameters are a side effect; a failure here must not hold
	// the vocal back from insights.
	if params := h.pipeline.ExtractInitialVisitPropertyParams(ctx, orgID, vocalID); params.Failed() {
		h.logger.WithContext(ctx).Warn("Property parameter extraction failed",
			logging.F("vocal_id", vocalID), logging.Err(params.Err))
	}

	if _, err := h.enqueuer.EnqueueVocalInsightsJob(ctx, orgID, vocalID); err != nil {
		return queues.NewTransientError(string(intakeerrors.ErrProcessingError), "enqueue insights job", err)
	}
	return nil
}

func jobError(o Outcome) error {
	if !o.Failed() {
		return nil
	}
	if intakeerrors.IsNotFound(o.Err) {
		return queues.NewPermanentError("not_found", "entity not found", o.Err)
	}
	classified := intakeerrors.ClassifyError(o.Err, "")
	return queues.NewTransientError(string(classified.Code), fmt.Sprintf("stage failed (status %s)", o.Status), o.Err)
}
