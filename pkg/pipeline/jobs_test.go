package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/intake/pkg/inference"
	"github.com/otherjamesbrown/intake/pkg/intake"
	"github.com/otherjamesbrown/intake/pkg/queues"
)

type recordingEnqueuer struct {
	vocals []string
	err    error
}

func (r *recordingEnqueuer) EnqueueVocalInsightsJob(_ context.Context, _, vocalID string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.vocals = append(r.vocals, vocalID)
	return "job-" + vocalID, nil
}

func job(t queues.JobType, entityID string) *queues.QueuedJob {
	return &queues.QueuedJob{ID: "job-1", Type: t, Payload: queues.Payload{OrgID: org, EntityID: entityID}}
}

func processingError(t *testing.T, err error) *queues.ProcessingError {
	t.Helper()
	var pe *queues.ProcessingError
	require.True(t, errors.As(err, &pe), "expected ProcessingError, got %v", err)
	return pe
}

func TestHandler_TranscriptionChain(t *testing.T) {
	f := newFixture(t)
	f.provider.transcript = inference.Result[string]{Value: "Initial visit. Four bedrooms and a pool.", Confidence: 0.9}
	f.provider.vocalType = inference.Result[intake.VocalType]{Value: intake.VocalTypeInitialVisit, Confidence: 0.8}
	f.provider.params = inference.Result[map[string]interface{}]{Value: map[string]interface{}{"bedrooms": 4}, Confidence: 0.9}
	enq := &recordingEnqueuer{}
	h := NewHandler(f.p, enq)

	v := f.store.PutVocal(intake.Vocal{OrgID: org, PropertyID: &f.property.ID})
	require.NoError(t, h.Handle(f.ctx, job(queues.JobVocalTranscription, v.ID)))

	got := f.vocal(t, v.ID)
	assert.Equal(t, intake.VocalStatusTypeClassified, got.Status)
	assert.Equal(t, []string{v.ID}, enq.vocals)

	prop, err := f.store.GetProperty(f.ctx, org, f.property.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, prop.Details["bedrooms"])

	// A redelivered job resumes without repeating finished stages.
	require.NoError(t, h.Handle(f.ctx, job(queues.JobVocalTranscription, v.ID)))
	assert.Equal(t, 1, f.provider.Calls("transcribe"))
	assert.Equal(t, 1, f.provider.Calls("classify_vocal_type"))
	assert.Equal(t, 1, f.provider.Calls("extract_property_parameters"))
	assert.Len(t, enq.vocals, 2)
}

func TestHandler_TranscriptionStopsOnReview(t *testing.T) {
	f := newFixture(t)
	f.provider.transcript = inference.Result[string]{Value: ""}
	enq := &recordingEnqueuer{}
	h := NewHandler(f.p, enq)

	v := f.store.PutVocal(intake.Vocal{OrgID: org})
	require.NoError(t, h.Handle(f.ctx, job(queues.JobVocalTranscription, v.ID)))
	assert.Empty(t, enq.vocals)
	assert.Equal(t, 0, f.provider.Calls("classify_vocal_type"))
}

func TestHandler_ParamsFailureDoesNotBlockInsights(t *testing.T) {
	f := newFixture(t)
	f.provider.transcript = inference.Result[string]{Value: "Initial visit.", Confidence: 0.9}
	f.provider.vocalType = inference.Result[intake.VocalType]{Value: intake.VocalTypeInitialVisit, Confidence: 0.8}
	f.provider.paramsErr = errors.New("overloaded")
	enq := &recordingEnqueuer{}
	h := NewHandler(f.p, enq)

	v := f.store.PutVocal(intake.Vocal{OrgID: org, PropertyID: &f.property.ID})
	require.NoError(t, h.Handle(f.ctx, job(queues.JobVocalTranscription, v.ID)))
	assert.Equal(t, []string{v.ID}, enq.vocals)
}

func TestHandler_ErrorMapping(t *testing.T) {
	t.Run("missing entity is permanent", func(t *testing.T) {
		f := newFixture(t)
		h := NewHandler(f.p, &recordingEnqueuer{})
		pe := processingError(t, h.Handle(f.ctx, job(queues.JobMessageAI, "missing")))
		assert.False(t, pe.IsRetryable())
	})

	t.Run("provider failure is transient", func(t *testing.T) {
		f := newFixture(t)
		f.provider.docErr = errors.New("429 too many requests")
		h := NewHandler(f.p, &recordingEnqueuer{})
		file := f.store.PutFile(intake.File{OrgID: org, FileName: "a.pdf"})

		pe := processingError(t, h.Handle(f.ctx, job(queues.JobFileAI, file.ID)))
		assert.True(t, pe.IsRetryable())
		assert.Equal(t, "rate_limit", pe.Code)
	})

	t.Run("insights enqueue failure is transient", func(t *testing.T) {
		f := newFixture(t)
		f.provider.transcript = inference.Result[string]{Value: "hello.", Confidence: 0.9}
		f.provider.vocalType = inference.Result[intake.VocalType]{Value: intake.VocalTypeGenericNote, Confidence: 0.9}
		h := NewHandler(f.p, &recordingEnqueuer{err: errors.New("broker down")})
		v := f.store.PutVocal(intake.Vocal{OrgID: org})

		pe := processingError(t, h.Handle(f.ctx, job(queues.JobVocalTranscription, v.ID)))
		assert.True(t, pe.IsRetryable())
		assert.Equal(t, intake.VocalStatusTypeClassified, f.vocal(t, v.ID).Status)
	})

	t.Run("unknown job type is permanent", func(t *testing.T) {
		f := newFixture(t)
		h := NewHandler(f.p, &recordingEnqueuer{})
		pe := processingError(t, h.Handle(f.ctx, job("reindex", "x")))
		assert.False(t, pe.IsRetryable())
	})

	t.Run("invalid payload is permanent", func(t *testing.T) {
		f := newFixture(t)
		h := NewHandler(f.p, &recordingEnqueuer{})
		pe := processingError(t, h.Handle(f.ctx, &queues.QueuedJob{ID: "j", Type: queues.JobMessageAI}))
		assert.False(t, pe.IsRetryable())
	})
}

func TestHandler_InsightsJob(t *testing.T) {
	f := newFixture(t)
	f.provider.insights = inference.Result[string]{Value: `{"sentiment":"positive"}`, Confidence: 0.9}
	h := NewHandler(f.p, &recordingEnqueuer{})
	v := classifiedVocal(f, &f.property.ID)

	require.NoError(t, h.Handle(f.ctx, job(queues.JobVocalInsights, v.ID)))
	assert.Equal(t, intake.VocalStatusInsightsReady, f.vocal(t, v.ID).Status)
}
