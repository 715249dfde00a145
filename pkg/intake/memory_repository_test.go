package intake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intakeerrors "github.com/otherjamesbrown/intake/pkg/errors"
)

func TestMemoryRepository_OrgScoping(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	m := repo.PutMessage(Message{OrgID: "org-a", Channel: ChannelEmail, Body: "hello"})

	_, err := repo.GetMessage(ctx, "org-b", m.ID)
	assert.True(t, intakeerrors.IsNotFound(err))

	_, err = repo.GetMessage(ctx, "org-a", "missing")
	assert.True(t, intakeerrors.IsNotFound(err))

	got, err := repo.GetMessage(ctx, "org-a", m.ID)
	require.NoError(t, err)
	assert.Equal(t, AIStatusPending, got.AIStatus)
}

func TestMemoryRepository_CompleteMessageIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	m := repo.PutMessage(Message{OrgID: "org", Body: "x"})
	pid := "p-1"

	ok, err := repo.CompleteMessage(ctx, "org", m.ID, AIStatusProcessed, &pid, 0.9)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CompleteMessage(ctx, "org", m.ID, AIStatusReviewRequired, nil, 0.1)
	require.NoError(t, err)
	assert.False(t, ok)

	got, _ := repo.GetMessage(ctx, "org", m.ID)
	assert.Equal(t, AIStatusProcessed, got.AIStatus)
	assert.Equal(t, "p-1", *got.PropertyID)
	assert.Equal(t, 0.9, got.MatchConfidence)
}

func TestMemoryRepository_VocalLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	v := repo.PutVocal(Vocal{OrgID: "org", FileID: "f-1"})

	attempts, err := repo.BeginVocalAttempt(ctx, "org", v.ID, VocalStatusUploaded)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	_, err = repo.BeginVocalAttempt(ctx, "org", v.ID, VocalStatusTranscribed)
	assert.True(t, intakeerrors.IsConflict(err))

	transcript := "visite du T3"
	ok, err := repo.AdvanceVocal(ctx, "org", v.ID, VocalStatusUploaded, VocalUpdate{Status: VocalStatusTranscribed, Transcript: &transcript})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.AdvanceVocal(ctx, "org", v.ID, VocalStatusUploaded, VocalUpdate{Status: VocalStatusTranscribed})
	require.NoError(t, err)
	assert.False(t, ok)

	failed, err := repo.FailVocal(ctx, "org", v.ID, "transcription: timeout")
	require.NoError(t, err)
	assert.True(t, failed)

	got, _ := repo.GetVocal(ctx, "org", v.ID)
	assert.True(t, got.IsTerminal())
	assert.Equal(t, "transcription: timeout", got.ProcessingError)

	failed, err = repo.FailVocal(ctx, "org", v.ID, "again")
	require.NoError(t, err)
	assert.False(t, failed)

	status, err := repo.AttachVocal(ctx, "org", v.ID, "p-1")
	require.NoError(t, err)
	assert.Equal(t, VocalStatusReviewRequired, status)
}

func TestMemoryRepository_ListStaleVocals(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	old := time.Now().Add(-time.Hour)

	stale := repo.PutVocal(Vocal{OrgID: "a", Status: VocalStatusTranscribed, ProcessingAttempts: 3, UpdatedAt: old})
	repo.PutVocal(Vocal{OrgID: "a", Status: VocalStatusTranscribed, ProcessingAttempts: 1, UpdatedAt: old})
	repo.PutVocal(Vocal{OrgID: "b", Status: VocalStatusInsightsReady, ProcessingAttempts: 5, UpdatedAt: old})
	repo.PutVocal(Vocal{OrgID: "b", Status: VocalStatusReviewRequired, ProcessingAttempts: 5, UpdatedAt: old})
	repo.PutVocal(Vocal{OrgID: "b", Status: VocalStatusUploaded, ProcessingAttempts: 5})

	vocals, err := repo.ListStaleVocals(ctx, time.Now().Add(-15*time.Minute), 3, 10)
	require.NoError(t, err)
	require.Len(t, vocals, 1)
	assert.Equal(t, stale.ID, vocals[0].ID)
}

func TestMemoryRepository_MergePropertyDetails(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	p := repo.PutProperty(Property{OrgID: "org", Details: map[string]interface{}{"rooms": 3.0, "garden": true}})

	require.NoError(t, repo.MergePropertyDetails(ctx, "org", p.ID, map[string]interface{}{"rooms": 4.0, "surface_m2": 72.0}))

	got, err := repo.GetProperty(ctx, "org", p.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"rooms": 4.0, "garden": true, "surface_m2": 72.0}, got.Details)

	err = repo.MergePropertyDetails(ctx, "other", p.ID, map[string]interface{}{"x": 1})
	assert.True(t, intakeerrors.IsNotFound(err))
}

func TestMemoryRepository_ApplyPropertyParamsOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	p := repo.PutProperty(Property{OrgID: "org", Details: map[string]interface{}{}})
	v := repo.PutVocal(Vocal{OrgID: "org", FileID: "f-1", PropertyID: &p.ID, Status: VocalStatusTypeClassified})

	applied, err := repo.ApplyPropertyParams(ctx, "org", v.ID, p.ID, map[string]interface{}{"rooms": 5.0})
	require.NoError(t, err)
	assert.True(t, applied)

	got, _ := repo.GetVocal(ctx, "org", v.ID)
	require.NotNil(t, got.ParamsAppliedAt)

	// an agent correction after the merge survives a second apply
	require.NoError(t, repo.MergePropertyDetails(ctx, "org", p.ID, map[string]interface{}{"rooms": 6.0}))
	applied, err = repo.ApplyPropertyParams(ctx, "org", v.ID, p.ID, map[string]interface{}{"rooms": 5.0})
	require.NoError(t, err)
	assert.False(t, applied)

	prop, _ := repo.GetProperty(ctx, "org", p.ID)
	assert.Equal(t, 6.0, prop.Details["rooms"])

	_, err = repo.ApplyPropertyParams(ctx, "org", v.ID, "missing", map[string]interface{}{"rooms": 5.0})
	assert.True(t, intakeerrors.IsNotFound(err))
}

func TestMemoryRepository_AdvanceVocalKeepsProcessingError(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	v := repo.PutVocal(Vocal{OrgID: "org", FileID: "f-1"})

	require.NoError(t, repo.RecordVocalError(ctx, "org", v.ID, "transcription: timeout"))
	ok, err := repo.AdvanceVocal(ctx, "org", v.ID, VocalStatusUploaded, VocalUpdate{Status: VocalStatusTranscribed})
	require.NoError(t, err)
	require.True(t, ok)

	got, _ := repo.GetVocal(ctx, "org", v.ID)
	assert.Equal(t, VocalStatusTranscribed, got.Status)
	assert.Equal(t, "transcription: timeout", got.ProcessingError)
}

func TestStatusAfterAttach(t *testing.T) {
	typ := VocalTypeBuyerFeedback
	failed := VocalTypeProcessingError

	tests := []struct {
		name  string
		vocal Vocal
		want  VocalStatus
	}{
		{"not in review", Vocal{Status: VocalStatusTranscribed}, VocalStatusTranscribed},
		{"terminal", Vocal{Status: VocalStatusReviewRequired, VocalType: &failed, Transcript: "x"}, VocalStatusReviewRequired},
		{"held insights", Vocal{Status: VocalStatusReviewRequired, VocalType: &typ, Insights: map[string]interface{}{"a": 1}}, VocalStatusInsightsReady},
		{"classified", Vocal{Status: VocalStatusReviewRequired, VocalType: &typ, Transcript: "x"}, VocalStatusTypeClassified},
		{"empty transcript", Vocal{Status: VocalStatusReviewRequired}, VocalStatusReviewRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusAfterAttach(&tt.vocal))
		})
	}
}

func TestParseEnums(t *testing.T) {
	assert.Equal(t, DocumentFloorPlan, ParseDocumentType(" floor_plan "))
	assert.Equal(t, DocumentOther, ParseDocumentType("spreadsheet"))
	assert.Equal(t, VocalTypeSellerCall, ParseVocalType("SELLER_CALL"))
	assert.Equal(t, VocalTypeOther, ParseVocalType("PROCESSING_ERROR"))
	assert.True(t, ItemTypeVocal.Valid())
	assert.False(t, ItemType("NOTE").Valid())
}
