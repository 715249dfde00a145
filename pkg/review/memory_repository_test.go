package review

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/intake/pkg/intake"
)

func TestMemoryRepository_RaiseIsUpsert(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	first, created, err := repo.Raise(ctx, "org", intake.ItemTypeVocal, "v-1", ReasonVocalEmptyTranscript, "blank")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.Raise(ctx, "org", intake.ItemTypeVocal, "v-1", ReasonVocalEmptyTranscript, "still blank")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "still blank", second.Detail)

	// a different reason is a separate item
	_, created, err = repo.Raise(ctx, "org", intake.ItemTypeVocal, "v-1", ReasonProcessingError, "")
	require.NoError(t, err)
	assert.True(t, created)

	n, err := repo.CountOpen(ctx, "org")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryRepository_RaiseAfterResolveCreatesNewItem(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	first, _, err := repo.Raise(ctx, "org", intake.ItemTypeMessage, "m-1", ReasonAmbiguousMatch, "")
	require.NoError(t, err)
	ok, err := repo.MarkResolved(ctx, "org", first.ID, ResolutionDismiss, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	second, created, err := repo.Raise(ctx, "org", intake.ItemTypeMessage, "m-1", ReasonAmbiguousMatch, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestMemoryRepository_MarkResolvedOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	item, _, err := repo.Raise(ctx, "org", intake.ItemTypeFile, "f-1", ReasonUnknownDocumentType, "")
	require.NoError(t, err)

	ok, err := repo.MarkResolved(ctx, "org", item.ID, ResolutionDismiss, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkResolved(ctx, "org", item.ID, ResolutionDismiss, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Escalate(ctx, "org", item.ID, "late note")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCursor_RoundTripAndOrdering(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)
	c := Cursor{CreatedAt: at, ID: "b"}

	decoded, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.True(t, decoded.CreatedAt.Equal(at))
	assert.Equal(t, "b", decoded.ID)

	assert.True(t, c.before(&Item{CreatedAt: at, ID: "c"}))
	assert.False(t, c.before(&Item{CreatedAt: at, ID: "a"}))
	assert.True(t, c.before(&Item{CreatedAt: at.Add(time.Nanosecond), ID: "a"}))

	none, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, none)
}
