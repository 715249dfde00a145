package intake

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	intakeerrors "github.com/otherjamesbrown/intake/pkg/errors"
)

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PostgresRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresRepository(mock)
}

func TestPostgresRepository_GetMessage(t *testing.T) {
	mock, repo := newMockRepo(t)
	now := time.Now()
	pid := "p-1"

	rows := pgxmock.NewRows([]string{"id", "org_id", "property_id", "channel", "subject", "body", "sender",
		"ai_status", "match_confidence", "created_at", "updated_at"}).
		AddRow("m-1", "org", &pid, ChannelWhatsApp, "", "visite rue des Lilas", "+33600000000",
			AIStatusProcessed, 0.82, now, now)
	mock.ExpectQuery("FROM messages WHERE org_id = \\$1 AND id = \\$2").WithArgs("org", "m-1").WillReturnRows(rows)

	m, err := repo.GetMessage(context.Background(), "org", "m-1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", m.ID)
	assert.Equal(t, ChannelWhatsApp, m.Channel)
	assert.Equal(t, AIStatusProcessed, m.AIStatus)
	assert.Equal(t, "p-1", *m.PropertyID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetMessage_NotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectQuery("FROM messages").WithArgs("org-b", "m-1").WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetMessage(context.Background(), "org-b", "m-1")
	assert.True(t, intakeerrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_CompleteMessage(t *testing.T) {
	mock, repo := newMockRepo(t)
	pid := "p-1"

	mock.ExpectExec("UPDATE messages").
		WithArgs("org", "m-1", "PROCESSED", &pid, 0.9).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE messages").
		WithArgs("org", "m-1", "PROCESSED", &pid, 0.9).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.CompleteMessage(context.Background(), "org", "m-1", AIStatusProcessed, &pid, 0.9)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CompleteMessage(context.Background(), "org", "m-1", AIStatusProcessed, &pid, 0.9)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_AttachFile_NotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectExec("UPDATE files SET property_id").
		WithArgs("org", "f-1", "p-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.AttachFile(context.Background(), "org", "f-1", "p-1")
	assert.True(t, intakeerrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_BeginVocalAttempt(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectQuery("SET processing_attempts = processing_attempts \\+ 1").
		WithArgs("org", "v-1", "UPLOADED").
		WillReturnRows(pgxmock.NewRows([]string{"processing_attempts"}).AddRow(2))
	mock.ExpectQuery("SET processing_attempts = processing_attempts \\+ 1").
		WithArgs("org", "v-1", "UPLOADED").
		WillReturnError(pgx.ErrNoRows)

	attempts, err := repo.BeginVocalAttempt(context.Background(), "org", "v-1", VocalStatusUploaded)
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	_, err = repo.BeginVocalAttempt(context.Background(), "org", "v-1", VocalStatusUploaded)
	assert.True(t, intakeerrors.IsConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_FailVocal_AlreadyTerminal(t *testing.T) {
	mock, repo := newMockRepo(t)
	now := time.Now()
	failed := "PROCESSING_ERROR"

	mock.ExpectExec("vocal_type = 'PROCESSING_ERROR'").
		WithArgs("org", "v-1", "stale after 3 attempts").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("FROM vocals WHERE org_id = \\$1 AND id = \\$2").
		WithArgs("org", "v-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "org_id", "property_id", "file_id", "file_name", "mime_type",
			"duration_seconds", "storage_key", "vocal_type", "transcript", "summary", "insights", "confidence",
			"processing_error", "processing_attempts", "status", "property_params_applied_at", "created_at", "updated_at"}).
			AddRow("v-1", "org", (*string)(nil), "f-1", "note.m4a", "audio/mp4", 42.0, "org/f-1",
				&failed, "", "", []byte(nil), 0.0, "old", 4, VocalStatusReviewRequired, (*time.Time)(nil), now, now))

	changed, err := repo.FailVocal(context.Background(), "org", "v-1", "stale after 3 attempts")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_MergePropertyDetails(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectExec("details = details \\|\\| \\$3::jsonb").
		WithArgs("org", "p-1", `{"rooms":4}`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.MergePropertyDetails(context.Background(), "org", "p-1", map[string]interface{}{"rooms": 4})
	require.NoError(t, err)

	// empty patch never reaches the database
	require.NoError(t, repo.MergePropertyDetails(context.Background(), "org", "p-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ApplyPropertyParams(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("property_params_applied_at IS NULL").
		WithArgs("org", "v-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("details = details \\|\\| \\$3::jsonb").
		WithArgs("org", "p-1", `{"rooms":5}`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	applied, err := repo.ApplyPropertyParams(context.Background(), "org", "v-1", "p-1", map[string]interface{}{"rooms": 5})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ApplyPropertyParams_AlreadyApplied(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec("property_params_applied_at IS NULL").
		WithArgs("org", "v-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	applied, err := repo.ApplyPropertyParams(context.Background(), "org", "v-1", "p-1", map[string]interface{}{"rooms": 5})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_AdvanceVocalKeepsProcessingError(t *testing.T) {
	matcher := pgxmock.QueryMatcherFunc(func(expectedSQL, actualSQL string) error {
		if strings.Contains(actualSQL, "processing_error") {
			return fmt.Errorf("advance rewrites processing_error: %s", actualSQL)
		}
		return pgxmock.QueryMatcherRegexp.Match(expectedSQL, actualSQL)
	})
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(matcher))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	repo := NewPostgresRepository(mock)

	mock.ExpectExec("UPDATE vocals SET").
		WithArgs("org", "v-1", "UPLOADED", "TRANSCRIBED", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	transcript := "visite"
	ok, err := repo.AdvanceVocal(context.Background(), "org", "v-1", VocalStatusUploaded,
		VocalUpdate{Status: VocalStatusTranscribed, Transcript: &transcript})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListStaleVocals(t *testing.T) {
	mock, repo := newMockRepo(t)
	before := time.Now().Add(-15 * time.Minute)

	mock.ExpectQuery("WHERE status = ANY\\(\\$1\\) AND updated_at < \\$2").
		WithArgs([]string{"UPLOADED", "TRANSCRIBED", "TYPE_CLASSIFIED"}, before, 3, 100).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	vocals, err := repo.ListStaleVocals(context.Background(), before, 3, 100)
	require.NoError(t, err)
	assert.Empty(t, vocals)
	assert.NoError(t, mock.ExpectationsWereMet())
}
