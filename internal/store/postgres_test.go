package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/modelgen/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \$1`).
		WithArgs("nonexistent-job").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetJob(context.Background(), "nonexistent-job")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetModel_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT needs_review, payload FROM models WHERE id = \$1`).
		WithArgs("nonexistent-model").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetModel(context.Background(), "nonexistent-model")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs(pgxmock.AnyArg(), "some research text", "doc://brief-7", "B3",
			"pending", 0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	job, err := s.CreateJob(context.Background(), model.Job{
		InputText:         "some research text",
		SourceURI:         "doc://brief-7",
		ArchetypeOverride: "B3",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status = \$4`).
		WithArgs("classifying", pgxmock.AnyArg(), "job-1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.TransitionJob(context.Background(), "job-1", model.JobStatusPending, model.JobStatusClassifying)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionJob_Stale(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status = \$4`).
		WithArgs("classifying", pgxmock.AnyArg(), "job-1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("generating"))

	err := s.TransitionJob(context.Background(), "job-1", model.JobStatusPending, model.JobStatusClassifying)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStale))
	assert.Contains(t, err.Error(), "generating")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_TransitionJob_Missing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status = \$4`).
		WithArgs("classifying", pgxmock.AnyArg(), "job-x", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM jobs WHERE id = \$1`).
		WithArgs("job-x").
		WillReturnError(pgx.ErrNoRows)

	err := s.TransitionJob(context.Background(), "job-x", model.JobStatusPending, model.JobStatusClassifying)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteJob_RequiresGenerating(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1, retry_count = \$2, token_usage = \$3, updated_at = \$4`).
		WithArgs("completed", 1, pgxmock.AnyArg(), pgxmock.AnyArg(), "job-1", "generating").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT status FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("completed"))

	err := s.CompleteJob(context.Background(), "job-1", 1, model.TokenUsage{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStale))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailJob_RecordsErrorDetail(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1, last_error = \$2, error_class = \$3`).
		WithArgs("failed", "anthropic: create message: auth error (401)", "transport/auth", 0,
			pgxmock.AnyArg(), pgxmock.AnyArg(), "job-1", "classifying").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.FailJob(context.Background(), "job-1", model.JobStatusClassifying, FailureRecord{
		LastError:  "anthropic: create message: auth error (401)",
		ErrorClass: model.ErrorClassTransportAuth,
		RetryCount: 0,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordExtraction_New(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`INSERT INTO extractions`).
		WithArgs(pgxmock.AnyArg(), "doc://brief-7", "abc123", "modelgen", "unverified",
			pgxmock.AnyArg(), 0.8, 0.8, false, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("ignored"))

	e, deduped, err := s.RecordExtraction(context.Background(), model.Extraction{
		SourceURI:         "doc://brief-7",
		ContentHash:       "abc123",
		AgentID:           "modelgen",
		InitialConfidence: 0.8,
		FinalConfidence:   0.8,
	})
	require.NoError(t, err)
	assert.False(t, deduped)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, model.VerificationUnverified, e.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LinkModel_Idempotent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO model_links`).
		WithArgs("ext-1", "model-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO model_links`).
		WithArgs("ext-1", "model-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, s.LinkModel(context.Background(), "ext-1", "model-1"))
	require.NoError(t, s.LinkModel(context.Background(), "ext-1", "model-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LinkDashboard_Idempotent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO dashboard_links`).
		WithArgs("model-1", "dash-9", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, s.LinkDashboard(context.Background(), "model-1", "dash-9"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FlagExtraction_CascadesInTx(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE extractions SET status = \$1, issues = \$2`).
		WithArgs("flagged", pgxmock.AnyArg(), pgxmock.AnyArg(), "ext-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE models SET needs_review = true`).
		WithArgs("ext-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	err := s.FlagExtraction(context.Background(), "ext-1", []string{"figure contradicts source"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
