package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobsignal/archetype-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgres_SupersedeEvidenceLinks(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE arch\.evidence_links SET superseded_by_run`).
		WithArgs("run-2", "arch-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	err := s.SupersedeEvidenceLinks(context.Background(), "arch-1", "run-2")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_InsertEvidenceLinks_CountsOnlyNewRows(t *testing.T) {
	s, mock := newMockStore(t)

	links := []model.EvidenceLink{
		{
			ArchetypeID:   "arch-1",
			EvidenceType:  model.EvidencePayroll,
			EvidenceID:    "payroll_csv:d1",
			Weight:        0.9,
			ContributedTo: []model.Contribution{model.ContributedExistence},
			RunID:         "run-1",
		},
		{
			ArchetypeID:   "arch-1",
			EvidenceType:  model.EvidencePayroll,
			EvidenceID:    "payroll_csv:d2",
			Weight:        0.9,
			ContributedTo: []model.Contribution{model.ContributedExistence},
			RunID:         "run-1",
		},
	}

	mock.ExpectExec(`INSERT INTO arch\.evidence_links`).
		WithArgs("arch-1", "payroll", "payroll_csv:d1", 0.9, pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// Second link already exists: ON CONFLICT DO NOTHING reports zero rows.
	mock.ExpectExec(`INSERT INTO arch\.evidence_links`).
		WithArgs("arch-1", "payroll", "payroll_csv:d2", 0.9, pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	n, err := s.InsertEvidenceLinks(context.Background(), links)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ResolveReviewItem_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE arch\.review_items SET status`).
		WithArgs("accepted", int64(42)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.ResolveReviewItem(context.Background(), 42, model.ReviewAccepted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LastSuccessfulRun_NoRuns(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT completed_at FROM arch\.run_log`).
		WithArgs("success").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.LastSuccessfulRun(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LastSuccessfulRun(t *testing.T) {
	s, mock := newMockStore(t)
	completed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT completed_at FROM arch\.run_log`).
		WithArgs("success").
		WillReturnRows(pgxmock.NewRows([]string{"completed_at"}).AddRow(completed))

	got, err := s.LastSuccessfulRun(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(completed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetArchetype_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM arch\.archetypes WHERE id`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetArchetype(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CompleteRun_Ghost(t *testing.T) {
	s, mock := newMockStore(t)

	done := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	summary := &model.RunSummary{
		RunID:       "ghost",
		Status:      model.RunFailed,
		CompletedAt: &done,
	}

	mock.ExpectExec(`UPDATE arch\.run_log SET status`).
		WithArgs("failed", pgxmock.AnyArg(), &done, "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), summary)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}
