package repository

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJobMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestJobRepositoryIncrementFilledCAS(t *testing.T) {
	db, mock, cleanup := newJobMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	mock.ExpectExec("UPDATE job_listings SET filled = filled \\+ 1").
		WithArgs("job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.IncrementFilledCAS(context.Background(), "job-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryIncrementFilledCASFull(t *testing.T) {
	db, mock, cleanup := newJobMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	mock.ExpectExec("UPDATE job_listings SET filled = filled \\+ 1").
		WithArgs("job-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.IncrementFilledCAS(context.Background(), "job-1")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepositoryPlacementSummary(t *testing.T) {
	db, mock, cleanup := newJobMock(t)
	defer cleanup()
	repo := NewJobRepository(db)

	rows := sqlmock.NewRows([]string{"job_id", "title", "capacity", "accepted", "not_selected", "withdrawn"}).
		AddRow("job-1", "Backend Co-op", 2, 2, 5, 1).
		AddRow("job-2", "QA Co-op", 1, 0, 3, 0)
	mock.ExpectQuery("SELECT j.id AS job_id").
		WithArgs("cycle-1").
		WillReturnRows(rows)

	summaries, err := repo.PlacementSummary(context.Background(), "cycle-1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "Backend Co-op", summaries[0].Title)
	assert.Equal(t, 2, summaries[0].Accepted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
