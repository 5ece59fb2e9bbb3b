package service

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coop-portal-api/internal/models"
)

type mockMatchApps struct {
	apps      []models.Application
	finalized []models.FinalStatusUpdate
}

func (m *mockMatchApps) ListResolvable(ctx context.Context, cycleID string) ([]models.Application, error) {
	return m.apps, nil
}

func (m *mockMatchApps) FinalizeTx(ctx context.Context, tx *sqlx.Tx, updates []models.FinalStatusUpdate, finalizedAt time.Time) error {
	m.finalized = append(m.finalized, updates...)
	return nil
}

type mockMatchJobs struct {
	jobs      []models.JobListing
	filled    map[string]int
	summaries []models.JobPlacementSummary
}

func (m *mockMatchJobs) ListByCycle(ctx context.Context, cycleID string) ([]models.JobListing, error) {
	return m.jobs, nil
}

func (m *mockMatchJobs) SetFilledTx(ctx context.Context, tx *sqlx.Tx, id string, filled int) error {
	if m.filled == nil {
		m.filled = make(map[string]int)
	}
	m.filled[id] = filled
	return nil
}

func (m *mockMatchJobs) PlacementSummary(ctx context.Context, cycleID string) ([]models.JobPlacementSummary, error) {
	return m.summaries, nil
}

func intPtr(v int) *int { return &v }

func newMatchingFixture(t *testing.T, apps []models.Application, jobs []models.JobListing, expectTx bool) (*MatchingService, *mockMatchApps, *mockMatchJobs, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	if expectTx {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
	appRepo := &mockMatchApps{apps: apps}
	jobRepo := &mockMatchJobs{jobs: jobs}
	svc := NewMatchingService(sqlx.NewDb(db, "sqlmock"), appRepo, jobRepo, &mockAudit{}, nil, 8, nil)
	return svc, appRepo, jobRepo, mock, func() { db.Close() }
}

func findUpdate(updates []models.FinalStatusUpdate, id string) (models.FinalStatusUpdate, bool) {
	for _, u := range updates {
		if u.ApplicationID == id {
			return u, true
		}
	}
	return models.FinalStatusUpdate{}, false
}

func TestMatchingResolveStudentTakesPreferredOffer(t *testing.T) {
	jobs := []models.JobListing{
		{ID: "job-a", CycleID: "cycle-1", OpenPositions: 1},
		{ID: "job-b", CycleID: "cycle-1", OpenPositions: 1},
	}
	apps := []models.Application{
		{ID: "s1-a", StudentID: "s1", JobID: "job-a", Status: models.StatusOffer, StudentRankPosition: intPtr(2)},
		{ID: "s1-b", StudentID: "s1", JobID: "job-b", Status: models.StatusOffer, StudentRankPosition: intPtr(1)},
		{ID: "s3-a", StudentID: "s3", JobID: "job-a", Status: models.StatusRanked, CumulativeScore: 4},
	}
	svc, appRepo, jobRepo, mock, cleanup := newMatchingFixture(t, apps, jobs, true)
	defer cleanup()

	summary, err := svc.Resolve(context.Background(), "cycle-1")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Placements)
	assert.Equal(t, 1, summary.NotSelected)
	assert.True(t, summary.Converged)

	update, ok := findUpdate(appRepo.finalized, "s1-b")
	require.True(t, ok)
	assert.Equal(t, models.StatusAccepted, update.To)

	update, ok = findUpdate(appRepo.finalized, "s1-a")
	require.True(t, ok)
	assert.Equal(t, models.StatusRejectedByStudent, update.To)

	// The declined seat on job-a goes to the ranked alternate.
	update, ok = findUpdate(appRepo.finalized, "s3-a")
	require.True(t, ok)
	assert.Equal(t, models.StatusAccepted, update.To)

	assert.Equal(t, 1, jobRepo.filled["job-a"])
	assert.Equal(t, 1, jobRepo.filled["job-b"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchingResolveDeclinesOfferForHigherRankedJob(t *testing.T) {
	jobs := []models.JobListing{
		{ID: "job-a", CycleID: "cycle-1", OpenPositions: 1},
		{ID: "job-b", CycleID: "cycle-1", OpenPositions: 1},
	}
	apps := []models.Application{
		{ID: "s1-a", StudentID: "s1", JobID: "job-a", Status: models.StatusOffer, StudentRankPosition: intPtr(2)},
		{ID: "s1-b", StudentID: "s1", JobID: "job-b", Status: models.StatusRanked, StudentRankPosition: intPtr(1), CumulativeScore: 3},
	}
	svc, appRepo, _, _, cleanup := newMatchingFixture(t, apps, jobs, true)
	defer cleanup()

	summary, err := svc.Resolve(context.Background(), "cycle-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Placements)

	// Declining the held offer is the student's call, not the employer's.
	update, ok := findUpdate(appRepo.finalized, "s1-a")
	require.True(t, ok)
	assert.Equal(t, models.StatusRejectedByStudent, update.To)

	update, ok = findUpdate(appRepo.finalized, "s1-b")
	require.True(t, ok)
	assert.Equal(t, models.StatusAccepted, update.To)
}

func TestMatchingResolveOfferKeptWithoutStudentRanking(t *testing.T) {
	jobs := []models.JobListing{{ID: "job-a", CycleID: "cycle-1", OpenPositions: 1}}
	apps := []models.Application{
		{ID: "s1-a", StudentID: "s1", JobID: "job-a", Status: models.StatusOffer},
	}
	svc, appRepo, _, _, cleanup := newMatchingFixture(t, apps, jobs, true)
	defer cleanup()

	summary, err := svc.Resolve(context.Background(), "cycle-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Placements)

	update, ok := findUpdate(appRepo.finalized, "s1-a")
	require.True(t, ok)
	assert.Equal(t, models.StatusAccepted, update.To)
}

func TestMatchingResolveBumpCascade(t *testing.T) {
	jobs := []models.JobListing{
		{ID: "job-a", CycleID: "cycle-1", OpenPositions: 1},
		{ID: "job-b", CycleID: "cycle-1", OpenPositions: 1},
	}
	apps := []models.Application{
		{ID: "s1-a", StudentID: "s1", JobID: "job-a", Status: models.StatusRanked, CumulativeScore: 5, EmployerRankPosition: intPtr(1)},
		{ID: "s1-b", StudentID: "s1", JobID: "job-b", Status: models.StatusRanked, CumulativeScore: 3, EmployerRankPosition: intPtr(1)},
		{ID: "s2-b", StudentID: "s2", JobID: "job-b", Status: models.StatusRanked, CumulativeScore: 4, EmployerRankPosition: intPtr(2)},
	}
	svc, appRepo, _, _, cleanup := newMatchingFixture(t, apps, jobs, true)
	defer cleanup()

	summary, err := svc.Resolve(context.Background(), "cycle-1")
	require.NoError(t, err)
	assert.True(t, summary.Converged)
	assert.GreaterOrEqual(t, summary.Passes, 2, "bump must requeue the freed job")

	// s1 ends on the better-scoring job-b; s2 stays out because s1 holds
	// the only seat on job-b and job-a no longer holds s1.
	update, ok := findUpdate(appRepo.finalized, "s1-b")
	require.True(t, ok)
	assert.Equal(t, models.StatusAccepted, update.To)
	update, ok = findUpdate(appRepo.finalized, "s1-a")
	require.True(t, ok)
	assert.Equal(t, models.StatusNotSelected, update.To)
	update, ok = findUpdate(appRepo.finalized, "s2-b")
	require.True(t, ok)
	assert.Equal(t, models.StatusNotSelected, update.To)
}

func TestMatchingResolveRespectsExistingPlacements(t *testing.T) {
	jobs := []models.JobListing{{ID: "job-a", CycleID: "cycle-1", OpenPositions: 1, Filled: 1}}
	apps := []models.Application{
		{ID: "s1-a", StudentID: "s1", JobID: "job-a", Status: models.StatusAccepted},
		{ID: "s2-a", StudentID: "s2", JobID: "job-a", Status: models.StatusRanked, CumulativeScore: 1},
	}
	svc, appRepo, _, _, cleanup := newMatchingFixture(t, apps, jobs, true)
	defer cleanup()

	summary, err := svc.Resolve(context.Background(), "cycle-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Placements)

	_, touched := findUpdate(appRepo.finalized, "s1-a")
	assert.False(t, touched, "accepted placements stay untouched")
	update, ok := findUpdate(appRepo.finalized, "s2-a")
	require.True(t, ok)
	assert.Equal(t, models.StatusNotSelected, update.To)
}

func TestMatchingResolveNothingToDo(t *testing.T) {
	jobs := []models.JobListing{{ID: "job-a", CycleID: "cycle-1", OpenPositions: 0}}
	svc, appRepo, jobRepo, mock, cleanup := newMatchingFixture(t, nil, jobs, false)
	defer cleanup()

	summary, err := svc.Resolve(context.Background(), "cycle-1")
	require.NoError(t, err)
	assert.Zero(t, summary.Placements)
	assert.Empty(t, appRepo.finalized)
	assert.Empty(t, jobRepo.filled)
	assert.NoError(t, mock.ExpectationsWereMet())
}
