package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coop-portal-api/internal/models"
	appErrors "github.com/noah-isme/coop-portal-api/pkg/errors"
)

type mockStageCycleRepo struct {
	cycles map[string]models.CoopCycle
	rounds map[string][]models.Round
	err    error
}

func (m *mockStageCycleRepo) FindByID(ctx context.Context, id string) (*models.CoopCycle, error) {
	if m.err != nil {
		return nil, m.err
	}
	if cycle, ok := m.cycles[id]; ok {
		return &cycle, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStageCycleRepo) ListRounds(ctx context.Context, cycleID string) ([]models.Round, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.rounds[cycleID], nil
}

func day(n int) time.Time {
	return time.Date(2026, time.January, n, 0, 0, 0, 0, time.UTC)
}

func dayPtr(n int) *time.Time {
	d := day(n)
	return &d
}

func twoRoundCalendar() *mockStageCycleRepo {
	return &mockStageCycleRepo{
		cycles: map[string]models.CoopCycle{"cycle-1": {ID: "cycle-1", Name: "Fall/Winter", IsActive: true}},
		rounds: map[string][]models.Round{
			"cycle-1": {
				{
					ID: "round-1", CycleID: "cycle-1", Name: "Round 1", Sequence: 1,
					JobPostingsOpen:      day(1),
					InterviewRequestsDue: day(10),
					InterviewsGranted:    dayPtr(14),
					InterviewPeriodStart: dayPtr(15),
					InterviewPeriodEnd:   dayPtr(20),
					ViewRankings:         dayPtr(22),
					RankingsDue:          dayPtr(25),
					ResultsAvailable:     dayPtr(26),
				},
				{
					ID: "round-2", CycleID: "cycle-1", Name: "Round 2", Sequence: 2,
					JobPostingsOpen:      day(30),
					InterviewRequestsDue: day(40),
					InterviewsGranted:    dayPtr(42),
					InterviewPeriodEnd:   dayPtr(44),
					RankingsDue:          dayPtr(45),
					ResultsAvailable:     dayPtr(46),
				},
			},
		},
	}
}

func TestStageServiceResolveWalkthrough(t *testing.T) {
	svc := NewStageService(twoRoundCalendar(), nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		asOf  time.Time
		stage models.Stage
		round string
	}{
		{"postings open", day(5), models.StageJobPostingsAvailable, "round-1"},
		{"request deadline day", day(10), models.StageInterviewRequestsDue, "round-1"},
		{"grants visible", day(12), models.StageViewInterviewsGranted, "round-1"},
		{"interview period", day(18), models.StageInterviewPeriod, "round-1"},
		{"rankings visible", day(21), models.StageViewRankings, "round-1"},
		{"rankings deadline", day(25), models.StageRankingsDue, "round-1"},
		{"results before next round", day(27), models.StageResultsAvailable, "round-1"},
		{"next round overrides results", day(31), models.StageJobPostingsAvailable, "round-2"},
		{"all rounds finished", day(60), models.StageResultsAvailable, "round-2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolution, err := svc.Resolve(ctx, "cycle-1", tc.asOf)
			require.NoError(t, err)
			assert.Equal(t, tc.stage, resolution.Stage, "stage")
			require.NotNil(t, resolution.Round)
			assert.Equal(t, tc.round, resolution.Round.ID)
			assert.Equal(t, tc.stage.Number(), resolution.StageNumber)
		})
	}
}

func TestStageServiceResolveDayGranularity(t *testing.T) {
	svc := NewStageService(twoRoundCalendar(), nil)

	// Any instant on the deadline day still counts as the deadline stage.
	lateEvening := time.Date(2026, time.January, 10, 23, 59, 0, 0, time.UTC)
	resolution, err := svc.Resolve(context.Background(), "cycle-1", lateEvening)
	require.NoError(t, err)
	assert.Equal(t, models.StageInterviewRequestsDue, resolution.Stage)
}

func TestStageServiceResolveNoActiveRound(t *testing.T) {
	repo := twoRoundCalendar()
	for i := range repo.rounds["cycle-1"] {
		repo.rounds["cycle-1"][i].ResultsAvailable = nil
	}
	svc := NewStageService(repo, nil)

	resolution, err := svc.Resolve(context.Background(), "cycle-1", day(28))
	require.NoError(t, err)
	assert.Equal(t, models.StageNoActiveRound, resolution.Stage)
	assert.Nil(t, resolution.Round)

	resolution, err = svc.Resolve(context.Background(), "cycle-1", day(50))
	require.NoError(t, err)
	assert.Equal(t, models.StageNoActiveRound, resolution.Stage)
}

func TestStageServiceResolveBeforeFirstRound(t *testing.T) {
	svc := NewStageService(twoRoundCalendar(), nil)

	resolution, err := svc.Resolve(context.Background(), "cycle-1", day(1).AddDate(0, -1, 0))
	require.NoError(t, err)
	assert.Equal(t, models.StageNoActiveRound, resolution.Stage)
}

func TestStageServiceResolveStageMonotoneWithinRound(t *testing.T) {
	svc := NewStageService(twoRoundCalendar(), nil)

	previous := models.StageNoActiveRound
	for d := 1; d <= 27; d++ {
		resolution, err := svc.Resolve(context.Background(), "cycle-1", day(d))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, resolution.Stage.Number(), previous.Number(), "day %d", d)
		previous = resolution.Stage
	}
}

func TestStageServiceResolveMissingCalendar(t *testing.T) {
	repo := &mockStageCycleRepo{
		cycles: map[string]models.CoopCycle{"cycle-1": {ID: "cycle-1"}},
		rounds: map[string][]models.Round{},
	}
	svc := NewStageService(repo, nil)

	_, err := svc.Resolve(context.Background(), "cycle-1", day(5))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCalendarNotFound.Code, appErrors.FromError(err).Code)
}

func TestStageServiceResolveMalformedCalendar(t *testing.T) {
	repo := twoRoundCalendar()
	repo.rounds["cycle-1"][0].RankingsDue = dayPtr(19)
	svc := NewStageService(repo, nil)

	_, err := svc.Resolve(context.Background(), "cycle-1", day(5))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCalendarNotFound.Code, appErrors.FromError(err).Code)
}

func TestStageServiceResolveUnknownCycle(t *testing.T) {
	svc := NewStageService(twoRoundCalendar(), nil)

	_, err := svc.Resolve(context.Background(), "missing", day(5))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestStageServiceResolveSkipsOptionalBoundaries(t *testing.T) {
	repo := &mockStageCycleRepo{
		cycles: map[string]models.CoopCycle{"cycle-1": {ID: "cycle-1"}},
		rounds: map[string][]models.Round{
			"cycle-1": {{
				ID: "round-1", CycleID: "cycle-1", Name: "Round 1", Sequence: 1,
				JobPostingsOpen:      day(1),
				InterviewRequestsDue: day(10),
				RankingsDue:          dayPtr(20),
			}},
		},
	}
	svc := NewStageService(repo, nil)

	// Grant and period boundaries absent: rankings-due window follows the
	// request deadline directly.
	resolution, err := svc.Resolve(context.Background(), "cycle-1", day(15))
	require.NoError(t, err)
	assert.Equal(t, models.StageRankingsDue, resolution.Stage)
}
