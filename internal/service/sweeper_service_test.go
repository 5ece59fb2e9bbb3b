package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/coop-portal-api/internal/models"
	appErrors "github.com/noah-isme/coop-portal-api/pkg/errors"
)

type mockSweeperCycles struct {
	cycles []models.CoopCycle
	err    error
}

func (m *mockSweeperCycles) ListActive(ctx context.Context) ([]models.CoopCycle, error) {
	return m.cycles, m.err
}

type mockSweeperResolver struct {
	stages map[string]models.Stage
	errs   map[string]error
}

func (m *mockSweeperResolver) Resolve(ctx context.Context, cycleID string, asOf time.Time) (*models.StageResolution, error) {
	if err := m.errs[cycleID]; err != nil {
		return nil, err
	}
	stage := m.stages[cycleID]
	return &models.StageResolution{
		CycleID:     cycleID,
		Stage:       stage,
		StageName:   stage.String(),
		StageNumber: stage.Number(),
	}, nil
}

type mockStageTransitioner struct {
	journal *[]string
	applied map[string]models.Stage
	err     error
}

func (m *mockStageTransitioner) ApplyStageTransitions(ctx context.Context, cycleID string, stage models.Stage) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	if m.journal != nil {
		*m.journal = append(*m.journal, "apply:"+cycleID)
	}
	if m.applied == nil {
		m.applied = make(map[string]models.Stage)
	}
	m.applied[cycleID] = stage
	return 1, nil
}

type mockCycleMatcher struct {
	journal *[]string
	errs    map[string]error
	runs    []string
}

func (m *mockCycleMatcher) Resolve(ctx context.Context, cycleID string) (*models.MatchingSummary, error) {
	if err := m.errs[cycleID]; err != nil {
		return nil, err
	}
	if m.journal != nil {
		*m.journal = append(*m.journal, "match:"+cycleID)
	}
	m.runs = append(m.runs, cycleID)
	return &models.MatchingSummary{CycleID: cycleID, Converged: true}, nil
}

func TestSweepAppliesTransitionsPerCycle(t *testing.T) {
	cycles := &mockSweeperCycles{cycles: []models.CoopCycle{{ID: "cycle-1"}, {ID: "cycle-2"}}}
	resolver := &mockSweeperResolver{stages: map[string]models.Stage{
		"cycle-1": models.StageInterviewPeriod,
		"cycle-2": models.StageRankingsDue,
	}}
	machine := &mockStageTransitioner{}
	matcher := &mockCycleMatcher{}

	sweeper := NewSweeperService(cycles, resolver, machine, matcher, "@every 15m", nil)
	sweeper.Sweep(context.Background())

	require.Len(t, machine.applied, 2)
	assert.Equal(t, models.StageInterviewPeriod, machine.applied["cycle-1"])
	assert.Equal(t, models.StageRankingsDue, machine.applied["cycle-2"])
	assert.Empty(t, matcher.runs, "matching only runs at the results boundary")
}

func TestSweepRunsMatchingBeforeResultsCleanup(t *testing.T) {
	var journal []string
	cycles := &mockSweeperCycles{cycles: []models.CoopCycle{{ID: "cycle-1"}}}
	resolver := &mockSweeperResolver{stages: map[string]models.Stage{
		"cycle-1": models.StageResultsAvailable,
	}}
	machine := &mockStageTransitioner{journal: &journal}
	matcher := &mockCycleMatcher{journal: &journal}

	sweeper := NewSweeperService(cycles, resolver, machine, matcher, "", nil)
	sweeper.Sweep(context.Background())

	// Outstanding offers must be placed before the bulk mark runs.
	assert.Equal(t, []string{"match:cycle-1", "apply:cycle-1"}, journal)
	assert.Equal(t, models.StageResultsAvailable, machine.applied["cycle-1"])
}

func TestSweepSkipsCleanupWhenMatchingFails(t *testing.T) {
	cycles := &mockSweeperCycles{cycles: []models.CoopCycle{{ID: "cycle-1"}}}
	resolver := &mockSweeperResolver{stages: map[string]models.Stage{
		"cycle-1": models.StageResultsAvailable,
	}}
	machine := &mockStageTransitioner{}
	matcher := &mockCycleMatcher{errs: map[string]error{
		"cycle-1": appErrors.Clone(appErrors.ErrConflict, "applications changed during matching, run again"),
	}}

	sweeper := NewSweeperService(cycles, resolver, machine, matcher, "", nil)
	sweeper.Sweep(context.Background())

	assert.Empty(t, machine.applied, "a failed matching run must not wipe unresolved offers")
}

func TestSweepCleansUpCycleWithoutJobs(t *testing.T) {
	cycles := &mockSweeperCycles{cycles: []models.CoopCycle{{ID: "cycle-1"}}}
	resolver := &mockSweeperResolver{stages: map[string]models.Stage{
		"cycle-1": models.StageResultsAvailable,
	}}
	machine := &mockStageTransitioner{}
	matcher := &mockCycleMatcher{errs: map[string]error{
		"cycle-1": appErrors.Clone(appErrors.ErrNotFound, "cycle has no job listings"),
	}}

	sweeper := NewSweeperService(cycles, resolver, machine, matcher, "", nil)
	sweeper.Sweep(context.Background())

	assert.Equal(t, models.StageResultsAvailable, machine.applied["cycle-1"])
}

func TestSweepSkipsUnresolvableCycle(t *testing.T) {
	cycles := &mockSweeperCycles{cycles: []models.CoopCycle{{ID: "broken"}, {ID: "cycle-2"}}}
	resolver := &mockSweeperResolver{
		stages: map[string]models.Stage{"cycle-2": models.StageRankingsDue},
		errs:   map[string]error{"broken": appErrors.Clone(appErrors.ErrCalendarNotFound, "")},
	}
	machine := &mockStageTransitioner{}

	sweeper := NewSweeperService(cycles, resolver, machine, &mockCycleMatcher{}, "", nil)
	sweeper.Sweep(context.Background())

	require.Len(t, machine.applied, 1)
	assert.Equal(t, models.StageRankingsDue, machine.applied["cycle-2"])
}

func TestSweepStopsAfterListError(t *testing.T) {
	cycles := &mockSweeperCycles{err: errors.New("db down")}
	machine := &mockStageTransitioner{}

	sweeper := NewSweeperService(cycles, &mockSweeperResolver{}, machine, &mockCycleMatcher{}, "", nil)
	sweeper.Sweep(context.Background())

	assert.Empty(t, machine.applied)
}

func TestSweepHonoursCancelledContext(t *testing.T) {
	cycles := &mockSweeperCycles{cycles: []models.CoopCycle{{ID: "cycle-1"}}}
	machine := &mockStageTransitioner{}
	sweeper := NewSweeperService(cycles, &mockSweeperResolver{}, machine, &mockCycleMatcher{}, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sweeper.Sweep(ctx)

	assert.Empty(t, machine.applied)
}
