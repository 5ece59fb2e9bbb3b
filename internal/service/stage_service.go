package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/coop-portal-api/internal/models"
	appErrors "github.com/noah-isme/coop-portal-api/pkg/errors"
)

type stageCycleRepository interface {
	FindByID(ctx context.Context, id string) (*models.CoopCycle, error)
	ListRounds(ctx context.Context, cycleID string) ([]models.Round, error)
}

// StageService resolves which calendar stage a cycle is in at a given
// instant. Resolution works at calendar-day granularity: a boundary set to
// any time on a day takes effect for that whole day.
type StageService struct {
	cycles stageCycleRepository
	logger *zap.Logger
}

// NewStageService constructs the stage service.
func NewStageService(cycles stageCycleRepository, logger *zap.Logger) *StageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StageService{cycles: cycles, logger: logger}
}

// Resolve walks the cycle's rounds in sequence order and returns the active
// stage at asOf. Rounds whose postings have not yet opened are skipped.
// Within a started round the earliest window containing asOf wins; a round
// already at results only counts as a fallback, so a later round that is
// mid-flight takes precedence over an earlier finished one.
func (s *StageService) Resolve(ctx context.Context, cycleID string, asOf time.Time) (*models.StageResolution, error) {
	cycle, err := s.cycles.FindByID(ctx, cycleID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "cycle not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cycle")
	}

	rounds, err := s.cycles.ListRounds(ctx, cycleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rounds")
	}
	if len(rounds) == 0 {
		return nil, appErrors.Clone(appErrors.ErrCalendarNotFound, "")
	}
	for i := range rounds {
		if err := validateRound(&rounds[i]); err != nil {
			s.logger.Warn("malformed round calendar",
				zap.String("cycle_id", cycleID),
				zap.String("round_id", rounds[i].ID),
				zap.Error(err))
			return nil, appErrors.Clone(appErrors.ErrCalendarNotFound, err.Error())
		}
	}

	day := truncateDay(asOf)
	var fallback *models.StageResolution

	for i := range rounds {
		round := &rounds[i]
		if day.Before(truncateDay(round.JobPostingsOpen)) {
			continue
		}
		if stage, ok := activeStage(round, day); ok {
			return s.resolution(cycle, round, stage), nil
		}
		if round.ResultsAvailable != nil {
			fallback = s.resolution(cycle, round, models.StageResultsAvailable)
		}
	}

	if fallback != nil {
		return fallback, nil
	}
	return &models.StageResolution{
		CycleID:     cycle.ID,
		Stage:       models.StageNoActiveRound,
		StageName:   models.StageNoActiveRound.String(),
		StageNumber: models.StageNoActiveRound.Number(),
		Message:     "no hiring round is currently active",
	}, nil
}

// activeStage checks a started round's windows earliest-first. Results
// availability is handled by the caller as a fallback.
func activeStage(round *models.Round, day time.Time) (models.Stage, bool) {
	due := truncateDay(round.InterviewRequestsDue)
	if day.Before(due) {
		return models.StageJobPostingsAvailable, true
	}
	if day.Equal(due) {
		return models.StageInterviewRequestsDue, true
	}
	if round.InterviewsGranted != nil && !day.After(truncateDay(*round.InterviewsGranted)) {
		return models.StageViewInterviewsGranted, true
	}
	if round.InterviewPeriodEnd != nil && !day.After(truncateDay(*round.InterviewPeriodEnd)) {
		return models.StageInterviewPeriod, true
	}
	if round.ViewRankings != nil && !day.After(truncateDay(*round.ViewRankings)) {
		return models.StageViewRankings, true
	}
	if round.RankingsDue != nil && !day.After(truncateDay(*round.RankingsDue)) {
		return models.StageRankingsDue, true
	}
	return models.StageNoActiveRound, false
}

func (s *StageService) resolution(cycle *models.CoopCycle, round *models.Round, stage models.Stage) *models.StageResolution {
	return &models.StageResolution{
		CycleID:     cycle.ID,
		Round:       round,
		Stage:       stage,
		StageName:   stage.String(),
		StageNumber: stage.Number(),
		Message:     fmt.Sprintf("%s (%s)", stage.String(), round.Name),
	}
}

// validateRound rejects calendars whose configured boundaries run backwards.
func validateRound(round *models.Round) error {
	boundaries := round.Boundaries()
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i].Before(boundaries[i-1]) {
			return fmt.Errorf("round %s boundaries out of order", round.Name)
		}
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
