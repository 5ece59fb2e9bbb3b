package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/coop-portal-api/internal/models"
	appErrors "github.com/noah-isme/coop-portal-api/pkg/errors"
)

type sweeperCycleRepository interface {
	ListActive(ctx context.Context) ([]models.CoopCycle, error)
}

type stageTransitioner interface {
	ApplyStageTransitions(ctx context.Context, cycleID string, stage models.Stage) (int64, error)
}

type cycleMatcher interface {
	Resolve(ctx context.Context, cycleID string) (*models.MatchingSummary, error)
}

// SweeperService periodically resolves every active cycle's stage and
// applies the automatic transitions that stage owes. At the results
// boundary it runs the matching engine first, so outstanding offers and
// alternates are placed before the cleanup marks the rest not selected.
// Manual resolution endpoints stay authoritative; the sweeper only catches
// cycles nobody is looking at when a boundary passes.
type SweeperService struct {
	cron     *cron.Cron
	cycles   sweeperCycleRepository
	stages   stageResolver
	machine  stageTransitioner
	matching cycleMatcher
	spec     string
	logger   *zap.Logger
	now      func() time.Time
}

// NewSweeperService constructs the sweeper with a cron spec such as
// "@every 15m".
func NewSweeperService(cycles sweeperCycleRepository, stages stageResolver, machine stageTransitioner, matching cycleMatcher, spec string, logger *zap.Logger) *SweeperService {
	if spec == "" {
		spec = "@every 15m"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweeperService{
		cron:     cron.New(),
		cycles:   cycles,
		stages:   stages,
		machine:  machine,
		matching: matching,
		spec:     spec,
		logger:   logger,
		now:      time.Now,
	}
}

// Start registers the sweep and starts the scheduler. One sweep runs
// immediately so a restart never leaves a passed boundary unapplied until
// the next tick.
func (s *SweeperService) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.Sweep(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("stage sweeper started", zap.String("spec", s.spec))
	go s.Sweep(ctx)
	return nil
}

// Stop shuts the scheduler down and waits for a running sweep to finish.
func (s *SweeperService) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("stage sweeper stopped")
}

// Sweep applies stage transitions across all active cycles once.
func (s *SweeperService) Sweep(ctx context.Context) {
	cycles, err := s.cycles.ListActive(ctx)
	if err != nil {
		s.logger.Error("sweep failed to list active cycles", zap.Error(err))
		return
	}
	for _, cycle := range cycles {
		if ctx.Err() != nil {
			return
		}
		resolution, err := s.stages.Resolve(ctx, cycle.ID, s.now())
		if err != nil {
			s.logger.Warn("sweep could not resolve stage",
				zap.String("cycle_id", cycle.ID), zap.Error(err))
			continue
		}
		if resolution.Stage == models.StageResultsAvailable {
			if !s.runMatching(ctx, cycle.ID) {
				continue
			}
		}
		affected, err := s.machine.ApplyStageTransitions(ctx, cycle.ID, resolution.Stage)
		if err != nil {
			s.logger.Error("sweep failed to apply stage transitions",
				zap.String("cycle_id", cycle.ID),
				zap.String("stage", resolution.StageName),
				zap.Error(err))
			continue
		}
		if affected > 0 {
			s.logger.Info("sweep applied stage transitions",
				zap.String("cycle_id", cycle.ID),
				zap.String("stage", resolution.StageName),
				zap.Int64("affected", affected))
		}
	}
}

// runMatching resolves placements for a cycle that has reached results.
// Reports whether the follow-up cleanup may run: a failed matching run
// must not be followed by the bulk mark, or unresolved offers would be
// destroyed before the engine ever sees them. A cycle without job
// listings has nothing to resolve and falls through to the cleanup.
func (s *SweeperService) runMatching(ctx context.Context, cycleID string) bool {
	summary, err := s.matching.Resolve(ctx, cycleID)
	if err != nil {
		if appErrors.FromError(err).Code == appErrors.ErrNotFound.Code {
			return true
		}
		s.logger.Error("sweep matching run failed, leaving cycle untouched",
			zap.String("cycle_id", cycleID), zap.Error(err))
		return false
	}
	s.logger.Info("sweep resolved placements",
		zap.String("cycle_id", cycleID),
		zap.Int("placements", summary.Placements),
		zap.Bool("converged", summary.Converged))
	return true
}
