package service

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/noah-isme/coop-portal-api/internal/models"
	appErrors "github.com/noah-isme/coop-portal-api/pkg/errors"
)

type cycleReadRepository interface {
	FindByID(ctx context.Context, id string) (*models.CoopCycle, error)
	ListActive(ctx context.Context) ([]models.CoopCycle, error)
	ListRounds(ctx context.Context, cycleID string) ([]models.Round, error)
}

// CycleService serves cycle and round calendar reads.
type CycleService struct {
	cycles cycleReadRepository
	logger *zap.Logger
}

// NewCycleService constructs the cycle service.
func NewCycleService(cycles cycleReadRepository, logger *zap.Logger) *CycleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CycleService{cycles: cycles, logger: logger}
}

// ListActive returns cycles currently open for hiring.
func (s *CycleService) ListActive(ctx context.Context) ([]models.CoopCycle, error) {
	cycles, err := s.cycles.ListActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list cycles")
	}
	return cycles, nil
}

// Get returns one cycle.
func (s *CycleService) Get(ctx context.Context, id string) (*models.CoopCycle, error) {
	cycle, err := s.cycles.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "cycle not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cycle")
	}
	return cycle, nil
}

// Rounds returns a cycle's round calendar in sequence order.
func (s *CycleService) Rounds(ctx context.Context, cycleID string) ([]models.Round, error) {
	if _, err := s.Get(ctx, cycleID); err != nil {
		return nil, err
	}
	rounds, err := s.cycles.ListRounds(ctx, cycleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rounds")
	}
	if len(rounds) == 0 {
		return nil, appErrors.Clone(appErrors.ErrCalendarNotFound, "")
	}
	return rounds, nil
}
