package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coop-portal-api/internal/models"
)

// CycleRepository handles persistence for co-op cycles and their rounds.
type CycleRepository struct {
	db    *sqlx.DB
	cache *RoundCache
}

// NewCycleRepository instantiates a cycle repository. cache may be nil.
func NewCycleRepository(db *sqlx.DB, cache *RoundCache) *CycleRepository {
	return &CycleRepository{db: db, cache: cache}
}

// FindByID loads a cycle by identifier.
func (r *CycleRepository) FindByID(ctx context.Context, id string) (*models.CoopCycle, error) {
	const query = `SELECT id, name, is_active, created_at, updated_at FROM coop_cycles WHERE id = $1`
	var cycle models.CoopCycle
	if err := r.db.GetContext(ctx, &cycle, query, id); err != nil {
		return nil, err
	}
	return &cycle, nil
}

// ListActive returns every cycle currently flagged active.
func (r *CycleRepository) ListActive(ctx context.Context) ([]models.CoopCycle, error) {
	const query = `SELECT id, name, is_active, created_at, updated_at FROM coop_cycles WHERE is_active = TRUE ORDER BY name`
	var cycles []models.CoopCycle
	if err := r.db.SelectContext(ctx, &cycles, query); err != nil {
		return nil, fmt.Errorf("list active cycles: %w", err)
	}
	return cycles, nil
}

// ListRounds returns the cycle's rounds in calendar order. Reads through
// the redis cache when configured.
func (r *CycleRepository) ListRounds(ctx context.Context, cycleID string) ([]models.Round, error) {
	if r.cache != nil {
		if rounds, ok := r.cache.GetRounds(ctx, cycleID); ok {
			return rounds, nil
		}
	}

	const query = `SELECT id, cycle_id, name, sequence, job_postings_open, interview_requests_due,
        interviews_granted, interview_period_start, interview_period_end,
        view_rankings, rankings_due, results_available
        FROM rounds WHERE cycle_id = $1 ORDER BY sequence ASC`
	var rounds []models.Round
	if err := r.db.SelectContext(ctx, &rounds, query, cycleID); err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}

	if r.cache != nil && len(rounds) > 0 {
		r.cache.SetRounds(ctx, cycleID, rounds)
	}
	return rounds, nil
}

// UpdateRound rewrites a round's boundaries and drops the cached calendar.
func (r *CycleRepository) UpdateRound(ctx context.Context, round *models.Round) error {
	const query = `UPDATE rounds SET name = :name, sequence = :sequence,
        job_postings_open = :job_postings_open, interview_requests_due = :interview_requests_due,
        interviews_granted = :interviews_granted, interview_period_start = :interview_period_start,
        interview_period_end = :interview_period_end, view_rankings = :view_rankings,
        rankings_due = :rankings_due, results_available = :results_available
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, round); err != nil {
		return fmt.Errorf("update round: %w", err)
	}
	if r.cache != nil {
		r.cache.Invalidate(ctx, round.CycleID)
	}
	return nil
}
