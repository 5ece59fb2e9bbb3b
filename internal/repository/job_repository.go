package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coop-portal-api/internal/models"
)

// JobRepository handles persistence of job listings.
type JobRepository struct {
	db *sqlx.DB
}

// NewJobRepository constructs the repository.
func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// FindByID returns a job listing by its ID.
func (r *JobRepository) FindByID(ctx context.Context, id string) (*models.JobListing, error) {
	const query = `SELECT id, cycle_id, employer_id, title, open_positions, filled, created_at, updated_at
        FROM job_listings WHERE id = $1`
	var job models.JobListing
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListByCycle returns every job listing posted for a cycle.
func (r *JobRepository) ListByCycle(ctx context.Context, cycleID string) ([]models.JobListing, error) {
	const query = `SELECT id, cycle_id, employer_id, title, open_positions, filled, created_at, updated_at
        FROM job_listings WHERE cycle_id = $1 ORDER BY title`
	var jobs []models.JobListing
	if err := r.db.SelectContext(ctx, &jobs, query, cycleID); err != nil {
		return nil, fmt.Errorf("list cycle jobs: %w", err)
	}
	return jobs, nil
}

// IncrementFilledCAS claims one position on a job. The guard keeps the
// filled count from ever passing open_positions; sql.ErrNoRows signals a
// full job.
func (r *JobRepository) IncrementFilledCAS(ctx context.Context, id string) error {
	const query = `UPDATE job_listings SET filled = filled + 1, updated_at = $2
        WHERE id = $1 AND filled < open_positions`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("claim job position: %w", err)
	}
	return requireRow(res)
}

// DecrementFilled releases one previously claimed position.
func (r *JobRepository) DecrementFilled(ctx context.Context, id string) error {
	const query = `UPDATE job_listings SET filled = filled - 1, updated_at = $2
        WHERE id = $1 AND filled > 0`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("release job position: %w", err)
	}
	return requireRow(res)
}

// SetFilledTx writes a job's final filled count inside the caller's
// transaction at the end of a matching run.
func (r *JobRepository) SetFilledTx(ctx context.Context, tx *sqlx.Tx, id string, filled int) error {
	const query = `UPDATE job_listings SET filled = $2, updated_at = $3
        WHERE id = $1 AND $2 <= open_positions`
	res, err := tx.ExecContext(ctx, query, id, filled, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set job filled count: %w", err)
	}
	return requireRow(res)
}

// PlacementSummary aggregates per-job placement outcomes for reporting.
func (r *JobRepository) PlacementSummary(ctx context.Context, cycleID string) ([]models.JobPlacementSummary, error) {
	const query = `SELECT j.id AS job_id, j.title, j.open_positions AS capacity,
        COUNT(a.id) FILTER (WHERE a.status = 'ACCEPTED') AS accepted,
        COUNT(a.id) FILTER (WHERE a.status = 'NOT_SELECTED') AS not_selected,
        COUNT(a.id) FILTER (WHERE a.status IN ('WITHDRAWN', 'REJECTED_BY_STUDENT')) AS withdrawn
        FROM job_listings j
        LEFT JOIN applications a ON a.job_id = j.id
        WHERE j.cycle_id = $1
        GROUP BY j.id, j.title, j.open_positions
        ORDER BY j.title`
	var summaries []models.JobPlacementSummary
	if err := r.db.SelectContext(ctx, &summaries, query, cycleID); err != nil {
		return nil, fmt.Errorf("job placement summary: %w", err)
	}
	return summaries, nil
}
