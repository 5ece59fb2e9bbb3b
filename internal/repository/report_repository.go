package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coop-portal-api/internal/models"
)

// ReportRepository persists placement report export records.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a queued report record.
func (r *ReportRepository) Create(ctx context.Context, report *models.PlacementReport) error {
	const query = `INSERT INTO placement_reports (id, cycle_id, format, status, requested_by, requested_at)
        VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := r.db.ExecContext(ctx, query,
		report.ID, report.CycleID, report.Format, report.Status,
		report.RequestedBy, report.RequestedAt); err != nil {
		return fmt.Errorf("insert placement report: %w", err)
	}
	return nil
}

// FindByID returns a report record by its ID.
func (r *ReportRepository) FindByID(ctx context.Context, id string) (*models.PlacementReport, error) {
	const query = `SELECT id, cycle_id, format, status, file_path, error, requested_by, requested_at, completed_at
        FROM placement_reports WHERE id = $1`
	var report models.PlacementReport
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		return nil, err
	}
	return &report, nil
}

// MarkProcessing flips a queued report to processing.
func (r *ReportRepository) MarkProcessing(ctx context.Context, id string) error {
	const query = `UPDATE placement_reports SET status = $2 WHERE id = $1 AND status = $3`
	res, err := r.db.ExecContext(ctx, query, id, models.ReportStatusProcessing, models.ReportStatusQueued)
	if err != nil {
		return fmt.Errorf("mark report processing: %w", err)
	}
	return requireRow(res)
}

// MarkCompleted records a finished export and its file location.
func (r *ReportRepository) MarkCompleted(ctx context.Context, id, filePath string) error {
	const query = `UPDATE placement_reports SET status = $2, file_path = $3, completed_at = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, models.ReportStatusCompleted, filePath, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark report completed: %w", err)
	}
	return requireRow(res)
}

// MarkFailed records an export failure.
func (r *ReportRepository) MarkFailed(ctx context.Context, id, reason string) error {
	const query = `UPDATE placement_reports SET status = $2, error = $3, completed_at = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, models.ReportStatusFailed, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark report failed: %w", err)
	}
	return requireRow(res)
}

// DeleteOlderThan removes completed report records past the retention window.
func (r *ReportRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM placement_reports WHERE completed_at IS NOT NULL AND completed_at < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old reports: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old reports rows: %w", err)
	}
	return affected, nil
}
