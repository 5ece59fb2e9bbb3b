package models

import "time"

// ReportStatus captures the async export workflow states.
type ReportStatus string

const (
	ReportStatusQueued     ReportStatus = "QUEUED"
	ReportStatusProcessing ReportStatus = "PROCESSING"
	ReportStatusCompleted  ReportStatus = "COMPLETED"
	ReportStatusFailed     ReportStatus = "FAILED"
)

// ReportFormat enumerates supported export formats.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "CSV"
	ReportFormatPDF ReportFormat = "PDF"
)

// PlacementReport is an asynchronous export of a cycle's final placements.
type PlacementReport struct {
	ID          string       `db:"id" json:"id"`
	CycleID     string       `db:"cycle_id" json:"cycle_id"`
	Format      ReportFormat `db:"format" json:"format"`
	Status      ReportStatus `db:"status" json:"status"`
	FilePath    *string      `db:"file_path" json:"file_path,omitempty"`
	Error       *string      `db:"error" json:"error,omitempty"`
	RequestedBy string       `db:"requested_by" json:"requested_by"`
	RequestedAt time.Time    `db:"requested_at" json:"requested_at"`
	CompletedAt *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
}
