package service

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/coop-portal-api/internal/models"
	appErrors "github.com/noah-isme/coop-portal-api/pkg/errors"
	"github.com/noah-isme/coop-portal-api/pkg/export"
	"github.com/noah-isme/coop-portal-api/pkg/jobs"
	"github.com/noah-isme/coop-portal-api/pkg/storage"
)

type reportRepository interface {
	Create(ctx context.Context, report *models.PlacementReport) error
	FindByID(ctx context.Context, id string) (*models.PlacementReport, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, filePath string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

type placementSummarizer interface {
	PlacementSummary(ctx context.Context, cycleID string) ([]models.JobPlacementSummary, error)
}

// ExportService renders a cycle's final placements into downloadable CSV
// or PDF reports. Generation runs on a background queue; callers poll the
// report record and collect a signed download URL once it completes.
type ExportService struct {
	reports reportRepository
	jobs    placementSummarizer
	queue   *jobs.Queue
	store   *storage.LocalStorage
	signer  *storage.SignedURLSigner
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	logger  *zap.Logger
}

// NewExportService constructs the export service. Call Start before
// requesting reports.
func NewExportService(reports reportRepository, summaries placementSummarizer, store *storage.LocalStorage, signer *storage.SignedURLSigner, cfg jobs.QueueConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ExportService{
		reports: reports,
		jobs:    summaries,
		store:   store,
		signer:  signer,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		logger:  logger,
	}
	cfg.Logger = logger
	s.queue = jobs.NewQueue("placement-reports", s.process, cfg)
	return s
}

// Start launches the report workers.
func (s *ExportService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the report workers.
func (s *ExportService) Stop() {
	s.queue.Stop()
}

// Request queues generation of a placement report and returns the queued
// record immediately.
func (s *ExportService) Request(ctx context.Context, cycleID, requestedBy string, format models.ReportFormat) (*models.PlacementReport, error) {
	switch format {
	case models.ReportFormatCSV, models.ReportFormatPDF:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported report format %q", format))
	}

	report := &models.PlacementReport{
		ID:          uuid.NewString(),
		CycleID:     cycleID,
		Format:      format,
		Status:      models.ReportStatusQueued,
		RequestedBy: requestedBy,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.reports.Create(ctx, report); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue report")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: report.ID, Type: "placement-report", Payload: report.ID}); err != nil {
		if markErr := s.reports.MarkFailed(ctx, report.ID, "worker queue unavailable"); markErr != nil {
			s.logger.Error("failed to mark report failed", zap.String("report_id", report.ID), zap.Error(markErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue report")
	}
	return report, nil
}

// Get returns a report record, attaching a signed download URL when the
// export has completed.
func (s *ExportService) Get(ctx context.Context, id string) (*models.PlacementReport, string, error) {
	report, err := s.reports.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "report not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report")
	}
	if report.Status != models.ReportStatusCompleted || report.FilePath == nil {
		return report, "", nil
	}
	token, _, err := s.signer.Generate(report.ID, *report.FilePath)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}
	return report, token, nil
}

// OpenDownload validates a signed token and opens the underlying file.
func (s *ExportService) OpenDownload(token string) (string, *models.PlacementReport, error) {
	reportID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	report, err := s.reports.FindByID(context.Background(), reportID)
	if err != nil {
		return "", nil, appErrors.Clone(appErrors.ErrNotFound, "report not found")
	}
	return s.store.Path(relPath), report, nil
}

// process renders one queued report.
func (s *ExportService) process(ctx context.Context, queued jobs.Job) error {
	reportID, ok := queued.Payload.(string)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", queued.Payload)
	}
	report, err := s.reports.FindByID(ctx, reportID)
	if err != nil {
		return fmt.Errorf("load report %s: %w", reportID, err)
	}
	if err := s.reports.MarkProcessing(ctx, reportID); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("mark report processing: %w", err)
	}

	data, err := s.dataset(ctx, report.CycleID)
	if err != nil {
		s.fail(ctx, reportID, err)
		return err
	}

	data.Title = fmt.Sprintf("Placement Results %s", report.CycleID)
	data.GeneratedAt = time.Now().UTC()

	var rendered []byte
	ext := "csv"
	switch report.Format {
	case models.ReportFormatPDF:
		rendered, err = s.pdf.Render(*data)
		ext = "pdf"
	default:
		rendered, err = s.csv.Render(*data)
	}
	if err != nil {
		s.fail(ctx, reportID, err)
		return err
	}

	filename := fmt.Sprintf("placements/%s-%s.%s", report.CycleID, report.ID, ext)
	relPath, err := s.store.Save(filename, rendered)
	if err != nil {
		s.fail(ctx, reportID, err)
		return err
	}
	if err := s.reports.MarkCompleted(ctx, reportID, relPath); err != nil {
		return fmt.Errorf("mark report completed: %w", err)
	}
	s.logger.Info("placement report rendered",
		zap.String("report_id", reportID),
		zap.String("cycle_id", report.CycleID),
		zap.String("file", relPath))
	return nil
}

func (s *ExportService) dataset(ctx context.Context, cycleID string) (*export.Dataset, error) {
	summaries, err := s.jobs.PlacementSummary(ctx, cycleID)
	if err != nil {
		return nil, fmt.Errorf("load placement summary: %w", err)
	}
	data := &export.Dataset{
		Columns: []string{"Job", "Capacity", "Accepted", "Not Selected", "Withdrawn"},
	}
	var capacity, accepted, notSelected, withdrawn int
	for _, summary := range summaries {
		data.Rows = append(data.Rows, []string{
			summary.Title,
			strconv.Itoa(summary.Capacity),
			strconv.Itoa(summary.Accepted),
			strconv.Itoa(summary.NotSelected),
			strconv.Itoa(summary.Withdrawn),
		})
		capacity += summary.Capacity
		accepted += summary.Accepted
		notSelected += summary.NotSelected
		withdrawn += summary.Withdrawn
	}
	data.Totals = []string{
		"Total",
		strconv.Itoa(capacity),
		strconv.Itoa(accepted),
		strconv.Itoa(notSelected),
		strconv.Itoa(withdrawn),
	}
	return data, nil
}

func (s *ExportService) fail(ctx context.Context, reportID string, cause error) {
	reason := cause.Error()
	if len(reason) > 500 {
		reason = strings.TrimSpace(reason[:500])
	}
	if err := s.reports.MarkFailed(ctx, reportID, reason); err != nil {
		s.logger.Error("failed to mark report failed", zap.String("report_id", reportID), zap.Error(err))
	}
}
