package service

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/noah-isme/coop-portal-api/internal/models"
	appErrors "github.com/noah-isme/coop-portal-api/pkg/errors"
)

type applicationReadRepository interface {
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error)
	FindDetailByID(ctx context.Context, id string) (*models.ApplicationDetail, error)
}

type auditReader interface {
	ListByResource(ctx context.Context, resource, resourceID string, limit int) ([]models.AuditLog, error)
}

// ApplicationService serves the read side of applications.
type ApplicationService struct {
	apps   applicationReadRepository
	audits auditReader
	logger *zap.Logger
}

// NewApplicationService constructs the application read service.
func NewApplicationService(apps applicationReadRepository, audits auditReader, logger *zap.Logger) *ApplicationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplicationService{apps: apps, audits: audits, logger: logger}
}

// List returns applications and pagination metadata. Students only ever
// see their own; the handler pins the filter before calling.
func (s *ApplicationService) List(ctx context.Context, actor Actor, filter models.ApplicationFilter) ([]models.ApplicationDetail, *models.Pagination, error) {
	if actor.Role == models.RoleStudent {
		filter.StudentID = actor.UserID
	}
	applications, total, err := s.apps.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return applications, pagination, nil
}

// Get returns one application with its job context.
func (s *ApplicationService) Get(ctx context.Context, actor Actor, id string) (*models.ApplicationDetail, error) {
	application, err := s.apps.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if actor.Role == models.RoleStudent && application.StudentID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own applications")
	}
	if actor.Role == models.RoleEmployer && application.EmployerID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "employers may only view applications to their own listings")
	}
	return application, nil
}

// History returns the newest audit entries for an application.
func (s *ApplicationService) History(ctx context.Context, id string, limit int) ([]models.AuditLog, error) {
	logs, err := s.audits.ListByResource(ctx, "application", id, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application history")
	}
	return logs, nil
}
