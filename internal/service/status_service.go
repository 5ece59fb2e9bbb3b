package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/coop-portal-api/internal/models"
	appErrors "github.com/noah-isme/coop-portal-api/pkg/errors"
)

type applicationStatusRepository interface {
	FindByID(ctx context.Context, id string) (*models.Application, error)
	Counts(ctx context.Context, jobID string) (*models.JobCounts, error)
	UpdateStatusCAS(ctx context.Context, id string, from, to models.ApplicationStatus) error
	SubmitWithResume(ctx context.Context, id, resumeID string) error
	GrantInterviewCAS(ctx context.Context, id string, from models.ApplicationStatus) error
	RejectCAS(ctx context.Context, id string, from models.ApplicationStatus, latePenalty bool) error
	AssignNextRankCAS(ctx context.Context, jobID, id string, from models.ApplicationStatus) (int, error)
	CompactRanks(ctx context.Context, jobID string) error
	BulkMarkNotSelected(ctx context.Context, cycleID string, from []models.ApplicationStatus, requireNoInterview bool) (int64, error)
}

type statusJobRepository interface {
	FindByID(ctx context.Context, id string) (*models.JobListing, error)
	IncrementFilledCAS(ctx context.Context, id string) error
	DecrementFilled(ctx context.Context, id string) error
}

type auditRecorder interface {
	Record(ctx context.Context, userID *string, action, resource string, resourceID *string, oldValues, newValues interface{}) error
}

type stageResolver interface {
	Resolve(ctx context.Context, cycleID string, asOf time.Time) (*models.StageResolution, error)
}

// Actor identifies who is performing a transition.
type Actor struct {
	UserID string
	Role   models.Role
}

// TransitionRequest holds payload for a status transition.
type TransitionRequest struct {
	To                   models.ApplicationStatus `json:"to" validate:"required"`
	ResumeID             string                   `json:"resume_id,omitempty"`
	ReplaceApplicationID string                   `json:"replace_application_id,omitempty"`
	Confirm              bool                     `json:"confirm,omitempty"`
	// AsOf pins stage-dependent guards to an explicit instant. Empty
	// means now.
	AsOf *time.Time `json:"as_of,omitempty"`
}

// allowedTransitions is the closed transition table. Absence means the
// transition is illegal regardless of who asks.
var allowedTransitions = map[models.ApplicationStatus]map[models.ApplicationStatus]bool{
	models.StatusPending: {
		models.StatusSubmitted: true,
		models.StatusWithdrawn: true,
	},
	models.StatusSubmitted: {
		models.StatusInReview:    true,
		models.StatusRejected:    true,
		models.StatusWithdrawn:   true,
		models.StatusNotSelected: true,
	},
	models.StatusInReview: {
		models.StatusInterview:   true,
		models.StatusRejected:    true,
		models.StatusWithdrawn:   true,
		models.StatusNotSelected: true,
	},
	models.StatusInterview: {
		models.StatusOffer:       true,
		models.StatusRanked:      true,
		models.StatusRejected:    true,
		models.StatusWithdrawn:   true,
		models.StatusNotSelected: true,
	},
	models.StatusOffer: {
		models.StatusAccepted:          true,
		models.StatusRejectedByStudent: true,
		models.StatusNotSelected:       true,
	},
	models.StatusRanked: {
		models.StatusAccepted:    true,
		models.StatusWithdrawn:   true,
		models.StatusNotSelected: true,
	},
}

// transitionRoles lists who may drive an application into each target
// status. Admins pass every check.
var transitionRoles = map[models.ApplicationStatus][]models.Role{
	models.StatusSubmitted:         {models.RoleStudent},
	models.StatusInReview:          {models.RoleEmployer},
	models.StatusInterview:         {models.RoleEmployer},
	models.StatusOffer:             {models.RoleEmployer},
	models.StatusRanked:            {models.RoleEmployer},
	models.StatusRejected:          {models.RoleEmployer},
	models.StatusAccepted:          {models.RoleStudent},
	models.StatusRejectedByStudent: {models.RoleStudent},
	models.StatusWithdrawn:         {models.RoleStudent},
	models.StatusNotSelected:       {},
}

// StatusService drives the application lifecycle. All capacity-sensitive
// transitions serialise on a per-job mutex and every persisted step is a
// compare-and-set keyed on the status it was decided from; a stale read
// retries from fresh state a bounded number of times.
type StatusService struct {
	apps          applicationStatusRepository
	jobs          statusJobRepository
	audits        auditRecorder
	stages        stageResolver
	ranking       *RankingValidator
	metrics       *MetricsService
	locks         *keyedMutex
	retryAttempts int
	validator     *validator.Validate
	logger        *zap.Logger
	now           func() time.Time
}

// NewStatusService constructs the status service.
func NewStatusService(apps applicationStatusRepository, jobs statusJobRepository, audits auditRecorder, stages stageResolver, ranking *RankingValidator, metrics *MetricsService, retryAttempts int, validate *validator.Validate, logger *zap.Logger) *StatusService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if ranking == nil {
		ranking = NewRankingValidator(0)
	}
	if retryAttempts < 1 {
		retryAttempts = 3
	}
	return &StatusService{
		apps:          apps,
		jobs:          jobs,
		audits:        audits,
		stages:        stages,
		ranking:       ranking,
		metrics:       metrics,
		locks:         newKeyedMutex(),
		retryAttempts: retryAttempts,
		validator:     validate,
		logger:        logger,
		now:           time.Now,
	}
}

// Transition applies one status transition on behalf of an actor.
func (s *StatusService) Transition(ctx context.Context, actor Actor, applicationID string, req TransitionRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition request")
	}
	if !req.To.IsKnown() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", req.To))
	}

	var lastErr error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		application, err := s.attempt(ctx, actor, applicationID, req)
		if err == nil {
			return application, nil
		}
		if !appErrors.IsConflict(err) {
			s.metrics.RecordTransition("", string(req.To), "denied")
			return nil, err
		}
		lastErr = err
		s.logger.Debug("transition raced, retrying",
			zap.String("application_id", applicationID),
			zap.String("to", string(req.To)),
			zap.Int("attempt", attempt+1))
	}
	s.metrics.RecordTransition("", string(req.To), "conflict")
	return nil, lastErr
}

func (s *StatusService) attempt(ctx context.Context, actor Actor, applicationID string, req TransitionRequest) (*models.Application, error) {
	application, err := s.loadApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	from := application.Status

	if from.IsTerminal() {
		return nil, appErrors.Clone(appErrors.ErrFinalized, fmt.Sprintf("application is %s and cannot change", from))
	}
	if !allowedTransitions[from][req.To] {
		return nil, appErrors.Clone(appErrors.ErrIllegalTransition, fmt.Sprintf("cannot move %s to %s", from, req.To))
	}

	job, err := s.loadJob(ctx, application.JobID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(actor, application, job, req.To); err != nil {
		return nil, err
	}

	if err := s.execute(ctx, actor, application, job, req); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrConflict, "application changed concurrently")
		}
		return nil, err
	}

	updated, err := s.loadApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, actor, models.AuditActionTransition, application, from, updated.Status)
	s.metrics.RecordTransition(string(from), string(updated.Status), "applied")
	return updated, nil
}

func (s *StatusService) execute(ctx context.Context, actor Actor, application *models.Application, job *models.JobListing, req TransitionRequest) error {
	from := application.Status

	switch req.To {
	case models.StatusSubmitted:
		if req.ResumeID == "" {
			return appErrors.Clone(appErrors.ErrValidation, "exactly one resume must accompany submission")
		}
		return s.apps.SubmitWithResume(ctx, application.ID, req.ResumeID)

	case models.StatusInReview:
		return s.apps.UpdateStatusCAS(ctx, application.ID, from, req.To)

	case models.StatusInterview:
		return s.apps.GrantInterviewCAS(ctx, application.ID, from)

	case models.StatusOffer:
		return s.extendOffer(ctx, actor, application, job, req)

	case models.StatusRanked:
		return s.rankCandidate(ctx, application, job)

	case models.StatusAccepted:
		return s.acceptOffer(ctx, application, job)

	case models.StatusRejected:
		return s.rejectByEmployer(ctx, application, job, req)

	case models.StatusRejectedByStudent:
		return s.apps.UpdateStatusCAS(ctx, application.ID, from, req.To)

	case models.StatusWithdrawn:
		return s.withdraw(ctx, application, job)

	case models.StatusNotSelected:
		return s.apps.UpdateStatusCAS(ctx, application.ID, from, req.To)
	}
	return appErrors.Clone(appErrors.ErrIllegalTransition, fmt.Sprintf("cannot move %s to %s", from, req.To))
}

// extendOffer consumes a seat when one is free. On a full job the employer
// may name an outstanding offer to replace; revoking it and granting the
// new one happen under the same job lock.
func (s *StatusService) extendOffer(ctx context.Context, actor Actor, application *models.Application, job *models.JobListing, req TransitionRequest) error {
	unlock := s.locks.Lock(job.ID)
	defer unlock()

	counts, err := s.apps.Counts(ctx, job.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load job tallies")
	}
	decision := s.ranking.DecideOffer(*counts)
	if decision.Allowed {
		return s.apps.UpdateStatusCAS(ctx, application.ID, application.Status, models.StatusOffer)
	}

	if req.ReplaceApplicationID == "" || !hasOption(decision, OptionReplaceOffer) {
		return appErrors.Clone(appErrors.ErrNoOpenPositions, decisionMessage(decision))
	}

	replaced, err := s.loadApplication(ctx, req.ReplaceApplicationID)
	if err != nil {
		return err
	}
	if replaced.JobID != job.ID || replaced.Status != models.StatusOffer {
		return appErrors.Clone(appErrors.ErrValidation, "replacement target is not an outstanding offer on this job")
	}
	if err := s.apps.UpdateStatusCAS(ctx, replaced.ID, models.StatusOffer, models.StatusNotSelected); err != nil {
		return err
	}
	if err := s.apps.UpdateStatusCAS(ctx, application.ID, application.Status, models.StatusOffer); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, models.AuditActionOfferReplace, replaced, models.StatusOffer, models.StatusNotSelected)
	return nil
}

func (s *StatusService) rankCandidate(ctx context.Context, application *models.Application, job *models.JobListing) error {
	unlock := s.locks.Lock(job.ID)
	defer unlock()

	counts, err := s.apps.Counts(ctx, job.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load job tallies")
	}
	decision := s.ranking.DecideRank(*counts)
	if !decision.Allowed {
		if counts.RemainingCapacity() > 0 {
			return appErrors.Clone(appErrors.ErrPositionsUnfilled, "")
		}
		return appErrors.Clone(appErrors.ErrRankLimitReached, "")
	}
	_, err = s.apps.AssignNextRankCAS(ctx, job.ID, application.ID, application.Status)
	return err
}

func (s *StatusService) acceptOffer(ctx context.Context, application *models.Application, job *models.JobListing) error {
	unlock := s.locks.Lock(job.ID)
	defer unlock()

	if err := s.jobs.IncrementFilledCAS(ctx, job.ID); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNoOpenPositions, "")
		}
		return err
	}
	if err := s.apps.UpdateStatusCAS(ctx, application.ID, application.Status, models.StatusAccepted); err != nil {
		if rollbackErr := s.jobs.DecrementFilled(ctx, job.ID); rollbackErr != nil {
			s.logger.Error("failed to release seat after accept race",
				zap.String("job_id", job.ID), zap.Error(rollbackErr))
		}
		return err
	}
	return nil
}

// rejectByEmployer requires explicit confirmation. Once interview results
// are visible a rejection is late and flagged for review.
func (s *StatusService) rejectByEmployer(ctx context.Context, application *models.Application, job *models.JobListing, req TransitionRequest) error {
	if !req.Confirm {
		return appErrors.Clone(appErrors.ErrValidation, "rejection requires explicit confirmation")
	}
	asOf := s.now()
	if req.AsOf != nil {
		asOf = *req.AsOf
	}
	latePenalty := false
	resolution, err := s.stages.Resolve(ctx, job.CycleID, asOf)
	if err == nil && resolution.Stage >= models.StageViewInterviewsGranted {
		latePenalty = true
	}
	return s.apps.RejectCAS(ctx, application.ID, application.Status, latePenalty)
}

func (s *StatusService) withdraw(ctx context.Context, application *models.Application, job *models.JobListing) error {
	wasRanked := application.Status == models.StatusRanked
	if wasRanked {
		unlock := s.locks.Lock(job.ID)
		defer unlock()
	}
	if err := s.apps.UpdateStatusCAS(ctx, application.ID, application.Status, models.StatusWithdrawn); err != nil {
		return err
	}
	if wasRanked {
		if err := s.apps.CompactRanks(ctx, job.ID); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to renumber alternates")
		}
	}
	return nil
}

// JobStatus returns a listing together with its live fill tallies.
func (s *StatusService) JobStatus(ctx context.Context, jobID string) (*models.JobFillStatus, error) {
	job, err := s.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	counts, err := s.jobCounts(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &models.JobFillStatus{
		Job:               *job,
		Counts:            *counts,
		RemainingCapacity: counts.RemainingCapacity(),
	}, nil
}

// OfferDecision previews the capacity rules for an offer on a job.
func (s *StatusService) OfferDecision(ctx context.Context, jobID string) (*RankingDecision, error) {
	counts, err := s.jobCounts(ctx, jobID)
	if err != nil {
		return nil, err
	}
	decision := s.ranking.DecideOffer(*counts)
	return &decision, nil
}

// RankDecision previews the capacity rules for ranking an alternate.
func (s *StatusService) RankDecision(ctx context.Context, jobID string) (*RankingDecision, error) {
	counts, err := s.jobCounts(ctx, jobID)
	if err != nil {
		return nil, err
	}
	decision := s.ranking.DecideRank(*counts)
	return &decision, nil
}

// ApplyStageTransitions performs the automatic bulk transitions owed when a
// cycle reaches a stage. Interview period start drops candidates without a
// grant; results availability closes out anything matching left unresolved.
func (s *StatusService) ApplyStageTransitions(ctx context.Context, cycleID string, stage models.Stage) (int64, error) {
	var (
		affected int64
		err      error
	)
	switch stage {
	case models.StageInterviewPeriod:
		affected, err = s.apps.BulkMarkNotSelected(ctx, cycleID,
			[]models.ApplicationStatus{models.StatusSubmitted, models.StatusInReview}, true)
	case models.StageResultsAvailable:
		affected, err = s.apps.BulkMarkNotSelected(ctx, cycleID,
			[]models.ApplicationStatus{models.StatusOffer, models.StatusRanked}, false)
	default:
		return 0, nil
	}
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply stage transitions")
	}
	if affected > 0 {
		if auditErr := s.audits.Record(ctx, nil, models.AuditActionAutoTransition, "cycle", &cycleID,
			nil, map[string]interface{}{"stage": stage.String(), "affected": affected}); auditErr != nil {
			s.logger.Warn("failed to record auto-transition audit", zap.Error(auditErr))
		}
	}
	return affected, nil
}

func (s *StatusService) authorize(actor Actor, application *models.Application, job *models.JobListing, to models.ApplicationStatus) error {
	if actor.Role == models.RoleAdmin {
		return nil
	}
	roles, ok := transitionRoles[to]
	if !ok {
		return appErrors.Clone(appErrors.ErrForbidden, "")
	}
	for _, role := range roles {
		if actor.Role != role {
			continue
		}
		switch role {
		case models.RoleStudent:
			if application.StudentID != actor.UserID {
				return appErrors.Clone(appErrors.ErrForbidden, "students may only act on their own applications")
			}
		case models.RoleEmployer:
			if job.EmployerID != actor.UserID {
				return appErrors.Clone(appErrors.ErrForbidden, "employers may only act on their own job listings")
			}
		}
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "")
}

func (s *StatusService) loadApplication(ctx context.Context, id string) (*models.Application, error) {
	application, err := s.apps.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return application, nil
}

func (s *StatusService) loadJob(ctx context.Context, id string) (*models.JobListing, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "job listing not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load job listing")
	}
	return job, nil
}

func (s *StatusService) jobCounts(ctx context.Context, jobID string) (*models.JobCounts, error) {
	counts, err := s.apps.Counts(ctx, jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "job listing not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load job tallies")
	}
	return counts, nil
}

func (s *StatusService) recordAudit(ctx context.Context, actor Actor, action string, application *models.Application, from, to models.ApplicationStatus) {
	var userID *string
	if actor.UserID != "" {
		userID = &actor.UserID
	}
	if err := s.audits.Record(ctx, userID, action, "application", &application.ID,
		map[string]interface{}{"status": from},
		map[string]interface{}{"status": to}); err != nil {
		s.logger.Warn("failed to record transition audit",
			zap.String("application_id", application.ID), zap.Error(err))
	}
}

func hasOption(decision RankingDecision, option string) bool {
	for _, o := range decision.Options {
		if o == option {
			return true
		}
	}
	return false
}

func decisionMessage(decision RankingDecision) string {
	if len(decision.Options) == 0 {
		return decision.Reason
	}
	return fmt.Sprintf("%s; available actions: %v", decision.Reason, decision.Options)
}
