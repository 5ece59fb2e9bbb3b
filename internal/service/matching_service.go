package service

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/coop-portal-api/internal/models"
	appErrors "github.com/noah-isme/coop-portal-api/pkg/errors"
)

type matchingApplicationRepository interface {
	ListResolvable(ctx context.Context, cycleID string) ([]models.Application, error)
	FinalizeTx(ctx context.Context, tx *sqlx.Tx, updates []models.FinalStatusUpdate, finalizedAt time.Time) error
}

type matchingJobRepository interface {
	ListByCycle(ctx context.Context, cycleID string) ([]models.JobListing, error)
	SetFilledTx(ctx context.Context, tx *sqlx.Tx, id string, filled int) error
	PlacementSummary(ctx context.Context, cycleID string) ([]models.JobPlacementSummary, error)
}

// MatchingService resolves a cycle's outstanding offers and ranked
// alternates into final placements. The whole resolution runs in memory
// over a snapshot and persists in a single transaction, so a failed run
// leaves nothing half-written.
type MatchingService struct {
	db        *sqlx.DB
	apps      matchingApplicationRepository
	jobs      matchingJobRepository
	audits    auditRecorder
	metrics   *MetricsService
	maxPasses int
	logger    *zap.Logger
	locks     *keyedMutex
	now       func() time.Time
}

// NewMatchingService constructs the matching service.
func NewMatchingService(db *sqlx.DB, apps matchingApplicationRepository, jobs matchingJobRepository, audits auditRecorder, metrics *MetricsService, maxPasses int, logger *zap.Logger) *MatchingService {
	if maxPasses < 1 {
		maxPasses = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchingService{
		db:        db,
		apps:      apps,
		jobs:      jobs,
		audits:    audits,
		metrics:   metrics,
		maxPasses: maxPasses,
		logger:    logger,
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// candidate is one application inside the matching arena.
type candidate struct {
	app      *models.Application
	assigned bool
	declined bool
}

// jobArena holds one job's snapshot state during resolution.
type jobArena struct {
	job      *models.JobListing
	accepted int
	offers   []*candidate
	ranked   []*candidate
}

func (a *jobArena) capacityLeft() int {
	taken := a.accepted
	for _, offer := range a.offers {
		if offer.assigned {
			taken++
		}
	}
	for _, alt := range a.ranked {
		if alt.assigned {
			taken++
		}
	}
	return a.job.OpenPositions - taken
}

// Resolve runs the matching engine over one cycle.
func (s *MatchingService) Resolve(ctx context.Context, cycleID string) (*models.MatchingSummary, error) {
	unlock := s.locks.Lock(cycleID)
	defer unlock()

	jobs, err := s.jobs.ListByCycle(ctx, cycleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cycle jobs")
	}
	if len(jobs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "cycle has no job listings")
	}
	applications, err := s.apps.ListResolvable(ctx, cycleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load resolvable applications")
	}

	arenas, byStudent := buildArena(jobs, applications)

	resolveOffers(byStudent)
	passes, converged := s.assignAlternates(ctx, arenas, byStudent)

	updates, placements, notSelected := collectUpdates(arenas)
	if err := s.persist(ctx, arenas, updates); err != nil {
		return nil, err
	}

	summary := &models.MatchingSummary{
		CycleID:     cycleID,
		Placements:  placements,
		NotSelected: notSelected,
		Passes:      passes,
		Converged:   converged,
		ResolvedAt:  s.now().UTC(),
	}
	s.metrics.RecordMatchingRun(passes, placements)
	if err := s.audits.Record(ctx, nil, models.AuditActionMatchingResolve, "cycle", &cycleID, nil, summary); err != nil {
		s.logger.Warn("failed to record matching audit", zap.String("cycle_id", cycleID), zap.Error(err))
	}
	s.logger.Info("matching run complete",
		zap.String("cycle_id", cycleID),
		zap.Int("placements", placements),
		zap.Int("passes", passes),
		zap.Bool("converged", converged))
	return summary, nil
}

// buildArena snapshots jobs and applications into per-job arenas plus a
// per-student index. Ranked queues are sorted best-first: lowest cumulative
// score, then employer rank, then student rank.
func buildArena(jobs []models.JobListing, applications []models.Application) (map[string]*jobArena, map[string][]*candidate) {
	arenas := make(map[string]*jobArena, len(jobs))
	for i := range jobs {
		arenas[jobs[i].ID] = &jobArena{job: &jobs[i]}
	}
	byStudent := make(map[string][]*candidate)
	for i := range applications {
		app := &applications[i]
		arena, ok := arenas[app.JobID]
		if !ok {
			continue
		}
		c := &candidate{app: app}
		switch app.Status {
		case models.StatusAccepted:
			arena.accepted++
			c.assigned = true
		case models.StatusOffer:
			arena.offers = append(arena.offers, c)
		case models.StatusRanked:
			arena.ranked = append(arena.ranked, c)
		}
		byStudent[app.StudentID] = append(byStudent[app.StudentID], c)
	}
	for _, arena := range arenas {
		ranked := arena.ranked
		sort.SliceStable(ranked, func(i, j int) bool {
			a, b := ranked[i].app, ranked[j].app
			if a.CumulativeScore != b.CumulativeScore {
				return a.CumulativeScore < b.CumulativeScore
			}
			if ra, rb := rankOrInf(a.EmployerRankPosition), rankOrInf(b.EmployerRankPosition); ra != rb {
				return ra < rb
			}
			return rankOrInf(a.StudentRankPosition) < rankOrInf(b.StudentRankPosition)
		})
	}
	return arenas, byStudent
}

// resolveOffers settles each student's outstanding offers. A student with
// several offers takes the one they ranked highest; a student holding one
// offer declines it only when they ranked some other job strictly higher.
// A student who never ranked keeps their offer.
func resolveOffers(byStudent map[string][]*candidate) {
	for _, candidates := range byStudent {
		var offers []*candidate
		alreadyPlaced := false
		for _, c := range candidates {
			switch c.app.Status {
			case models.StatusOffer:
				offers = append(offers, c)
			case models.StatusAccepted:
				alreadyPlaced = true
			}
		}
		if len(offers) == 0 {
			continue
		}
		if alreadyPlaced {
			for _, offer := range offers {
				offer.declined = true
			}
			continue
		}

		best := offers[0]
		for _, offer := range offers[1:] {
			if rankOrInf(offer.app.StudentRankPosition) < rankOrInf(best.app.StudentRankPosition) {
				best = offer
			}
		}
		for _, offer := range offers {
			if offer != best {
				offer.declined = true
			}
		}

		bestRank := rankOrInf(best.app.StudentRankPosition)
		for _, c := range candidates {
			if c == best || c.app.Status != models.StatusRanked {
				continue
			}
			if rankOrInf(c.app.StudentRankPosition) < bestRank {
				best.declined = true
				break
			}
		}
		if !best.declined {
			best.assigned = true
		}
	}
}

// assignAlternates walks jobs with free seats and promotes ranked
// candidates best-first. Promoting a student who already holds a worse
// assignment bumps that assignment and requeues its job; requeued jobs are
// processed in the next wave, bounded by maxPasses.
func (s *MatchingService) assignAlternates(ctx context.Context, arenas map[string]*jobArena, byStudent map[string][]*candidate) (int, bool) {
	queue := make([]string, 0, len(arenas))
	for id := range arenas {
		queue = append(queue, id)
	}
	sort.Strings(queue)

	passes := 0
	for len(queue) > 0 {
		if passes >= s.maxPasses {
			s.logger.Warn("matching did not converge, keeping last consistent state",
				zap.Int("passes", passes), zap.Int("pending_jobs", len(queue)))
			return passes, false
		}
		passes++

		var requeue []string
		for _, jobID := range queue {
			if err := ctx.Err(); err != nil {
				return passes, false
			}
			arena := arenas[jobID]
			bumped := s.fillJob(arena, byStudent)
			requeue = append(requeue, bumped...)
		}
		sort.Strings(requeue)
		queue = dedupe(requeue)
	}
	return passes, true
}

// fillJob assigns ranked candidates to one job's free seats and returns
// the ids of jobs whose seats were freed by bumps.
func (s *MatchingService) fillJob(arena *jobArena, byStudent map[string][]*candidate) []string {
	var freed []string
	for _, c := range arena.ranked {
		if arena.capacityLeft() <= 0 {
			break
		}
		if c.assigned || c.declined {
			continue
		}
		current := currentAssignment(byStudent[c.app.StudentID])
		if current == nil {
			c.assigned = true
			continue
		}
		// A student holds at most one placement. Move them only when
		// this job scores them strictly better than the one they hold.
		if current.app.Status == models.StatusAccepted {
			continue
		}
		if c.app.CumulativeScore < current.app.CumulativeScore {
			current.assigned = false
			c.assigned = true
			if current.app.JobID != arena.job.ID {
				freed = append(freed, current.app.JobID)
			}
		}
	}
	return freed
}

func currentAssignment(candidates []*candidate) *candidate {
	for _, c := range candidates {
		if c.assigned {
			return c
		}
	}
	return nil
}

// collectUpdates derives the final status writes from arena state.
// Already-accepted placements are left untouched. An offer the student
// declined in favour of a better-ranked holding finalizes as rejected by
// the student; only employer-side non-selection becomes NOT_SELECTED.
func collectUpdates(arenas map[string]*jobArena) ([]models.FinalStatusUpdate, int, int) {
	var updates []models.FinalStatusUpdate
	placements := 0
	notSelected := 0
	for _, arena := range arenas {
		placements += arena.accepted
		for _, offer := range arena.offers {
			switch {
			case offer.assigned:
				placements++
				updates = append(updates, models.FinalStatusUpdate{
					ApplicationID: offer.app.ID, From: models.StatusOffer, To: models.StatusAccepted,
				})
			case offer.declined:
				notSelected++
				updates = append(updates, models.FinalStatusUpdate{
					ApplicationID: offer.app.ID, From: models.StatusOffer, To: models.StatusRejectedByStudent,
				})
			default:
				notSelected++
				updates = append(updates, models.FinalStatusUpdate{
					ApplicationID: offer.app.ID, From: models.StatusOffer, To: models.StatusNotSelected,
				})
			}
		}
		for _, alt := range arena.ranked {
			if alt.assigned {
				placements++
				updates = append(updates, models.FinalStatusUpdate{
					ApplicationID: alt.app.ID, From: models.StatusRanked, To: models.StatusAccepted,
				})
			} else {
				notSelected++
				updates = append(updates, models.FinalStatusUpdate{
					ApplicationID: alt.app.ID, From: models.StatusRanked, To: models.StatusNotSelected,
				})
			}
		}
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].ApplicationID < updates[j].ApplicationID })
	return updates, placements, notSelected
}

// persist writes every resolution and the final per-job filled counts in
// one transaction.
func (s *MatchingService) persist(ctx context.Context, arenas map[string]*jobArena, updates []models.FinalStatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open matching transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := s.apps.FinalizeTx(ctx, tx, updates, s.now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrConflict, "applications changed during matching, run again")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist matching resolutions")
	}

	jobIDs := make([]string, 0, len(arenas))
	for id := range arenas {
		jobIDs = append(jobIDs, id)
	}
	sort.Strings(jobIDs)
	for _, id := range jobIDs {
		arena := arenas[id]
		filled := arena.job.OpenPositions - arena.capacityLeft()
		if filled == arena.job.Filled {
			continue
		}
		if err := s.jobs.SetFilledTx(ctx, tx, id, filled); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist job fill counts")
		}
	}

	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit matching transaction")
	}
	return nil
}

// Results returns the per-job placement view of a resolved cycle.
func (s *MatchingService) Results(ctx context.Context, cycleID string) (*models.CycleResults, error) {
	summaries, err := s.jobs.PlacementSummary(ctx, cycleID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load placement summary")
	}
	if len(summaries) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "cycle has no job listings")
	}
	return &models.CycleResults{CycleID: cycleID, Jobs: summaries}, nil
}

func rankOrInf(rank *int) int {
	if rank == nil {
		return int(^uint(0) >> 1)
	}
	return *rank
}

func dedupe(keys []string) []string {
	out := keys[:0]
	var last string
	for i, key := range keys {
		if i == 0 || key != last {
			out = append(out, key)
		}
		last = key
	}
	return out
}
