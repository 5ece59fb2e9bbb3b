package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/coop-portal-api/internal/models"
)

const applicationColumns = `id, student_id, job_id, status, resume_id, interview_granted,
        student_rank_position, employer_rank_position, cumulative_score, late_penalty,
        applied_at, finalized_at, updated_at`

// ApplicationRepository handles persistence of applications.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// List returns applications filtered by the provided criteria.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error) {
	base := `FROM applications a
LEFT JOIN job_listings j ON j.id = a.job_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("a.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.JobID != "" {
		conditions = append(conditions, fmt.Sprintf("a.job_id = $%d", len(args)+1))
		args = append(args, filter.JobID)
	}
	if filter.CycleID != "" {
		conditions = append(conditions, fmt.Sprintf("j.cycle_id = $%d", len(args)+1))
		args = append(args, filter.CycleID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"applied_at":       "a.applied_at",
		"status":           "a.status",
		"cumulative_score": "a.cumulative_score",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "applied_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "a.applied_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT a.id, a.student_id, a.job_id, a.status, a.resume_id, a.interview_granted,
        a.student_rank_position, a.employer_rank_position, a.cumulative_score, a.late_penalty,
        a.applied_at, a.finalized_at, a.updated_at,
        j.title AS job_title, j.employer_id, j.cycle_id
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var applications []models.ApplicationDetail
	if err := r.db.SelectContext(ctx, &applications, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}
	return applications, total, nil
}

// FindByID returns an application by its ID.
func (r *ApplicationRepository) FindByID(ctx context.Context, id string) (*models.Application, error) {
	query := fmt.Sprintf(`SELECT %s FROM applications WHERE id = $1`, applicationColumns)
	var application models.Application
	if err := r.db.GetContext(ctx, &application, query, id); err != nil {
		return nil, err
	}
	return &application, nil
}

// FindDetailByID returns an application joined with its job context.
func (r *ApplicationRepository) FindDetailByID(ctx context.Context, id string) (*models.ApplicationDetail, error) {
	const query = `SELECT a.id, a.student_id, a.job_id, a.status, a.resume_id, a.interview_granted,
        a.student_rank_position, a.employer_rank_position, a.cumulative_score, a.late_penalty,
        a.applied_at, a.finalized_at, a.updated_at,
        j.title AS job_title, j.employer_id, j.cycle_id
        FROM applications a
        LEFT JOIN job_listings j ON j.id = a.job_id
        WHERE a.id = $1`
	var detail models.ApplicationDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ListByJob returns a job's applications holding any of the given statuses.
func (r *ApplicationRepository) ListByJob(ctx context.Context, jobID string, statuses ...models.ApplicationStatus) ([]models.Application, error) {
	args := []interface{}{jobID}
	placeholders := make([]string, len(statuses))
	for i, status := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, status)
	}
	query := fmt.Sprintf(`SELECT %s FROM applications WHERE job_id = $1 AND status IN (%s)
        ORDER BY employer_rank_position NULLS LAST, applied_at`, applicationColumns, strings.Join(placeholders, ","))
	var applications []models.Application
	if err := r.db.SelectContext(ctx, &applications, query, args...); err != nil {
		return nil, fmt.Errorf("list job applications: %w", err)
	}
	return applications, nil
}

// ListResolvable returns every offer, ranked, or accepted application across
// a cycle, the working set of a matching run.
func (r *ApplicationRepository) ListResolvable(ctx context.Context, cycleID string) ([]models.Application, error) {
	query := fmt.Sprintf(`SELECT a.id, a.student_id, a.job_id, a.status, a.resume_id, a.interview_granted,
        a.student_rank_position, a.employer_rank_position, a.cumulative_score, a.late_penalty,
        a.applied_at, a.finalized_at, a.updated_at
        FROM applications a
        JOIN job_listings j ON j.id = a.job_id
        WHERE j.cycle_id = $1 AND a.status IN ('%s','%s','%s')
        ORDER BY a.job_id, a.employer_rank_position NULLS LAST`,
		models.StatusOffer, models.StatusRanked, models.StatusAccepted)
	var applications []models.Application
	if err := r.db.SelectContext(ctx, &applications, query, cycleID); err != nil {
		return nil, fmt.Errorf("list resolvable applications: %w", err)
	}
	return applications, nil
}

// Counts aggregates the per-job tallies consulted by the ranking rules.
func (r *ApplicationRepository) Counts(ctx context.Context, jobID string) (*models.JobCounts, error) {
	const query = `SELECT j.open_positions,
        COUNT(*) FILTER (WHERE a.status = 'OFFER') AS active_offers,
        COUNT(*) FILTER (WHERE a.status = 'ACCEPTED') AS accepted,
        COUNT(*) FILTER (WHERE a.status = 'RANKED') AS ranked
        FROM job_listings j
        LEFT JOIN applications a ON a.job_id = j.id
        WHERE j.id = $1
        GROUP BY j.open_positions`
	var counts models.JobCounts
	if err := r.db.GetContext(ctx, &counts, query, jobID); err != nil {
		return nil, err
	}
	return &counts, nil
}

// UpdateStatusCAS moves an application between statuses only when it still
// holds the expected current status. Returns sql.ErrNoRows on a stale read.
func (r *ApplicationRepository) UpdateStatusCAS(ctx context.Context, id string, from, to models.ApplicationStatus) error {
	const query = `UPDATE applications SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update application status: %w", err)
	}
	return requireRow(res)
}

// SubmitWithResume performs pending -> submitted attaching exactly one
// resume reference.
func (r *ApplicationRepository) SubmitWithResume(ctx context.Context, id, resumeID string) error {
	const query = `UPDATE applications SET status = $2, resume_id = $3, updated_at = $4
        WHERE id = $1 AND status = $5 AND resume_id IS NULL`
	res, err := r.db.ExecContext(ctx, query, id, models.StatusSubmitted, resumeID, time.Now().UTC(), models.StatusPending)
	if err != nil {
		return fmt.Errorf("submit application: %w", err)
	}
	return requireRow(res)
}

// GrantInterviewCAS moves an application into interview and records the
// grant flag the period-start sweep keys off.
func (r *ApplicationRepository) GrantInterviewCAS(ctx context.Context, id string, from models.ApplicationStatus) error {
	const query = `UPDATE applications SET status = $3, interview_granted = TRUE, updated_at = $4
        WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, models.StatusInterview, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("grant interview: %w", err)
	}
	return requireRow(res)
}

// RejectCAS moves an application to rejected, recording any late penalty.
func (r *ApplicationRepository) RejectCAS(ctx context.Context, id string, from models.ApplicationStatus, latePenalty bool) error {
	const query = `UPDATE applications SET status = $3, late_penalty = $4, updated_at = $5
        WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, models.StatusRejected, latePenalty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reject application: %w", err)
	}
	return requireRow(res)
}

// AssignNextRankCAS converts an application to ranked and takes the next
// dense employer rank position in one statement, so two concurrent rank
// assignments on the same job cannot collide on a position number.
func (r *ApplicationRepository) AssignNextRankCAS(ctx context.Context, jobID, id string, from models.ApplicationStatus) (int, error) {
	const query = `UPDATE applications SET status = $4,
        employer_rank_position = (SELECT COALESCE(MAX(employer_rank_position), 0) + 1
            FROM applications WHERE job_id = $1 AND status = $4),
        updated_at = $5
        WHERE id = $2 AND status = $3
        RETURNING employer_rank_position`
	var position int
	err := r.db.GetContext(ctx, &position, query, jobID, id, from, models.StatusRanked, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return position, nil
}

// CompactRanks renumbers a job's ranked applications to a dense 1..k
// sequence after a ranked candidate leaves (withdrawal or replacement).
func (r *ApplicationRepository) CompactRanks(ctx context.Context, jobID string) error {
	const query = `UPDATE applications a SET employer_rank_position = ranked.new_position
        FROM (SELECT id, ROW_NUMBER() OVER (ORDER BY employer_rank_position) AS new_position
              FROM applications WHERE job_id = $1 AND status = $2) ranked
        WHERE a.id = ranked.id`
	if _, err := r.db.ExecContext(ctx, query, jobID, models.StatusRanked); err != nil {
		return fmt.Errorf("compact rank positions: %w", err)
	}
	return nil
}

// BulkMarkNotSelected moves every application in a cycle holding one of
// the given statuses to not-selected. When requireNoInterview is set only
// applications without an interview grant are touched.
func (r *ApplicationRepository) BulkMarkNotSelected(ctx context.Context, cycleID string, from []models.ApplicationStatus, requireNoInterview bool) (int64, error) {
	args := []interface{}{cycleID, models.StatusNotSelected}
	placeholders := make([]string, len(from))
	for i, status := range from {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, status)
	}
	query := fmt.Sprintf(`UPDATE applications a SET status = $2, updated_at = NOW()
        FROM job_listings j
        WHERE a.job_id = j.id AND j.cycle_id = $1 AND a.status IN (%s)`, strings.Join(placeholders, ","))
	if requireNoInterview {
		query += " AND a.interview_granted = FALSE"
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("bulk mark not selected: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("bulk mark not selected rows: %w", err)
	}
	return affected, nil
}

// FinalizeTx applies matching-engine resolutions inside the caller's
// transaction, each guarded by the status the engine derived it from.
func (r *ApplicationRepository) FinalizeTx(ctx context.Context, tx *sqlx.Tx, updates []models.FinalStatusUpdate, finalizedAt time.Time) error {
	const query = `UPDATE applications SET status = $3, finalized_at = $4, updated_at = $4
        WHERE id = $1 AND status = $2`
	for _, update := range updates {
		res, err := tx.ExecContext(ctx, query, update.ApplicationID, update.From, update.To, finalizedAt)
		if err != nil {
			return fmt.Errorf("finalize application %s: %w", update.ApplicationID, err)
		}
		if err := requireRow(res); err != nil {
			return err
		}
	}
	return nil
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
