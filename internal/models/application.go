package models

import "time"

// ApplicationStatus represents the lifecycle state of an application.
type ApplicationStatus string

// Closed status enumeration. Transition legality lives in the status
// machine's transition table, not in scattered string comparisons.
const (
	StatusPending           ApplicationStatus = "PENDING"
	StatusSubmitted         ApplicationStatus = "SUBMITTED"
	StatusInReview          ApplicationStatus = "IN_REVIEW"
	StatusInterview         ApplicationStatus = "INTERVIEW"
	StatusOffer             ApplicationStatus = "OFFER"
	StatusRanked            ApplicationStatus = "RANKED"
	StatusAccepted          ApplicationStatus = "ACCEPTED"
	StatusRejected          ApplicationStatus = "REJECTED"
	StatusNotSelected       ApplicationStatus = "NOT_SELECTED"
	StatusWithdrawn         ApplicationStatus = "WITHDRAWN"
	StatusRejectedByStudent ApplicationStatus = "REJECTED_BY_STUDENT"
)

// KnownStatuses lists every member of the closed enumeration.
var KnownStatuses = []ApplicationStatus{
	StatusPending, StatusSubmitted, StatusInReview, StatusInterview,
	StatusOffer, StatusRanked, StatusAccepted, StatusRejected,
	StatusNotSelected, StatusWithdrawn, StatusRejectedByStudent,
}

// IsTerminal reports whether the status admits no further transitions.
func (s ApplicationStatus) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusNotSelected, StatusWithdrawn, StatusRejectedByStudent:
		return true
	}
	return false
}

// IsKnown reports membership in the closed enumeration.
func (s ApplicationStatus) IsKnown() bool {
	for _, known := range KnownStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Application links one student to one job listing within a cycle. Unique
// per (student_id, job_id); jobs and students are referenced by id only.
type Application struct {
	ID                   string            `db:"id" json:"id"`
	StudentID            string            `db:"student_id" json:"student_id"`
	JobID                string            `db:"job_id" json:"job_id"`
	Status               ApplicationStatus `db:"status" json:"status"`
	ResumeID             *string           `db:"resume_id" json:"resume_id,omitempty"`
	InterviewGranted     bool              `db:"interview_granted" json:"interview_granted"`
	StudentRankPosition  *int              `db:"student_rank_position" json:"student_rank_position,omitempty"`
	EmployerRankPosition *int              `db:"employer_rank_position" json:"employer_rank_position,omitempty"`
	CumulativeScore      float64           `db:"cumulative_score" json:"cumulative_score"`
	LatePenalty          bool              `db:"late_penalty" json:"late_penalty"`
	AppliedAt            time.Time         `db:"applied_at" json:"applied_at"`
	FinalizedAt          *time.Time        `db:"finalized_at" json:"finalized_at,omitempty"`
	UpdatedAt            time.Time         `db:"updated_at" json:"updated_at"`
}

// ApplicationDetail enriches Application with job context.
type ApplicationDetail struct {
	Application
	JobTitle   string `db:"job_title" json:"job_title"`
	EmployerID string `db:"employer_id" json:"employer_id"`
	CycleID    string `db:"cycle_id" json:"cycle_id"`
}

// ApplicationFilter provides filters for listing applications.
type ApplicationFilter struct {
	StudentID string
	JobID     string
	CycleID   string
	Status    ApplicationStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// FinalStatusUpdate carries one matching-engine resolution for persistence.
type FinalStatusUpdate struct {
	ApplicationID string
	From          ApplicationStatus
	To            ApplicationStatus
}
