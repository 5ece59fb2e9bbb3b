package models

import "time"

// JobListing is an employer posting within a cycle. OpenPositions is a fixed
// capacity constraint during matching; Filled only moves through explicit
// offer-accepted transitions.
type JobListing struct {
	ID            string    `db:"id" json:"id"`
	CycleID       string    `db:"cycle_id" json:"cycle_id"`
	EmployerID    string    `db:"employer_id" json:"employer_id"`
	Title         string    `db:"title" json:"title"`
	OpenPositions int       `db:"open_positions" json:"open_positions"`
	Filled        int       `db:"filled" json:"filled"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// JobCounts aggregates the per-job application tallies the ranking rules
// consult before an offer or rank mutation.
type JobCounts struct {
	OpenPositions int `db:"open_positions" json:"open_positions"`
	ActiveOffers  int `db:"active_offers" json:"active_offers"`
	Accepted      int `db:"accepted" json:"accepted"`
	Ranked        int `db:"ranked" json:"ranked"`
}

// RemainingCapacity is open positions minus seats already promised
// (accepted placements plus outstanding offers).
func (c JobCounts) RemainingCapacity() int {
	return c.OpenPositions - c.Accepted - c.ActiveOffers
}

// JobFillStatus combines a listing with its live application tallies.
type JobFillStatus struct {
	Job               JobListing `json:"job"`
	Counts            JobCounts  `json:"counts"`
	RemainingCapacity int        `json:"remaining_capacity"`
}

// JobPlacementSummary reports final per-job outcomes after matching.
type JobPlacementSummary struct {
	JobID       string `db:"job_id" json:"job_id"`
	Title       string `db:"title" json:"title"`
	Capacity    int    `db:"capacity" json:"capacity"`
	Accepted    int    `db:"accepted" json:"accepted"`
	NotSelected int    `db:"not_selected" json:"not_selected"`
	Withdrawn   int    `db:"withdrawn" json:"withdrawn"`
}
