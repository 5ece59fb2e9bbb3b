package models

import "time"

// CoopCycle groups the hiring rounds of one recruiting season (e.g. "Fall/Winter").
type CoopCycle struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Round is one scheduled hiring window within a cycle. Boundary timestamps
// are non-decreasing in declaration order when present; optional boundaries
// may be nil and are skipped during stage resolution.
type Round struct {
	ID                   string     `db:"id" json:"id"`
	CycleID              string     `db:"cycle_id" json:"cycle_id"`
	Name                 string     `db:"name" json:"name"`
	Sequence             int        `db:"sequence" json:"sequence"`
	JobPostingsOpen      time.Time  `db:"job_postings_open" json:"job_postings_open"`
	InterviewRequestsDue time.Time  `db:"interview_requests_due" json:"interview_requests_due"`
	InterviewsGranted    *time.Time `db:"interviews_granted" json:"interviews_granted,omitempty"`
	InterviewPeriodStart *time.Time `db:"interview_period_start" json:"interview_period_start,omitempty"`
	InterviewPeriodEnd   *time.Time `db:"interview_period_end" json:"interview_period_end,omitempty"`
	ViewRankings         *time.Time `db:"view_rankings" json:"view_rankings,omitempty"`
	RankingsDue          *time.Time `db:"rankings_due" json:"rankings_due,omitempty"`
	ResultsAvailable     *time.Time `db:"results_available" json:"results_available,omitempty"`
}

// Boundaries returns the configured boundary instants in declaration order.
// Nil optionals are omitted.
func (r Round) Boundaries() []time.Time {
	out := []time.Time{r.JobPostingsOpen, r.InterviewRequestsDue}
	for _, b := range []*time.Time{r.InterviewsGranted, r.InterviewPeriodStart, r.InterviewPeriodEnd, r.ViewRankings, r.RankingsDue, r.ResultsAvailable} {
		if b != nil {
			out = append(out, *b)
		}
	}
	return out
}

// Stage identifies the currently active phase of a round.
type Stage int

// Stage numbering is part of the public contract: 0 means no round is active.
const (
	StageNoActiveRound Stage = iota
	StageJobPostingsAvailable
	StageInterviewRequestsDue
	StageViewInterviewsGranted
	StageInterviewPeriod
	StageViewRankings
	StageRankingsDue
	StageResultsAvailable
)

var stageNames = map[Stage]string{
	StageNoActiveRound:         "NO_ACTIVE_ROUND",
	StageJobPostingsAvailable:  "JOB_POSTINGS_AVAILABLE",
	StageInterviewRequestsDue:  "INTERVIEW_REQUESTS_DUE",
	StageViewInterviewsGranted: "VIEW_INTERVIEWS_GRANTED",
	StageInterviewPeriod:       "INTERVIEW_PERIOD",
	StageViewRankings:          "VIEW_RANKINGS",
	StageRankingsDue:           "RANKINGS_DUE",
	StageResultsAvailable:      "RESULTS_AVAILABLE",
}

// String returns the wire name of the stage.
func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Number returns the stage number (0..7).
func (s Stage) Number() int {
	return int(s)
}

// StageResolution is the outcome of resolving a cycle calendar at an instant.
type StageResolution struct {
	CycleID     string `json:"cycle_id"`
	Round       *Round `json:"round,omitempty"`
	Stage       Stage  `json:"-"`
	StageName   string `json:"stage"`
	StageNumber int    `json:"stage_number"`
	Message     string `json:"message"`
}
