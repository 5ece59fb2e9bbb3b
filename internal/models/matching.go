package models

import "time"

// MatchingSummary reports the outcome of one matching run over a cycle.
type MatchingSummary struct {
	CycleID     string    `json:"cycle_id"`
	Placements  int       `json:"placements"`
	NotSelected int       `json:"not_selected"`
	Passes      int       `json:"passes"`
	Converged   bool      `json:"converged"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// CycleResults is the post-matching view of a cycle's placements.
type CycleResults struct {
	CycleID string                `json:"cycle_id"`
	Jobs    []JobPlacementSummary `json:"jobs"`
}
