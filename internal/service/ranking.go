package service

import (
	"github.com/noah-isme/coop-portal-api/internal/models"
)

// Alternatives offered to an employer whose intended action is blocked.
const (
	OptionReplaceOffer = "OPTION_REPLACE_OFFER"
	OptionRankInstead  = "OPTION_RANK_INSTEAD"
)

// RankingDecision is the outcome of checking an offer or rank action
// against a job's capacity rules.
type RankingDecision struct {
	Allowed bool     `json:"allowed"`
	Reason  string   `json:"reason,omitempty"`
	Options []string `json:"options,omitempty"`
}

// RankingValidator applies the capacity rules guarding offer and rank
// mutations. It holds no state beyond the alternate limit and performs no
// I/O; callers pass in current job tallies.
type RankingValidator struct {
	maxRanked int
}

// NewRankingValidator constructs a validator with the given alternate limit.
func NewRankingValidator(maxRanked int) *RankingValidator {
	if maxRanked <= 0 {
		maxRanked = 3
	}
	return &RankingValidator{maxRanked: maxRanked}
}

// MaxRanked returns the configured alternate limit.
func (v *RankingValidator) MaxRanked() int {
	return v.maxRanked
}

// DecideOffer reports whether another offer may be extended. An offer
// consumes one seat, so it is blocked once accepted placements plus
// outstanding offers reach capacity. Blocked decisions list the actions
// still open to the employer.
func (v *RankingValidator) DecideOffer(counts models.JobCounts) RankingDecision {
	if counts.RemainingCapacity() > 0 {
		return RankingDecision{Allowed: true}
	}
	var options []string
	if counts.ActiveOffers > 0 {
		options = append(options, OptionReplaceOffer)
	}
	if counts.Ranked < v.maxRanked {
		options = append(options, OptionRankInstead)
	}
	return RankingDecision{
		Allowed: false,
		Reason:  "no open positions remain",
		Options: options,
	}
}

// DecideRank reports whether a candidate may be ranked as a qualified
// alternate. Ranking is only meaningful once every seat is promised, and
// the alternate list is bounded.
func (v *RankingValidator) DecideRank(counts models.JobCounts) RankingDecision {
	if counts.RemainingCapacity() > 0 {
		return RankingDecision{
			Allowed: false,
			Reason:  "open positions remain, extend an offer instead",
		}
	}
	if counts.Ranked >= v.maxRanked {
		return RankingDecision{
			Allowed: false,
			Reason:  "qualified alternate limit reached",
		}
	}
	return RankingDecision{Allowed: true}
}
