package domain

import "time"

// ResolutionState is the lifecycle state of a market's resolution.
type ResolutionState string

const (
	StateRequested   ResolutionState = "requested"
	StateVoting      ResolutionState = "voting"
	StateAggregating ResolutionState = "aggregating"
	StateResolved    ResolutionState = "resolved"
	StateDisputed    ResolutionState = "disputed"
	StateFinalized   ResolutionState = "finalized"
)

// Resolution is the outcome of one aggregation attempt for a market. A
// resolution is never overwritten: a successful dispute produces a new
// resolution with an incremented version and the old one marked superseded.
type Resolution struct {
	MarketID MarketID
	Version  int
	// Result is nil for an invalid/cancelled resolution (vote tie).
	Result               *bool
	Confidence           uint8 // 0-100
	ConsensusStrength    uint8 // 0-100
	ManipulationScore    uint8 // post-hoc tally scan, advisory
	ParticipatingOracles []PrincipalID
	EvidenceSources      []string
	ResolvedAt           time.Time
	DisputeDeadline      time.Time
	Superseded           bool
}

// DisputeOpen reports whether a challenge can still be filed at now.
func (r Resolution) DisputeOpen(now time.Time) bool {
	return !now.After(r.DisputeDeadline)
}

// Payout computes the payout for a single participant of a resolved market,
// from the decrypted aggregate only: winners receive their stake plus a
// proportional share of the losing side's stake. Skip votes and losers
// receive nothing, as does everyone when the resolution is invalid.
func (r Resolution) Payout(choice VoteChoice, stake, winningStake, losingStake uint64) uint64 {
	if r.Result == nil || choice == VoteSkip {
		return 0
	}
	won := (choice == VoteYes) == *r.Result
	if !won {
		return 0
	}
	if winningStake == 0 {
		return stake
	}
	return stake + stake*losingStake/winningStake
}

// DecryptedAggregate is what the secure-computation collaborator returns
// after finalizing an aggregation: tallies only, never individual votes.
type DecryptedAggregate struct {
	MarketID  MarketID
	YesCount  uint32
	NoCount   uint32
	SkipCount uint32
	YesStake  uint64
	NoStake   uint64
	// WinningProbabilitySum is the sum of the winning side's self-reported
	// predicted probabilities, revealed only as an aggregate.
	WinningProbabilitySum uint64
	// Correct is the post-aggregation per-oracle correctness reveal used for
	// reputation bookkeeping. It never contains raw votes.
	Correct map[PrincipalID]bool
}
