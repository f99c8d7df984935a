package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChallengeStatus is the one-directional status of a dispute challenge:
// Pending -> {Accepted, Rejected} -> Resolved.
type ChallengeStatus string

const (
	ChallengePending  ChallengeStatus = "pending"
	ChallengeAccepted ChallengeStatus = "accepted"
	ChallengeRejected ChallengeStatus = "rejected"
	ChallengeResolved ChallengeStatus = "resolved"
)

// DisputeChallenge contests a resolution within its dispute window.
type DisputeChallenge struct {
	ID                uuid.UUID
	MarketID          MarketID
	ResolutionVersion int
	Challenger        PrincipalID
	Reason            string
	EvidenceHash      [32]byte
	Stake             uint64
	Status            ChallengeStatus
	ReviewDeadline    time.Time
	SubmittedAt       time.Time
	ReviewedAt        *time.Time
}

// Reviewed reports whether the challenge has left the pending state.
func (c DisputeChallenge) Reviewed() bool {
	return c.Status != ChallengePending
}
