package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// MarketStore reads and updates market metadata. Markets are created by the
// orchestration layer; the core only mutates resolution-related fields.
type MarketStore interface {
	Upsert(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id MarketID) (Market, error)
	ListUnresolved(ctx context.Context, opts ListOpts) ([]Market, error)
	// AddStake atomically bumps the participant count and the per-side stake
	// totals when a vote is accepted.
	AddStake(ctx context.Context, id MarketID, choice VoteChoice, stake uint64) error
	SetResolved(ctx context.Context, id MarketID) error
}

// OracleStore persists registered oracles. Oracles are never deleted.
type OracleStore interface {
	Create(ctx context.Context, o Oracle) error
	GetByAddress(ctx context.Context, addr PrincipalID) (Oracle, error)
	// ListEligible returns active oracles with reputation >= minReputation
	// that specialize in the category (directly or via general), ordered by
	// (direct specialization desc, reputation desc).
	ListEligible(ctx context.Context, category Category, minReputation uint8, limit int) ([]Oracle, error)
	// RecordResolution atomically increments the resolution counters and
	// recomputes reputation as round(100*correct/total). The single-statement
	// update serializes concurrent resolutions per oracle.
	RecordResolution(ctx context.Context, addr PrincipalID, wasCorrect bool) error
	SetActive(ctx context.Context, addr PrincipalID, active bool) error
	TouchActivity(ctx context.Context, addr PrincipalID, at time.Time) error
}

// VoteStore persists encrypted votes, append-only per market.
type VoteStore interface {
	// Insert stores the vote iff no vote exists for (MarketID, Voter).
	// Returns ErrDuplicateVote otherwise; the check and insert are atomic.
	Insert(ctx context.Context, v EncryptedVote) error
	Exists(ctx context.Context, marketID MarketID, voter PrincipalID) (bool, error)
	// ListByMarket returns votes in insertion order.
	ListByMarket(ctx context.Context, marketID MarketID) ([]EncryptedVote, error)
	CountByMarket(ctx context.Context, marketID MarketID) (int, error)
}

// ResolutionStore persists versioned resolutions and the per-market
// resolution state.
type ResolutionStore interface {
	// Insert persists a new resolution version. Returns ErrAlreadyExists if
	// that (MarketID, Version) is already present, which doubles as the
	// optimistic concurrency check for concurrent aggregations.
	Insert(ctx context.Context, r Resolution) error
	GetLatest(ctx context.Context, marketID MarketID) (Resolution, error)
	GetVersion(ctx context.Context, marketID MarketID, version int) (Resolution, error)
	MarkSuperseded(ctx context.Context, marketID MarketID, version int) error
	ListByMarket(ctx context.Context, marketID MarketID) ([]Resolution, error)

	// State machine persistence.
	GetState(ctx context.Context, marketID MarketID) (ResolutionState, error)
	// CompareAndSetState transitions from -> to atomically, returning
	// ErrInvalidTransition when the stored state is not `from`.
	CompareAndSetState(ctx context.Context, marketID MarketID, from, to ResolutionState) error
	InitState(ctx context.Context, marketID MarketID) error
}

// ChallengeStore persists dispute challenges.
type ChallengeStore interface {
	Create(ctx context.Context, c DisputeChallenge) error
	GetByID(ctx context.Context, id uuid.UUID) (DisputeChallenge, error)
	// SetStatus transitions a pending challenge; returns
	// ErrChallengeAlreadyReviewed when the stored status is not pending.
	SetStatus(ctx context.Context, id uuid.UUID, status ChallengeStatus, reviewedAt time.Time) error
	// MarkResolved closes an accepted challenge once its superseding
	// resolution has landed. Challenges in any other status are left alone.
	MarkResolved(ctx context.Context, id uuid.UUID) error
	ListByMarket(ctx context.Context, marketID MarketID) ([]DisputeChallenge, error)
	ListPending(ctx context.Context, opts ListOpts) ([]DisputeChallenge, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of state transitions,
// challenge decisions, and stake forfeitures.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
