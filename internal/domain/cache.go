package domain

import (
	"context"
	"time"
)

// ConfidenceHistoryLimit bounds the per-voter confidence ring buffer.
const ConfidenceHistoryLimit = 50

// ConfidenceHistory keeps a bounded ring buffer of each voter's recent
// self-reported confidence values, feeding the herding detector's
// self-deviation check.
type ConfidenceHistory interface {
	Append(ctx context.Context, voter PrincipalID, confidence uint8) error
	// Recent returns up to ConfidenceHistoryLimit entries, newest first.
	Recent(ctx context.Context, voter PrincipalID) ([]uint8, error)
}

// VoteWindow keeps the bounded, ephemeral window of recent (choice,
// confidence) pairs per market that feeds the herding gate. Entries expire
// with the voting window and never reach durable storage; the durable ledger
// only ever holds ciphertexts.
type VoteWindow interface {
	Append(ctx context.Context, marketID MarketID, v RecentVote) error
	// Recent returns up to ConfidenceHistoryLimit entries, oldest first.
	Recent(ctx context.Context, marketID MarketID) ([]RecentVote, error)
}

// ResolutionCache holds each market's latest resolution for the read path,
// invalidated whenever a new version lands.
type ResolutionCache interface {
	Set(ctx context.Context, r Resolution) error
	// Get returns ErrNotFound on a cache miss.
	Get(ctx context.Context, marketID MarketID) (Resolution, error)
	Invalidate(ctx context.Context, marketID MarketID) error
}

// LockManager provides distributed locking. Aggregation acquires a
// per-market lock so two concurrent aggregate calls cannot both proceed.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides distributed rate limiting for the caller-facing
// surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID    string
	Event Event
}

// SignalBus provides pub/sub and durable streams for resolution and dispute
// events. Event notification is a collaborator concern; core operations
// return results synchronously and publish on the bus as a side channel.
type SignalBus interface {
	Publish(ctx context.Context, channel string, ev Event) error
	Subscribe(ctx context.Context, channel string) (<-chan Event, error)
	StreamAppend(ctx context.Context, stream string, ev Event) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
