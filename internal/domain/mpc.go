package domain

import (
	"context"
	"time"
)

// ComputationHandle identifies a queued secure computation.
type ComputationHandle string

// ComputationDescriptor tells the secure-computation cluster what to run
// over a ciphertext set.
type ComputationDescriptor struct {
	Kind     string // "aggregate_votes"
	MarketID MarketID
	// Voters lists the principals whose ciphertexts are submitted, in the
	// same order, so the cluster can produce the per-oracle correctness
	// reveal after aggregation.
	Voters []PrincipalID
}

// Computer is the opaque secure multi-party computation collaborator. The
// core never sees an individual vote in plaintext: it seals votes through
// EncryptVote and receives only aggregate tallies back.
//
// Implementations: mpc.Gateway (remote cluster over websocket) and mpc.Local
// (deterministic in-process double for tests and single-node deployments).
type Computer interface {
	// EncryptVote seals the packed vote fields against the cluster's public
	// key. Deterministic given inputs and randomness source.
	EncryptVote(ctx context.Context, plaintext []byte) ([]byte, error)

	// QueueComputation submits the full ciphertext set for asynchronous
	// aggregation and returns a handle to await.
	QueueComputation(ctx context.Context, desc ComputationDescriptor, ciphertexts [][]byte) (ComputationHandle, error)

	// AwaitFinalization blocks until the computation finishes or the timeout
	// elapses, returning ErrComputationTimeout in the latter case. An
	// abandoned computation leaves no partial state in the core.
	AwaitFinalization(ctx context.Context, handle ComputationHandle, timeout time.Duration) (DecryptedAggregate, error)
}
