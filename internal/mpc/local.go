package mpc

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veilmarkets/oraclecore/internal/codec"
	"github.com/veilmarkets/oraclecore/internal/domain"
)

// Local is a deterministic in-process stand-in for the MPC cluster: it seals
// votes against its own throwaway keypair and "aggregates" by opening each
// envelope directly. Tallies are computed with the exact formulas the real
// cluster is contracted to apply, so results are bit-identical either way.
//
// Used by tests and by single-node deployments (mpc.backend = "local").
type Local struct {
	pub  [32]byte
	priv [32]byte

	mu   sync.Mutex
	jobs map[domain.ComputationHandle]job
}

type job struct {
	desc        domain.ComputationDescriptor
	ciphertexts [][]byte
}

// NewLocal creates a Local double with a fresh keypair.
func NewLocal() (*Local, error) {
	pub, priv, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}
	return &Local{
		pub:  pub,
		priv: priv,
		jobs: make(map[domain.ComputationHandle]job),
	}, nil
}

// EncryptVote seals the packed fields against the local keypair.
func (l *Local) EncryptVote(_ context.Context, plaintext []byte) ([]byte, error) {
	return Seal(plaintext, l.pub, rand.Reader)
}

// QueueComputation records the job for the next AwaitFinalization call.
func (l *Local) QueueComputation(_ context.Context, desc domain.ComputationDescriptor, ciphertexts [][]byte) (domain.ComputationHandle, error) {
	if len(ciphertexts) != len(desc.Voters) {
		return "", fmt.Errorf("mpc: %d ciphertexts for %d voters", len(ciphertexts), len(desc.Voters))
	}

	handle := domain.ComputationHandle(uuid.New().String())
	l.mu.Lock()
	l.jobs[handle] = job{desc: desc, ciphertexts: ciphertexts}
	l.mu.Unlock()
	return handle, nil
}

// AwaitFinalization opens every envelope and tallies the votes. The
// per-oracle correctness bits are derived from the decrypted choices and the
// majority outcome, mirroring the cluster's post-aggregation reveal.
func (l *Local) AwaitFinalization(ctx context.Context, handle domain.ComputationHandle, _ time.Duration) (domain.DecryptedAggregate, error) {
	if err := ctx.Err(); err != nil {
		return domain.DecryptedAggregate{}, err
	}

	l.mu.Lock()
	j, ok := l.jobs[handle]
	if ok {
		delete(l.jobs, handle)
	}
	l.mu.Unlock()
	if !ok {
		return domain.DecryptedAggregate{}, fmt.Errorf("mpc: unknown computation handle %s: %w", handle, domain.ErrNotFound)
	}

	agg := domain.DecryptedAggregate{
		MarketID: j.desc.MarketID,
		Correct:  make(map[domain.PrincipalID]bool, len(j.desc.Voters)),
	}

	fields := make([]domain.VoteFields, len(j.ciphertexts))
	for i, ct := range j.ciphertexts {
		plaintext, err := Open(ct, l.priv)
		if err != nil {
			return domain.DecryptedAggregate{}, fmt.Errorf("mpc: open vote %d: %w", i, err)
		}
		f, err := codec.Decode(plaintext)
		if err != nil {
			return domain.DecryptedAggregate{}, fmt.Errorf("mpc: decode vote %d: %w", i, err)
		}
		fields[i] = f

		switch f.VoteChoice {
		case domain.VoteYes:
			agg.YesCount++
			agg.YesStake += f.StakeAmount
		case domain.VoteNo:
			agg.NoCount++
			agg.NoStake += f.StakeAmount
		case domain.VoteSkip:
			agg.SkipCount++
		}
	}

	// Tie yields no valid result; correctness defaults to false and the
	// probability sum covers the yes side by convention.
	yesWins := agg.YesCount > agg.NoCount
	noWins := agg.NoCount > agg.YesCount

	for i, f := range fields {
		var correct bool
		switch {
		case yesWins:
			correct = f.VoteChoice == domain.VoteYes
		case noWins:
			correct = f.VoteChoice == domain.VoteNo
		}
		agg.Correct[j.desc.Voters[i]] = correct

		winning := (yesWins && f.VoteChoice == domain.VoteYes) ||
			(noWins && f.VoteChoice == domain.VoteNo) ||
			(!yesWins && !noWins && f.VoteChoice == domain.VoteYes)
		if winning {
			agg.WinningProbabilitySum += uint64(f.PredictedProbability)
		}
	}

	return agg, nil
}

// Compile-time interface check.
var _ domain.Computer = (*Local)(nil)
