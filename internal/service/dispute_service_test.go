package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

func pendingChallenge(marketID domain.MarketID) domain.DisputeChallenge {
	now := time.Now().UTC()
	return domain.DisputeChallenge{
		ID:                uuid.New(),
		MarketID:          marketID,
		ResolutionVersion: 1,
		Challenger:        testAddr(9),
		Reason:            "evidence contradicts outcome",
		Stake:             2000,
		Status:            domain.ChallengePending,
		ReviewDeadline:    now.Add(48 * time.Hour),
		SubmittedAt:       now,
	}
}

func challengeInput(marketID domain.MarketID) SubmitChallengeInput {
	return SubmitChallengeInput{
		MarketID:     marketID,
		Challenger:   testAddr(9),
		Reason:       "evidence contradicts outcome",
		EvidenceRefs: []string{"https://example.com/contrary"},
		Stake:        2000,
	}
}

// seedResolved inserts a version-1 resolution with an open dispute window and
// leaves the market in the resolved state.
func seedResolved(t *testing.T, env *testEnv, marketID domain.MarketID) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, env.resolutions.Insert(context.Background(), domain.Resolution{
		MarketID:        marketID,
		Version:         1,
		ResolvedAt:      now,
		DisputeDeadline: now.Add(72 * time.Hour),
	}))
	env.resolutions.states[marketID] = domain.StateResolved
}

func TestSubmitChallengeFlipsToDisputed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addMarket(t, 1, time.Now().Add(-time.Hour))
	seedResolved(t, env, 1)

	challenge, err := env.dispSvc.SubmitChallenge(ctx, challengeInput(1))
	require.NoError(t, err)

	assert.Equal(t, domain.ChallengePending, challenge.Status)
	assert.Equal(t, 1, challenge.ResolutionVersion)
	assert.Equal(t, uint64(2000), challenge.Stake)
	assert.NotZero(t, challenge.EvidenceHash)

	state, err := env.resolutions.GetState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDisputed, state)

	assert.True(t, env.audit.has("challenge.submitted"))
	require.Len(t, env.bus.published[domain.ChannelDisputes], 1)
	assert.Equal(t, domain.EventDisputeSubmitted, env.bus.published[domain.ChannelDisputes][0].Name)
}

func TestSubmitChallengeWindowClosed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, env.resolutions.Insert(ctx, domain.Resolution{
		MarketID:        1,
		Version:         1,
		ResolvedAt:      now.Add(-80 * time.Hour),
		DisputeDeadline: now.Add(-8 * time.Hour),
	}))
	env.resolutions.states[1] = domain.StateResolved

	_, err := env.dispSvc.SubmitChallenge(ctx, challengeInput(1))
	require.ErrorIs(t, err, domain.ErrDisputeWindowClosed)
}

func TestSubmitChallengeStakeBelowBond(t *testing.T) {
	env := newTestEnv(t)
	env.addMarket(t, 1, time.Now().Add(-time.Hour))
	seedResolved(t, env, 1)

	in := challengeInput(1)
	in.Stake = 500

	_, err := env.dispSvc.SubmitChallenge(context.Background(), in)
	require.ErrorIs(t, err, domain.ErrStakeTooLow)
}

func TestSubmitChallengeMarketBondOverride(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	market := env.addMarket(t, 1, time.Now().Add(-time.Hour))
	market.MinDisputeBond = 5000
	require.NoError(t, env.markets.Upsert(ctx, market))
	seedResolved(t, env, 1)

	_, err := env.dispSvc.SubmitChallenge(ctx, challengeInput(1))
	require.ErrorIs(t, err, domain.ErrStakeTooLow)
}

func TestSubmitChallengeNoResolution(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.dispSvc.SubmitChallenge(context.Background(), challengeInput(1))
	require.ErrorIs(t, err, domain.ErrNoResolution)
}

func TestReviewChallengeAcceptReAggregates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addMarket(t, 1, time.Now().Add(-time.Hour))
	seedResolved(t, env, 1)

	env.sealVote(t, 1, testAddr(1), domain.VoteYes, 80, 1000)
	env.sealVote(t, 1, testAddr(2), domain.VoteYes, 80, 1000)
	env.sealVote(t, 1, testAddr(3), domain.VoteNo, 30, 500)

	challenge, err := env.dispSvc.SubmitChallenge(ctx, challengeInput(1))
	require.NoError(t, err)

	reviewed, err := env.dispSvc.ReviewChallenge(ctx, challenge.ID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeResolved, reviewed.Status)
	require.NotNil(t, reviewed.ReviewedAt)

	// The stored row closes out too once the superseding resolution lands.
	stored, err := env.challenges.GetByID(ctx, challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeResolved, stored.Status)

	latest, err := env.resolutions.GetLatest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	v1, err := env.resolutions.GetVersion(ctx, 1, 1)
	require.NoError(t, err)
	assert.True(t, v1.Superseded)

	state, err := env.resolutions.GetState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StateResolved, state)

	assert.True(t, env.audit.has("challenge.accepted"))
	assert.True(t, env.notifier.got("dispute.accepted"))
}

func TestReviewChallengeRejectForfeitsStake(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addMarket(t, 1, time.Now().Add(-time.Hour))
	seedResolved(t, env, 1)

	challenge, err := env.dispSvc.SubmitChallenge(ctx, challengeInput(1))
	require.NoError(t, err)

	reviewed, err := env.dispSvc.ReviewChallenge(ctx, challenge.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeRejected, reviewed.Status)

	state, err := env.resolutions.GetState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StateResolved, state)

	assert.True(t, env.audit.has("challenge.rejected"))
	assert.True(t, env.audit.has("challenge.stake_forfeited"))
}

func TestReviewChallengeIsOneShot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addMarket(t, 1, time.Now().Add(-time.Hour))
	seedResolved(t, env, 1)

	challenge, err := env.dispSvc.SubmitChallenge(ctx, challengeInput(1))
	require.NoError(t, err)

	_, err = env.dispSvc.ReviewChallenge(ctx, challenge.ID, false)
	require.NoError(t, err)

	_, err = env.dispSvc.ReviewChallenge(ctx, challenge.ID, false)
	require.ErrorIs(t, err, domain.ErrChallengeAlreadyReviewed)
}

func TestReviewChallengeUnknownID(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.dispSvc.ReviewChallenge(context.Background(), uuid.New(), true)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestChallengesForMarket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.challenges.Create(ctx, pendingChallenge(1)))
	require.NoError(t, env.challenges.Create(ctx, pendingChallenge(1)))
	require.NoError(t, env.challenges.Create(ctx, pendingChallenge(2)))

	challenges, err := env.dispSvc.ChallengesForMarket(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, challenges, 2)
}
