package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool { return &b }

func TestPayout(t *testing.T) {
	yes := Resolution{Result: boolPtr(true)}

	// Winner gets stake plus a proportional share of the losing side.
	assert.Equal(t, uint64(1500), yes.Payout(VoteYes, 1000, 2000, 1000))
	// Loser and skip get nothing.
	assert.Equal(t, uint64(0), yes.Payout(VoteNo, 1000, 2000, 1000))
	assert.Equal(t, uint64(0), yes.Payout(VoteSkip, 1000, 2000, 1000))
	// No opposition: the winner just gets the stake back.
	assert.Equal(t, uint64(1000), yes.Payout(VoteYes, 1000, 0, 0))

	no := Resolution{Result: boolPtr(false)}
	assert.Equal(t, uint64(2000), no.Payout(VoteNo, 1000, 1000, 1000))
	assert.Equal(t, uint64(0), no.Payout(VoteYes, 1000, 1000, 1000))

	// An invalid resolution pays nobody.
	invalid := Resolution{Result: nil}
	assert.Equal(t, uint64(0), invalid.Payout(VoteYes, 1000, 2000, 1000))
}

func TestImpliedOdds(t *testing.T) {
	// Empty book: even odds, low confidence.
	yes, no, high := Market{}.ImpliedOdds()
	assert.Equal(t, uint8(50), yes)
	assert.Equal(t, uint8(50), no)
	assert.False(t, high)

	// Thin book: 85% haircut, still low confidence.
	yes, no, high = Market{YesStake: 600, NoStake: 400}.ImpliedOdds()
	assert.Equal(t, uint8(51), yes)
	assert.Equal(t, uint8(34), no)
	assert.False(t, high)

	// Deep book: 95% haircut, high confidence.
	yes, no, high = Market{YesStake: 8000, NoStake: 4000}.ImpliedOdds()
	assert.Equal(t, uint8(62), yes)
	assert.Equal(t, uint8(31), no)
	assert.True(t, high)
}

func TestDisputeOpenBoundary(t *testing.T) {
	deadline := time.Now().UTC()
	r := Resolution{DisputeDeadline: deadline}

	assert.True(t, r.DisputeOpen(deadline.Add(-time.Second)))
	// The deadline instant itself is still inside the window.
	assert.True(t, r.DisputeOpen(deadline))
	assert.False(t, r.DisputeOpen(deadline.Add(time.Second)))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorClass
	}{
		{ErrInvalidField, ClassValidation},
		{ErrDuplicateVote, ClassValidation},
		{ErrStakeTooLow, ClassValidation},
		{ErrVotingClosed, ClassState},
		{ErrAlreadyAggregating, ClassState},
		{ErrInsufficientOracles, ClassState},
		{ErrComputationTimeout, ClassTransient},
		{ErrLockHeld, ClassTransient},
		{ErrHerdingRejected, ClassPolicy},
		{fmt.Errorf("something else"), ClassUnknown},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("layer: %w", tc.err)
		assert.Equal(t, tc.want, Classify(wrapped), "%v", tc.err)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("agg: %w", ErrComputationTimeout)))
	assert.False(t, Retryable(fmt.Errorf("vote: %w", ErrDuplicateVote)))
}

func TestOracleSpecializes(t *testing.T) {
	specialist := Oracle{Specialization: []Category{CategorySports}}
	assert.True(t, specialist.Specializes(CategorySports))
	assert.True(t, specialist.SpecializesExactly(CategorySports))
	assert.False(t, specialist.Specializes(CategoryPolitics))

	generalist := Oracle{Specialization: []Category{CategoryGeneral}}
	assert.True(t, generalist.Specializes(CategorySports))
	assert.False(t, generalist.SpecializesExactly(CategorySports))
}
