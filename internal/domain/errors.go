package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrContextDone   = errors.New("context cancelled")
	ErrLockHeld      = errors.New("lock already held")

	// Vote submission
	ErrVotingClosed    = errors.New("voting window closed")
	ErrDuplicateVote   = errors.New("duplicate vote for market")
	ErrHerdingRejected = errors.New("vote rejected by herding gate")
	ErrInvalidField    = errors.New("invalid vote field")

	// Oracle registry
	ErrDuplicateOracle     = errors.New("oracle already registered")
	ErrInsufficientOracles = errors.New("insufficient qualified oracles")

	// Aggregation
	ErrNoVotesToAggregate = errors.New("no votes to aggregate")
	ErrAlreadyAggregating = errors.New("aggregation already in progress")
	ErrComputationTimeout = errors.New("secure computation timed out")

	// Disputes
	ErrNoResolution             = errors.New("no resolution exists")
	ErrDisputeWindowClosed      = errors.New("dispute window closed")
	ErrStakeTooLow              = errors.New("challenge stake below minimum bond")
	ErrChallengeAlreadyReviewed = errors.New("challenge already reviewed")

	// Resolution lifecycle
	ErrMarketNotEnded       = errors.New("market voting has not ended")
	ErrResolutionInProgress = errors.New("resolution already in progress")
	ErrInvalidTransition    = errors.New("invalid resolution state transition")
)

// ErrorClass buckets failures so callers can decide between retry and abort.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	// ClassValidation covers bad inputs; never retried automatically.
	ClassValidation
	// ClassState covers wrong-lifecycle failures; the caller may retry later.
	ClassState
	// ClassTransient covers collaborator failures; retryable by design.
	ClassTransient
	// ClassPolicy covers policy rejections; terminal for that attempt.
	ClassPolicy
)

// Classify maps an error to its ErrorClass by unwrapping to the sentinel.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrInvalidField),
		errors.Is(err, ErrDuplicateOracle),
		errors.Is(err, ErrDuplicateVote),
		errors.Is(err, ErrStakeTooLow):
		return ClassValidation
	case errors.Is(err, ErrVotingClosed),
		errors.Is(err, ErrMarketNotEnded),
		errors.Is(err, ErrResolutionInProgress),
		errors.Is(err, ErrAlreadyAggregating),
		errors.Is(err, ErrNoVotesToAggregate),
		errors.Is(err, ErrNoResolution),
		errors.Is(err, ErrDisputeWindowClosed),
		errors.Is(err, ErrChallengeAlreadyReviewed),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInsufficientOracles):
		return ClassState
	case errors.Is(err, ErrComputationTimeout),
		errors.Is(err, ErrLockHeld),
		errors.Is(err, ErrContextDone):
		return ClassTransient
	case errors.Is(err, ErrHerdingRejected):
		return ClassPolicy
	default:
		return ClassUnknown
	}
}

// Retryable reports whether the failure is transient and may be retried
// without changing the request.
func Retryable(err error) bool {
	return Classify(err) == ClassTransient
}
