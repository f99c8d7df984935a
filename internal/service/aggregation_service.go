package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veilmarkets/oraclecore/internal/domain"
	"github.com/veilmarkets/oraclecore/internal/herding"
)

// Aggregation defaults.
const (
	DefaultAggregationTimeout = 5 * time.Minute
	DefaultDisputeWindow      = 72 * time.Hour
)

// AggregationConfig tunes the aggregation engine.
type AggregationConfig struct {
	// Timeout bounds how long one aggregation waits on the secure
	// computation before giving up.
	Timeout time.Duration
	// DisputeWindow is the default challenge window after resolution;
	// markets can override it per-market.
	DisputeWindow time.Duration
	// TallyScan configures the post-hoc manipulation scan.
	TallyScan herding.TallyScanConfig
}

// DefaultAggregationConfig returns the production defaults.
func DefaultAggregationConfig() AggregationConfig {
	return AggregationConfig{
		Timeout:       DefaultAggregationTimeout,
		DisputeWindow: DefaultDisputeWindow,
		TallyScan:     herding.DefaultTallyScanConfig(),
	}
}

// AggregationService runs the secure vote aggregation for a market and
// persists the resulting versioned resolution. Individual votes never leave
// the computation layer; this service only ever sees tallies.
type AggregationService struct {
	cfg         AggregationConfig
	markets     domain.MarketStore
	votes       domain.VoteStore
	resolutions domain.ResolutionStore
	oracles     domain.OracleStore
	cache       domain.ResolutionCache
	locks       domain.LockManager
	computer    domain.Computer
	bus         domain.SignalBus
	audit       domain.AuditStore
	logger      *slog.Logger
}

// NewAggregationService creates an AggregationService with all required
// dependencies.
func NewAggregationService(
	cfg AggregationConfig,
	markets domain.MarketStore,
	votes domain.VoteStore,
	resolutions domain.ResolutionStore,
	oracles domain.OracleStore,
	cache domain.ResolutionCache,
	locks domain.LockManager,
	computer domain.Computer,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *AggregationService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAggregationTimeout
	}
	if cfg.DisputeWindow <= 0 {
		cfg.DisputeWindow = DefaultDisputeWindow
	}
	return &AggregationService{
		cfg:         cfg,
		markets:     markets,
		votes:       votes,
		resolutions: resolutions,
		oracles:     oracles,
		cache:       cache,
		locks:       locks,
		computer:    computer,
		bus:         bus,
		audit:       audit,
		logger:      logger,
	}
}

// Aggregate runs one aggregation attempt for the market. The per-market lock
// plus the versioned-insert guard make concurrent calls safe: exactly one
// produces a resolution, the rest get ErrAlreadyAggregating. A computation
// timeout leaves the market in the aggregating state with no partial
// resolution, and the caller may retry.
func (s *AggregationService) Aggregate(ctx context.Context, marketID domain.MarketID) (domain.Resolution, error) {
	lockKey := fmt.Sprintf("aggregate:%d", marketID)
	unlock, err := s.locks.Acquire(ctx, lockKey, s.cfg.Timeout+30*time.Second)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return domain.Resolution{}, fmt.Errorf("aggregation: market %d: %w", marketID, domain.ErrAlreadyAggregating)
		}
		return domain.Resolution{}, fmt.Errorf("aggregation: lock market %d: %w", marketID, err)
	}
	defer unlock()

	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("aggregation: market %d: %w", marketID, err)
	}

	// Preconditions come before the state transition: a rejected attempt must
	// leave the lifecycle exactly where it found it.
	now := time.Now().UTC()
	votes, err := s.votes.ListByMarket(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("aggregation: list votes market %d: %w", marketID, err)
	}
	if len(votes) == 0 {
		return domain.Resolution{}, fmt.Errorf("aggregation: market %d: %w", marketID, domain.ErrNoVotesToAggregate)
	}
	if now.Before(market.VotingEndsAt) && len(votes) < MinConsensus {
		return domain.Resolution{}, fmt.Errorf("aggregation: market %d has %d votes before deadline: %w",
			marketID, len(votes), domain.ErrMarketNotEnded)
	}

	if err := s.enterAggregating(ctx, marketID); err != nil {
		return domain.Resolution{}, err
	}

	version := 1
	if latest, err := s.resolutions.GetLatest(ctx, marketID); err == nil {
		version = latest.Version + 1
	} else if !errors.Is(err, domain.ErrNoResolution) {
		return domain.Resolution{}, fmt.Errorf("aggregation: latest resolution market %d: %w", marketID, err)
	}

	agg, err := s.compute(ctx, marketID, votes)
	if err != nil {
		// A timeout leaves the market aggregating and nothing persisted;
		// the caller retries explicitly.
		return domain.Resolution{}, err
	}

	resolution := s.buildResolution(market, votes, agg, version, now)

	if err := s.resolutions.Insert(ctx, resolution); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Resolution{}, fmt.Errorf("aggregation: market %d v%d: %w", marketID, version, domain.ErrAlreadyAggregating)
		}
		return domain.Resolution{}, fmt.Errorf("aggregation: insert resolution market %d: %w", marketID, err)
	}
	if version > 1 {
		if err := s.resolutions.MarkSuperseded(ctx, marketID, version-1); err != nil {
			s.logger.WarnContext(ctx, "aggregation: supersede failed",
				slog.Uint64("market_id", uint64(marketID)),
				slog.Int("version", version-1),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.resolutions.CompareAndSetState(ctx, marketID, domain.StateAggregating, domain.StateResolved); err != nil {
		return domain.Resolution{}, fmt.Errorf("aggregation: market %d to resolved: %w", marketID, err)
	}
	if err := s.markets.SetResolved(ctx, marketID); err != nil {
		s.logger.WarnContext(ctx, "aggregation: mark market resolved failed",
			slog.Uint64("market_id", uint64(marketID)),
			slog.String("error", err.Error()),
		)
	}
	if err := s.cache.Set(ctx, resolution); err != nil {
		s.logger.WarnContext(ctx, "aggregation: cache set failed",
			slog.Uint64("market_id", uint64(marketID)),
			slog.String("error", err.Error()),
		)
	}

	s.updateReputations(ctx, agg)
	s.reportManipulation(ctx, resolution)

	s.logger.InfoContext(ctx, "aggregation: market resolved",
		slog.Uint64("market_id", uint64(marketID)),
		slog.Int("version", version),
		slog.Int("participants", len(votes)),
		slog.Int("consensus_strength", int(resolution.ConsensusStrength)),
	)

	_ = s.audit.Log(ctx, "resolution.created", map[string]any{
		"market_id":          marketID,
		"version":            version,
		"result":             resolution.Result,
		"confidence":         resolution.Confidence,
		"consensus_strength": resolution.ConsensusStrength,
	})
	s.publishEvent(ctx, domain.ChannelResolutions, domain.Event{
		Name:     domain.EventResolutionCreated,
		MarketID: marketID,
		Version:  version,
	})

	return resolution, nil
}

// enterAggregating moves the market into the aggregating state, tolerating a
// retry that finds it already there.
func (s *AggregationService) enterAggregating(ctx context.Context, marketID domain.MarketID) error {
	state, err := s.resolutions.GetState(ctx, marketID)
	if err != nil {
		return fmt.Errorf("aggregation: state market %d: %w", marketID, err)
	}

	switch state {
	case domain.StateVoting:
		err = s.resolutions.CompareAndSetState(ctx, marketID, domain.StateVoting, domain.StateAggregating)
	case domain.StateDisputed:
		err = s.resolutions.CompareAndSetState(ctx, marketID, domain.StateDisputed, domain.StateAggregating)
	case domain.StateAggregating:
		// Explicit retry after a computation timeout.
		err = nil
	case domain.StateResolved:
		return fmt.Errorf("aggregation: market %d already resolved: %w", marketID, domain.ErrAlreadyAggregating)
	default:
		return fmt.Errorf("aggregation: market %d in state %s: %w", marketID, state, domain.ErrInvalidTransition)
	}
	if err != nil {
		return fmt.Errorf("aggregation: market %d enter aggregating: %w", marketID, err)
	}
	return nil
}

// compute queues the ciphertext set and awaits the decrypted tallies.
func (s *AggregationService) compute(ctx context.Context, marketID domain.MarketID, votes []domain.EncryptedVote) (domain.DecryptedAggregate, error) {
	voters := make([]domain.PrincipalID, 0, len(votes))
	ciphertexts := make([][]byte, 0, len(votes))
	for _, v := range votes {
		voters = append(voters, v.Voter)
		ciphertexts = append(ciphertexts, v.Ciphertext)
	}

	handle, err := s.computer.QueueComputation(ctx, domain.ComputationDescriptor{
		Kind:     "aggregate_votes",
		MarketID: marketID,
		Voters:   voters,
	}, ciphertexts)
	if err != nil {
		return domain.DecryptedAggregate{}, fmt.Errorf("aggregation: queue computation market %d: %w", marketID, err)
	}

	agg, err := s.computer.AwaitFinalization(ctx, handle, s.cfg.Timeout)
	if err != nil {
		return domain.DecryptedAggregate{}, fmt.Errorf("aggregation: await computation market %d: %w", marketID, err)
	}
	return agg, nil
}

// buildResolution derives the resolution from the decrypted tallies.
func (s *AggregationService) buildResolution(
	market domain.Market,
	votes []domain.EncryptedVote,
	agg domain.DecryptedAggregate,
	version int,
	now time.Time,
) domain.Resolution {
	var result *bool
	var confidence, strength uint8

	total := agg.YesCount + agg.NoCount
	switch {
	case total == 0 || agg.YesCount == agg.NoCount:
		// All-skip or tie: the resolution is recorded but carries no outcome.
		result = nil
		strength = 50
	default:
		yes := agg.YesCount > agg.NoCount
		result = &yes
		win := agg.YesCount
		if !yes {
			win = agg.NoCount
		}
		strength = uint8(100 * uint64(win) / uint64(total))
		mean := agg.WinningProbabilitySum / uint64(win)
		if mean > 100 {
			mean = 100
		}
		confidence = uint8(mean)
	}

	window := market.DisputeWindow
	if window <= 0 {
		window = s.cfg.DisputeWindow
	}

	participants := make([]domain.PrincipalID, 0, len(votes))
	evidence := make([]string, 0, len(votes))
	for _, v := range votes {
		participants = append(participants, v.Voter)
		evidence = append(evidence, fmt.Sprintf("%#x", v.EvidenceHash))
	}

	return domain.Resolution{
		MarketID:             market.ID,
		Version:              version,
		Result:               result,
		Confidence:           confidence,
		ConsensusStrength:    strength,
		ManipulationScore:    herding.ScanTallies(s.cfg.TallyScan, agg),
		ParticipatingOracles: participants,
		EvidenceSources:      evidence,
		ResolvedAt:           now,
		DisputeDeadline:      now.Add(window),
	}
}

// updateReputations applies the per-oracle correctness reveal. Each update is
// one atomic statement, so aggregations running for other markets cannot race
// a read-modify-write on the same oracle.
func (s *AggregationService) updateReputations(ctx context.Context, agg domain.DecryptedAggregate) {
	for addr, correct := range agg.Correct {
		if err := s.oracles.RecordResolution(ctx, addr, correct); err != nil {
			s.logger.WarnContext(ctx, "aggregation: reputation update failed",
				slog.String("oracle", addr.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reportManipulation surfaces a high tally-scan score as a dispute flag.
// Advisory only: a flagged resolution still stands unless challenged.
func (s *AggregationService) reportManipulation(ctx context.Context, r domain.Resolution) {
	if r.ManipulationScore < s.cfg.TallyScan.DisputeFlagThreshold {
		return
	}

	s.logger.WarnContext(ctx, "aggregation: manipulation flag raised",
		slog.Uint64("market_id", uint64(r.MarketID)),
		slog.Int("score", int(r.ManipulationScore)),
	)
	_ = s.audit.Log(ctx, "resolution.manipulation_flagged", map[string]any{
		"market_id": r.MarketID,
		"version":   r.Version,
		"score":     r.ManipulationScore,
	})
	s.publishEvent(ctx, domain.ChannelDisputes, domain.Event{
		Name:     domain.EventDisputeFlagged,
		MarketID: r.MarketID,
		Version:  r.Version,
		Score:    r.ManipulationScore,
	})
}

func (s *AggregationService) publishEvent(ctx context.Context, channel string, ev domain.Event) {
	if err := s.bus.Publish(ctx, channel, ev); err != nil {
		s.logger.WarnContext(ctx, "aggregation: publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamFor(channel), ev); err != nil {
		s.logger.WarnContext(ctx, "aggregation: stream append failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
