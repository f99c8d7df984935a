package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

// validTransitions is the resolution lifecycle. Finalized is terminal;
// Aggregating re-entry after a computation timeout is a self-loop handled by
// the aggregation engine, not a transition.
var validTransitions = map[domain.ResolutionState][]domain.ResolutionState{
	domain.StateRequested:   {domain.StateVoting},
	domain.StateVoting:      {domain.StateAggregating},
	domain.StateAggregating: {domain.StateResolved},
	domain.StateResolved:    {domain.StateFinalized, domain.StateDisputed},
	domain.StateDisputed:    {domain.StateAggregating, domain.StateResolved},
	domain.StateFinalized:   {},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to domain.ResolutionState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ResolutionService drives the market resolution lifecycle from request to
// finalization.
type ResolutionService struct {
	markets     domain.MarketStore
	votes       domain.VoteStore
	resolutions domain.ResolutionStore
	challenges  domain.ChallengeStore
	oracleReg   *OracleService
	cache       domain.ResolutionCache
	archiver    domain.Archiver
	bus         domain.SignalBus
	audit       domain.AuditStore
	notifier    Notifier
	logger      *slog.Logger
}

// NewResolutionService creates a ResolutionService with all required
// dependencies.
func NewResolutionService(
	markets domain.MarketStore,
	votes domain.VoteStore,
	resolutions domain.ResolutionStore,
	challenges domain.ChallengeStore,
	oracleReg *OracleService,
	cache domain.ResolutionCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ResolutionService {
	return &ResolutionService{
		markets:     markets,
		votes:       votes,
		resolutions: resolutions,
		challenges:  challenges,
		oracleReg:   oracleReg,
		cache:       cache,
		bus:         bus,
		audit:       audit,
		logger:      logger,
	}
}

// WithArchiver attaches an evidence archiver invoked on finalization.
func (s *ResolutionService) WithArchiver(a domain.Archiver) *ResolutionService {
	s.archiver = a
	return s
}

// WithNotifier attaches a notifier for finalization alerts.
func (s *ResolutionService) WithNotifier(n Notifier) *ResolutionService {
	s.notifier = n
	return s
}

// RequestResolution opens the resolution lifecycle for a market: the voting
// deadline must have passed or a quorum of votes must exist, qualified
// oracles must be available, and no lifecycle may already be running.
func (s *ResolutionService) RequestResolution(ctx context.Context, marketID domain.MarketID) ([]domain.Oracle, error) {
	now := time.Now().UTC()

	market, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("resolution_service: market %d: %w", marketID, err)
	}

	count, err := s.votes.CountByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("resolution_service: count votes market %d: %w", marketID, err)
	}
	if now.Before(market.VotingEndsAt) && count < MinConsensus {
		return nil, fmt.Errorf("resolution_service: market %d ends %s with %d votes: %w",
			marketID, market.VotingEndsAt.Format(time.RFC3339), count, domain.ErrMarketNotEnded)
	}

	oracles, err := s.oracleReg.SelectForMarket(ctx, marketID, market.Category, MinConsensus)
	if err != nil {
		return nil, err
	}

	if err := s.resolutions.InitState(ctx, marketID); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, fmt.Errorf("resolution_service: market %d: %w", marketID, domain.ErrResolutionInProgress)
		}
		return nil, fmt.Errorf("resolution_service: init state market %d: %w", marketID, err)
	}
	if err := s.resolutions.CompareAndSetState(ctx, marketID, domain.StateRequested, domain.StateVoting); err != nil {
		return nil, fmt.Errorf("resolution_service: market %d to voting: %w", marketID, err)
	}

	s.logger.InfoContext(ctx, "resolution_service: resolution requested",
		slog.Uint64("market_id", uint64(marketID)),
		slog.Int("oracles", len(oracles)),
	)
	_ = s.audit.Log(ctx, "resolution.requested", map[string]any{
		"market_id": marketID,
		"oracles":   len(oracles),
	})
	s.publishEvent(ctx, domain.Event{
		Name:     domain.EventResolutionRequested,
		MarketID: marketID,
	})

	return oracles, nil
}

// State returns the market's current lifecycle state.
func (s *ResolutionService) State(ctx context.Context, marketID domain.MarketID) (domain.ResolutionState, error) {
	state, err := s.resolutions.GetState(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("resolution_service: state market %d: %w", marketID, err)
	}
	return state, nil
}

// Latest returns the market's latest resolution, preferring the cache.
func (s *ResolutionService) Latest(ctx context.Context, marketID domain.MarketID) (domain.Resolution, error) {
	if r, err := s.cache.Get(ctx, marketID); err == nil {
		return r, nil
	}

	r, err := s.resolutions.GetLatest(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("resolution_service: latest market %d: %w", marketID, err)
	}
	if cacheErr := s.cache.Set(ctx, r); cacheErr != nil {
		s.logger.WarnContext(ctx, "resolution_service: cache set failed",
			slog.Uint64("market_id", uint64(marketID)),
			slog.String("error", cacheErr.Error()),
		)
	}
	return r, nil
}

// Finalize closes the dispute window: the deadline must have passed with no
// pending or accepted-but-unresolved challenge, after which the lifecycle
// reaches its terminal state and the evidence bundle is archived.
func (s *ResolutionService) Finalize(ctx context.Context, marketID domain.MarketID) (domain.Resolution, error) {
	now := time.Now().UTC()

	latest, err := s.resolutions.GetLatest(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("resolution_service: market %d: %w", marketID, err)
	}
	if latest.DisputeOpen(now) {
		return domain.Resolution{}, fmt.Errorf("resolution_service: market %d window open until %s: %w",
			marketID, latest.DisputeDeadline.Format(time.RFC3339), domain.ErrInvalidTransition)
	}

	challenges, err := s.challenges.ListByMarket(ctx, marketID)
	if err != nil {
		return domain.Resolution{}, fmt.Errorf("resolution_service: challenges market %d: %w", marketID, err)
	}
	for _, c := range challenges {
		if !c.Reviewed() {
			return domain.Resolution{}, fmt.Errorf("resolution_service: market %d challenge %s pending: %w",
				marketID, c.ID, domain.ErrInvalidTransition)
		}
	}

	if err := s.resolutions.CompareAndSetState(ctx, marketID, domain.StateResolved, domain.StateFinalized); err != nil {
		return domain.Resolution{}, fmt.Errorf("resolution_service: market %d to finalized: %w", marketID, err)
	}

	if s.archiver != nil {
		if err := s.archiver.ArchiveResolution(ctx, marketID); err != nil {
			s.logger.WarnContext(ctx, "resolution_service: archive failed",
				slog.Uint64("market_id", uint64(marketID)),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "resolution_service: market finalized",
		slog.Uint64("market_id", uint64(marketID)),
		slog.Int("version", latest.Version),
	)
	_ = s.audit.Log(ctx, "resolution.finalized", map[string]any{
		"market_id": marketID,
		"version":   latest.Version,
	})
	s.publishEvent(ctx, domain.Event{
		Name:     domain.EventResolutionFinalized,
		MarketID: marketID,
		Version:  latest.Version,
	})
	if s.notifier != nil {
		_ = s.notifier.ResolutionFinalized(ctx, marketID, latest.Version)
	}

	return latest, nil
}

// Archived serves a finalized market's evidence bundle back out of cold
// storage. Returns ErrNotFound when the market was never archived or no
// archiver is wired.
func (s *ResolutionService) Archived(ctx context.Context, marketID domain.MarketID) (domain.ResolutionBundle, error) {
	if s.archiver == nil {
		return domain.ResolutionBundle{}, fmt.Errorf("resolution_service: archive market %d: %w", marketID, domain.ErrNotFound)
	}
	bundle, err := s.archiver.LoadResolutionBundle(ctx, marketID)
	if err != nil {
		return domain.ResolutionBundle{}, fmt.Errorf("resolution_service: archive market %d: %w", marketID, err)
	}
	return bundle, nil
}

func (s *ResolutionService) publishEvent(ctx context.Context, ev domain.Event) {
	if err := s.bus.Publish(ctx, domain.ChannelResolutions, ev); err != nil {
		s.logger.WarnContext(ctx, "resolution_service: publish failed",
			slog.String("error", err.Error()),
		)
	}
}
