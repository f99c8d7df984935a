package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/veilmarkets/oraclecore/internal/codec"
	"github.com/veilmarkets/oraclecore/internal/domain"
)

// Dispute defaults.
const (
	DefaultMinDisputeBond = uint64(1_000)
	DefaultReviewWindow   = 48 * time.Hour
)

// DisputeConfig tunes the dispute manager.
type DisputeConfig struct {
	// MinBond is the fallback minimum challenge stake when a market does not
	// configure its own.
	MinBond uint64
	// ReviewWindow bounds how long a challenge may sit pending.
	ReviewWindow time.Duration
}

// DefaultDisputeConfig returns the production defaults.
func DefaultDisputeConfig() DisputeConfig {
	return DisputeConfig{
		MinBond:      DefaultMinDisputeBond,
		ReviewWindow: DefaultReviewWindow,
	}
}

// Aggregator re-runs a market's aggregation; satisfied by AggregationService.
type Aggregator interface {
	Aggregate(ctx context.Context, marketID domain.MarketID) (domain.Resolution, error)
}

// SubmitChallengeInput carries one dispute challenge across the service
// boundary.
type SubmitChallengeInput struct {
	MarketID     domain.MarketID
	Challenger   domain.PrincipalID
	Reason       string
	EvidenceRefs []string
	Stake        uint64
}

// DisputeService manages the challenge lifecycle against resolutions.
type DisputeService struct {
	cfg         DisputeConfig
	markets     domain.MarketStore
	resolutions domain.ResolutionStore
	challenges  domain.ChallengeStore
	aggregator  Aggregator
	bus         domain.SignalBus
	audit       domain.AuditStore
	notifier    Notifier
	logger      *slog.Logger
}

// NewDisputeService creates a DisputeService with all required dependencies.
func NewDisputeService(
	cfg DisputeConfig,
	markets domain.MarketStore,
	resolutions domain.ResolutionStore,
	challenges domain.ChallengeStore,
	aggregator Aggregator,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *DisputeService {
	if cfg.MinBond == 0 {
		cfg.MinBond = DefaultMinDisputeBond
	}
	if cfg.ReviewWindow <= 0 {
		cfg.ReviewWindow = DefaultReviewWindow
	}
	return &DisputeService{
		cfg:         cfg,
		markets:     markets,
		resolutions: resolutions,
		challenges:  challenges,
		aggregator:  aggregator,
		bus:         bus,
		audit:       audit,
		logger:      logger,
	}
}

// WithNotifier attaches a notifier for dispute outcome alerts.
func (s *DisputeService) WithNotifier(n Notifier) *DisputeService {
	s.notifier = n
	return s
}

// SubmitChallenge files a challenge against a market's latest resolution.
// The challenge must land inside the dispute window and carry at least the
// market's minimum bond.
func (s *DisputeService) SubmitChallenge(ctx context.Context, in SubmitChallengeInput) (domain.DisputeChallenge, error) {
	now := time.Now().UTC()

	latest, err := s.resolutions.GetLatest(ctx, in.MarketID)
	if err != nil {
		return domain.DisputeChallenge{}, fmt.Errorf("dispute_service: market %d: %w", in.MarketID, err)
	}
	if !latest.DisputeOpen(now) {
		return domain.DisputeChallenge{}, fmt.Errorf("dispute_service: market %d deadline %s: %w",
			in.MarketID, latest.DisputeDeadline.Format(time.RFC3339), domain.ErrDisputeWindowClosed)
	}

	minBond := s.cfg.MinBond
	if market, err := s.markets.GetByID(ctx, in.MarketID); err == nil && market.MinDisputeBond > 0 {
		minBond = market.MinDisputeBond
	}
	if in.Stake < minBond {
		return domain.DisputeChallenge{}, fmt.Errorf("dispute_service: stake %d below bond %d: %w",
			in.Stake, minBond, domain.ErrStakeTooLow)
	}

	challenge := domain.DisputeChallenge{
		ID:                uuid.New(),
		MarketID:          in.MarketID,
		ResolutionVersion: latest.Version,
		Challenger:        in.Challenger,
		Reason:            in.Reason,
		EvidenceHash:      codec.HashEvidence(in.EvidenceRefs...),
		Stake:             in.Stake,
		Status:            domain.ChallengePending,
		ReviewDeadline:    now.Add(s.cfg.ReviewWindow),
		SubmittedAt:       now,
	}
	if err := s.challenges.Create(ctx, challenge); err != nil {
		return domain.DisputeChallenge{}, fmt.Errorf("dispute_service: create challenge market %d: %w", in.MarketID, err)
	}

	// A first challenge flips the market into the disputed state; further
	// challenges against the same resolution find it there already.
	if err := s.resolutions.CompareAndSetState(ctx, in.MarketID, domain.StateResolved, domain.StateDisputed); err != nil {
		s.logger.DebugContext(ctx, "dispute_service: market already disputed",
			slog.Uint64("market_id", uint64(in.MarketID)),
		)
	}

	s.logger.InfoContext(ctx, "dispute_service: challenge submitted",
		slog.Uint64("market_id", uint64(in.MarketID)),
		slog.String("challenge_id", challenge.ID.String()),
		slog.String("challenger", in.Challenger.Hex()),
	)
	_ = s.audit.Log(ctx, "challenge.submitted", map[string]any{
		"market_id":    in.MarketID,
		"challenge_id": challenge.ID.String(),
		"version":      latest.Version,
		"stake":        in.Stake,
	})
	s.publishEvent(ctx, domain.Event{
		Name:        domain.EventDisputeSubmitted,
		MarketID:    in.MarketID,
		ChallengeID: challenge.ID.String(),
	})

	return challenge, nil
}

// ReviewChallenge decides a pending challenge. The decision is one-shot: a
// second review of the same challenge gets ErrChallengeAlreadyReviewed.
// Accepting triggers a superseding re-aggregation; rejecting forfeits the
// challenger's stake to the treasury.
func (s *DisputeService) ReviewChallenge(ctx context.Context, id uuid.UUID, accept bool) (domain.DisputeChallenge, error) {
	now := time.Now().UTC()

	challenge, err := s.challenges.GetByID(ctx, id)
	if err != nil {
		return domain.DisputeChallenge{}, fmt.Errorf("dispute_service: challenge %s: %w", id, err)
	}

	status := domain.ChallengeRejected
	if accept {
		status = domain.ChallengeAccepted
	}
	if err := s.challenges.SetStatus(ctx, id, status, now); err != nil {
		return domain.DisputeChallenge{}, fmt.Errorf("dispute_service: review challenge %s: %w", id, err)
	}
	challenge.Status = status
	challenge.ReviewedAt = &now

	if accept {
		if err := s.acceptChallenge(ctx, challenge); err != nil {
			return domain.DisputeChallenge{}, err
		}
		challenge.Status = domain.ChallengeResolved
	} else {
		s.rejectChallenge(ctx, challenge)
	}

	return challenge, nil
}

// acceptChallenge re-runs aggregation, producing the superseding resolution.
func (s *DisputeService) acceptChallenge(ctx context.Context, c domain.DisputeChallenge) error {
	s.logger.InfoContext(ctx, "dispute_service: challenge accepted",
		slog.Uint64("market_id", uint64(c.MarketID)),
		slog.String("challenge_id", c.ID.String()),
	)
	_ = s.audit.Log(ctx, "challenge.accepted", map[string]any{
		"market_id":    c.MarketID,
		"challenge_id": c.ID.String(),
	})

	resolution, err := s.aggregator.Aggregate(ctx, c.MarketID)
	if err != nil {
		return fmt.Errorf("dispute_service: re-aggregate market %d: %w", c.MarketID, err)
	}

	// Superseding resolution landed; close the challenge out.
	if err := s.challenges.MarkResolved(ctx, c.ID); err != nil {
		s.logger.WarnContext(ctx, "dispute_service: mark challenge resolved failed",
			slog.String("challenge_id", c.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.publishEvent(ctx, domain.Event{
		Name:        domain.EventDisputeAccepted,
		MarketID:    c.MarketID,
		ChallengeID: c.ID.String(),
		Version:     resolution.Version,
	})
	if s.notifier != nil {
		_ = s.notifier.DisputeAccepted(ctx, c.MarketID, resolution.Version)
	}
	return nil
}

// rejectChallenge records the stake forfeiture and returns the market to the
// resolved state. The transfer itself happens on the external ledger; the
// audit entry is the core's record of it.
func (s *DisputeService) rejectChallenge(ctx context.Context, c domain.DisputeChallenge) {
	s.logger.InfoContext(ctx, "dispute_service: challenge rejected",
		slog.Uint64("market_id", uint64(c.MarketID)),
		slog.String("challenge_id", c.ID.String()),
		slog.Uint64("forfeited_stake", c.Stake),
	)
	_ = s.audit.Log(ctx, "challenge.rejected", map[string]any{
		"market_id":    c.MarketID,
		"challenge_id": c.ID.String(),
	})
	_ = s.audit.Log(ctx, "challenge.stake_forfeited", map[string]any{
		"market_id":    c.MarketID,
		"challenge_id": c.ID.String(),
		"challenger":   c.Challenger.Hex(),
		"stake":        c.Stake,
	})

	if err := s.resolutions.CompareAndSetState(ctx, c.MarketID, domain.StateDisputed, domain.StateResolved); err != nil {
		s.logger.DebugContext(ctx, "dispute_service: market not in disputed state",
			slog.Uint64("market_id", uint64(c.MarketID)),
		)
	}

	s.publishEvent(ctx, domain.Event{
		Name:        domain.EventDisputeRejected,
		MarketID:    c.MarketID,
		ChallengeID: c.ID.String(),
	})
}

// ChallengesForMarket returns all challenges filed against the market.
func (s *DisputeService) ChallengesForMarket(ctx context.Context, marketID domain.MarketID) ([]domain.DisputeChallenge, error) {
	challenges, err := s.challenges.ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("dispute_service: list challenges market %d: %w", marketID, err)
	}
	return challenges, nil
}

func (s *DisputeService) publishEvent(ctx context.Context, ev domain.Event) {
	if err := s.bus.Publish(ctx, domain.ChannelDisputes, ev); err != nil {
		s.logger.WarnContext(ctx, "dispute_service: publish failed",
			slog.String("error", err.Error()),
		)
	}
}
