package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

// Consensus constants. An aggregation needs at least MinConsensus
// participants, and oracle selection requires ReputationThreshold.
const (
	MinConsensus        = 3
	ReputationThreshold = 75
)

// OracleService manages the oracle registry: registration, per-market
// selection, and reputation bookkeeping.
type OracleService struct {
	oracles domain.OracleStore
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewOracleService creates an OracleService with all required dependencies.
func NewOracleService(oracles domain.OracleStore, audit domain.AuditStore, logger *slog.Logger) *OracleService {
	return &OracleService{
		oracles: oracles,
		audit:   audit,
		logger:  logger,
	}
}

// Register adds a new oracle to the registry. A fresh oracle starts at the
// neutral reputation of 50 unless the caller supplies one, and defaults to
// the general specialization.
func (s *OracleService) Register(ctx context.Context, o domain.Oracle) error {
	if len(o.Specialization) == 0 {
		o.Specialization = []domain.Category{domain.CategoryGeneral}
	}
	if o.Reputation == 0 {
		o.Reputation = 50
	}
	now := time.Now().UTC()
	if o.RegisteredAt.IsZero() {
		o.RegisteredAt = now
	}
	if o.LastActiveAt.IsZero() {
		o.LastActiveAt = now
	}
	o.Active = true

	if err := s.oracles.Create(ctx, o); err != nil {
		return fmt.Errorf("oracle_service: register %s: %w", o.Address.Hex(), err)
	}

	s.logger.InfoContext(ctx, "oracle_service: oracle registered",
		slog.String("address", o.Address.Hex()),
		slog.Int("reputation", int(o.Reputation)),
	)

	_ = s.audit.Log(ctx, "oracle.registered", map[string]any{
		"address":    o.Address.Hex(),
		"reputation": o.Reputation,
	})

	return nil
}

// Get returns an oracle by address.
func (s *OracleService) Get(ctx context.Context, addr domain.PrincipalID) (domain.Oracle, error) {
	o, err := s.oracles.GetByAddress(ctx, addr)
	if err != nil {
		return domain.Oracle{}, fmt.Errorf("oracle_service: get %s: %w", addr.Hex(), err)
	}
	return o, nil
}

// SelectForMarket picks up to count qualified oracles for a market: active,
// reputation at or above the threshold, specializing in the category either
// directly or via general. Direct specializations sort first, then by
// reputation. Returns ErrInsufficientOracles when fewer than MinConsensus
// qualify.
func (s *OracleService) SelectForMarket(ctx context.Context, marketID domain.MarketID, category domain.Category, count int) ([]domain.Oracle, error) {
	if count < MinConsensus {
		count = MinConsensus
	}

	eligible, err := s.oracles.ListEligible(ctx, category, ReputationThreshold, count)
	if err != nil {
		return nil, fmt.Errorf("oracle_service: select for market %d: %w", marketID, err)
	}
	if len(eligible) < MinConsensus {
		return nil, fmt.Errorf("oracle_service: market %d category %s has %d qualified oracles: %w",
			marketID, category, len(eligible), domain.ErrInsufficientOracles)
	}

	// Selection counts as activity; stale-oracle sweeps key off this stamp.
	now := time.Now().UTC()
	for _, o := range eligible {
		if err := s.oracles.TouchActivity(ctx, o.Address, now); err != nil {
			s.logger.WarnContext(ctx, "oracle_service: touch activity failed",
				slog.String("address", o.Address.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.DebugContext(ctx, "oracle_service: oracles selected",
		slog.Uint64("market_id", uint64(marketID)),
		slog.String("category", string(category)),
		slog.Int("count", len(eligible)),
	)

	return eligible, nil
}

// UpdateReputation records one resolution outcome for an oracle. The store
// recomputes reputation as round(100*correct/total) in a single statement,
// so concurrent resolutions touching the same oracle serialize per-oracle.
func (s *OracleService) UpdateReputation(ctx context.Context, addr domain.PrincipalID, wasCorrect bool) error {
	if err := s.oracles.RecordResolution(ctx, addr, wasCorrect); err != nil {
		return fmt.Errorf("oracle_service: update reputation %s: %w", addr.Hex(), err)
	}
	return nil
}

// Deactivate removes an oracle from selection without deleting its history.
func (s *OracleService) Deactivate(ctx context.Context, addr domain.PrincipalID) error {
	if err := s.oracles.SetActive(ctx, addr, false); err != nil {
		return fmt.Errorf("oracle_service: deactivate %s: %w", addr.Hex(), err)
	}

	s.logger.InfoContext(ctx, "oracle_service: oracle deactivated",
		slog.String("address", addr.Hex()),
	)

	_ = s.audit.Log(ctx, "oracle.deactivated", map[string]any{
		"address": addr.Hex(),
	})

	return nil
}
