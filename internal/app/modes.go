package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veilmarkets/oraclecore/internal/domain"
	"github.com/veilmarkets/oraclecore/internal/herding"
	"github.com/veilmarkets/oraclecore/internal/server"
	"github.com/veilmarkets/oraclecore/internal/server/handler"
	"github.com/veilmarkets/oraclecore/internal/service"
)

// sweepInterval is how often the worker looks for markets ready to resolve.
const sweepInterval = time.Minute

// services bundles the domain services shared by the server and worker modes.
type services struct {
	oracle      *service.OracleService
	vote        *service.VoteService
	aggregation *service.AggregationService
	dispute     *service.DisputeService
	resolution  *service.ResolutionService
}

// buildServices constructs the domain services on top of the wired
// dependencies.
func (a *App) buildServices(deps *Dependencies) *services {
	detector := herding.NewDetector(herding.Config{
		RapidConsensusWeight:    a.cfg.Herding.RapidConsensusWeight,
		LowConvictionWeight:     a.cfg.Herding.LowConvictionWeight,
		SelfDeviationWeight:     a.cfg.Herding.SelfDeviationWeight,
		FavoriteFollowingWeight: a.cfg.Herding.FavoriteWeight,
		MediumThreshold:         a.cfg.Herding.MediumThreshold,
		HighThreshold:           a.cfg.Herding.HighThreshold,
		CriticalThreshold:       a.cfg.Herding.CriticalThreshold,
		WindowSize:              a.cfg.Herding.WindowSize,
	})

	oracleSvc := service.NewOracleService(deps.OracleStore, deps.AuditStore, a.logger)

	voteSvc := service.NewVoteService(
		deps.MarketStore,
		deps.VoteStore,
		deps.ResolutionStore,
		deps.ConfidenceHistory,
		deps.VoteWindow,
		deps.Computer,
		detector,
		deps.SignalBus,
		deps.AuditStore,
		randomNonce,
		a.logger,
	).WithNotifier(deps.Notifier)

	tallyCfg := herding.DefaultTallyScanConfig()
	if a.cfg.Aggregation.TallyFlagThreshold > 0 {
		tallyCfg.DisputeFlagThreshold = a.cfg.Aggregation.TallyFlagThreshold
	}
	aggSvc := service.NewAggregationService(
		service.AggregationConfig{
			Timeout:       a.cfg.Aggregation.Timeout.Duration,
			DisputeWindow: a.cfg.Aggregation.DisputeWindow.Duration,
			TallyScan:     tallyCfg,
		},
		deps.MarketStore,
		deps.VoteStore,
		deps.ResolutionStore,
		deps.OracleStore,
		deps.ResolutionCache,
		deps.LockManager,
		deps.Computer,
		deps.SignalBus,
		deps.AuditStore,
		a.logger,
	)

	disputeSvc := service.NewDisputeService(
		service.DisputeConfig{
			MinBond:      a.cfg.Dispute.MinBond,
			ReviewWindow: a.cfg.Dispute.ReviewWindow.Duration,
		},
		deps.MarketStore,
		deps.ResolutionStore,
		deps.ChallengeStore,
		aggSvc,
		deps.SignalBus,
		deps.AuditStore,
		a.logger,
	).WithNotifier(deps.Notifier)

	resolutionSvc := service.NewResolutionService(
		deps.MarketStore,
		deps.VoteStore,
		deps.ResolutionStore,
		deps.ChallengeStore,
		oracleSvc,
		deps.ResolutionCache,
		deps.SignalBus,
		deps.AuditStore,
		a.logger,
	).WithArchiver(deps.Archiver).WithNotifier(deps.Notifier)

	return &services{
		oracle:      oracleSvc,
		vote:        voteSvc,
		aggregation: aggSvc,
		dispute:     disputeSvc,
		resolution:  resolutionSvc,
	}
}

// ServerMode runs only the HTTP API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// WorkerMode runs only the background loops: the resolution sweeper and the
// dispute flag listener. Useful when the HTTP API is scaled separately.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startWorkers(ctx, g, deps, svcs)

	return g.Wait()
}

// FullMode runs the HTTP API and the background loops in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	a.startWorkers(ctx, g, deps, svcs)

	return g.Wait()
}

// startHTTPServer adds the API server goroutines to the errgroup. The server
// is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	srv := server.NewServer(
		server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIKey:          a.cfg.Server.APIKey,
			RateLimit:       a.cfg.Server.RateLimit,
			RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		},
		server.Handlers{
			Health:      handler.NewHealthHandler(a.logger),
			Markets:     handler.NewMarketHandler(deps.MarketStore, a.logger),
			Oracles:     handler.NewOracleHandler(svcs.oracle, a.logger),
			Votes:       handler.NewVoteHandler(svcs.vote, a.logger),
			Resolutions: handler.NewResolutionHandler(svcs.resolution, svcs.aggregation, a.logger),
			Disputes:    handler.NewDisputeHandler(svcs.dispute, a.logger),
		},
		deps.RateLimiter,
		a.logger,
	)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startWorkers adds the resolution sweeper and dispute flag listener to the
// errgroup.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	g.Go(func() error {
		return a.runResolutionSweeper(ctx, deps, svcs)
	})
	g.Go(func() error {
		return a.runDisputeListener(ctx, deps)
	})
}

// runResolutionSweeper periodically scans unresolved markets and drives those
// past their voting deadline through the resolution pipeline. Every step is
// idempotent, so racing against API-triggered resolutions is harmless: the
// loser of each race gets a sentinel error and moves on.
func (a *App) runResolutionSweeper(ctx context.Context, deps *Dependencies, svcs *services) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		markets, err := deps.MarketStore.ListUnresolved(ctx, domain.ListOpts{Limit: 100})
		if err != nil {
			a.logger.WarnContext(ctx, "sweeper: list unresolved failed",
				slog.String("error", err.Error()),
			)
			continue
		}

		now := time.Now().UTC()
		for _, m := range markets {
			if now.Before(m.VotingEndsAt) {
				continue
			}
			a.sweepMarket(ctx, m.ID, svcs)
		}
	}
}

// sweepMarket advances one market: open the lifecycle if needed, then run
// aggregation.
func (a *App) sweepMarket(ctx context.Context, marketID domain.MarketID, svcs *services) {
	if _, err := svcs.resolution.RequestResolution(ctx, marketID); err != nil {
		switch {
		case errors.Is(err, domain.ErrResolutionInProgress):
			// Lifecycle already open; fall through to aggregation.
		case errors.Is(err, domain.ErrInsufficientOracles):
			a.logger.WarnContext(ctx, "sweeper: not enough qualified oracles",
				slog.Uint64("market_id", uint64(marketID)),
			)
			return
		default:
			a.logger.WarnContext(ctx, "sweeper: request resolution failed",
				slog.Uint64("market_id", uint64(marketID)),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	res, err := svcs.aggregation.Aggregate(ctx, marketID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyAggregating),
			errors.Is(err, domain.ErrInvalidTransition):
			// Another worker or an API call owns this market right now.
			a.logger.DebugContext(ctx, "sweeper: market busy",
				slog.Uint64("market_id", uint64(marketID)),
			)
		default:
			a.logger.WarnContext(ctx, "sweeper: aggregation failed",
				slog.Uint64("market_id", uint64(marketID)),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	a.logger.InfoContext(ctx, "sweeper: market resolved",
		slog.Uint64("market_id", uint64(marketID)),
		slog.Int("version", res.Version),
		slog.Int("consensus_strength", int(res.ConsensusStrength)),
	)
}

// runDisputeListener consumes manipulation flags published by the aggregation
// engine and forwards them to the operator channels.
func (a *App) runDisputeListener(ctx context.Context, deps *Dependencies) error {
	ch, err := deps.SignalBus.Subscribe(ctx, domain.ChannelDisputes)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Name != domain.EventDisputeFlagged {
				continue
			}
			a.logger.WarnContext(ctx, "dispute flag received",
				slog.Uint64("market_id", uint64(ev.MarketID)),
				slog.Int("version", ev.Version),
				slog.Int("score", int(ev.Score)),
			)
			if err := deps.Notifier.DisputeFlagged(ctx, ev); err != nil {
				a.logger.WarnContext(ctx, "dispute flag notify failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
