package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veilmarkets/oraclecore/internal/codec"
	"github.com/veilmarkets/oraclecore/internal/domain"
	"github.com/veilmarkets/oraclecore/internal/herding"
)

// Notifier pushes operator-facing alerts. Satisfied by notify.Notifier; a
// nil notifier disables alerts and keeps the services testable without
// channels configured.
type Notifier interface {
	HerdingCritical(ctx context.Context, marketID domain.MarketID, voter domain.PrincipalID, score uint8) error
	ResolutionFinalized(ctx context.Context, marketID domain.MarketID, version int) error
	DisputeAccepted(ctx context.Context, marketID domain.MarketID, newVersion int) error
}

// NonceSource yields the 128-bit replay nonce for a vote submission.
// Production wiring uses crypto/rand; tests supply fixed values.
type NonceSource func() (hi, lo uint64)

// SubmitVoteInput carries one vote submission across the service boundary.
// Choice, Confidence, and Stake arrive in plaintext here; they are sealed
// before anything is persisted, and only the herding gate ever sees them.
type SubmitVoteInput struct {
	MarketID     domain.MarketID
	Voter        domain.PrincipalID
	Choice       domain.VoteChoice
	Confidence   uint8 // predicted probability, 0-100
	Conviction   uint16
	Stake        uint64
	EvidenceRefs []string
}

// VoteService is the encrypted vote ledger: it gates, seals, and persists
// submissions, keeping at most one vote per (market, voter).
type VoteService struct {
	markets     domain.MarketStore
	votes       domain.VoteStore
	resolutions domain.ResolutionStore
	history     domain.ConfidenceHistory
	window      domain.VoteWindow
	computer    domain.Computer
	detector    *herding.Detector
	bus         domain.SignalBus
	audit       domain.AuditStore
	notifier    Notifier
	nonce       NonceSource
	logger      *slog.Logger
}

// NewVoteService creates a VoteService with all required dependencies.
func NewVoteService(
	markets domain.MarketStore,
	votes domain.VoteStore,
	resolutions domain.ResolutionStore,
	history domain.ConfidenceHistory,
	window domain.VoteWindow,
	computer domain.Computer,
	detector *herding.Detector,
	bus domain.SignalBus,
	audit domain.AuditStore,
	nonce NonceSource,
	logger *slog.Logger,
) *VoteService {
	return &VoteService{
		markets:     markets,
		votes:       votes,
		resolutions: resolutions,
		history:     history,
		window:      window,
		computer:    computer,
		detector:    detector,
		bus:         bus,
		audit:       audit,
		nonce:       nonce,
		logger:      logger,
	}
}

// WithNotifier attaches a notifier for critical herding alerts.
func (s *VoteService) WithNotifier(n Notifier) *VoteService {
	s.notifier = n
	return s
}

// Submit runs the full vote intake pipeline: voting-window check, duplicate
// check, herding gate, seal, persist, stake bookkeeping. The duplicate check
// is enforced again atomically at insert time, so two racing submissions from
// the same voter cannot both land.
func (s *VoteService) Submit(ctx context.Context, in SubmitVoteInput) (domain.VoteReceipt, error) {
	now := time.Now().UTC()

	market, err := s.markets.GetByID(ctx, in.MarketID)
	if err != nil {
		return domain.VoteReceipt{}, fmt.Errorf("vote_service: market %d: %w", in.MarketID, err)
	}
	if !market.VotingOpen(now) || market.Resolved {
		return domain.VoteReceipt{}, fmt.Errorf("vote_service: market %d: %w", in.MarketID, domain.ErrVotingClosed)
	}

	// Voting also closes once the market has moved past the voting state,
	// even if the wall-clock deadline has not hit yet.
	if state, err := s.resolutions.GetState(ctx, in.MarketID); err == nil {
		switch state {
		case domain.StateRequested, domain.StateVoting:
		default:
			return domain.VoteReceipt{}, fmt.Errorf("vote_service: market %d state %s: %w", in.MarketID, state, domain.ErrVotingClosed)
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.VoteReceipt{}, fmt.Errorf("vote_service: market %d state: %w", in.MarketID, err)
	}

	// Cheap pre-check; the insert below is the authoritative atomic one.
	if exists, err := s.votes.Exists(ctx, in.MarketID, in.Voter); err != nil {
		return domain.VoteReceipt{}, fmt.Errorf("vote_service: duplicate check market %d: %w", in.MarketID, err)
	} else if exists {
		return domain.VoteReceipt{}, fmt.Errorf("vote_service: market %d voter %s: %w", in.MarketID, in.Voter.Hex(), domain.ErrDuplicateVote)
	}

	analysis, err := s.gate(ctx, in, market)
	if err != nil {
		return domain.VoteReceipt{}, err
	}

	nonceHi, nonceLo := s.nonce()
	fields := domain.VoteFields{
		MarketID:             uint64(in.MarketID),
		VoteChoice:           in.Choice,
		StakeAmount:          in.Stake,
		PredictedProbability: in.Confidence,
		ConvictionScore:      in.Conviction,
		Timestamp:            uint64(now.Unix()),
		NonceHi:              nonceHi,
		NonceLo:              nonceLo,
	}

	plaintext, err := codec.Encode(fields)
	if err != nil {
		return domain.VoteReceipt{}, fmt.Errorf("vote_service: encode vote: %w", err)
	}
	ciphertext, err := s.computer.EncryptVote(ctx, plaintext)
	if err != nil {
		return domain.VoteReceipt{}, fmt.Errorf("vote_service: seal vote: %w", err)
	}

	vote := domain.EncryptedVote{
		Voter:        in.Voter,
		MarketID:     in.MarketID,
		Ciphertext:   ciphertext,
		Confidence:   in.Confidence,
		EvidenceHash: codec.HashEvidence(in.EvidenceRefs...),
		Timestamp:    now,
		NonceHi:      nonceHi,
		NonceLo:      nonceLo,
	}
	if err := s.votes.Insert(ctx, vote); err != nil {
		return domain.VoteReceipt{}, fmt.Errorf("vote_service: insert vote market %d: %w", in.MarketID, err)
	}

	if err := s.markets.AddStake(ctx, in.MarketID, in.Choice, in.Stake); err != nil {
		// The vote is already durable; stake totals are advisory read-side
		// state, so log and carry on.
		s.logger.WarnContext(ctx, "vote_service: stake bookkeeping failed",
			slog.Uint64("market_id", uint64(in.MarketID)),
			slog.String("error", err.Error()),
		)
	}

	if err := s.history.Append(ctx, in.Voter, in.Confidence); err != nil {
		s.logger.WarnContext(ctx, "vote_service: confidence history append failed",
			slog.String("voter", in.Voter.Hex()),
			slog.String("error", err.Error()),
		)
	}
	if err := s.window.Append(ctx, in.MarketID, domain.RecentVote{Choice: in.Choice, Confidence: in.Confidence}); err != nil {
		s.logger.WarnContext(ctx, "vote_service: vote window append failed",
			slog.Uint64("market_id", uint64(in.MarketID)),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "vote_service: vote accepted",
		slog.Uint64("market_id", uint64(in.MarketID)),
		slog.String("voter", in.Voter.Hex()),
		slog.Int("herding_score", int(analysis.HerdingScore)),
	)

	s.publishEvent(ctx, domain.ChannelVotes, domain.Event{
		Name:     domain.EventVoteAccepted,
		MarketID: in.MarketID,
		Voter:    in.Voter.Hex(),
		At:       now,
	})

	return domain.VoteReceipt{
		MarketID:       in.MarketID,
		Voter:          in.Voter,
		SubmittedAt:    now,
		HerdingFlagged: analysis.Action == domain.ActionFlag || analysis.Action == domain.ActionDelay,
		HerdingScore:   analysis.HerdingScore,
	}, nil
}

// gate runs the herding detector over the submission and enforces reject.
func (s *VoteService) gate(ctx context.Context, in SubmitVoteInput, market domain.Market) (domain.HerdingAnalysis, error) {
	recent, err := s.window.Recent(ctx, in.MarketID)
	if err != nil {
		return domain.HerdingAnalysis{}, fmt.Errorf("vote_service: recent votes market %d: %w", in.MarketID, err)
	}
	own, err := s.history.Recent(ctx, in.Voter)
	if err != nil {
		return domain.HerdingAnalysis{}, fmt.Errorf("vote_service: confidence history %s: %w", in.Voter.Hex(), err)
	}

	leading := domain.VoteSkip
	switch {
	case market.YesStake > market.NoStake:
		leading = domain.VoteYes
	case market.NoStake > market.YesStake:
		leading = domain.VoteNo
	}

	analysis := s.detector.Analyze(herding.Candidate{
		Choice:        in.Choice,
		Confidence:    in.Confidence,
		LeadingChoice: leading,
	}, recent, own)

	if analysis.Action == domain.ActionReject {
		s.logger.WarnContext(ctx, "vote_service: vote rejected by herding gate",
			slog.Uint64("market_id", uint64(in.MarketID)),
			slog.String("voter", in.Voter.Hex()),
			slog.Int("score", int(analysis.HerdingScore)),
			slog.String("risk", string(analysis.RiskLevel)),
		)
		_ = s.audit.Log(ctx, "vote.herding_rejected", map[string]any{
			"market_id": in.MarketID,
			"voter":     in.Voter.Hex(),
			"score":     analysis.HerdingScore,
		})
		if s.notifier != nil && analysis.RiskLevel == domain.RiskCritical {
			_ = s.notifier.HerdingCritical(ctx, in.MarketID, in.Voter, analysis.HerdingScore)
		}
		return domain.HerdingAnalysis{}, fmt.Errorf("vote_service: market %d score %d: %w",
			in.MarketID, analysis.HerdingScore, domain.ErrHerdingRejected)
	}

	return analysis, nil
}

// VotesForMarket returns the market's encrypted votes in insertion order.
func (s *VoteService) VotesForMarket(ctx context.Context, marketID domain.MarketID) ([]domain.EncryptedVote, error) {
	votes, err := s.votes.ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("vote_service: list votes market %d: %w", marketID, err)
	}
	return votes, nil
}

func (s *VoteService) publishEvent(ctx context.Context, channel string, ev domain.Event) {
	if err := s.bus.Publish(ctx, channel, ev); err != nil {
		s.logger.WarnContext(ctx, "vote_service: publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
