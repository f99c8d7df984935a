package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/veilmarkets/oraclecore/internal/domain"
	"github.com/veilmarkets/oraclecore/internal/service"
)

// VoteService defines the methods the vote handler requires from the
// service layer.
type VoteService interface {
	Submit(ctx context.Context, in service.SubmitVoteInput) (domain.VoteReceipt, error)
	VotesForMarket(ctx context.Context, marketID domain.MarketID) ([]domain.EncryptedVote, error)
}

// VoteHandler serves encrypted vote submission endpoints.
type VoteHandler struct {
	votes  VoteService
	logger *slog.Logger
}

// NewVoteHandler creates a VoteHandler with the given service and logger.
func NewVoteHandler(votes VoteService, logger *slog.Logger) *VoteHandler {
	return &VoteHandler{
		votes:  votes,
		logger: logger,
	}
}

// submitVoteRequest is the JSON submission body. Choice, confidence, and
// stake travel over TLS to this boundary and are sealed before persistence.
type submitVoteRequest struct {
	Voter        string   `json:"voter"`
	Choice       string   `json:"choice"` // "yes" | "no" | "skip"
	Confidence   uint8    `json:"confidence"`
	Conviction   uint16   `json:"conviction"`
	Stake        uint64   `json:"stake"`
	EvidenceRefs []string `json:"evidence_refs,omitempty"`
}

type voteReceiptResponse struct {
	MarketID       domain.MarketID `json:"market_id"`
	Voter          string          `json:"voter"`
	SubmittedAt    string          `json:"submitted_at"`
	HerdingFlagged bool            `json:"herding_flagged"`
	HerdingScore   uint8           `json:"herding_score"`
}

// SubmitVote accepts one vote for a market.
// POST /api/markets/{id}/votes
func (h *VoteHandler) SubmitVote(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	var req submitVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Voter == "" {
		writeError(w, http.StatusBadRequest, "voter is required")
		return
	}

	choice, ok := parseChoice(req.Choice)
	if !ok {
		writeError(w, http.StatusBadRequest, "choice must be yes, no, or skip")
		return
	}

	receipt, err := h.votes.Submit(r.Context(), service.SubmitVoteInput{
		MarketID:     marketID,
		Voter:        domain.HexToPrincipal(req.Voter),
		Choice:       choice,
		Confidence:   req.Confidence,
		Conviction:   req.Conviction,
		Stake:        req.Stake,
		EvidenceRefs: req.EvidenceRefs,
	})
	if err != nil {
		logHandler(h.logger, "submit_vote").WarnContext(r.Context(), "vote rejected",
			slog.Uint64("market_id", uint64(marketID)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, voteReceiptResponse{
		MarketID:       receipt.MarketID,
		Voter:          receipt.Voter.Hex(),
		SubmittedAt:    receipt.SubmittedAt.Format(timeFormat),
		HerdingFlagged: receipt.HerdingFlagged,
		HerdingScore:   receipt.HerdingScore,
	})
}

// ListVotes returns the market's encrypted votes (ciphertexts only).
// GET /api/markets/{id}/votes
func (h *VoteHandler) ListVotes(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	votes, err := h.votes.VotesForMarket(r.Context(), marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	type voteEntry struct {
		Voter       string `json:"voter"`
		Confidence  uint8  `json:"confidence"`
		SubmittedAt string `json:"submitted_at"`
	}
	out := make([]voteEntry, 0, len(votes))
	for _, v := range votes {
		out = append(out, voteEntry{
			Voter:       v.Voter.Hex(),
			Confidence:  v.Confidence,
			SubmittedAt: v.Timestamp.Format(timeFormat),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"votes": out, "count": len(out)})
}

// marketIDParam parses the {id} path segment as a market ID, writing a 400 on
// failure.
func marketIDParam(w http.ResponseWriter, r *http.Request) (domain.MarketID, bool) {
	raw := pathParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return 0, false
	}
	return domain.MarketID(id), true
}

func parseChoice(s string) (domain.VoteChoice, bool) {
	switch s {
	case "yes":
		return domain.VoteYes, true
	case "no":
		return domain.VoteNo, true
	case "skip":
		return domain.VoteSkip, true
	default:
		return 0, false
	}
}
