package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/veilmarkets/oraclecore/internal/domain"
	"github.com/veilmarkets/oraclecore/internal/service"
)

// DisputeService defines the methods the dispute handler requires from the
// service layer.
type DisputeService interface {
	SubmitChallenge(ctx context.Context, in service.SubmitChallengeInput) (domain.DisputeChallenge, error)
	ReviewChallenge(ctx context.Context, id uuid.UUID, accept bool) (domain.DisputeChallenge, error)
	ChallengesForMarket(ctx context.Context, marketID domain.MarketID) ([]domain.DisputeChallenge, error)
}

// DisputeHandler serves dispute challenge endpoints.
type DisputeHandler struct {
	disputes DisputeService
	logger   *slog.Logger
}

// NewDisputeHandler creates a DisputeHandler with the given service.
func NewDisputeHandler(disputes DisputeService, logger *slog.Logger) *DisputeHandler {
	return &DisputeHandler{
		disputes: disputes,
		logger:   logger,
	}
}

type submitChallengeRequest struct {
	Challenger   string   `json:"challenger"`
	Reason       string   `json:"reason"`
	Stake        uint64   `json:"stake"`
	EvidenceRefs []string `json:"evidence_refs,omitempty"`
}

type challengeResponse struct {
	ID                string          `json:"id"`
	MarketID          domain.MarketID `json:"market_id"`
	ResolutionVersion int             `json:"resolution_version"`
	Challenger        string          `json:"challenger"`
	Reason            string          `json:"reason"`
	Stake             uint64          `json:"stake"`
	Status            string          `json:"status"`
	ReviewDeadline    string          `json:"review_deadline"`
	SubmittedAt       string          `json:"submitted_at"`
}

func toChallengeResponse(c domain.DisputeChallenge) challengeResponse {
	return challengeResponse{
		ID:                c.ID.String(),
		MarketID:          c.MarketID,
		ResolutionVersion: c.ResolutionVersion,
		Challenger:        c.Challenger.Hex(),
		Reason:            c.Reason,
		Stake:             c.Stake,
		Status:            string(c.Status),
		ReviewDeadline:    c.ReviewDeadline.Format(timeFormat),
		SubmittedAt:       c.SubmittedAt.Format(timeFormat),
	}
}

// SubmitChallenge files a challenge against a market's latest resolution.
// POST /api/markets/{id}/disputes
func (h *DisputeHandler) SubmitChallenge(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	var req submitChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Challenger == "" || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "challenger and reason are required")
		return
	}

	challenge, err := h.disputes.SubmitChallenge(r.Context(), service.SubmitChallengeInput{
		MarketID:     marketID,
		Challenger:   domain.HexToPrincipal(req.Challenger),
		Reason:       req.Reason,
		EvidenceRefs: req.EvidenceRefs,
		Stake:        req.Stake,
	})
	if err != nil {
		logHandler(h.logger, "submit_challenge").WarnContext(r.Context(), "challenge rejected",
			slog.Uint64("market_id", uint64(marketID)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toChallengeResponse(challenge))
}

type reviewChallengeRequest struct {
	Accept bool `json:"accept"`
}

// ReviewChallenge decides a pending challenge.
// POST /api/disputes/{id}/review
func (h *DisputeHandler) ReviewChallenge(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(pathParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid challenge id")
		return
	}

	var req reviewChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	challenge, err := h.disputes.ReviewChallenge(r.Context(), id, req.Accept)
	if err != nil {
		logHandler(h.logger, "review_challenge").WarnContext(r.Context(), "review failed",
			slog.String("challenge_id", id.String()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toChallengeResponse(challenge))
}

// ListChallenges returns all challenges filed against a market.
// GET /api/markets/{id}/disputes
func (h *DisputeHandler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	challenges, err := h.disputes.ChallengesForMarket(r.Context(), marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]challengeResponse, 0, len(challenges))
	for _, c := range challenges {
		out = append(out, toChallengeResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"challenges": out, "count": len(out)})
}
