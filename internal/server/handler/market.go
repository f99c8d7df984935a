package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

// MarketStore defines the market metadata access the handler requires.
// Markets are owned by the orchestration layer; this surface only mirrors
// their resolution-relevant metadata.
type MarketStore interface {
	Upsert(ctx context.Context, market domain.Market) error
	GetByID(ctx context.Context, id domain.MarketID) (domain.Market, error)
	ListUnresolved(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
}

// MarketHandler serves market metadata endpoints.
type MarketHandler struct {
	markets MarketStore
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given store.
func NewMarketHandler(markets MarketStore, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

type upsertMarketRequest struct {
	Question             string `json:"question"`
	Category             string `json:"category"`
	VotingEndsAt         string `json:"voting_ends_at"`
	MinDisputeBond       uint64 `json:"min_dispute_bond,omitempty"`
	DisputeWindowSeconds int64  `json:"dispute_window_seconds,omitempty"`
}

type marketResponse struct {
	ID               domain.MarketID `json:"id"`
	Question         string          `json:"question"`
	Category         string          `json:"category"`
	VotingEndsAt     string          `json:"voting_ends_at"`
	Resolved         bool            `json:"resolved"`
	ParticipantCount int             `json:"participant_count"`
	TotalStake       uint64          `json:"total_stake"`
	ImpliedYes       uint8           `json:"implied_yes"`
	ImpliedNo        uint8           `json:"implied_no"`
	OddsConfident    bool            `json:"odds_confident"`
}

func toMarketResponse(m domain.Market) marketResponse {
	yes, no, confident := m.ImpliedOdds()
	return marketResponse{
		ID:               m.ID,
		Question:         m.Question,
		Category:         string(m.Category),
		VotingEndsAt:     m.VotingEndsAt.Format(timeFormat),
		Resolved:         m.Resolved,
		ParticipantCount: m.ParticipantCount,
		TotalStake:       m.TotalStake,
		ImpliedYes:       yes,
		ImpliedNo:        no,
		OddsConfident:    confident,
	}
}

// UpsertMarket mirrors market metadata from the orchestration layer.
// PUT /api/markets/{id}
func (h *MarketHandler) UpsertMarket(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	var req upsertMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	endsAt, err := time.Parse(time.RFC3339, req.VotingEndsAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "voting_ends_at must be RFC3339")
		return
	}
	category := domain.Category(req.Category)
	if category == "" {
		category = domain.CategoryGeneral
	}

	market := domain.Market{
		ID:             marketID,
		Question:       req.Question,
		Category:       category,
		VotingEndsAt:   endsAt,
		MinDisputeBond: req.MinDisputeBond,
		DisputeWindow:  time.Duration(req.DisputeWindowSeconds) * time.Second,
	}
	if err := h.markets.Upsert(r.Context(), market); err != nil {
		logHandler(h.logger, "upsert_market").ErrorContext(r.Context(), "upsert failed",
			slog.Uint64("market_id", uint64(marketID)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": marketID, "status": "synced"})
}

// GetMarket returns one market with its stake-implied odds.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	market, err := h.markets.GetByID(r.Context(), marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketResponse(market))
}

// ListMarkets returns unresolved markets.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.markets.ListUnresolved(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		out = append(out, toMarketResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": out, "count": len(out)})
}
