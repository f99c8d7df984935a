package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

// ResolutionService defines the lifecycle methods the resolution handler
// requires from the service layer.
type ResolutionService interface {
	RequestResolution(ctx context.Context, marketID domain.MarketID) ([]domain.Oracle, error)
	State(ctx context.Context, marketID domain.MarketID) (domain.ResolutionState, error)
	Latest(ctx context.Context, marketID domain.MarketID) (domain.Resolution, error)
	Finalize(ctx context.Context, marketID domain.MarketID) (domain.Resolution, error)
	Archived(ctx context.Context, marketID domain.MarketID) (domain.ResolutionBundle, error)
}

// AggregationRunner triggers one aggregation attempt.
type AggregationRunner interface {
	Aggregate(ctx context.Context, marketID domain.MarketID) (domain.Resolution, error)
}

// ResolutionHandler serves the resolution lifecycle endpoints.
type ResolutionHandler struct {
	resolutions ResolutionService
	aggregator  AggregationRunner
	logger      *slog.Logger
}

// NewResolutionHandler creates a ResolutionHandler with the given services.
func NewResolutionHandler(resolutions ResolutionService, aggregator AggregationRunner, logger *slog.Logger) *ResolutionHandler {
	return &ResolutionHandler{
		resolutions: resolutions,
		aggregator:  aggregator,
		logger:      logger,
	}
}

type resolutionResponse struct {
	MarketID          domain.MarketID `json:"market_id"`
	Version           int             `json:"version"`
	Result            *bool           `json:"result"`
	Confidence        uint8           `json:"confidence"`
	ConsensusStrength uint8           `json:"consensus_strength"`
	ManipulationScore uint8           `json:"manipulation_score"`
	Participants      int             `json:"participants"`
	ResolvedAt        string          `json:"resolved_at"`
	DisputeDeadline   string          `json:"dispute_deadline"`
	Superseded        bool            `json:"superseded"`
}

func toResolutionResponse(r domain.Resolution) resolutionResponse {
	return resolutionResponse{
		MarketID:          r.MarketID,
		Version:           r.Version,
		Result:            r.Result,
		Confidence:        r.Confidence,
		ConsensusStrength: r.ConsensusStrength,
		ManipulationScore: r.ManipulationScore,
		Participants:      len(r.ParticipatingOracles),
		ResolvedAt:        r.ResolvedAt.Format(timeFormat),
		DisputeDeadline:   r.DisputeDeadline.Format(timeFormat),
		Superseded:        r.Superseded,
	}
}

// RequestResolution opens the resolution lifecycle for a market.
// POST /api/markets/{id}/resolution
func (h *ResolutionHandler) RequestResolution(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	oracles, err := h.resolutions.RequestResolution(r.Context(), marketID)
	if err != nil {
		logHandler(h.logger, "request_resolution").WarnContext(r.Context(), "request failed",
			slog.Uint64("market_id", uint64(marketID)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	selected := make([]string, 0, len(oracles))
	for _, o := range oracles {
		selected = append(selected, o.Address.Hex())
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"market_id": marketID,
		"state":     domain.StateVoting,
		"oracles":   selected,
	})
}

// Aggregate triggers one aggregation attempt for a market.
// POST /api/markets/{id}/aggregate
func (h *ResolutionHandler) Aggregate(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	resolution, err := h.aggregator.Aggregate(r.Context(), marketID)
	if err != nil {
		logHandler(h.logger, "aggregate").WarnContext(r.Context(), "aggregation failed",
			slog.Uint64("market_id", uint64(marketID)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toResolutionResponse(resolution))
}

// GetResolution returns the market's latest resolution.
// GET /api/markets/{id}/resolution
func (h *ResolutionHandler) GetResolution(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	resolution, err := h.resolutions.Latest(r.Context(), marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResolutionResponse(resolution))
}

// GetState returns the market's lifecycle state.
// GET /api/markets/{id}/resolution/state
func (h *ResolutionHandler) GetState(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	state, err := h.resolutions.State(r.Context(), marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": marketID,
		"state":     state,
	})
}

// GetArchive returns the archived evidence bundle for a finalized market.
// GET /api/markets/{id}/resolution/archive
func (h *ResolutionHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	bundle, err := h.resolutions.Archived(r.Context(), marketID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// Finalize closes the dispute window for a market.
// POST /api/markets/{id}/finalize
func (h *ResolutionHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	marketID, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	resolution, err := h.resolutions.Finalize(r.Context(), marketID)
	if err != nil {
		logHandler(h.logger, "finalize").WarnContext(r.Context(), "finalize failed",
			slog.Uint64("market_id", uint64(marketID)),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResolutionResponse(resolution))
}
