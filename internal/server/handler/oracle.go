package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/veilmarkets/oraclecore/internal/domain"
)

// OracleService defines the methods the oracle handler requires from the
// service layer.
type OracleService interface {
	Register(ctx context.Context, o domain.Oracle) error
	Get(ctx context.Context, addr domain.PrincipalID) (domain.Oracle, error)
	Deactivate(ctx context.Context, addr domain.PrincipalID) error
}

// OracleHandler serves oracle registry endpoints.
type OracleHandler struct {
	oracles OracleService
	logger  *slog.Logger
}

// NewOracleHandler creates an OracleHandler with the given service.
func NewOracleHandler(oracles OracleService, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{
		oracles: oracles,
		logger:  logger,
	}
}

type registerOracleRequest struct {
	Address        string   `json:"address"`
	Specialization []string `json:"specialization,omitempty"`
	Stake          uint64   `json:"stake"`
}

type oracleResponse struct {
	Address            string   `json:"address"`
	Reputation         uint8    `json:"reputation"`
	Specialization     []string `json:"specialization"`
	Stake              uint64   `json:"stake"`
	Active             bool     `json:"active"`
	TotalResolutions   uint32   `json:"total_resolutions"`
	CorrectResolutions uint32   `json:"correct_resolutions"`
	RegisteredAt       string   `json:"registered_at"`
}

func toOracleResponse(o domain.Oracle) oracleResponse {
	specialization := make([]string, 0, len(o.Specialization))
	for _, c := range o.Specialization {
		specialization = append(specialization, string(c))
	}
	return oracleResponse{
		Address:            o.Address.Hex(),
		Reputation:         o.Reputation,
		Specialization:     specialization,
		Stake:              o.Stake,
		Active:             o.Active,
		TotalResolutions:   o.TotalResolutions,
		CorrectResolutions: o.CorrectResolutions,
		RegisteredAt:       o.RegisteredAt.Format(timeFormat),
	}
}

// RegisterOracle adds a new oracle to the registry.
// POST /api/oracles
func (h *OracleHandler) RegisterOracle(w http.ResponseWriter, r *http.Request) {
	var req registerOracleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	specialization := make([]domain.Category, 0, len(req.Specialization))
	for _, s := range req.Specialization {
		specialization = append(specialization, domain.Category(s))
	}

	oracle := domain.Oracle{
		Address:        domain.HexToPrincipal(req.Address),
		Specialization: specialization,
		Stake:          req.Stake,
	}
	if err := h.oracles.Register(r.Context(), oracle); err != nil {
		logHandler(h.logger, "register_oracle").WarnContext(r.Context(), "registration failed",
			slog.String("address", req.Address),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	created, err := h.oracles.Get(r.Context(), oracle.Address)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOracleResponse(created))
}

// GetOracle returns one oracle by address.
// GET /api/oracles/{address}
func (h *OracleHandler) GetOracle(w http.ResponseWriter, r *http.Request) {
	addr := pathParam(r, "address")
	if addr == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	oracle, err := h.oracles.Get(r.Context(), domain.HexToPrincipal(addr))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOracleResponse(oracle))
}

// DeactivateOracle removes an oracle from future selection.
// DELETE /api/oracles/{address}
func (h *OracleHandler) DeactivateOracle(w http.ResponseWriter, r *http.Request) {
	addr := pathParam(r, "address")
	if addr == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	if err := h.oracles.Deactivate(r.Context(), domain.HexToPrincipal(addr)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
