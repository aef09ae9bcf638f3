package server

import (
	"EnergyLedger/internal/contract"
	"EnergyLedger/internal/position"
	"EnergyLedger/internal/query"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

// ContractService is the contract registry as seen by the HTTP layer.
type ContractService interface {
	Create(ctx context.Context, req contract.CreateRequest) (*contract.Contract, error)
	Get(ctx context.Context, id uuid.UUID) (*contract.Contract, error)
	List(ctx context.Context) ([]contract.Contract, error)
	Republish(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
}

// PositionService answers monthly position queries.
type PositionService interface {
	GetByMonth(ctx context.Context, year, month int) (*query.PositionSummary, error)
}

const maxBodyBytes = 1 << 20

// ============================================================================
// Contracts
// ============================================================================

type contractHandlers struct {
	svc    ContractService
	logger zerolog.Logger
}

func (h *contractHandlers) register(mux *runtime.ServeMux) error {
	routes := []struct {
		method, pattern string
		fn              runtime.HandlerFunc
	}{
		{http.MethodPost, "/api/contracts", h.create},
		{http.MethodGet, "/api/contracts", h.list},
		{http.MethodGet, "/api/contracts/{id}", h.get},
		{http.MethodPost, "/api/contracts/{id}/republish", h.republish},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.fn); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

func (h *contractHandlers) create(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req contract.CreateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	c, err := h.svc.Create(r.Context(), req)
	if err != nil {
		var verr *contract.ValidationError
		var perr *contract.PublishError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":    "invalid contract",
				"problems": verr.Problems,
			})
		case errors.As(err, &perr):
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":      "contract stored but its event could not be published; retry with POST /api/contracts/" + perr.ContractID.String() + "/republish",
				"ContractId": perr.ContractID,
			})
		default:
			h.internal(w, "create contract", err)
		}
		return
	}

	w.Header().Set("Location", "/api/contracts/"+c.ID.String())
	writeJSON(w, http.StatusCreated, toContractJSON(c))
}

func (h *contractHandlers) list(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	contracts, err := h.svc.List(r.Context())
	if err != nil {
		h.internal(w, "list contracts", err)
		return
	}

	out := make([]contractSummaryJSON, 0, len(contracts))
	for i := range contracts {
		out = append(out, toContractSummaryJSON(&contracts[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *contractHandlers) get(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := uuid.Parse(params["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contract id")
		return
	}

	c, err := h.svc.Get(r.Context(), id)
	if errors.Is(err, contract.ErrContractNotFound) {
		writeError(w, http.StatusNotFound, "contract not found")
		return
	}
	if err != nil {
		h.internal(w, "get contract", err)
		return
	}
	writeJSON(w, http.StatusOK, toContractJSON(c))
}

func (h *contractHandlers) republish(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := uuid.Parse(params["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contract id")
		return
	}

	eventID, err := h.svc.Republish(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"ContractId": id, "EventId": eventID})
	case errors.Is(err, contract.ErrContractNotFound):
		writeError(w, http.StatusNotFound, "contract not found")
	case errors.Is(err, contract.ErrEventNotPublished):
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":      "event could not be published",
			"ContractId": id,
		})
	default:
		h.internal(w, "republish contract", err)
	}
}

func (h *contractHandlers) internal(w http.ResponseWriter, op string, err error) {
	h.logger.Error().Err(err).Str("operation", op).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

type contractJSON struct {
	ID           uuid.UUID   `json:"Id"`
	Counterparty string      `json:"Counterparty"`
	Type         string      `json:"Type"`
	VolumeMwm    json.Number `json:"VolumeMwm"`
	Price        json.Number `json:"Price"`
	StartDate    string      `json:"StartDate"`
	EndDate      string      `json:"EndDate"`
	CreatedAt    string      `json:"CreatedAt"`
	Status       string      `json:"Status"`
}

type contractSummaryJSON struct {
	ID           uuid.UUID   `json:"Id"`
	Counterparty string      `json:"Counterparty"`
	Type         string      `json:"Type"`
	VolumeMwm    json.Number `json:"VolumeMwm"`
	Price        json.Number `json:"Price"`
	Status       string      `json:"Status"`
}

func toContractJSON(c *contract.Contract) contractJSON {
	return contractJSON{
		ID:           c.ID,
		Counterparty: c.Counterparty,
		Type:         c.Type.String(),
		VolumeMwm:    json.Number(c.VolumeMwm.String()),
		Price:        json.Number(c.Price.String()),
		StartDate:    c.StartDate.UTC().Format(time.RFC3339),
		EndDate:      c.EndDate.UTC().Format(time.RFC3339),
		CreatedAt:    c.CreatedAt.UTC().Format(time.RFC3339Nano),
		Status:       c.Status,
	}
}

func toContractSummaryJSON(c *contract.Contract) contractSummaryJSON {
	return contractSummaryJSON{
		ID:           c.ID,
		Counterparty: c.Counterparty,
		Type:         c.Type.String(),
		VolumeMwm:    json.Number(c.VolumeMwm.String()),
		Price:        json.Number(c.Price.String()),
		Status:       c.Status,
	}
}

// ============================================================================
// Positions
// ============================================================================

type positionHandlers struct {
	svc    PositionService
	logger zerolog.Logger
}

func (h *positionHandlers) register(mux *runtime.ServeMux) error {
	if err := mux.HandlePath(http.MethodGet, "/api/positions/{year}/{month}", h.getByMonth); err != nil {
		return fmt.Errorf("register positions route: %w", err)
	}
	return nil
}

func (h *positionHandlers) getByMonth(w http.ResponseWriter, r *http.Request, params map[string]string) {
	year, yerr := strconv.Atoi(params["year"])
	month, merr := strconv.Atoi(params["month"])
	if yerr != nil || merr != nil {
		writeError(w, http.StatusBadRequest, "year and month must be integers")
		return
	}

	summary, err := h.svc.GetByMonth(r.Context(), year, month)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summary)
	case errors.Is(err, query.ErrInvalidMonth):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, position.ErrPositionNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("no position for %04d-%02d", year, month))
	default:
		h.logger.Error().Err(err).Int("year", year).Int("month", month).Msg("position query failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// ============================================================================
// Helpers
// ============================================================================

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
