// Package handlers exposes the engine over HTTP: the public prediction API
// and the guarded internal endpoints the oracle and operators use.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/streamside-labs/sidepool/app/modules/oracle/oracleservice"
	"github.com/streamside-labs/sidepool/app/modules/round/roundservice"
	"github.com/streamside-labs/sidepool/app/modules/round/roundtypes"
	"github.com/streamside-labs/sidepool/app/modules/settlement/settlementservice"
)

// Handlers holds the services behind the HTTP surface.
type Handlers struct {
	rounds  *roundservice.Manager
	gateway *oracleservice.Gateway
	engine  *settlementservice.Engine
	history *roundservice.HistoryReader
	logger  *slog.Logger
}

// New wires the HTTP handlers.
func New(rounds *roundservice.Manager, gateway *oracleservice.Gateway, engine *settlementservice.Engine, history *roundservice.HistoryReader, logger *slog.Logger) *Handlers {
	return &Handlers{
		rounds:  rounds,
		gateway: gateway,
		engine:  engine,
		history: history,
		logger:  logger,
	}
}

type predictRequest struct {
	Wallet string          `json:"wallet"`
	Side   roundtypes.Side `json:"side"`
}

type predictResponse struct {
	Success    bool                   `json:"success"`
	Prediction *roundtypes.Prediction `json:"prediction"`
}

// Predict accepts a wallet's side choice for the live round.
func (h *Handlers) Predict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	prediction, err := h.rounds.Predict(r.Context(), req.Wallet, req.Side)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, predictResponse{Success: true, Prediction: prediction})
}

// State returns the public projection of the live round.
func (h *Handlers) State(w http.ResponseWriter, r *http.Request) {
	state, err := h.rounds.CurrentState(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// History lists finished rounds, most recent first.
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	records, err := h.history.List(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []roundtypes.RoundHistory{}
	}
	writeJSON(w, http.StatusOK, records)
}

// RoundHealth returns the round manager's diagnostic view.
func (h *Handlers) RoundHealth(w http.ResponseWriter, r *http.Request) {
	health, err := h.rounds.Health(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

// OracleResult receives an oracle report and returns the combined outcome.
func (h *Handlers) OracleResult(w http.ResponseWriter, r *http.Request) {
	var report oracleservice.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := h.gateway.HandleReport(r.Context(), report)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		*oracleservice.Outcome
	}{Success: true, Outcome: outcome})
}

// Settle runs settlement for the current round; exposed separately so a
// crashed settlement can be resumed by operators.
func (h *Handlers) Settle(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.Settle(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Lock closes the live round to new predictions.
func (h *Handlers) Lock(w http.ResponseWriter, r *http.Request) {
	lockTime, err := h.rounds.Lock(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "lockTime": lockTime})
}

type retryRequest struct {
	RoundID string `json:"roundId"`
}

// RetryPayouts re-attempts the failed entries of a round's manifest.
func (h *Handlers) RetryPayouts(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoundID == "" {
		writeError(w, http.StatusBadRequest, "missing roundId")
		return
	}

	result, err := h.engine.RetryPayouts(r.Context(), req.RoundID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Healthz is the liveness probe.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, roundtypes.ErrInvalidInput),
		errors.Is(err, roundtypes.ErrRoundClosed),
		errors.Is(err, roundtypes.ErrInvalidTransition),
		errors.Is(err, roundtypes.ErrInvalidResult),
		errors.Is(err, roundtypes.ErrStaleResult):
		status = http.StatusBadRequest
	case errors.Is(err, roundtypes.ErrDuplicatePrediction):
		status = http.StatusConflict
	case errors.Is(err, roundtypes.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", slog.Any("error", err))
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}
