// Package handlers holds the Boundary API's thin HTTP adapters. Grounded
// on the teacher's internal/api/handlers.DataHandler/StocklistHandler
// shape (a handler struct wrapping the core collaborator plus a logger,
// respondJSON/respondError helpers), generalized from CRUD-style data
// endpoints to the four JobEngine entry points: start execution, get
// progress, get result, cancel execution.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis/v13/backend/internal/job"
	"github.com/wonny/aegis/v13/backend/internal/strategy"
	"github.com/wonny/aegis/v13/backend/internal/universe"
	"github.com/wonny/aegis/v13/backend/pkg/logger"
)

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

// StrategyHandler exposes JobEngine over HTTP. Any framing, validation,
// serialization, and CORS handling lives here — the core itself accepts
// plain Go calls and knows nothing about HTTP.
type StrategyHandler struct {
	engine *job.Engine
	logger *logger.Logger
}

// NewStrategyHandler creates a new strategy-execution handler.
func NewStrategyHandler(e *job.Engine, log *logger.Logger) *StrategyHandler {
	return &StrategyHandler{engine: e, logger: log}
}

// startExecutionRequest is the wire shape for POST /api/strategies/execute.
// MaxStocks is a pointer so an omitted field can be told apart from an
// explicit 0 — the former defaults to a full-universe scan, the latter is
// rejected by JobEngine as InvalidParameters.
type startExecutionRequest struct {
	StrategyID  string             `json:"strategy_id"`
	Parameters  map[string]float64 `json:"parameters"`
	Markets     []string           `json:"markets"`
	Industries  []string           `json:"industries"`
	MaxStocks   *int               `json:"max_stocks"`
	MinScore    float64            `json:"min_score"`
	WorkerCount int                `json:"worker_count"`
}

// unboundedMaxStocks stands in for "analyze the full resolved universe"
// when the caller omits max_stocks, per the "full scan as a large
// max_stocks" convention.
const unboundedMaxStocks = 1 << 20

type startExecutionResponse struct {
	ExecutionID string `json:"execution_id"`
	AcceptedAt  string `json:"accepted_at"`
}

// StartExecution starts a strategy execution job.
// POST /api/strategies/execute
func (h *StrategyHandler) StartExecution(w http.ResponseWriter, r *http.Request) {
	var req startExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	maxStocks := unboundedMaxStocks
	if req.MaxStocks != nil {
		maxStocks = *req.MaxStocks
	}

	id, err := h.engine.Start(r.Context(), job.Request{
		StrategyID:  req.StrategyID,
		Parameters:  strategy.Parameters(req.Parameters),
		Filter:      universe.Filter{Markets: req.Markets, Industries: req.Industries},
		MaxStocks:   maxStocks,
		MinScore:    req.MinScore,
		WorkerCount: req.WorkerCount,
	})
	if err != nil {
		status, msg := startErrorResponse(err)
		h.logger.WithError(err).WithField("strategy_id", req.StrategyID).Warn("Failed to start execution")
		respondError(w, status, msg)
		return
	}

	respondJSON(w, http.StatusAccepted, startExecutionResponse{
		ExecutionID: id,
		AcceptedAt:  nowRFC3339(),
	})
}

func startErrorResponse(err error) (int, string) {
	switch err {
	case job.ErrUnknownStrategy:
		return http.StatusNotFound, "unknown strategy id"
	case job.ErrInvalidParameters:
		return http.StatusBadRequest, "parameter out of declared schema range"
	case job.ErrBadFilter:
		return http.StatusBadRequest, "invalid universe filter"
	case job.ErrCapacityExceeded:
		return http.StatusTooManyRequests, "too many concurrent jobs"
	default:
		return http.StatusInternalServerError, "failed to start execution"
	}
}

// GetProgress returns the current ProgressView for an execution id.
// GET /api/strategies/executions/{id}/progress
func (h *StrategyHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	pv, err := h.engine.Progress(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "execution not found")
		return
	}
	respondJSON(w, http.StatusOK, pv)
}

// GetResult returns the sealed FinalResult for an execution id, or a
// 409-equivalent "not ready" while the job is still in flight.
// GET /api/strategies/executions/{id}/result
func (h *StrategyHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := h.engine.Result(id)
	switch err {
	case nil:
		respondJSON(w, http.StatusOK, result)
	case job.ErrNotFound:
		respondError(w, http.StatusNotFound, "execution not found")
	case job.ErrNotReady:
		respondError(w, http.StatusConflict, "result not ready")
	default:
		respondError(w, http.StatusInternalServerError, "failed to fetch result")
	}
}

// CancelExecution requests cancellation of an in-flight execution.
// POST /api/strategies/executions/{id}/cancel
func (h *StrategyHandler) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := h.engine.Cancel(id)
	switch err {
	case nil:
		respondJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
	case job.ErrNotFound:
		respondError(w, http.StatusNotFound, "execution not found")
	case job.ErrAlreadyTerminal:
		respondError(w, http.StatusConflict, "execution already terminal")
	default:
		respondError(w, http.StatusInternalServerError, "failed to cancel execution")
	}
}
