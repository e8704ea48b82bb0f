package handlers

import (
	"net/http"

	"github.com/wonny/aegis/v13/backend/internal/strategy/registry"
	"github.com/wonny/aegis/v13/backend/pkg/logger"
)

// RegistryHandler exposes the process-local strategy registry for client
// discovery. Not one of the four core JobEngine entry points — a thin
// convenience so callers can list valid strategy_id values before
// starting an execution.
type RegistryHandler struct {
	registry *registry.Registry
	logger   *logger.Logger
}

// NewRegistryHandler creates a new registry-listing handler.
func NewRegistryHandler(reg *registry.Registry, log *logger.Logger) *RegistryHandler {
	return &RegistryHandler{registry: reg, logger: log}
}

type strategySummary struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	RiskLevel       string  `json:"risk_level"`
	MinScoreDefault float64 `json:"min_score_default"`
}

// ListStrategies returns every registered strategy definition's summary.
// GET /api/strategies
func (h *RegistryHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	entries := h.registry.List()
	out := make([]strategySummary, len(entries))
	for i, e := range entries {
		out[i] = strategySummary{
			ID: e.Definition.ID, Name: e.Definition.Name, Category: e.Definition.Category,
			RiskLevel: e.RiskLevel, MinScoreDefault: e.MinScoreDefault,
		}
	}
	respondJSON(w, http.StatusOK, out)
}
