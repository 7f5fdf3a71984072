package server

import (
	"errors"
	"net/http"

	"github.com/dagbolade/sudomode/internal/metrics"
	"github.com/dagbolade/sudomode/internal/policy"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type PolicyHandler struct {
	evaluator policy.Evaluator
	metrics   *metrics.Metrics
}

func NewPolicyHandler(evaluator policy.Evaluator, m *metrics.Metrics) *PolicyHandler {
	return &PolicyHandler{evaluator: evaluator, metrics: m}
}

// List handles GET /v1/policies
func (h *PolicyHandler) List(c echo.Context) error {
	rules := h.evaluator.Rules()
	return c.JSON(http.StatusOK, map[string]any{
		"total": len(rules),
		"rules": rules,
	})
}

// Reload handles POST /v1/policies/reload. A failed reload keeps the
// active rule set.
func (h *PolicyHandler) Reload(c echo.Context) error {
	err := h.evaluator.Reload()
	h.metrics.ObserveReload(err)

	if err != nil {
		log.Error().Err(err).Msg("manual rule reload failed")
		var cfgErr *policy.ConfigurationError
		if errors.As(err, &cfgErr) {
			return errorResponse(c, http.StatusUnprocessableEntity, err.Error())
		}
		return errorResponse(c, http.StatusInternalServerError, "failed to reload rules")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": "success",
		"total":  len(h.evaluator.Rules()),
	})
}
