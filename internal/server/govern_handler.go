package server

import (
	"net/http"

	"github.com/dagbolade/sudomode/internal/governance"
	"github.com/dagbolade/sudomode/internal/policy"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type GovernHandler struct {
	service *governance.Service
}

func NewGovernHandler(service *governance.Service) *GovernHandler {
	return &GovernHandler{service: service}
}

// Govern handles POST /v1/govern
func (h *GovernHandler) Govern(c echo.Context) error {
	var req policy.Request
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, err.Error())
	}

	decision, err := h.service.Govern(c.Request().Context(), req)
	if err != nil {
		log.Error().Err(err).Str("resource", req.Resource).Str("action", req.Action).Msg("governance failed")
		return errorResponse(c, http.StatusInternalServerError, "failed to record approval request")
	}

	return c.JSON(http.StatusOK, decision)
}

func errorResponse(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{
		"error": message,
	})
}
