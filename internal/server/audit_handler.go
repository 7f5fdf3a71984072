package server

import (
	"net/http"
	"strconv"

	"github.com/dagbolade/sudomode/internal/audit"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type AuditHandler struct {
	store audit.Store
}

func NewAuditHandler(store audit.Store) *AuditHandler {
	return &AuditHandler{store: store}
}

// GetAuditLog handles GET /v1/audit?request_id=&limit=
func (h *AuditHandler) GetAuditLog(c echo.Context) error {
	if h.store == nil {
		return errorResponse(c, http.StatusNotFound, "audit trail is disabled")
	}

	q := audit.Query{RequestID: c.QueryParam("request_id")}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return errorResponse(c, http.StatusBadRequest, "limit must be a non-negative integer")
		}
		q.Limit = limit
	}

	entries, err := h.store.List(c.Request().Context(), q)
	if err != nil {
		log.Error().Err(err).Str("remote_addr", c.Request().RemoteAddr).Msg("failed to retrieve audit log")
		return errorResponse(c, http.StatusInternalServerError, "failed to retrieve audit log")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"total":   len(entries),
		"entries": entries,
	})
}
