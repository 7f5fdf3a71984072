package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/dagbolade/sudomode/internal/approval"
	"github.com/dagbolade/sudomode/internal/governance"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type RequestsHandler struct {
	service  *governance.Service
	resolver *governance.Resolver
	hub      *Hub
}

func NewRequestsHandler(service *governance.Service, resolver *governance.Resolver, hub *Hub) *RequestsHandler {
	return &RequestsHandler{
		service:  service,
		resolver: resolver,
		hub:      hub,
	}
}

// List handles GET /v1/requests?status=PENDING
func (h *RequestsHandler) List(c echo.Context) error {
	var filter approval.ListFilter
	if raw := c.QueryParam("status"); raw != "" {
		status, err := approval.ParseStatus(raw)
		if err != nil {
			return errorResponse(c, http.StatusBadRequest, err.Error())
		}
		filter.Status = status
	}

	requests, err := h.service.List(c.Request().Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("failed to list requests")
		return errorResponse(c, http.StatusInternalServerError, "failed to retrieve requests")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"total":    len(requests),
		"requests": requests,
	})
}

// Get handles GET /v1/requests/:id
func (h *RequestsHandler) Get(c echo.Context) error {
	id := c.Param("id")

	req, err := h.service.Get(c.Request().Context(), id)
	if err != nil {
		return h.storeError(c, id, err)
	}
	return c.JSON(http.StatusOK, req)
}

// Approve handles POST /v1/requests/:id/approve
func (h *RequestsHandler) Approve(c echo.Context) error {
	return h.resolve(c, h.resolver.Approve, "Request approved")
}

// Reject handles POST /v1/requests/:id/reject
func (h *RequestsHandler) Reject(c echo.Context) error {
	return h.resolve(c, h.resolver.Reject, "Request rejected")
}

// Delete handles DELETE /v1/requests/:id
func (h *RequestsHandler) Delete(c echo.Context) error {
	id := c.Param("id")

	if err := h.service.Delete(c.Request().Context(), id); err != nil {
		return h.storeError(c, id, err)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":     "success",
		"request_id": id,
	})
}

type resolveFunc func(ctx context.Context, id string) (approval.Request, error)

func (h *RequestsHandler) resolve(c echo.Context, fn resolveFunc, message string) error {
	id := c.Param("id")

	req, err := fn(c.Request().Context(), id)
	if err != nil {
		return h.storeError(c, id, err)
	}

	if h.hub != nil {
		h.hub.BroadcastResolution(req)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":     "success",
		"message":    message,
		"request_id": id,
		"request":    req,
	})
}

func (h *RequestsHandler) storeError(c echo.Context, id string, err error) error {
	var conflict *approval.ConflictError
	switch {
	case errors.Is(err, approval.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{
			"error":      "request not found",
			"request_id": id,
		})
	case errors.As(err, &conflict):
		return c.JSON(http.StatusConflict, map[string]string{
			"error":          "request is already " + string(conflict.Current),
			"request_id":     id,
			"current_status": string(conflict.Current),
		})
	default:
		log.Error().Err(err).Str("request_id", id).Msg("request store failure")
		return errorResponse(c, http.StatusInternalServerError, "request store failure")
	}
}
