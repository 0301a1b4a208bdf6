package handler

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/dto"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/service"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/response"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/telemetry"
)

// SessionHandler serves performances, sessions and their reservation lists
type SessionHandler struct {
	lookupService service.LookupService
	seatGuard     service.SeatGuard
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(lookupService service.LookupService, seatGuard service.SeatGuard) *SessionHandler {
	return &SessionHandler{
		lookupService: lookupService,
		seatGuard:     seatGuard,
	}
}

// ListPerformances handles GET /performances
func (h *SessionHandler) ListPerformances(c *gin.Context) {
	names, err := h.lookupService.ListPerformanceNames(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, names, len(names))
}

// ListSessions handles GET /performances/:name/sessions
func (h *SessionHandler) ListSessions(c *gin.Context) {
	sessions, err := h.lookupService.ListSessions(c.Request.Context(), c.Param("name"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, sessions, len(sessions))
}

// GetSession handles GET /sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.lookupService.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, session)
}

// ListReservations handles GET /sessions/:id/reservations
func (h *SessionHandler) ListReservations(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.session.reservations")
	defer span.End()

	var q dto.ListReservationsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		invalidRequest(c, span, err)
		return
	}
	sessionID := c.Param("id")
	span.SetAttributes(attribute.String("session_id", sessionID))

	rs, err := h.lookupService.ListReservations(ctx, sessionID, &q)
	if err != nil {
		fail(c, span, err)
		return
	}
	response.List(c, rs, len(rs))
}

// SeatMap handles GET /sessions/:id/seats
func (h *SessionHandler) SeatMap(c *gin.Context) {
	m, err := h.seatGuard.SeatMap(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, m)
}

// Stats handles GET /sessions/:id/stats
func (h *SessionHandler) Stats(c *gin.Context) {
	stats, err := h.lookupService.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, stats)
}
