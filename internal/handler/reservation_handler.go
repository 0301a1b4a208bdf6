package handler

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/dto"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/service"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/response"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/telemetry"
)

// ReservationHandler handles single reservation requests
type ReservationHandler struct {
	lookupService    service.LookupService
	lifecycleService service.LifecycleService
	seatGuard        service.SeatGuard
	tokenIssuer      service.TokenIssuer
}

// ReservationHandlerConfig contains the services behind the reservation handler
type ReservationHandlerConfig struct {
	LookupService    service.LookupService
	LifecycleService service.LifecycleService
	SeatGuard        service.SeatGuard
	TokenIssuer      service.TokenIssuer
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(cfg *ReservationHandlerConfig) *ReservationHandler {
	return &ReservationHandler{
		lookupService:    cfg.LookupService,
		lifecycleService: cfg.LifecycleService,
		seatGuard:        cfg.SeatGuard,
		tokenIssuer:      cfg.TokenIssuer,
	}
}

// Create handles POST /reservations
func (h *ReservationHandler) Create(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.create")
	defer span.End()

	var req dto.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, span, err)
		return
	}
	span.SetAttributes(attribute.String("session_id", req.SessionID))

	result, err := h.lifecycleService.CreateReservation(ctx, &req)
	if err != nil {
		fail(c, span, err)
		return
	}

	span.SetAttributes(attribute.String("reservation_id", result.ID))
	span.SetStatus(codes.Ok, "")
	response.Created(c, result)
}

// Get handles GET /reservations/:id
func (h *ReservationHandler) Get(c *gin.Context) {
	r, err := h.lookupService.GetReservation(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, r)
}

// Events handles GET /reservations/:id/events
func (h *ReservationHandler) Events(c *gin.Context) {
	evts, err := h.lifecycleService.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.List(c, evts, len(evts))
}

// ChangeStatus handles PATCH /reservations/:id/status
func (h *ReservationHandler) ChangeStatus(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.status")
	defer span.End()

	var req dto.ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, span, err)
		return
	}
	id := c.Param("id")
	span.SetAttributes(attribute.String("reservation_id", id), attribute.String("status", req.Status))

	result, err := h.lifecycleService.ChangeStatus(ctx, id, &req)
	if err != nil {
		fail(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// AssignSeat handles POST /reservations/:id/seat
func (h *ReservationHandler) AssignSeat(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.seat")
	defer span.End()

	var req dto.AssignSeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, span, err)
		return
	}
	id := c.Param("id")
	span.SetAttributes(attribute.String("reservation_id", id), attribute.String("seat", req.Seat))

	result, err := h.seatGuard.AssignSeat(ctx, id, req.Seat)
	if err != nil {
		fail(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// IssueToken handles POST /reservations/:id/issue-qr
func (h *ReservationHandler) IssueToken(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.issue")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("reservation_id", id))

	result, err := h.tokenIssuer.Issue(ctx, id)
	if err != nil {
		fail(c, span, err)
		return
	}

	span.SetAttributes(attribute.Bool("reissued", result.Reissued))
	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// CheckIn handles POST /reservations/:id/check-in
func (h *ReservationHandler) CheckIn(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.reservation.check_in")
	defer span.End()

	// The note is optional, so an empty body is fine
	var req dto.CheckInRequest
	_ = c.ShouldBindJSON(&req)

	id := c.Param("id")
	span.SetAttributes(attribute.String("reservation_id", id))

	result, err := h.lifecycleService.CheckIn(ctx, id, req.Note)
	if err != nil {
		fail(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}
