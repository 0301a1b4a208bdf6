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

// RedemptionHandler serves the attendee-facing lookup and the gate scanner
type RedemptionHandler struct {
	redemptionService service.RedemptionService
	lifecycleService  service.LifecycleService
}

// NewRedemptionHandler creates a new redemption handler
func NewRedemptionHandler(redemptionService service.RedemptionService, lifecycleService service.LifecycleService) *RedemptionHandler {
	return &RedemptionHandler{
		redemptionService: redemptionService,
		lifecycleService:  lifecycleService,
	}
}

// Lookup handles POST /redemptions/lookup
func (h *RedemptionHandler) Lookup(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.redemption.lookup")
	defer span.End()

	var req dto.RedemptionLookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, span, err)
		return
	}

	result, err := h.redemptionService.Lookup(ctx, &req)
	if err != nil {
		fail(c, span, err)
		return
	}

	span.SetAttributes(attribute.Int("matches", len(result.Reservations)))
	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// CheckInByToken handles POST /check-in
func (h *RedemptionHandler) CheckInByToken(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.redemption.check_in")
	defer span.End()

	var req dto.CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, span, err)
		return
	}

	result, err := h.lifecycleService.CheckInByToken(ctx, req.Token, req.Note)
	if err != nil {
		fail(c, span, err)
		return
	}

	span.SetAttributes(attribute.String("reservation_id", result.ID))
	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}
