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

// ImportHandler handles vendor export uploads
type ImportHandler struct {
	importService service.ImportService
}

// NewImportHandler creates a new import handler
func NewImportHandler(importService service.ImportService) *ImportHandler {
	return &ImportHandler{importService: importService}
}

// Normalize handles POST /imports/normalize
func (h *ImportHandler) Normalize(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.import.normalize")
	defer span.End()

	var req dto.NormalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, span, err)
		return
	}
	span.SetAttributes(attribute.Int("rows", len(req.Rows)))

	result, err := h.importService.Normalize(ctx, &req)
	if err != nil {
		fail(c, span, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, result)
}

// ExtractMetadata handles POST /imports/extract-metadata
func (h *ImportHandler) ExtractMetadata(c *gin.Context) {
	var req dto.ExtractMetadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, h.importService.ExtractMetadata(c.Request.Context(), &req))
}

// Import handles POST /imports
// A new session answers 201, a replaced one 200.
func (h *ImportHandler) Import(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.import")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequest(c, span, err)
		return
	}
	span.SetAttributes(
		attribute.String("performance", req.Name),
		attribute.Int("batches", len(req.Batches)),
		attribute.Bool("force", req.Force),
	)

	result, err := h.importService.Import(ctx, &req)
	if err != nil {
		fail(c, span, err)
		return
	}

	span.SetAttributes(
		attribute.String("session_id", result.SessionID),
		attribute.Int("inserted", result.InsertedCount),
	)
	span.SetStatus(codes.Ok, "")
	if result.Created {
		response.Created(c, result)
		return
	}
	response.Success(c, result)
}
