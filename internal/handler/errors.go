package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
	"github.com/Jsun-cre8bara/qr-ticketing-tcats/pkg/response"
)

// errorCodes gives the machine-readable code of each domain error. The
// first match wins, so wrapped errors resolve to their innermost sentinel.
var errorCodes = []struct {
	err  error
	code string
}{
	{domain.ErrUnknownPlatform, "UNKNOWN_PLATFORM"},
	{domain.ErrInvalidSessionKey, "INVALID_SESSION_KEY"},
	{domain.ErrInvalidStatus, "INVALID_STATUS"},
	{domain.ErrInvalidSeat, "INVALID_SEAT"},
	{domain.ErrSeatNotInLayout, "SEAT_NOT_IN_LAYOUT"},
	{domain.ErrInvalidQuantity, "INVALID_QUANTITY"},
	{domain.ErrMissingField, "MISSING_FIELD"},
	{domain.ErrMissingColumn, "MISSING_COLUMN"},
	{domain.ErrDuplicateSeat, "DUPLICATE_SEAT"},
	{domain.ErrEmptyImport, "EMPTY_IMPORT"},
	{domain.ErrInvalidPhoneSuffix, "INVALID_PHONE_SUFFIX"},
	{domain.ErrStatusRequiresOperation, "STATUS_REQUIRES_OPERATION"},
	{domain.ErrInvalidToken, "INVALID_TOKEN"},
	{domain.ErrIllegalTransition, "ILLEGAL_TRANSITION"},
	{domain.ErrSeatTaken, "SEAT_TAKEN"},
	{domain.ErrSeatAlreadyAssigned, "SEAT_ALREADY_ASSIGNED"},
	{domain.ErrTokenExhausted, "TOKEN_EXHAUSTED"},
	{domain.ErrTokenCollision, "TOKEN_COLLISION"},
	{domain.ErrSessionInFlight, "SESSION_IN_FLIGHT"},
	{domain.ErrSessionNotFound, "SESSION_NOT_FOUND"},
	{domain.ErrReservationNotFound, "RESERVATION_NOT_FOUND"},
	{domain.ErrTokenNotFound, "TOKEN_NOT_FOUND"},
	{domain.ErrLayoutNotFound, "LAYOUT_NOT_FOUND"},
}

func errorCode(err error, fallback string) string {
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return fallback
}

// handleError converts domain errors to HTTP responses
func handleError(c *gin.Context, err error) {
	switch domain.Kind(err) {
	case domain.KindValidation:
		response.Error(c, http.StatusBadRequest, errorCode(err, "VALIDATION_ERROR"), err.Error())
	case domain.KindNotFound:
		response.Error(c, http.StatusNotFound, errorCode(err, "NOT_FOUND"), err.Error())
	case domain.KindConflict:
		response.Error(c, http.StatusConflict, errorCode(err, "CONFLICT"), err.Error())
	case domain.KindStorage:
		response.Retryable(c, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "storage is temporarily unavailable, retry the request")
	default:
		response.InternalError(c, err)
	}
}

// fail records err on span and writes the matching response
func fail(c *gin.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	handleError(c, err)
}

// invalidRequest answers a request body or query that did not bind
func invalidRequest(c *gin.Context, span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "invalid request")
	response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
}
