package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	availabilitydomain "github.com/smallbiznis/reserva/internal/availability/domain"
	bookingdomain "github.com/smallbiznis/reserva/internal/booking/domain"
	commissiondomain "github.com/smallbiznis/reserva/internal/commission"
	idempotencydomain "github.com/smallbiznis/reserva/internal/idempotency/domain"
	paymentdomain "github.com/smallbiznis/reserva/internal/payment/domain"
	tenantdomain "github.com/smallbiznis/reserva/internal/tenant/domain"
	webhookdomain "github.com/smallbiznis/reserva/internal/webhook/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrTooManyRequest = errors.New("too_many_requests")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, bookingdomain.ErrSlotTaken),
		errors.Is(err, bookingdomain.ErrAlreadyTerminal),
		errors.Is(err, availabilitydomain.ErrSlotUnavailable):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, idempotencydomain.ErrInFlight):
		// The first attempt is still running. The caller retries with the
		// same key and gets the stored result.
		return http.StatusConflict, errorPayload{
			Type:    "operation_in_flight",
			Message: "a request with this idempotency key is still being processed",
		}
	case errors.Is(err, ErrTooManyRequest):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "rate limit exceeded",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, bookingdomain.ErrInvalidDate),
		errors.Is(err, bookingdomain.ErrInvalidAmount),
		errors.Is(err, bookingdomain.ErrInvalidCurrency),
		errors.Is(err, idempotencydomain.ErrInvalidKey),
		errors.Is(err, commissiondomain.ErrNegativeSubtotal),
		errors.Is(err, commissiondomain.ErrSubtotalTooLarge),
		errors.Is(err, commissiondomain.ErrInvalidRate),
		errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, paymentdomain.ErrInvalidMetadata),
		errors.Is(err, webhookdomain.ErrTenantMismatch),
		errors.Is(err, webhookdomain.ErrAccountMismatch),
		errors.Is(err, webhookdomain.ErrUnknownBooking):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, bookingdomain.ErrBookingNotFound),
		errors.Is(err, tenantdomain.ErrTenantNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
