package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	bookingdomain "github.com/smallbiznis/reserva/internal/booking/domain"
	idempotencydomain "github.com/smallbiznis/reserva/internal/idempotency/domain"
)

type checkoutRequest struct {
	SlotDate       string `json:"slot_date" binding:"required"`
	SubtotalAmount int64  `json:"subtotal_amount" binding:"required"`
	Currency       string `json:"currency" binding:"required"`
}

func (s *Server) HandleCheckout(c *gin.Context) {
	tenantID, err := parseID(c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" {
		AbortWithError(c, idempotencydomain.ErrInvalidKey)
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.bookingSvc.Checkout(c.Request.Context(), bookingdomain.CheckoutRequest{
		TenantID:       tenantID,
		SlotDate:       req.SlotDate,
		SubtotalAmount: req.SubtotalAmount,
		Currency:       req.Currency,
		IdempotencyKey: key,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	switch result.Status {
	case bookingdomain.CheckoutStatusCreated:
		c.JSON(http.StatusCreated, result)
	case bookingdomain.CheckoutStatusSlotTaken:
		c.JSON(http.StatusConflict, result)
	default:
		c.JSON(http.StatusOK, result)
	}
}
