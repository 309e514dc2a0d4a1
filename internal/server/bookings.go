package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) HandleGetBooking(c *gin.Context) {
	tenantID, err := parseID(c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	bookingID, err := parseID(c.Param("booking_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	booking, err := s.bookingSvc.Get(c.Request.Context(), tenantID, bookingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) HandleCancelBooking(c *gin.Context) {
	tenantID, err := parseID(c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	bookingID, err := parseID(c.Param("booking_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req cancelRequest
	_ = c.ShouldBindJSON(&req)

	booking, err := s.bookingSvc.Cancel(c.Request.Context(), tenantID, bookingID, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}
