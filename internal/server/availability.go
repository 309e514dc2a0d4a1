package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) HandleAvailability(c *gin.Context) {
	tenantID, err := parseID(c.Param("tenant_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	day := strings.TrimSpace(c.Query("date"))
	decision, err := s.availabilitySvc.Check(c.Request.Context(), tenantID, day)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}
