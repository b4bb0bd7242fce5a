package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tailpay/internal/ws"
)

const version = "1.0.0"

// Health handles GET /healthz.
func Health(hub *ws.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"status":      "healthy",
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"version":     version,
			"subscribers": hub.ClientCount(),
		})
	}
}
