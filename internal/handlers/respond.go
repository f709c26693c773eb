package handlers

import (
	"github.com/gin-gonic/gin"
)

// ErrorResponse sends the error shape every endpoint shares: {"error": msg}.
// The same shape comes back on failed WebSocket upgrades, so clients need one
// error path only.
func ErrorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}
