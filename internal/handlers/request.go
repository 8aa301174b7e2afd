package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"coachconnect-chat/internal/observability"
)

// requestID returns the id assigned by RequestIDMiddleware. Routes mounted
// without it get one minted here so audit records always correlate.
func requestID(c *gin.Context) string {
	if id := c.GetString(observability.RequestIDContextKey); id != "" {
		return id
	}
	id := observability.RequestIDFromRequest(c.Request)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(observability.RequestIDContextKey, id)
	return id
}
