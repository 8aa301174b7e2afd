package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"coachconnect-chat/internal/apperr"
	"coachconnect-chat/internal/identity"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "userID"

// AuthMiddleware resolves the bearer credential on every request. Requests
// without a resolvable identity never reach the handler.
func AuthMiddleware(resolver identity.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		if identity.TokenFromHeader(header) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		userID, err := resolver.Resolve(c.Request.Context(), header)
		if err != nil {
			c.AbortWithStatusJSON(apperr.HTTPStatus(err), gin.H{"error": apperr.PublicMessage(err)})
			return
		}

		trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.String("enduser.id", userID))
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserID returns the id set by AuthMiddleware, or "".
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
