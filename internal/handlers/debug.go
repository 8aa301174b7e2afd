package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"coachconnect-chat/internal/middleware"
	"coachconnect-chat/internal/models"
	"coachconnect-chat/internal/repositories"
	"coachconnect-chat/internal/summary"
	"coachconnect-chat/internal/telemetry"
	"coachconnect-chat/internal/ws"
)

// DebugDeps are the live components the debug routes inspect. Any may be nil.
type DebugDeps struct {
	Audit     *telemetry.AuditEmitter
	Registry  *ws.Registry
	Summaries *summary.Aggregator
}

// RegisterDebugRoutes wires debug-only endpoints. Mount them behind auth.
func RegisterDebugRoutes(router gin.IRoutes, deps DebugDeps, enabled bool) {
	if !enabled {
		return
	}

	router.POST("/debug/audit-probe", func(c *gin.Context) {
		if deps.Audit == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		id := requestID(c)
		deps.Audit.Record(c.Request.Context(), telemetry.Record{
			Action:    telemetry.ActionDebugProbe,
			Text:      "audit probe",
			RequestID: id,
			UserID:    middleware.UserID(c),
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok", "request_id": id})
	})

	router.GET("/debug/presence/:user_id", func(c *gin.Context) {
		if deps.Registry == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "registry not configured"})
			return
		}
		userID := c.Param("user_id")
		devices := len(deps.Registry.HandlesFor(userID))
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "online": devices > 0, "devices": devices})
	})

	// Live projection for the caller; empty while they have no open connection.
	router.GET("/debug/summaries", func(c *gin.Context) {
		if deps.Summaries == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "aggregator not configured"})
			return
		}
		userID := middleware.UserID(c)
		chats := deps.Summaries.Summaries(userID)
		tracked := chats != nil
		if chats == nil {
			chats = []models.ChatSummary{}
		}
		repositories.SortByRecency(chats)
		c.JSON(http.StatusOK, gin.H{
			"tracked": tracked,
			"unread":  deps.Summaries.TotalUnread(userID),
			"chats":   chats,
		})
	})
}
