package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"coachconnect-chat/internal/apperr"
	"coachconnect-chat/internal/logging"
	"coachconnect-chat/internal/models"
	"coachconnect-chat/internal/observability"
	"coachconnect-chat/internal/session"
	"coachconnect-chat/internal/ws"
)

// WebSocketHandler upgrades authenticated requests into chat sessions.
type WebSocketHandler struct {
	sessions *session.Manager
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewWebSocketHandler(sessions *session.Manager, log *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logging.OrNop(log),
	}
}

// Handle authenticates the handshake, upgrades, resynchronizes and then
// serves the connection until it drops.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("coachconnect-chat/ws").Start(c.Request.Context(), "ws.handshake")

	credential := c.GetHeader("Authorization")
	if credential == "" {
		credential = c.Query("token")
	}
	userID, err := h.sessions.Authenticate(ctx, credential)
	if err != nil {
		span.End()
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.PublicMessage(err)})
		return
	}

	socket, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		h.log.Debug("upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	info := ws.ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID(c),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	sessionCtx := context.WithoutCancel(ctx)
	s, err := h.sessions.Open(sessionCtx, info)
	span.End()
	if err != nil {
		h.log.Error("session open failed", zap.String("user_id", userID), zap.Error(err))
		_ = socket.WriteJSON(models.ErrorEvent(string(apperr.KindOf(err)), apperr.PublicMessage(err)))
		_ = socket.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""))
		_ = socket.Close()
		return
	}

	h.sessions.Serve(sessionCtx, s, socket)
}
