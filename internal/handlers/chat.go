package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"coachconnect-chat/internal/apperr"
	"coachconnect-chat/internal/delivery"
	"coachconnect-chat/internal/logging"
	"coachconnect-chat/internal/middleware"
	"coachconnect-chat/internal/models"
	"coachconnect-chat/internal/repositories"
)

// ChatHandler serves the chat list, history, send and read endpoints.
type ChatHandler struct {
	store  repositories.MessageStore
	router *delivery.Router
	log    *zap.Logger
}

func NewChatHandler(store repositories.MessageStore, router *delivery.Router, log *zap.Logger) *ChatHandler {
	return &ChatHandler{store: store, router: router, log: logging.OrNop(log)}
}

// ListChats returns the caller's chat summaries, most recent first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID := middleware.UserID(c)

	chats, err := h.store.ListChats(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("list chats failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}
	repositories.SortByRecency(chats)
	if chats == nil {
		chats = []models.ChatSummary{}
	}

	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// UnreadCount returns the authoritative unread badge count.
func (h *ChatHandler) UnreadCount(c *gin.Context) {
	userID := middleware.UserID(c)

	n, err := h.store.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("unread count failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load unread count"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread": n})
}

// GetMessages returns the conversation with a peer in send order.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	userID := middleware.UserID(c)
	peerID, ok := peerParam(c, userID)
	if !ok {
		return
	}

	msgs, err := h.store.ListConversation(c.Request.Context(), userID, peerID)
	if err != nil {
		h.log.Error("list conversation failed", zap.String("user_id", userID), zap.String("peer_id", peerID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage sends a message and waits for it to be stored.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	userID := middleware.UserID(c)
	peerID, ok := peerParam(c, userID)
	if !ok {
		return
	}

	var req struct {
		Content  string `json:"content" binding:"required"`
		ClientID string `json:"client_id" binding:"omitempty,max=64"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d, err := h.router.Send(c.Request.Context(), delivery.SendRequest{
		SenderID:   userID,
		ReceiverID: peerID,
		ClientID:   req.ClientID,
		Content:    req.Content,
		RequestID:  requestID(c),
	})
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.PublicMessage(err)})
		return
	}

	res, err := d.Wait(c.Request.Context())
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{
			"error":     apperr.PublicMessage(err),
			"client_id": d.Provisional.ClientID,
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"provisional_id": d.Provisional.ID,
		"message":        res.Message,
		"peer_online":    res.PeerOnline,
	})
}

// MarkRead marks the peer's messages to the caller as read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID := middleware.UserID(c)
	peerID, ok := peerParam(c, userID)
	if !ok {
		return
	}

	marked, err := h.router.MarkRead(c.Request.Context(), userID, peerID, nil)
	if err != nil {
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.PublicMessage(err)})
		return
	}
	unread, err := h.store.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		h.log.Warn("unread count after read failed", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"marked": marked})
		return
	}

	c.JSON(http.StatusOK, gin.H{"marked": marked, "unread": unread})
}

func peerParam(c *gin.Context, userID string) (string, bool) {
	peerID := strings.TrimSpace(c.Param("peer_id"))
	if peerID == "" || peerID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer id"})
		return "", false
	}
	return peerID, true
}
