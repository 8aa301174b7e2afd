package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"coachconnect-chat/internal/broker"
	"coachconnect-chat/internal/delivery"
	"coachconnect-chat/internal/middleware"
	"coachconnect-chat/internal/mocks"
	"coachconnect-chat/internal/models"
	"coachconnect-chat/internal/repositories"
	"coachconnect-chat/internal/summary"
	"coachconnect-chat/internal/ws"
)

func newRouter(t *testing.T, store repositories.MessageStore) *delivery.Router {
	t.Helper()
	r := delivery.NewRouter(store, ws.NewRegistry(), summary.New(), broker.NewLocal(),
		delivery.Config{PersistTimeout: time.Second}, zap.NewNop())
	require.NoError(t, r.Start())
	return r
}

func setupChatRouter(handler *ChatHandler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	})
	r.GET("/chats", handler.ListChats)
	r.GET("/chats/unread", handler.UnreadCount)
	r.GET("/chats/:peer_id/messages", handler.GetMessages)
	r.POST("/chats/:peer_id/messages", handler.PostMessage)
	r.POST("/chats/:peer_id/read", handler.MarkRead)
	return r
}

func seed(t *testing.T, store *repositories.MemoryStore, from, to, content string, at time.Time) {
	t.Helper()
	_, _, err := store.Append(context.Background(), models.Message{SenderID: from, ReceiverID: to, Content: content, CreatedAt: at})
	require.NoError(t, err)
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListChatsSortedByRecency(t *testing.T) {
	store := repositories.NewMemoryStore()
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	seed(t, store, "client-1", "coach", "morning run done", base)
	seed(t, store, "client-2", "coach", "sore legs", base.Add(time.Hour))
	store.AddRelationship("coach", "client-3")
	store.SetDisplayName("client-2", "Dana")
	router := setupChatRouter(NewChatHandler(store, newRouter(t, store), nil), "coach")

	rec := do(router, http.MethodGet, "/chats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Chats []models.ChatSummary `json:"chats"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Chats, 3)
	assert.Equal(t, "client-2", resp.Chats[0].PeerID)
	assert.Equal(t, "Dana", resp.Chats[0].PeerName)
	assert.Equal(t, "client-1", resp.Chats[1].PeerID)
	assert.Equal(t, "client-3", resp.Chats[2].PeerID)
	assert.False(t, resp.Chats[2].HasMessages)
}

func TestListChatsStoreError(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	store.On("ListChats", mock.Anything, "coach").Return(nil, errors.New("db down")).Once()
	router := setupChatRouter(NewChatHandler(store, nil, nil), "coach")

	rec := do(router, http.MethodGet, "/chats", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	store.AssertExpectations(t)
}

func TestUnreadCount(t *testing.T) {
	store := repositories.NewMemoryStore()
	now := time.Now().UTC()
	seed(t, store, "client-1", "coach", "a", now)
	seed(t, store, "client-2", "coach", "b", now)
	seed(t, store, "coach", "client-1", "c", now)
	router := setupChatRouter(NewChatHandler(store, newRouter(t, store), nil), "coach")

	rec := do(router, http.MethodGet, "/chats/unread", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unread":2}`, rec.Body.String())
}

func TestGetMessages(t *testing.T) {
	store := repositories.NewMemoryStore()
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	seed(t, store, "coach", "client-1", "first", base)
	seed(t, store, "client-1", "coach", "second", base.Add(time.Minute))
	seed(t, store, "client-2", "coach", "elsewhere", base)
	router := setupChatRouter(NewChatHandler(store, newRouter(t, store), nil), "coach")

	rec := do(router, http.MethodGet, "/chats/client-1/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "first", resp.Messages[0].Content)
	assert.True(t, resp.Messages[1].ID.IsDurable())

	rec = do(router, http.MethodGet, "/chats/nobody/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}

func TestGetMessagesWithSelfIsRejected(t *testing.T) {
	router := setupChatRouter(NewChatHandler(repositories.NewMemoryStore(), nil, nil), "coach")

	rec := do(router, http.MethodGet, "/chats/coach/messages", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostMessageCreated(t *testing.T) {
	store := repositories.NewMemoryStore()
	router := setupChatRouter(NewChatHandler(store, newRouter(t, store), nil), "coach")

	rec := do(router, http.MethodPost, "/chats/client-1/messages", `{"content":"hi","client_id":"tmp-7"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		ProvisionalID models.MessageID `json:"provisional_id"`
		Message       models.Message   `json:"message"`
		PeerOnline    bool             `json:"peer_online"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, models.ProvisionalID("tmp-7"), resp.ProvisionalID)
	assert.True(t, resp.Message.ID.IsDurable())
	assert.Equal(t, "tmp-7", resp.Message.ClientID)
	assert.False(t, resp.PeerOnline)

	history, err := store.ListConversation(context.Background(), "coach", "client-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPostMessagePersistenceFailure(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	store.On("Append", mock.Anything, mock.Anything).Return(nil, false, errors.New("db down")).Once()
	router := setupChatRouter(NewChatHandler(store, newRouter(t, store), nil), "coach")

	rec := do(router, http.MethodPost, "/chats/client-1/messages", `{"content":"hi","client_id":"tmp-8"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"message could not be stored","client_id":"tmp-8"}`, rec.Body.String())
	store.AssertExpectations(t)
}

func TestPostMessageValidation(t *testing.T) {
	store := repositories.NewMemoryStore()
	router := setupChatRouter(NewChatHandler(store, newRouter(t, store), nil), "coach")

	rec := do(router, http.MethodPost, "/chats/client-1/messages", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/chats/client-1/messages", `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/chats/coach/messages", `{"content":"me"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	store := repositories.NewMemoryStore()
	now := time.Now().UTC()
	seed(t, store, "client-1", "coach", "a", now)
	seed(t, store, "client-1", "coach", "b", now)
	seed(t, store, "client-2", "coach", "c", now)
	router := setupChatRouter(NewChatHandler(store, newRouter(t, store), nil), "coach")

	rec := do(router, http.MethodPost, "/chats/client-1/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"marked":2,"unread":1}`, rec.Body.String())

	rec = do(router, http.MethodPost, "/chats/client-1/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"marked":0,"unread":1}`, rec.Body.String())
}
