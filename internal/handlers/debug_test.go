package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coachconnect-chat/internal/middleware"
	"coachconnect-chat/internal/mocks"
	"coachconnect-chat/internal/models"
	"coachconnect-chat/internal/summary"
	"coachconnect-chat/internal/telemetry"
	"coachconnect-chat/internal/ws"
)

func setupDebugRouter(deps DebugDeps, enabled bool, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Next()
	})
	RegisterDebugRoutes(r, deps, enabled)
	return r
}

func TestDebugRoutesDisabled(t *testing.T) {
	r := setupDebugRouter(DebugDeps{}, false, "trainer-1")

	rec := do(r, http.MethodGet, "/debug/summaries", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugAuditProbe(t *testing.T) {
	publisher := &mocks.PublisherMock{}
	publisher.On("Publish", mock.Anything, "audit.chat", mock.Anything, mock.Anything).Return(nil).Once()
	emitter := telemetry.NewAuditEmitter(publisher, "audit.chat", "svc", "test", nil)
	r := setupDebugRouter(DebugDeps{Audit: emitter}, true, "trainer-1")

	rec := do(r, http.MethodPost, "/debug/audit-probe", "")
	require.Equal(t, http.StatusOK, rec.Code)

	envelope := publisher.Calls[0].Arguments.Get(2).(telemetry.AuditEnvelope)
	assert.Equal(t, telemetry.ActionDebugProbe, envelope.Payload.Action)
	require.NotNil(t, envelope.UserID)
	assert.Equal(t, "trainer-1", *envelope.UserID)
	assert.NotEmpty(t, envelope.RequestID)
	publisher.AssertExpectations(t)
}

func TestDebugAuditProbeWithoutEmitter(t *testing.T) {
	r := setupDebugRouter(DebugDeps{}, true, "trainer-1")

	rec := do(r, http.MethodPost, "/debug/audit-probe", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDebugPresence(t *testing.T) {
	registry := ws.NewRegistry()
	registry.Register(ws.NewConn(ws.ConnInfo{ConnID: "p", UserID: "client-2"}, 1))
	registry.Register(ws.NewConn(ws.ConnInfo{ConnID: "l", UserID: "client-2"}, 1))
	r := setupDebugRouter(DebugDeps{Registry: registry}, true, "trainer-1")

	rec := do(r, http.MethodGet, "/debug/presence/client-2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Online  bool `json:"online"`
		Devices int  `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Online)
	assert.Equal(t, 2, body.Devices)

	rec = do(r, http.MethodGet, "/debug/presence/nobody", "")
	assert.JSONEq(t, `{"user_id":"nobody","online":false,"devices":0}`, rec.Body.String())
}

func TestDebugSummaries(t *testing.T) {
	agg := summary.New()
	conn := ws.NewConn(ws.ConnInfo{ConnID: "c", UserID: "trainer-1"}, 1)
	agg.Seed(conn, []models.ChatSummary{{PeerID: "client-2", UnreadCount: 2, HasMessages: true}})
	r := setupDebugRouter(DebugDeps{Summaries: agg}, true, "trainer-1")

	rec := do(r, http.MethodGet, "/debug/summaries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Tracked bool                 `json:"tracked"`
		Unread  int                  `json:"unread"`
		Chats   []models.ChatSummary `json:"chats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Tracked)
	assert.Equal(t, 2, body.Unread)
	require.Len(t, body.Chats, 1)
	assert.Equal(t, "client-2", body.Chats[0].PeerID)

	other := setupDebugRouter(DebugDeps{Summaries: agg}, true, "offline-user")
	rec = do(other, http.MethodGet, "/debug/summaries", "")
	assert.JSONEq(t, `{"tracked":false,"unread":0,"chats":[]}`, rec.Body.String())
}
