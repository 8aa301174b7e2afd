// Package session owns the connection lifecycle: handshake, registration,
// chat list resynchronization, command handling and deterministic teardown.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"coachconnect-chat/internal/apperr"
	"coachconnect-chat/internal/delivery"
	"coachconnect-chat/internal/identity"
	"coachconnect-chat/internal/logging"
	"coachconnect-chat/internal/models"
	"coachconnect-chat/internal/observability"
	"coachconnect-chat/internal/repositories"
	"coachconnect-chat/internal/summary"
	"coachconnect-chat/internal/ws"
)

type Config struct {
	SendBuffer int
	// MaxResyncAttempts bounds snapshot reloads when events race the load.
	MaxResyncAttempts int
	ResyncTimeout     time.Duration
}

type Manager struct {
	resolver  identity.Resolver
	store     repositories.MessageStore
	registry  *ws.Registry
	summaries *summary.Aggregator
	router    *delivery.Router
	events    *observability.EventPublisher
	validate  *validator.Validate
	cfg       Config
	log       *zap.Logger
}

func NewManager(
	resolver identity.Resolver,
	store repositories.MessageStore,
	registry *ws.Registry,
	summaries *summary.Aggregator,
	router *delivery.Router,
	events *observability.EventPublisher,
	cfg Config,
	log *zap.Logger,
) *Manager {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.MaxResyncAttempts <= 0 {
		cfg.MaxResyncAttempts = 3
	}
	if cfg.ResyncTimeout <= 0 {
		cfg.ResyncTimeout = 5 * time.Second
	}
	return &Manager{
		resolver:  resolver,
		store:     store,
		registry:  registry,
		summaries: summaries,
		router:    router,
		events:    events,
		validate:  newValidator(),
		cfg:       cfg,
		log:       logging.OrNop(log),
	}
}

// Session is the server side of one live connection.
type Session struct {
	conn  *ws.Conn
	state *StateMachine
	once  sync.Once
	log   *zap.Logger
}

func (s *Session) Conn() *ws.Conn { return s.conn }
func (s *Session) UserID() string { return s.conn.UserID() }
func (s *Session) State() State   { return s.state.State() }

// Authenticate resolves the handshake credential. It runs on every
// connection attempt.
func (m *Manager) Authenticate(ctx context.Context, credential string) (string, error) {
	userID, err := m.resolver.Resolve(ctx, credential)
	if err != nil {
		return "", err
	}
	return userID, nil
}

// Open registers a new connection for info.UserID and pushes a fresh chat
// list and unread count. Missed events are never replayed; the snapshot
// replaces them.
func (m *Manager) Open(ctx context.Context, info ws.ConnInfo) (*Session, error) {
	if info.ConnectedAt.IsZero() {
		info.ConnectedAt = time.Now()
	}
	s := &Session{
		conn: ws.NewConn(info, m.cfg.SendBuffer),
		log:  m.log.With(zap.String("user_id", info.UserID), zap.String("conn_id", info.ConnID)),
	}
	s.state = NewStateMachine(func(from, to State) {
		s.log.Debug("session state", zap.Stringer("from", from), zap.Stringer("to", to))
	})
	_ = s.state.Transition(Connecting)

	// The view must exist before the handle is visible so that events
	// racing the snapshot load mark it dirty.
	m.summaries.BeginSync(s.conn)
	if !m.registry.Register(s.conn) {
		m.summaries.Detach(s.conn)
		_ = s.state.Transition(Disconnected)
		return nil, fmt.Errorf("session: connection %s already registered", info.ConnID)
	}

	if err := m.resync(ctx, s); err != nil {
		m.teardown(ctx, s, "resync failed")
		return nil, err
	}
	_ = s.state.Transition(Connected)

	observability.IncWSActive()
	m.events.PublishWS(ctx, wsPayload(info, observability.WSConnect, ""), info.RequestID, info.TraceID)
	s.log.Info("connection opened", zap.String("device_id", info.DeviceID))
	return s, nil
}

// Resync reloads the chat list for s and pushes it.
func (m *Manager) Resync(ctx context.Context, s *Session) error {
	m.summaries.BeginSync(s.conn)
	return m.resync(ctx, s)
}

func (m *Manager) resync(ctx context.Context, s *Session) error {
	userID := s.UserID()
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ResyncTimeout)
	defer cancel()

	var (
		chats  []models.ChatSummary
		unread int
		err    error
	)
	for attempt := 1; ; attempt++ {
		chats, err = m.store.ListChats(ctx, userID)
		if err != nil {
			observability.IncResync("error")
			return apperr.New(apperr.KindPersistence, "session.resync", "chat list unavailable", err)
		}
		unread, err = m.store.UnreadCount(ctx, userID)
		if err != nil {
			observability.IncResync("error")
			return apperr.New(apperr.KindPersistence, "session.resync", "unread count unavailable", err)
		}
		if m.summaries.CompleteSync(s.conn, chats) {
			observability.IncResync("clean")
			break
		}
		if attempt >= m.cfg.MaxResyncAttempts {
			observability.IncResync("stale")
			s.log.Warn("chat list changed during every resync attempt", zap.Int("attempts", attempt))
			break
		}
		m.summaries.BeginSync(s.conn)
	}

	repositories.SortByRecency(chats)
	if chats == nil {
		chats = []models.ChatSummary{}
	}
	_ = s.conn.Push(models.ChatEvent{Type: models.EventChatsSnapshot, Chats: chats})
	_ = s.conn.Push(models.UnreadEvent(unread))
	return nil
}

// Handle executes one inbound command. Rejections are reported to this
// connection only and never close it.
func (m *Manager) Handle(ctx context.Context, s *Session, payload []byte) {
	var cmd models.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		m.reject(s, apperr.Malformed("session.Handle", "invalid json"))
		return
	}
	if err := m.validate.Struct(cmd); err != nil {
		m.reject(s, apperr.Malformed("session.Handle", validationMessage(err)))
		return
	}
	observability.IncWSEvent("command_" + cmd.Type)

	userID := s.UserID()
	switch cmd.Type {
	case models.CommandSend:
		_, err := m.router.Send(ctx, delivery.SendRequest{
			SenderID:   userID,
			ReceiverID: cmd.ReceiverID,
			ClientID:   cmd.ClientID,
			Content:    cmd.Content,
			RequestID:  s.conn.Info().RequestID,
			Origin:     s.conn,
		})
		if err != nil {
			_ = s.conn.Push(models.ChatEvent{Type: models.EventSendAck, Ack: &models.SendAck{
				ClientID: cmd.ClientID,
				Error:    string(apperr.KindOf(err)),
			}})
			m.reject(s, err)
		}
	case models.CommandMarkRead:
		if _, err := m.router.MarkRead(ctx, userID, cmd.PeerID, s.conn); err != nil {
			m.reject(s, err)
		}
	case models.CommandOpenConversation:
		s.conn.SetActivePeer(cmd.PeerID)
		if _, err := m.router.MarkRead(ctx, userID, cmd.PeerID, s.conn); err != nil {
			m.reject(s, err)
		}
	case models.CommandCloseConversation:
		s.conn.SetActivePeer("")
	case models.CommandSync:
		if err := m.Resync(ctx, s); err != nil {
			m.reject(s, err)
		}
	}
}

func (m *Manager) reject(s *Session, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		s.log.Error("command failed", zap.Error(err))
	} else {
		s.log.Debug("command rejected", zap.String("kind", string(kind)), zap.Error(err))
	}
	_ = s.conn.Push(models.ErrorEvent(string(kind), apperr.PublicMessage(err)))
}

// Close deregisters s and drops its chat list view. Safe to call more than
// once; only the first call has an effect.
func (m *Manager) Close(ctx context.Context, s *Session, reason string) {
	m.teardown(ctx, s, reason)
}

func (m *Manager) teardown(ctx context.Context, s *Session, reason string) {
	s.once.Do(func() {
		wasConnected := s.state.State() == Connected
		m.registry.Deregister(s.conn)
		m.summaries.Detach(s.conn)
		_ = s.state.Transition(Disconnected)

		if !wasConnected {
			return
		}
		info := s.conn.Info()
		observability.DecWSActive()
		m.events.PublishWS(ctx, wsPayload(info, observability.WSDisconnect, reason), info.RequestID, info.TraceID)
		s.log.Info("connection closed",
			zap.Duration("duration", time.Since(info.ConnectedAt)),
			zap.String("reason", reason),
		)
	})
}

// Serve runs the pumps for s on socket until either side fails, then tears
// the session down.
func (m *Manager) Serve(ctx context.Context, s *Session, socket *websocket.Conn) {
	writeDone := make(chan error, 1)
	go func() {
		writeDone <- ws.WritePump(s.conn, socket)
	}()

	err := ws.ReadPump(socket, func(payload []byte) {
		m.Handle(ctx, s, payload)
	})

	reason := ""
	if err != nil && !ws.IsNormalClose(err) {
		reason = err.Error()
		info := s.conn.Info()
		m.events.PublishWS(ctx, wsPayload(info, observability.WSError, reason), info.RequestID, info.TraceID)
	}
	m.Close(ctx, s, reason)

	if werr := <-writeDone; werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		s.log.Debug("write pump stopped", zap.Error(werr))
	}
}

func wsPayload(info ws.ConnInfo, event, reason string) observability.WSPayload {
	var duration int64
	if event != observability.WSConnect {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	return observability.WSPayload{
		WS: observability.WSDetails{
			Kind:       "chat",
			Event:      event,
			ConnID:     info.ConnID,
			DurationMS: duration,
			Reason:     reason,
		},
		Identity: observability.Identity{
			UserID:   info.UserID,
			DeviceID: info.DeviceID,
			IP:       info.IP,
		},
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid command"
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_if":
		return field + " is required"
	case "max":
		return field + " is too long"
	case "oneof":
		return "unknown command type"
	default:
		return "invalid " + field
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
