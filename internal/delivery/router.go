// Package delivery accepts message intents, persists them and fans the
// result out to every live connection of both parties.
package delivery

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"coachconnect-chat/internal/apperr"
	"coachconnect-chat/internal/broker"
	"coachconnect-chat/internal/logging"
	"coachconnect-chat/internal/models"
	"coachconnect-chat/internal/observability"
	"coachconnect-chat/internal/repositories"
	"coachconnect-chat/internal/summary"
	"coachconnect-chat/internal/telemetry"
	"coachconnect-chat/internal/ws"
)

const MaxContentLength = 4000

var tracer = otel.Tracer("coachconnect-chat/delivery")

// Limiter throttles sends per sender.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (bool, error)
}

// Auditor records user-visible actions.
type Auditor interface {
	Record(ctx context.Context, rec telemetry.Record)
}

type Config struct {
	PersistTimeout time.Duration
	// CrossDeviceReadSync clears a conversation's unread count on every
	// device of the reader instead of only the device that read it.
	CrossDeviceReadSync bool
}

type SendRequest struct {
	SenderID   string
	ReceiverID string
	ClientID   string
	Content    string
	RequestID  string
	// Origin is the connection the send came from, nil for REST.
	Origin *ws.Conn
}

// Result is the outcome of a persisted send. PeerOnline is informational:
// an offline peer reads the message on their next fetch.
type Result struct {
	Message    models.Message
	PeerOnline bool
}

// Delivery tracks one send from its provisional echo to its durable result.
type Delivery struct {
	Provisional models.Message

	done   chan struct{}
	result Result
	err    error
}

func (d *Delivery) Done() <-chan struct{} {
	return d.done
}

// Wait blocks until persistence finished or ctx is done.
func (d *Delivery) Wait(ctx context.Context) (Result, error) {
	select {
	case <-d.done:
		return d.result, d.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (d *Delivery) finish(res Result, err error) {
	d.result, d.err = res, err
	close(d.done)
}

type Option func(*Router)

func WithLimiter(l Limiter) Option {
	return func(r *Router) { r.limiter = l }
}

func WithAuditor(a Auditor) Option {
	return func(r *Router) { r.audit = a }
}

func WithClock(c *Clock) Option {
	return func(r *Router) { r.clock = c }
}

type Router struct {
	store     repositories.MessageStore
	registry  *ws.Registry
	summaries *summary.Aggregator
	bus       broker.Bus
	limiter   Limiter
	audit     Auditor
	clock     *Clock
	cfg       Config
	log       *zap.Logger

	inflight sync.WaitGroup
}

func NewRouter(store repositories.MessageStore, registry *ws.Registry, summaries *summary.Aggregator, bus broker.Bus, cfg Config, log *zap.Logger, opts ...Option) *Router {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	r := &Router{
		store:     store,
		registry:  registry,
		summaries: summaries,
		bus:       bus,
		cfg:       cfg,
		log:       logging.OrNop(log),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = NewClock(nil)
	}
	return r
}

// Start subscribes the router to the event bus. Every node runs Dispatch
// for every event.
func (r *Router) Start() error {
	return r.bus.Subscribe(r.Dispatch)
}

// Send validates the request and returns the provisional message at once.
// Persistence and fan-out continue in the background and are reported to the
// origin connection with a send_ack and to callers through Delivery.Wait.
func (r *Router) Send(ctx context.Context, req SendRequest) (*Delivery, error) {
	const op = "delivery.Send"

	if err := validateSend(op, req); err != nil {
		observability.IncMessage(observability.OutcomeRejected)
		return nil, err
	}
	if r.limiter != nil {
		allowed, err := r.limiter.Allow(ctx, req.SenderID)
		if err != nil {
			r.log.Warn("rate limiter unavailable", zap.String("user_id", req.SenderID), zap.Error(err))
		}
		if !allowed {
			observability.IncMessage(observability.OutcomeRateLimited)
			return nil, apperr.RateLimited(op)
		}
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	d := &Delivery{
		Provisional: models.Message{
			ID:         models.ProvisionalID(clientID),
			ClientID:   clientID,
			SenderID:   req.SenderID,
			ReceiverID: req.ReceiverID,
			Content:    req.Content,
			CreatedAt:  r.clock.Next(req.SenderID),
		},
		done: make(chan struct{}),
	}

	r.inflight.Add(1)
	go r.persist(context.WithoutCancel(ctx), req, d)
	return d, nil
}

func (r *Router) persist(ctx context.Context, req SendRequest, d *Delivery) {
	defer r.inflight.Done()

	ctx, span := tracer.Start(ctx, "message.persist", trace.WithAttributes(
		attribute.String("chat.sender_id", req.SenderID),
		attribute.String("chat.receiver_id", req.ReceiverID),
		attribute.String("chat.client_id", d.Provisional.ClientID),
	))
	defer span.End()

	log := r.log.With(
		zap.String("user_id", req.SenderID),
		zap.String("peer_id", req.ReceiverID),
		zap.String("client_id", d.Provisional.ClientID),
	)

	pctx, cancel := context.WithTimeout(ctx, r.cfg.PersistTimeout)
	start := time.Now()
	stored, created, err := r.store.Append(pctx, d.Provisional)
	cancel()
	observability.ObservePersist(time.Since(start))

	if err != nil {
		perr := apperr.Persistence("delivery.persist", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		log.Error("message not persisted", zap.Error(err))
		observability.IncMessage(observability.OutcomeFailed)
		r.ack(req.Origin, models.SendAck{
			ClientID: d.Provisional.ClientID,
			Error:    string(apperr.KindPersistence),
		})
		r.record(ctx, telemetry.Record{
			Level:     telemetry.LevelWarn,
			Action:    telemetry.ActionMessageFailed,
			RequestID: req.RequestID,
			UserID:    req.SenderID,
			Attrs:     map[string]string{"peer_id": req.ReceiverID, "client_id": d.Provisional.ClientID},
		})
		d.finish(Result{}, perr)
		return
	}

	attrs := map[string]string{"peer_id": req.ReceiverID}
	if id, ok := stored.ID.Durable(); ok {
		span.SetAttributes(attribute.Int64("chat.message_id", id))
		log = log.With(zap.Int64("message_id", id))
		attrs["message_id"] = strconv.FormatInt(id, 10)
	}
	span.SetAttributes(attribute.Bool("chat.duplicate", !created))
	r.ack(req.Origin, models.SendAck{ClientID: d.Provisional.ClientID, OK: true, Message: &stored})

	online := r.registry.IsOnline(stored.ReceiverID)
	if !created {
		// A retry of a stored send: the first attempt already fanned it out.
		observability.IncMessage(observability.OutcomeDuplicate)
		log.Debug("duplicate send acknowledged")
		d.finish(Result{Message: stored, PeerOnline: online}, nil)
		return
	}
	observability.IncMessage(observability.OutcomePersisted)

	if err := r.bus.Publish(ctx, broker.MessageCreated(stored, connID(req.Origin))); err != nil {
		log.Warn("message stored but not fanned out", zap.Error(err))
	}
	r.record(ctx, telemetry.Record{
		Action:    telemetry.ActionMessageSent,
		RequestID: req.RequestID,
		UserID:    req.SenderID,
		Attrs:     attrs,
	})

	if !online {
		log.Debug("receiver offline, message waits for next fetch")
	}
	d.finish(Result{Message: stored, PeerOnline: online}, nil)
}

// MarkRead marks every message from peerID to userID as read and returns how
// many changed. Calling it again returns 0.
func (r *Router) MarkRead(ctx context.Context, userID, peerID string, origin *ws.Conn) (int64, error) {
	const op = "delivery.MarkRead"

	peerID = strings.TrimSpace(peerID)
	if peerID == "" || peerID == userID {
		return 0, apperr.Malformed(op, "invalid peer")
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.PersistTimeout)
	count, err := r.store.MarkRead(sctx, userID, peerID)
	cancel()
	if err != nil {
		r.log.Error("mark read failed", zap.String("user_id", userID), zap.String("peer_id", peerID), zap.Error(err))
		return 0, apperr.New(apperr.KindPersistence, op, "read state could not be stored", err)
	}

	if err := r.bus.Publish(ctx, broker.ConversationRead(userID, peerID, count, connID(origin))); err != nil {
		r.log.Warn("read stored but not fanned out", zap.String("user_id", userID), zap.Error(err))
	}
	if count > 0 {
		r.record(ctx, telemetry.Record{
			Action: telemetry.ActionConversationRead,
			UserID: userID,
			Attrs:  map[string]string{"peer_id": peerID, "count": strconv.FormatInt(count, 10)},
		})
	}
	return count, nil
}

// Drain waits for in-flight persistence to finish or ctx to expire.
func (r *Router) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) record(ctx context.Context, rec telemetry.Record) {
	if r.audit != nil {
		r.audit.Record(ctx, rec)
	}
}

func (r *Router) ack(origin *ws.Conn, ack models.SendAck) {
	if origin == nil {
		return
	}
	r.push(origin, models.ChatEvent{Type: models.EventSendAck, Ack: &ack})
}

// push never blocks. Failed pushes are dropped; the client catches up on its
// next fetch.
func (r *Router) push(h *ws.Conn, ev models.ChatEvent) bool {
	err := h.Push(ev)
	if err == nil {
		return true
	}
	reason := "closed"
	if errors.Is(err, ws.ErrBufferFull) {
		reason = "buffer_full"
	}
	observability.IncPushDrop(reason)
	r.log.Debug("push dropped",
		zap.String("user_id", h.UserID()),
		zap.String("conn_id", h.ID()),
		zap.String("event", ev.Type),
		zap.String("reason", reason),
	)
	return false
}

func validateSend(op string, req SendRequest) error {
	switch {
	case req.SenderID == "":
		return apperr.Malformed(op, "sender is required")
	case strings.TrimSpace(req.ReceiverID) == "":
		return apperr.Malformed(op, "receiver is required")
	case req.ReceiverID == req.SenderID:
		return apperr.Malformed(op, "cannot message yourself")
	case strings.TrimSpace(req.Content) == "":
		return apperr.Malformed(op, "content is required")
	case utf8.RuneCountInString(req.Content) > MaxContentLength:
		return apperr.Malformed(op, "content is too long")
	}
	return nil
}

func connID(c *ws.Conn) string {
	if c == nil {
		return ""
	}
	return c.ID()
}
