package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"coachconnect-chat/internal/apperr"
	"coachconnect-chat/internal/logging"
	"coachconnect-chat/internal/models"
)

var (
	ErrNotConnected = errors.New("session: not connected")
	ErrClientClosed = errors.New("session: client closed")
)

type ClientConfig struct {
	URL      string
	Token    string
	DeviceID string

	// MaxRetries caps reconnect attempts after the first one fails.
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// ReadTimeout must exceed the server ping period.
	ReadTimeout time.Duration
	EventBuffer int

	Dialer *websocket.Dialer
}

// Client is a reconnecting chat connection. After a drop it redials with
// bounded exponential backoff; the server answers every successful
// handshake with a fresh chats_snapshot and unread_count, so nothing missed
// while disconnected is replayed. Close is the only way to cancel it.
type Client struct {
	cfg   ClientConfig
	state *StateMachine
	log   *zap.Logger

	events chan models.ChatEvent

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	writeMu sync.Mutex
	socket  *websocket.Conn
	err     error
	done    chan struct{}
}

func NewClient(cfg ClientConfig, log *zap.Logger) *Client {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 8
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 15 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 75 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	log = logging.OrNop(log).With(zap.String("device_id", cfg.DeviceID))

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:    cfg,
		log:    log,
		events: make(chan models.ChatEvent, cfg.EventBuffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.state = NewStateMachine(func(from, to State) {
		log.Debug("client state", zap.Stringer("from", from), zap.Stringer("to", to))
	})
	return c
}

// Events delivers pushed events. It is closed when the client stops.
func (c *Client) Events() <-chan models.ChatEvent {
	return c.events
}

func (c *Client) State() State {
	return c.state.State()
}

// Done is closed when the client has stopped for good.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the client stopped, or nil while it is running.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Connect performs the first handshake, retrying like a reconnect, and
// starts the receive loop.
func (c *Client) Connect(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-c.ctx.Done():
			stop()
		case <-ctx.Done():
		}
	}()

	if err := c.connectWithRetry(ctx); err != nil {
		c.finish(err)
		close(c.events)
		return err
	}
	go c.run()
	return nil
}

func (c *Client) connectWithRetry(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialInterval
	policy.MaxInterval = c.cfg.MaxInterval
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, c.cfg.MaxRetries), ctx)

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if err := c.state.Transition(Connecting); err != nil {
			return backoff.Permanent(err)
		}
		socket, err := c.dial(ctx)
		if err != nil {
			if errors.Is(err, apperr.ErrUnauthenticated) {
				return backoff.Permanent(err)
			}
			_ = c.state.Transition(Reconnecting)
			return err
		}
		c.mu.Lock()
		c.socket = socket
		c.mu.Unlock()
		return c.state.Transition(Connected)
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("connect failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		_ = c.state.Transition(Disconnected)
		return err
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.Token)
	if c.cfg.DeviceID != "" {
		header.Set("X-Device-Id", c.cfg.DeviceID)
	}

	socket, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, apperr.Unauthenticated("session.dial", err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	_ = socket.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	socket.SetPingHandler(func(data string) error {
		_ = socket.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		err := socket.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(10*time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return socket, nil
}

func (c *Client) run() {
	defer close(c.events)
	for {
		c.mu.Lock()
		socket := c.socket
		c.mu.Unlock()

		err := c.receive(socket)
		_ = socket.Close()
		if c.ctx.Err() != nil {
			_ = c.state.Transition(Disconnected)
			c.finish(ErrClientClosed)
			return
		}

		c.log.Warn("connection dropped", zap.Error(err))
		c.mu.Lock()
		c.socket = nil
		c.mu.Unlock()
		_ = c.state.Transition(Reconnecting)

		if err := c.connectWithRetry(c.ctx); err != nil {
			if c.ctx.Err() != nil {
				err = ErrClientClosed
			}
			c.finish(err)
			return
		}
	}
}

func (c *Client) receive(socket *websocket.Conn) error {
	for {
		var ev models.ChatEvent
		if err := socket.ReadJSON(&ev); err != nil {
			return err
		}
		_ = socket.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		select {
		case c.events <- ev:
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

func (c *Client) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
}

// Send submits a message and returns the provisional id used to correlate
// its send_ack.
func (c *Client) Send(receiverID, content string) (string, error) {
	clientID := uuid.NewString()
	err := c.write(models.Command{Type: models.CommandSend, ClientID: clientID, ReceiverID: receiverID, Content: content})
	if err != nil {
		return "", err
	}
	return clientID, nil
}

func (c *Client) MarkRead(peerID string) error {
	return c.write(models.Command{Type: models.CommandMarkRead, PeerID: peerID})
}

func (c *Client) OpenConversation(peerID string) error {
	return c.write(models.Command{Type: models.CommandOpenConversation, PeerID: peerID})
}

func (c *Client) CloseConversation() error {
	return c.write(models.Command{Type: models.CommandCloseConversation})
}

func (c *Client) Sync() error {
	return c.write(models.Command{Type: models.CommandSync})
}

func (c *Client) write(cmd models.Command) error {
	if c.ctx.Err() != nil {
		return ErrClientClosed
	}
	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()
	if socket == nil || c.state.State() != Connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = socket.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return socket.WriteJSON(cmd)
}

// Close stops reconnecting and closes the current connection.
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()
	if socket == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return socket.Close()
}
