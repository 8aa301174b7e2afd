package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"coachconnect-chat/internal/models"
)

var (
	ErrConnClosed = errors.New("connection closed")
	ErrBufferFull = errors.New("send buffer full")
)

// ConnInfo identifies a connection and where it came from. DeviceID is
// whatever the client reported and may be empty.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Conn is one live handle of a user. Events pushed to it are queued and
// written by its write pump; a closed Conn never reaches the transport again.
type Conn struct {
	info ConnInfo
	send chan models.ChatEvent
	done chan struct{}

	mu     sync.Mutex
	closed bool

	activePeer atomic.Pointer[string]
}

// NewConn creates a handle with an outbound queue of the given size.
func NewConn(info ConnInfo, buffer int) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &Conn{
		info: info,
		send: make(chan models.ChatEvent, buffer),
		done: make(chan struct{}),
	}
}

func (c *Conn) ID() string            { return c.info.ConnID }
func (c *Conn) UserID() string        { return c.info.UserID }
func (c *Conn) Info() ConnInfo        { return c.info }
func (c *Conn) Done() <-chan struct{} { return c.done }

// Outbound is drained by the write pump.
func (c *Conn) Outbound() <-chan models.ChatEvent {
	return c.send
}

// ActivePeer is the peer whose conversation this device has open, or "".
func (c *Conn) ActivePeer() string {
	if p := c.activePeer.Load(); p != nil {
		return *p
	}
	return ""
}

func (c *Conn) SetActivePeer(peerID string) {
	c.activePeer.Store(&peerID)
}

// Push enqueues ev without blocking. Events that do not fit are dropped.
func (c *Conn) Push(ev models.ChatEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close stops the handle. It reports whether this call closed it.
func (c *Conn) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	close(c.done)
	return true
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
