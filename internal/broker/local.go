package broker

import (
	"context"
	"sync"
)

// Local delivers events synchronously to in-process subscribers. It is the
// bus for single-node deployments and tests.
type Local struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Publish(ctx context.Context, ev Event) error {
	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
	return nil
}

func (l *Local) Subscribe(handler Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.handlers = append(l.handlers, handler)
	return nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.handlers = nil
	return nil
}
