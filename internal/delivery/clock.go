package delivery

import (
	"sync"
	"time"
)

const (
	clockTick       = time.Microsecond
	clockSweepAfter = 4096
	clockRetention  = time.Minute
)

// Clock stamps messages so that one sender's timestamps never go backwards,
// even if the wall clock does. Stamps are truncated to the store's precision.
type Clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last map[string]time.Time
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, last: make(map[string]time.Time)}
}

// Next returns a timestamp not earlier than any earlier stamp for senderID.
func (c *Clock) Next(senderID string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now().UTC().Truncate(clockTick)
	t := now
	if last, ok := c.last[senderID]; ok && !t.After(last) {
		t = last.Add(clockTick)
	}
	c.last[senderID] = t

	if len(c.last) > clockSweepAfter {
		for id, ts := range c.last {
			if now.Sub(ts) > clockRetention {
				delete(c.last, id)
			}
		}
	}
	return t
}
