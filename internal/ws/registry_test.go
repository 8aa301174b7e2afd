package ws

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachconnect-chat/internal/models"
)

func newTestConn(userID, connID string) *Conn {
	return NewConn(ConnInfo{ConnID: connID, UserID: userID}, 4)
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := newTestConn("u1", "c1")

	assert.True(t, r.Register(c))
	assert.False(t, r.Register(c))
	assert.Len(t, r.HandlesFor("u1"), 1)
	assert.True(t, r.IsOnline("u1"))
	assert.Equal(t, 1, r.Count())
}

func TestRegistryMultipleDevices(t *testing.T) {
	r := NewRegistry()
	r.Register(newTestConn("u1", "phone"))
	r.Register(newTestConn("u1", "laptop"))
	r.Register(newTestConn("u2", "tablet"))

	assert.Len(t, r.HandlesFor("u1"), 2)
	assert.Len(t, r.HandlesFor("u2"), 1)
	assert.Empty(t, r.HandlesFor("u3"))
	assert.False(t, r.IsOnline("u3"))
	assert.Equal(t, 3, r.Count())
}

func TestRegistryDeregisterClosesAndIsSafeTwice(t *testing.T) {
	r := NewRegistry()
	c := newTestConn("u1", "c1")
	r.Register(c)

	assert.True(t, r.Deregister(c))
	assert.True(t, c.Closed())
	assert.Empty(t, r.HandlesFor("u1"))
	assert.False(t, r.IsOnline("u1"))

	assert.False(t, r.Deregister(c))
	assert.ErrorIs(t, c.Push(models.UnreadEvent(1)), ErrConnClosed)
}

func TestRegistryRefusesClosedHandle(t *testing.T) {
	r := NewRegistry()
	c := newTestConn("u1", "c1")
	r.Deregister(c)

	assert.False(t, r.Register(c))
	assert.Empty(t, r.HandlesFor("u1"))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i%5)
			c := newTestConn(user, fmt.Sprintf("c%d", i))
			r.Register(c)
			for _, h := range r.HandlesFor(user) {
				_ = h.Push(models.UnreadEvent(i))
			}
			r.Deregister(c)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Count())
}

func TestConnPushDropsWhenFull(t *testing.T) {
	c := NewConn(ConnInfo{ConnID: "c", UserID: "u"}, 1)
	require.NoError(t, c.Push(models.UnreadEvent(1)))
	assert.ErrorIs(t, c.Push(models.UnreadEvent(2)), ErrBufferFull)

	ev := <-c.Outbound()
	assert.Equal(t, 1, *ev.Unread)
}

func TestConnActivePeer(t *testing.T) {
	c := newTestConn("u", "c")
	assert.Equal(t, "", c.ActivePeer())
	c.SetActivePeer("trainer")
	assert.Equal(t, "trainer", c.ActivePeer())
	c.SetActivePeer("")
	assert.Equal(t, "", c.ActivePeer())
}
