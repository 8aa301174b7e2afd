package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachconnect-chat/internal/models"
)

func msgAt(clientID, from, to, content string, at time.Time) models.Message {
	return models.Message{ID: models.ProvisionalID(clientID), ClientID: clientID, SenderID: from, ReceiverID: to, Content: content, CreatedAt: at}
}

func TestMemoryStoreAppendAssignsDurableIDOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	first, created, err := s.Append(ctx, msgAt("c-1", "a", "b", "hello", now))
	require.NoError(t, err)
	assert.True(t, created)
	id, ok := first.ID.Durable()
	require.True(t, ok)
	assert.Equal(t, int64(1), id)
	assert.Equal(t, "c-1", first.ClientID)

	again, created, err := s.Append(ctx, msgAt("c-1", "a", "b", "hello", now))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	conv, err := s.ListConversation(ctx, "b", "a")
	require.NoError(t, err)
	assert.Len(t, conv, 1)
}

func TestMemoryStoreClientIDIsScopedToSender(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	_, _, err := s.Append(ctx, msgAt("shared", "a", "b", "private note for b", now))
	require.NoError(t, err)

	other, created, err := s.Append(ctx, msgAt("shared", "m", "x", "hello x", now))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "m", other.SenderID)
	assert.Equal(t, "hello x", other.Content)

	conv, err := s.ListConversation(ctx, "m", "x")
	require.NoError(t, err)
	assert.Len(t, conv, 1)
}

func TestMemoryStoreRejectsInvalidMessages(t *testing.T) {
	s := NewMemoryStore()
	_, _, err := s.Append(context.Background(), msgAt("x", "a", "a", "self", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidMessage)
	_, _, err = s.Append(context.Background(), msgAt("y", "a", "b", "", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestMemoryStoreReadState(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	for i, c := range []string{"one", "two"} {
		_, _, err := s.Append(ctx, msgAt(c, "trainer", "client", c, now.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	_, _, err := s.Append(ctx, msgAt("three", "other", "client", "hey", now))
	require.NoError(t, err)

	unread, err := s.UnreadCount(ctx, "client")
	require.NoError(t, err)
	assert.Equal(t, 3, unread)

	n, err := s.MarkRead(ctx, "client", "trainer")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.MarkRead(ctx, "client", "trainer")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	unread, err = s.UnreadCount(ctx, "client")
	require.NoError(t, err)
	assert.Equal(t, 1, unread)
}

func TestMemoryStoreListChats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.SetDisplayName("trainer", "Coach Kim")
	s.AddRelationship("trainer", "client")
	s.AddRelationship("trainer2", "client")
	now := time.Now()

	_, _, err := s.Append(ctx, msgAt("1", "trainer", "client", "first", now))
	require.NoError(t, err)
	_, _, err = s.Append(ctx, msgAt("2", "client", "trainer", "second", now.Add(time.Second)))
	require.NoError(t, err)
	_, _, err = s.Append(ctx, msgAt("3", "trainer", "client", "third", now.Add(2*time.Second)))
	require.NoError(t, err)

	chats, err := s.ListChats(ctx, "client")
	require.NoError(t, err)
	require.Len(t, chats, 2)

	assert.Equal(t, "trainer", chats[0].PeerID)
	assert.Equal(t, "Coach Kim", chats[0].PeerName)
	assert.Equal(t, "third", chats[0].LastMessagePreview)
	assert.Equal(t, 2, chats[0].UnreadCount)
	assert.True(t, chats[0].HasMessages)

	assert.Equal(t, "trainer2", chats[1].PeerID)
	assert.False(t, chats[1].HasMessages)
	assert.Nil(t, chats[1].LastMessageTime)
}
