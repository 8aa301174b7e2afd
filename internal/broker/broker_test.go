package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachconnect-chat/internal/models"
)

func TestLocalDeliversToEverySubscriber(t *testing.T) {
	bus := NewLocal()
	var first, second []Event
	require.NoError(t, bus.Subscribe(func(_ context.Context, ev Event) { first = append(first, ev) }))
	require.NoError(t, bus.Subscribe(func(_ context.Context, ev Event) { second = append(second, ev) }))

	msg := models.Message{ID: models.DurableID(7), SenderID: "a", ReceiverID: "b", Content: "hi"}
	require.NoError(t, bus.Publish(context.Background(), MessageCreated(msg, "conn-1")))

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, KindMessageCreated, first[0].Kind)
	assert.Equal(t, "conn-1", first[0].OriginConnID)
	assert.Equal(t, "hi", first[0].Message.Content)
}

func TestLocalClosedRejectsPublish(t *testing.T) {
	bus := NewLocal()
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), ConversationRead("b", "a", 1, "")), ErrClosed)
	assert.ErrorIs(t, bus.Subscribe(func(context.Context, Event) {}), ErrClosed)
}

func TestEventWireFormat(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := models.Message{ID: models.DurableID(42), ClientID: "c-1", SenderID: "a", ReceiverID: "b", Content: "hey", CreatedAt: at}

	data, err := encode(MessageCreated(msg, "origin"))
	require.NoError(t, err)
	ev, err := decode(data)
	require.NoError(t, err)

	id, ok := ev.Message.ID.Durable()
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
	assert.True(t, at.Equal(ev.Message.CreatedAt))
	assert.Nil(t, ev.Read)

	data, err = encode(ConversationRead("b", "a", 3, ""))
	require.NoError(t, err)
	ev, err = decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindConversationRead, ev.Kind)
	assert.Equal(t, &ReadEvent{UserID: "b", PeerID: "a", Count: 3}, ev.Read)
}
