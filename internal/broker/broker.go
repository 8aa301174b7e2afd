// Package broker carries delivery events between service nodes so that every
// node can reach the live connections it holds.
package broker

import (
	"context"
	"encoding/json"
	"errors"

	"coachconnect-chat/internal/models"
)

// Channel is the pub/sub channel (redis) or subject (nats) used for events.
const Channel = "coachconnect.chat.events"

var ErrClosed = errors.New("broker closed")

type Kind string

const (
	KindMessageCreated   Kind = "message_created"
	KindConversationRead Kind = "conversation_read"
)

// Event is published once per durable change and handled on every node.
type Event struct {
	Kind         Kind            `json:"kind"`
	Message      *models.Message `json:"message,omitempty"`
	Read         *ReadEvent      `json:"read,omitempty"`
	OriginConnID string          `json:"origin_conn_id,omitempty"`
}

// ReadEvent records that UserID read Count messages from PeerID.
type ReadEvent struct {
	UserID string `json:"user_id"`
	PeerID string `json:"peer_id"`
	Count  int64  `json:"count"`
}

type Handler func(ctx context.Context, ev Event)

// Bus publishes events to all subscribers, including the publishing node.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(handler Handler) error
	Close() error
}

func MessageCreated(msg models.Message, originConnID string) Event {
	return Event{Kind: KindMessageCreated, Message: &msg, OriginConnID: originConnID}
}

func ConversationRead(userID, peerID string, count int64, originConnID string) Event {
	return Event{
		Kind:         KindConversationRead,
		Read:         &ReadEvent{UserID: userID, PeerID: peerID, Count: count},
		OriginConnID: originConnID,
	}
}

func encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

func decode(data []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}
