package repositories

import (
	"context"
	"errors"

	"coachconnect-chat/internal/models"
)

var ErrInvalidMessage = errors.New("invalid message")

// MessageStore is the durable message log plus read state.
type MessageStore interface {
	// Append persists msg and returns it with a durable id. ClientID is
	// unique per sender: appending it again returns the existing row with
	// created set to false.
	Append(ctx context.Context, msg models.Message) (stored models.Message, created bool, err error)
	ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error)
	MarkRead(ctx context.Context, userID, peerID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error)
}

func validateForAppend(msg models.Message) error {
	if msg.SenderID == "" || msg.ReceiverID == "" || msg.SenderID == msg.ReceiverID || msg.Content == "" {
		return ErrInvalidMessage
	}
	return nil
}
