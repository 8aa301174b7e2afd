package models

// Event types pushed to connected clients.
const (
	EventNewMessage    = "new_message"
	EventUnreadCount   = "unread_count"
	EventChatsSnapshot = "chats_snapshot"
	EventChatUpdated   = "chat_updated"
	EventSendAck       = "send_ack"
	EventMessagesRead  = "messages_read"
	EventError         = "error"
)

// Command types accepted from connected clients.
const (
	CommandSend              = "send"
	CommandMarkRead          = "mark_read"
	CommandOpenConversation  = "open_conversation"
	CommandCloseConversation = "close_conversation"
	CommandSync              = "sync"
)

// ChatEvent is written to WebSocket connections.
type ChatEvent struct {
	Type    string        `json:"type"`
	Message *Message      `json:"message,omitempty"`
	Unread  *int          `json:"unread,omitempty"`
	Chats   []ChatSummary `json:"chats,omitempty"`
	Chat    *ChatSummary  `json:"chat,omitempty"`
	Ack     *SendAck      `json:"ack,omitempty"`
	Receipt *ReadReceipt  `json:"receipt,omitempty"`
	Error   *ErrorDetail  `json:"error,omitempty"`
}

// SendAck resolves a provisional message for the connection that sent it.
type SendAck struct {
	ClientID string   `json:"client_id"`
	OK       bool     `json:"ok"`
	Message  *Message `json:"message,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// ReadReceipt tells a sender that ReaderID has read their messages.
type ReadReceipt struct {
	ReaderID string `json:"reader_id"`
	PeerID   string `json:"peer_id"`
	Count    int64  `json:"count"`
}

// ErrorDetail reports a rejected command; the connection stays open.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Command is read from WebSocket connections.
type Command struct {
	Type       string `json:"type" validate:"required,oneof=send mark_read open_conversation close_conversation sync"`
	ClientID   string `json:"client_id,omitempty" validate:"omitempty,max=64"`
	ReceiverID string `json:"receiver_id,omitempty" validate:"required_if=Type send,max=128"`
	PeerID     string `json:"peer_id,omitempty" validate:"required_if=Type mark_read,required_if=Type open_conversation,max=128"`
	Content    string `json:"content,omitempty" validate:"required_if=Type send,max=4000"`
}

func UnreadEvent(n int) ChatEvent {
	return ChatEvent{Type: EventUnreadCount, Unread: &n}
}

func ErrorEvent(code, message string) ChatEvent {
	return ChatEvent{Type: EventError, Error: &ErrorDetail{Code: code, Message: message}}
}
