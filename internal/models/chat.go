package models

import (
	"time"
	"unicode/utf8"
)

// PreviewLength bounds the last-message preview stored in a summary.
const PreviewLength = 80

// ChatSummary is one viewer's projection of a conversation.
type ChatSummary struct {
	PeerID             string     `db:"peer_id" json:"peer_id"`
	PeerName           string     `db:"peer_name" json:"peer_name,omitempty"`
	LastMessagePreview string     `db:"last_message_preview" json:"last_message_preview,omitempty"`
	LastMessageTime    *time.Time `db:"last_message_time" json:"last_message_time,omitempty"`
	UnreadCount        int        `db:"unread_count" json:"unread_count"`
	HasMessages        bool       `db:"has_messages" json:"has_messages"`
}

// Preview truncates content to PreviewLength runes.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= PreviewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:PreviewLength]) + "…"
}

// User is read from the external profile system.
type User struct {
	ID          string `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"display_name"`
}
