package repositories

import (
	"context"
	"fmt"

	"coachconnect-chat/internal/models"
)

// listChatsQuery merges peers the user exchanged messages with and peers from
// coaching relationships; the latter appear with has_messages = false.
const listChatsQuery = `
WITH involved AS (
    SELECT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS peer_id,
           id, content, created_at, receiver_id, read
    FROM messages
    WHERE sender_id = $1 OR receiver_id = $1
),
last_message AS (
    SELECT DISTINCT ON (peer_id) peer_id, content, created_at
    FROM involved
    ORDER BY peer_id, created_at DESC, id DESC
),
unread AS (
    SELECT peer_id, COUNT(*) AS n
    FROM involved
    WHERE receiver_id = $1 AND read = FALSE
    GROUP BY peer_id
),
related AS (
    SELECT client_id AS peer_id FROM coaching_relationships WHERE trainer_id = $1
    UNION
    SELECT trainer_id AS peer_id FROM coaching_relationships WHERE client_id = $1
),
all_peers AS (
    SELECT peer_id FROM last_message
    UNION
    SELECT peer_id FROM related
)
SELECT ap.peer_id,
       COALESCE(up.display_name, '') AS peer_name,
       COALESCE(lm.content, '') AS last_message_preview,
       lm.created_at AS last_message_time,
       COALESCE(u.n, 0) AS unread_count,
       (lm.peer_id IS NOT NULL) AS has_messages
FROM all_peers ap
LEFT JOIN last_message lm ON lm.peer_id = ap.peer_id
LEFT JOIN unread u ON u.peer_id = ap.peer_id
LEFT JOIN user_profiles up ON up.id = ap.peer_id
WHERE ap.peer_id <> $1
ORDER BY lm.created_at DESC NULLS LAST, ap.peer_id`

// ListChats returns one summary per peer of userID.
func (s *SQLStore) ListChats(ctx context.Context, userID string) ([]models.ChatSummary, error) {
	var chats []models.ChatSummary
	if err := s.db.SelectContext(ctx, &chats, listChatsQuery, userID); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	for i := range chats {
		chats[i].LastMessagePreview = models.Preview(chats[i].LastMessagePreview)
	}
	return chats, nil
}
