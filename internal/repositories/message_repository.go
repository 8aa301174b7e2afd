package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"coachconnect-chat/internal/models"
)

// SQLStore is a sqlx implementation of MessageStore.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore constructs a SQLStore.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

type messageRow struct {
	ID         int64          `db:"id"`
	ClientID   sql.NullString `db:"client_id"`
	SenderID   string         `db:"sender_id"`
	ReceiverID string         `db:"receiver_id"`
	Content    string         `db:"content"`
	Read       bool           `db:"read"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r messageRow) toModel() models.Message {
	return models.Message{
		ID:         models.DurableID(r.ID),
		ClientID:   r.ClientID.String,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Content:    r.Content,
		Read:       r.Read,
		CreatedAt:  r.CreatedAt,
	}
}

const messageColumns = `id, client_id, sender_id, receiver_id, content, read, created_at`

// Append stores a message. The insert is a single statement so readers never
// observe a partial row; a client_id the sender already used returns the
// stored row with created set to false.
func (s *SQLStore) Append(ctx context.Context, msg models.Message) (models.Message, bool, error) {
	if err := validateForAppend(msg); err != nil {
		return models.Message{}, false, err
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	clientID := sql.NullString{String: msg.ClientID, Valid: msg.ClientID != ""}

	var row struct {
		messageRow
		Inserted bool `db:"inserted"`
	}
	query := `INSERT INTO messages (client_id, sender_id, receiver_id, content, created_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (sender_id, client_id) DO UPDATE SET client_id = EXCLUDED.client_id
        RETURNING ` + messageColumns + `, (xmax = 0) AS inserted`
	if err := s.db.QueryRowxContext(ctx, query, clientID, msg.SenderID, msg.ReceiverID, msg.Content, createdAt).StructScan(&row); err != nil {
		return models.Message{}, false, fmt.Errorf("append message: %w", err)
	}
	return row.toModel(), row.Inserted, nil
}

// ListConversation returns the messages exchanged by the pair, oldest first.
func (s *SQLStore) ListConversation(ctx context.Context, userA, userB string) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
        WHERE (sender_id=$1 AND receiver_id=$2) OR (sender_id=$2 AND receiver_id=$1)
        ORDER BY created_at ASC, id ASC`
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, userA, userB); err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, r.toModel())
	}
	return msgs, nil
}

// MarkRead flags every unread message from peerID to userID as read.
func (s *SQLStore) MarkRead(ctx context.Context, userID, peerID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET read = TRUE
        WHERE receiver_id=$1 AND sender_id=$2 AND read = FALSE`, userID, peerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return count, nil
}

// UnreadCount returns the number of unread messages addressed to userID.
func (s *SQLStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE receiver_id=$1 AND read = FALSE`, userID); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}
