package archive

import (
	"database/sql"
	"time"
)

// UpsertConversation inserts or updates a conversation row. Name and
// email are only replaced when the new value is non-empty, so a summary
// update without identity fields never erases a known name.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (counterpart_id, name, email, last_message, last_message_at, last_sender_id, unread_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(counterpart_id) DO UPDATE SET
			name = COALESCE(NULLIF(excluded.name, ''), name),
			email = COALESCE(NULLIF(excluded.email, ''), email),
			last_message = excluded.last_message,
			last_message_at = excluded.last_message_at,
			last_sender_id = excluded.last_sender_id,
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		c.CounterpartID, c.Name, c.Email, c.LastMessage, c.LastMessageAt, c.LastSenderID, c.UnreadCount, now)
	return err
}

// ListConversations returns conversations sorted by last message
// timestamp descending.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT counterpart_id, name, email, last_message, last_message_at, last_sender_id, unread_count
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.CounterpartID, &c.Name, &c.Email, &c.LastMessage, &c.LastMessageAt, &c.LastSenderID, &c.UnreadCount); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation, or nil when unknown.
func (db *DB) GetConversation(counterpartID int64) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT counterpart_id, name, email, last_message, last_message_at, last_sender_id, unread_count
		FROM conversations
		WHERE counterpart_id = ?`, counterpartID).
		Scan(&c.CounterpartID, &c.Name, &c.Email, &c.LastMessage, &c.LastMessageAt, &c.LastSenderID, &c.UnreadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
