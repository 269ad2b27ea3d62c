package archive

import "time"

// UpsertMessage inserts or updates a message (idempotent on
// counterpart_id + msg_id, so redeliveries collapse into one row).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (counterpart_id, msg_id, sender_id, receiver_id, body, is_read, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(counterpart_id, msg_id) DO UPDATE SET
			body = excluded.body,
			is_read = excluded.is_read`,
		m.CounterpartID, m.MsgID, m.SenderID, m.ReceiverID, m.Body, m.IsRead, m.Timestamp, now)
	return err
}

// ListMessages returns messages for a conversation using keyset
// pagination by timestamp, newest first.
func (db *DB) ListMessages(counterpartID int64, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, counterpart_id, msg_id, sender_id, receiver_id, body, is_read, timestamp
		FROM messages
		WHERE counterpart_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, counterpartID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.CounterpartID, &m.MsgID, &m.SenderID, &m.ReceiverID, &m.Body, &m.IsRead, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkConversationRead flags every message in a conversation as read.
func (db *DB) MarkConversationRead(counterpartID int64) error {
	_, err := db.Exec(`UPDATE messages SET is_read = 1 WHERE counterpart_id = ? AND is_read = 0`, counterpartID)
	return err
}
