package archive

// SearchMessages performs a full-text search on message bodies.
func (db *DB) SearchMessages(query string, counterpartID int64, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.id, m.counterpart_id, m.msg_id, m.sender_id, m.receiver_id,
		       m.body, m.is_read, m.timestamp,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if counterpartID != 0 {
		q += " AND m.counterpart_id = ?"
		args = append(args, counterpartID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.CounterpartID, &r.Message.MsgID,
			&r.Message.SenderID, &r.Message.ReceiverID, &r.Message.Body,
			&r.Message.IsRead, &r.Message.Timestamp, &r.Snippet,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
