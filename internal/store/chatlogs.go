// ABOUTME: Chat log persistence for support monitoring
// ABOUTME: Records every user, ai and support message with visitor metadata

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SaveChatLog inserts a chat log row and sets its ID.
func (s *SQLiteStore) SaveChatLog(ctx context.Context, log *ChatLog) error {
	query := `
		INSERT INTO chat_logs (chat_id, message, sender, sender_name, user_id, user_ip, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		log.ChatID,
		log.Message,
		log.Sender,
		nullString(log.SenderName),
		nullString(log.UserID),
		nullString(log.UserIP),
		formatTime(log.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting chat log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading chat log id: %w", err)
	}
	log.ID = id

	s.logger.Debug("saved chat log", "chat_id", log.ChatID, "sender", log.Sender)
	return nil
}

// ListChatLogs returns the most recent `limit` messages of a chat in chronological order.
// If limit is 0 or negative, all messages are returned.
func (s *SQLiteStore) ListChatLogs(ctx context.Context, chatID string, limit int) ([]*ChatLog, error) {
	var query string
	args := []any{chatID}

	if limit > 0 {
		query = `
			SELECT id, chat_id, message, sender, sender_name, user_id, user_ip, timestamp
			FROM (
				SELECT * FROM chat_logs WHERE chat_id = ? ORDER BY id DESC LIMIT ?
			)
			ORDER BY id ASC
		`
		args = append(args, limit)
	} else {
		query = `
			SELECT id, chat_id, message, sender, sender_name, user_id, user_ip, timestamp
			FROM chat_logs
			WHERE chat_id = ?
			ORDER BY id ASC
		`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chat logs: %w", err)
	}
	defer rows.Close()

	var logs []*ChatLog
	for rows.Next() {
		var l ChatLog
		var senderName, userID, userIP sql.NullString
		var ts string

		if err := rows.Scan(&l.ID, &l.ChatID, &l.Message, &l.Sender, &senderName, &userID, &userIP, &ts); err != nil {
			return nil, fmt.Errorf("scanning chat log row: %w", err)
		}
		l.SenderName = senderName.String
		l.UserID = userID.String
		l.UserIP = userIP.String

		if l.Timestamp, err = parseTime("timestamp", ts); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat log rows: %w", err)
	}

	return logs, nil
}

// ListRecentChats summarizes conversations ordered by latest activity.
// If limit is 0 or negative, a default limit of 50 is used.
func (s *SQLiteStore) ListRecentChats(ctx context.Context, limit int) ([]*ChatSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := `
		SELECT c.chat_id, c.message, c.sender, agg.cnt, c.timestamp
		FROM chat_logs c
		JOIN (
			SELECT chat_id, MAX(id) AS last_id, COUNT(*) AS cnt
			FROM chat_logs
			GROUP BY chat_id
		) agg ON agg.last_id = c.id
		ORDER BY c.id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent chats: %w", err)
	}
	defer rows.Close()

	var chats []*ChatSummary
	for rows.Next() {
		var c ChatSummary
		var ts string
		if err := rows.Scan(&c.ChatID, &c.LastMessage, &c.LastSender, &c.MessageCount, &ts); err != nil {
			return nil, fmt.Errorf("scanning chat summary row: %w", err)
		}
		if c.LastAt, err = parseTime("timestamp", ts); err != nil {
			return nil, err
		}
		chats = append(chats, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat summary rows: %w", err)
	}

	return chats, nil
}
