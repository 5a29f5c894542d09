// ABOUTME: Append-only mirror entry persistence backing the local conversation mirror
// ABOUTME: Entries are ordered by store sequence and filtered by timestamp

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// mirrorTimeLayout is fixed width so timestamps compare correctly as strings.
const mirrorTimeLayout = "2006-01-02T15:04:05.000000000Z"

// AppendMirrorEntry inserts an entry and assigns its Seq.
// Returns ErrDuplicate if an entry with the same ID exists.
func (s *SQLiteStore) AppendMirrorEntry(ctx context.Context, entry *MirrorEntry) error {
	query := `
		INSERT INTO mirror_entries (id, chat_id, text, sender, sender_name, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.ChatID,
		entry.Text,
		entry.Sender,
		nullString(entry.SenderName),
		entry.Timestamp.UTC().Format(mirrorTimeLayout),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting mirror entry: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading mirror entry seq: %w", err)
	}
	entry.Seq = seq
	return nil
}

// ListMirrorEntries returns entries of a chat with a timestamp strictly after since,
// oldest first. A zero since returns the whole history. Limit <= 0 means no limit.
func (s *SQLiteStore) ListMirrorEntries(ctx context.Context, chatID string, since time.Time, limit int) ([]*MirrorEntry, error) {
	query := `
		SELECT seq, id, chat_id, text, sender, sender_name, timestamp
		FROM mirror_entries
		WHERE chat_id = ? AND timestamp > ?
		ORDER BY seq ASC
	`
	args := []any{chatID, since.UTC().Format(mirrorTimeLayout)}
	if since.IsZero() {
		args[1] = ""
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying mirror entries: %w", err)
	}
	defer rows.Close()

	var entries []*MirrorEntry
	for rows.Next() {
		var e MirrorEntry
		var senderName sql.NullString
		var ts string

		if err := rows.Scan(&e.Seq, &e.ID, &e.ChatID, &e.Text, &e.Sender, &senderName, &ts); err != nil {
			return nil, fmt.Errorf("scanning mirror entry row: %w", err)
		}
		e.SenderName = senderName.String

		if e.Timestamp, err = time.Parse(mirrorTimeLayout, ts); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mirror entry rows: %w", err)
	}

	return entries, nil
}
