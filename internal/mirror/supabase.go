// ABOUTME: Mirror backed by a Supabase (PostgREST) table
// ABOUTME: Rows get timestamps and sequence numbers from Postgres; subscriptions poll by sequence

package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

// SupabaseOptions configures a Supabase mirror.
//
// The table is expected to look like:
//
//	create table chat_mirror (
//	  seq         bigserial primary key,
//	  id          text not null unique,
//	  chat_id     text not null,
//	  text        text not null,
//	  sender      text not null,
//	  sender_name text,
//	  timestamp   timestamptz not null default now()
//	);
type SupabaseOptions struct {
	URL          string
	APIKey       string
	Table        string
	PollInterval time.Duration
}

// Supabase stores entries as rows of a single table.
type Supabase struct {
	client *supabase.Client
	opts   SupabaseOptions
	logger *slog.Logger
}

var _ Log = (*Supabase)(nil)

type supabaseRow struct {
	Seq        int64      `json:"seq,omitempty"`
	ID         string     `json:"id"`
	ChatID     string     `json:"chat_id"`
	Text       string     `json:"text"`
	Sender     string     `json:"sender"`
	SenderName string     `json:"sender_name,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

func (r supabaseRow) entry() Entry {
	e := Entry{
		ID:         r.ID,
		ChatID:     r.ChatID,
		Text:       r.Text,
		Sender:     r.Sender,
		SenderName: r.SenderName,
	}
	if r.Timestamp != nil {
		e.Timestamp = r.Timestamp.UTC()
	}
	return e
}

// NewSupabase creates a Supabase mirror. Pass nil logger for default.
func NewSupabase(opts SupabaseOptions, logger *slog.Logger) (*Supabase, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if opts.Table == "" {
		opts.Table = "chat_mirror"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := supabase.NewClient(opts.URL, opts.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Supabase{
		client: client,
		opts:   opts,
		logger: logger.With("component", "mirror", "driver", "supabase"),
	}, nil
}

// Append inserts e; Postgres assigns the timestamp.
func (s *Supabase) Append(ctx context.Context, e *Entry) error {
	if err := prepare(e); err != nil {
		return err
	}

	row := supabaseRow{
		ID:         e.ID,
		ChatID:     e.ChatID,
		Text:       e.Text,
		Sender:     e.Sender,
		SenderName: e.SenderName,
	}

	var inserted []supabaseRow
	_, err := s.client.From(s.opts.Table).
		Insert(row, false, "", "representation", "").
		ExecuteTo(&inserted)
	if err != nil {
		if isUniqueViolation(err) {
			s.logger.Debug("ignoring duplicate mirror entry", "id", e.ID)
			return nil
		}
		return fmt.Errorf("inserting mirror row: %w", err)
	}

	if len(inserted) > 0 && inserted[0].Timestamp != nil {
		e.Timestamp = inserted[0].Timestamp.UTC()
	}
	return nil
}

// History returns rows after since, oldest first.
func (s *Supabase) History(ctx context.Context, chatID string, since time.Time, limit int) ([]Entry, error) {
	rows, err := s.query(chatID, since, 0, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries, nil
}

func (s *Supabase) query(chatID string, since time.Time, afterSeq int64, limit int) ([]supabaseRow, error) {
	q := s.client.From(s.opts.Table).
		Select("*", "", false).
		Eq("chat_id", chatID)
	if afterSeq > 0 {
		q = q.Gt("seq", strconv.FormatInt(afterSeq, 10))
	} else if !since.IsZero() {
		q = q.Gt("timestamp", since.UTC().Format(time.RFC3339Nano))
	}
	q = q.Order("seq", &postgrest.OrderOpts{Ascending: true})
	if limit > 0 {
		q = q.Limit(limit, "")
	}

	var rows []supabaseRow
	if _, err := q.ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("querying mirror rows: %w", err)
	}
	return rows, nil
}

// Subscribe replays rows after since, then polls for rows with a higher sequence.
func (s *Supabase) Subscribe(ctx context.Context, chatID string, since time.Time) (<-chan Entry, error) {
	initial, err := s.query(chatID, since, 0, 0)
	if err != nil {
		return nil, err
	}

	out := make(chan Entry, subscriptionBuffer)
	go func() {
		defer close(out)

		var lastSeq int64
		deliver := func(rows []supabaseRow) bool {
			for _, r := range rows {
				if r.Seq > lastSeq {
					lastSeq = r.Seq
				}
				if !send(ctx, out, r.entry()) {
					return false
				}
			}
			return true
		}
		if !deliver(initial) {
			return
		}

		ticker := time.NewTicker(s.opts.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			var rows []supabaseRow
			var err error
			if lastSeq > 0 {
				rows, err = s.query(chatID, time.Time{}, lastSeq, 100)
			} else {
				rows, err = s.query(chatID, since, 0, 100)
			}
			if err != nil {
				s.logger.Warn("mirror poll failed", "chat_id", chatID, "error", err)
				continue
			}
			if !deliver(rows) {
				return
			}
		}
	}()

	return out, nil
}

// isUniqueViolation matches the Postgres unique_violation code surfaced by PostgREST.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}
