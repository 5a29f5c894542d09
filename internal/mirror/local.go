// ABOUTME: Mirror backed by the gateway's SQLite store with in-process fan-out
// ABOUTME: Default backend when no external realtime database is configured

package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nexcart/nexcart-gateway/internal/fanout"
	"github.com/nexcart/nexcart-gateway/internal/store"
)

// Local persists entries in a store.MirrorStore and pushes appends to
// in-process subscribers.
type Local struct {
	store  store.MirrorStore
	bus    *fanout.Broadcaster[Entry]
	now    func() time.Time
	logger *slog.Logger
}

var _ Log = (*Local)(nil)

// NewLocal creates a local mirror. Pass nil logger for default.
func NewLocal(s store.MirrorStore, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		store:  s,
		bus:    fanout.New[Entry](logger),
		now:    time.Now,
		logger: logger.With("component", "mirror", "driver", "local"),
	}
}

// Append stores e with a server timestamp and notifies subscribers.
func (l *Local) Append(ctx context.Context, e *Entry) error {
	if err := prepare(e); err != nil {
		return err
	}
	e.Timestamp = l.now().UTC()

	rec := &store.MirrorEntry{
		ID:         e.ID,
		ChatID:     e.ChatID,
		Text:       e.Text,
		Sender:     e.Sender,
		SenderName: e.SenderName,
		Timestamp:  e.Timestamp,
	}
	if err := l.store.AppendMirrorEntry(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			l.logger.Debug("ignoring duplicate mirror entry", "id", e.ID)
			return nil
		}
		return fmt.Errorf("appending mirror entry: %w", err)
	}

	l.bus.Publish(e.ChatID, *e, "")
	return nil
}

// Subscribe replays stored entries after since, then streams new appends.
func (l *Local) Subscribe(ctx context.Context, chatID string, since time.Time) (<-chan Entry, error) {
	// Register before reading history so nothing appended in between is lost.
	live, _ := l.bus.Subscribe(ctx, chatID)

	history, err := l.History(ctx, chatID, since, 0)
	if err != nil {
		return nil, err
	}

	out := make(chan Entry, subscriptionBuffer)
	go func() {
		defer close(out)

		replayed := make(map[string]bool, len(history))
		for _, e := range history {
			replayed[e.ID] = true
			if !send(ctx, out, e) {
				return
			}
		}

		for {
			select {
			case e, ok := <-live:
				if !ok {
					return
				}
				if replayed[e.ID] {
					continue
				}
				if !send(ctx, out, e) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// History returns stored entries after since, oldest first.
func (l *Local) History(ctx context.Context, chatID string, since time.Time, limit int) ([]Entry, error) {
	recs, err := l.store.ListMirrorEntries(ctx, chatID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("listing mirror entries: %w", err)
	}

	entries := make([]Entry, 0, len(recs))
	for _, r := range recs {
		entries = append(entries, Entry{
			ID:         r.ID,
			ChatID:     r.ChatID,
			Text:       r.Text,
			Sender:     r.Sender,
			SenderName: r.SenderName,
			Timestamp:  r.Timestamp,
		})
	}
	return entries, nil
}

// Close releases all subscriptions.
func (l *Local) Close() error {
	l.bus.Close()
	return nil
}
