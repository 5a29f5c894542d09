// ABOUTME: Append-only conversation mirror shared by visitors, agents and widget sessions
// ABOUTME: Defines the Entry record and the Log interface implemented by each backend

package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexcart/nexcart-gateway/internal/store"
)

// ErrInvalidEntry is returned when an entry is missing required fields.
var ErrInvalidEntry = errors.New("invalid mirror entry")

// Entry is one record in a conversation mirror. Timestamp is assigned by the
// backend on append; callers' values are ignored.
type Entry struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	Text       string    `json:"text"`
	Sender     string    `json:"sender"`
	SenderName string    `json:"senderName,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Log is an append-only log addressed by conversation id.
//
// Append is idempotent on Entry.ID: appending an id that already exists
// succeeds without creating a second record or notifying subscribers again.
// Subscribe delivers entries of chatID whose timestamp is after since, first
// any already stored, then new appends, until ctx is cancelled.
type Log interface {
	Append(ctx context.Context, e *Entry) error
	Subscribe(ctx context.Context, chatID string, since time.Time) (<-chan Entry, error)
	History(ctx context.Context, chatID string, since time.Time, limit int) ([]Entry, error)
}

// prepare validates e and fills its ID when empty.
func prepare(e *Entry) error {
	if strings.TrimSpace(e.ChatID) == "" {
		return fmt.Errorf("%w: chat_id is required", ErrInvalidEntry)
	}
	if e.Text == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidEntry)
	}
	switch e.Sender {
	case store.SenderUser, store.SenderAI, store.SenderSupport, store.SenderSystem:
	default:
		return fmt.Errorf("%w: unknown sender %q", ErrInvalidEntry, e.Sender)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

// subscriptionBuffer is the channel buffer for a mirror subscription.
const subscriptionBuffer = 64

// send delivers e on out unless ctx is done first.
func send(ctx context.Context, out chan<- Entry, e Entry) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}
