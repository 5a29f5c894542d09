// ABOUTME: Mirror backed by Redis Streams, one stream per conversation
// ABOUTME: Stream ids supply server-assigned timestamps; XREAD BLOCK drives subscriptions

package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultStreamPrefix = "nexcart:chat:"
	seenKeyTTL          = 7 * 24 * time.Hour
	readBlock           = 5 * time.Second

	// maxStreamSeq is the largest sequence part of a stream id.
	maxStreamSeq = "18446744073709551615"
)

// RedisOptions configures a Redis mirror.
type RedisOptions struct {
	StreamPrefix string
	MaxLen       int64
}

// Redis stores each conversation as a stream named <prefix><chat id>.
type Redis struct {
	client *redis.Client
	opts   RedisOptions
	logger *slog.Logger
}

var _ Log = (*Redis)(nil)

// NewRedis creates a Redis mirror. Pass nil logger for default.
func NewRedis(client *redis.Client, opts RedisOptions, logger *slog.Logger) *Redis {
	if opts.StreamPrefix == "" {
		opts.StreamPrefix = defaultStreamPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: client,
		opts:   opts,
		logger: logger.With("component", "mirror", "driver", "redis"),
	}
}

func (r *Redis) stream(chatID string) string {
	return r.opts.StreamPrefix + chatID
}

func (r *Redis) seenKey(id string) string {
	return r.opts.StreamPrefix + "seen:" + id
}

// Append adds e to the conversation stream. The entry id is claimed with
// SETNX first so replays of the same id are dropped.
func (r *Redis) Append(ctx context.Context, e *Entry) error {
	if err := prepare(e); err != nil {
		return err
	}

	fresh, err := r.client.SetNX(ctx, r.seenKey(e.ID), e.ChatID, seenKeyTTL).Result()
	if err != nil {
		return fmt.Errorf("claiming mirror entry id: %w", err)
	}
	if !fresh {
		r.logger.Debug("ignoring duplicate mirror entry", "id", e.ID)
		return nil
	}

	args := &redis.XAddArgs{
		Stream: r.stream(e.ChatID),
		ID:     "*",
		Values: map[string]any{
			"id":          e.ID,
			"text":        e.Text,
			"sender":      e.Sender,
			"sender_name": e.SenderName,
		},
	}
	if r.opts.MaxLen > 0 {
		args.MaxLen = r.opts.MaxLen
		args.Approx = true
	}

	streamID, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		// Release the claim so a retry can succeed.
		r.client.Del(context.WithoutCancel(ctx), r.seenKey(e.ID))
		return fmt.Errorf("appending to stream: %w", err)
	}

	e.Timestamp = streamTime(streamID)
	return nil
}

// History reads stored entries after since, oldest first.
func (r *Redis) History(ctx context.Context, chatID string, since time.Time, limit int) ([]Entry, error) {
	raw, err := r.read(ctx, chatID, since, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(raw))
	for _, e := range raw {
		entries = append(entries, e.Entry)
	}
	return entries, nil
}

func (r *Redis) read(ctx context.Context, chatID string, since time.Time, limit int) ([]streamEntry, error) {
	start := "-"
	if !since.IsZero() {
		start = strconv.FormatInt(since.UnixMilli()+1, 10) + "-0"
	}

	var msgs []redis.XMessage
	var err error
	if limit > 0 {
		msgs, err = r.client.XRangeN(ctx, r.stream(chatID), start, "+", int64(limit)).Result()
	} else {
		msgs, err = r.client.XRange(ctx, r.stream(chatID), start, "+").Result()
	}
	if err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}

	entries := make([]streamEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, entryFromMessage(chatID, m))
	}
	return entries, nil
}

// Subscribe replays entries after since, then blocks on XREAD for new ones.
func (r *Redis) Subscribe(ctx context.Context, chatID string, since time.Time) (<-chan Entry, error) {
	history, err := r.read(ctx, chatID, since, 0)
	if err != nil {
		return nil, err
	}

	lastID := resumeID(since)
	if len(history) > 0 {
		lastID = history[len(history)-1].streamID
	}

	out := make(chan Entry, subscriptionBuffer)
	go func() {
		defer close(out)

		for _, e := range history {
			if !send(ctx, out, e.Entry) {
				return
			}
		}

		stream := r.stream(chatID)
		for ctx.Err() == nil {
			res, err := r.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Block:   readBlock,
				Count:   100,
			}).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				r.logger.Warn("stream read failed", "chat_id", chatID, "error", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}

			for _, s := range res {
				for _, m := range s.Messages {
					lastID = m.ID
					if !send(ctx, out, entryFromMessage(chatID, m).Entry) {
						return
					}
				}
			}
		}
	}()

	return out, nil
}

// resumeID is the XREAD position matching read's lower bound: everything in
// the since millisecond is skipped, whatever its sequence number.
func resumeID(since time.Time) string {
	if since.IsZero() {
		return "0-0"
	}
	return strconv.FormatInt(since.UnixMilli(), 10) + "-" + maxStreamSeq
}

type streamEntry struct {
	Entry
	streamID string
}

func entryFromMessage(chatID string, m redis.XMessage) streamEntry {
	str := func(k string) string {
		v, _ := m.Values[k].(string)
		return v
	}
	return streamEntry{
		Entry: Entry{
			ID:         str("id"),
			ChatID:     chatID,
			Text:       str("text"),
			Sender:     str("sender"),
			SenderName: str("sender_name"),
			Timestamp:  streamTime(m.ID),
		},
		streamID: m.ID,
	}
}

// streamTime extracts the millisecond timestamp from a stream id ("<ms>-<seq>").
func streamTime(id string) time.Time {
	ms, _, _ := strings.Cut(id, "-")
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}
