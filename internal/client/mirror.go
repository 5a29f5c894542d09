// ABOUTME: Conversation mirror over the gateway API, for widget sessions and agent tools
// ABOUTME: Appends with the visitor nonce and follows the SSE stream, reconnecting when it drops

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nexcart/nexcart-gateway/internal/dedupe"
	"github.com/nexcart/nexcart-gateway/internal/mirror"
)

var _ mirror.Log = (*Client)(nil)

const (
	streamBuffer = 64
	replaySlack  = time.Millisecond
	seenTTL      = time.Hour
	seenMax      = 4096
)

type appendRequest struct {
	ID         string `json:"id,omitempty"`
	Text       string `json:"text"`
	Sender     string `json:"sender"`
	SenderName string `json:"senderName,omitempty"`
	Nonce      string `json:"nonce"`
}

func chatPath(chatID, suffix string) string {
	return "/api/chats/" + url.PathEscape(chatID) + suffix
}

// Append writes e as the visitor. The gateway assigns the timestamp, and an
// id when e has none; both are copied back into e.
func (c *Client) Append(ctx context.Context, e *mirror.Entry) error {
	nonce, err := c.nonce()
	if err != nil {
		return err
	}

	var stored mirror.Entry
	err = c.callEnvelope(ctx, http.MethodPost, chatPath(e.ChatID, "/mirror"), appendRequest{
		ID:         e.ID,
		Text:       e.Text,
		Sender:     e.Sender,
		SenderName: e.SenderName,
		Nonce:      nonce,
	}, &stored)
	if err != nil {
		return fmt.Errorf("appending mirror entry: %w", err)
	}
	e.ID = stored.ID
	e.Timestamp = stored.Timestamp
	return nil
}

// History returns mirror entries of chatID. Requires an agent token.
func (c *Client) History(ctx context.Context, chatID string, since time.Time, limit int) ([]mirror.Entry, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", strconv.FormatInt(since.UnixMilli(), 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := chatPath(chatID, "/history")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Entries []mirror.Entry `json:"entries"`
	}
	if err := c.callJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("loading mirror history: %w", err)
	}
	return out.Entries, nil
}

// Subscribe streams entries of chatID newer than since. Visitors authenticate
// with their nonce, agents with their token. A dropped stream reconnects from
// the newest entry seen; replayed entries are not delivered twice. The
// channel closes when ctx is done.
func (c *Client) Subscribe(ctx context.Context, chatID string, since time.Time) (<-chan mirror.Entry, error) {
	resp, err := c.openStream(ctx, chatID, since)
	if err != nil {
		return nil, err
	}

	out := make(chan mirror.Entry, streamBuffer)
	go c.follow(ctx, chatID, since, resp, out)
	return out, nil
}

func (c *Client) openStream(ctx context.Context, chatID string, since time.Time) (*http.Response, error) {
	q := url.Values{}
	if !since.IsZero() {
		q.Set("since", strconv.FormatInt(since.UnixMilli(), 10))
	}

	var bearer string
	if s := c.Session(); s != nil {
		q.Set("nonce", s.Nonce)
	} else {
		token, err := c.token()
		if err != nil {
			return nil, ErrNoSession
		}
		bearer = token
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+chatPath(chatID, "/stream")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening mirror stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("opening mirror stream: %w", errorResponse(resp))
	}
	return resp, nil
}

func (c *Client) follow(ctx context.Context, chatID string, since time.Time, resp *http.Response, out chan<- mirror.Entry) {
	defer close(out)
	seen := dedupe.New(seenTTL, seenMax)
	last := since

	for {
		err := readEvents(ctx, resp.Body, func(ev Event) error {
			if ev.Type != "entry" {
				return nil
			}
			var e mirror.Entry
			if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
				c.logger.Warn("skipping malformed mirror entry", "error", err, "chat_id", chatID)
				return nil
			}
			if e.Timestamp.After(last) {
				last = e.Timestamp
			}
			if seen.Observe(e.ID) {
				return nil
			}
			select {
			case out <- e:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		_ = resp.Body.Close()
		if ctx.Err() != nil {
			return
		}
		c.logger.Info("mirror stream dropped, reconnecting", "chat_id", chatID, "error", err)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.reconnectDelay):
			}
			// Entries sharing the newest timestamp are replayed and dropped by seen.
			from := last
			if !from.IsZero() {
				from = from.Add(-replaySlack)
			}
			resp, err = c.openStream(ctx, chatID, from)
			if err == nil {
				break
			}
			c.logger.Warn("mirror stream reconnect failed", "chat_id", chatID, "error", err)
		}
	}
}
