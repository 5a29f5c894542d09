// ABOUTME: Visitor side of the gateway client: session bootstrap, AI and live dispatch, presence
// ABOUTME: Implements the widget's Transport and Presence over HTTP

package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nexcart/nexcart-gateway/internal/widget"
)

var (
	_ widget.Transport = (*Client)(nil)
	_ widget.Presence  = (*Client)(nil)
)

// Settings are the widget settings the gateway hands out with a session.
type Settings struct {
	AIEnabled         bool   `json:"ai_enabled"`
	SupportOpenHour   int    `json:"support_open_hour"`
	SupportCloseHour  int    `json:"support_close_hour"`
	SupportTimezone   string `json:"support_timezone"`
	LoadingText       string `json:"loading_text"`
	MaxMessageLength  int    `json:"max_message_length"`
	RateLimit         int    `json:"rate_limit"`
	RateWindowSeconds int    `json:"rate_window_seconds"`
}

// RateWindow returns the rate window as a duration.
func (s Settings) RateWindow() time.Duration {
	return time.Duration(s.RateWindowSeconds) * time.Second
}

// Session is a visitor identity issued by the gateway.
type Session struct {
	VisitorID string    `json:"visitor_id"`
	Name      string    `json:"name"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
	Settings  Settings  `json:"settings"`
}

// StartSession asks the gateway for a visitor identity and keeps it for
// later visitor calls. userID and name may be empty.
func (c *Client) StartSession(ctx context.Context, userID, name string) (*Session, error) {
	body := map[string]string{"user_id": userID, "name": name}

	var s Session
	if err := c.callEnvelope(ctx, http.MethodPost, "/api/session", body, &s); err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}

	c.mu.Lock()
	c.session = &s
	c.mu.Unlock()

	c.logger.Debug("visitor session started", "visitor_id", s.VisitorID)
	return &s, nil
}

// Session returns the current visitor session, or nil.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) nonce() (string, error) {
	s := c.Session()
	if s == nil {
		return "", ErrNoSession
	}
	return s.Nonce, nil
}

type chatRequest struct {
	Action  string `json:"action"`
	Message string `json:"message"`
	ChatID  string `json:"chat_id"`
	Nonce   string `json:"nonce"`
}

// SendAI asks the assistant. A gateway refusal wraps widget.ErrRejected and
// the server rate limit wraps widget.ErrRateLimited; both carry the
// gateway's message.
func (c *Client) SendAI(ctx context.Context, conversationID, text string) (string, error) {
	nonce, err := c.nonce()
	if err != nil {
		return "", err
	}

	var out struct {
		Response string `json:"response"`
	}
	err = c.callEnvelope(ctx, http.MethodPost, "/api/chat", chatRequest{
		Action:  "nexcart_chat",
		Message: text,
		ChatID:  conversationID,
		Nonce:   nonce,
	}, &out)
	if err != nil {
		return "", widgetError(err)
	}
	return out.Response, nil
}

// SendLive hands text to human support. Replies arrive through the mirror.
func (c *Client) SendLive(ctx context.Context, conversationID, text string) error {
	nonce, err := c.nonce()
	if err != nil {
		return err
	}

	err = c.callEnvelope(ctx, http.MethodPost, "/api/live/send", chatRequest{
		Message: text,
		ChatID:  conversationID,
		Nonce:   nonce,
	}, nil)
	if err != nil {
		return widgetError(err)
	}
	return nil
}

// widgetError maps gateway refusals onto the widget's error values.
func widgetError(err error) error {
	var rej *rejection
	if !errors.As(err, &rej) {
		return err
	}
	if rej.status == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", widget.ErrRateLimited, rej.message)
	}
	return fmt.Errorf("%w: %s", widget.ErrRejected, rej.message)
}

// Online reports whether live support is available.
func (c *Client) Online(ctx context.Context) (bool, error) {
	var out struct {
		Online bool `json:"online"`
	}
	if err := c.callEnvelope(ctx, http.MethodGet, "/api/support/status", nil, &out); err != nil {
		return false, fmt.Errorf("checking support status: %w", err)
	}
	return out.Online, nil
}
