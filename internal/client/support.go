// ABOUTME: Support agent side of the gateway client
// ABOUTME: Login, heartbeats, replies, the live request feed and chat logs

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nexcart/nexcart-gateway/internal/mirror"
)

// AgentInfo describes the logged-in agent.
type AgentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// LiveRequest is a visitor message waiting for an agent.
type LiveRequest struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	VisitorID string    `json:"visitor_id"`
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatSummary is one conversation in the recent chats listing.
type ChatSummary struct {
	ChatID       string    `json:"chat_id"`
	LastMessage  string    `json:"last_message"`
	LastSender   string    `json:"last_sender"`
	MessageCount int       `json:"message_count"`
	LastAt       time.Time `json:"last_at"`
}

// ChatLogEntry is one recorded message.
type ChatLogEntry struct {
	ID         int64     `json:"id"`
	Message    string    `json:"message"`
	Sender     string    `json:"sender"`
	SenderName string    `json:"sender_name,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	UserIP     string    `json:"user_ip,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Login authenticates as a support agent and keeps the token for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (*AgentInfo, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/support/login",
		map[string]string{"username": username, "password": password})
	if err != nil {
		return nil, err
	}

	var out struct {
		Token string    `json:"token"`
		Agent AgentInfo `json:"agent"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, fmt.Errorf("logging in: %w", err)
	}

	c.SetAgentToken(out.Token)
	c.logger.Info("logged in as support agent", "agent_id", out.Agent.ID)
	return &out.Agent, nil
}

// Heartbeat marks the agent active for support presence.
func (c *Client) Heartbeat(ctx context.Context) error {
	if err := c.callJSON(ctx, http.MethodPost, "/api/support/heartbeat", nil, nil); err != nil {
		return fmt.Errorf("sending heartbeat: %w", err)
	}
	return nil
}

// Reply sends an agent message to the visitor of chatID.
func (c *Client) Reply(ctx context.Context, chatID, message string) (*mirror.Entry, error) {
	var e mirror.Entry
	err := c.callJSON(ctx, http.MethodPost, "/api/support/message",
		map[string]string{"chat_id": chatID, "message": message}, &e)
	if err != nil {
		return nil, fmt.Errorf("sending reply: %w", err)
	}
	return &e, nil
}

// RecentChats lists the most recently active conversations.
func (c *Client) RecentChats(ctx context.Context, limit int) ([]ChatSummary, error) {
	path := "/api/support/chats"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Chats []ChatSummary `json:"chats"`
	}
	if err := c.callJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	return out.Chats, nil
}

// ChatLog returns the recorded messages of one conversation.
func (c *Client) ChatLog(ctx context.Context, chatID string, limit int) ([]ChatLogEntry, error) {
	path := "/api/support/chats/" + url.PathEscape(chatID)
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Messages []ChatLogEntry `json:"messages"`
	}
	if err := c.callJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("loading chat log: %w", err)
	}
	return out.Messages, nil
}

// SupportFeed streams live requests until ctx is done or the gateway closes
// the feed. Keeping the feed open counts as agent activity.
func (c *Client) SupportFeed(ctx context.Context) (<-chan LiveRequest, error) {
	token, err := c.token()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/support/feed", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening support feed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("opening support feed: %w", errorResponse(resp))
	}

	out := make(chan LiveRequest, streamBuffer)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		err := readEvents(ctx, resp.Body, func(ev Event) error {
			if ev.Type != "request" {
				return nil
			}
			var lr LiveRequest
			if err := json.Unmarshal([]byte(ev.Data), &lr); err != nil {
				c.logger.Warn("skipping malformed live request", "error", err)
				return nil
			}
			select {
			case out <- lr:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("support feed ended", "error", err)
		}
	}()
	return out, nil
}

// CreateAgent adds a support agent. Requires an admin token.
func (c *Client) CreateAgent(ctx context.Context, username, displayName, password, role string) (*AgentInfo, error) {
	var out AgentInfo
	err := c.callJSON(ctx, http.MethodPost, "/api/support/agents", map[string]string{
		"username":     username,
		"display_name": displayName,
		"password":     password,
		"role":         role,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}
	return &out, nil
}
