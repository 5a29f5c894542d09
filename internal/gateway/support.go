// ABOUTME: Support agent HTTP endpoints: login, presence heartbeats, replies and the live feed
// ABOUTME: Everything past login requires an agent bearer token; agent management requires admin

package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexcart/nexcart-gateway/internal/auth"
	"github.com/nexcart/nexcart-gateway/internal/conversation"
	"github.com/nexcart/nexcart-gateway/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (g *Gateway) registerSupportRoutes(mux *http.ServeMux) {
	agentOnly := auth.RequireAgent(g.store, g.signer, g.logger)
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return agentOnly(auth.RequireAdmin()(h))
	}

	mux.HandleFunc("POST /api/support/login", g.handleLogin)
	mux.Handle("POST /api/support/heartbeat", agentOnly(http.HandlerFunc(g.handleHeartbeat)))
	mux.Handle("POST /api/support/message", agentOnly(http.HandlerFunc(g.handleSupportMessage)))
	mux.Handle("GET /api/support/feed", agentOnly(http.HandlerFunc(g.handleSupportFeed)))
	mux.Handle("GET /api/support/chats", agentOnly(http.HandlerFunc(g.handleListChats)))
	mux.Handle("GET /api/support/chats/{id}", agentOnly(http.HandlerFunc(g.handleChatLog)))
	mux.Handle("GET /api/chats/{id}/history", agentOnly(http.HandlerFunc(g.handleMirrorHistory)))
	mux.Handle("POST /api/support/agents", adminOnly(g.handleCreateAgent))
}

// LoginRequest authenticates a support agent.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AgentInfo describes an authenticated agent.
type AgentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// LoginResponse carries the agent bearer token.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Agent     AgentInfo `json:"agent"`
}

// handleLogin exchanges agent credentials for a bearer token. Logging in
// counts as activity for presence.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	agent, err := g.store.GetAgentByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		g.logger.Error("failed to load agent", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if agent == nil || auth.CheckPassword(agent.PasswordHash, req.Password) != nil {
		g.logger.Info("support login failed", "username", req.Username, "remote", clientIP(r))
		g.sendJSONError(w, http.StatusUnauthorized, auth.ErrBadCredentials.Error())
		return
	}

	ttl := g.config.Auth.AgentTokenTTL
	token, err := g.signer.IssueAgent(agent.ID, agent.DisplayName, agent.Role, ttl)
	if err != nil {
		g.logger.Error("failed to issue agent token", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.touch(r.Context(), agent.ID)

	g.logger.Info("support agent logged in", "agent_id", agent.ID)
	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: g.now().Add(ttl).UTC(),
		Agent:     AgentInfo{ID: agent.ID, Name: agent.DisplayName, Role: agent.Role},
	})
}

// touch records agent activity. Failures only cost presence accuracy.
func (g *Gateway) touch(ctx context.Context, agentID string) {
	if err := g.store.TouchAgent(ctx, agentID, g.now()); err != nil {
		g.logger.Warn("failed to record agent activity", "error", err, "agent_id", agentID)
	}
}

func (g *Gateway) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	g.touch(r.Context(), id.Subject)
	w.WriteHeader(http.StatusNoContent)
}

// SupportMessageRequest is an agent reply to a visitor.
type SupportMessageRequest struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

// handleSupportMessage delivers an agent reply through the mirror.
func (g *Gateway) handleSupportMessage(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	var req SupportMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := g.conversation.SupportReply(r.Context(), req.ChatID, conversation.Agent{
		ID:   id.Subject,
		Name: id.Name,
		IP:   clientIP(r),
	}, req.Message)
	switch {
	case errors.Is(err, conversation.ErrMissingChat), errors.Is(err, conversation.ErrEmptyMessage):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		g.logger.Error("support reply failed", "error", err, "chat_id", req.ChatID)
		g.sendJSONError(w, http.StatusBadGateway, "could not deliver message")
		return
	}

	g.touch(r.Context(), id.Subject)
	writeJSON(w, http.StatusOK, entry)
}

// handleSupportFeed streams live requests as SSE "request" events. An open
// feed keeps the agent counted as active.
func (g *Gateway) handleSupportFeed(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	requests := g.conversation.SubscribeSupport(ctx)

	flusher, ok := g.startSSE(w)
	if !ok {
		return
	}
	g.touch(ctx, id.Subject)
	g.logger.Info("support feed opened", "agent_id", id.Subject, "listeners", g.conversation.SupportListeners())

	ping := time.NewTicker(streamPing)
	defer ping.Stop()

	for {
		select {
		case req, ok := <-requests:
			if !ok {
				return
			}
			g.writeSSEEvent(w, "request", req)
			flusher.Flush()
		case <-ping.C:
			g.touch(ctx, id.Subject)
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case <-g.closing:
			return
		case <-ctx.Done():
			g.logger.Info("support feed closed", "agent_id", id.Subject)
			return
		}
	}
}

// ChatSummary is one row of the recent chats listing.
type ChatSummary struct {
	ChatID       string    `json:"chat_id"`
	LastMessage  string    `json:"last_message"`
	LastSender   string    `json:"last_sender"`
	MessageCount int       `json:"message_count"`
	LastAt       time.Time `json:"last_at"`
}

func (g *Gateway) handleListChats(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	chats, err := g.conversation.RecentChats(r.Context(), limit)
	if err != nil {
		g.logger.Error("failed to list chats", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		out = append(out, ChatSummary{
			ChatID:       c.ChatID,
			LastMessage:  c.LastMessage,
			LastSender:   c.LastSender,
			MessageCount: c.MessageCount,
			LastAt:       c.LastAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": out})
}

// ChatLogEntry is one recorded message of a chat.
type ChatLogEntry struct {
	ID         int64     `json:"id"`
	Message    string    `json:"message"`
	Sender     string    `json:"sender"`
	SenderName string    `json:"sender_name,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	UserIP     string    `json:"user_ip,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (g *Gateway) handleChatLog(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := g.conversation.History(r.Context(), chatID, limit)
	if err != nil {
		g.logger.Error("failed to load chat log", "error", err, "chat_id", chatID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]ChatLogEntry, 0, len(logs))
	for _, l := range logs {
		out = append(out, ChatLogEntry{
			ID:         l.ID,
			Message:    l.Message,
			Sender:     l.Sender,
			SenderName: l.SenderName,
			UserID:     l.UserID,
			UserIP:     l.UserIP,
			Timestamp:  l.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "messages": out})
}

// handleMirrorHistory returns a conversation's mirror entries.
func (g *Gateway) handleMirrorHistory(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := g.mirror.History(r.Context(), chatID, since, limit)
	if err != nil {
		g.logger.Error("mirror history failed", "error", err, "chat_id", chatID)
		g.sendJSONError(w, http.StatusBadGateway, "mirror unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": chatID, "entries": entries})
}

// CreateAgentRequest adds a support agent account.
type CreateAgentRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	Role        string `json:"role"`
}

func (g *Gateway) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	agent, err := NewAgent(req.Username, req.DisplayName, req.Password, req.Role)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := g.store.CreateAgent(r.Context(), agent); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			g.sendJSONError(w, http.StatusConflict, "username already exists")
			return
		}
		g.logger.Error("failed to create agent", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("support agent created", "agent_id", agent.ID, "role", agent.Role,
		"by", auth.MustFromContext(r.Context()).Subject)
	writeJSON(w, http.StatusCreated, AgentInfo{ID: agent.ID, Name: agent.DisplayName, Role: agent.Role})
}

// NewAgent validates the fields and builds an agent record with a hashed
// password. Role defaults to agent.
func NewAgent(username, displayName, password, role string) (*store.SupportAgent, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if len(password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}
	switch role {
	case "":
		role = store.AgentRoleAgent
	case store.AgentRoleAdmin, store.AgentRoleEditor, store.AgentRoleAgent:
	default:
		return nil, errors.New("role must be admin, editor or agent")
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = username
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &store.SupportAgent{
		ID:           uuid.New().String(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}
