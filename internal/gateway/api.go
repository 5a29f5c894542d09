// ABOUTME: Visitor-facing HTTP endpoints used by the storefront widget
// ABOUTME: Session bootstrap, AI chat, live-support send, presence and the conversation mirror

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nexcart/nexcart-gateway/internal/auth"
	"github.com/nexcart/nexcart-gateway/internal/conversation"
	"github.com/nexcart/nexcart-gateway/internal/mirror"
	"github.com/nexcart/nexcart-gateway/internal/store"
)

// ChatAction is the action name the chat endpoint answers to.
const ChatAction = "nexcart_chat"

// Widget-visible failure messages.
const (
	msgSecurityCheck = "Security check failed"
	msgMissingFields = "Missing required fields"
	msgEmptyMessage  = "Message cannot be empty"
	msgRateLimited   = "Too many requests. Please wait a moment."
	msgUnknownAction = "Unknown action"
	msgServerError   = "Something went wrong. Please try again."

	msgSupportOnline  = "Support is available"
	msgSupportOffline = "Support is offline"
)

const (
	presenceTimeout = 5 * time.Second
	streamPing      = 25 * time.Second
	defaultName     = "Guest"
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

func (g *Gateway) registerVisitorRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/session", g.handleSession)
	mux.HandleFunc("POST /api/chat", g.handleChat)
	mux.HandleFunc("POST /api/live/send", g.handleLiveSend)
	mux.HandleFunc("GET /api/support/status", g.handleSupportStatus)
	mux.HandleFunc("POST /api/chats/{id}/mirror", g.handleMirrorAppend)
	mux.HandleFunc("GET /api/chats/{id}/stream", g.handleMirrorStream)
}

// SessionRequest asks for a visitor identity. Both fields are optional.
// UserID is the storefront's own account id and is taken on trust: the
// nonce only proves the caller talked to this gateway.
type SessionRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// WidgetSettings configures the widget for a session.
type WidgetSettings struct {
	AIEnabled         bool   `json:"ai_enabled"`
	SupportOpenHour   int    `json:"support_open_hour"`
	SupportCloseHour  int    `json:"support_close_hour"`
	SupportTimezone   string `json:"support_timezone"`
	LoadingText       string `json:"loading_text"`
	MaxMessageLength  int    `json:"max_message_length"`
	RateLimit         int    `json:"rate_limit"`
	RateWindowSeconds int    `json:"rate_window_seconds"`
}

// SessionResponse carries the visitor identity and its nonce.
type SessionResponse struct {
	VisitorID string         `json:"visitor_id"`
	Name      string         `json:"name"`
	Nonce     string         `json:"nonce"`
	ExpiresAt time.Time      `json:"expires_at"`
	Settings  WidgetSettings `json:"settings"`
}

// handleSession issues a visitor id and nonce.
func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	visitorID := "guest_" + uuid.New().String()
	if req.UserID != "" {
		if !userIDPattern.MatchString(req.UserID) {
			g.sendJSONError(w, http.StatusBadRequest, "invalid user_id")
			return
		}
		visitorID = "user_" + req.UserID
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultName
	}

	ttl := g.config.Auth.NonceTTL
	nonce, err := g.signer.IssueNonce(visitorID, name, ttl)
	if err != nil {
		g.logger.Error("failed to issue nonce", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Debug("visitor session issued", "visitor_id", visitorID)
	sendSuccess(w, SessionResponse{
		VisitorID: visitorID,
		Name:      name,
		Nonce:     nonce,
		ExpiresAt: g.now().Add(ttl).UTC(),
		Settings:  g.widgetSettings(),
	})
}

func (g *Gateway) widgetSettings() WidgetSettings {
	cfg := g.config
	return WidgetSettings{
		AIEnabled:         cfg.Completion.Enabled,
		SupportOpenHour:   cfg.Support.OpenHour,
		SupportCloseHour:  cfg.Support.CloseHour,
		SupportTimezone:   cfg.SupportLocation().String(),
		LoadingText:       cfg.Chat.LoadingText,
		MaxMessageLength:  cfg.Chat.MaxMessageLength,
		RateLimit:         cfg.Chat.RateLimit,
		RateWindowSeconds: int(cfg.Chat.RateWindow / time.Second),
	}
}

// ChatRequest is the body of the chat and live-send endpoints. Message is a
// pointer so an absent field is told apart from an empty one.
type ChatRequest struct {
	Action  string  `json:"action"`
	Message *string `json:"message"`
	ChatID  string  `json:"chat_id"`
	Nonce   string  `json:"nonce"`
}

// parseChatRequest accepts JSON or a form post, like the storefront's ajax handler did.
func parseChatRequest(w http.ResponseWriter, r *http.Request) (*ChatRequest, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return nil, errors.New("invalid form body")
		}
		req := &ChatRequest{
			Action: r.PostFormValue("action"),
			ChatID: r.PostFormValue("chat_id"),
			Nonce:  r.PostFormValue("nonce"),
		}
		if _, ok := r.PostForm["message"]; ok {
			msg := r.PostFormValue("message")
			req.Message = &msg
		}
		return req, nil
	}

	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// visitorMessage is a validated visitor submission.
type visitorMessage struct {
	visitor *auth.Identity
	chatID  string
	text    string
}

// validateVisitorMessage runs the checks shared by chat and live send, in
// order: nonce, required fields, chat ownership, empty, length, rate limit.
// On failure it has already written the response.
func (g *Gateway) validateVisitorMessage(w http.ResponseWriter, r *http.Request) (*visitorMessage, bool) {
	req, err := parseChatRequest(w, r)
	if err != nil {
		sendFailure(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if req.Action != "" && req.Action != ChatAction {
		sendFailure(w, http.StatusBadRequest, msgUnknownAction)
		return nil, false
	}

	visitor, err := auth.VisitorFromNonce(g.signer, req.Nonce)
	if err != nil {
		g.logger.Debug("nonce rejected", "error", err, "remote", clientIP(r))
		sendFailure(w, http.StatusForbidden, msgSecurityCheck)
		return nil, false
	}

	if req.Message == nil || req.ChatID == "" {
		sendFailure(w, http.StatusOK, msgMissingFields)
		return nil, false
	}
	if !ownsChat(visitor, req.ChatID) {
		g.logger.Warn("visitor addressed a foreign chat", "visitor_id", visitor.Subject, "chat_id", req.ChatID)
		sendFailure(w, http.StatusForbidden, msgSecurityCheck)
		return nil, false
	}

	text := strings.TrimSpace(*req.Message)
	if text == "" {
		sendFailure(w, http.StatusOK, msgEmptyMessage)
		return nil, false
	}
	if limit := g.config.Chat.MaxMessageLength; utf8.RuneCountInString(text) > limit {
		sendFailure(w, http.StatusOK, fmt.Sprintf("Message too long - maximum %d characters", limit))
		return nil, false
	}

	if !g.allow(r.Context(), rateKey(visitor, r)) {
		sendFailure(w, http.StatusTooManyRequests, msgRateLimited)
		return nil, false
	}

	return &visitorMessage{visitor: visitor, chatID: req.ChatID, text: text}, true
}

// ownsChat reports whether chatID belongs to the visitor. Chat ids start
// with the visitor id the widget was given.
func ownsChat(visitor *auth.Identity, chatID string) bool {
	return strings.HasPrefix(chatID, visitor.Subject+"_")
}

// rateKey is the visitor's account when signed in, otherwise the peer address.
func rateKey(visitor *auth.Identity, r *http.Request) string {
	if strings.HasPrefix(visitor.Subject, "user_") {
		return visitor.Subject
	}
	return "ip:" + clientIP(r)
}

// allow consults the limiter, failing open when its backend is down.
func (g *Gateway) allow(ctx context.Context, key string) bool {
	ok, err := g.limiter.Allow(ctx, key)
	if err != nil {
		g.logger.Warn("rate limiter unavailable, allowing request", "error", err, "key", key)
		return true
	}
	return ok
}

// handleChat answers a visitor message with the assistant.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	m, ok := g.validateVisitorMessage(w, r)
	if !ok {
		return
	}

	reply, err := g.conversation.Chat(r.Context(), m.chatID, conversation.Visitor{
		ID:   m.visitor.Subject,
		Name: m.visitor.Name,
		IP:   clientIP(r),
	}, m.text)
	if err != nil {
		g.logger.Error("chat failed", "error", err, "chat_id", m.chatID)
		sendFailure(w, http.StatusOK, msgServerError)
		return
	}

	sendSuccess(w, map[string]string{"response": reply})
}

// handleLiveSend hands a visitor message to human support.
func (g *Gateway) handleLiveSend(w http.ResponseWriter, r *http.Request) {
	m, ok := g.validateVisitorMessage(w, r)
	if !ok {
		return
	}

	n, err := g.conversation.SendLive(r.Context(), m.chatID, conversation.Visitor{
		ID:   m.visitor.Subject,
		Name: m.visitor.Name,
		IP:   clientIP(r),
	}, m.text)
	if err != nil {
		g.logger.Error("live send failed", "error", err, "chat_id", m.chatID)
		sendFailure(w, http.StatusOK, msgServerError)
		return
	}

	sendSuccess(w, map[string]int{"notified": n})
}

// SupportStatus reports live-support availability.
type SupportStatus struct {
	Online  bool   `json:"online"`
	Message string `json:"message"`
}

// handleSupportStatus reports whether a human agent is available. Presence
// errors read as offline.
func (g *Gateway) handleSupportStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), presenceTimeout)
	defer cancel()

	online, err := g.presence.Online(ctx)
	if err != nil {
		g.logger.Warn("presence check failed", "error", err)
		online = false
	}

	status := SupportStatus{Online: online, Message: msgSupportOffline}
	if online {
		status.Message = msgSupportOnline
	}
	sendSuccess(w, status)
}

// MirrorAppendRequest appends one entry to a conversation mirror.
type MirrorAppendRequest struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Sender     string `json:"sender"`
	SenderName string `json:"senderName"`
	Nonce      string `json:"nonce"`
}

// handleMirrorAppend records a visitor-side entry. Support entries only
// come from agents through the support endpoints.
func (g *Gateway) handleMirrorAppend(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	var req MirrorAppendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	visitor, err := auth.VisitorFromNonce(g.signer, req.Nonce)
	if err != nil || !ownsChat(visitor, chatID) {
		sendFailure(w, http.StatusForbidden, msgSecurityCheck)
		return
	}
	if req.Sender == store.SenderSupport {
		sendFailure(w, http.StatusForbidden, "visitors cannot post support messages")
		return
	}

	entry := &mirror.Entry{
		ID:         req.ID,
		ChatID:     chatID,
		Text:       req.Text,
		Sender:     req.Sender,
		SenderName: req.SenderName,
	}
	if err := g.mirror.Append(r.Context(), entry); err != nil {
		if errors.Is(err, mirror.ErrInvalidEntry) {
			sendFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		g.logger.Error("mirror append failed", "error", err, "chat_id", chatID)
		sendFailure(w, http.StatusBadGateway, msgServerError)
		return
	}

	sendSuccess(w, entry)
}

// handleMirrorStream streams a conversation's mirror entries as SSE "entry"
// events. Visitors pass their nonce as a query parameter since EventSource
// cannot set headers; agents use their bearer token.
func (g *Gateway) handleMirrorStream(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	if !g.authorizeChatRead(r, chatID) {
		g.sendJSONError(w, http.StatusForbidden, msgSecurityCheck)
		return
	}

	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	entries, err := g.mirror.Subscribe(ctx, chatID, since)
	if err != nil {
		g.logger.Error("mirror subscribe failed", "error", err, "chat_id", chatID)
		g.sendJSONError(w, http.StatusBadGateway, "mirror unavailable")
		return
	}

	flusher, ok := g.startSSE(w)
	if !ok {
		return
	}

	ping := time.NewTicker(streamPing)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return
			}
			g.writeSSEEvent(w, "entry", e)
			flusher.Flush()
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case <-g.closing:
			return
		case <-ctx.Done():
			return
		}
	}
}

// authorizeChatRead accepts the chat's own visitor or any support agent.
func (g *Gateway) authorizeChatRead(r *http.Request, chatID string) bool {
	if nonce := r.URL.Query().Get("nonce"); nonce != "" {
		visitor, err := auth.VisitorFromNonce(g.signer, nonce)
		return err == nil && ownsChat(visitor, chatID)
	}
	_, err := auth.AgentFromRequest(r, g.store, g.signer)
	return err == nil
}

// parseSince accepts unix milliseconds or RFC 3339. Empty means everything.
func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since %q: want unix milliseconds or RFC 3339", raw)
	}
	return t, nil
}
