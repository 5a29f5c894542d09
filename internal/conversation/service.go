// ABOUTME: Service is the central layer for chat log persistence and message routing
// ABOUTME: Record first, then act: every message is logged before it is answered or relayed

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexcart/nexcart-gateway/internal/fanout"
	"github.com/nexcart/nexcart-gateway/internal/mirror"
	"github.com/nexcart/nexcart-gateway/internal/store"
)

const (
	feedKey     = "support"
	saveTimeout = 5 * time.Second

	// Sender names recorded for non-visitor messages.
	nameAI      = "AI Assistant"
	nameSupport = "Support Agent"
)

var (
	ErrEmptyMessage = errors.New("message cannot be empty")
	ErrMissingChat  = errors.New("chat_id is required")
)

// Responder produces assistant replies. The bool reports whether the
// rule-based fallback answered.
type Responder interface {
	Reply(ctx context.Context, message string) (string, bool)
}

// Visitor identifies who sent a visitor message.
type Visitor struct {
	ID   string // user_<id> or guest_<uuid>
	Name string
	IP   string
}

// LiveRequest is a visitor message waiting for a human agent.
type LiveRequest struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	VisitorID string    `json:"visitor_id"`
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Service routes chat messages and records them.
type Service struct {
	logs      store.ChatLogStore
	responder Responder
	mirror    mirror.Log
	feed      *fanout.Broadcaster[LiveRequest]
	logger    *slog.Logger
}

// New creates a Service.
func New(logs store.ChatLogStore, responder Responder, m mirror.Log, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "conversation")
	return &Service{
		logs:      logs,
		responder: responder,
		mirror:    m,
		feed:      fanout.New[LiveRequest](logger),
		logger:    logger,
	}
}

// Close ends every support feed subscription.
func (s *Service) Close() {
	s.feed.Close()
}

// Chat answers a visitor message with the assistant.
func (s *Service) Chat(ctx context.Context, chatID string, from Visitor, message string) (string, error) {
	message, err := validate(chatID, message)
	if err != nil {
		return "", err
	}

	s.record(&store.ChatLog{
		ChatID:     chatID,
		Message:    message,
		Sender:     store.SenderUser,
		SenderName: from.Name,
		UserID:     from.ID,
		UserIP:     from.IP,
	})

	reply, fellBack := s.responder.Reply(ctx, message)
	s.logger.Debug("assistant replied", "chat_id", chatID, "fallback", fellBack)

	s.record(&store.ChatLog{
		ChatID:     chatID,
		Message:    reply,
		Sender:     store.SenderAI,
		SenderName: nameAI,
		UserIP:     from.IP,
	})
	return reply, nil
}

// SendLive records a visitor message for human support and notifies agents.
// It returns the number of agents that were notified.
func (s *Service) SendLive(ctx context.Context, chatID string, from Visitor, message string) (int, error) {
	message, err := validate(chatID, message)
	if err != nil {
		return 0, err
	}

	s.record(&store.ChatLog{
		ChatID:     chatID,
		Message:    message,
		Sender:     store.SenderUser,
		SenderName: from.Name,
		UserID:     from.ID,
		UserIP:     from.IP,
	})

	n := s.feed.Publish(feedKey, LiveRequest{
		ID:        uuid.New().String(),
		ChatID:    chatID,
		VisitorID: from.ID,
		Name:      from.Name,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}, "")
	if n == 0 {
		s.logger.Info("live request queued with no agent listening", "chat_id", chatID)
	}
	return n, nil
}

// Agent identifies the support agent answering a chat.
type Agent struct {
	ID   string
	Name string
	IP   string
}

// SupportReply delivers an agent message to the visitor through the mirror.
func (s *Service) SupportReply(ctx context.Context, chatID string, from Agent, message string) (*mirror.Entry, error) {
	message, err := validate(chatID, message)
	if err != nil {
		return nil, err
	}
	name := from.Name
	if name == "" {
		name = nameSupport
	}

	entry := &mirror.Entry{
		ChatID:     chatID,
		Text:       message,
		Sender:     store.SenderSupport,
		SenderName: name,
	}
	if err := s.mirror.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("delivering support reply: %w", err)
	}

	s.record(&store.ChatLog{
		ChatID:     chatID,
		Message:    message,
		Sender:     store.SenderSupport,
		SenderName: name,
		UserID:     from.ID,
		UserIP:     from.IP,
	})
	return entry, nil
}

// SubscribeSupport streams live requests until ctx is cancelled.
func (s *Service) SubscribeSupport(ctx context.Context) <-chan LiveRequest {
	ch, _ := s.feed.Subscribe(ctx, feedKey)
	return ch
}

// SupportListeners returns the number of agents on the support feed.
func (s *Service) SupportListeners() int {
	return s.feed.Subscribers(feedKey)
}

// History returns the recorded chat log of one conversation.
func (s *Service) History(ctx context.Context, chatID string, limit int) ([]*store.ChatLog, error) {
	return s.logs.ListChatLogs(ctx, chatID, limit)
}

// RecentChats summarizes the most recently active conversations.
func (s *Service) RecentChats(ctx context.Context, limit int) ([]*store.ChatSummary, error) {
	return s.logs.ListRecentChats(ctx, limit)
}

func validate(chatID, message string) (string, error) {
	if chatID == "" {
		return "", ErrMissingChat
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return "", ErrEmptyMessage
	}
	return message, nil
}

// record saves a chat log row with a detached context so persistence
// continues even if the request is cancelled.
func (s *Service) record(log *store.ChatLog) {
	log.Timestamp = time.Now().UTC()

	saveCtx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := s.logs.SaveChatLog(saveCtx, log); err != nil {
		s.logger.Error("failed to save chat log",
			"error", err,
			"chat_id", log.ChatID,
			"sender", log.Sender)
		return
	}
	s.logger.Debug("chat log saved", "chat_id", log.ChatID, "sender", log.Sender)
}
