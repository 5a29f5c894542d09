// ABOUTME: Store interfaces and data types for nexcart-gateway persistence
// ABOUTME: Defines chat logs, mirror entries, products and support agents

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when inserting a row whose unique key already exists
var ErrDuplicate = errors.New("already exists")

// Sender roles recorded in chat logs and mirror entries.
const (
	SenderUser    = "user"
	SenderAI      = "ai"
	SenderSupport = "support"
	SenderSystem  = "system"
)

// ChatLog is one recorded chat message, kept for support monitoring.
type ChatLog struct {
	ID         int64
	ChatID     string
	Message    string
	Sender     string
	SenderName string
	UserID     string
	UserIP     string
	Timestamp  time.Time
}

// ChatSummary describes the latest activity of one conversation.
type ChatSummary struct {
	ChatID       string
	LastMessage  string
	LastSender   string
	MessageCount int
	LastAt       time.Time
}

// MirrorEntry is an append-only record in a conversation mirror.
// Seq is assigned by the store and orders entries within the whole log.
type MirrorEntry struct {
	ID         string
	ChatID     string
	Text       string
	Sender     string
	SenderName string
	Timestamp  time.Time
	Seq        int64
}

// Product is a storefront item exposed to the assistant.
type Product struct {
	ID               int64
	Slug             string
	Name             string
	Price            float64
	URL              string
	ImageURL         string
	ShortDescription string
	TotalSales       int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Support agent roles. Every role counts toward support presence; only admins
// may create agents.
const (
	AgentRoleAdmin  = "admin"
	AgentRoleEditor = "editor"
	AgentRoleAgent  = "agent"
)

// SupportAgent is a human who answers live-support chats.
type SupportAgent struct {
	ID           string
	Username     string
	DisplayName  string
	PasswordHash string
	Role         string
	LastActivity *time.Time
	CreatedAt    time.Time
}

// ChatLogStore persists the chat log.
type ChatLogStore interface {
	SaveChatLog(ctx context.Context, log *ChatLog) error
	ListChatLogs(ctx context.Context, chatID string, limit int) ([]*ChatLog, error)
	ListRecentChats(ctx context.Context, limit int) ([]*ChatSummary, error)
}

// MirrorStore persists mirror entries. Entries are never updated or deleted.
type MirrorStore interface {
	AppendMirrorEntry(ctx context.Context, entry *MirrorEntry) error
	ListMirrorEntries(ctx context.Context, chatID string, since time.Time, limit int) ([]*MirrorEntry, error)
}

// CatalogStore reads and maintains the product catalog.
type CatalogStore interface {
	UpsertProduct(ctx context.Context, p *Product) error
	PopularProducts(ctx context.Context, limit int) ([]*Product, error)
	SearchProducts(ctx context.Context, keywords []string, limit int) ([]*Product, error)
}

// AgentStore manages support agent accounts and presence.
type AgentStore interface {
	CreateAgent(ctx context.Context, agent *SupportAgent) error
	GetAgent(ctx context.Context, id string) (*SupportAgent, error)
	GetAgentByUsername(ctx context.Context, username string) (*SupportAgent, error)
	TouchAgent(ctx context.Context, id string, at time.Time) error
	CountActiveAgents(ctx context.Context, since time.Time) (int, error)
}

// Store combines every persistence concern of the gateway.
type Store interface {
	ChatLogStore
	MirrorStore
	CatalogStore
	AgentStore
	Ping(ctx context.Context) error
	Close() error
}
