// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	logs     []*ChatLog
	mirror   []*MirrorEntry
	mirrorID map[string]bool
	products map[string]*Product // keyed by slug
	agents   map[string]*SupportAgent
	nextID   int64

	// PingErr, when set, is returned by Ping.
	PingErr error
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		mirrorID: make(map[string]bool),
		products: make(map[string]*Product),
		agents:   make(map[string]*SupportAgent),
	}
}

func (m *MockStore) next() int64 {
	m.nextID++
	return m.nextID
}

// SaveChatLog stores a chat log row.
func (m *MockStore) SaveChatLog(ctx context.Context, log *ChatLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.ID = m.next()
	l := *log
	m.logs = append(m.logs, &l)
	return nil
}

// ListChatLogs returns the last `limit` logs of a chat, oldest first.
func (m *MockStore) ListChatLogs(ctx context.Context, chatID string, limit int) ([]*ChatLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ChatLog
	for _, l := range m.logs {
		if l.ChatID == chatID {
			c := *l
			out = append(out, &c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ListRecentChats summarizes chats by latest activity.
func (m *MockStore) ListRecentChats(ctx context.Context, limit int) ([]*ChatSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byChat := make(map[string]*ChatSummary)
	lastID := make(map[string]int64)
	for _, l := range m.logs {
		s, ok := byChat[l.ChatID]
		if !ok {
			s = &ChatSummary{ChatID: l.ChatID}
			byChat[l.ChatID] = s
		}
		s.MessageCount++
		s.LastMessage = l.Message
		s.LastSender = l.Sender
		s.LastAt = l.Timestamp
		lastID[l.ChatID] = l.ID
	}

	out := make([]*ChatSummary, 0, len(byChat))
	for _, s := range byChat {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return lastID[out[i].ChatID] > lastID[out[j].ChatID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendMirrorEntry stores a mirror entry.
func (m *MockStore) AppendMirrorEntry(ctx context.Context, entry *MirrorEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mirrorID[entry.ID] {
		return ErrDuplicate
	}
	m.mirrorID[entry.ID] = true
	entry.Seq = m.next()
	e := *entry
	m.mirror = append(m.mirror, &e)
	return nil
}

// ListMirrorEntries returns entries newer than since, oldest first.
func (m *MockStore) ListMirrorEntries(ctx context.Context, chatID string, since time.Time, limit int) ([]*MirrorEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*MirrorEntry
	for _, e := range m.mirror {
		if e.ChatID != chatID || !e.Timestamp.After(since) {
			continue
		}
		c := *e
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// UpsertProduct stores a product keyed by slug.
func (m *MockStore) UpsertProduct(ctx context.Context, p *Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.products[p.Slug]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		p.ID = m.next()
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now()
		}
	}
	p.UpdatedAt = time.Now()
	c := *p
	m.products[p.Slug] = &c
	return nil
}

func (m *MockStore) sortedProducts() []*Product {
	out := make([]*Product, 0, len(m.products))
	for _, p := range m.products {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalSales != out[j].TotalSales {
			return out[i].TotalSales > out[j].TotalSales
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// PopularProducts returns the best sellers.
func (m *MockStore) PopularProducts(ctx context.Context, limit int) ([]*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 5
	}
	out := m.sortedProducts()
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchProducts matches any keyword against name and description.
func (m *MockStore) SearchProducts(ctx context.Context, keywords []string, limit int) ([]*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}

	var out []*Product
	for _, p := range m.sortedProducts() {
		name := strings.ToLower(p.Name)
		desc := strings.ToLower(p.ShortDescription)
		for _, kw := range keywords {
			kw = strings.ToLower(kw)
			if strings.Contains(name, kw) || strings.Contains(desc, kw) {
				out = append(out, p)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// CreateAgent stores a support agent.
func (m *MockStore) CreateAgent(ctx context.Context, agent *SupportAgent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.agents {
		if a.Username == agent.Username {
			return ErrDuplicate
		}
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}
	c := *agent
	m.agents[agent.ID] = &c
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*SupportAgent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *a
	return &c, nil
}

// GetAgentByUsername retrieves an agent by username.
func (m *MockStore) GetAgentByUsername(ctx context.Context, username string) (*SupportAgent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.agents {
		if a.Username == username {
			c := *a
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// TouchAgent records agent activity.
func (m *MockStore) TouchAgent(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	a.LastActivity = &at
	return nil
}

// CountActiveAgents counts agents active at or after since.
func (m *MockStore) CountActiveAgents(ctx context.Context, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, a := range m.agents {
		if a.LastActivity != nil && !a.LastActivity.Before(since) {
			n++
		}
	}
	return n, nil
}

// Ping returns PingErr.
func (m *MockStore) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
