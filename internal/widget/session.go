// ABOUTME: Conversation session controller for the storefront chat widget
// ABOUTME: Owns mode, live connection state and the message log; dispatches to AI or live support

package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nexcart/nexcart-gateway/internal/dedupe"
	"github.com/nexcart/nexcart-gateway/internal/mirror"
)

// Session defaults.
const (
	DefaultMaxMessageLength = 1000
	DefaultHandshakeDelay   = 2 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultRecencyBuffer    = time.Second

	mirrorWriteTimeout = 5 * time.Second
	seenTTL            = time.Hour
	seenMax            = 1024
)

// Config wires a Session to its collaborators.
type Config struct {
	UserID   string
	UserName string

	Transport Transport  // required
	Presence  Presence   // nil means support is always offline
	Mirror    mirror.Log // nil disables mirroring and live replies
	Clock     Clock
	Limiter   *RateLimiter
	Formatter *Formatter

	MaxMessageLength int
	// HandshakeDelay is waited before checking presence. Negative disables it.
	HandshakeDelay   time.Duration
	HandshakeTimeout time.Duration
	RecencyBuffer    time.Duration
	Welcome          string
	// OfflineNotice is shown when no agent is available. Defaults to the
	// notice for the default support hours.
	OfflineNotice    string

	Logger *slog.Logger

	// Hooks run outside the session lock, on the goroutine that caused the change.
	OnMessage func(Message)
	OnReset   func()
	OnState   func(ConnState)
}

// Session is one visitor's conversation. All methods are safe for
// concurrent use; backend calls never run under the session lock.
type Session struct {
	cfg    Config
	id     string
	logger *slog.Logger
	seen   *dedupe.Cache

	mu        sync.Mutex
	mode      Mode
	state     ConnState
	log       MessageLog
	gen       uint64
	opened    bool
	cancelSub context.CancelFunc
	// closing counts Close calls waiting on pending. While it is non-zero
	// nothing new is added to pending.
	closing int

	pending sync.WaitGroup
}

// New creates a session in AI mode with the welcome message in its log.
// No backend is contacted until the widget is opened or used.
func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, errors.New("widget: transport is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(DefaultRateLimit, DefaultRateWindow, cfg.Clock)
	}
	if cfg.Formatter == nil {
		cfg.Formatter = NewFormatter()
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.HandshakeDelay == 0 {
		cfg.HandshakeDelay = DefaultHandshakeDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.RecencyBuffer <= 0 {
		cfg.RecencyBuffer = DefaultRecencyBuffer
	}
	if cfg.Welcome == "" {
		cfg.Welcome = DefaultAIWelcome
	}
	if cfg.OfflineNotice == "" {
		cfg.OfflineNotice = OfflineNotice(DefaultSupportOpenHour, DefaultSupportCloseHour)
	}
	if cfg.UserName == "" {
		cfg.UserName = "Guest"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Session{
		cfg:   cfg,
		id:    newConversationID(cfg.UserID, cfg.Clock.Now()),
		mode:  ModeAI,
		state: StateDisconnected,
		seen:  dedupe.NewWithClock(seenTTL, seenMax, cfg.Clock.Now),
	}
	s.logger = cfg.Logger.With("component", "widget", "chat_id", s.id)

	s.mu.Lock()
	welcome := s.appendLocked(RoleAI, NameAI, cfg.Welcome, "")
	s.mu.Unlock()
	s.emit(welcome)

	return s, nil
}

// newConversationID combines the user, the creation time and a random
// suffix so two tabs opened in the same millisecond still differ.
func newConversationID(userID string, now time.Time) string {
	if userID == "" {
		userID = "guest"
	}
	return fmt.Sprintf("%s_%d_%s", userID, now.UnixMilli(), uuid.New().String()[:8])
}

// ConversationID returns the id shared with backends and the mirror.
func (s *Session) ConversationID() string { return s.id }

// Mode returns the current chat mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// ConnState returns the live-support connection state.
func (s *Session) ConnState() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of the visible log.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Messages()
}

// Open marks the widget as shown. The first call enables the mirror.
func (s *Session) Open(ctx context.Context) {
	s.mu.Lock()
	first := !s.opened
	s.opened = true
	s.mu.Unlock()

	if first {
		s.logger.Debug("widget opened", "mirror", s.cfg.Mirror != nil)
	}
}

// Close hides the widget. A live connection drops to disconnected and the
// mirror subscription ends. Close waits for in-flight mirror writes,
// including writes started by other goroutines while it waits.
func (s *Session) Close() {
	s.mu.Lock()
	changed := s.state == StateConnecting || s.state == StateConnected
	if changed {
		s.state = StateDisconnected
	}
	s.stopSubscriptionLocked()
	s.closing++
	s.mu.Unlock()

	if changed {
		s.emitState(StateDisconnected)
	}
	s.pending.Wait()

	s.mu.Lock()
	s.closing--
	s.mu.Unlock()
}

// SetMode switches between AI and live chat. Switching clears the visible
// log but keeps the conversation id. Switching to live runs the connection
// handshake before returning.
func (s *Session) SetMode(ctx context.Context, m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, m)
	}

	s.Open(ctx)

	s.mu.Lock()
	if m == s.mode {
		s.mu.Unlock()
		return nil
	}
	s.mode = m
	s.gen++
	gen := s.gen
	s.log.Reset()
	s.stopSubscriptionLocked()
	stateChanged := s.state != StateDisconnected
	s.state = StateDisconnected

	var welcome *Message
	if m == ModeAI {
		w := s.appendLocked(RoleAI, NameAI, s.cfg.Welcome, "")
		welcome = &w
	}
	s.mu.Unlock()

	s.logger.Info("chat mode changed", "mode", m)
	if s.cfg.OnReset != nil {
		s.cfg.OnReset()
	}
	if stateChanged {
		s.emitState(StateDisconnected)
	}
	if welcome != nil {
		s.emit(*welcome)
	}

	if m == ModeLive {
		return s.handshake(ctx, gen)
	}
	return nil
}

// Submit sends user text. Whitespace-only text is ignored. Validation,
// rate limiting and backend failures are reported both as a message in the
// log and as the returned error; the session stays usable either way.
func (s *Session) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.Open(ctx)

	if n := utf8.RuneCountInString(text); n > s.cfg.MaxMessageLength {
		s.addSystem(fmt.Sprintf(textTooLong, s.cfg.MaxMessageLength))
		return fmt.Errorf("%w: %d characters", ErrMessageTooLong, n)
	}

	if !s.cfg.Limiter.Allow() {
		s.addSystem(textRateLimited)
		return ErrRateLimited
	}

	s.mu.Lock()
	mode, gen, state := s.mode, s.gen, s.state
	user := s.appendLocked(RoleUser, s.cfg.UserName, text, "")
	s.mu.Unlock()
	s.emit(user)
	s.mirrorAsync(user)

	if mode == ModeLive {
		return s.dispatchLive(ctx, gen, state, text)
	}
	return s.dispatchAI(ctx, gen, text)
}

// Receive appends a message from outside the user input path and mirrors it.
func (s *Session) Receive(ctx context.Context, body string, role Role, name string) Message {
	s.mu.Lock()
	m := s.appendLocked(role, name, body, "")
	s.mu.Unlock()

	s.emit(m)
	s.mirrorAsync(m)
	return m
}

func (s *Session) dispatchAI(ctx context.Context, gen uint64, text string) error {
	reply, err := s.cfg.Transport.SendAI(ctx, s.id, text)
	if err != nil {
		s.logger.Warn("AI dispatch failed", "error", err)
		switch {
		case errors.Is(err, ErrRateLimited):
			s.addIfCurrent(gen, RoleSystem, NameSystem, textRateLimited)
			return err
		case errors.Is(err, ErrRejected):
			s.addIfCurrent(gen, RoleAI, NameAI, textAIRejected)
			return err
		default:
			s.addIfCurrent(gen, RoleAI, NameAI, textAIUnreachable)
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		// The visitor switched modes while waiting; keep the reply in the
		// mirror history only.
		s.mirrorAsync(Message{Role: RoleAI, Name: NameAI, Body: reply, Timestamp: s.cfg.Clock.Now()})
		return nil
	}
	m := s.appendLocked(RoleAI, NameAI, reply, "")
	s.mu.Unlock()

	s.emit(m)
	s.mirrorAsync(m)
	return nil
}

func (s *Session) dispatchLive(ctx context.Context, gen uint64, state ConnState, text string) error {
	switch state {
	case StateConnected:
	case StateConnecting:
		s.addSystem(textConnecting)
		return nil
	default:
		s.addSystem(textConnecting)
		if err := s.handshake(ctx, gen); err != nil {
			return err
		}
		if s.ConnState() != StateConnected {
			return nil
		}
	}

	if err := s.cfg.Transport.SendLive(ctx, s.id, text); err != nil {
		s.logger.Warn("live dispatch failed", "error", err)
		s.addIfCurrent(gen, RoleSystem, NameSystem, textLiveSendFailed)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// handshake moves a live session through connecting to connected or offline.
func (s *Session) handshake(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	if s.gen != gen || s.mode != ModeLive || s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.emitState(StateConnecting)

	if err := sleep(ctx, s.cfg.Clock, s.cfg.HandshakeDelay); err != nil {
		s.abandonHandshake(gen)
		return err
	}

	online := s.checkPresence(ctx)

	s.mu.Lock()
	if s.gen != gen || s.state != StateConnecting {
		s.mu.Unlock()
		return nil
	}
	var m Message
	if online {
		s.state = StateConnected
		m = s.appendLocked(RoleSupport, NameSupport, textAgentGreeting, "")
	} else {
		s.state = StateOffline
		m = s.appendLocked(RoleSystem, NameSystem, s.cfg.OfflineNotice, "")
	}
	state := s.state
	s.mu.Unlock()

	s.logger.Info("live support handshake finished", "state", state)
	s.emitState(state)
	s.emit(m)

	if online {
		s.subscribe(gen)
	}
	return nil
}

func (s *Session) abandonHandshake(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.mu.Unlock()
	s.emitState(StateDisconnected)
}

func (s *Session) checkPresence(ctx context.Context) bool {
	if s.cfg.Presence == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	online, err := s.cfg.Presence.Online(ctx)
	if err != nil {
		s.logger.Warn("support presence check failed", "error", err)
		return false
	}
	return online
}

// subscribe starts delivering agent replies from the mirror.
func (s *Session) subscribe(gen uint64) {
	if s.cfg.Mirror == nil {
		return
	}

	subCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.gen != gen || s.state != StateConnected || s.closing > 0 {
		s.mu.Unlock()
		cancel()
		return
	}
	s.stopSubscriptionLocked()
	s.cancelSub = cancel
	s.pending.Add(1)
	s.mu.Unlock()

	since := s.cfg.Clock.Now().Add(-s.cfg.RecencyBuffer)
	ch, err := s.cfg.Mirror.Subscribe(subCtx, s.id, since)
	if err != nil {
		s.logger.Warn("mirror subscription failed", "error", err)
		cancel()
		s.pending.Done()
		return
	}

	go func() {
		defer s.pending.Done()
		for e := range ch {
			s.deliver(gen, e)
		}
	}()
}

// deliver surfaces a mirrored agent message once.
func (s *Session) deliver(gen uint64, e mirror.Entry) {
	if e.Sender != string(RoleSupport) {
		return
	}
	if s.seen.Observe(e.ID) {
		return
	}

	name := e.SenderName
	if name == "" {
		name = NameSupport
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	m := s.appendLocked(RoleSupport, name, e.Text, e.ID)
	s.mu.Unlock()
	s.emit(m)
}

func (s *Session) stopSubscriptionLocked() {
	if s.cancelSub != nil {
		s.cancelSub()
		s.cancelSub = nil
	}
}

// appendLocked formats and stores a message. Must be called with mu held.
func (s *Session) appendLocked(role Role, name, body, mirrorID string) Message {
	if mirrorID == "" {
		mirrorID = uuid.New().String()
	}
	return s.log.Append(Message{
		Role:      role,
		Name:      name,
		Body:      body,
		HTML:      s.cfg.Formatter.Format(body, role),
		Timestamp: s.cfg.Clock.Now(),
		MirrorID:  mirrorID,
	})
}

func (s *Session) addSystem(text string) {
	s.mu.Lock()
	m := s.appendLocked(RoleSystem, NameSystem, text, "")
	s.mu.Unlock()
	s.emit(m)
}

// addIfCurrent appends only if no mode switch happened since gen.
func (s *Session) addIfCurrent(gen uint64, role Role, name, text string) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	m := s.appendLocked(role, name, text, "")
	s.mu.Unlock()
	s.emit(m)
}

// mirrorAsync writes m to the mirror without blocking the caller. Failures
// are logged and otherwise ignored. While Close is waiting the write runs
// on the caller's goroutine instead.
func (s *Session) mirrorAsync(m Message) {
	if s.cfg.Mirror == nil {
		return
	}
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return
	}
	async := s.closing == 0
	if async {
		s.pending.Add(1)
	}
	s.mu.Unlock()

	if m.MirrorID == "" {
		m.MirrorID = uuid.New().String()
	}
	s.seen.Add(m.MirrorID)

	name := m.Name
	if m.Role == RoleUser {
		name = s.cfg.UserName
	}
	entry := &mirror.Entry{
		ID:         m.MirrorID,
		ChatID:     s.id,
		Text:       m.Body,
		Sender:     string(m.Role),
		SenderName: name,
	}

	if !async {
		s.writeMirror(entry)
		return
	}
	go func() {
		defer s.pending.Done()
		s.writeMirror(entry)
	}()
}

func (s *Session) writeMirror(entry *mirror.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()
	if err := s.cfg.Mirror.Append(ctx, entry); err != nil {
		s.logger.Warn("mirror write failed", "entry_id", entry.ID, "error", err)
	}
}

func (s *Session) emit(m Message) {
	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(m)
	}
}

func (s *Session) emitState(st ConnState) {
	if s.cfg.OnState != nil {
		s.cfg.OnState(st)
	}
}
