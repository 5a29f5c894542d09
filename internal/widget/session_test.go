// ABOUTME: Tests for the widget conversation session
// ABOUTME: Covers validation, rate limiting, mode switches, the live handshake and mirror delivery

package widget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexcart/nexcart-gateway/internal/mirror"
	"github.com/nexcart/nexcart-gateway/internal/store"
)

type harness struct {
	s         *Session
	clock     *fakeClock
	transport *fakeTransport
	mirror    *mirror.Local

	mu     sync.Mutex
	states []ConnState
	resets int
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{
		clock:     newFakeClock(),
		transport: &fakeTransport{},
		mirror:    mirror.NewLocal(store.NewMockStore(), nil),
	}
	cfg := Config{
		UserID:         "42",
		UserName:       "Rahim",
		Transport:      h.transport,
		Presence:       online(true),
		Mirror:         h.mirror,
		Clock:          h.clock,
		HandshakeDelay: -1,
		OnState: func(st ConnState) {
			h.mu.Lock()
			h.states = append(h.states, st)
			h.mu.Unlock()
		},
		OnReset: func() {
			h.mu.Lock()
			h.resets++
			h.mu.Unlock()
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)
	h.s = s
	t.Cleanup(func() {
		s.Close()
		h.mirror.Close()
	})
	return h
}

func (h *harness) States() []ConnState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ConnState(nil), h.states...)
}

func last(t *testing.T, s *Session) Message {
	t.Helper()
	msgs := s.Messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func TestNew_RequiresTransport(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_StartsInAIModeWithWelcome(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, ModeAI, h.s.Mode())
	assert.Equal(t, StateDisconnected, h.s.ConnState())
	assert.True(t, strings.HasPrefix(h.s.ConversationID(), "42_"))

	msgs := h.s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleAI, msgs[0].Role)
	assert.Contains(t, msgs[0].HTML, "<strong>Groq AI</strong>")
}

func TestNew_GuestConversationID(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.UserID = "" })
	assert.True(t, strings.HasPrefix(h.s.ConversationID(), "guest_"))
}

func TestSubmit_WhitespaceIsIgnored(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.s.Submit(context.Background(), "   \n\t "))

	assert.Len(t, h.s.Messages(), 1)
	assert.Empty(t, h.transport.AICalls())
	assert.Equal(t, 0, h.s.cfg.Limiter.Outstanding())
}

func TestSubmit_AIReplyIsAppended(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.aiReply = func(text string) (string, error) {
		if text == "Hello" {
			return "Hi there!", nil
		}
		return "?", nil
	}

	require.NoError(t, h.s.Submit(context.Background(), "  Hello "))

	msgs := h.s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleUser, msgs[1].Role)
	assert.Equal(t, "Hello", msgs[1].Body)
	assert.Equal(t, "Rahim", msgs[1].Name)
	assert.Equal(t, RoleAI, msgs[2].Role)
	assert.Equal(t, "Hi there!", msgs[2].Body)
	assert.True(t, msgs[2].Timestamp.After(msgs[1].Timestamp))
	assert.Greater(t, msgs[2].ID, msgs[1].ID)
}

func TestSubmit_TooLongIsRejectedWithoutConsumingBudget(t *testing.T) {
	h := newHarness(t, nil)

	err := h.s.Submit(context.Background(), strings.Repeat("a", 1001))

	require.ErrorIs(t, err, ErrMessageTooLong)
	assert.Empty(t, h.transport.AICalls())
	assert.Equal(t, 0, h.s.cfg.Limiter.Outstanding())
	m := last(t, h.s)
	assert.Equal(t, RoleSystem, m.Role)
	assert.Contains(t, m.Body, "1000 characters")
}

func TestSubmit_ExactlyMaxLengthIsAccepted(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.Submit(context.Background(), strings.Repeat("ক", 1000)))
	assert.Len(t, h.transport.AICalls(), 1)
}

func TestSubmit_RateLimitBlocksEleventhMessage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, h.s.Submit(ctx, "hi"))
	}
	err := h.s.Submit(ctx, "one more")

	require.ErrorIs(t, err, ErrRateLimited)
	assert.Len(t, h.transport.AICalls(), 10)
	m := last(t, h.s)
	assert.Equal(t, RoleSystem, m.Role)
	assert.Contains(t, m.Body, "Please wait")

	// Budget comes back one window after the attempts.
	h.clock.Advance(DefaultRateWindow)
	require.NoError(t, h.s.Submit(ctx, "again"))
	assert.Len(t, h.transport.AICalls(), 11)
}

func TestSubmit_TransportErrorAddsSingleApology(t *testing.T) {
	h := newHarness(t, nil)
	h.transport.aiReply = func(string) (string, error) { return "", errors.New("connection refused") }

	err := h.s.Submit(context.Background(), "Hello")

	require.ErrorIs(t, err, ErrTransport)
	msgs := h.s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, RoleAI, msgs[2].Role)
	assert.Contains(t, msgs[2].Body, "AI brain")

	// The session stays usable.
	h.transport.aiReply = nil
	require.NoError(t, h.s.Submit(context.Background(), "again"))
}

func TestSubmit_BackendRejectionAndServerRateLimit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	h.transport.aiReply = func(string) (string, error) { return "", ErrRejected }
	require.ErrorIs(t, h.s.Submit(ctx, "bad"), ErrRejected)
	assert.Equal(t, textAIRejected, last(t, h.s).Body)

	h.transport.aiReply = func(string) (string, error) { return "", ErrRateLimited }
	require.ErrorIs(t, h.s.Submit(ctx, "fast"), ErrRateLimited)
	assert.Equal(t, RoleSystem, last(t, h.s).Role)
}

func TestSubmit_UserTextIsEscaped(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.s.Submit(context.Background(), "<script>alert(1)</script>"))

	user := h.s.Messages()[1]
	assert.NotContains(t, user.HTML, "<script>")
	assert.Contains(t, user.HTML, "&lt;script&gt;")
}

func TestSetMode_InvalidMode(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.s.SetMode(context.Background(), Mode("phone")), ErrInvalidMode)
}

func TestSetMode_SameModeIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.Submit(context.Background(), "hi"))

	require.NoError(t, h.s.SetMode(context.Background(), ModeAI))

	assert.Len(t, h.s.Messages(), 3)
	assert.Equal(t, 0, h.resets)
}

func TestSetMode_ClearsLogKeepsConversation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	id := h.s.ConversationID()
	require.NoError(t, h.s.Submit(ctx, "hi"))
	before := last(t, h.s)

	require.NoError(t, h.s.SetMode(ctx, ModeLive))

	assert.Equal(t, id, h.s.ConversationID())
	assert.Equal(t, ModeLive, h.s.Mode())
	assert.Equal(t, StateConnected, h.s.ConnState())
	msgs := h.s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleSupport, msgs[0].Role)
	assert.Greater(t, msgs[0].ID, before.ID)
	assert.Equal(t, []ConnState{StateConnecting, StateConnected}, h.States())

	require.NoError(t, h.s.SetMode(ctx, ModeAI))
	msgs = h.s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleAI, msgs[0].Role)
	assert.Equal(t, StateDisconnected, h.s.ConnState())
	assert.Equal(t, 2, h.resets)
}

func TestSetMode_LiveOfflineExplainsAlternatives(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Presence = online(false) })

	require.NoError(t, h.s.SetMode(context.Background(), ModeLive))

	assert.Equal(t, StateOffline, h.s.ConnState())
	m := last(t, h.s)
	assert.Equal(t, RoleSystem, m.Role)
	assert.Contains(t, m.Body, "AI Chat")
	assert.Contains(t, m.Body, "business hours")
	assert.Contains(t, m.Body, "(9 AM - 9 PM)")
}

func TestSetMode_OfflineNoticeNamesConfiguredHours(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Presence = online(false)
		c.OfflineNotice = OfflineNotice(10, 18)
	})

	require.NoError(t, h.s.SetMode(context.Background(), ModeLive))

	assert.Contains(t, last(t, h.s).Body, "(10 AM - 6 PM)")
}

func TestOfflineNotice_Hours(t *testing.T) {
	assert.Contains(t, OfflineNotice(0, 12), "(12 AM - 12 PM)")
	assert.Contains(t, OfflineNotice(8, 24), "(8 AM - 12 AM)")
	assert.Contains(t, OfflineNotice(DefaultSupportOpenHour, DefaultSupportCloseHour), "(9 AM - 9 PM)")
}

func TestSetMode_PresenceErrorMeansOffline(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Presence = PresenceFunc(func(context.Context) (bool, error) { return false, errors.New("boom") })
	})

	require.NoError(t, h.s.SetMode(context.Background(), ModeLive))
	assert.Equal(t, StateOffline, h.s.ConnState())
}

func TestSetMode_HandshakeWaitsForDelay(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.HandshakeDelay = 2 * time.Second })

	done := make(chan error, 1)
	go func() { done <- h.s.SetMode(context.Background(), ModeLive) }()

	require.Eventually(t, func() bool { return h.clock.Pending() > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, StateConnecting, h.s.ConnState())

	h.clock.Advance(2 * time.Second)
	require.NoError(t, <-done)
	assert.Equal(t, StateConnected, h.s.ConnState())
}

func TestSetMode_CancelledHandshakeDisconnects(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.HandshakeDelay = 2 * time.Second })
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.s.SetMode(ctx, ModeLive) }()
	require.Eventually(t, func() bool { return h.clock.Pending() > 0 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, StateDisconnected, h.s.ConnState())
}

func TestSubmit_LiveSendsToSupport(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.s.SetMode(ctx, ModeLive))

	require.NoError(t, h.s.Submit(ctx, "where is my order?"))

	calls := h.transport.LiveCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, h.s.ConversationID(), calls[0].conversationID)
	assert.Equal(t, "where is my order?", calls[0].text)
	assert.Empty(t, h.transport.AICalls())
}

func TestSubmit_LiveWhileOfflineRetriesHandshake(t *testing.T) {
	isOnline := false
	var mu sync.Mutex
	h := newHarness(t, func(c *Config) {
		c.Presence = PresenceFunc(func(context.Context) (bool, error) {
			mu.Lock()
			defer mu.Unlock()
			return isOnline, nil
		})
	})
	ctx := context.Background()
	require.NoError(t, h.s.SetMode(ctx, ModeLive))
	require.Equal(t, StateOffline, h.s.ConnState())

	mu.Lock()
	isOnline = true
	mu.Unlock()
	require.NoError(t, h.s.Submit(ctx, "anyone there?"))

	assert.Equal(t, StateConnected, h.s.ConnState())
	require.Len(t, h.transport.LiveCalls(), 1)
}

func TestSubmit_LiveSendFailure(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.s.SetMode(ctx, ModeLive))
	h.transport.liveErr = errors.New("down")

	err := h.s.Submit(ctx, "hello")

	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, textLiveSendFailed, last(t, h.s).Body)
}

func TestLive_AgentRepliesArriveOnceAndEchoesAreDropped(t *testing.T) {
	var mu sync.Mutex
	var received []Message
	h := newHarness(t, func(c *Config) {
		c.OnMessage = func(m Message) {
			mu.Lock()
			received = append(received, m)
			mu.Unlock()
		}
	})
	ctx := context.Background()
	require.NoError(t, h.s.SetMode(ctx, ModeLive))
	require.NoError(t, h.s.Submit(ctx, "my parcel is late"))

	reply := &mirror.Entry{
		ID:         "agent-1",
		ChatID:     h.s.ConversationID(),
		Text:       "Let me check that for you.",
		Sender:     "support",
		SenderName: "Karim",
	}
	require.NoError(t, h.mirror.Append(ctx, reply))
	require.NoError(t, h.mirror.Append(ctx, &mirror.Entry{
		ID: "agent-1", ChatID: reply.ChatID, Text: reply.Text, Sender: "support",
	}))

	require.Eventually(t, func() bool {
		for _, m := range h.s.Messages() {
			if m.MirrorID == "agent-1" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// Give any echo of the user's own message time to arrive.
	time.Sleep(50 * time.Millisecond)

	var support, users int
	for _, m := range h.s.Messages() {
		switch m.Role {
		case RoleSupport:
			if m.MirrorID == "agent-1" {
				support++
				assert.Equal(t, "Karim", m.Name)
			}
		case RoleUser:
			users++
		}
	}
	assert.Equal(t, 1, support)
	assert.Equal(t, 1, users)
}

func TestLive_RepliesForOtherConversationsAreIgnored(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.s.SetMode(ctx, ModeLive))
	n := len(h.s.Messages())

	require.NoError(t, h.mirror.Append(ctx, &mirror.Entry{
		ChatID: "someone_else", Text: "hi", Sender: "support",
	}))
	time.Sleep(50 * time.Millisecond)

	assert.Len(t, h.s.Messages(), n)
}

func TestSetMode_StaleAIReplyIsNotShown(t *testing.T) {
	h := newHarness(t, nil)
	block := make(chan struct{})
	h.transport.aiBlock = block
	h.transport.aiReply = func(string) (string, error) { return "late answer", nil }
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.s.Submit(ctx, "slow question") }()
	require.Eventually(t, func() bool { return len(h.transport.AICalls()) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.s.SetMode(ctx, ModeLive))
	close(block)
	require.NoError(t, <-done)

	for _, m := range h.s.Messages() {
		assert.NotEqual(t, "late answer", m.Body)
	}
}

func TestReceive_AppendsFormattedMessage(t *testing.T) {
	h := newHarness(t, nil)

	m := h.s.Receive(context.Background(), "**Order shipped**", RoleSupport, "Karim")

	assert.Equal(t, "<p><strong>Order shipped</strong></p>", m.HTML)
	assert.Equal(t, m, last(t, h.s))
}

func TestMirror_UserMessagesAreMirrored(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.s.Submit(ctx, "Hello"))
	h.s.pending.Wait()

	hist, err := h.mirror.History(ctx, h.s.ConversationID(), time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	senders := map[string]string{}
	for _, e := range hist {
		senders[e.Sender] = e.SenderName
	}
	assert.Equal(t, "Rahim", senders["user"])
	assert.Equal(t, NameAI, senders["ai"])
}

func TestClose_DropsLiveConnection(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.s.SetMode(context.Background(), ModeLive))

	h.s.Close()

	assert.Equal(t, StateDisconnected, h.s.ConnState())
	assert.Equal(t, ModeLive, h.s.Mode())
}

func (h *harness) history(t *testing.T) []mirror.Entry {
	t.Helper()
	hist, err := h.mirror.History(context.Background(), h.s.ConversationID(), time.Time{}, 0)
	require.NoError(t, err)
	return hist
}

func TestNew_TouchesNoBackendUntilOpened(t *testing.T) {
	var presenceCalls atomic.Int32
	h := newHarness(t, func(c *Config) {
		c.Presence = PresenceFunc(func(context.Context) (bool, error) {
			presenceCalls.Add(1)
			return true, nil
		})
	})
	ctx := context.Background()

	assert.Zero(t, presenceCalls.Load())
	assert.Empty(t, h.history(t))

	h.s.Receive(ctx, "Your parcel left the warehouse", RoleSupport, "Karim")
	h.s.pending.Wait()
	assert.Empty(t, h.history(t), "messages before Open stay local")
	assert.Empty(t, h.transport.AICalls())

	h.s.Open(ctx)
	assert.Zero(t, presenceCalls.Load())
	assert.Empty(t, h.history(t), "opening writes nothing by itself")

	h.s.Receive(ctx, "Anything else?", RoleSupport, "Karim")
	h.s.pending.Wait()
	hist := h.history(t)
	require.Len(t, hist, 1)
	assert.Equal(t, "Anything else?", hist[0].Text)
	assert.Equal(t, "Karim", hist[0].SenderName)
}

func TestClose_WaitsForConcurrentMirrorWrites(t *testing.T) {
	const workers, rounds = 8, 5
	h := newHarness(t, func(c *Config) {
		c.Limiter = NewRateLimiter(workers*rounds, time.Minute, c.Clock)
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				_ = h.s.Submit(ctx, fmt.Sprintf("message %d-%d", i, j))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				mode := ModeLive
				if j%2 == 1 {
					mode = ModeAI
				}
				_ = h.s.SetMode(ctx, mode)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.s.Close()
	}()
	wg.Wait()
	h.s.Close()

	users := 0
	for _, e := range h.history(t) {
		if e.Sender == string(RoleUser) {
			users++
		}
	}
	assert.Equal(t, workers*rounds, users)
}
