// ABOUTME: Tests for the gateway client against an in-process gateway and scripted servers
// ABOUTME: Covers error mapping, SSE parsing, stream reconnects and a full widget round trip

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexcart/nexcart-gateway/internal/completion"
	"github.com/nexcart/nexcart-gateway/internal/config"
	"github.com/nexcart/nexcart-gateway/internal/gateway"
	"github.com/nexcart/nexcart-gateway/internal/mirror"
	"github.com/nexcart/nexcart-gateway/internal/store"
	"github.com/nexcart/nexcart-gateway/internal/widget"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticCompleter string

func (s staticCompleter) Complete(context.Context, []completion.Message) (string, error) {
	return string(s), nil
}

// startGateway runs a gateway on a mock store inside support hours.
func startGateway(t *testing.T) (*httptest.Server, *store.MockStore) {
	t.Helper()
	cfg, err := config.Parse([]byte(`
server:
  http_addr: "127.0.0.1:0"
database:
  path: ":memory:"
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
support:
  timezone: "UTC"
`))
	require.NoError(t, err)

	ms := store.NewMockStore()
	noon := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	gw, err := gateway.New(cfg, testLogger(),
		gateway.WithStore(ms),
		gateway.WithCompleter(staticCompleter("Hi there!")),
		gateway.WithClock(func() time.Time { return noon }),
	)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		_ = gw.Shutdown(context.Background())
		srv.Close()
	})
	return srv, ms
}

func addAgent(t *testing.T, ms *store.MockStore, username, password string) {
	t.Helper()
	a, err := gateway.NewAgent(username, "Karim", password, "")
	require.NoError(t, err)
	require.NoError(t, ms.CreateAgent(context.Background(), a))
}

func TestStartSession_AndSendAI(t *testing.T) {
	srv, _ := startGateway(t)
	c := New(srv.URL, WithLogger(testLogger()))
	ctx := context.Background()

	_, err := c.SendAI(ctx, "x", "Hello")
	require.ErrorIs(t, err, ErrNoSession)

	sess, err := c.StartSession(ctx, "42", "Rahim")
	require.NoError(t, err)
	assert.Equal(t, "user_42", sess.VisitorID)
	assert.Equal(t, 1000, sess.Settings.MaxMessageLength)
	assert.Equal(t, time.Minute, sess.Settings.RateWindow())
	assert.Same(t, sess, c.Session())

	reply, err := c.SendAI(ctx, sess.VisitorID+"_1_abcd", "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", reply)

	// Another visitor's chat is refused, which the widget treats as a rejection.
	_, err = c.SendAI(ctx, "user_43_1_abcd", "Hello")
	assert.ErrorIs(t, err, widget.ErrRejected)

	online, err := c.Online(ctx)
	require.NoError(t, err)
	assert.True(t, online)
}

func TestSendAI_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"server rate limit", http.StatusTooManyRequests,
			`{"success":false,"data":{"message":"Too many requests. Please wait a moment."}}`,
			func(t *testing.T, err error) {
				assert.ErrorIs(t, err, widget.ErrRateLimited)
				assert.Contains(t, err.Error(), "Too many requests")
			}},
		{"validation failure", http.StatusOK,
			`{"success":false,"data":{"message":"Message cannot be empty"}}`,
			func(t *testing.T, err error) {
				assert.ErrorIs(t, err, widget.ErrRejected)
				assert.NotErrorIs(t, err, widget.ErrRateLimited)
			}},
		{"gateway down", http.StatusBadGateway, `<html>bad gateway</html>`,
			func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, http.StatusBadGateway, se.Status)
				assert.NotErrorIs(t, err, widget.ErrRejected)
			}},
		{"garbage on 200", http.StatusOK, `not json`,
			func(t *testing.T, err error) {
				assert.Error(t, err)
				assert.NotErrorIs(t, err, widget.ErrRejected)
			}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := New(srv.URL, WithLogger(testLogger()))
			c.session = &Session{VisitorID: "guest_1", Nonce: "n"}
			_, err := c.SendAI(context.Background(), "guest_1_1_a", "Hello")
			tt.check(t, err)
		})
	}
}

func TestReadEvents(t *testing.T) {
	stream := ": ping\n\n" +
		"event: entry\ndata: {\"a\":1}\n\n" +
		"event: entry\ndata: line one\ndata: line two\n\n" +
		"data: orphan data is ignored\n\n" +
		"event: request\ndata:{\"b\":2}\n\n"

	var got []Event
	err := readEvents(context.Background(), strings.NewReader(stream), func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []Event{
		{Type: "entry", Data: `{"a":1}`},
		{Type: "entry", Data: "line one\nline two"},
		{Type: "request", Data: `{"b":2}`},
	}, got)

	stop := errors.New("stop")
	err = readEvents(context.Background(), strings.NewReader(stream), func(Event) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestSubscribe_ReconnectsWithoutDuplicates(t *testing.T) {
	var connects atomic.Int32
	var secondSince atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		entry := func(id string, ms int64) {
			_, _ = fmt.Fprintf(w, "event: entry\ndata: {\"id\":%q,\"chat_id\":\"c\",\"text\":%q,\"sender\":\"support\",\"timestamp\":%q}\n\n",
				id, id, time.UnixMilli(ms).UTC().Format(time.RFC3339Nano))
		}
		switch connects.Add(1) {
		case 1:
			entry("e1", 1000)
			// Connection ends here, as if a proxy dropped it.
		default:
			secondSince.Store(r.URL.Query().Get("since"))
			entry("e1", 1000)
			entry("e2", 2000)
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		}
	}))
	defer srv.Close()

	c := New(srv.URL, WithLogger(testLogger()))
	c.reconnectDelay = 10 * time.Millisecond
	c.session = &Session{VisitorID: "guest_1", Nonce: "n"}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Subscribe(ctx, "c", time.Time{})
	require.NoError(t, err)

	var got []string
	for len(got) < 2 {
		select {
		case e := <-ch:
			got = append(got, e.ID)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []string{"e1", "e2"}, got)
	assert.Equal(t, "999", secondSince.Load(), "reconnect resumes just before the newest entry")

	cancel()
	for range ch {
	}
}

func TestSubscribe_RequiresCredentials(t *testing.T) {
	c := New("http://127.0.0.1:1")
	_, err := c.Subscribe(context.Background(), "c", time.Time{})
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = c.History(context.Background(), "c", time.Time{}, 0)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestAgent_LoginAndChatLogs(t *testing.T) {
	srv, ms := startGateway(t)
	addAgent(t, ms, "karim", "correct-horse")
	ctx := context.Background()

	agent := New(srv.URL, WithLogger(testLogger()))
	_, err := agent.Login(ctx, "karim", "wrong")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Status)

	info, err := agent.Login(ctx, "karim", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "Karim", info.Name)
	require.NoError(t, agent.Heartbeat(ctx))

	visitor := New(srv.URL, WithLogger(testLogger()))
	sess, err := visitor.StartSession(ctx, "", "")
	require.NoError(t, err)
	chatID := sess.VisitorID + "_1_abcd"
	_, err = visitor.SendAI(ctx, chatID, "Hello")
	require.NoError(t, err)

	chats, err := agent.RecentChats(ctx, 10)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, chatID, chats[0].ChatID)
	assert.Equal(t, 2, chats[0].MessageCount)

	logs, err := agent.ChatLog(ctx, chatID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "Hello", logs[0].Message)
	assert.Equal(t, "Hi there!", logs[1].Message)

	_, err = agent.Reply(ctx, chatID, "Anything else?")
	require.NoError(t, err)
	hist, err := agent.History(ctx, chatID, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, store.SenderSupport, hist[0].Sender)

	_, err = agent.CreateAgent(ctx, "nila", "", "long-enough", "")
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Status)
}

func TestWidgetSession_RoundTrip(t *testing.T) {
	srv, ms := startGateway(t)
	addAgent(t, ms, "karim", "correct-horse")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	visitor := New(srv.URL, WithLogger(testLogger()))
	sess, err := visitor.StartSession(ctx, "42", "Rahim")
	require.NoError(t, err)

	w, err := widget.New(widget.Config{
		UserID:         sess.VisitorID,
		UserName:       sess.Name,
		Transport:      visitor,
		Presence:       visitor,
		Mirror:         visitor,
		HandshakeDelay: -1,
		Logger:         testLogger(),
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Submit(ctx, "Hello"))
	msgs := w.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, widget.RoleAI, last.Role)
	assert.Equal(t, "Hi there!", last.Body)

	agent := New(srv.URL, WithLogger(testLogger()))
	_, err = agent.Login(ctx, "karim", "correct-horse")
	require.NoError(t, err)
	feed, err := agent.SupportFeed(ctx)
	require.NoError(t, err)

	require.NoError(t, w.SetMode(ctx, widget.ModeLive))
	require.Equal(t, widget.StateConnected, w.ConnState())

	require.NoError(t, w.Submit(ctx, "Where is my order?"))

	var req LiveRequest
	select {
	case req = <-feed:
	case <-ctx.Done():
		t.Fatal("live request never reached the support feed")
	}
	assert.Equal(t, w.ConversationID(), req.ChatID)
	assert.Equal(t, "Where is my order?", req.Message)
	assert.Equal(t, "Rahim", req.Name)

	_, err = agent.Reply(ctx, req.ChatID, "Let me check that for you.")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, m := range w.Messages() {
			if m.Role == widget.RoleSupport && m.Body == "Let me check that for you." {
				return m.Name == "Karim"
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	// The visitor's own messages reach the mirror through the client.
	require.Eventually(t, func() bool {
		hist, err := agent.History(ctx, req.ChatID, time.Time{}, 0)
		if err != nil {
			return false
		}
		for _, e := range hist {
			if e.Sender == store.SenderUser && e.Text == "Where is my order?" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)
}

func TestAppend_CopiesServerFields(t *testing.T) {
	srv, _ := startGateway(t)
	c := New(srv.URL, WithLogger(testLogger()))
	sess, err := c.StartSession(context.Background(), "", "")
	require.NoError(t, err)

	e := &mirror.Entry{ChatID: sess.VisitorID + "_1_a", Text: "hi", Sender: store.SenderUser}
	require.NoError(t, c.Append(context.Background(), e))
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.Timestamp.IsZero())

	e = &mirror.Entry{ChatID: sess.VisitorID + "_1_a", Text: "hi", Sender: store.SenderSupport}
	assert.Error(t, c.Append(context.Background(), e))
}
