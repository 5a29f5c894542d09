// ABOUTME: Tests for the Supabase mirror against an httptest PostgREST stand-in
// ABOUTME: Covers inserts with server timestamps, duplicate handling, filtered history and polling

package mirror

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexcart/nexcart-gateway/internal/store"
)

// fakePostgREST serves a single table with the handful of filters the mirror uses.
type fakePostgREST struct {
	mu   sync.Mutex
	rows []supabaseRow
	now  time.Time
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/rest/v1/chat_mirror") {
		http.NotFound(w, r)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodPost:
		var row supabaseRow
		if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, existing := range f.rows {
			if existing.ID == row.ID {
				w.WriteHeader(http.StatusConflict)
				w.Write([]byte(`{"code":"23505","message":"duplicate key value violates unique constraint"}`))
				return
			}
		}
		f.now = f.now.Add(time.Second)
		ts := f.now
		row.Seq = int64(len(f.rows) + 1)
		row.Timestamp = &ts
		f.rows = append(f.rows, row)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode([]supabaseRow{row})

	case http.MethodGet:
		q := r.URL.Query()
		chatID := strings.TrimPrefix(q.Get("chat_id"), "eq.")
		var afterSeq int64
		if v := q.Get("seq"); v != "" {
			afterSeq, _ = strconv.ParseInt(strings.TrimPrefix(v, "gt."), 10, 64)
		}
		var afterTS time.Time
		if v := q.Get("timestamp"); v != "" {
			afterTS, _ = time.Parse(time.RFC3339Nano, strings.TrimPrefix(v, "gt."))
		}
		limit, _ := strconv.Atoi(q.Get("limit"))

		out := []supabaseRow{}
		for _, row := range f.rows {
			if row.ChatID != chatID || row.Seq <= afterSeq || !row.Timestamp.After(afterTS) {
				continue
			}
			out = append(out, row)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		json.NewEncoder(w).Encode(out)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newSupabase(t *testing.T) (*Supabase, *fakePostgREST) {
	t.Helper()
	fake := &fakePostgREST{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewSupabase(SupabaseOptions{
		URL:          srv.URL,
		APIKey:       "anon-key",
		PollInterval: 10 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	return s, fake
}

func TestNewSupabase_RequiresCredentials(t *testing.T) {
	_, err := NewSupabase(SupabaseOptions{APIKey: "k"}, nil)
	assert.Error(t, err)
	_, err = NewSupabase(SupabaseOptions{URL: "http://x"}, nil)
	assert.Error(t, err)
}

func TestSupabase_AppendAndHistory(t *testing.T) {
	s, _ := newSupabase(t)
	ctx := context.Background()

	e := &Entry{ChatID: "c1", Text: "hello", Sender: store.SenderUser}
	require.NoError(t, s.Append(ctx, e))
	assert.NotEmpty(t, e.ID)
	assert.True(t, e.Timestamp.Equal(time.Date(2026, 4, 1, 10, 0, 1, 0, time.UTC)), "timestamp comes from the server")

	require.NoError(t, s.Append(ctx, &Entry{ChatID: "c2", Text: "other", Sender: store.SenderUser}))
	require.NoError(t, s.Append(ctx, &Entry{ChatID: "c1", Text: "reply", Sender: store.SenderSupport, SenderName: "Rina"}))

	hist, err := s.History(ctx, "c1", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "hello", hist[0].Text)
	assert.Equal(t, "Rina", hist[1].SenderName)

	recent, err := s.History(ctx, "c1", e.Timestamp, 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "reply", recent[0].Text)
}

func TestSupabase_DuplicateAppendIsIgnored(t *testing.T) {
	s, fake := newSupabase(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, &Entry{ID: "m1", ChatID: "c1", Text: "hi", Sender: store.SenderUser}))
	require.NoError(t, s.Append(ctx, &Entry{ID: "m1", ChatID: "c1", Text: "hi", Sender: store.SenderUser}))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.rows, 1)
}

func TestSupabase_SubscribePolls(t *testing.T) {
	s, _ := newSupabase(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Subscribe(ctx, "c1", time.Time{})
	require.NoError(t, err)

	require.NoError(t, s.Append(context.Background(), &Entry{ID: "a", ChatID: "c1", Text: "one", Sender: store.SenderSupport}))
	require.NoError(t, s.Append(context.Background(), &Entry{ID: "b", ChatID: "c1", Text: "two", Sender: store.SenderSupport}))

	assert.Equal(t, "a", next(t, ch).ID)
	assert.Equal(t, "b", next(t, ch).ID)
}
