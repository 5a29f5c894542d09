// ABOUTME: Test doubles for the widget package: a manual clock and scripted backends
// ABOUTME: Shared by the session, limiter and log tests

package widget

import (
	"context"
	"sort"
	"sync"
	"time"
)

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return &fakeTimerHandle{c: c, t: t}
}

// Advance moves time forward and runs every timer that came due, in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	rest := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.fired = true
			due = append(due, t)
		default:
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

type fakeTimerHandle struct {
	c *fakeClock
	t *fakeTimer
}

func (h *fakeTimerHandle) Stop() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if h.t.stopped || h.t.fired {
		return false
	}
	h.t.stopped = true
	return true
}

type liveCall struct {
	conversationID string
	text           string
}

type fakeTransport struct {
	mu       sync.Mutex
	aiReply  func(text string) (string, error)
	liveErr  error
	aiCalls  []string
	live     []liveCall
	aiBlock  chan struct{}
}

func (f *fakeTransport) SendAI(ctx context.Context, conversationID, text string) (string, error) {
	f.mu.Lock()
	f.aiCalls = append(f.aiCalls, text)
	reply, block := f.aiReply, f.aiBlock
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if reply == nil {
		return "ok", nil
	}
	return reply(text)
}

func (f *fakeTransport) SendLive(_ context.Context, conversationID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.liveErr != nil {
		return f.liveErr
	}
	f.live = append(f.live, liveCall{conversationID: conversationID, text: text})
	return nil
}

func (f *fakeTransport) AICalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.aiCalls...)
}

func (f *fakeTransport) LiveCalls() []liveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]liveCall(nil), f.live...)
}

func online(v bool) Presence {
	return PresenceFunc(func(context.Context) (bool, error) { return v, nil })
}
