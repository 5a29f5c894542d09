// ABOUTME: Maps Matrix room messages back to the visitor chats they answer
// ABOUTME: Requests are numbered; agents reply by quoting, by @N, or to the latest

package main

import (
	"strconv"
	"strings"
	"sync"

	"maunium.net/go/mautrix/id"
)

// threads remembers which visitor chat each bridged request belongs to.
type threads struct {
	mu       sync.Mutex
	byEvent  map[id.EventID]string
	byNumber map[int]string
	numbers  map[string]int
	latest   string
}

func newThreads() *threads {
	return &threads{
		byEvent:  make(map[id.EventID]string),
		byNumber: make(map[int]string),
		numbers:  make(map[string]int),
	}
}

// track returns the request number of chatID, assigning one on first sight,
// and makes it the latest chat.
func (t *threads) track(chatID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = chatID
	if n, ok := t.numbers[chatID]; ok {
		return n
	}
	n := len(t.numbers) + 1
	t.numbers[chatID] = n
	t.byNumber[n] = chatID
	return n
}

// bind records the Matrix event that announced a request for chatID.
func (t *threads) bind(evt id.EventID, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byEvent[evt] = chatID
}

// route picks the chat an agent message answers. A quoted request wins,
// then an "@N " prefix, then the latest request.
func (t *threads) route(replyTo id.EventID, body string) (chatID, text string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	text = strings.TrimSpace(body)
	if replyTo != "" {
		if chatID, ok := t.byEvent[replyTo]; ok {
			return chatID, text, text != ""
		}
	}
	if rest, found := strings.CutPrefix(text, "@"); found {
		num, msg, _ := strings.Cut(rest, " ")
		if n, err := strconv.Atoi(num); err == nil {
			chatID, ok := t.byNumber[n]
			msg = strings.TrimSpace(msg)
			return chatID, msg, ok && msg != ""
		}
	}
	if t.latest == "" || text == "" {
		return "", "", false
	}
	return t.latest, text, true
}

// number returns the request number of chatID, or 0.
func (t *threads) number(chatID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numbers[chatID]
}
