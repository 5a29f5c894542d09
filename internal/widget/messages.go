// ABOUTME: Ordered, append-only message log owned by a widget session
// ABOUTME: Assigns monotonic ids and strictly increasing timestamps that survive resets

package widget

import "time"

// MessageLog holds the visible messages of a conversation. It is not safe
// for concurrent use; Session guards it with its own mutex.
type MessageLog struct {
	msgs   []Message
	lastID int64
	lastTS time.Time
}

// Append assigns the next id, forces the timestamp past the previous one,
// stores the message and returns the stored copy.
func (l *MessageLog) Append(m Message) Message {
	l.lastID++
	m.ID = l.lastID

	if !m.Timestamp.After(l.lastTS) {
		m.Timestamp = l.lastTS.Add(time.Nanosecond)
	}
	l.lastTS = m.Timestamp

	l.msgs = append(l.msgs, m)
	return m
}

// Messages returns a copy of the log.
func (l *MessageLog) Messages() []Message {
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Len returns the number of visible messages.
func (l *MessageLog) Len() int {
	return len(l.msgs)
}

// Reset clears the visible messages. Ids and timestamps keep increasing
// across resets so a message is never confused with an earlier one.
func (l *MessageLog) Reset() {
	l.msgs = nil
}
