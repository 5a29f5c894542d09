package widget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageLog_AssignsIncreasingIDsAndTimestamps(t *testing.T) {
	var l MessageLog
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	a := l.Append(Message{Body: "a", Timestamp: ts})
	b := l.Append(Message{Body: "b", Timestamp: ts})
	c := l.Append(Message{Body: "c", Timestamp: ts.Add(-time.Hour)})

	assert.Equal(t, []int64{1, 2, 3}, []int64{a.ID, b.ID, c.ID})
	assert.True(t, b.Timestamp.After(a.Timestamp))
	assert.True(t, c.Timestamp.After(b.Timestamp))
}

func TestMessageLog_ResetKeepsCounters(t *testing.T) {
	var l MessageLog
	ts := time.Now()
	first := l.Append(Message{Timestamp: ts})

	l.Reset()
	assert.Equal(t, 0, l.Len())

	next := l.Append(Message{Timestamp: ts})
	assert.Equal(t, int64(2), next.ID)
	assert.True(t, next.Timestamp.After(first.Timestamp))
}

func TestMessageLog_MessagesIsACopy(t *testing.T) {
	var l MessageLog
	l.Append(Message{Body: "original"})

	msgs := l.Messages()
	msgs[0].Body = "changed"

	assert.Equal(t, "original", l.Messages()[0].Body)
}
