// ABOUTME: Boundaries between the widget session and its backends
// ABOUTME: AI and live dispatch, support presence, and the conversation mirror

package widget

import "context"

// Transport dispatches user messages to a backend.
//
// SendAI returns the assistant's reply text. Implementations signal a
// backend refusal with an error matching ErrRejected and a server-side rate
// limit with one matching ErrRateLimited; any other error is a transport
// failure. SendLive has no synchronous reply: agent answers arrive through
// the mirror.
type Transport interface {
	SendAI(ctx context.Context, conversationID, text string) (string, error)
	SendLive(ctx context.Context, conversationID, text string) error
}

// Presence reports whether a human support agent is available.
type Presence interface {
	Online(ctx context.Context) (bool, error)
}

// PresenceFunc adapts a function to Presence.
type PresenceFunc func(ctx context.Context) (bool, error)

// Online calls f.
func (f PresenceFunc) Online(ctx context.Context) (bool, error) { return f(ctx) }
