// ABOUTME: Core types of the chat widget session: modes, connection states, roles and messages
// ABOUTME: Also holds the canned conversation texts and the session error values

package widget

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects where user messages are dispatched.
type Mode string

// Chat modes.
const (
	ModeAI   Mode = "ai"
	ModeLive Mode = "live"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAI || m == ModeLive
}

// ConnState is the live-support connection state.
type ConnState string

// Live-support connection states.
const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateOffline      ConnState = "offline"
)

// Role identifies who authored a message.
type Role string

// Message roles.
const (
	RoleUser    Role = "user"
	RoleAI      Role = "ai"
	RoleSupport Role = "support"
	RoleSystem  Role = "system"
)

// Message is one entry of the visible conversation. Messages are values;
// the log hands out copies.
type Message struct {
	ID        int64
	Role      Role
	Name      string
	Body      string
	HTML      string
	Timestamp time.Time
	MirrorID  string
}

// Errors returned by Session operations. Each one is also surfaced to the
// user as a message in the log.
var (
	ErrMessageTooLong = errors.New("message too long")
	ErrRateLimited    = errors.New("rate limited")
	ErrTransport      = errors.New("transport failure")
	ErrRejected       = errors.New("request rejected by backend")
	ErrInvalidMode    = errors.New("invalid chat mode")
)

// Display names used for non-user messages.
const (
	NameAI      = "AI Assistant"
	NameSupport = "Support Agent"
	NameSystem  = "System"
)

// DefaultAIWelcome greets the visitor in AI mode.
const DefaultAIWelcome = "Hello! 👋 I'm your AI assistant powered by **Groq AI** using the **LLaMA 3** model.\n\n" +
	"I can help you with:\n\n" +
	"• 🛍️ Product information and recommendations\n" +
	"• 📦 Order status and tracking\n" +
	"• 🚚 Shipping and return policies\n" +
	"• 💳 Payment options and checkout help\n" +
	"• ❓ General store questions\n\n" +
	"What can I help you find today?"

// Default support hours named in the offline notice.
const (
	DefaultSupportOpenHour  = 9
	DefaultSupportCloseHour = 21
)

const textOffline = "Our support team is currently offline. You can:\n\n" +
	"• Switch to AI Chat for instant help\n" +
	"• Leave a message and we'll get back to you\n" +
	"• Try again during business hours (%s - %s)"

// OfflineNotice is the message shown when no agent is available, naming the
// support hours (0-24, local to the store).
func OfflineNotice(openHour, closeHour int) string {
	return fmt.Sprintf(textOffline, clockHour(openHour), clockHour(closeHour))
}

// clockHour renders an hour of the day as "9 AM", "12 PM" or "12 AM".
func clockHour(h int) string {
	h = ((h % 24) + 24) % 24
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	if h = h % 12; h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d %s", h, suffix)
}

const (
	textAgentGreeting  = "Hello! 👋 A support agent is now connected and ready to help you. How can we assist you today?"
	textRateLimited    = "Please wait a moment before sending more messages. 🕐"
	textTooLong        = "Message too long. Please keep it under %d characters."
	textAIUnreachable  = "I'm having trouble connecting to my AI brain. Please try again in a moment! 🤖"
	textAIRejected     = "Sorry, I encountered an error. Please try again. 🔧"
	textConnecting     = "Please wait while we connect you to support..."
	textLiveSendFailed = "Sorry, your message could not be delivered to support. Please try again."
)
