// ABOUTME: Tests for nexcart-matrix config parsing and thread routing
// ABOUTME: Also checks the crypto store file naming helpers

package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
[matrix]
homeserver = "https://matrix.example.org"
username = "nexcart"
password = "${TEST_MATRIX_PASSWORD}"

[gateway]
url = "https://chat.shop.example"
agent_username = "matrix-desk"
agent_password = "desk-password"

[bridge]
room = "!support:example.org"
heartbeat_interval = "2m"
`

func TestParse(t *testing.T) {
	t.Setenv("TEST_MATRIX_PASSWORD", "s3cret")

	cfg, err := Parse(validConfig)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Matrix.Password)
	assert.Equal(t, "!support:example.org", cfg.Bridge.Room)
	assert.Equal(t, 2*time.Minute, cfg.Heartbeat())
}

func TestParse_Invalid(t *testing.T) {
	t.Setenv("TEST_MATRIX_PASSWORD", "s3cret")

	tests := []struct {
		name    string
		from    string
		to      string
		wantErr string
	}{
		{"missing password", `password = "${TEST_MATRIX_PASSWORD}"`, `password = ""`, "matrix.password"},
		{"room alias", `room = "!support:example.org"`, `room = "#support:example.org"`, "bridge.room"},
		{"bad scheme", `url = "https://chat.shop.example"`, `url = "ftp://chat.shop.example"`, "http or https"},
		{"no agent", `agent_password = "desk-password"`, ``, "agent_password"},
		{"bad heartbeat", `heartbeat_interval = "2m"`, `heartbeat_interval = "soon"`, "heartbeat_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Contains(t, validConfig, tt.from)
			_, err := Parse(strings.Replace(validConfig, tt.from, tt.to, 1))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestHeartbeatDefault(t *testing.T) {
	assert.Equal(t, 5*time.Minute, (&Config{}).Heartbeat())
}

func TestThreads_Route(t *testing.T) {
	th := newThreads()
	_, _, ok := th.route("", "hello")
	assert.False(t, ok, "nothing tracked yet")

	assert.Equal(t, 1, th.track("chat-a"))
	th.bind("$a", "chat-a")
	assert.Equal(t, 2, th.track("chat-b"))
	assert.Equal(t, 1, th.track("chat-a"), "numbers are stable")

	chat, text, ok := th.route("$a", "  sure ")
	require.True(t, ok)
	assert.Equal(t, "chat-a", chat)
	assert.Equal(t, "sure", text)

	chat, text, ok = th.route("", "@2 done")
	require.True(t, ok)
	assert.Equal(t, "chat-b", chat)
	assert.Equal(t, "done", text)

	_, _, ok = th.route("", "@9 nobody")
	assert.False(t, ok)
	_, _, ok = th.route("", "@2")
	assert.False(t, ok, "empty reply")

	chat, _, ok = th.route("$unknown", "latest wins")
	require.True(t, ok)
	assert.Equal(t, "chat-a", chat, "track moved chat-a to latest")

	assert.Equal(t, 2, th.number("chat-b"))
	assert.Zero(t, th.number("chat-z"))
}

func TestSlugifyAndStoreKey(t *testing.T) {
	assert.Equal(t, "nexcart_example.org", slugify("@nexcart:example.org"))
	assert.Equal(t, "a-bc.d", slugify("@a-b/c.d"))
	assert.Len(t, storeKey("@nexcart:example.org"), 32)
	assert.NotEqual(t, storeKey("@a:x"), storeKey("@b:x"))
}
