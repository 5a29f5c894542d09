// ABOUTME: Tests for nexcart-gateway command helpers
// ABOUTME: Config template round trip, catalog parsing and the color log handler

package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexcart/nexcart-gateway/internal/config"
)

func TestRenderConfig_LoadsBack(t *testing.T) {
	t.Setenv("NEXCART_AI_KEY", "gsk_test")

	out := renderConfig(initAnswers{
		HTTPAddr:      "localhost:9090",
		DatabasePath:  "/tmp/nexcart/gateway.db",
		JWTSecret:     strings.Repeat("s", 44),
		StoreName:     "Bazaar",
		StoreURL:      "https://bazaar.example",
		AllowedOrigin: "https://bazaar.example",
		Timezone:      "UTC",
		AIEnabled:     true,
		MirrorDriver:  "redis",
		RedisAddr:     "localhost:6379",
		LogLevel:      "debug",
		LogFormat:     "json",
	})

	cfg, err := config.Parse([]byte(out))
	require.NoError(t, err, out)
	assert.Equal(t, "localhost:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "Bazaar", cfg.Store.Name)
	assert.Equal(t, "gsk_test", cfg.Completion.APIKey)
	assert.Equal(t, []string{"https://bazaar.example"}, cfg.Chat.AllowedOrigins)
	assert.Equal(t, "redis", cfg.Mirror.Driver)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.Tailscale.Enabled)
}

func TestRandomSecret_LongEnough(t *testing.T) {
	a, err := randomSecret()
	require.NoError(t, err)
	b, err := randomSecret()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(a), 32)
	assert.NotEqual(t, a, b)
}

func TestParseCatalog(t *testing.T) {
	products, err := parseCatalog([]byte(`
products:
  - slug: smart-watch
    name: Smart Watch
    price: 4500
    url: https://shop.example/p/smart-watch
    total_sales: 120
  - slug: earbuds
    name: Wireless Earbuds
    price: 1999.5
`))
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Smart Watch", products[0].Name)
	assert.Equal(t, 120, products[0].TotalSales)
	assert.InDelta(t, 1999.5, products[1].Price, 0.001)

	_, err = parseCatalog([]byte("products:\n  - name: No Slug\n"))
	assert.ErrorContains(t, err, "slug and name are required")

	_, err = parseCatalog([]byte("products:\n  - slug: x\n    name: X\n    price: -1\n"))
	assert.ErrorContains(t, err, "negative price")
}

func TestReadPassword(t *testing.T) {
	pw, err := readPassword(strings.NewReader("hunter22\nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "hunter22", pw)

	pw, err = readPassword(strings.NewReader("no-newline"))
	require.NoError(t, err)
	assert.Equal(t, "no-newline", pw)

	_, err = readPassword(strings.NewReader(""))
	assert.Error(t, err)
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"}, &buf)

	logger.With("component", "gateway").Info("listening", "addr", ":8080")
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "listening")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "gateway")
	assert.Contains(t, out, ":8080")
	assert.NotContains(t, out, "hidden")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
