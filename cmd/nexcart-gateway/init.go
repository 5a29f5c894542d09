// ABOUTME: Interactive config file creation for nexcart-gateway
// ABOUTME: Prompts for the common settings and generates a fresh token secret

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type initAnswers struct {
	HTTPAddr      string
	DatabasePath  string
	JWTSecret     string
	StoreName     string
	StoreURL      string
	AllowedOrigin string
	Timezone      string
	AIEnabled     bool
	Tailscale     bool
	TSHostname    string
	TSFunnel      bool
	MirrorDriver  string
	RedisAddr     string
	SupabaseURL   string
	LogLevel      string
	LogFormat     string
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("nexcart-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	secret, err := randomSecret()
	if err != nil {
		return err
	}
	a := initAnswers{JWTSecret: secret}

	fmt.Println("\n--- Store ---")
	a.StoreName = prompt(reader, "Store name", "NexCart")
	a.StoreURL = prompt(reader, "Store URL", "https://shop.example.com")
	a.AllowedOrigin = prompt(reader, "Allowed widget origin", a.StoreURL)

	fmt.Println("\n--- Server ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")
	a.DatabasePath = prompt(reader, "SQLite database path", filepath.Join(getDataPath(), "gateway.db"))
	a.Timezone = prompt(reader, "Support timezone", "Asia/Dhaka")

	fmt.Println("\n--- AI replies ---")
	a.AIEnabled = yes(prompt(reader, "Use a completion API? (key read from NEXCART_AI_KEY)", "yes"))

	fmt.Println("\n--- Realtime mirror ---")
	a.MirrorDriver = prompt(reader, "Mirror driver (local/redis/supabase)", "local")
	switch a.MirrorDriver {
	case "redis":
		a.RedisAddr = prompt(reader, "Redis address", "localhost:6379")
	case "supabase":
		a.SupabaseURL = prompt(reader, "Supabase project URL (key read from NEXCART_SUPABASE_KEY)", "")
	}

	fmt.Println("\n--- Tailscale ---")
	a.Tailscale = yes(prompt(reader, "Enable Tailscale?", "no"))
	if a.Tailscale {
		a.TSHostname = prompt(reader, "Tailscale hostname", "nexcart-chat")
		a.TSFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(a.DatabasePath), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nNext steps:")
	fmt.Println("  nexcart-gateway agent add --username admin --name Admin --role admin")
	fmt.Println("  nexcart-gateway serve")
	return nil
}

// renderConfig writes a gateway.yaml. Secrets for external services are left
// as ${VAR} references so the file can be shared.
func renderConfig(a initAnswers) string {
	var b strings.Builder
	p := func(format string, args ...any) { fmt.Fprintf(&b, format, args...) }

	p("# nexcart-gateway configuration\n")
	p("# Generated by nexcart-gateway init\n\n")

	p("server:\n  http_addr: %q\n\n", a.HTTPAddr)
	p("database:\n  path: %q\n\n", a.DatabasePath)
	p("auth:\n  jwt_secret: %q\n\n", a.JWTSecret)

	p("store:\n  name: %q\n  url: %q\n\n", a.StoreName, a.StoreURL)

	p("completion:\n  enabled: %t\n", a.AIEnabled)
	if a.AIEnabled {
		p("  api_key: \"${NEXCART_AI_KEY}\"\n")
	}
	p("\n")

	p("chat:\n  allowed_origins:\n    - %q\n\n", a.AllowedOrigin)
	p("support:\n  timezone: %q\n\n", a.Timezone)

	p("mirror:\n  driver: %q\n", a.MirrorDriver)
	if a.MirrorDriver == "supabase" {
		p("  supabase:\n    url: %q\n    api_key: \"${NEXCART_SUPABASE_KEY}\"\n", a.SupabaseURL)
	}
	p("\n")
	if a.RedisAddr != "" {
		p("redis:\n  addr: %q\n\n", a.RedisAddr)
	}

	if a.Tailscale {
		p("tailscale:\n  enabled: true\n  hostname: %q\n  funnel: %t\n\n", a.TSHostname, a.TSFunnel)
	}

	p("logging:\n  level: %q\n  format: %q\n", a.LogLevel, a.LogFormat)
	return b.String()
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if err != nil && input == "" {
		fmt.Println()
		return defaultVal
	}
	if input == "" {
		return defaultVal
	}
	return input
}
