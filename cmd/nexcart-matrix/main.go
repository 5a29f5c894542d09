// ABOUTME: Entry point for nexcart-matrix, the live support bridge
// ABOUTME: Lets a team answer storefront visitors from a Matrix room

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
)

const banner = `
    ╭────────────────────────────────╮
    │                                │
    │   nexcart ⇄ matrix             │
    │   live support bridge          │
    │                                │
    ╰────────────────────────────────╯
`

// getConfigPath returns the bridge config path.
// Priority: NEXCART_MATRIX_CONFIG > XDG_CONFIG_HOME/nexcart/matrix-bridge.toml > ~/.config/nexcart/matrix-bridge.toml
func getConfigPath() string {
	if envPath := os.Getenv("NEXCART_MATRIX_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "matrix-bridge.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "nexcart", "matrix-bridge.toml")
}

func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "nexcart")
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	color.New(color.FgCyan).Print(banner)

	configPath := getConfigPath()
	cfg, err := Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	logger := setupLogger(cfg.Logging.Level)

	green := color.New(color.FgGreen)
	for _, kv := range [][2]string{
		{"Config", configPath},
		{"Homeserver", cfg.Matrix.Homeserver},
		{"Room", cfg.Bridge.Room},
		{"Gateway", cfg.Gateway.URL},
		{"Agent", cfg.Gateway.AgentUsername},
	} {
		green.Print("    ▶ ")
		fmt.Printf("%-11s %s\n", kv[0]+":", kv[1])
	}
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bridge, err := NewBridge(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Login(ctx); err != nil {
		return err
	}

	cryptoMgr, err := SetupCrypto(ctx, bridge.matrix, cfg.Matrix.RecoveryKey, getDataPath(), logger)
	if err != nil {
		return fmt.Errorf("setting up encryption: %w", err)
	}
	defer cryptoMgr.Close()

	return bridge.Run(ctx)
}

func setupLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
