// ABOUTME: Entry point for nexcart-gateway, the storefront chat server
// ABOUTME: Serves the widget and support APIs and manages agents and the product catalog

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/nexcart/nexcart-gateway/internal/config"
	"github.com/nexcart/nexcart-gateway/internal/gateway"
)

// Version is set at build time.
var version = "dev"

const banner = `
                                  _
  _ __   _____  _____ __ _ _ __| |_
 | '_ \ / _ \ \/ / __/ _' | '__| __|
 | | | |  __/>  < (_| (_| | |  | |_
 |_| |_|\___/_/\_\___\__,_|_|   \__|  gateway
`

// getConfigPath returns the path to the gateway config file.
// Priority: NEXCART_CONFIG > XDG_CONFIG_HOME/nexcart/gateway.yaml > ~/.config/nexcart/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("NEXCART_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "nexcart", "gateway.yaml")
}

// getDataPath returns the nexcart data directory.
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

func usage() {
	fmt.Println("Usage: nexcart-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the gateway server")
	fmt.Println("  init                                Create a new config file interactively")
	fmt.Println("  health                              Check gateway health")
	fmt.Println("  agent add --username U --name N     Create a support agent (password from stdin)")
	fmt.Println("  products import FILE.yaml           Load products into the catalog")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "health":
		err = runHealth(ctx)
	case "agent":
		err = runAgent(ctx, os.Args[2:])
	case "products":
		err = runProducts(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging, os.Stdout)

	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s\n", label+":", value)
	}
	line("Config", configPath)
	line("Store", cfg.Store.Name)
	line("Database", cfg.Database.Path)
	line("Mirror", cfg.Mirror.Driver)
	line("Limiter", cfg.RateLimit.Driver)
	if cfg.Completion.Enabled {
		line("AI", cfg.Completion.Model)
	} else {
		green.Print("    ▶ ")
		fmt.Print("AI:        ")
		yellow.Println("rule-based replies only")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Print("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		line("HTTP", cfg.Server.HTTPAddr)
	}
	fmt.Println()

	logger.Info("starting nexcart-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"mirror", cfg.Mirror.Driver,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	color.Green("healthy")
	return nil
}
