// ABOUTME: Terminal chat client for the nexcart gateway
// ABOUTME: Runs a widget session against a remote gateway, plus an agent console

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nexcart/nexcart-gateway/internal/client"
	"github.com/nexcart/nexcart-gateway/internal/widget"
)

var version = "dev"

var (
	serverURL string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "nexcart-chat",
	Short: "Chat with a NexCart store from the terminal",
	Long: `Chat with a NexCart store from the terminal.

Messages go to the store's AI assistant. Type /live to reach a human
support agent and /ai to switch back.

  nexcart-chat --server https://chat.shop.example
  nexcart-chat agent --username karim    # answer visitors as an agent`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runVisitor,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("NEXCART_SERVER", "http://localhost:8080"), "gateway URL")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log client activity to stderr")
	rootCmd.Flags().String("user", "", "signed-in user id (omit to chat as a guest)")
	rootCmd.Flags().String("name", "", "display name")
	rootCmd.Flags().Bool("live", false, "start in live support mode")
	rootCmd.AddCommand(agentCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger() *slog.Logger {
	out := io.Discard
	if verbose {
		out = os.Stderr
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runVisitor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	userID, _ := cmd.Flags().GetString("user")
	name, _ := cmd.Flags().GetString("name")
	live, _ := cmd.Flags().GetBool("live")

	logger := newLogger()
	out := &printer{out: cmd.OutOrStdout()}

	c := client.New(serverURL, client.WithLogger(logger))
	sess, err := c.StartSession(ctx, userID, name)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	w, err := widget.New(widget.Config{
		UserID:           sess.VisitorID,
		UserName:         sess.Name,
		Transport:        c,
		Presence:         c,
		Mirror:           c,
		MaxMessageLength: sess.Settings.MaxMessageLength,
		OfflineNotice:    widget.OfflineNotice(sess.Settings.SupportOpenHour, sess.Settings.SupportCloseHour),
		Limiter:          widget.NewRateLimiter(sess.Settings.RateLimit, sess.Settings.RateWindow(), widget.SystemClock()),
		Logger:           logger,
		OnMessage:        func(m widget.Message) { out.println(renderMessage(m)) },
		OnReset:          func() { out.println(systemStyle.Render("── new conversation ──")) },
		OnState:          func(s widget.ConnState) { out.println(renderState(s)) },
	})
	if err != nil {
		return err
	}
	defer w.Close()

	out.println(systemStyle.Render(fmt.Sprintf("Connected to %s as %s. /live for a human, /ai for the assistant, /quit to leave.", serverURL, sess.Name)))
	w.Open(ctx)
	if live {
		if err := w.SetMode(ctx, widget.ModeLive); err != nil {
			return err
		}
	}

	return chatLoop(ctx, cmd.InOrStdin(), w)
}

// chatLoop feeds stdin lines to the session. Submit errors are already shown
// as messages in the conversation, so they do not end the loop.
func chatLoop(ctx context.Context, in io.Reader, w *widget.Session) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(line) {
			case "/quit", "/exit":
				return nil
			case "/live":
				_ = w.SetMode(ctx, widget.ModeLive)
			case "/ai":
				_ = w.SetMode(ctx, widget.ModeAI)
			default:
				_ = w.Submit(ctx, line)
			}
		}
	}
}
