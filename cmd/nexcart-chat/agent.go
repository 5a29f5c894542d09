// ABOUTME: Support agent console for nexcart-chat
// ABOUTME: Follows the live request feed and sends replies to visitors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nexcart/nexcart-gateway/internal/client"
)

// heartbeatInterval stays well inside the gateway's activity threshold.
const heartbeatInterval = 5 * time.Minute

var (
	requestStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	chatIDStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Answer live support requests",
	Long: `Log in as a support agent and answer visitors.

Incoming requests are numbered. Reply with "@N text", or just type to
answer the most recent request.

  /chats            list recent conversations
  /log CHAT_ID      show a conversation's log
  /quit             leave

The password is read from NEXCART_AGENT_PASSWORD, or the first line of stdin.`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().String("username", "", "agent login")
	_ = agentCmd.MarkFlagRequired("username")
}

// agentInput is one parsed console line.
type agentInput struct {
	cmd   string // "reply", "chats", "log", "quit" or "" for nothing
	index int    // request number for "@N", 0 for the latest
	arg   string
}

func parseAgentInput(line string) agentInput {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return agentInput{}
	case line == "/quit" || line == "/exit":
		return agentInput{cmd: "quit"}
	case line == "/chats":
		return agentInput{cmd: "chats"}
	case strings.HasPrefix(line, "/log "):
		return agentInput{cmd: "log", arg: strings.TrimSpace(strings.TrimPrefix(line, "/log "))}
	case strings.HasPrefix(line, "@"):
		num, text, _ := strings.Cut(line[1:], " ")
		if n, err := strconv.Atoi(num); err == nil && n > 0 {
			return agentInput{cmd: "reply", index: n, arg: strings.TrimSpace(text)}
		}
	}
	return agentInput{cmd: "reply", arg: line}
}

// requestBook numbers incoming requests by chat.
type requestBook struct {
	mu     sync.Mutex
	chats  []string
	byChat map[string]int
}

func (b *requestBook) add(chatID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.byChat == nil {
		b.byChat = make(map[string]int)
	}
	if n, ok := b.byChat[chatID]; ok {
		// Move the chat to the end so plain replies go to it.
		b.chats = append(b.chats, chatID)
		return n
	}
	b.chats = append(b.chats, chatID)
	n := len(b.byChat) + 1
	b.byChat[chatID] = n
	return n
}

// lookup returns the chat for request n, or the latest when n is 0.
func (b *requestBook) lookup(n int) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n == 0 {
		if len(b.chats) == 0 {
			return "", false
		}
		return b.chats[len(b.chats)-1], true
	}
	for chatID, i := range b.byChat {
		if i == n {
			return chatID, true
		}
	}
	return "", false
}

func runAgent(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	username, _ := cmd.Flags().GetString("username")
	out := &printer{out: cmd.OutOrStdout()}
	in := bufio.NewReader(cmd.InOrStdin())

	password := os.Getenv("NEXCART_AGENT_PASSWORD")
	if password == "" {
		fmt.Fprint(cmd.OutOrStdout(), "Password: ")
		line, err := in.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password: %w", err)
		}
		password = strings.TrimSpace(line)
	}

	c := client.New(serverURL, client.WithLogger(newLogger()))
	me, err := c.Login(ctx, username, password)
	if err != nil {
		return err
	}

	feed, err := c.SupportFeed(ctx)
	if err != nil {
		return err
	}
	out.println(systemStyle.Render(fmt.Sprintf("Logged in as %s (%s). Waiting for visitors.", me.Name, me.Role)))

	book := &requestBook{}
	go func() {
		for req := range feed {
			n := book.add(req.ChatID)
			out.println(fmt.Sprintf("%s %s %s\n  %s",
				requestStyle.Render(fmt.Sprintf("#%d", n)),
				supportStyle.Render(req.Name),
				chatIDStyle.Render(req.ChatID),
				req.Message))
		}
		out.println(systemStyle.Render("support feed closed"))
	}()

	go heartbeat(ctx, c, out)

	return agentLoop(ctx, in, c, book, out)
}

func heartbeat(ctx context.Context, c *client.Client, out *printer) {
	t := time.NewTicker(heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.Heartbeat(ctx); err != nil {
				out.println(systemStyle.Render("heartbeat failed: " + err.Error()))
			}
		}
	}
}

func agentLoop(ctx context.Context, in io.Reader, c *client.Client, book *requestBook, out *printer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		input := parseAgentInput(scanner.Text())
		switch input.cmd {
		case "quit":
			return nil
		case "chats":
			chats, err := c.RecentChats(ctx, 20)
			if err != nil {
				out.println(systemStyle.Render(err.Error()))
				continue
			}
			for _, ch := range chats {
				out.println(fmt.Sprintf("%s  %3d msgs  %s  %s",
					chatIDStyle.Render(ch.ChatID), ch.MessageCount,
					ch.LastAt.Local().Format("Jan 02 15:04"), ch.LastMessage))
			}
		case "log":
			logs, err := c.ChatLog(ctx, input.arg, 50)
			if err != nil {
				out.println(systemStyle.Render(err.Error()))
				continue
			}
			for _, l := range logs {
				name := l.SenderName
				if name == "" {
					name = l.Sender
				}
				out.println(fmt.Sprintf("%s %s: %s",
					timeStyle.Render(l.Timestamp.Local().Format("15:04")), name, l.Message))
			}
		case "reply":
			chatID, ok := book.lookup(input.index)
			if !ok {
				out.println(systemStyle.Render("no such request"))
				continue
			}
			if input.arg == "" {
				continue
			}
			if _, err := c.Reply(ctx, chatID, input.arg); err != nil {
				out.println(systemStyle.Render("reply failed: " + err.Error()))
			}
		}
	}
	return scanner.Err()
}
