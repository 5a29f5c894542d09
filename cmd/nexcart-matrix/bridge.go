// ABOUTME: Support bridge core: live requests go to a Matrix room, room replies go to visitors
// ABOUTME: The gateway side is a support agent session from the shared client package

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/format"
	"maunium.net/go/mautrix/id"

	"github.com/nexcart/nexcart-gateway/internal/client"
	"github.com/nexcart/nexcart-gateway/internal/dedupe"
	"github.com/nexcart/nexcart-gateway/internal/mirror"
)

const (
	// networkTimeout bounds each Matrix API call.
	networkTimeout = 15 * time.Second
	feedRetryDelay = 5 * time.Second
	seenEventsTTL  = time.Hour
	seenEventsMax  = 2048
)

// supportDesk is the gateway side of the bridge, satisfied by *client.Client
// after an agent login.
type supportDesk interface {
	SupportFeed(ctx context.Context) (<-chan client.LiveRequest, error)
	Reply(ctx context.Context, chatID, message string) (*mirror.Entry, error)
	Heartbeat(ctx context.Context) error
}

// room is the Matrix side of the bridge.
type room interface {
	post(ctx context.Context, markdown string) (id.EventID, error)
	notice(ctx context.Context, text string)
	react(ctx context.Context, evt id.EventID, key string)
}

// Bridge relays between the gateway's live support feed and one Matrix room.
type Bridge struct {
	config  *Config
	matrix  *mautrix.Client
	gateway *client.Client
	desk    supportDesk
	room    room
	threads *threads
	seen    *dedupe.Cache
	logger  *slog.Logger

	// started filters out timeline history replayed by the first sync.
	started   time.Time
	feedRetry time.Duration
	heartbeat time.Duration
}

// NewBridge creates a bridge. Call Login before Run.
func NewBridge(cfg *Config, logger *slog.Logger) (*Bridge, error) {
	mx, err := mautrix.NewClient(cfg.Matrix.Homeserver, "", "")
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	gw := client.New(cfg.Gateway.URL, client.WithLogger(logger))

	return &Bridge{
		config:    cfg,
		matrix:    mx,
		gateway:   gw,
		desk:      gw,
		room:      &matrixRoom{client: mx, id: id.RoomID(cfg.Bridge.Room), logger: logger},
		threads:   newThreads(),
		seen:      dedupe.New(seenEventsTTL, seenEventsMax),
		logger:    logger.With("component", "bridge"),
		started:   time.Now(),
		feedRetry: feedRetryDelay,
		heartbeat: cfg.Heartbeat(),
	}, nil
}

// Login signs in to both the homeserver and the gateway.
func (b *Bridge) Login(ctx context.Context) error {
	resp, err := b.matrix.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: b.config.Matrix.Username,
		},
		Password:                 b.config.Matrix.Password,
		InitialDeviceDisplayName: "nexcart-matrix",
		StoreCredentials:         true,
	})
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}
	b.logger.Info("logged in to matrix", "user_id", resp.UserID, "device_id", resp.DeviceID)

	agent, err := b.gateway.Login(ctx, b.config.Gateway.AgentUsername, b.config.Gateway.AgentPassword)
	if err != nil {
		return fmt.Errorf("gateway login: %w", err)
	}
	b.logger.Info("logged in to gateway", "agent", agent.Name)
	return nil
}

// UserID returns the bridge's Matrix user id after Login.
func (b *Bridge) UserID() id.UserID {
	return b.matrix.UserID
}

// Run syncs Matrix and follows the support feed until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	syncer, ok := b.matrix.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.matrix.Syncer)
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		b.handleEvent(ctx, evt)
	})

	syncErr := make(chan error, 1)
	go func() { syncErr <- b.matrix.SyncWithContext(ctx) }()
	go b.relayFeed(ctx)
	go b.keepAlive(ctx)

	b.logger.Info("bridge running", "room", b.config.Bridge.Room)

	select {
	case <-ctx.Done():
		b.logger.Info("shutting down bridge")
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// relayFeed posts live requests to the room, reopening the feed when the
// gateway drops it.
func (b *Bridge) relayFeed(ctx context.Context) {
	for {
		feed, err := b.desk.SupportFeed(ctx)
		if err != nil {
			b.logger.Warn("opening support feed failed", "error", err)
		} else {
			for req := range feed {
				b.announce(ctx, req)
			}
			if ctx.Err() == nil {
				b.logger.Info("support feed closed, reopening")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.feedRetry):
		}
	}
}

// announce posts one live request to the room.
func (b *Bridge) announce(ctx context.Context, req client.LiveRequest) {
	n := b.threads.track(req.ChatID)
	name := req.Name
	if name == "" {
		name = "Guest"
	}
	md := fmt.Sprintf("**#%d %s**: %s\n\n`%s` · quote this message or start with `@%d` to answer",
		n, name, req.Message, req.ChatID, n)

	evt, err := b.room.post(ctx, md)
	if err != nil {
		b.logger.Error("posting live request failed", "chat_id", req.ChatID, "error", err)
		return
	}
	b.threads.bind(evt, req.ChatID)
	b.logger.Info("live request bridged", "chat_id", req.ChatID, "number", n)
}

func (b *Bridge) keepAlive(ctx context.Context) {
	t := time.NewTicker(b.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := b.desk.Heartbeat(ctx); err != nil {
				b.logger.Warn("agent heartbeat failed", "error", err)
			}
		}
	}
}

// handleEvent relays an agent's room message to the visitor it answers.
func (b *Bridge) handleEvent(ctx context.Context, evt *event.Event) {
	if evt.RoomID.String() != b.config.Bridge.Room || evt.Sender == b.matrix.UserID {
		return
	}
	if time.UnixMilli(evt.Timestamp).Before(b.started) {
		return
	}
	if b.seen.Observe(evt.ID.String()) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}
	replyTo := content.GetRelatesTo().GetReplyTo()
	content.RemoveReplyFallback()

	body := content.Body
	if prefix := b.config.Bridge.CommandPrefix; prefix != "" {
		rest, found := strings.CutPrefix(body, prefix)
		if !found {
			return
		}
		body = rest
	}

	chatID, text, ok := b.threads.route(replyTo, body)
	if !ok {
		b.logger.Debug("room message does not answer a request", "event_id", evt.ID)
		return
	}

	if _, err := b.desk.Reply(ctx, chatID, text); err != nil {
		b.logger.Error("delivering reply failed", "chat_id", chatID, "error", err)
		b.room.notice(ctx, fmt.Sprintf("⚠ could not deliver to #%d: %v", b.threads.number(chatID), err))
		return
	}
	b.logger.Info("reply delivered", "chat_id", chatID, "sender", evt.Sender)
	b.room.react(ctx, evt.ID, "✅")
}

// matrixRoom sends to the configured support room.
type matrixRoom struct {
	client *mautrix.Client
	id     id.RoomID
	logger *slog.Logger
}

func (r *matrixRoom) post(ctx context.Context, markdown string) (id.EventID, error) {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	content := format.RenderMarkdown(markdown, true, false)
	resp, err := r.client.SendMessageEvent(ctx, r.id, event.EventMessage, &content)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (r *matrixRoom) notice(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := r.client.SendNotice(ctx, r.id, text); err != nil {
		r.logger.Warn("sending notice failed", "error", err)
	}
}

func (r *matrixRoom) react(ctx context.Context, evt id.EventID, key string) {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := r.client.SendReaction(ctx, r.id, evt, key); err != nil {
		r.logger.Debug("sending reaction failed", "error", err)
	}
}
