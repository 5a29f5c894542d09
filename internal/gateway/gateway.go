// ABOUTME: Gateway orchestrator that wires the chat backends behind one HTTP server
// ABOUTME: Owns the store, mirror, limiter and conversation service, and the TCP or tailnet listener

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/nexcart/nexcart-gateway/internal/auth"
	"github.com/nexcart/nexcart-gateway/internal/completion"
	"github.com/nexcart/nexcart-gateway/internal/config"
	"github.com/nexcart/nexcart-gateway/internal/conversation"
	"github.com/nexcart/nexcart-gateway/internal/mirror"
	"github.com/nexcart/nexcart-gateway/internal/presence"
	"github.com/nexcart/nexcart-gateway/internal/ratelimit"
	"github.com/nexcart/nexcart-gateway/internal/store"
)

const rateLimitPrefix = "nexcart:ratelimit:"

// Gateway serves the storefront chat API.
type Gateway struct {
	config       *config.Config
	store        store.Store
	conversation *conversation.Service
	mirror       mirror.Log
	limiter      ratelimit.Limiter
	presence     presence.Checker
	signer       *auth.Signer
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	redis        *redis.Client
	handler      http.Handler
	logger       *slog.Logger

	now func() time.Time

	// closing ends long-lived streams so Shutdown does not wait on them.
	closing   chan struct{}
	closeOnce sync.Once
}

// Option customizes New. Used by tests and embedders to swap backends.
type Option func(*options)

type options struct {
	store     store.Store
	mirror    mirror.Log
	completer completion.Completer
	now       func() time.Time
}

// WithStore uses s instead of opening database.path.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithMirror uses m instead of the configured mirror driver.
func WithMirror(m mirror.Log) Option {
	return func(o *options) { o.mirror = m }
}

// WithCompleter uses c as the upstream completion backend, regardless of
// completion.enabled.
func WithCompleter(c completion.Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithClock overrides the gateway's time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a Gateway from cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}

	signer, err := auth.NewSigner([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating token signer: %w", err)
	}

	s := o.store
	if s == nil {
		s, err = initStore(cfg)
		if err != nil {
			return nil, err
		}
	}

	gw := &Gateway{
		config:  cfg,
		store:   s,
		signer:  signer,
		logger:  logger.With("component", "gateway"),
		now:     o.now,
		closing: make(chan struct{}),
	}

	if needsRedis(cfg) {
		gw.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	gw.mirror = o.mirror
	if gw.mirror == nil {
		gw.mirror, err = gw.initMirror(logger)
		if err != nil {
			gw.closeBackends()
			return nil, err
		}
	}

	gw.limiter = gw.initLimiter(logger)

	gw.presence = presence.AnyOf{
		presence.BusinessHours{
			OpenHour:  cfg.Support.OpenHour,
			CloseHour: cfg.Support.CloseHour,
			Location:  cfg.SupportLocation(),
			Now:       o.now,
		},
		presence.ActiveAgents{
			Agents:    s,
			Threshold: cfg.Support.ActivityThreshold,
			Now:       o.now,
		},
	}

	upstream := o.completer
	if upstream == nil && cfg.Completion.Enabled {
		upstream = gw.initCompletion(logger)
	}
	info := completion.StoreInfo{
		Name:     cfg.Store.Name,
		URL:      cfg.Store.URL,
		Currency: cfg.Store.Currency,
		Policies: cfg.Store.Policies,
	}
	responder := completion.NewResponder(upstream, info, s, logger)
	gw.conversation = conversation.New(s, responder, gw.mirror, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)
	gw.registerVisitorRoutes(mux)
	gw.registerSupportRoutes(mux)
	gw.handler = corsMiddleware(cfg.Chat.AllowedOrigins)(mux)

	// No WriteTimeout: mirror streams and the support feed are long-lived.
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the gateway's HTTP handler, CORS included.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

func initStore(cfg *config.Config) (store.Store, error) {
	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

func needsRedis(cfg *config.Config) bool {
	return cfg.Mirror.Driver == config.MirrorRedis || cfg.RateLimit.Driver == config.RateLimitRedis
}

func (g *Gateway) initMirror(logger *slog.Logger) (mirror.Log, error) {
	cfg := g.config.Mirror
	switch cfg.Driver {
	case config.MirrorRedis:
		g.logger.Info("using redis mirror", "addr", g.config.Redis.Addr, "stream_prefix", cfg.Redis.StreamPrefix)
		return mirror.NewRedis(g.redis, mirror.RedisOptions{
			StreamPrefix: cfg.Redis.StreamPrefix,
			MaxLen:       cfg.Redis.MaxLen,
		}, logger), nil
	case config.MirrorSupabase:
		g.logger.Info("using supabase mirror", "url", cfg.Supabase.URL, "table", cfg.Supabase.Table)
		m, err := mirror.NewSupabase(mirror.SupabaseOptions{
			URL:          cfg.Supabase.URL,
			APIKey:       cfg.Supabase.APIKey,
			Table:        cfg.Supabase.Table,
			PollInterval: cfg.Supabase.PollInterval,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating supabase mirror: %w", err)
		}
		return m, nil
	default:
		return mirror.NewLocal(g.store, logger), nil
	}
}

func (g *Gateway) initLimiter(logger *slog.Logger) ratelimit.Limiter {
	chat := g.config.Chat
	if g.config.RateLimit.Driver == config.RateLimitRedis {
		return ratelimit.NewRedis(g.redis, rateLimitPrefix, chat.RateLimit, chat.RateWindow, logger)
	}
	return ratelimit.NewMemory(chat.RateLimit, chat.RateWindow)
}

func (g *Gateway) initCompletion(logger *slog.Logger) completion.Completer {
	cc := g.config.Completion
	client := completion.NewClient(completion.ClientConfig{
		Endpoint:    cc.Endpoint,
		APIKey:      cc.APIKey,
		Model:       cc.Model,
		MaxTokens:   cc.MaxTokens,
		Temperature: cc.Temperature,
		TopP:        cc.TopP,
		Timeout:     cc.Timeout,
	}, logger)
	if !client.Configured() {
		g.logger.Warn("completion enabled without an api key; replies will come from the fallback responder")
	}
	return client
}

// setupTCPListener listens on server.http_addr.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run serves until ctx is cancelled or the server fails, then shuts down.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// The run context is already done; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "nexcart-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens for HTTP on it.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	ln, err := g.createTailscaleListener(tsCfg)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, err
	}
	return ln, nil
}

func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleListener picks funnel, tailnet TLS or plain HTTP.
// Storefront widgets run on the public internet, so funnel is the usual choice.
func (g *Gateway) createTailscaleListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		g.logger.Info("enabling HTTPS with Tailscale certs on :443")
		ln, err := g.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		lc, err := g.tsnetServer.LocalClient()
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("getting tailscale local client: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{
			GetCertificate: lc.GetCertificate,
			MinVersion:     tls.VersionTLS12,
		}), nil
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeBackends releases the mirror, redis and store. Safe on a partially built gateway.
func (g *Gateway) closeBackends() []error {
	var errs []error
	if g.conversation != nil {
		g.conversation.Close()
	}
	if c, ok := g.mirror.(interface{ Close() error }); ok {
		errs = appendCloseError(errs, "mirror close", c.Close())
	}
	if g.redis != nil {
		errs = appendCloseError(errs, "redis close", g.redis.Close())
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}
	return errs
}

// Shutdown gracefully stops the server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	g.closeOnce.Do(func() { close(g.closing) })

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = append(errs, g.closeBackends()...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
