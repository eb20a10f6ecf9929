// ABOUTME: Gateway orchestrator that wires the conversation engine to its backends and frontends
// ABOUTME: Owns the HTTP server, session reaper, audit pruning and Matrix sync lifecycles

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bitsacco/sacco-gateway/internal/ai"
	"github.com/bitsacco/sacco-gateway/internal/auth"
	"github.com/bitsacco/sacco-gateway/internal/channels/matrix"
	"github.com/bitsacco/sacco-gateway/internal/channels/webchat"
	"github.com/bitsacco/sacco-gateway/internal/channels/webhook"
	"github.com/bitsacco/sacco-gateway/internal/config"
	"github.com/bitsacco/sacco-gateway/internal/dedupe"
	"github.com/bitsacco/sacco-gateway/internal/engine"
	"github.com/bitsacco/sacco-gateway/internal/session"
	"github.com/bitsacco/sacco-gateway/internal/store"
	"github.com/bitsacco/sacco-gateway/internal/wallet"
)

// pruneInterval is how often audit entries past retention are deleted.
const pruneInterval = time.Hour

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// walletBackend is the wallet the engine talks to plus a health check.
type walletBackend interface {
	engine.Wallet
	Health(ctx context.Context) error
}

// Gateway owns every long-lived component of sacco-gateway.
type Gateway struct {
	config     *config.Config
	store      *store.SQLiteStore
	sessions   *session.Store
	reaper     *session.Reaper
	engine     *engine.Engine
	dedupe     *dedupe.Cache
	wallet     walletBackend
	assistant  *ai.Client
	verifier   *auth.JWTVerifier
	httpServer *http.Server
	logger     *slog.Logger

	matrix   *matrix.Adapter
	webchat  *webchat.Adapter
	webhooks map[string]*webhook.Adapter

	startedAt time.Time
}

// initStore opens the audit ledger. SACCO_DB_PATH overrides the configured path.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SACCO_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newWallet picks the sandbox or the real backend. The sandbox quotes its own
// fixed BTC price; the real backend uses the public price feed.
func newWallet(cfg *config.Config, logger *slog.Logger) (walletBackend, engine.PriceFeed) {
	if cfg.Wallet.Sandbox {
		logger.Warn("wallet sandbox enabled - balances are in memory and OTP is fixed", "otp", cfg.Wallet.SandboxOTP)
		sb := wallet.NewSandbox(cfg.Wallet.SandboxOTP, true)
		return sb, sb
	}
	client := wallet.NewClient(wallet.Config{
		BaseURL:    cfg.Wallet.BaseURL,
		APIKey:     cfg.Wallet.APIKey,
		Timeout:    cfg.Wallet.Timeout,
		MaxRetries: cfg.Wallet.MaxRetries,
		RetryDelay: cfg.Wallet.RetryDelay,
		Currency:   cfg.Wallet.Currency,
	})
	return client, wallet.NewPriceFeed(cfg.Wallet.PriceURL, wallet.DefaultPriceTTL)
}

// rateLimit converts a configured count into an engine limit. Negative
// counts disable the limit.
func rateLimit(count int, window time.Duration, burst int) engine.RateLimit {
	if count <= 0 || window <= 0 {
		return engine.RateLimit{}
	}
	return engine.RateLimit{Count: count, Window: window, Burst: burst}
}

// engineConfig maps gateway configuration onto engine settings.
func engineConfig(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.AIEnabled = cfg.AI.Enabled
	ec.CallTimeout = max(cfg.Wallet.Timeout, cfg.AI.Timeout)
	if cfg.Wallet.MinAmount > 0 {
		ec.MinAmount = cfg.Wallet.MinAmount
	}
	if cfg.Wallet.MaxAmount > 0 {
		ec.MaxAmount = cfg.Wallet.MaxAmount
	}
	ec.Currency = cfg.Wallet.Currency
	ec.CheckRegistration = !cfg.Wallet.SkipRegistrationCheck

	l := cfg.Limits
	ec.MessageLimit = rateLimit(l.MessagesPerMinute, time.Minute, l.MessageBurst)
	ec.OTPRequestLimit = rateLimit(l.OTPRequests, l.OTPRequestWindow, 0)
	ec.OTPVerifyLimit = rateLimit(l.OTPVerifications, l.OTPVerifyWindow, 0)
	return ec
}

// New creates a gateway from cfg. The assistant connection is lazy, so New
// succeeds even when the assistant is down.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config:    cfg,
		store:     s,
		logger:    logger.With("component", "gateway"),
		webhooks:  make(map[string]*webhook.Adapter),
		startedAt: time.Now(),
	}

	gw.sessions = session.NewStore(session.StoreConfig{
		HistoryLimit: cfg.Sessions.HistoryLimit,
		Shards:       cfg.Sessions.Shards,
	})
	gw.reaper = session.NewReaper(gw.sessions, session.ReaperConfig{
		IdleTimeout: cfg.Sessions.IdleTimeout,
		Interval:    cfg.Sessions.ReapInterval,
		OnExpire:    gw.recordExpired,
	})
	gw.dedupe = dedupe.New(dedupe.Config{TTL: cfg.Dedupe.TTL, MaxSize: cfg.Dedupe.MaxSize})

	var prices engine.PriceFeed
	gw.wallet, prices = newWallet(cfg, logger)

	deps := engine.Deps{
		Sessions: gw.sessions,
		Wallet:   gw.wallet,
		Prices:   prices,
		Audit:    s,
		Dedupe:   gw.dedupe,
		Logger:   logger,
	}
	if cfg.AI.Enabled {
		gw.assistant, err = ai.Dial(ctx, ai.Config{
			Address:        cfg.AI.Address,
			Method:         cfg.AI.Method,
			ConnectTimeout: cfg.AI.ConnectTimeout,
		})
		if err != nil {
			gw.closeComponents()
			return nil, fmt.Errorf("connecting to assistant: %w", err)
		}
		deps.Assistant = gw.assistant
		logger.Info("assistant enabled", "address", cfg.AI.Address)
	}
	gw.engine = engine.New(deps, engineConfig(cfg))

	if err := gw.registerFrontends(logger); err != nil {
		gw.closeComponents()
		return nil, err
	}

	if cfg.Auth.JWTSecret != "" {
		gw.verifier, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			gw.closeComponents()
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
	} else {
		logger.Warn("admin API disabled - no jwt_secret configured")
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return gw, nil
}

// registerFrontends creates the enabled chat adapters and registers them with
// the engine.
func (g *Gateway) registerFrontends(logger *slog.Logger) error {
	fe := g.config.Frontends

	if fe.WebChat.Enabled {
		g.webchat = webchat.New(webchat.Config{AllowedOrigins: fe.WebChat.AllowedOrigins}, g.engine, logger)
		g.engine.RegisterAdapter(g.webchat)
	}

	if fe.Webhook.Enabled {
		for _, ch := range fe.Webhook.Channels {
			a := webhook.New(webhook.Config{
				Name:        ch.Name,
				Secret:      ch.Secret,
				CallbackURL: ch.CallbackURL,
			}, g.engine, logger)
			g.webhooks[ch.Name] = a
			g.engine.RegisterAdapter(a)
		}
	}

	if fe.Matrix.Enabled {
		m, err := matrix.New(matrix.Config{
			Homeserver:   fe.Matrix.Homeserver,
			UserID:       fe.Matrix.UserID,
			AccessToken:  fe.Matrix.AccessToken,
			AllowedUsers: fe.Matrix.AllowedUsers,
			AllowedRooms: fe.Matrix.AllowedRooms,
		}, g.engine, logger)
		if err != nil {
			return err
		}
		g.matrix = m
		g.engine.RegisterAdapter(m)
	}

	if len(g.engine.Adapters()) == 0 {
		g.logger.Warn("no frontends enabled - nothing will reach the engine")
	}
	return nil
}

// Engine returns the conversation engine.
func (g *Gateway) Engine() *engine.Engine { return g.engine }

// recordExpired writes an audit entry for each session the reaper removed.
func (g *Gateway) recordExpired(expired []session.Info) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, info := range expired {
		entry := &store.AuditEntry{
			UserID:  info.UserID,
			Channel: info.Channel,
			Action:  store.AuditSessionExpired,
			Detail: map[string]any{
				"state":         string(info.State),
				"last_activity": info.LastActivity.UTC().Format(time.RFC3339),
			},
		}
		if err := g.store.AppendAuditLog(ctx, entry); err != nil {
			g.logger.Warn("failed to record session expiry", "user_id", info.UserID, "error", err)
		}
	}
}

// pruneAudit deletes audit entries older than the retention window on
// every tick until ctx is cancelled.
func (g *Gateway) pruneAudit(ctx context.Context) error {
	retention := g.config.Database.AuditRetention
	if retention <= 0 {
		return nil
	}
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		if _, err := g.store.PruneAuditLog(ctx, time.Now().Add(-retention)); err != nil && ctx.Err() == nil {
			g.logger.Warn("audit prune failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Run serves HTTP and runs the background loops until ctx is cancelled or
// one of them fails, then shuts everything down.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		g.closeComponents()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.serve(ctx, ln)
}

func (g *Gateway) serve(ctx context.Context, ln net.Listener) error {
	g.logger.Info("starting gateway",
		"http_addr", ln.Addr().String(),
		"frontends", g.engine.Adapters(),
		"ai", g.config.AI.Enabled,
		"sandbox", g.config.Wallet.Sandbox,
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return g.httpServer.Shutdown(shutdownCtx)
	})
	eg.Go(func() error { return g.reaper.Run(egCtx) })
	eg.Go(func() error { return g.pruneAudit(egCtx) })
	if g.matrix != nil {
		eg.Go(func() error { return g.matrix.Run(egCtx) })
	}

	err := eg.Wait()
	g.logger.Info("shutting down gateway")
	if closeErr := g.closeComponents(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents releases the store, dedupe cache and assistant connection.
func (g *Gateway) closeComponents() error {
	var errs []error
	if g.dedupe != nil {
		g.dedupe.Close()
	}
	if g.assistant != nil {
		errs = appendCloseError(errs, "assistant close", g.assistant.Close())
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}
	return errors.Join(errs...)
}
