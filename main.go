package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/api"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/auth"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/config"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/events"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/mcp"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/notify"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/oauth"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/session"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/store"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/strava"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/webhook"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}

	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// handlers groups everything buildRouter mounts.
type handlers struct {
	Auth     *auth.AuthHandler
	Resolver *auth.Resolver
	Webhook  *webhook.Handler
	MCP      *mcp.Handler
	API      *api.Handler
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	// Shared Redis client; the credential store and relay queue share one pool.
	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to set up redis client: %w", err)
	}
	defer rdb.Close()
	rs := store.NewRedisStore(rdb)

	provider := oauth.NewStravaProvider(cfg.StravaClientID, cfg.StravaClientSecret, cfg.StravaRedirectURI,
		cfg.StravaAuthURL, cfg.StravaTokenURL, cfg.HTTPTimeout)
	sessions := session.NewManager(rs, provider)
	resolver := auth.NewResolver(rs, sessions)
	client := strava.NewClient(cfg.StravaAPIURL, cfg.HTTPTimeout)

	authHandler := &auth.AuthHandler{
		KV:           rs,
		Sessions:     sessions,
		Provider:     provider,
		BaseURL:      cfg.BaseURL,
		DashboardURL: cfg.DashboardURL,
		Redis:        rs,
	}

	// Optional Postgres webhook event log.
	var eventLog webhook.EventLog
	if cfg.DatabaseURL != "" {
		ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to set up postgres store: %w", err)
		}
		defer ps.Close()

		migrationsFS, err := fs.Sub(migrationsDir, "migrations")
		if err != nil {
			return fmt.Errorf("failed to access embedded migrations: %w", err)
		}
		if err := ps.Migrate(ctx, migrationsFS); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		eventLog = ps
		authHandler.Postgres = ps
	}

	proc := &webhook.Processor{
		Sessions:  sessions,
		Fetcher:   client,
		Summaries: rs,
	}

	// Optional AMQP fan-out of processed activities.
	if cfg.AMQPURL != "" {
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			return fmt.Errorf("failed to set up amqp publisher: %w", err)
		}
		defer pub.Close()
		proc.Publisher = pub
	}

	// Background workers stop when run() returns.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	// Notification relay; disabled without an API key.
	var relay notify.Relay
	if cfg.PokeAPIKey != "" {
		relay = notify.NewHTTPRelay(cfg.PokeURL, cfg.PokeAPIKey, cfg.HTTPTimeout)
		if cfg.NotifyQueue {
			q := notify.NewQueuedRelay(relay, rdb, int64(cfg.NotifyQueueMax))
			go q.StartWorker(workerCtx)
			relay = q
		}
	} else {
		slog.Warn("POKE_API_KEY not set, activity notifications disabled")
	}
	proc.Relay = relay

	runner := webhook.NewRunner(proc, eventLog, cfg.WebhookTaskTimeout)

	h := &handlers{
		Auth:     authHandler,
		Resolver: resolver,
		Webhook: &webhook.Handler{
			VerifyToken: cfg.WebhookVerifyToken,
			Dispatcher:  runner,
			Relay:       relay,
		},
		MCP: &mcp.Handler{
			Dispatcher: &mcp.Dispatcher{API: client, KV: rs, BaseURL: cfg.BaseURL},
			Auth:       resolver,
			BaseURL:    cfg.BaseURL,
		},
		API: &api.Handler{Strava: client},
	}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(h)}

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("strava mcp server listening", "addr", ln.Addr().String(), "base_url", cfg.BaseURL)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stop accepting requests first, then let in-flight webhook tasks finish
	// before the stores they write to are closed by the deferred calls above.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	if err := runner.Wait(shutdownCtx); err != nil {
		slog.Warn("webhook tasks still running at shutdown", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.NotFound(auth.NotFound)
	r.MethodNotAllowed(auth.MethodNotAllowed)

	r.Get("/", h.MCP.Info)
	r.Get("/health", h.Auth.CheckHealth)

	// OAuth login and browser session
	r.Get("/auth", h.Auth.InitiateAuth)
	r.Get("/callback", h.Auth.Callback)
	r.Get("/status", h.Auth.Status)
	r.Post("/logout", h.Auth.Logout)
	r.Get("/dashboard", h.Auth.Dashboard)

	// Strava push subscription
	r.Get("/webhook", h.Webhook.Verify)
	r.Post("/webhook", h.Webhook.Receive)
	r.Post("/test-relay", h.Webhook.TestRelay)

	// MCP JSON-RPC endpoint; auth is resolved per tool call
	r.Get("/mcp", h.MCP.Describe)
	r.Post("/mcp", h.MCP.Serve)

	// Authentication required routes
	r.Route("/api", func(r chi.Router) {
		r.Use(h.Resolver.RequireAuth)
		h.API.Mount(r)
	})

	return r
}
