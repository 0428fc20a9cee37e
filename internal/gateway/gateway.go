// ABOUTME: Gateway orchestrator that wires the agent pool to the HTTP API
// ABOUTME: Manages store, pool, event fan-out, metrics and server lifecycle

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/agent"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/auth"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/completion"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/config"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/eventhub"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/metrics"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/relay"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/scheduler"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/transport"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/transport/botapi"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/transport/mtproto"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/webhook"
)

// Gateway owns the agent pool and serves the HTTP API in front of it.
type Gateway struct {
	config     *config.Config
	manager    *agent.Manager
	store      store.Store
	scheduler  *scheduler.Cron
	webhooks   *webhook.Dispatcher
	hub        *eventhub.Hub
	relay      *relay.Relay
	registry   *prometheus.Registry
	verifier   auth.TokenVerifier
	httpServer *http.Server
	logger     *slog.Logger

	// baseCtx is the parent of every request context; cancelling it ends SSE streams.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	ready     atomic.Bool
	startedAt time.Time
}

// OpenStore opens the store selected by database.driver.
// OPENCLAW_DB_PATH overrides the sqlite path.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("initializing postgres store: %w", err)
		}
		return s, nil
	default:
		dbPath := cfg.Database.Path
		if envPath := os.Getenv("OPENCLAW_DB_PATH"); envPath != "" {
			dbPath = envPath
		}
		s, err := store.NewSQLiteStore(dbPath)
		if err != nil {
			return nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil
	}
}

// newDialer builds transports for both credential variants.
func newDialer(cfg *config.Config, logger *slog.Logger) agent.Dialer {
	tgCfg := mtproto.Config{AppID: cfg.Telegram.APIID, AppHash: cfg.Telegram.APIHash}
	return agent.Dialer{
		Token: func(token string) (transport.Transport, error) {
			return botapi.New(token, logger), nil
		},
		Session: func(phone, session string) (transport.SessionTransport, error) {
			c, err := mtproto.New(tgCfg, phone, session, logger)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", agent.ErrConfiguration, err)
			}
			return c, nil
		},
	}
}

// New creates a Gateway and every component it owns from cfg.
// The relay is only dialed when relay.redis_url is set.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	provider, err := completion.NewProvider(completion.Config{
		Provider: cfg.Completion.Provider,
		APIKey:   cfg.Completion.APIKey,
		BaseURL:  cfg.Completion.BaseURL,
		Model:    cfg.Completion.Model,
		Timeout:  cfg.Completion.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating completion provider: %w", err)
	}

	s, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sched := scheduler.NewCron(logger)
	hooks := webhook.New(cfg.Webhooks.Timeout, logger)

	mgr, err := agent.NewManager(agent.Options{
		Store:          s,
		Dialer:         newDialer(cfg, logger),
		Scheduler:      sched,
		Completion:     provider,
		Webhooks:       hooks,
		Logger:         logger,
		RestartDelay:   cfg.Agents.RestartDelay,
		HistoryLimit:   cfg.Agents.HistoryLimit,
		EventTextLimit: cfg.Agents.EventTextLimit,
		EventBuffer:    cfg.Agents.EventBuffer,
	})
	if err != nil {
		sched.Close()
		_ = s.Close()
		return nil, fmt.Errorf("creating agent manager: %w", err)
	}

	gw := newGateway(cfg, mgr, verifier, logger)
	gw.store = s
	gw.scheduler = sched
	gw.webhooks = hooks

	if cfg.Relay.RedisURL != "" {
		r, err := relay.Dial(ctx, cfg.Relay.RedisURL, cfg.Relay.Channel, logger)
		if err != nil {
			_ = gw.Shutdown(ctx)
			return nil, fmt.Errorf("starting event relay: %w", err)
		}
		gw.relay = r
		mgr.OnEvent(r.Publish)
		gw.logger.Info("event relay enabled", "channel", cfg.Relay.Channel)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gw.baseCtx },
	}
	return gw, nil
}

// newGateway attaches the event hub and metrics to mgr.
func newGateway(cfg *config.Config, mgr *agent.Manager, verifier auth.TokenVerifier, logger *slog.Logger) *Gateway {
	baseCtx, cancel := context.WithCancel(context.Background())
	gw := &Gateway{
		config:     cfg,
		manager:    mgr,
		hub:        eventhub.New(logger),
		registry:   prometheus.NewRegistry(),
		verifier:   verifier,
		logger:     logger.With("component", "gateway"),
		baseCtx:    baseCtx,
		cancelBase: cancel,
		startedAt:  time.Now(),
	}
	mgr.OnEvent(gw.hub.Publish)

	if cfg.Metrics.Enabled {
		collector := metrics.New(gw.registry, mgr.Running)
		mgr.OnEvent(collector.Observe)
	}
	return gw
}

// Manager returns the agent pool.
func (g *Gateway) Manager() *agent.Manager { return g.manager }

// Run loads the pool, serves HTTP and blocks until ctx is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.manager.Init(ctx); err != nil {
		_ = g.gracefulShutdown()
		return fmt.Errorf("loading agents: %w", err)
	}
	g.ready.Store(true)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = g.gracefulShutdown()
		return fmt.Errorf("listening on HTTP address: %w", err)
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

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already canceled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, every agent, and the shared components.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.ready.Store(false)

	var errs []error
	if g.cancelBase != nil {
		g.cancelBase()
	}
	if g.httpServer != nil {
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	}

	errs = appendCloseError(errs, "agent shutdown", g.manager.Shutdown(ctx))

	if g.scheduler != nil {
		g.scheduler.Close()
	}
	if g.webhooks != nil {
		g.webhooks.Wait()
	}
	g.hub.Close()
	if g.relay != nil {
		errs = appendCloseError(errs, "relay close", g.relay.Close())
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}

	return errors.Join(errs...)
}

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Running       int     `json:"running_agents"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:        "ok",
		Running:       g.manager.Running(),
		UptimeSeconds: time.Since(g.startedAt).Seconds(),
	})
}

// handleReady returns 200 OK once persisted agents have been loaded.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading agents"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents running)", g.manager.Running())
}
