// ABOUTME: Tests for gateway wiring, health endpoints and lifecycle
// ABOUTME: Provides the shared test gateway built on in-memory fakes

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/agent"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/auth"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/clock"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/config"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/scheduler"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/transport"
)

const (
	testSecret = "gateway-test-secret-0123456789ab"
	testToken  = "123456789:ABCDEFGHIJKLMNOP"
)

type testGateway struct {
	gw      *Gateway
	handler http.Handler
	store   *store.MockStore
	fake    *transport.Fake
	admin   string
	viewer  string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"},
		Auth:     config.AuthConfig{JWTSecret: testSecret},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestGateway(t *testing.T, mutate ...func(*config.Config)) *testGateway {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	tg := &testGateway{store: store.NewMockStore(), fake: transport.NewFake()}
	mgr, err := agent.NewManager(agent.Options{
		Store: tg.store,
		Dialer: agent.Dialer{
			Token: func(string) (transport.Transport, error) { return tg.fake, nil },
			Session: func(string, string) (transport.SessionTransport, error) {
				return tg.fake, nil
			},
		},
		Scheduler: scheduler.NewManual(),
		Clock:     clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Logger:    discardLogger(),
	})
	require.NoError(t, err)

	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)

	tg.gw = newGateway(cfg, mgr, verifier, discardLogger())
	tg.handler = tg.gw.routes()
	t.Cleanup(func() { _ = tg.gw.Shutdown(context.Background()) })

	tg.admin, err = verifier.Generate("ops", auth.RoleAdmin, time.Hour)
	require.NoError(t, err)
	tg.viewer, err = verifier.Generate("dash", auth.RoleViewer, time.Hour)
	require.NoError(t, err)
	return tg
}

// do sends a request through the router. body may be nil, a string, or a value to encode.
func (tg *testGateway) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	tg.handler.ServeHTTP(rec, req)
	return rec
}

func (tg *testGateway) createAgent(t *testing.T, req CreateAgentRequest) *store.AgentRecord {
	t.Helper()
	rec := tg.do(t, http.MethodPost, "/api/agents", tg.admin, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeRecord(t, rec)
}

func tokenAgent() CreateAgentRequest {
	return CreateAgentRequest{
		Name:        "support-bot",
		Credentials: store.Credentials{Kind: store.CredentialToken, Token: testToken},
	}
}

func decodeRecord(t *testing.T, rec *httptest.ResponseRecorder) *store.AgentRecord {
	t.Helper()
	var out store.AgentRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return &out
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out["error"]
}

func TestHealth(t *testing.T) {
	tg := newTestGateway(t)

	rec := tg.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Zero(t, health.Running)

	rec = tg.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	tg.gw.ready.Store(true)
	rec = tg.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "0 agents running")
}

func TestMetricsEndpoint(t *testing.T) {
	tg := newTestGateway(t)
	created := tg.createAgent(t, tokenAgent())
	require.Equal(t, http.StatusOK, tg.do(t, http.MethodPost, "/api/agents/"+created.ID+"/start", tg.admin, nil).Code)

	require.Eventually(t, func() bool {
		rec := tg.do(t, http.MethodGet, "/metrics", "", nil)
		return strings.Contains(rec.Body.String(), `openclaw_status_transitions_total{status="running"} 1`)
	}, 2*time.Second, 5*time.Millisecond)

	rec := tg.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Contains(t, rec.Body.String(), "openclaw_running_agents 1")
}

func TestMetricsDisabled(t *testing.T) {
	tg := newTestGateway(t, func(c *config.Config) { c.Metrics.Enabled = false })
	rec := tg.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	tg := newTestGateway(t, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 2}
	})

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, tg.do(t, http.MethodGet, "/health", "", nil).Code)
	}
	rec := tg.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", decodeError(t, rec))

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	other := httptest.NewRecorder()
	tg.handler.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestRateLimiterPrunesIdleClients(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rl := newRateLimiter(1, 1)
	rl.now = func() time.Time { return now }
	rl.lastSweep = now

	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))

	now = now.Add(limiterIdleTTL + time.Minute)
	assert.True(t, rl.allow("b"))
	rl.mu.Lock()
	_, kept := rl.limiters["a"]
	rl.mu.Unlock()
	assert.False(t, kept)
}

func TestNewFromConfigAndRun(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "agents.db")
	cfg.Completion.Provider = "echo"

	ctx, cancel := context.WithCancel(context.Background())
	gw, err := New(ctx, cfg, discardLogger())
	require.NoError(t, err)
	require.NotNil(t, gw.Manager())

	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	require.Eventually(t, gw.ready.Load, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "short"
	_, err := New(context.Background(), cfg, discardLogger())
	require.Error(t, err)

	cfg = testConfig()
	cfg.Completion.Provider = "openai"
	_, err = New(context.Background(), cfg, discardLogger())
	require.Error(t, err)
}
