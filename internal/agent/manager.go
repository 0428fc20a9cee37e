// ABOUTME: Manages the pool of agents: CRUD, lifecycle control, auth, tool dispatch and event fan-out.
// ABOUTME: Central coordinator between persisted agent records and their running state machines.

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/clock"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/completion"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/scheduler"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
)

// Defaults for Options fields left zero.
const (
	DefaultRestartDelay = 800 * time.Millisecond
	DefaultEventBuffer  = 256
)

// Listener receives every event emitted by any pooled agent.
// Events from one agent arrive in emission order.
type Listener func(*store.Event)

// Options wires a Manager to its collaborators.
type Options struct {
	Store      store.Store
	Dialer     Dialer
	Scheduler  scheduler.Scheduler
	Completion completion.Provider
	Webhooks   WebhookSender
	Clock      clock.Clock
	Logger     *slog.Logger

	RestartDelay   time.Duration
	HistoryLimit   int
	EventTextLimit int
	EventBuffer    int
}

// Manager owns the pool of agents, one per id.
type Manager struct {
	deps         *deps
	restartDelay time.Duration
	logger       *slog.Logger

	mu     sync.RWMutex
	agents map[string]*Agent

	listenersMu sync.RWMutex
	listeners   []Listener

	// emitMu guards events against sends after Shutdown closes it.
	emitMu  sync.RWMutex
	closed  bool
	events  chan *store.Event
	drained chan struct{}
}

// NewManager creates a Manager and starts its event dispatcher.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrConfiguration)
	}
	if opts.Scheduler == nil {
		return nil, fmt.Errorf("%w: scheduler is required", ErrConfiguration)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}

	logger := opts.Logger.With("component", "agents")
	m := &Manager{
		restartDelay: opts.RestartDelay,
		logger:       logger,
		agents:       make(map[string]*Agent),
		events:       make(chan *store.Event, opts.EventBuffer),
		drained:      make(chan struct{}),
	}
	m.deps = &deps{
		store:        opts.Store,
		dialer:       opts.Dialer,
		scheduler:    opts.Scheduler,
		completion:   opts.Completion,
		webhooks:     opts.Webhooks,
		clock:        opts.Clock,
		logger:       logger,
		historyLimit: opts.HistoryLimit,
		textLimit:    opts.EventTextLimit,
		emit:         m.emit,
	}

	go m.dispatch()
	return m, nil
}

// Init loads every persisted agent into the pool and resumes those that were running.
// A failed resume is logged and never blocks the rest of the pool.
func (m *Manager) Init(ctx context.Context) error {
	recs, err := m.deps.store.GetAllAgents(ctx)
	if err != nil {
		return persistErr("load agents", err)
	}

	var resume []*Agent
	for _, rec := range recs {
		wasRunning := rec.Status == store.StatusRunning
		switch rec.Status {
		case store.StatusRunning:
			// Nothing is live in a fresh process; Start persists the next transition.
			rec.Status = store.StatusStopped
		case store.StatusStarting:
			if err := m.deps.store.UpdateStatus(ctx, rec.ID, store.StatusStopped, "interrupted while starting"); err != nil {
				m.logger.Warn("failed to reset interrupted start", "agent_id", rec.ID, "error", err)
			}
			rec.Status = store.StatusStopped
			rec.LastError = "interrupted while starting"
		}

		a, err := newAgent(rec, m.deps)
		if err != nil {
			m.logger.Error("skipping agent with bad record", "agent_id", rec.ID, "error", err)
			continue
		}
		m.mu.Lock()
		m.agents[rec.ID] = a
		m.mu.Unlock()

		if wasRunning {
			resume = append(resume, a)
		}
	}

	var wg sync.WaitGroup
	for _, a := range resume {
		wg.Add(1)
		go func(a *Agent) {
			defer wg.Done()
			if err := a.Start(ctx); err != nil {
				m.logger.Warn("auto-start failed", "agent_id", a.ID(), "error", err)
			}
		}(a)
	}
	wg.Wait()

	m.logger.Info("agent pool initialized", "agents", len(recs), "resumed", len(resume))
	return nil
}

// Create persists a new stopped agent and adds it to the pool.
func (m *Manager) Create(ctx context.Context, name string, creds store.Credentials, behaviors store.Behaviors) (*store.AgentRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	if err := behaviors.Validate(); err != nil {
		return nil, err
	}
	if behaviors == nil {
		behaviors = store.Behaviors{}
	}

	now := m.deps.clock.Now().UTC()
	rec := &store.AgentRecord{
		ID:          uuid.NewString(),
		Name:        name,
		Credentials: creds,
		Status:      store.StatusStopped,
		Behaviors:   behaviors.Clone(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	a, err := newAgent(rec, m.deps)
	if err != nil {
		return nil, err
	}
	if err := m.deps.store.SaveAgent(ctx, rec); err != nil {
		return nil, persistErr("save agent", err)
	}

	m.mu.Lock()
	m.agents[rec.ID] = a
	total := len(m.agents)
	m.mu.Unlock()

	m.logger.Info("=== AGENT CREATED ===",
		"agent_id", rec.ID,
		"name", rec.Name,
		"type", creds.Kind,
		"total_agents", total,
	)
	return rec.Masked(), nil
}

// Get returns a masked snapshot, falling back to the store when the id is not pooled.
func (m *Manager) Get(ctx context.Context, id string) (*store.AgentRecord, error) {
	if a, ok := m.agent(id); ok {
		return a.Snapshot().Masked(), nil
	}
	rec, err := m.deps.store.GetAgent(ctx, id)
	if err != nil {
		return nil, persistErr("get agent", err)
	}
	return rec.Masked(), nil
}

// List returns masked snapshots ordered by creation time.
// Pooled agents are authoritative; stored records that are not pooled are included.
func (m *Manager) List(ctx context.Context) ([]*store.AgentRecord, error) {
	m.mu.RLock()
	out := make([]*store.AgentRecord, 0, len(m.agents))
	seen := make(map[string]bool, len(m.agents))
	for id, a := range m.agents {
		out = append(out, a.Snapshot().Masked())
		seen[id] = true
	}
	m.mu.RUnlock()

	recs, err := m.deps.store.GetAllAgents(ctx)
	if err != nil {
		m.logger.Warn("listing from store failed, returning pool only", "error", err)
	}
	for _, rec := range recs {
		if !seen[rec.ID] {
			out = append(out, rec.Masked())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete stops the agent, then removes it from the pool and the store.
func (m *Manager) Delete(ctx context.Context, id string) error {
	a, pooled := m.agent(id)
	if pooled {
		if err := a.close(ctx); err != nil {
			m.logger.Warn("stop before delete failed", "agent_id", id, "error", err)
		}
		m.mu.Lock()
		delete(m.agents, id)
		m.mu.Unlock()
	}

	if err := m.deps.store.DeleteAgent(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) && pooled {
			return nil
		}
		return persistErr("delete agent", err)
	}
	m.logger.Info("=== AGENT DELETED ===", "agent_id", id)
	return nil
}

// Start starts a pooled agent.
func (m *Manager) Start(ctx context.Context, id string) error {
	a, ok := m.agent(id)
	if !ok {
		return ErrNotFound
	}
	return a.Start(ctx)
}

// Stop stops a pooled agent.
func (m *Manager) Stop(ctx context.Context, id string) error {
	a, ok := m.agent(id)
	if !ok {
		return ErrNotFound
	}
	return a.Stop(ctx)
}

// Restart stops the agent, waits the settle delay, then starts it.
// Several transports reject an immediate reconnect.
func (m *Manager) Restart(ctx context.Context, id string) error {
	a, ok := m.agent(id)
	if !ok {
		return ErrNotFound
	}
	if err := a.Stop(ctx); err != nil {
		return err
	}
	if err := m.deps.clock.Sleep(ctx, m.restartDelay); err != nil {
		return err
	}
	return a.Start(ctx)
}

// SetBehaviors replaces the agent's behavior list and hot-swaps a running agent.
func (m *Manager) SetBehaviors(ctx context.Context, id string, behaviors store.Behaviors) (*store.AgentRecord, error) {
	a, ok := m.agent(id)
	if !ok {
		return nil, ErrNotFound
	}
	if behaviors == nil {
		behaviors = store.Behaviors{}
	}
	if err := a.UpdateBehaviors(ctx, behaviors); err != nil {
		return nil, err
	}
	return a.Snapshot().Masked(), nil
}

// AuthStart sends a login code to a session agent's phone.
func (m *Manager) AuthStart(ctx context.Context, id string) error {
	a, ok := m.agent(id)
	if !ok {
		return ErrNotFound
	}
	if err := a.AuthStart(ctx); err != nil {
		return err
	}
	m.logger.Info("login code requested", "agent_id", id)
	return nil
}

// AuthSubmit completes a session login and starts the agent.
func (m *Manager) AuthSubmit(ctx context.Context, id, code, password string) error {
	a, ok := m.agent(id)
	if !ok {
		return ErrNotFound
	}
	if err := a.AuthSubmit(ctx, code, password); err != nil {
		return err
	}
	m.logger.Info("session login completed", "agent_id", id)
	return a.Start(ctx)
}

// CallTool runs a tool on a pooled agent.
func (m *Manager) CallTool(ctx context.Context, id, tool string, args json.RawMessage) (any, error) {
	a, ok := m.agent(id)
	if !ok {
		return nil, ErrNotFound
	}
	return a.CallTool(ctx, tool, args)
}

// Events returns the most recent logged events, newest first. An empty agentID returns all agents.
func (m *Manager) Events(ctx context.Context, agentID string, limit int) ([]*store.Event, error) {
	events, err := m.deps.store.GetEvents(ctx, agentID, limit)
	if err != nil {
		return nil, persistErr("get events", err)
	}
	return events, nil
}

// Parsed returns the most recent parsed items for an agent, newest first.
func (m *Manager) Parsed(ctx context.Context, agentID string, limit int) ([]*store.ParsedItem, error) {
	items, err := m.deps.store.GetParsed(ctx, agentID, limit)
	if err != nil {
		return nil, persistErr("get parsed items", err)
	}
	return items, nil
}

// OnEvent registers a listener for every pooled agent's events.
func (m *Manager) OnEvent(l Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Running returns how many pooled agents are running.
func (m *Manager) Running() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.agents {
		if a.Status() == store.StatusRunning {
			n++
		}
	}
	return n
}

// Shutdown stops every pooled agent concurrently, then drains the event dispatcher.
// Individual stop failures are logged and returned joined; they never abort other stops.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	m.mu.RUnlock()

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for _, a := range agents {
		wg.Add(1)
		go func(a *Agent) {
			defer wg.Done()
			if err := a.close(ctx); err != nil {
				m.logger.Warn("stop during shutdown failed", "agent_id", a.ID(), "error", err)
				errMu.Lock()
				errs = append(errs, fmt.Errorf("agent %s: %w", a.ID(), err))
				errMu.Unlock()
			}
		}(a)
	}
	wg.Wait()

	m.emitMu.Lock()
	if !m.closed {
		m.closed = true
		close(m.events)
	}
	m.emitMu.Unlock()

	select {
	case <-m.drained:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("draining events: %w", ctx.Err()))
	}

	m.logger.Info("agent pool shut down", "agents", len(agents))
	return errors.Join(errs...)
}

func (m *Manager) agent(id string) (*Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	return a, ok
}

// emit queues an event for the dispatcher. Events after Shutdown are dropped.
func (m *Manager) emit(ev *store.Event) {
	m.emitMu.RLock()
	defer m.emitMu.RUnlock()
	if m.closed {
		return
	}
	m.events <- ev
}

// dispatch logs each event to the store, then fans it out in order.
func (m *Manager) dispatch() {
	defer close(m.drained)

	for ev := range m.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.deps.store.SaveEvent(ctx, ev); err != nil {
			m.logger.Warn("failed to log event", "agent_id", ev.AgentID, "type", ev.Type, "error", err)
		}
		cancel()

		m.listenersMu.RLock()
		listeners := append([]Listener(nil), m.listeners...)
		m.listenersMu.RUnlock()

		for _, l := range listeners {
			m.notify(l, ev)
		}
	}
}

func (m *Manager) notify(l Listener, ev *store.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event listener panicked", "type", ev.Type, "panic", r)
		}
	}()
	l(ev.Clone())
}
