// ABOUTME: Agent is the per-identity state machine: stopped, starting, running, error
// ABOUTME: Owns the transport, scheduled jobs, the update pump and runtime state, and persists every transition

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/clock"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/completion"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/scheduler"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/transport"
)

// DefaultEventTextLimit bounds message text carried in event payloads, in runes.
const DefaultEventTextLimit = 200

// errStreamClosed reports a transport whose inbound stream ended while the agent was running.
var errStreamClosed = errors.New("update stream closed by transport")

// WebhookSender delivers JSON payloads without blocking the caller.
type WebhookSender interface {
	Send(url string, payload any)
}

// deps are the collaborators shared by every agent in a pool.
type deps struct {
	store        store.Store
	dialer       Dialer
	scheduler    scheduler.Scheduler
	completion   completion.Provider
	webhooks     WebhookSender
	clock        clock.Clock
	logger       *slog.Logger
	historyLimit int
	textLimit    int
	emit         func(*store.Event)
}

// Agent is one managed bot or userbot identity.
//
// lifecycle serializes Start, Stop, behavior hot-swaps and auth. mu guards
// the record snapshot and the live runtime fields. Message handlers and jobs
// only ever take mu, and they capture the generation they were registered
// under so their results are dropped once the agent stops or reloads.
//
// behaviorsMu serializes writes of the behavior list. behaviorsRev counts
// submitted lists; activeRev is the revision the live registration was built from.
type Agent struct {
	id     string
	deps   *deps
	cred   credential
	logger *slog.Logger

	lifecycle   sync.Mutex
	behaviorsMu sync.Mutex

	mu           sync.RWMutex
	rec          *store.AgentRecord
	gen          uint64
	behaviorsRev uint64
	activeRev    uint64
	conn       transport.Transport
	jobs       []scheduler.Handle
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
	runtime    *runtimeState
}

func newAgent(rec *store.AgentRecord, d *deps) (*Agent, error) {
	cred, err := newCredential(rec.Credentials.Kind)
	if err != nil {
		return nil, err
	}
	return &Agent{
		id:     rec.ID,
		deps:   d,
		cred:   cred,
		rec:    rec.Clone(),
		logger: d.logger.With("agent_id", rec.ID),
	}, nil
}

// ID returns the immutable agent id.
func (a *Agent) ID() string { return a.id }

// Snapshot returns a copy of the current record.
func (a *Agent) Snapshot() *store.AgentRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rec.Clone()
}

// Status returns the current lifecycle state.
func (a *Agent) Status() store.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rec.Status
}

func (a *Agent) credentials() store.Credentials {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rec.Credentials
}

// Start connects the transport and registers behaviors. It is a no-op when running.
//
// A session agent whose stored session is not authorized ends in the error
// state and Start returns nil: the agent needs interactive auth, not a retry.
func (a *Agent) Start(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if a.Status() == store.StatusRunning {
		return nil
	}
	if err := a.setStatus(ctx, store.StatusStarting, ""); err != nil {
		return err
	}

	conn, err := a.cred.open(ctx, a)
	if errors.Is(err, errNeedsAuth) {
		a.logger.Warn("session requires interactive auth")
		a.fail(ctx, "start", err)
		return nil
	}
	if err != nil {
		a.fail(ctx, "start", err)
		return err
	}

	a.mu.Lock()
	a.conn = conn
	a.runtime = newRuntimeState(a.deps.clock, a.deps.historyLimit)
	a.mu.Unlock()

	if err := a.activate(conn); err != nil {
		a.teardown(ctx)
		a.fail(ctx, "start", err)
		return err
	}
	if err := a.setStatus(ctx, store.StatusRunning, ""); err != nil {
		a.teardown(ctx)
		a.fail(ctx, "start", err)
		return err
	}

	snap := a.Snapshot()
	a.logger.Info("=== AGENT STARTED ===",
		"name", snap.Name,
		"type", a.cred.kind(),
		"behaviors", len(snap.Behaviors),
	)
	return nil
}

// Stop cancels jobs, disconnects the transport and sets the stopped state.
func (a *Agent) Stop(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	return a.stopLocked(ctx)
}

func (a *Agent) stopLocked(ctx context.Context) error {
	live := a.teardown(ctx)
	if !live && a.Status() == store.StatusStopped {
		return nil
	}
	if err := a.setStatus(ctx, store.StatusStopped, ""); err != nil {
		return err
	}
	a.logger.Info("=== AGENT STOPPED ===", "name", a.Snapshot().Name)
	return nil
}

// close stops the agent and abandons any pending login.
func (a *Agent) close(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	err := a.stopLocked(ctx)
	a.cred.close(ctx)
	return err
}

// UpdateBehaviors persists list, then reloads a running agent from scratch.
// The stored list reflects the update even if the reload fails.
func (a *Agent) UpdateBehaviors(ctx context.Context, list store.Behaviors) error {
	if err := list.Validate(); err != nil {
		return err
	}

	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	list = list.Clone()
	a.behaviorsMu.Lock()
	if err := a.deps.store.UpdateBehaviors(ctx, a.id, list); err != nil {
		a.behaviorsMu.Unlock()
		return persistErr("update behaviors", err)
	}

	a.mu.Lock()
	a.rec.Behaviors = list.Clone()
	a.rec.UpdatedAt = a.deps.clock.Now().UTC()
	a.behaviorsRev++
	running := a.rec.Status == store.StatusRunning
	a.mu.Unlock()
	a.behaviorsMu.Unlock()

	if !running {
		return nil
	}
	return a.hotSwap(ctx)
}

// hotSwap tears down every registration and the subscription, reconnects,
// and registers the current behaviors again. Status stays running.
func (a *Agent) hotSwap(ctx context.Context) error {
	old := a.quiesce(ctx)

	conn, err := a.cred.reconnect(ctx, a, old)
	if err != nil {
		a.teardown(ctx)
		a.fail(ctx, "reload behaviors", err)
		return err
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	if err := a.activate(conn); err != nil {
		a.teardown(ctx)
		a.fail(ctx, "reload behaviors", err)
		return err
	}
	a.logger.Info("behaviors reloaded", "behaviors", len(a.Snapshot().Behaviors))
	return nil
}

// AuthStart requests a login code for a session agent.
func (a *Agent) AuthStart(ctx context.Context) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	return a.cred.startAuth(ctx, a)
}

// AuthSubmit completes a pending login and persists the new session.
func (a *Agent) AuthSubmit(ctx context.Context, code, password string) error {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	return a.cred.submitAuth(ctx, a, code, password)
}

// activate registers the enabled behaviors against conn and starts the update pump.
func (a *Agent) activate(conn transport.Transport) error {
	a.mu.Lock()
	gen := a.gen
	behaviors := a.rec.Behaviors.Clone()
	a.activeRev = a.behaviorsRev
	a.mu.Unlock()

	handlers, jobs, err := a.register(gen, behaviors)
	if err != nil {
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	a.mu.Lock()
	a.jobs = jobs
	a.pumpCancel = cancel
	a.pumpDone = done
	a.mu.Unlock()

	go a.pump(pumpCtx, gen, conn, conn.Updates(), handlers, done)
	return nil
}

// pump feeds inbound messages to the handlers one at a time, in transport order.
func (a *Agent) pump(ctx context.Context, gen uint64, conn transport.Transport, updates <-chan *transport.Message, handlers []handler, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-updates:
			if !ok {
				if a.current(gen) {
					go a.streamClosed(gen)
				}
				return
			}
			d := &delivery{gen: gen, conn: conn, msg: msg}
			for _, h := range handlers {
				if !a.current(gen) {
					return
				}
				if err := h(ctx, d); err != nil {
					a.reportError(ctx, gen, "handle message", err)
				}
			}
		}
	}
}

// streamClosed moves a running agent to the error state after its transport
// stopped delivering. It runs outside the pump so it can take lifecycle.
func (a *Agent) streamClosed(gen uint64) {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()

	if !a.current(gen) {
		return
	}
	ctx := context.Background()
	a.teardown(ctx)
	a.fail(ctx, "update stream", &TransportError{Op: "receive updates", Err: errStreamClosed})
}

// quiesce cancels jobs and the pump and advances the generation, keeping the connection.
func (a *Agent) quiesce(ctx context.Context) transport.Transport {
	a.mu.Lock()
	a.gen++
	jobs, conn, cancel, done := a.jobs, a.conn, a.pumpCancel, a.pumpDone
	a.jobs, a.pumpCancel, a.pumpDone = nil, nil, nil
	a.mu.Unlock()

	for _, h := range jobs {
		h.Cancel()
	}
	if cancel != nil {
		cancel()
	}
	a.wait(ctx, done)
	return conn
}

// teardown quiesces, disconnects and drops runtime state. It reports whether a connection was live.
func (a *Agent) teardown(ctx context.Context) bool {
	a.mu.Lock()
	a.gen++
	jobs, conn, cancel, done := a.jobs, a.conn, a.pumpCancel, a.pumpDone
	a.jobs, a.conn, a.pumpCancel, a.pumpDone = nil, nil, nil, nil
	a.runtime = nil
	a.mu.Unlock()

	for _, h := range jobs {
		h.Cancel()
	}
	if cancel != nil {
		cancel()
	}
	a.disconnect(ctx, conn)
	a.wait(ctx, done)
	return conn != nil
}

func (a *Agent) wait(ctx context.Context, done chan struct{}) {
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("gave up waiting for update pump", "error", ctx.Err())
	}
}

func (a *Agent) disconnect(ctx context.Context, conn transport.Transport) {
	if conn == nil {
		return
	}
	if err := conn.Disconnect(ctx); err != nil {
		a.logger.Warn("disconnect failed", "error", err)
	}
}

// current reports whether gen is still the live registration generation.
func (a *Agent) current(gen uint64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.gen == gen
}

func (a *Agent) connFor(gen uint64) (transport.Transport, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.gen != gen || a.conn == nil {
		return nil, false
	}
	return a.conn, true
}

func (a *Agent) runtimeFor(gen uint64) *runtimeState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.gen != gen {
		return nil
	}
	return a.runtime
}

// setStatus persists the transition, applies it, then emits status_change.
// Status writes outlive the caller's context so a cancelled request cannot
// leave the store behind the runtime.
func (a *Agent) setStatus(ctx context.Context, status store.Status, lastError string) error {
	if err := a.deps.store.UpdateStatus(context.WithoutCancel(ctx), a.id, status, lastError); err != nil {
		return persistErr("update status", err)
	}
	a.applyStatus(status, lastError)
	return nil
}

func (a *Agent) applyStatus(status store.Status, lastError string) {
	a.mu.Lock()
	a.rec.Status = status
	a.rec.LastError = lastError
	a.rec.UpdatedAt = a.deps.clock.Now().UTC()
	a.mu.Unlock()

	a.emit(store.EventStatusChange, statusPayload{Status: status, Error: lastError})
}

// fail moves the agent to the error state and reports err.
func (a *Agent) fail(ctx context.Context, op string, err error) {
	a.logger.Error("agent failed", "op", op, "error", err)
	if serr := a.setStatus(ctx, store.StatusError, err.Error()); serr != nil {
		a.logger.Error("failed to persist error status", "error", serr)
		a.applyStatus(store.StatusError, err.Error())
	}
	a.emit(store.EventError, errorPayload{Op: op, Error: err.Error()})
}

// reportError records a runtime failure without changing the lifecycle state.
func (a *Agent) reportError(ctx context.Context, gen uint64, op string, err error) {
	if !a.current(gen) {
		return
	}
	a.logger.Error("behavior error", "op", op, "error", err)

	status := a.Status()
	if serr := a.deps.store.UpdateStatus(context.WithoutCancel(ctx), a.id, status, err.Error()); serr != nil {
		a.logger.Error("failed to persist last error", "error", serr)
	} else {
		a.mu.Lock()
		a.rec.LastError = err.Error()
		a.mu.Unlock()
	}
	a.emit(store.EventError, errorPayload{Op: op, Error: err.Error()})
}

func (a *Agent) bumpStat(ctx context.Context, field store.StatField) error {
	if err := a.deps.store.IncrementStat(context.WithoutCancel(ctx), a.id, field); err != nil {
		return persistErr("increment "+string(field), err)
	}
	a.mu.Lock()
	switch field {
	case store.StatSent:
		a.rec.Stats.Sent++
	case store.StatReceived:
		a.rec.Stats.Received++
	case store.StatParsed:
		a.rec.Stats.Parsed++
	}
	a.mu.Unlock()
	return nil
}

func (a *Agent) recordInbound(ctx context.Context, gen uint64, msg *transport.Message) {
	if !a.current(gen) {
		return
	}
	if err := a.bumpStat(ctx, store.StatReceived); err != nil {
		a.logger.Warn("failed to count inbound message", "error", err)
	}
	a.emit(store.EventMessageIn, messagePayload{
		Chat:           msg.ChatKey(),
		ChatTitle:      msg.ChatTitle,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		SenderUsername: msg.SenderUsername,
		Text:           a.truncate(msg.Text),
	})
}

func (a *Agent) recordOutbound(ctx context.Context, gen uint64, target, text string) {
	if !a.current(gen) {
		return
	}
	if err := a.bumpStat(ctx, store.StatSent); err != nil {
		a.logger.Warn("failed to count outbound message", "error", err)
	}
	a.emit(store.EventMessageOut, messagePayload{Chat: target, Text: a.truncate(text)})
}

// refreshSession persists a rotated session export.
func (a *Agent) refreshSession(ctx context.Context, conn transport.SessionTransport) {
	session, err := conn.ExportSession()
	if err != nil {
		a.logger.Warn("failed to export session", "error", err)
		return
	}
	if session == "" || session == a.credentials().Session {
		return
	}
	if err := a.saveSession(ctx, session); err != nil {
		a.logger.Warn("failed to persist refreshed session", "error", err)
		return
	}
	a.logger.Debug("session export refreshed")
}

func (a *Agent) saveSession(ctx context.Context, session string) error {
	if err := a.deps.store.UpdateSession(context.WithoutCancel(ctx), a.id, session); err != nil {
		return persistErr("update session", err)
	}
	a.mu.Lock()
	a.rec.Credentials.Session = session
	a.rec.UpdatedAt = a.deps.clock.Now().UTC()
	a.mu.Unlock()
	return nil
}

func (a *Agent) emit(typ store.EventType, payload any) {
	if a.deps.emit == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("failed to encode event payload", "type", typ, "error", err)
		return
	}

	a.mu.RLock()
	name := a.rec.Name
	a.mu.RUnlock()

	a.deps.emit(&store.Event{
		ID:        uuid.NewString(),
		AgentID:   a.id,
		AgentName: name,
		Type:      typ,
		Payload:   data,
		Timestamp: a.deps.clock.Now().UTC(),
	})
}

// truncate bounds text carried in events.
func (a *Agent) truncate(text string) string {
	limit := a.deps.textLimit
	if limit <= 0 {
		limit = DefaultEventTextLimit
	}
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}

// Event payloads

type statusPayload struct {
	Status store.Status `json:"status"`
	Error  string       `json:"error,omitempty"`
}

type errorPayload struct {
	Op    string `json:"op"`
	Error string `json:"error"`
}

type messagePayload struct {
	Chat           string `json:"chat"`
	ChatTitle      string `json:"chat_title,omitempty"`
	MessageID      int64  `json:"message_id,omitempty"`
	SenderID       int64  `json:"sender_id,omitempty"`
	SenderUsername string `json:"sender_username,omitempty"`
	Text           string `json:"text"`
}

type parsedPayload struct {
	ItemID   int64  `json:"item_id,omitempty"`
	Source   string `json:"source"`
	DataType string `json:"data_type"`
	Content  string `json:"content"`
}
