// ABOUTME: Behavior engine: registers auto_reply, monitor, broadcast and parser against a live transport
// ABOUTME: Registration is all-or-nothing from the full list; teardown happens in the agent state machine

package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/completion"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/scheduler"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/transport"
)

// handler processes one inbound message. A returned error is an agent-level error.
type handler func(ctx context.Context, d *delivery) error

// delivery is one inbound message moving through the handler chain.
type delivery struct {
	gen      uint64
	conn     transport.Transport
	msg      *transport.Message
	accepted bool
}

// accept counts the message as received once, however many behaviors handle it.
func (a *Agent) accept(ctx context.Context, d *delivery) {
	if d.accepted {
		return
	}
	d.accepted = true
	a.recordInbound(ctx, d.gen, d.msg)
}

// register builds handlers and schedules jobs for the first enabled behavior of each kind.
func (a *Agent) register(gen uint64, behaviors store.Behaviors) ([]handler, []scheduler.Handle, error) {
	var (
		handlers []handler
		jobs     []scheduler.Handle
	)

	if b, ok := behaviors.Find(store.KindAutoReply); ok && b.Enabled() {
		handlers = append(handlers, a.autoReply(*b.AutoReply))
	}
	if b, ok := behaviors.Find(store.KindMonitor); ok && b.Enabled() {
		handlers = append(handlers, a.monitor(*b.Monitor))
	}
	if b, ok := behaviors.Find(store.KindBroadcast); ok && b.Enabled() {
		h, err := a.scheduleBroadcast(gen, *b.Broadcast)
		if err != nil {
			return nil, nil, err
		}
		jobs = append(jobs, h)
	}
	if b, ok := behaviors.Find(store.KindParser); ok && b.Enabled() {
		cfg := *b.Parser
		jobs = append(jobs, a.deps.scheduler.RunOnce(func(ctx context.Context) {
			a.runParser(ctx, gen, cfg)
		}))
	}

	a.logger.Debug("behaviors registered", "handlers", len(handlers), "jobs", len(jobs))
	return handlers, jobs, nil
}

// autoReply answers eligible messages from templates or the completion provider.
func (a *Agent) autoReply(cfg store.AutoReplyConfig) handler {
	cooldown := time.Duration(cfg.CooldownSeconds) * time.Second

	return func(ctx context.Context, d *delivery) error {
		msg := d.msg
		if msg.Outgoing || strings.TrimSpace(msg.Text) == "" {
			return nil
		}
		if len(cfg.OnlyInChats) > 0 && !matchesAnyChat(msg, cfg.OnlyInChats) {
			return nil
		}
		if len(cfg.TriggerKeywords) > 0 && !containsAnyFold(msg.Text, cfg.TriggerKeywords) {
			return nil
		}
		a.accept(ctx, d)

		rt := a.runtimeFor(d.gen)
		if rt == nil {
			return nil
		}
		chat := msg.ChatKey()
		if !rt.cooldown.Allowed(chat) {
			a.logger.Debug("reply suppressed by cooldown", "chat", chat)
			return nil
		}

		reply, ok := a.composeReply(ctx, rt, cfg, chat, msg.Text)
		if !ok || !a.current(d.gen) {
			return nil
		}
		if _, err := d.conn.SendMessage(ctx, chat, reply, transport.SendOptions{}); err != nil {
			a.logger.Warn("auto reply failed", "chat", chat, "error", err)
			return nil
		}
		if cooldown > 0 {
			rt.cooldown.Mark(chat, cooldown)
		}
		a.recordOutbound(ctx, d.gen, chat, reply)
		return nil
	}
}

func (a *Agent) composeReply(ctx context.Context, rt *runtimeState, cfg store.AutoReplyConfig, chat, text string) (string, bool) {
	if cfg.ReplyMode == store.ReplyModeTemplate {
		for _, t := range cfg.Templates {
			if t.Trigger != "" && containsFold(text, t.Trigger) {
				return t.Response, true
			}
		}
		return "", false
	}

	if a.deps.completion == nil {
		a.logger.Warn("ai reply skipped, no completion provider configured")
		return "", false
	}
	reply, err := a.deps.completion.Complete(ctx, completion.Request{
		ConversationKey: a.id + ":" + chat,
		SystemPrompt:    cfg.AISystemPrompt,
		History:         rt.history.get(chat),
		Text:            text,
	})
	if err != nil {
		a.logger.Warn("completion failed", "chat", chat, "error", err)
		return "", false
	}
	if strings.TrimSpace(reply) == "" {
		return "", false
	}
	rt.history.append(chat,
		completion.Message{Role: completion.RoleUser, Content: text},
		completion.Message{Role: completion.RoleAssistant, Content: reply},
	)
	return reply, true
}

// monitor captures posts from watched chats.
func (a *Agent) monitor(cfg store.MonitorConfig) handler {
	return func(ctx context.Context, d *delivery) error {
		msg := d.msg
		if msg.Outgoing || strings.TrimSpace(msg.Text) == "" {
			return nil
		}
		if len(cfg.Targets) > 0 && !matchesAnyChat(msg, cfg.Targets) {
			return nil
		}
		if len(cfg.Filters.Keywords) > 0 && !containsAnyFold(msg.Text, cfg.Filters.Keywords) {
			return nil
		}
		a.accept(ctx, d)

		item := &store.ParsedItem{
			AgentID:    a.id,
			Source:     msg.ChatKey(),
			DataType:   store.DataTypeMessage,
			Content:    msg.Text,
			CapturedAt: a.deps.clock.Now().UTC(),
		}
		return a.capture(ctx, d.gen, item, cfg.SaveToDB, cfg.WebhookURL)
	}
}

// capture saves, forwards and announces one item. Webhook delivery never fails the capture;
// a save failure is returned after the item is still forwarded and announced.
func (a *Agent) capture(ctx context.Context, gen uint64, item *store.ParsedItem, save bool, webhookURL string) error {
	if !a.current(gen) {
		return nil
	}

	var saveErr error
	if save {
		saveErr = a.saveParsed(ctx, item)
	}
	if webhookURL != "" && a.deps.webhooks != nil {
		a.deps.webhooks.Send(webhookURL, a.webhookPayload(item))
	}
	a.emit(store.EventParsedItem, parsedPayload{
		ItemID:   item.ID,
		Source:   item.Source,
		DataType: item.DataType,
		Content:  a.truncate(item.Content),
	})
	return saveErr
}

func (a *Agent) saveParsed(ctx context.Context, item *store.ParsedItem) error {
	if err := a.deps.store.SaveParsed(context.WithoutCancel(ctx), item); err != nil {
		return persistErr("save parsed item", err)
	}
	return a.bumpStat(ctx, store.StatParsed)
}

// WebhookPayload is the JSON body posted for each captured item.
type WebhookPayload struct {
	AgentID    string    `json:"agent_id"`
	AgentName  string    `json:"agent_name"`
	Source     string    `json:"source"`
	DataType   string    `json:"data_type"`
	Content    string    `json:"content"`
	CapturedAt time.Time `json:"captured_at"`
}

func (a *Agent) webhookPayload(item *store.ParsedItem) WebhookPayload {
	return WebhookPayload{
		AgentID:    a.id,
		AgentName:  a.Snapshot().Name,
		Source:     item.Source,
		DataType:   item.DataType,
		Content:    item.Content,
		CapturedAt: item.CapturedAt,
	}
}

// jobRef lets a job cancel its own handle, even when it finishes before the handle is known.
type jobRef struct {
	mu        sync.Mutex
	handle    scheduler.Handle
	cancelled bool
}

func (r *jobRef) set(h scheduler.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handle = h
	if r.cancelled {
		h.Cancel()
	}
}

func (r *jobRef) cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
	if r.handle != nil {
		r.handle.Cancel()
	}
}

func (a *Agent) scheduleBroadcast(gen uint64, cfg store.BroadcastConfig) (scheduler.Handle, error) {
	ref := &jobRef{}
	job := func(ctx context.Context) { a.runBroadcast(ctx, gen, cfg, ref) }

	if cfg.Schedule == "" {
		h := a.deps.scheduler.RunOnce(job)
		ref.set(h)
		return h, nil
	}
	h, err := a.deps.scheduler.Schedule(cfg.Schedule, job)
	if err != nil {
		return nil, err
	}
	ref.set(h)
	return h, nil
}

// runBroadcast sends the message to each target in order. A failed target is
// logged and skipped. With onlyOnce the behavior is disabled after the pass,
// whether or not every target was reached.
func (a *Agent) runBroadcast(ctx context.Context, gen uint64, cfg store.BroadcastConfig, ref *jobRef) {
	if !a.broadcastEnabled(gen) {
		return
	}
	conn, ok := a.connFor(gen)
	if !ok {
		return
	}

	delay := time.Duration(cfg.Delay()) * time.Millisecond
	sent := 0
	for i, target := range cfg.Targets {
		if i > 0 {
			if err := a.deps.clock.Sleep(ctx, delay); err != nil {
				return
			}
		}
		if !a.current(gen) {
			return
		}
		if _, err := conn.SendMessage(ctx, target, cfg.Message, transport.SendOptions{ParseMode: cfg.ParseMode}); err != nil {
			a.logger.Warn("broadcast send failed", "target", target, "error", err)
			continue
		}
		sent++
		a.recordOutbound(ctx, gen, target, cfg.Message)
	}
	a.logger.Info("broadcast pass complete", "sent", sent, "targets", len(cfg.Targets))

	if cfg.OnlyOnce {
		ref.cancel()
		a.disableBroadcast(ctx, gen)
	}
}

func (a *Agent) broadcastEnabled(gen uint64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.gen != gen {
		return false
	}
	b, ok := a.rec.Behaviors.Find(store.KindBroadcast)
	return ok && b.Enabled()
}

// disableBroadcast persists the behavior list with the active broadcast turned off.
// The live registration is left alone; its handle was already cancelled.
// It does nothing once a newer list has been submitted.
func (a *Agent) disableBroadcast(ctx context.Context, gen uint64) {
	a.behaviorsMu.Lock()
	defer a.behaviorsMu.Unlock()

	if !a.registeredFromLatest(gen) {
		return
	}
	a.mu.RLock()
	list := a.rec.Behaviors.Clone()
	a.mu.RUnlock()

	changed := false
	for i := range list {
		if list[i].Kind == store.KindBroadcast && list[i].Broadcast != nil {
			if list[i].Broadcast.Enabled {
				list[i].Broadcast.Enabled = false
				changed = true
			}
			break
		}
	}
	if !changed {
		return
	}

	if err := a.deps.store.UpdateBehaviors(context.WithoutCancel(ctx), a.id, list); err != nil {
		a.reportError(ctx, gen, "disable broadcast", persistErr("update behaviors", err))
		return
	}
	// behaviorsMu keeps the stored list and the snapshot in step from here.
	a.mu.Lock()
	a.rec.Behaviors = list
	a.rec.UpdatedAt = a.deps.clock.Now().UTC()
	a.mu.Unlock()
	a.logger.Info("one-time broadcast disabled")
}

// registeredFromLatest reports whether gen is live and was built from the latest submitted list.
func (a *Agent) registeredFromLatest(gen uint64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.gen == gen && a.activeRev == a.behaviorsRev
}

// runParser bulk-fetches history and members once. Failures are logged per target and item.
func (a *Agent) runParser(ctx context.Context, gen uint64, cfg store.ParserConfig) {
	conn, ok := a.connFor(gen)
	if !ok {
		return
	}
	st, err := a.cred.session(conn)
	if err != nil {
		a.logger.Warn("parser needs a session agent, skipping")
		return
	}

	limit := cfg.FetchLimit()
	for _, target := range cfg.Targets {
		if ctx.Err() != nil || !a.current(gen) {
			return
		}
		if cfg.WantMessages() {
			a.parseMessages(ctx, gen, st, cfg, target, limit)
		}
		if cfg.WantMembers() {
			a.parseMembers(ctx, gen, st, cfg, target, limit)
		}
	}
}

func (a *Agent) parseMessages(ctx context.Context, gen uint64, st transport.SessionTransport, cfg store.ParserConfig, target string, limit int) {
	msgs, err := st.GetMessages(ctx, target, limit)
	if err != nil {
		a.logger.Warn("parser failed to fetch messages", "target", target, "error", err)
		return
	}
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		item := &store.ParsedItem{
			AgentID:    a.id,
			Source:     target,
			DataType:   store.DataTypeMessage,
			Content:    m.Text,
			CapturedAt: a.deps.clock.Now().UTC(),
		}
		if err := a.capture(ctx, gen, item, cfg.SaveToDB, cfg.WebhookURL); err != nil {
			a.logger.Warn("parser failed to store message", "target", target, "error", err)
		}
	}
}

func (a *Agent) parseMembers(ctx context.Context, gen uint64, st transport.SessionTransport, cfg store.ParserConfig, target string, limit int) {
	users, err := st.GetParticipants(ctx, target, limit)
	if err != nil {
		a.logger.Warn("parser failed to fetch members", "target", target, "error", err)
		return
	}
	for _, u := range users {
		content, err := json.Marshal(u)
		if err != nil {
			a.logger.Warn("parser failed to encode member", "target", target, "error", err)
			continue
		}
		item := &store.ParsedItem{
			AgentID:    a.id,
			Source:     target,
			DataType:   store.DataTypeMember,
			Content:    string(content),
			CapturedAt: a.deps.clock.Now().UTC(),
		}
		if err := a.capture(ctx, gen, item, cfg.SaveToDB, cfg.WebhookURL); err != nil {
			a.logger.Warn("parser failed to store member", "target", target, "error", err)
		}
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func containsAnyFold(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && containsFold(s, n) {
			return true
		}
	}
	return false
}

func matchesAnyChat(msg *transport.Message, chats []string) bool {
	for _, c := range chats {
		if msg.MatchesChat(c) {
			return true
		}
	}
	return false
}
