// ABOUTME: Tests for the behavior engine: auto_reply, monitor, broadcast and parser
// ABOUTME: Inbound messages go through transport.Fake; jobs fire through the manual scheduler

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/completion"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/transport"
)

func boolPtr(b bool) *bool { return &b }

func decodeMessage(t *testing.T, ev *store.Event) messagePayload {
	t.Helper()
	var p messagePayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	return p
}

func (h *harness) startToken(t *testing.T, behaviors ...store.Behavior) *store.AgentRecord {
	t.Helper()
	rec := h.createToken(t, behaviors...)
	require.NoError(t, h.m.Start(context.Background(), rec.ID))
	return rec
}

func (h *harness) deliver(t *testing.T, msg *transport.Message) {
	t.Helper()
	require.NoError(t, h.fake.Deliver(msg))
}

func (h *harness) waitSent(t *testing.T, target string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.fake.SentTo(target)) >= n
	}, waitTimeout, pollInterval, "waiting for %d sends to %s", n, target)
}

func TestAutoReply(t *testing.T) {
	t.Run("template reply end to end", func(t *testing.T) {
		h := newHarness(t)
		rec := h.startToken(t, templateReply("hi", "hello!"))

		h.deliver(t, &transport.Message{ID: 7, ChatID: 42, SenderID: 9, SenderUsername: "sam", Text: "hi there"})

		h.waitSent(t, "42", 1)
		assert.Equal(t, []string{"hello!"}, h.fake.SentTo("42"))

		in := h.events.waitFor(t, store.EventMessageIn, 1)
		out := h.events.waitFor(t, store.EventMessageOut, 1)
		assert.Equal(t, messagePayload{Chat: "42", MessageID: 7, SenderID: 9, SenderUsername: "sam", Text: "hi there"}, decodeMessage(t, in[0]))
		assert.Equal(t, messagePayload{Chat: "42", Text: "hello!"}, decodeMessage(t, out[0]))

		got, err := h.m.Get(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, got.Stats.Received)
		assert.EqualValues(t, 1, got.Stats.Sent)

		stored := h.stored(t, rec.ID)
		assert.EqualValues(t, 1, stored.Stats.Received)
		assert.EqualValues(t, 1, stored.Stats.Sent)
	})

	t.Run("first matching template wins and no match sends nothing", func(t *testing.T) {
		h := newHarness(t)
		rec := h.startToken(t, store.NewAutoReply(store.AutoReplyConfig{
			Enabled:   true,
			ReplyMode: store.ReplyModeTemplate,
			Templates: []store.ReplyTemplate{
				{Trigger: "PRICE", Response: "five dollars"},
				{Trigger: "price list", Response: "see site"},
			},
		}))

		h.deliver(t, &transport.Message{ID: 1, ChatID: 42, Text: "weather?"})
		h.deliver(t, &transport.Message{ID: 2, ChatID: 42, Text: "send the price list"})
		h.waitSent(t, "42", 1)
		assert.Equal(t, []string{"five dollars"}, h.fake.SentTo("42"))

		// Both messages were eligible, so both count as received.
		h.events.waitFor(t, store.EventMessageOut, 1)
		got, err := h.m.Get(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, got.Stats.Received)
	})

	t.Run("cooldown suppresses replies per chat", func(t *testing.T) {
		h := newHarness(t)
		reply := templateReply("hi", "hello!")
		reply.AutoReply.CooldownSeconds = 5
		h.startToken(t, reply)

		h.deliver(t, &transport.Message{ID: 1, ChatID: 42, Text: "hi"})
		h.waitSent(t, "42", 1)

		h.deliver(t, &transport.Message{ID: 2, ChatID: 42, Text: "hi again"})
		// Another chat is not throttled; its reply also proves the previous message was handled.
		h.deliver(t, &transport.Message{ID: 3, ChatID: 77, Text: "hi"})
		h.waitSent(t, "77", 1)
		assert.Len(t, h.fake.SentTo("42"), 1)

		h.clock.Advance(5 * time.Second)
		h.deliver(t, &transport.Message{ID: 4, ChatID: 42, Text: "hi"})
		h.waitSent(t, "42", 2)
	})

	t.Run("chat allowlist and keywords gate eligibility", func(t *testing.T) {
		h := newHarness(t)
		rec := h.startToken(t, store.NewAutoReply(store.AutoReplyConfig{
			Enabled:         true,
			ReplyMode:       store.ReplyModeTemplate,
			OnlyInChats:     []string{"@allowed"},
			TriggerKeywords: []string{"price"},
			Templates:       []store.ReplyTemplate{{Trigger: "price", Response: "five dollars"}},
		}))

		h.deliver(t, &transport.Message{ID: 1, ChatID: 1, ChatUsername: "other", Text: "price?"})
		h.deliver(t, &transport.Message{ID: 2, ChatID: 2, ChatUsername: "allowed", Text: "hello"})
		h.deliver(t, &transport.Message{ID: 3, ChatID: 2, ChatUsername: "allowed", Text: "price", Outgoing: true})
		h.deliver(t, &transport.Message{ID: 4, ChatID: 2, ChatUsername: "allowed", Text: "What's the PRICE"})

		h.waitSent(t, "@allowed", 1)
		assert.Len(t, h.fake.Sent(), 1)

		h.events.waitFor(t, store.EventMessageOut, 1)
		assert.Len(t, h.events.ofType(store.EventMessageIn), 1)
		got, err := h.m.Get(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, got.Stats.Received)
	})

	t.Run("ai replies carry capped history", func(t *testing.T) {
		h := newHarness(t)
		h.llm.Reply = func(req completion.Request) (string, error) {
			return "re: " + req.Text, nil
		}
		rec := h.startToken(t, store.NewAutoReply(store.AutoReplyConfig{
			Enabled:        true,
			ReplyMode:      store.ReplyModeAI,
			AISystemPrompt: "be brief",
		}))

		for i := 0; i < 15; i++ {
			h.deliver(t, &transport.Message{ID: int64(i + 1), ChatID: 42, Text: fmt.Sprintf("msg %d", i)})
		}
		h.waitSent(t, "42", 15)

		reqs := h.llm.Requests()
		require.Len(t, reqs, 15)
		assert.Empty(t, reqs[0].History)
		assert.Equal(t, rec.ID+":42", reqs[0].ConversationKey)
		assert.Equal(t, "be brief", reqs[0].SystemPrompt)

		last := reqs[14]
		assert.Equal(t, "msg 14", last.Text)
		require.Len(t, last.History, DefaultHistoryLimit)
		assert.Equal(t, completion.Message{Role: completion.RoleUser, Content: "msg 4"}, last.History[0])
		assert.Equal(t, completion.Message{Role: completion.RoleAssistant, Content: "re: msg 13"}, last.History[DefaultHistoryLimit-1])

		a, ok := h.m.agent(rec.ID)
		require.True(t, ok)
		a.mu.RLock()
		rt := a.runtime
		a.mu.RUnlock()
		require.NotNil(t, rt)
		assert.Equal(t, DefaultHistoryLimit, rt.history.len("42"))
	})

	t.Run("provider error sends nothing and keeps running", func(t *testing.T) {
		h := newHarness(t)
		h.llm.Err = errors.New("rate limited")
		h.llm.Response = ""
		rec := h.startToken(t, store.NewAutoReply(store.AutoReplyConfig{Enabled: true, ReplyMode: store.ReplyModeAI}))

		h.deliver(t, &transport.Message{ID: 1, ChatID: 42, Text: "hello"})
		h.events.waitFor(t, store.EventMessageIn, 1)
		require.Eventually(t, func() bool { return len(h.llm.Requests()) == 1 }, waitTimeout, pollInterval)

		assert.Equal(t, store.StatusRunning, h.status(t, rec.ID))
		require.NoError(t, h.m.Stop(context.Background(), rec.ID))
		assert.Empty(t, h.fake.Sent())
		assert.Empty(t, h.events.ofType(store.EventMessageOut))
		assert.Empty(t, h.events.ofType(store.EventError))
	})

	t.Run("event text is truncated", func(t *testing.T) {
		h := newHarness(t, withTextLimit(5))
		h.startToken(t, templateReply("hello", "ok"))

		h.deliver(t, &transport.Message{ID: 1, ChatID: 42, Text: "hello world and more"})
		in := h.events.waitFor(t, store.EventMessageIn, 1)
		assert.Equal(t, "hello...", decodeMessage(t, in[0]).Text)
	})
}

func TestMonitor(t *testing.T) {
	monitorCfg := func() store.MonitorConfig {
		return store.MonitorConfig{
			Enabled:    true,
			Targets:    []string{"@news"},
			Filters:    store.MonitorFilters{Keywords: []string{"go"}},
			WebhookURL: "http://hooks.local/in",
			SaveToDB:   true,
		}
	}

	t.Run("captures matching posts", func(t *testing.T) {
		h := newHarness(t)
		rec := h.startToken(t, store.NewMonitor(monitorCfg()))

		h.deliver(t, &transport.Message{ID: 1, ChatID: -100, ChatUsername: "news", Text: "weather today", ChannelPost: true})
		h.deliver(t, &transport.Message{ID: 2, ChatID: -200, ChatUsername: "other", Text: "go go go", ChannelPost: true})
		h.deliver(t, &transport.Message{ID: 3, ChatID: -100, ChatUsername: "news", Text: "Go 1.25 released", ChannelPost: true})

		h.events.waitFor(t, store.EventParsedItem, 1)

		items, err := h.m.Parsed(context.Background(), rec.ID, 10)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "@news", items[0].Source)
		assert.Equal(t, store.DataTypeMessage, items[0].DataType)
		assert.Equal(t, "Go 1.25 released", items[0].Content)

		hooks := h.hooks.sent()
		require.Len(t, hooks, 1)
		assert.Equal(t, rec.ID, hooks[0].AgentID)
		assert.Equal(t, "bot", hooks[0].AgentName)
		assert.Equal(t, "Go 1.25 released", hooks[0].Content)

		got, err := h.m.Get(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, got.Stats.Received)
		assert.EqualValues(t, 1, got.Stats.Parsed)
		assert.Len(t, h.events.ofType(store.EventMessageIn), 1)
	})

	t.Run("persistence failure surfaces as last error", func(t *testing.T) {
		h := newHarness(t)
		rec := h.startToken(t, store.NewMonitor(monitorCfg()))
		h.store.FailOn("SaveParsed", errors.New("disk full"))

		h.deliver(t, &transport.Message{ID: 1, ChatID: -100, ChatUsername: "news", Text: "go news"})

		errs := h.events.waitFor(t, store.EventError, 1)
		var p errorPayload
		require.NoError(t, json.Unmarshal(errs[0].Payload, &p))
		assert.Equal(t, "handle message", p.Op)
		assert.Contains(t, p.Error, "disk full")

		assert.Equal(t, store.StatusRunning, h.status(t, rec.ID))
		assert.Contains(t, h.stored(t, rec.ID).LastError, "disk full")
		got, err := h.m.Get(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.Contains(t, got.LastError, "disk full")
		assert.Zero(t, got.Stats.Parsed)

		// The item was still forwarded and announced.
		assert.Len(t, h.hooks.sent(), 1)
		assert.Len(t, h.events.ofType(store.EventParsedItem), 1)
	})

	t.Run("shared message counts as received once", func(t *testing.T) {
		h := newHarness(t)
		cfg := monitorCfg()
		cfg.Targets = []string{"42"}
		cfg.Filters = store.MonitorFilters{}
		rec := h.startToken(t, templateReply("hi", "hello!"), store.NewMonitor(cfg))

		h.deliver(t, &transport.Message{ID: 1, ChatID: 42, Text: "hi"})
		h.events.waitFor(t, store.EventParsedItem, 1)

		got, err := h.m.Get(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.Equal(t, store.Stats{Sent: 1, Received: 1, Parsed: 1}, got.Stats)
	})
}

func TestBroadcast(t *testing.T) {
	t.Run("only-once pass disables itself despite a failed target", func(t *testing.T) {
		var cs *countingStore
		h := newHarness(t, withStore(func(ms *store.MockStore) store.Store {
			cs = &countingStore{MockStore: ms}
			return cs
		}))
		h.fake.FailSend("@b", errors.New("chat write forbidden"))

		rec := h.startToken(t, store.NewBroadcast(store.BroadcastConfig{
			Enabled:        true,
			Targets:        []string{"@a", "@b"},
			Message:        "sale today",
			ParseMode:      "Markdown",
			DelayBetweenMs: 250,
			OnlyOnce:       true,
		}))

		require.Equal(t, 1, h.sched.RunPending())

		assert.Equal(t, []string{"sale today"}, h.fake.SentTo("@a"))
		assert.Empty(t, h.fake.SentTo("@b"))
		assert.Equal(t, "Markdown", h.fake.Sent()[0].Opts.ParseMode)
		assert.Equal(t, []time.Duration{250 * time.Millisecond}, h.clock.Sleeps())

		assert.Equal(t, 1, cs.updates())
		stored := h.stored(t, rec.ID)
		require.Len(t, stored.Behaviors, 1)
		assert.False(t, stored.Behaviors[0].Broadcast.Enabled)

		got, err := h.m.Get(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.False(t, got.Behaviors[0].Broadcast.Enabled)
		assert.EqualValues(t, 1, got.Stats.Sent)
		assert.Equal(t, store.StatusRunning, got.Status)

		assert.Zero(t, h.sched.RunPending())
		assert.True(t, h.sched.Entries()[0].Cancelled())
		assert.Equal(t, 1, cs.updates())
	})

	t.Run("behaviors submitted during the only-once disable win", func(t *testing.T) {
		for _, submitted := range []store.Behaviors{
			{templateReply("hi", "hello!")},
			{store.NewBroadcast(store.BroadcastConfig{Enabled: true, Targets: []string{"@c"}, Message: "new", OnlyOnce: true})},
		} {
			var gs *gatedStore
			h := newHarness(t, withStore(func(ms *store.MockStore) store.Store {
				gs = newGatedStore(ms)
				return gs
			}))
			rec := h.startToken(t, store.NewBroadcast(store.BroadcastConfig{
				Enabled:  true,
				Targets:  []string{"@a"},
				Message:  "sale today",
				OnlyOnce: true,
			}))

			passDone := make(chan struct{})
			go func() {
				defer close(passDone)
				h.sched.RunPending()
			}()
			<-gs.entered

			setDone := make(chan error, 1)
			go func() {
				_, err := h.m.SetBehaviors(context.Background(), rec.ID, submitted)
				setDone <- err
			}()
			select {
			case <-setDone:
				t.Fatal("SetBehaviors finished while the disable write was in flight")
			case <-time.After(50 * time.Millisecond):
			}
			close(gs.release)

			<-passDone
			require.NoError(t, <-setDone)

			stored := h.stored(t, rec.ID)
			assert.Equal(t, submitted, stored.Behaviors)
			got, err := h.m.Get(context.Background(), rec.ID)
			require.NoError(t, err)
			assert.Equal(t, submitted, got.Behaviors)
		}
	})

	t.Run("only-once disable skips a list replaced after registration", func(t *testing.T) {
		h := newHarness(t)
		rec := h.startToken(t, store.NewBroadcast(store.BroadcastConfig{
			Enabled:  true,
			Targets:  []string{"@a"},
			Message:  "sale today",
			OnlyOnce: true,
		}))

		a, ok := h.m.agent(rec.ID)
		require.True(t, ok)
		a.mu.RLock()
		gen := a.gen
		a.mu.RUnlock()

		// A newer list lands in the store before the old pass finishes.
		replacement := store.Behaviors{store.NewBroadcast(store.BroadcastConfig{Enabled: true, Targets: []string{"@c"}, Message: "new"})}
		a.behaviorsMu.Lock()
		require.NoError(t, h.store.UpdateBehaviors(context.Background(), rec.ID, replacement))
		a.mu.Lock()
		a.rec.Behaviors = replacement.Clone()
		a.behaviorsRev++
		a.mu.Unlock()
		a.behaviorsMu.Unlock()

		a.disableBroadcast(context.Background(), gen)

		assert.True(t, h.stored(t, rec.ID).Behaviors[0].Broadcast.Enabled)
		assert.True(t, a.Snapshot().Behaviors[0].Broadcast.Enabled)
	})

	t.Run("default delay between targets", func(t *testing.T) {
		h := newHarness(t)
		h.startToken(t, store.NewBroadcast(store.BroadcastConfig{
			Enabled: true,
			Targets: []string{"@a", "@b", "@c"},
			Message: "hello",
		}))

		require.Equal(t, 1, h.sched.RunPending())
		assert.Len(t, h.fake.Sent(), 3)
		assert.Equal(t, []time.Duration{time.Second, time.Second}, h.clock.Sleeps())
	})

	t.Run("scheduled broadcast runs per tick until stopped", func(t *testing.T) {
		h := newHarness(t)
		rec := h.startToken(t, store.NewBroadcast(store.BroadcastConfig{
			Enabled:  true,
			Targets:  []string{"@a"},
			Message:  "tick",
			Schedule: "*/5 * * * *",
		}))

		require.Len(t, h.sched.Entries(), 1)
		assert.Equal(t, "*/5 * * * *", h.sched.Entries()[0].Spec)
		assert.Zero(t, h.sched.RunPending())

		require.Equal(t, 1, h.sched.Tick())
		require.Equal(t, 1, h.sched.Tick())
		assert.Len(t, h.fake.SentTo("@a"), 2)

		require.NoError(t, h.m.Stop(context.Background(), rec.ID))
		assert.Zero(t, h.sched.Live())
		assert.Zero(t, h.sched.Tick())
	})

	t.Run("disabled broadcast is not scheduled", func(t *testing.T) {
		h := newHarness(t)
		h.startToken(t, store.NewBroadcast(store.BroadcastConfig{
			Targets: []string{"@a"},
			Message: "never",
		}))
		assert.Empty(t, h.sched.Entries())
	})
}

func TestParser(t *testing.T) {
	t.Run("fetches history and members once", func(t *testing.T) {
		h := newHarness(t)
		h.fake.SetHistory("@chan", []*transport.Message{
			{ID: 1, Text: "first"},
			{ID: 2, Text: ""},
			{ID: 3, Text: "third"},
		})
		h.fake.SetParticipants("@chan", []*transport.User{
			{ID: 10, Username: "alice"},
			{ID: 11, Username: "bob"},
		})

		rec := h.createSession(t, "s", store.NewParser(store.ParserConfig{
			Enabled:      true,
			Targets:      []string{"@missing", "@chan"},
			ParseMembers: boolPtr(true),
			Limit:        10,
			WebhookURL:   "http://hooks.local/parsed",
			SaveToDB:     true,
		}))
		require.NoError(t, h.m.Start(context.Background(), rec.ID))

		require.Equal(t, 1, h.sched.RunPending())
		assert.Zero(t, h.sched.RunPending())

		items, err := h.m.Parsed(context.Background(), rec.ID, 10)
		require.NoError(t, err)
		require.Len(t, items, 4)

		byType := map[string][]string{}
		for _, it := range items {
			assert.Equal(t, "@chan", it.Source)
			byType[it.DataType] = append(byType[it.DataType], it.Content)
		}
		assert.ElementsMatch(t, []string{"first", "third"}, byType[store.DataTypeMessage])
		require.Len(t, byType[store.DataTypeMember], 2)
		assert.Contains(t, byType[store.DataTypeMember][0]+byType[store.DataTypeMember][1], `"alice"`)

		assert.Len(t, h.hooks.sent(), 4)
		got, err := h.m.Get(context.Background(), rec.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 4, got.Stats.Parsed)
		h.events.waitFor(t, store.EventParsedItem, 4)
	})

	t.Run("messages can be skipped", func(t *testing.T) {
		h := newHarness(t)
		h.fake.SetHistory("@chan", []*transport.Message{{ID: 1, Text: "first"}})
		h.fake.SetParticipants("@chan", []*transport.User{{ID: 10, Username: "alice"}})

		rec := h.createSession(t, "s", store.NewParser(store.ParserConfig{
			Enabled:       true,
			Targets:       []string{"@chan"},
			ParseMessages: boolPtr(false),
			ParseMembers:  boolPtr(true),
			SaveToDB:      true,
		}))
		require.NoError(t, h.m.Start(context.Background(), rec.ID))
		h.sched.RunPending()

		items, err := h.m.Parsed(context.Background(), rec.ID, 10)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, store.DataTypeMember, items[0].DataType)
	})

	t.Run("token agents skip parsing", func(t *testing.T) {
		h := newHarness(t)
		h.fake.SetHistory("@chan", []*transport.Message{{ID: 1, Text: "first"}})
		rec := h.startToken(t, store.NewParser(store.ParserConfig{
			Enabled:  true,
			Targets:  []string{"@chan"},
			SaveToDB: true,
		}))

		require.Equal(t, 1, h.sched.RunPending())
		items, err := h.m.Parsed(context.Background(), rec.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, items)
		assert.Equal(t, store.StatusRunning, h.status(t, rec.ID))
	})
}
