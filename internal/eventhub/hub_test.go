// ABOUTME: Tests for the agent event hub
// ABOUTME: Covers per-agent and all-agent subscriptions, slow consumers, cancellation and close

package eventhub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
)

func makeEvent(id, agentID string) *store.Event {
	return &store.Event{
		ID:        id,
		AgentID:   agentID,
		AgentName: "bot-" + agentID,
		Type:      store.EventMessageIn,
		Payload:   []byte(`{"text":"hello"}`),
		Timestamp: time.Now(),
	}
}

func receive(t *testing.T, ch <-chan *store.Event) *store.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertSilent(t *testing.T, ch <-chan *store.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_AgentSubscriberReceivesOwnEvents(t *testing.T) {
	h := New(nil)
	defer h.Close()

	ch1, _ := h.Subscribe(t.Context(), "agent-1")
	ch2, _ := h.Subscribe(t.Context(), "agent-2")

	h.Publish(makeEvent("evt-1", "agent-1"))

	assert.Equal(t, "evt-1", receive(t, ch1).ID)
	assertSilent(t, ch2)
}

func TestHub_AllAgentsSubscriberReceivesEverything(t *testing.T) {
	h := New(nil)
	defer h.Close()

	all, _ := h.Subscribe(t.Context(), "")
	star, _ := h.Subscribe(t.Context(), AllAgents)

	h.Publish(makeEvent("evt-1", "agent-1"))
	h.Publish(makeEvent("evt-2", "agent-2"))

	for _, ch := range []<-chan *store.Event{all, star} {
		assert.Equal(t, "evt-1", receive(t, ch).ID)
		assert.Equal(t, "evt-2", receive(t, ch).ID)
	}
}

func TestHub_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	h := New(nil)
	defer h.Close()

	_, _ = h.Subscribe(t.Context(), "agent-1")
	fast, _ := h.Subscribe(t.Context(), "agent-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 3 * subscriberBufferSize {
			h.Publish(makeEvent("evt", "agent-1"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	received := 0
	for len(fast) > 0 {
		<-fast
		received++
	}
	assert.Equal(t, subscriberBufferSize, received)
}

func TestHub_ContextCancelUnsubscribes(t *testing.T) {
	h := New(nil)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := h.Subscribe(ctx, "agent-1")
	require.Equal(t, 1, h.Subscribers())

	cancel()

	require.Eventually(t, func() bool { return h.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")

	assert.NotPanics(t, func() { h.Publish(makeEvent("late", "agent-1")) })
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	h := New(nil)
	defer h.Close()

	_, subID := h.Subscribe(t.Context(), "agent-1")
	h.Unsubscribe("agent-1", subID)
	h.Unsubscribe("agent-1", subID)
	h.Unsubscribe("agent-9", "missing")
	assert.Zero(t, h.Subscribers())
}

func TestHub_CloseClosesSubscribers(t *testing.T) {
	h := New(nil)

	ch, _ := h.Subscribe(t.Context(), "agent-1")
	h.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := h.Subscribe(t.Context(), "agent-1")
	_, ok = <-late
	assert.False(t, ok, "subscriptions after close are already closed")
	assert.NotPanics(t, func() { h.Publish(makeEvent("evt", "agent-1")) })
}

func TestHub_ConcurrentPublishAndSubscribe(t *testing.T) {
	h := New(nil)
	defer h.Close()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			_, _ = h.Subscribe(ctx, "agent-1")
			cancel()
		}()
		go func() {
			defer wg.Done()
			h.Publish(makeEvent("evt-"+string(rune('a'+i)), "agent-1"))
		}()
	}
	wg.Wait()
}
