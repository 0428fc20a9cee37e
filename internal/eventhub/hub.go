// ABOUTME: In-memory fan-out of agent events to live subscribers such as SSE streams
// ABOUTME: Subscribers pick one agent id or all agents; slow subscribers lose events instead of blocking

package eventhub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	// AllAgents subscribes to events from every agent.
	AllAgents = "*"
)

// Hub provides in-memory pub/sub for agent events. Register Publish with the
// agent manager's OnEvent and hand Subscribe channels to stream handlers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.Event // agentID or AllAgents -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// New creates a hub. Pass nil logger for default.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan *store.Event),
		logger:      logger.With("component", "eventhub"),
	}
}

// Subscribe registers a subscriber for one agent's events, or every agent's
// when agentID is empty or AllAgents. The channel is closed when ctx is
// cancelled or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context, agentID string) (<-chan *store.Event, string) {
	if agentID == "" {
		agentID = AllAgents
	}
	subID := uuid.New().String()
	ch := make(chan *store.Event, subscriberBufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := h.subscribers[agentID]; !ok {
		h.subscribers[agentID] = make(map[string]chan *store.Event)
	}
	h.subscribers[agentID][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "agent_id", agentID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(agentID, subID)
	}()

	return ch, subID
}

// Publish delivers ev to the subscribers of its agent and to AllAgents subscribers.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (h *Hub) Publish(ev *store.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.deliverLocked(h.subscribers[ev.AgentID], ev)
	h.deliverLocked(h.subscribers[AllAgents], ev)
}

// deliverLocked sends under the read lock so Unsubscribe cannot close a channel mid-send.
func (h *Hub) deliverLocked(subs map[string]chan *store.Event, ev *store.Event) {
	for subID, ch := range subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("dropped event for slow subscriber",
				"agent_id", ev.AgentID,
				"sub_id", subID,
				"event_id", ev.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(agentID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[agentID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(h.subscribers, agentID)
	}

	h.logger.Debug("subscriber removed", "agent_id", agentID, "sub_id", subID)
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.subscribers {
		n += len(subs)
	}
	return n
}

// Close closes every subscriber channel. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for key, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, key)
	}

	h.logger.Debug("hub closed")
}
