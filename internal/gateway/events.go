// ABOUTME: Server-Sent Events stream of live agent events
// ABOUTME: Subscribes to the event hub for one agent or all agents

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/eventhub"
)

// sseKeepalive is how often a comment line is written to idle streams.
const sseKeepalive = 25 * time.Second

// handleEventStream handles GET /api/events/stream?agent_id=X.
// Without agent_id every agent's events are streamed. Each SSE event is
// named after the event type and carries the full event as JSON.
func (g *Gateway) handleEventStream(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID != "" {
		if _, err := g.manager.Get(r.Context(), agentID); err != nil {
			g.sendAgentError(w, err)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	events, subID := g.hub.Subscribe(ctx, agentID)
	defer g.hub.Unsubscribe(subscriptionKey(agentID), subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "ready", map[string]string{"agent_id": subscriptionKey(agentID)})
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			_, _ = fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, string(ev.Type), ev)
			flusher.Flush()
		}
	}
}

func subscriptionKey(agentID string) string {
	if agentID == "" {
		return eventhub.AllAgents
	}
	return agentID
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
