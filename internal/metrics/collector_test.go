// ABOUTME: Tests for the event-driven Prometheus collector
// ABOUTME: Uses prometheus/testutil to read counter values

package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
)

func event(typ store.EventType, payload string) *store.Event {
	ev := &store.Event{AgentID: "a1", Type: typ}
	if payload != "" {
		ev.Payload = json.RawMessage(payload)
	}
	return ev
}

func TestCollectorObserve(t *testing.T) {
	c := New(nil, nil)

	c.Observe(event(store.EventMessageIn, `{"chat":"1","text":"hi"}`))
	c.Observe(event(store.EventMessageIn, `{"chat":"1","text":"again"}`))
	c.Observe(event(store.EventMessageOut, `{"chat":"1","text":"hello"}`))
	c.Observe(event(store.EventParsedItem, `{"source":"@news","data_type":"message","content":"x"}`))
	c.Observe(event(store.EventStatusChange, `{"status":"running"}`))
	c.Observe(event(store.EventStatusChange, `{"status":"error","error":"boom"}`))
	c.Observe(event(store.EventStatusChange, `not json`))
	c.Observe(nil)

	assert.InDelta(t, 2, testutil.ToFloat64(c.Events.WithLabelValues("message_in")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(c.Events.WithLabelValues("status_change")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.Messages.WithLabelValues("in")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.Messages.WithLabelValues("out")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.ParsedItems), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.StatusTransitions.WithLabelValues("running")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.StatusTransitions.WithLabelValues("error")), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(c.StatusTransitions))
}

func TestCollectorHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	running := 3
	c := New(reg, func() int { return running })
	c.Observe(event(store.EventError, `{"op":"send","error":"x"}`))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `openclaw_events_total{type="error"} 1`)
	assert.Contains(t, body, "openclaw_running_agents 3")

	running = 1
	expected := `
# HELP openclaw_running_agents Agents currently in the running state.
# TYPE openclaw_running_agents gauge
openclaw_running_agents 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "openclaw_running_agents"))
}
