// ABOUTME: Prometheus collector fed by agent events
// ABOUTME: Counts events, messages, parsed items and status transitions

package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
)

const namespace = "openclaw"

// Collector holds the pool metrics.
type Collector struct {
	Events            *prometheus.CounterVec
	Messages          *prometheus.CounterVec
	ParsedItems       prometheus.Counter
	StatusTransitions *prometheus.CounterVec
}

// New registers the pool metrics on reg. A nil reg uses a private registry
// that nothing scrapes. running may be nil.
func New(reg prometheus.Registerer, running func() int) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	c := &Collector{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Agent events by type.",
		}, []string{"type"}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Messages handled by agents, by direction.",
		}, []string{"direction"}),
		ParsedItems: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parsed_items_total",
			Help:      "Items captured by monitor and parser behaviors.",
		}),
		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Agent status changes by target status.",
		}, []string{"status"}),
	}

	if running != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running_agents",
			Help:      "Agents currently in the running state.",
		}, func() float64 { return float64(running()) })
	}
	return c
}

// Observe records ev. It has the manager listener signature.
func (c *Collector) Observe(ev *store.Event) {
	if ev == nil {
		return
	}
	c.Events.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case store.EventMessageIn:
		c.Messages.WithLabelValues("in").Inc()
	case store.EventMessageOut:
		c.Messages.WithLabelValues("out").Inc()
	case store.EventParsedItem:
		c.ParsedItems.Inc()
	case store.EventStatusChange:
		var p struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(ev.Payload, &p); err == nil && p.Status != "" {
			c.StatusTransitions.WithLabelValues(p.Status).Inc()
		}
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
