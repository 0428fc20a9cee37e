// ABOUTME: Redis pub/sub relay for agent events
// ABOUTME: Queues events from the manager and publishes them from one worker

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
)

const (
	// DefaultChannel is used when no channel is configured.
	DefaultChannel = "openclaw:events"

	queueSize      = 256
	publishTimeout = 5 * time.Second
)

// Publisher is the part of a redis client the relay needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Relay forwards events to a redis channel.
type Relay struct {
	pub     Publisher
	channel string
	closer  io.Closer
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *store.Event
	done   chan struct{}

	published atomic.Int64
	dropped   atomic.Int64
}

// Dial connects to redis at url and starts a relay on channel.
func Dial(ctx context.Context, url, channel string, logger *slog.Logger) (*Relay, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	r := New(rdb, channel, logger)
	r.closer = rdb
	return r, nil
}

// New starts a relay that publishes through pub.
func New(pub Publisher, channel string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if channel == "" {
		channel = DefaultChannel
	}
	r := &Relay{
		pub:     pub,
		channel: channel,
		logger:  logger.With("component", "relay", "channel", channel),
		queue:   make(chan *store.Event, queueSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Publish queues ev for delivery. It never blocks.
func (r *Relay) Publish(ev *store.Event) {
	if ev == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- ev.Clone():
	default:
		r.dropped.Add(1)
		r.logger.Warn("relay queue full, dropping event", "agent_id", ev.AgentID, "type", ev.Type)
	}
}

// Close stops accepting events, flushes the queue and closes the redis client
// if the relay owns one.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Published returns how many events reached redis.
func (r *Relay) Published() int64 { return r.published.Load() }

// Dropped returns how many events were discarded because the queue was full.
func (r *Relay) Dropped() int64 { return r.dropped.Load() }

func (r *Relay) run() {
	defer close(r.done)
	for ev := range r.queue {
		r.send(ev)
	}
}

func (r *Relay) send(ev *store.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("encoding event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.pub.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("publishing event", "agent_id", ev.AgentID, "type", ev.Type, "error", err)
		return
	}
	r.published.Add(1)
}
