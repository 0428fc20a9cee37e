// ABOUTME: Fire-and-forget JSON webhook delivery for monitor and parser behaviors
// ABOUTME: Each destination URL gets its own circuit breaker so one dead endpoint is shed fast

package webhook

import (
	"bytes"
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// maxBreakers bounds how many destination URLs keep breaker state.
// The least recently used URL is forgotten first.
const maxBreakers = 256

type breakerEntry struct {
	cb      *gobreaker.CircuitBreaker
	element *list.Element
}

// Dispatcher posts JSON payloads to webhook URLs.
type Dispatcher struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger

	mu          sync.Mutex
	breakers    map[string]*breakerEntry
	recent      *list.List // least recently used URL at front
	maxBreakers int
	inflight    sync.WaitGroup
}

// New creates a Dispatcher. timeout <= 0 uses DefaultTimeout.
func New(timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		client:      &http.Client{Timeout: timeout},
		timeout:     timeout,
		logger:      logger.With("component", "webhook"),
		breakers:    make(map[string]*breakerEntry),
		recent:      list.New(),
		maxBreakers: maxBreakers,
	}
}

func (d *Dispatcher) breaker(url string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.breakers[url]; ok {
		d.recent.MoveToBack(e.element)
		return e.cb
	}

	if len(d.breakers) >= d.maxBreakers {
		if front := d.recent.Front(); front != nil {
			oldest, _ := front.Value.(string)
			d.recent.Remove(front)
			delete(d.breakers, oldest)
		}
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        url,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.logger.Warn("webhook circuit state changed", "url", name, "from", from.String(), "to", to.String())
		},
	})
	d.breakers[url] = &breakerEntry{cb: cb, element: d.recent.PushBack(url)}
	return cb
}

// Post delivers payload synchronously. Non-2xx responses are errors.
func (d *Dispatcher) Post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	_, err = d.breaker(url).Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("webhook request failed: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil, nil
	})
	return err
}

// Send delivers payload in the background. Failures are logged and never returned.
func (d *Dispatcher) Send(url string, payload any) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.Post(ctx, url, payload); err != nil {
			d.logger.Warn("webhook delivery failed", "url", url, "error", err)
		}
	}()
}

// Wait blocks until every background delivery started by Send has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
