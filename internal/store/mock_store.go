// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject per-operation failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	agents  map[string]*AgentRecord // keyed by agent ID
	events  []*Event                // append order
	parsed  []*ParsedItem           // append order
	nextID  int64
	failOps map[string]error // keyed by method name
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		agents:  make(map[string]*AgentRecord),
		failOps: make(map[string]error),
	}
}

// FailOn makes the named method return err until cleared with a nil err.
func (m *MockStore) FailOn(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failOps, method)
		return
	}
	m.failOps[method] = err
}

func (m *MockStore) failure(method string) error {
	return m.failOps[method]
}

// SaveAgent stores a copy of rec.
func (m *MockStore) SaveAgent(ctx context.Context, rec *AgentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("SaveAgent"); err != nil {
		return err
	}
	m.agents[rec.ID] = rec.Clone()
	return nil
}

// GetAgent returns a copy of the stored record.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("GetAgent"); err != nil {
		return nil, err
	}
	rec, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// GetAllAgents returns copies ordered by creation time.
func (m *MockStore) GetAllAgents(ctx context.Context) ([]*AgentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("GetAllAgents"); err != nil {
		return nil, err
	}
	out := make([]*AgentRecord, 0, len(m.agents))
	for _, rec := range m.agents {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// update applies fn to the stored record under the write lock.
func (m *MockStore) update(method, id string, fn func(rec *AgentRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(method); err != nil {
		return err
	}
	rec, ok := m.agents[id]
	if !ok {
		return ErrNotFound
	}
	fn(rec)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateStatus sets status and lastError.
func (m *MockStore) UpdateStatus(ctx context.Context, id string, status Status, lastError string) error {
	return m.update("UpdateStatus", id, func(rec *AgentRecord) {
		rec.Status = status
		rec.LastError = lastError
	})
}

// UpdateBehaviors replaces the behavior list.
func (m *MockStore) UpdateBehaviors(ctx context.Context, id string, behaviors Behaviors) error {
	return m.update("UpdateBehaviors", id, func(rec *AgentRecord) {
		rec.Behaviors = behaviors.Clone()
	})
}

// UpdateSession stores a new session export.
func (m *MockStore) UpdateSession(ctx context.Context, id string, session string) error {
	return m.update("UpdateSession", id, func(rec *AgentRecord) {
		rec.Credentials.Session = session
	})
}

// IncrementStat adds one to the named counter.
func (m *MockStore) IncrementStat(ctx context.Context, id string, field StatField) error {
	if _, err := field.column(); err != nil {
		return err
	}
	return m.update("IncrementStat", id, func(rec *AgentRecord) {
		switch field {
		case StatSent:
			rec.Stats.Sent++
		case StatReceived:
			rec.Stats.Received++
		case StatParsed:
			rec.Stats.Parsed++
		}
	})
}

// DeleteAgent removes the agent with its events and parsed items.
func (m *MockStore) DeleteAgent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("DeleteAgent"); err != nil {
		return err
	}
	if _, ok := m.agents[id]; !ok {
		return ErrNotFound
	}
	delete(m.agents, id)

	events := m.events[:0]
	for _, e := range m.events {
		if e.AgentID != id {
			events = append(events, e)
		}
	}
	m.events = events

	parsed := m.parsed[:0]
	for _, p := range m.parsed {
		if p.AgentID != id {
			parsed = append(parsed, p)
		}
	}
	m.parsed = parsed
	return nil
}

// SaveEvent appends a copy of event.
func (m *MockStore) SaveEvent(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("SaveEvent"); err != nil {
		return err
	}
	m.events = append(m.events, event.Clone())
	return nil
}

// GetEvents returns the most recent events, newest first.
func (m *MockStore) GetEvents(ctx context.Context, agentID string, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("GetEvents"); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	var out []*Event
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.events[i]
		if agentID == "" || e.AgentID == agentID {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

// SaveParsed appends a copy of item and assigns its ID.
func (m *MockStore) SaveParsed(ctx context.Context, item *ParsedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure("SaveParsed"); err != nil {
		return err
	}
	m.nextID++
	item.ID = m.nextID
	cp := *item
	m.parsed = append(m.parsed, &cp)
	return nil
}

// GetParsed returns the most recent parsed items for an agent, newest first.
func (m *MockStore) GetParsed(ctx context.Context, agentID string, limit int) ([]*ParsedItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure("GetParsed"); err != nil {
		return nil, err
	}
	limit = clampLimit(limit)
	var out []*ParsedItem
	for i := len(m.parsed) - 1; i >= 0 && len(out) < limit; i-- {
		p := m.parsed[i]
		if p.AgentID == agentID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface checks
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
