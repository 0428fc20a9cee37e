// ABOUTME: Integration tests for the Postgres store
// ABOUTME: Skipped unless OPENCLAW_TEST_POSTGRES_URL points at a disposable database

package store

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("OPENCLAW_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("OPENCLAW_TEST_POSTGRES_URL not set")
	}
	s, err := NewPostgresStore(t.Context(), url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostgresStore_AgentLifecycle(t *testing.T) {
	s := newPostgresTestStore(t)
	ctx := t.Context()
	id := uuid.New().String()
	t.Cleanup(func() { _ = s.DeleteAgent(ctx, id) })

	require.NoError(t, s.SaveAgent(ctx, testRecord(id)))

	require.NoError(t, s.UpdateStatus(ctx, id, StatusRunning, ""))
	require.NoError(t, s.IncrementStat(ctx, id, StatSent))
	require.NoError(t, s.UpdateBehaviors(ctx, id, Behaviors{NewMonitor(MonitorConfig{Enabled: true, Targets: []string{"@c"}})}))

	got, err := s.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, int64(1), got.Stats.Sent)
	require.Len(t, got.Behaviors, 1)
	assert.Equal(t, KindMonitor, got.Behaviors[0].Kind)

	require.NoError(t, s.SaveEvent(ctx, &Event{ID: uuid.New().String(), AgentID: id, AgentName: "pg", Type: EventStatusChange, Payload: []byte(`{"status":"running"}`), Timestamp: time.Now()}))
	events, err := s.GetEvents(ctx, id, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.JSONEq(t, `{"status":"running"}`, string(events[0].Payload))

	item := &ParsedItem{AgentID: id, Source: "@c", DataType: DataTypeMessage, Content: "x", CapturedAt: time.Now()}
	require.NoError(t, s.SaveParsed(ctx, item))
	assert.NotZero(t, item.ID)

	require.NoError(t, s.DeleteAgent(ctx, id))
	_, err = s.GetAgent(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}
