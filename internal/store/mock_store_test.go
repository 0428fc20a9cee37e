// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Focuses on copy isolation and failure injection used by agent tests

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_ReturnsCopies(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()
	rec := testRecord("a1")
	require.NoError(t, s.SaveAgent(ctx, rec))

	// Mutating the caller's record must not reach the store
	rec.Behaviors[0].AutoReply.Templates[0].Response = "mutated"

	got, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "hello!", got.Behaviors[0].AutoReply.Templates[0].Response)

	// Mutating a returned record must not reach the store either
	got.Name = "changed"
	again, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "agent a1", again.Name)
}

func TestMockStore_FailOn(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()
	require.NoError(t, s.SaveAgent(ctx, testRecord("a1")))

	boom := errors.New("disk full")
	s.FailOn("SaveParsed", boom)
	err := s.SaveParsed(ctx, &ParsedItem{AgentID: "a1", CapturedAt: time.Now()})
	assert.ErrorIs(t, err, boom)

	s.FailOn("SaveParsed", nil)
	assert.NoError(t, s.SaveParsed(ctx, &ParsedItem{AgentID: "a1", CapturedAt: time.Now()}))
}

func TestMockStore_NotFound(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()

	_, err := s.GetAgent(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateStatus(ctx, "x", StatusRunning, ""), ErrNotFound)
	assert.ErrorIs(t, s.UpdateBehaviors(ctx, "x", nil), ErrNotFound)
	assert.ErrorIs(t, s.UpdateSession(ctx, "x", "s"), ErrNotFound)
	assert.ErrorIs(t, s.IncrementStat(ctx, "x", StatSent), ErrNotFound)
	assert.ErrorIs(t, s.DeleteAgent(ctx, "x"), ErrNotFound)
}

func TestMockStore_StatsAndLogs(t *testing.T) {
	s := NewMockStore()
	ctx := context.Background()
	require.NoError(t, s.SaveAgent(ctx, testRecord("a1")))

	require.NoError(t, s.IncrementStat(ctx, "a1", StatReceived))
	require.NoError(t, s.IncrementStat(ctx, "a1", StatParsed))
	got, err := s.GetAgent(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, Stats{Received: 1, Parsed: 1}, got.Stats)

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, s.SaveEvent(ctx, &Event{ID: id, AgentID: "a1", Type: EventMessageIn, Timestamp: time.Now()}))
	}
	events, err := s.GetEvents(ctx, "a1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e3", events[0].ID)

	require.NoError(t, s.DeleteAgent(ctx, "a1"))
	events, err = s.GetEvents(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
