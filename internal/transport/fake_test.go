// ABOUTME: Tests for the in-memory fake transport
// ABOUTME: Covers connection lifecycle, send failures and the code login script

package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_ReconnectReplacesUpdates(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	assert.ErrorIs(t, f.Deliver(&Message{Text: "early"}), ErrNotConnected)

	require.NoError(t, f.Connect(ctx))
	first := f.Updates()
	require.NoError(t, f.Deliver(&Message{Text: "one"}))
	assert.Equal(t, "one", (<-first).Text)

	require.NoError(t, f.Disconnect(ctx))
	assert.Nil(t, f.Updates())
	assert.ErrorIs(t, f.Deliver(&Message{Text: "late"}), ErrNotConnected)

	require.NoError(t, f.Connect(ctx))
	assert.NotEqual(t, first, f.Updates())
	assert.Equal(t, 2, f.Connects())
	assert.Equal(t, 1, f.Disconnects())

	select {
	case _, open := <-first:
		t.Fatalf("stale channel should stay open and empty, got open=%v", open)
	default:
	}
}

func TestFake_DropClosesStream(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	require.NoError(t, f.Connect(ctx))
	updates := f.Updates()

	f.Drop()
	_, open := <-updates
	assert.False(t, open)
	assert.False(t, f.Connected())
	assert.Nil(t, f.Updates())

	f.Drop()
	assert.Zero(t, f.Disconnects())
}

func TestFake_SendFailures(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	require.NoError(t, f.Connect(ctx))

	boom := errors.New("peer flood")
	f.FailSend("@b", boom)

	_, err := f.SendMessage(ctx, "@a", "x", SendOptions{})
	require.NoError(t, err)
	_, err = f.SendMessage(ctx, "@b", "x", SendOptions{})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []string{"x"}, f.SentTo("@a"))
	assert.Empty(t, f.SentTo("@b"))
}

func TestFake_SignIn(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	f.SetAuthorized(false)
	f.ExpectCode("12345")
	f.RequirePassword("hunter2")
	require.NoError(t, f.Connect(ctx))

	assert.ErrorIs(t, f.SignIn(ctx, "12345", ""), ErrCodeNotRequested)
	require.NoError(t, f.SendCode(ctx, "+100"))
	assert.Error(t, f.SignIn(ctx, "00000", "hunter2"))
	assert.ErrorIs(t, f.SignIn(ctx, "12345", ""), ErrPasswordRequired)
	require.NoError(t, f.SignIn(ctx, "12345", "hunter2"))

	ok, err := f.IsAuthorized(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	session, _ := f.ExportSession()
	assert.Equal(t, "session:+100", session)
}

func TestMessage_MatchesChat(t *testing.T) {
	m := &Message{ChatID: -100, ChatUsername: "News"}
	assert.True(t, m.MatchesChat("@news"))
	assert.True(t, m.MatchesChat("news"))
	assert.True(t, m.MatchesChat("https://t.me/news"))
	assert.True(t, m.MatchesChat("-100"))
	assert.False(t, m.MatchesChat("@other"))
	assert.False(t, m.MatchesChat(""))
	assert.Equal(t, "@News", m.ChatKey())
}
