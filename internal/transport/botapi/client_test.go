// ABOUTME: Tests for Bot API update normalization and target parsing
// ABOUTME: Network-free; exercises the conversion helpers directly

package botapi

import (
	"context"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/transport"
)

func TestChatID(t *testing.T) {
	assert.Equal(t, int64(-1001234), chatID("-1001234").ID)
	assert.Equal(t, "@news", chatID("news").Username)
	assert.Equal(t, "@news", chatID("@news").Username)
}

func TestConvertUpdate_Message(t *testing.T) {
	msg := convertUpdate(telego.Update{
		Message: &telego.Message{
			MessageID: 7,
			Date:      1700000000,
			Chat:      telego.Chat{ID: 42, Type: telego.ChatTypePrivate, Username: "alice"},
			From:      &telego.User{ID: 42, Username: "alice"},
			Text:      "hi there",
		},
	})
	require.NotNil(t, msg)
	assert.Equal(t, int64(7), msg.ID)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, "hi there", msg.Text)
	assert.Equal(t, "@alice", msg.ChatKey())
	assert.Equal(t, int64(42), msg.SenderID)
	assert.False(t, msg.ChannelPost)
}

func TestConvertUpdate_ChannelPost(t *testing.T) {
	msg := convertUpdate(telego.Update{
		ChannelPost: &telego.Message{
			MessageID: 3,
			Chat:      telego.Chat{ID: -100555, Type: telego.ChatTypeChannel, Title: "News"},
			Caption:   "photo caption",
		},
	})
	require.NotNil(t, msg)
	assert.True(t, msg.ChannelPost)
	assert.Equal(t, "photo caption", msg.Text)
	assert.Equal(t, "-100555", msg.ChatKey())
}

func TestConvertUpdate_IgnoresOtherUpdates(t *testing.T) {
	assert.Nil(t, convertUpdate(telego.Update{UpdateID: 1}))
}

func TestClient_NotConnected(t *testing.T) {
	c := New("123:abc", nil)
	ok, err := c.IsAuthorized(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.SendMessage(context.Background(), "1", "x", transport.SendOptions{})
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.NoError(t, c.Disconnect(context.Background()))
}
