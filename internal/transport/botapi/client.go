// ABOUTME: Bot API transport for token agents, built on telego long polling
// ABOUTME: Verifies the token with bounded retries on connect and normalizes updates into transport.Message

package botapi

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/transport"
)

// pollTimeoutSeconds is the long-poll wait passed to getUpdates.
const pollTimeoutSeconds = 30

// Client is a transport.Transport over the Telegram Bot API.
// A Client may be connected once; token agents build a fresh Client per connection.
type Client struct {
	token  string
	logger *slog.Logger

	mu      sync.Mutex
	bot     *telego.Bot
	me      *telego.User
	updates chan *transport.Message
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an unconnected Client.
func New(token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		token:  token,
		logger: logger.With("component", "botapi"),
	}
}

// Connect validates the token with getMe and starts long polling.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bot != nil {
		return nil
	}

	bot, err := telego.NewBot(c.token)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	var me *telego.User
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			return retry.BackOffDelay(n, err, config)
		}),
	)
	if err := r.Do(func() error {
		var callErr error
		me, callErr = bot.GetMe(ctx)
		return callErr
	}); err != nil {
		return fmt.Errorf("verify bot token: %w", err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	raw, err := bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout: pollTimeoutSeconds,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.bot = bot
	c.me = me
	c.cancel = cancel
	c.updates = make(chan *transport.Message)
	c.done = make(chan struct{})
	go c.forward(pollCtx, raw, c.updates, c.done)

	c.logger.Info("bot connected", "username", me.Username, "id", me.ID)
	return nil
}

func (c *Client) forward(ctx context.Context, raw <-chan telego.Update, out chan<- *transport.Message, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	for update := range raw {
		msg := convertUpdate(update)
		if msg == nil {
			continue
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Disconnect stops polling and closes the updates channel.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.bot = nil
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for polling to stop: %w", ctx.Err())
	}
}

// IsAuthorized is true once the token has been verified.
func (c *Client) IsAuthorized(_ context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bot != nil && c.me != nil, nil
}

func (c *Client) SendMessage(ctx context.Context, target, text string, opts transport.SendOptions) (*transport.SentMessage, error) {
	bot, err := c.connected()
	if err != nil {
		return nil, err
	}

	params := tu.Message(chatID(target), text)
	if opts.ParseMode != "" {
		params.ParseMode = opts.ParseMode
	}
	sent, err := bot.SendMessage(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", target, err)
	}
	return &transport.SentMessage{ID: int64(sent.MessageID), ChatID: sent.Chat.ID}, nil
}

func (c *Client) GetMe(ctx context.Context) (*transport.User, error) {
	bot, err := c.connected()
	if err != nil {
		return nil, err
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("get me: %w", err)
	}
	return convertUser(me), nil
}

func (c *Client) Updates() <-chan *transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates
}

func (c *Client) connected() (*telego.Bot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bot == nil {
		return nil, transport.ErrNotConnected
	}
	return c.bot, nil
}

// chatID accepts a numeric chat id or a public username with or without "@".
func chatID(target string) telego.ChatID {
	target = strings.TrimSpace(target)
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		return tu.ID(id)
	}
	return tu.Username("@" + strings.TrimPrefix(target, "@"))
}

func convertUpdate(update telego.Update) *transport.Message {
	m := update.Message
	post := false
	if m == nil {
		m = update.ChannelPost
		post = true
	}
	if m == nil {
		return nil
	}

	msg := &transport.Message{
		ID:           int64(m.MessageID),
		ChatID:       m.Chat.ID,
		ChatUsername: m.Chat.Username,
		ChatTitle:    m.Chat.Title,
		Text:         m.Text,
		ChannelPost:  post || m.Chat.Type == telego.ChatTypeChannel,
		Date:         time.Unix(m.Date, 0).UTC(),
	}
	if msg.Text == "" {
		msg.Text = m.Caption
	}
	if m.From != nil {
		msg.SenderID = m.From.ID
		msg.SenderUsername = m.From.Username
	}
	return msg
}

func convertUser(u *telego.User) *transport.User {
	return &transport.User{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsBot:     u.IsBot,
	}
}

var _ transport.Transport = (*Client)(nil)
