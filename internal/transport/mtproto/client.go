// ABOUTME: MTProto user-session transport for session agents, built on gotd/td
// ABOUTME: Supports the two-step code login, history and participant fetches, and session export

package mtproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/transport"
)

// Config holds the application credentials issued by my.telegram.org.
type Config struct {
	AppID   int
	AppHash string
}

// Client is a transport.SessionTransport over MTProto.
type Client struct {
	cfg     Config
	phone   string
	logger  *slog.Logger
	storage *memorySession

	mu       sync.Mutex
	client   *telegram.Client
	api      *tg.Client
	run      *runState
	codeHash string
	peers    map[int64]tg.InputPeerClass
}

// runState tracks one Run of the underlying client.
type runState struct {
	cancel  context.CancelFunc
	updates chan *transport.Message
	stopped chan struct{}
	err     error // set before stopped is closed
}

// New creates an unconnected Client. session is a previously exported
// session string and may be empty for a first login.
func New(cfg Config, phone, session string, logger *slog.Logger) (*Client, error) {
	if cfg.AppID == 0 || cfg.AppHash == "" {
		return nil, errors.New("telegram api_id and api_hash are required for session agents")
	}
	storage, err := newMemorySession(session)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		phone:   phone,
		logger:  logger.With("component", "mtproto"),
		storage: storage,
		peers:   make(map[int64]tg.InputPeerClass),
	}, nil
}

// Connect starts the MTProto client and returns once the connection is ready.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil {
		return nil
	}

	updates := make(chan *transport.Message, 64)
	runCtx, cancel := context.WithCancel(context.Background())

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		c.publish(runCtx, updates, fromEntities(e), u.Message)
		return nil
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		c.publish(runCtx, updates, fromEntities(e), u.Message)
		return nil
	})

	client := telegram.NewClient(c.cfg.AppID, c.cfg.AppHash, telegram.Options{
		SessionStorage: c.storage,
		UpdateHandler:  dispatcher,
	})

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case <-ready:
	case err := <-done:
		cancel()
		if err == nil {
			err = errors.New("client stopped before becoming ready")
		}
		return fmt.Errorf("connect mtproto: %w", err)
	case <-ctx.Done():
		cancel()
		<-done
		return fmt.Errorf("connect mtproto: %w", ctx.Err())
	}

	rs := &runState{cancel: cancel, updates: updates, stopped: make(chan struct{})}
	c.client = client
	c.api = client.API()
	c.run = rs
	go c.watch(rs, done)

	c.logger.Info("session connected", "phone", maskPhone(c.phone))
	return nil
}

// watch waits for Run to return and then closes the update stream, so a
// dropped session ends the consumer's loop instead of going quiet.
func (c *Client) watch(rs *runState, done <-chan error) {
	err := <-done
	rs.err = err

	c.mu.Lock()
	if c.run == rs {
		c.client, c.api, c.run = nil, nil, nil
	}
	c.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("session dropped", "phone", maskPhone(c.phone), "error", err)
	}
	close(rs.updates)
	close(rs.stopped)
}

func (c *Client) publish(ctx context.Context, out chan<- *transport.Message, e entities, m tg.MessageClass) {
	c.remember(e)
	msg, ok := m.(*tg.Message)
	if !ok {
		return
	}
	select {
	case out <- convertMessage(msg, e):
	case <-ctx.Done():
	}
}

// Disconnect stops the client and closes the updates channel.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	rs := c.run
	c.client, c.api, c.run = nil, nil, nil
	c.mu.Unlock()

	if rs == nil {
		return nil
	}
	rs.cancel()

	select {
	case <-rs.stopped:
		if rs.err != nil && !errors.Is(rs.err, context.Canceled) {
			return fmt.Errorf("mtproto client stopped: %w", rs.err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for mtproto client: %w", ctx.Err())
	}
}

func (c *Client) IsAuthorized(ctx context.Context) (bool, error) {
	client, _, err := c.connected()
	if err != nil {
		return false, err
	}
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return false, fmt.Errorf("auth status: %w", err)
	}
	return status.Authorized, nil
}

func (c *Client) SendMessage(ctx context.Context, target, text string, opts transport.SendOptions) (*transport.SentMessage, error) {
	_, api, err := c.connected()
	if err != nil {
		return nil, err
	}
	peer, err := c.resolvePeer(ctx, api, target)
	if err != nil {
		return nil, err
	}
	if opts.ParseMode != "" {
		c.logger.Debug("parse mode ignored for session transport", "parse_mode", opts.ParseMode)
	}

	upd, err := message.NewSender(api).To(peer).Text(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("send message to %s: %w", target, err)
	}
	return &transport.SentMessage{ID: sentID(upd)}, nil
}

func (c *Client) GetMe(ctx context.Context) (*transport.User, error) {
	client, _, err := c.connected()
	if err != nil {
		return nil, err
	}
	self, err := client.Self(ctx)
	if err != nil {
		return nil, fmt.Errorf("get self: %w", err)
	}
	return convertUser(self), nil
}

func (c *Client) Updates() <-chan *transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return nil
	}
	return c.run.updates
}

func (c *Client) GetMessages(ctx context.Context, target string, limit int) ([]*transport.Message, error) {
	_, api, err := c.connected()
	if err != nil {
		return nil, err
	}
	peer, err := c.resolvePeer(ctx, api, target)
	if err != nil {
		return nil, err
	}

	res, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{Peer: peer, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("get history of %s: %w", target, err)
	}

	var (
		msgs  []tg.MessageClass
		users []tg.UserClass
		chats []tg.ChatClass
	)
	switch r := res.(type) {
	case *tg.MessagesMessages:
		msgs, users, chats = r.Messages, r.Users, r.Chats
	case *tg.MessagesMessagesSlice:
		msgs, users, chats = r.Messages, r.Users, r.Chats
	case *tg.MessagesChannelMessages:
		msgs, users, chats = r.Messages, r.Users, r.Chats
	default:
		return nil, nil
	}

	e := collectEntities(users, chats)
	c.remember(e)

	out := make([]*transport.Message, 0, len(msgs))
	for _, m := range msgs {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, convertMessage(msg, e))
		}
	}
	return out, nil
}

func (c *Client) GetParticipants(ctx context.Context, target string, limit int) ([]*transport.User, error) {
	_, api, err := c.connected()
	if err != nil {
		return nil, err
	}
	channel, err := c.resolveChannel(ctx, api, target)
	if err != nil {
		return nil, err
	}

	res, err := api.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
		Channel: channel,
		Filter:  &tg.ChannelParticipantsRecent{},
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("get participants of %s: %w", target, err)
	}
	participants, ok := res.(*tg.ChannelsChannelParticipants)
	if !ok {
		return nil, nil
	}

	out := make([]*transport.User, 0, len(participants.Users))
	for _, u := range participants.Users {
		if user, ok := u.(*tg.User); ok {
			out = append(out, convertUser(user))
		}
	}
	return out, nil
}

func (c *Client) JoinChat(ctx context.Context, target string) error {
	_, api, err := c.connected()
	if err != nil {
		return err
	}
	channel, err := c.resolveChannel(ctx, api, target)
	if err != nil {
		return err
	}
	if _, err := api.ChannelsJoinChannel(ctx, channel); err != nil {
		return fmt.Errorf("join %s: %w", target, err)
	}
	return nil
}

func (c *Client) LeaveChat(ctx context.Context, target string) error {
	_, api, err := c.connected()
	if err != nil {
		return err
	}
	channel, err := c.resolveChannel(ctx, api, target)
	if err != nil {
		return err
	}
	if _, err := api.ChannelsLeaveChannel(ctx, channel); err != nil {
		return fmt.Errorf("leave %s: %w", target, err)
	}
	return nil
}

// SendCode asks Telegram to deliver a login code to phone.
func (c *Client) SendCode(ctx context.Context, phone string) error {
	client, _, err := c.connected()
	if err != nil {
		return err
	}
	sent, err := client.Auth().SendCode(ctx, phone, auth.SendCodeOptions{})
	if err != nil {
		return fmt.Errorf("send code: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.phone = phone
	switch s := sent.(type) {
	case *tg.AuthSentCode:
		c.codeHash = s.PhoneCodeHash
	case *tg.AuthSentCodeSuccess:
		c.codeHash = ""
	}
	return nil
}

// SignIn completes login with the received code and, when enabled, the 2FA password.
func (c *Client) SignIn(ctx context.Context, code, password string) error {
	client, _, err := c.connected()
	if err != nil {
		return err
	}

	c.mu.Lock()
	phone, hash := c.phone, c.codeHash
	c.mu.Unlock()
	if hash == "" {
		return transport.ErrCodeNotRequested
	}

	_, err = client.Auth().SignIn(ctx, phone, code, hash)
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		if password == "" {
			return transport.ErrPasswordRequired
		}
		_, err = client.Auth().Password(ctx, password)
	}
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	return nil
}

// ExportSession returns the session as a base64 string.
func (c *Client) ExportSession() (string, error) {
	return c.storage.Export(), nil
}

func (c *Client) connected() (*telegram.Client, *tg.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, nil, transport.ErrNotConnected
	}
	return c.client, c.api, nil
}

// resolvePeer accepts a username, a t.me link, or a numeric id seen in an earlier update.
func (c *Client) resolvePeer(ctx context.Context, api *tg.Client, target string) (tg.InputPeerClass, error) {
	target = strings.TrimSpace(target)
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		c.mu.Lock()
		peer, ok := c.peers[id]
		c.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("resolve %s: chat id not seen yet, use a username", target)
		}
		return peer, nil
	}
	peer, err := message.NewSender(api).Resolve(target).AsInputPeer(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target, err)
	}
	return peer, nil
}

func (c *Client) resolveChannel(ctx context.Context, api *tg.Client, target string) (tg.InputChannelClass, error) {
	peer, err := c.resolvePeer(ctx, api, target)
	if err != nil {
		return nil, err
	}
	ch, ok := peer.(*tg.InputPeerChannel)
	if !ok {
		return nil, fmt.Errorf("resolve %s: not a channel or supergroup", target)
	}
	return &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash}, nil
}

// remember caches input peers so numeric chat ids from updates can be addressed later.
func (c *Client) remember(e entities) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, u := range e.users {
		c.peers[id] = &tg.InputPeerUser{UserID: id, AccessHash: u.AccessHash}
	}
	for id := range e.chats {
		c.peers[id] = &tg.InputPeerChat{ChatID: id}
	}
	for id, ch := range e.channels {
		c.peers[id] = &tg.InputPeerChannel{ChannelID: id, AccessHash: ch.AccessHash}
	}
}

type entities struct {
	users    map[int64]*tg.User
	chats    map[int64]*tg.Chat
	channels map[int64]*tg.Channel
}

func fromEntities(e tg.Entities) entities {
	return entities{users: e.Users, chats: e.Chats, channels: e.Channels}
}

func collectEntities(users []tg.UserClass, chats []tg.ChatClass) entities {
	e := entities{
		users:    make(map[int64]*tg.User),
		chats:    make(map[int64]*tg.Chat),
		channels: make(map[int64]*tg.Channel),
	}
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			e.users[user.ID] = user
		}
	}
	for _, ch := range chats {
		switch v := ch.(type) {
		case *tg.Chat:
			e.chats[v.ID] = v
		case *tg.Channel:
			e.channels[v.ID] = v
		}
	}
	return e
}

func convertMessage(m *tg.Message, e entities) *transport.Message {
	out := &transport.Message{
		ID:       int64(m.ID),
		Text:     m.Message,
		Outgoing: m.Out,
		Date:     time.Unix(int64(m.Date), 0).UTC(),
	}

	switch p := m.PeerID.(type) {
	case *tg.PeerUser:
		out.ChatID = p.UserID
		if u, ok := e.users[p.UserID]; ok {
			out.ChatUsername = u.Username
			out.ChatTitle = strings.TrimSpace(u.FirstName + " " + u.LastName)
		}
	case *tg.PeerChat:
		out.ChatID = p.ChatID
		if ch, ok := e.chats[p.ChatID]; ok {
			out.ChatTitle = ch.Title
		}
	case *tg.PeerChannel:
		out.ChatID = p.ChannelID
		out.ChannelPost = m.Post
		if ch, ok := e.channels[p.ChannelID]; ok {
			out.ChatUsername = ch.Username
			out.ChatTitle = ch.Title
		}
	}

	if from, ok := m.GetFromID(); ok {
		if pu, ok := from.(*tg.PeerUser); ok {
			out.SenderID = pu.UserID
			if u, ok := e.users[pu.UserID]; ok {
				out.SenderUsername = u.Username
			}
		}
	} else if _, ok := m.PeerID.(*tg.PeerUser); ok && !m.Out {
		out.SenderID = out.ChatID
		out.SenderUsername = out.ChatUsername
	}
	return out
}

func convertUser(u *tg.User) *transport.User {
	return &transport.User{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
		IsBot:     u.Bot,
	}
}

func sentID(upd tg.UpdatesClass) int64 {
	switch u := upd.(type) {
	case *tg.UpdateShortSentMessage:
		return int64(u.ID)
	case *tg.Updates:
		for _, x := range u.Updates {
			if m, ok := x.(*tg.UpdateMessageID); ok {
				return int64(m.ID)
			}
		}
	}
	return 0
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "***"
	}
	return phone[:len(phone)-4] + "****"
}

var _ transport.SessionTransport = (*Client)(nil)
