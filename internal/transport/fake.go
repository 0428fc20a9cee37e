// ABOUTME: In-memory Transport for tests that records sends and lets callers inject inbound messages
// ABOUTME: Implements SessionTransport so it can stand in for either credential variant

package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// fakeBuffer bounds undelivered inbound messages per connection.
const fakeBuffer = 64

// Sent is one SendMessage call recorded by Fake.
type Sent struct {
	Target string
	Text   string
	Opts   SendOptions
}

// Fake is a scriptable transport.
//
// Connect and Disconnect leave earlier update channels open so one Fake can
// back several agents at once. Drop closes the live channel the way a dead
// session does.
type Fake struct {
	mu sync.Mutex

	me           User
	authorized   bool
	connected    bool
	updates      chan *Message
	connectErr   error
	sendErrs     map[string]error
	session      string
	code         string
	password     string
	codePhone    string
	history      map[string][]*Message
	participants map[string][]*User

	sent        []Sent
	joined      []string
	left        []string
	connects    int
	disconnects int
	nextID      int64
}

// NewFake returns an authorized fake transport.
func NewFake() *Fake {
	return &Fake{
		me:           User{ID: 1, Username: "fake_bot", FirstName: "Fake", IsBot: true},
		authorized:   true,
		sendErrs:     make(map[string]error),
		history:      make(map[string][]*Message),
		participants: make(map[string][]*User),
	}
}

// SetMe sets the identity returned by GetMe.
func (f *Fake) SetMe(u User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.me = u
}

// SetAuthorized controls IsAuthorized.
func (f *Fake) SetAuthorized(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorized = v
}

// FailConnect makes subsequent Connect calls return err. nil clears it.
func (f *Fake) FailConnect(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

// FailSend makes sends to target return err. nil clears it.
func (f *Fake) FailSend(target string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.sendErrs, target)
		return
	}
	f.sendErrs[target] = err
}

// SetSession sets the value ExportSession reports.
func (f *Fake) SetSession(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = s
}

// ExpectCode makes SignIn accept only code. Empty accepts anything.
func (f *Fake) ExpectCode(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code = code
}

// RequirePassword enables two-factor auth with the given password.
func (f *Fake) RequirePassword(password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.password = password
}

// SetHistory sets what GetMessages returns for target.
func (f *Fake) SetHistory(target string, msgs []*Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[target] = msgs
}

// SetParticipants sets what GetParticipants returns for target.
func (f *Fake) SetParticipants(target string, users []*User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants[target] = users
}

// Deliver queues an inbound message on the current connection.
func (f *Fake) Deliver(msg *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	if msg.Date.IsZero() {
		msg.Date = time.Now()
	}
	select {
	case f.updates <- msg:
		return nil
	default:
		return errors.New("fake updates buffer full")
	}
}

// Sent returns every recorded send in call order.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

// SentTo returns the texts sent to target.
func (f *Fake) SentTo(target string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.Target == target {
			out = append(out, s.Text)
		}
	}
	return out
}

// Connects returns how many times Connect succeeded.
func (f *Fake) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

// Disconnects returns how many times Disconnect closed a live connection.
func (f *Fake) Disconnects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// Connected reports whether a connection is open.
func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Joined returns the targets passed to JoinChat.
func (f *Fake) Joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.joined)
}

// Left returns the targets passed to LeaveChat.
func (f *Fake) Left() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.left)
}

// CodeRequestedFor returns the phone passed to the last SendCode.
func (f *Fake) CodeRequestedFor() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codePhone
}

func (f *Fake) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.updates = make(chan *Message, fakeBuffer)
	f.connected = true
	f.connects++
	return nil
}

func (f *Fake) Disconnect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil
	}
	f.updates = nil
	f.connected = false
	f.disconnects++
	return nil
}

// Drop closes the live update stream and marks the fake disconnected.
func (f *Fake) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return
	}
	close(f.updates)
	f.updates = nil
	f.connected = false
}

func (f *Fake) IsAuthorized(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return false, ErrNotConnected
	}
	return f.authorized, nil
}

func (f *Fake) SendMessage(_ context.Context, target, text string, opts SendOptions) (*SentMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, ErrNotConnected
	}
	if err := f.sendErrs[target]; err != nil {
		return nil, err
	}
	f.sent = append(f.sent, Sent{Target: target, Text: text, Opts: opts})
	f.nextID++
	return &SentMessage{ID: f.nextID}, nil
}

func (f *Fake) GetMe(_ context.Context) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, ErrNotConnected
	}
	me := f.me
	return &me, nil
}

// Updates returns the current connection's inbound channel, nil when disconnected.
func (f *Fake) Updates() <-chan *Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil
	}
	return f.updates
}

func (f *Fake) GetMessages(_ context.Context, target string, limit int) ([]*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, ErrNotConnected
	}
	msgs, ok := f.history[target]
	if !ok {
		return nil, fmt.Errorf("resolve %s: chat not found", target)
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return slices.Clone(msgs), nil
}

func (f *Fake) GetParticipants(_ context.Context, target string, limit int) ([]*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, ErrNotConnected
	}
	users, ok := f.participants[target]
	if !ok {
		return nil, fmt.Errorf("resolve %s: chat not found", target)
	}
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return slices.Clone(users), nil
}

func (f *Fake) JoinChat(_ context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	f.joined = append(f.joined, target)
	return nil
}

func (f *Fake) LeaveChat(_ context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	f.left = append(f.left, target)
	return nil
}

func (f *Fake) SendCode(_ context.Context, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	f.codePhone = phone
	return nil
}

func (f *Fake) SignIn(_ context.Context, code, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	if f.codePhone == "" {
		return ErrCodeNotRequested
	}
	if f.code != "" && code != f.code {
		return errors.New("phone code invalid")
	}
	if f.password != "" {
		if password == "" {
			return ErrPasswordRequired
		}
		if password != f.password {
			return errors.New("password invalid")
		}
	}
	f.authorized = true
	if f.session == "" {
		f.session = "session:" + f.codePhone
	}
	return nil
}

func (f *Fake) ExportSession() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

var _ SessionTransport = (*Fake)(nil)
