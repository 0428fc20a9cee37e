// ABOUTME: Transport capability contracts for token (bot API) and session (user account) agents
// ABOUTME: Defines the normalized Message and User types every adapter produces

package transport

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Transport errors
var (
	ErrNotConnected     = errors.New("transport not connected")
	ErrPasswordRequired = errors.New("two-factor password required")
	ErrCodeNotRequested = errors.New("verification code was not requested")
)

// Message is an inbound or fetched message normalized across transports.
type Message struct {
	ID             int64     `json:"id"`
	ChatID         int64     `json:"chat_id"`
	ChatUsername   string    `json:"chat_username,omitempty"`
	ChatTitle      string    `json:"chat_title,omitempty"`
	SenderID       int64     `json:"sender_id,omitempty"`
	SenderUsername string    `json:"sender_username,omitempty"`
	Text           string    `json:"text"`
	Outgoing       bool      `json:"outgoing,omitempty"`
	ChannelPost    bool      `json:"channel_post,omitempty"`
	Date           time.Time `json:"date"`
}

// ChatKey identifies the chat: "@username" when public, the numeric id otherwise.
func (m *Message) ChatKey() string {
	if m.ChatUsername != "" {
		return "@" + m.ChatUsername
	}
	return strconv.FormatInt(m.ChatID, 10)
}

// MatchesChat reports whether target names this message's chat.
// Usernames compare case-insensitively with an optional leading "@".
func (m *Message) MatchesChat(target string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return false
	}
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		return id == m.ChatID
	}
	name := strings.TrimPrefix(target, "@")
	name = strings.TrimPrefix(name, "https://t.me/")
	name = strings.TrimPrefix(name, "t.me/")
	return m.ChatUsername != "" && strings.EqualFold(name, m.ChatUsername)
}

// User is a self-info or participant record.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	IsBot     bool   `json:"is_bot,omitempty"`
}

// SendOptions tunes an outbound message.
type SendOptions struct {
	ParseMode string // "HTML", "Markdown", "MarkdownV2" or empty for plain text
}

// SentMessage identifies a delivered message when the transport reports it.
type SentMessage struct {
	ID     int64 `json:"id"`
	ChatID int64 `json:"chat_id"`
}

// Transport is the capability shared by every credential variant.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsAuthorized(ctx context.Context) (bool, error)
	SendMessage(ctx context.Context, target, text string, opts SendOptions) (*SentMessage, error)
	GetMe(ctx context.Context) (*User, error)
	// Updates yields inbound messages in transport order. The channel belongs
	// to the current connection and is closed by Disconnect.
	Updates() <-chan *Message
}

// SessionTransport adds the user-account capabilities.
type SessionTransport interface {
	Transport
	GetMessages(ctx context.Context, target string, limit int) ([]*Message, error)
	GetParticipants(ctx context.Context, target string, limit int) ([]*User, error)
	JoinChat(ctx context.Context, target string) error
	LeaveChat(ctx context.Context, target string) error
	SendCode(ctx context.Context, phone string) error
	// SignIn completes login. It returns ErrPasswordRequired when two-factor
	// auth is enabled and password is empty.
	SignIn(ctx context.Context, code, password string) error
	// ExportSession returns the current session string, empty if none.
	ExportSession() (string, error)
}
