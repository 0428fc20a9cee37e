// ABOUTME: Store interface and data types for openclaw persistence
// ABOUTME: Defines AgentRecord, Credentials, Event, ParsedItem and the Store contract

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidCredentials is returned when a credential payload does not match its kind
var ErrInvalidCredentials = errors.New("invalid credentials")

// Status is the lifecycle state of an agent
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
)

// Valid reports whether s is one of the defined lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusStopped, StatusStarting, StatusRunning, StatusError:
		return true
	}
	return false
}

// CredentialKind tags the credential variant. It never changes after creation.
type CredentialKind string

const (
	CredentialToken   CredentialKind = "token"
	CredentialSession CredentialKind = "session"
)

// Credentials holds the variant payload for an agent identity.
// Token agents use Token; session agents use Phone and an optional Session export.
type Credentials struct {
	Kind    CredentialKind `json:"type"`
	Token   string         `json:"token,omitempty"`
	Phone   string         `json:"phone,omitempty"`
	Session string         `json:"session,omitempty"`
}

// Validate checks the payload matches the declared kind.
func (c Credentials) Validate() error {
	switch c.Kind {
	case CredentialToken:
		if strings.TrimSpace(c.Token) == "" {
			return fmt.Errorf("%w: token is required", ErrInvalidCredentials)
		}
		if c.Phone != "" || c.Session != "" {
			return fmt.Errorf("%w: token credentials cannot carry phone or session", ErrInvalidCredentials)
		}
	case CredentialSession:
		if strings.TrimSpace(c.Phone) == "" {
			return fmt.Errorf("%w: phone is required", ErrInvalidCredentials)
		}
		if c.Token != "" {
			return fmt.Errorf("%w: session credentials cannot carry a token", ErrInvalidCredentials)
		}
	default:
		return fmt.Errorf("%w: unknown credential type %q", ErrInvalidCredentials, c.Kind)
	}
	return nil
}

// tokenVisiblePrefix is how many leading characters of a token survive masking.
const tokenVisiblePrefix = 10

// Masked returns a copy safe to hand to external readers.
func (c Credentials) Masked() Credentials {
	out := c
	if out.Token != "" {
		if len(out.Token) > tokenVisiblePrefix {
			out.Token = out.Token[:tokenVisiblePrefix] + "***"
		} else {
			out.Token = "***"
		}
	}
	if out.Session != "" {
		out.Session = "***"
	}
	return out
}

// Stats holds the per-agent message counters
type Stats struct {
	Sent     int64 `json:"sent"`
	Received int64 `json:"received"`
	Parsed   int64 `json:"parsed"`
}

// StatField names one of the Stats counters
type StatField string

const (
	StatSent     StatField = "sent"
	StatReceived StatField = "received"
	StatParsed   StatField = "parsed"
)

// column maps a stat field to its database column.
func (f StatField) column() (string, error) {
	switch f {
	case StatSent:
		return "stat_sent", nil
	case StatReceived:
		return "stat_received", nil
	case StatParsed:
		return "stat_parsed", nil
	}
	return "", fmt.Errorf("unknown stat field %q", f)
}

// AgentRecord is the durable identity and state of one agent
type AgentRecord struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Credentials Credentials `json:"credentials"`
	Status      Status      `json:"status"`
	Behaviors   Behaviors   `json:"behaviors"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	LastError   string      `json:"last_error,omitempty"`
	Stats       Stats       `json:"stats"`
}

// Clone returns a deep copy of the record.
func (r *AgentRecord) Clone() *AgentRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Behaviors = r.Behaviors.Clone()
	return &out
}

// Masked returns a deep copy with credentials masked for external reads.
func (r *AgentRecord) Masked() *AgentRecord {
	out := r.Clone()
	if out != nil {
		out.Credentials = out.Credentials.Masked()
	}
	return out
}

// ParsedItem is one captured message or member, append-only
type ParsedItem struct {
	ID         int64     `json:"id"`
	AgentID    string    `json:"agent_id"`
	Source     string    `json:"source"`
	DataType   string    `json:"data_type"`
	Content    string    `json:"content"`
	CapturedAt time.Time `json:"captured_at"`
}

// Parsed item data types
const (
	DataTypeMessage = "message"
	DataTypeMember  = "member"
)

// Store defines the persistence contract for agents, events and parsed items.
// Each call is atomic: a record update is observable in full or not at all.
type Store interface {
	// Agents
	SaveAgent(ctx context.Context, rec *AgentRecord) error
	GetAgent(ctx context.Context, id string) (*AgentRecord, error)
	GetAllAgents(ctx context.Context) ([]*AgentRecord, error)
	UpdateStatus(ctx context.Context, id string, status Status, lastError string) error
	UpdateBehaviors(ctx context.Context, id string, behaviors Behaviors) error
	UpdateSession(ctx context.Context, id string, session string) error
	IncrementStat(ctx context.Context, id string, field StatField) error
	DeleteAgent(ctx context.Context, id string) error

	// Event log
	SaveEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, agentID string, limit int) ([]*Event, error)

	// Parsed items
	SaveParsed(ctx context.Context, item *ParsedItem) error
	GetParsed(ctx context.Context, agentID string, limit int) ([]*ParsedItem, error)

	Close() error
}

// clampLimit applies the default and ceiling used by list queries.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
