// ABOUTME: Tagged behavior configuration union persisted with each agent
// ABOUTME: Encodes as {"type": ..., "config": {...}} with one statically typed payload per kind

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// ErrInvalidBehavior is returned when a behavior definition is malformed
var ErrInvalidBehavior = errors.New("invalid behavior")

// BehaviorKind tags which payload a Behavior carries
type BehaviorKind string

const (
	KindAutoReply BehaviorKind = "auto_reply"
	KindMonitor   BehaviorKind = "monitor"
	KindBroadcast BehaviorKind = "broadcast"
	KindParser    BehaviorKind = "parser"
)

// Reply modes for auto_reply
const (
	ReplyModeAI       = "ai"
	ReplyModeTemplate = "template"
)

// Defaults applied when optional fields are left zero
const (
	DefaultBroadcastDelayMs = 1000
	DefaultParserLimit      = 100
)

// ReplyTemplate maps a trigger substring to a canned response
type ReplyTemplate struct {
	Trigger  string `json:"trigger"`
	Response string `json:"response"`
}

// AutoReplyConfig answers inbound messages from templates or the completion provider
type AutoReplyConfig struct {
	Enabled         bool            `json:"enabled"`
	ReplyMode       string          `json:"replyMode"`
	AISystemPrompt  string          `json:"aiSystemPrompt,omitempty"`
	TriggerKeywords []string        `json:"triggerKeywords,omitempty"`
	Templates       []ReplyTemplate `json:"templates,omitempty"`
	OnlyInChats     []string        `json:"onlyInChats,omitempty"`
	CooldownSeconds int             `json:"cooldownSeconds,omitempty"`
}

// MonitorFilters narrows which posts a monitor captures
type MonitorFilters struct {
	Keywords []string `json:"keywords,omitempty"`
}

// MonitorConfig captures posts from watched chats
type MonitorConfig struct {
	Enabled    bool           `json:"enabled"`
	Targets    []string       `json:"targets"`
	Filters    MonitorFilters `json:"filters,omitzero"`
	WebhookURL string         `json:"webhookUrl,omitempty"`
	SaveToDB   bool           `json:"saveToDb,omitempty"`
}

// BroadcastConfig sends one message to many targets, once or on a cron schedule
type BroadcastConfig struct {
	Enabled        bool     `json:"enabled"`
	Targets        []string `json:"targets"`
	Message        string   `json:"message"`
	Schedule       string   `json:"schedule,omitempty"`
	ParseMode      string   `json:"parseMode,omitempty"`
	DelayBetweenMs int      `json:"delayBetweenMs,omitempty"`
	OnlyOnce       bool     `json:"onlyOnce,omitempty"`
}

// Delay returns the inter-send delay in milliseconds, applying the default.
func (c *BroadcastConfig) Delay() int {
	if c.DelayBetweenMs <= 0 {
		return DefaultBroadcastDelayMs
	}
	return c.DelayBetweenMs
}

// ParserConfig bulk-fetches history and members from targets once
type ParserConfig struct {
	Enabled       bool     `json:"enabled"`
	Targets       []string `json:"targets"`
	ParseMessages *bool    `json:"parseMessages,omitempty"`
	ParseMembers  *bool    `json:"parseMembers,omitempty"`
	Limit         int      `json:"limit,omitempty"`
	WebhookURL    string   `json:"webhookUrl,omitempty"`
	SaveToDB      bool     `json:"saveToDb,omitempty"`
}

// WantMessages reports whether message history should be fetched (default true).
func (c *ParserConfig) WantMessages() bool {
	return c.ParseMessages == nil || *c.ParseMessages
}

// WantMembers reports whether participants should be fetched (default false).
func (c *ParserConfig) WantMembers() bool {
	return c.ParseMembers != nil && *c.ParseMembers
}

// FetchLimit returns the per-target fetch limit, applying the default.
func (c *ParserConfig) FetchLimit() int {
	if c.Limit <= 0 {
		return DefaultParserLimit
	}
	return c.Limit
}

// Behavior is a tagged union. Exactly one payload pointer matching Kind is set.
type Behavior struct {
	Kind      BehaviorKind
	AutoReply *AutoReplyConfig
	Monitor   *MonitorConfig
	Broadcast *BroadcastConfig
	Parser    *ParserConfig
}

// NewAutoReply wraps cfg as a Behavior.
func NewAutoReply(cfg AutoReplyConfig) Behavior {
	return Behavior{Kind: KindAutoReply, AutoReply: &cfg}
}

// NewMonitor wraps cfg as a Behavior.
func NewMonitor(cfg MonitorConfig) Behavior {
	return Behavior{Kind: KindMonitor, Monitor: &cfg}
}

// NewBroadcast wraps cfg as a Behavior.
func NewBroadcast(cfg BroadcastConfig) Behavior {
	return Behavior{Kind: KindBroadcast, Broadcast: &cfg}
}

// NewParser wraps cfg as a Behavior.
func NewParser(cfg ParserConfig) Behavior {
	return Behavior{Kind: KindParser, Parser: &cfg}
}

// Enabled reports the enabled flag of whichever payload is set.
func (b Behavior) Enabled() bool {
	switch b.Kind {
	case KindAutoReply:
		return b.AutoReply != nil && b.AutoReply.Enabled
	case KindMonitor:
		return b.Monitor != nil && b.Monitor.Enabled
	case KindBroadcast:
		return b.Broadcast != nil && b.Broadcast.Enabled
	case KindParser:
		return b.Parser != nil && b.Parser.Enabled
	}
	return false
}

// Clone returns a deep copy so callers never share payload pointers.
func (b Behavior) Clone() Behavior {
	out := Behavior{Kind: b.Kind}
	switch b.Kind {
	case KindAutoReply:
		if b.AutoReply != nil {
			c := *b.AutoReply
			c.TriggerKeywords = cloneStrings(c.TriggerKeywords)
			c.OnlyInChats = cloneStrings(c.OnlyInChats)
			if c.Templates != nil {
				c.Templates = append([]ReplyTemplate(nil), c.Templates...)
			}
			out.AutoReply = &c
		}
	case KindMonitor:
		if b.Monitor != nil {
			c := *b.Monitor
			c.Targets = cloneStrings(c.Targets)
			c.Filters.Keywords = cloneStrings(c.Filters.Keywords)
			out.Monitor = &c
		}
	case KindBroadcast:
		if b.Broadcast != nil {
			c := *b.Broadcast
			c.Targets = cloneStrings(c.Targets)
			out.Broadcast = &c
		}
	case KindParser:
		if b.Parser != nil {
			c := *b.Parser
			c.Targets = cloneStrings(c.Targets)
			c.ParseMessages = cloneBool(c.ParseMessages)
			c.ParseMembers = cloneBool(c.ParseMembers)
			out.Parser = &c
		}
	}
	return out
}

// cronParser matches the field set accepted by the scheduler.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the tag and payload agree and required fields are present.
func (b Behavior) Validate() error {
	set := 0
	for _, p := range []bool{b.AutoReply != nil, b.Monitor != nil, b.Broadcast != nil, b.Parser != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %s must carry exactly one config", ErrInvalidBehavior, b.Kind)
	}

	switch b.Kind {
	case KindAutoReply:
		if b.AutoReply == nil {
			return fmt.Errorf("%w: auto_reply config missing", ErrInvalidBehavior)
		}
		switch b.AutoReply.ReplyMode {
		case ReplyModeAI, ReplyModeTemplate:
		default:
			return fmt.Errorf("%w: auto_reply replyMode must be %q or %q", ErrInvalidBehavior, ReplyModeAI, ReplyModeTemplate)
		}
		if b.AutoReply.CooldownSeconds < 0 {
			return fmt.Errorf("%w: auto_reply cooldownSeconds must not be negative", ErrInvalidBehavior)
		}
	case KindMonitor:
		if b.Monitor == nil {
			return fmt.Errorf("%w: monitor config missing", ErrInvalidBehavior)
		}
	case KindBroadcast:
		if b.Broadcast == nil {
			return fmt.Errorf("%w: broadcast config missing", ErrInvalidBehavior)
		}
		if b.Broadcast.Message == "" {
			return fmt.Errorf("%w: broadcast message is required", ErrInvalidBehavior)
		}
		if b.Broadcast.Schedule != "" {
			if _, err := cronParser.Parse(b.Broadcast.Schedule); err != nil {
				return fmt.Errorf("%w: broadcast schedule %q: %v", ErrInvalidBehavior, b.Broadcast.Schedule, err)
			}
		}
	case KindParser:
		if b.Parser == nil {
			return fmt.Errorf("%w: parser config missing", ErrInvalidBehavior)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidBehavior, b.Kind)
	}
	return nil
}

// behaviorWire is the persisted JSON shape.
type behaviorWire struct {
	Type   BehaviorKind    `json:"type"`
	Config json.RawMessage `json:"config"`
}

// MarshalJSON encodes the behavior as {"type", "config"}.
func (b Behavior) MarshalJSON() ([]byte, error) {
	var cfg any
	switch b.Kind {
	case KindAutoReply:
		cfg = b.AutoReply
	case KindMonitor:
		cfg = b.Monitor
	case KindBroadcast:
		cfg = b.Broadcast
	case KindParser:
		cfg = b.Parser
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidBehavior, b.Kind)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s config: %w", b.Kind, err)
	}
	return json.Marshal(behaviorWire{Type: b.Kind, Config: raw})
}

// UnmarshalJSON decodes {"type", "config"} into the matching payload.
func (b *Behavior) UnmarshalJSON(data []byte) error {
	var w behaviorWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	cfg := w.Config
	if len(cfg) == 0 || string(cfg) == "null" {
		cfg = []byte("{}")
	}

	out := Behavior{Kind: w.Type}
	var target any
	switch w.Type {
	case KindAutoReply:
		out.AutoReply = &AutoReplyConfig{}
		target = out.AutoReply
	case KindMonitor:
		out.Monitor = &MonitorConfig{}
		target = out.Monitor
	case KindBroadcast:
		out.Broadcast = &BroadcastConfig{}
		target = out.Broadcast
	case KindParser:
		out.Parser = &ParserConfig{}
		target = out.Parser
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidBehavior, w.Type)
	}
	if err := json.Unmarshal(cfg, target); err != nil {
		return fmt.Errorf("decoding %s config: %w", w.Type, err)
	}
	*b = out
	return nil
}

// Behaviors is an agent's ordered behavior list. It is always replaced wholesale.
type Behaviors []Behavior

// Find returns the first behavior of the given kind.
func (bs Behaviors) Find(kind BehaviorKind) (Behavior, bool) {
	for _, b := range bs {
		if b.Kind == kind {
			return b, true
		}
	}
	return Behavior{}, false
}

// Clone deep-copies the list.
func (bs Behaviors) Clone() Behaviors {
	if bs == nil {
		return nil
	}
	out := make(Behaviors, len(bs))
	for i, b := range bs {
		out[i] = b.Clone()
	}
	return out
}

// Validate checks every entry.
func (bs Behaviors) Validate() error {
	for i, b := range bs {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("behavior %d: %w", i, err)
		}
	}
	return nil
}

// encodeBehaviors serializes a list for a TEXT/JSONB column.
func encodeBehaviors(bs Behaviors) (string, error) {
	if bs == nil {
		bs = Behaviors{}
	}
	data, err := json.Marshal(bs)
	if err != nil {
		return "", fmt.Errorf("encoding behaviors: %w", err)
	}
	return string(data), nil
}

// decodeBehaviors parses a stored list.
func decodeBehaviors(s string) (Behaviors, error) {
	if strings.TrimSpace(s) == "" {
		return Behaviors{}, nil
	}
	var bs Behaviors
	if err := json.Unmarshal([]byte(s), &bs); err != nil {
		return nil, fmt.Errorf("decoding behaviors: %w", err)
	}
	return bs, nil
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
