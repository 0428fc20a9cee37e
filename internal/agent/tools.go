// ABOUTME: Imperative tool calls that run a single transport operation outside the behavior system
// ABOUTME: Send and self-info work for every agent; fetch and membership tools need a session agent

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/store"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/transport"
)

// Tool names
const (
	ToolSendMessage     = "send_message"
	ToolGetMe           = "get_me"
	ToolGetMessages     = "get_messages"
	ToolGetParticipants = "get_participants"
	ToolJoinChat        = "join_chat"
	ToolLeaveChat       = "leave_chat"
)

// sessionTools need transport.SessionTransport.
var sessionTools = map[string]bool{
	ToolGetMessages:     true,
	ToolGetParticipants: true,
	ToolJoinChat:        true,
	ToolLeaveChat:       true,
}

// Tools lists every tool name in a stable order.
func Tools() []string {
	return []string{ToolSendMessage, ToolGetMe, ToolGetMessages, ToolGetParticipants, ToolJoinChat, ToolLeaveChat}
}

type sendMessageArgs struct {
	Target    string `json:"target"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type targetArgs struct {
	Target string `json:"target"`
	Limit  int    `json:"limit,omitempty"`
}

// ToolResult is returned by membership tools that carry no data.
type ToolResult struct {
	OK     bool   `json:"ok"`
	Target string `json:"target"`
}

// CallTool runs one tool against the live transport.
func (a *Agent) CallTool(ctx context.Context, name string, args json.RawMessage) (any, error) {
	known := name == ToolSendMessage || name == ToolGetMe || sessionTools[name]
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	a.mu.RLock()
	gen, conn, status := a.gen, a.conn, a.rec.Status
	a.mu.RUnlock()

	if sessionTools[name] && a.cred.kind() != store.CredentialSession {
		return nil, fmt.Errorf("%s: %w", name, ErrUnsupported)
	}
	if status != store.StatusRunning || conn == nil {
		return nil, ErrNotRunning
	}
	var st transport.SessionTransport
	if sessionTools[name] {
		var err error
		if st, err = a.cred.session(conn); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	switch name {
	case ToolSendMessage:
		var in sendMessageArgs
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		if in.Target == "" || in.Text == "" {
			return nil, fmt.Errorf("%w: target and text are required", ErrInvalidArgument)
		}
		sent, err := conn.SendMessage(ctx, in.Target, in.Text, transport.SendOptions{ParseMode: in.ParseMode})
		if err != nil {
			return nil, transportErr("send message", err)
		}
		a.recordOutbound(ctx, gen, in.Target, in.Text)
		return sent, nil

	case ToolGetMe:
		me, err := conn.GetMe(ctx)
		if err != nil {
			return nil, transportErr("get me", err)
		}
		return me, nil
	}

	var in targetArgs
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Target == "" {
		return nil, fmt.Errorf("%w: target is required", ErrInvalidArgument)
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 100
	}

	switch name {
	case ToolGetMessages:
		msgs, err := st.GetMessages(ctx, in.Target, limit)
		if err != nil {
			return nil, transportErr("get messages", err)
		}
		return msgs, nil
	case ToolGetParticipants:
		users, err := st.GetParticipants(ctx, in.Target, limit)
		if err != nil {
			return nil, transportErr("get participants", err)
		}
		return users, nil
	case ToolJoinChat:
		if err := st.JoinChat(ctx, in.Target); err != nil {
			return nil, transportErr("join chat", err)
		}
		return ToolResult{OK: true, Target: in.Target}, nil
	default:
		if err := st.LeaveChat(ctx, in.Target); err != nil {
			return nil, transportErr("leave chat", err)
		}
		return ToolResult{OK: true, Target: in.Target}, nil
	}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return nil
}
