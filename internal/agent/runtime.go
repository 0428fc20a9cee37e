// ABOUTME: Per-agent ephemeral state: reply cooldowns and bounded AI conversation history
// ABOUTME: Created on start and discarded on stop; never shared between agents

package agent

import (
	"slices"
	"sync"

	"github.com/Secret297-CODER-SOURCE/openclaw/internal/clock"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/completion"
	"github.com/Secret297-CODER-SOURCE/openclaw/internal/cooldown"
)

// DefaultHistoryLimit caps stored turns per conversation.
const DefaultHistoryLimit = 20

// runtimeState is keyed by chat within one agent.
type runtimeState struct {
	cooldown *cooldown.Window
	history  *history
}

func newRuntimeState(clk clock.Clock, historyLimit int) *runtimeState {
	return &runtimeState{
		cooldown: cooldown.New(clk, cooldown.DefaultMaxKeys),
		history:  newHistory(historyLimit),
	}
}

// history keeps the most recent turns of each conversation.
type history struct {
	mu    sync.Mutex
	limit int
	convs map[string][]completion.Message
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &history{limit: limit, convs: make(map[string][]completion.Message)}
}

// get returns a copy of the conversation's turns, oldest first.
func (h *history) get(key string) []completion.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.convs[key])
}

// append adds turns and drops the oldest beyond the limit.
func (h *history) append(key string, turns ...completion.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conv := append(h.convs[key], turns...)
	if over := len(conv) - h.limit; over > 0 {
		conv = slices.Clone(conv[over:])
	}
	h.convs[key] = conv
}

func (h *history) len(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.convs[key])
}
