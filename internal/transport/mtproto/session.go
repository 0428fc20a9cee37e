// ABOUTME: In-memory MTProto session storage that round-trips through a base64 export string
// ABOUTME: The exported string is what the agent record persists as its session credential

package mtproto

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/gotd/td/session"
)

// memorySession implements telegram.SessionStorage.
type memorySession struct {
	mu   sync.Mutex
	data []byte
}

func newMemorySession(export string) (*memorySession, error) {
	s := &memorySession{}
	if export == "" {
		return s, nil
	}
	data, err := base64.StdEncoding.DecodeString(export)
	if err != nil {
		return nil, fmt.Errorf("decode session export: %w", err)
	}
	s.data = data
	return s, nil
}

func (s *memorySession) LoadSession(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return nil, session.ErrNotFound
	}
	return append([]byte(nil), s.data...), nil
}

func (s *memorySession) StoreSession(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}

// Export returns the base64 session string, empty when nothing was stored.
func (s *memorySession) Export() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.data) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.data)
}
