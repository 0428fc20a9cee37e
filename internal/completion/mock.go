// ABOUTME: Offline and test completion providers
// ABOUTME: Echo repeats the input; Mock records calls and returns canned replies

package completion

import (
	"context"
	"sync"
)

// Echo replies with the input text. Useful for local runs without an API key.
type Echo struct{}

// Complete returns req.Text.
func (Echo) Complete(_ context.Context, req Request) (string, error) {
	return req.Text, nil
}

// Mock is a configurable provider for testing.
// Reply, when set, computes the response; otherwise Response and Err are returned.
type Mock struct {
	mu       sync.Mutex
	Response string
	Err      error
	Reply    func(req Request) (string, error)
	Calls    []Request
}

// Complete records the request and returns the configured reply.
func (m *Mock) Complete(_ context.Context, req Request) (string, error) {
	m.mu.Lock()
	cp := req
	cp.History = append([]Message(nil), req.History...)
	m.Calls = append(m.Calls, cp)
	reply, resp, err := m.Reply, m.Response, m.Err
	m.mu.Unlock()

	if reply != nil {
		return reply(req)
	}
	return resp, err
}

// Requests returns a copy of every recorded request.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.Calls...)
}
