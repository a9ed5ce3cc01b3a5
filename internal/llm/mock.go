package llm

import (
	"context"
	"sync"

	"github.com/gerkensm/vaporvibe/internal/domain"
)

// MockClient is a scriptable Client for tests. Responses are consumed in
// order; when the script runs out the last entry repeats.
type MockClient struct {
	mu        sync.Mutex
	responses []MockResponse
	calls     [][]Message
	settings  Settings
}

// MockResponse is one scripted generation outcome.
type MockResponse struct {
	HTML   string
	Usage  *domain.Usage
	Events []ReasoningEvent
	Err    error
	// Block, when non-nil, delays the response until the channel is
	// closed or the context is cancelled.
	Block <-chan struct{}
}

var _ Client = (*MockClient)(nil)

// NewMockClient scripts a client that returns the given responses in order.
func NewMockClient(responses ...MockResponse) *MockClient {
	return &MockClient{
		responses: responses,
		settings:  Settings{Provider: "mock", Model: "mock-1"},
	}
}

func (m *MockClient) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// SetReasoningStream toggles whether the mock advertises a reasoning
// side channel.
func (m *MockClient) SetReasoningStream(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.ReasoningStream = on
}

func (m *MockClient) Generate(ctx context.Context, messages []Message, observe StreamObserver) (*Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	var resp MockResponse
	if idx >= 0 {
		resp = m.responses[idx]
	}
	m.mu.Unlock()

	if resp.Block != nil {
		select {
		case <-resp.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for _, ev := range resp.Events {
		if observe != nil {
			observe(ev)
		}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	return &Result{HTML: resp.HTML, Usage: resp.Usage}, nil
}

// Calls returns every prompt Generate received, in order.
func (m *MockClient) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}
