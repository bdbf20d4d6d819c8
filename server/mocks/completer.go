package mocks

import (
	"context"
	"sync"

	"github.com/linwei/chartline/server/llm"
	"github.com/linwei/chartline/server/prompt"
)

// MockCompleter is a testable implementation of llm.Completer. Each
// call's history is recorded as a deep enough copy to inspect later.
type MockCompleter struct {
	mu sync.Mutex

	CompleteFunc func(ctx context.Context, history []prompt.Message) (string, error)

	calls [][]prompt.Message
}

var _ llm.Completer = (*MockCompleter)(nil)

func NewMockCompleter() *MockCompleter {
	return &MockCompleter{}
}

func (m *MockCompleter) Complete(ctx context.Context, history []prompt.Message) (string, error) {
	snapshot := make([]prompt.Message, len(history))
	copy(snapshot, history)

	m.mu.Lock()
	m.calls = append(m.calls, snapshot)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, history)
	}
	return "mock completion", nil
}

// Calls returns the recorded histories, one per Complete invocation.
func (m *MockCompleter) Calls() [][]prompt.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]prompt.Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Complete invocations so far.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
