package mocks

import (
	"sync"

	"github.com/linwei/chartline/server/line"
)

// ReplyCall records one Reply invocation.
type ReplyCall struct {
	ReplyToken string
	Text       string
}

// PushCall records one Push invocation.
type PushCall struct {
	UserID string
	Text   string
}

// MockMessenger is a testable implementation of line.Messenger. Calls
// are recorded in order; behavior is overridable per method.
type MockMessenger struct {
	mu sync.Mutex

	ReplyFunc        func(replyToken, text string) error
	PushFunc         func(userID, text string) error
	FetchContentFunc func(messageID string) ([]byte, error)

	replies []ReplyCall
	pushes  []PushCall
	fetches []string
}

var _ line.Messenger = (*MockMessenger)(nil)

func NewMockMessenger() *MockMessenger {
	return &MockMessenger{}
}

func (m *MockMessenger) Reply(replyToken, text string) error {
	m.mu.Lock()
	m.replies = append(m.replies, ReplyCall{ReplyToken: replyToken, Text: text})
	m.mu.Unlock()
	if m.ReplyFunc != nil {
		return m.ReplyFunc(replyToken, text)
	}
	return nil
}

func (m *MockMessenger) Push(userID, text string) error {
	m.mu.Lock()
	m.pushes = append(m.pushes, PushCall{UserID: userID, Text: text})
	m.mu.Unlock()
	if m.PushFunc != nil {
		return m.PushFunc(userID, text)
	}
	return nil
}

func (m *MockMessenger) FetchContent(messageID string) ([]byte, error) {
	m.mu.Lock()
	m.fetches = append(m.fetches, messageID)
	m.mu.Unlock()
	if m.FetchContentFunc != nil {
		return m.FetchContentFunc(messageID)
	}
	return []byte("image-bytes-" + messageID), nil
}

// Replies returns a copy of the recorded Reply calls.
func (m *MockMessenger) Replies() []ReplyCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ReplyCall, len(m.replies))
	copy(out, m.replies)
	return out
}

// Pushes returns a copy of the recorded Push calls.
func (m *MockMessenger) Pushes() []PushCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PushCall, len(m.pushes))
	copy(out, m.pushes)
	return out
}

// Fetches returns a copy of the recorded FetchContent message IDs.
func (m *MockMessenger) Fetches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.fetches))
	copy(out, m.fetches)
	return out
}
