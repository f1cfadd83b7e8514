// Package testutils holds fakes shared by the package tests.
package testutils

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"

	"github.com/papercomputeco/parley/pkg/backend"
)

// MockBackend is an in-memory stand-in for the chat backend client. Set the
// exported fields before handing it to the code under test.
type MockBackend struct {
	mu sync.Mutex

	// Response is returned by Send unless SendErr is set.
	Response *backend.ChatResponse
	SendErr  error

	// SendGate, when set, holds every Send until it is closed.
	SendGate chan struct{}

	// StreamErr fails every Stream call. Otherwise queued bodies are handed
	// out in order.
	StreamErr error
	bodies    []io.ReadCloser

	Chats     []backend.Chat
	ListErr   error
	Messages  map[int64][]backend.HistoryMessage
	DeleteErr error

	sent     []backend.ChatRequest
	streamed []backend.StreamRequest
	deleted  []int64
	lists    int
}

// NewMockBackend creates an empty MockBackend.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		Messages: make(map[int64][]backend.HistoryMessage),
	}
}

// QueueStream adds a body for the next Stream call.
func (m *MockBackend) QueueStream(body io.ReadCloser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies = append(m.bodies, body)
}

func (m *MockBackend) Send(ctx context.Context, req backend.ChatRequest) (*backend.ChatResponse, error) {
	if m.SendGate != nil {
		select {
		case <-m.SendGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sent = append(m.sent, req)
	if m.SendErr != nil {
		return nil, m.SendErr
	}
	if m.Response == nil {
		return &backend.ChatResponse{ChatID: req.ChatID}, nil
	}
	resp := *m.Response
	return &resp, nil
}

func (m *MockBackend) Stream(_ context.Context, req backend.StreamRequest) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.streamed = append(m.streamed, req)
	if m.StreamErr != nil {
		return nil, m.StreamErr
	}
	if len(m.bodies) == 0 {
		return nil, errors.New("no stream queued")
	}
	body := m.bodies[0]
	m.bodies = m.bodies[1:]
	return body, nil
}

func (m *MockBackend) ListChats(_ context.Context) ([]backend.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lists++
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return slices.Clone(m.Chats), nil
}

func (m *MockBackend) ListMessages(_ context.Context, chatID int64) ([]backend.HistoryMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return slices.Clone(m.Messages[chatID]), nil
}

func (m *MockBackend) DeleteChat(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.deleted = append(m.deleted, chatID)
	m.Chats = slices.DeleteFunc(m.Chats, func(c backend.Chat) bool { return c.ID == chatID })
	return nil
}

// SetChats replaces the chat list while the mock is in use.
func (m *MockBackend) SetChats(chats []backend.Chat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Chats = chats
}

// SentRequests returns the single-shot requests seen so far.
func (m *MockBackend) SentRequests() []backend.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

// StreamRequests returns the stream requests seen so far.
func (m *MockBackend) StreamRequests() []backend.StreamRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.streamed)
}

// DeletedChats returns the chat ids deleted so far.
func (m *MockBackend) DeletedChats() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.deleted)
}

// ListCalls returns how often the chat list was fetched.
func (m *MockBackend) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists
}
