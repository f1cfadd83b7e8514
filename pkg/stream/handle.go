package stream

import (
	"context"
	"sync"
)

// Handle tracks one open stream. The session store owns the message the
// handle writes into; the handle only refers to it.
type Handle struct {
	SessionID string
	MessageID string

	mu     sync.Mutex
	state  State
	chatID int64
	err    error

	cancel context.CancelFunc
	done   chan struct{}
}

func newHandle(sessionID, messageID string, cancel context.CancelFunc) *Handle {
	return &Handle{
		SessionID: sessionID,
		MessageID: messageID,
		state:     StateOpen,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// BoundChatID returns the first chat id the backend reported, or zero.
func (h *Handle) BoundChatID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.chatID
}

// Err returns the cause of a StateClosedError close.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed once the handle reaches a closed state and all of its
// resources are released.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the stream closes and returns its terminal state.
func (h *Handle) Wait() (State, error) {
	<-h.done
	return h.State(), h.Err()
}

// Close cancels the stream and waits for it to wind down. Closing an
// already closed handle is a no-op.
func (h *Handle) Close() {
	h.cancel()
	<-h.done
}

// bind records chatID if no id has been recorded yet and reports whether it
// did.
func (h *Handle) bind(chatID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.chatID != 0 {
		return false
	}
	h.chatID = chatID
	return true
}

func (h *Handle) finish(state State, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
	h.err = err
}
