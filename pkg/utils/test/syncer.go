package testutils

import (
	"context"
	"sync/atomic"
)

// MockSyncer counts history refresh triggers.
type MockSyncer struct {
	calls atomic.Int32
}

func (m *MockSyncer) Trigger(_ context.Context) {
	m.calls.Add(1)
}

// Calls returns how many refreshes were triggered.
func (m *MockSyncer) Calls() int {
	return int(m.calls.Load())
}
