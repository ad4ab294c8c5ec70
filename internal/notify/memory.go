package notify

import (
	"context"
	"sync"
)

// Memory records summaries for inspection in tests.
type Memory struct {
	mu        sync.RWMutex
	summaries []Summary
}

// NewMemory builds a Memory notifier.
func NewMemory() *Memory {
	return &Memory{}
}

// Notify implements Notifier.
func (m *Memory) Notify(_ context.Context, summary Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, summary)
	return nil
}

// Close implements Notifier.
func (m *Memory) Close() error { return nil }

// Summaries returns a copy of the recorded summaries.
func (m *Memory) Summaries() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, len(m.summaries))
	copy(out, m.summaries)
	return out
}
