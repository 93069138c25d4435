package audit

import (
	"context"
	"slices"
	"sync"
)

// Memory keeps entries in process. It is meant for tests and for embedding
// applications that drain the trail themselves.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemory creates an empty Memory recorder.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, e)
	m.mu.Unlock()
	return nil
}

// Entries returns a copy of the recorded entries in order.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

// Filter returns the recorded entries for one action.
func (m *Memory) Filter(action Action) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all recorded entries.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
}
