package settings

import (
	"context"
	"maps"
	"sync"
)

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend keeps records in a map. Contents are lost when the process
// exits. The zero value is ready to use.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]Fields
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load implements [Backend].
func (m *MemoryBackend) Load(_ context.Context, sessionID string) (Fields, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.records[sessionID]
	if !ok {
		return nil, false, nil
	}
	return maps.Clone(f), true, nil
}

// Save implements [Backend].
func (m *MemoryBackend) Save(_ context.Context, sessionID string, f Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]Fields)
	}
	m.records[sessionID] = maps.Clone(f)
	return nil
}

// Delete implements [Backend].
func (m *MemoryBackend) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, sessionID)
	return nil
}

// Close implements [Backend].
func (m *MemoryBackend) Close() error { return nil }

// Len returns the number of stored records.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
