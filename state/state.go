// Package state remembers which messages of one import have been written to
// the pool, keyed by content hash.
package state

import "sync"

type Tracker interface {
	AlreadyProcessed(hash string) bool
	// MarkProcessed records hash and reports whether it was new.
	MarkProcessed(hash, messageID string) bool
	Snapshot() Snapshot
}

type Snapshot struct {
	Processed int
}

// MemoryTracker lives for a single run. Nothing is persisted: a message that
// arrives again in a later run is handled by the sorting engine.
type MemoryTracker struct {
	mu        sync.RWMutex
	processed map[string]string
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{processed: make(map[string]string)}
}

func (m *MemoryTracker) AlreadyProcessed(hash string) bool {
	if hash == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.processed[hash]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryTracker) MarkProcessed(hash, messageID string) bool {
	if hash == "" {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.processed[hash]; exists {
		return false
	}
	m.processed[hash] = messageID
	return true
}

// MessageID returns the Message-ID first seen with hash.
func (m *MemoryTracker) MessageID(hash string) (string, bool) {
	m.mu.RLock()
	id, ok := m.processed[hash]
	m.mu.RUnlock()
	return id, ok
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.processed)
	m.mu.RUnlock()
	return Snapshot{Processed: count}
}
