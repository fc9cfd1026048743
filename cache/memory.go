package cache

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/syssam/persist"
)

// MemoryRegion is an in-process persist.Cache. It is safe for concurrent
// use and may back any number of regions.
type MemoryRegion struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

var _ persist.Cache = (*MemoryRegion)(nil)

// NewMemoryRegion returns an empty in-memory store.
func NewMemoryRegion() *MemoryRegion {
	return &MemoryRegion{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements persist.Cache. Expired entries are reported missing.
func (m *MemoryRegion) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || (!e.expires.IsZero() && !m.now().Before(e.expires)) {
		return nil, nil
	}
	return slices.Clone(e.value), nil
}

// Set implements persist.Cache.
func (m *MemoryRegion) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Delete implements persist.Cache.
func (m *MemoryRegion) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// DeletePrefix implements persist.Cache.
func (m *MemoryRegion) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	return nil
}

// Clear implements persist.Cache.
func (m *MemoryRegion) Clear(context.Context) error {
	m.mu.Lock()
	clear(m.entries)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryRegion) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
