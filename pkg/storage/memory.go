package storage

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryStore is an LRU blob store kept in process memory.
// A zero ttl keeps entries until they are evicted.
type MemoryStore struct {
	capacity int
	ttl      time.Duration
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	lru      *list.List
}

// memoryEntry represents a stored blob
type memoryEntry struct {
	key       string
	value     []byte
	timestamp time.Time
	element   *list.Element
}

// NewMemoryStore creates a new in-memory blob store
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryStore{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*memoryEntry),
		lru:      list.New(),
	}
}

// Get implements BlobStore.Get
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[key]
	if !exists {
		return nil, ErrNotFound
	}

	if m.ttl > 0 && time.Since(entry.timestamp) > m.ttl {
		m.removeLocked(key)
		return nil, ErrNotFound
	}

	// Move to front of LRU list (most recently used)
	m.lru.MoveToFront(entry.element)

	return append([]byte{}, entry.value...), nil
}

// Set implements BlobStore.Set
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := append([]byte{}, value...)

	if entry, exists := m.entries[key]; exists {
		entry.value = stored
		entry.timestamp = time.Now()
		m.lru.MoveToFront(entry.element)
		return nil
	}

	entry := &memoryEntry{
		key:       key,
		value:     stored,
		timestamp: time.Now(),
	}
	entry.element = m.lru.PushFront(entry)
	m.entries[key] = entry

	// Evict oldest entry if store is full
	if m.lru.Len() > m.capacity {
		if oldest := m.lru.Back(); oldest != nil {
			m.removeLocked(oldest.Value.(*memoryEntry).key)
		}
	}

	return nil
}

// removeLocked removes an entry (must hold lock)
func (m *MemoryStore) removeLocked(key string) {
	if entry, exists := m.entries[key]; exists {
		m.lru.Remove(entry.element)
		delete(m.entries, key)
	}
}

// Clear implements BlobStore.Clear
func (m *MemoryStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*memoryEntry)
	m.lru = list.New()
	return nil
}

// Len returns the number of stored blobs
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close implements BlobStore.Close
func (m *MemoryStore) Close() error {
	return nil
}
