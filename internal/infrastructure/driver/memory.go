package driver

import (
	"sync"
	"time"
)

type memoryEntry struct {
	value    string
	deadline time.Time
}

// MemoryKV process local KeyValueDB, for tests and single node development
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

var _ KeyValueDB = &MemoryKV{}

// NewMemoryKV create an empty store
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryKV) lookup(key string) (memoryEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return e, false
	}
	if !e.deadline.IsZero() && !m.now().Before(e.deadline) {
		delete(m.data, key)
		return e, false
	}
	return e, true
}

// SetEX implement KeyValueDB, zero expiration keeps the key forever
func (m *MemoryKV) SetEX(key string, value string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: value}
	if expiration > 0 {
		e.deadline = m.now().Add(expiration)
	}
	m.data[key] = e
	return nil
}

// Get implement KeyValueDB
func (m *MemoryKV) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return "", ErrKeyNotFound
	}
	return e.value, nil
}

// Exists implement KeyValueDB
func (m *MemoryKV) Exists(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookup(key)
	return ok, nil
}

// Del implement KeyValueDB
func (m *MemoryKV) Del(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Ping implement KeyValueDB
func (m *MemoryKV) Ping() error {
	return nil
}

// Close implement KeyValueDB
func (m *MemoryKV) Close() error {
	return nil
}
