package repository

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time
	hasTTL    bool
}

func (e memEntry) isExpired(now time.Time) bool {
	return e.hasTTL && !now.Before(e.expiresAt)
}

// memoryKVStore is a process-local KVStore for single-instance runs and tests.
type memoryKVStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryKVStore() KVStore {
	return NewMemoryKVStoreWithClock(time.Now)
}

func NewMemoryKVStoreWithClock(now func() time.Time) KVStore {
	return &memoryKVStore{
		entries: make(map[string]memEntry),
		now:     now,
	}
}

func (s *memoryKVStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memEntry{value: append([]byte{}, value...)}
	if ttl > 0 {
		entry.hasTTL = true
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

func (s *memoryKVStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	entry, ok := s.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, entry.value...), true, nil
}

func (s *memoryKVStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *memoryKVStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.lookup(key)
	return ok, nil
}

func (s *memoryKVStore) lookup(key string) (memEntry, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return memEntry{}, false
	}
	if entry.isExpired(s.now()) {
		s.mu.Lock()
		if cur, still := s.entries[key]; still && cur.isExpired(s.now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return memEntry{}, false
	}
	return entry, true
}
