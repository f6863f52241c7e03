package store

import (
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// memoryStore is the TTL byte store backing the cache when Redis is
// unreachable. A janitor goroutine evicts expired entries so long-idle keys
// do not pile up.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	stop chan struct{}
	done chan struct{}
}

func newMemoryStore(janitorInterval time.Duration) *memoryStore {
	s := &memoryStore{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if janitorInterval > 0 {
		go s.janitor(janitorInterval)
	} else {
		close(s.done)
	}
	return s
}

func (s *memoryStore) janitor(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *memoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
		}
	}
}

// Get returns the stored bytes, or false when the key is absent or expired.
func (s *memoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if entry.expired(time.Now()) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false
	}
	return entry.data, true
}

// Set stores bytes under key. A nonpositive ttl means no expiry.
func (s *memoryStore) Set(key string, data []byte, ttl time.Duration) {
	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
}

func (s *memoryStore) Delete(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
}

func (s *memoryStore) Exists(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Close stops the janitor and drops all entries.
func (s *memoryStore) Close() {
	select {
	case <-s.done:
	default:
		close(s.stop)
		<-s.done
	}

	s.mu.Lock()
	s.entries = make(map[string]memoryEntry)
	s.mu.Unlock()
}
