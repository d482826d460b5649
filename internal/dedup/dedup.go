package dedup

import (
	"context"
	"sync"
	"time"
)

// Store is the repeat-delivery detection capability. Reserve atomically
// checks whether key has been seen inside the retention window and marks it
// seen if not; it reports true when the key was already present.
//
// Injected as an interface so the single-process in-memory store can be
// swapped for an external atomic store (a TTL'd key-value service) in a
// multi-instance deployment without touching callers.
type Store interface {
	Reserve(ctx context.Context, key string) (duplicate bool, err error)
}

// MemoryStore is a best-effort, single-process Store. Entries expire after
// the retention window; eviction is advisory, since the true idempotency
// backstop is the shared event id at each downstream system.
type MemoryStore struct {
	mu      sync.Mutex
	seen    map[string]time.Time // key -> expiry
	ttl     time.Duration
	now     func() time.Time
	stop    chan struct{}
	stopped sync.Once
}

// NewMemoryStore creates a store with the given retention window and starts
// a background sweep that reclaims expired entries.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
		stop: make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Reserve implements Store. The check and the mark happen under one lock so
// two near-simultaneous deliveries of the same event cannot both pass.
func (s *MemoryStore) Reserve(_ context.Context, key string) (bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.seen[key]; ok && expiry.After(now) {
		return true, nil
	}
	s.seen[key] = now.Add(s.ttl)
	return false, nil
}

// Len reports the number of live entries. Metrics/testing only.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Close stops the background sweep.
func (s *MemoryStore) Close() {
	s.stopped.Do(func() {
		close(s.stop)
	})
}

func (s *MemoryStore) sweep() {
	interval := s.ttl / 4
	if interval > time.Hour {
		interval = time.Hour
	}
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *MemoryStore) evictExpired() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, expiry := range s.seen {
		if !expiry.After(now) {
			delete(s.seen, key)
		}
	}
}
