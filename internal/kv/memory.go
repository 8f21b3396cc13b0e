package kv

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process CounterStore. Each key has its own lock so
// updates to different conversations never contend.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	mu      sync.Mutex
	dead    bool
	members []time.Time
	value   int64
	expires time.Time
}

// NewMemoryStore creates an empty store. A nil clock means time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]*memEntry),
		now:     clock,
	}
}

// lock returns the live entry for key with its mutex held.
func (s *MemoryStore) lock(key string) *memEntry {
	for {
		s.mu.Lock()
		e, ok := s.entries[key]
		if !ok {
			e = &memEntry{}
			s.entries[key] = e
		}
		s.mu.Unlock()

		e.mu.Lock()
		if !e.dead {
			return e
		}
		// swept between lookup and lock
		e.mu.Unlock()
	}
}

func (s *MemoryStore) WindowAdd(_ context.Context, key string, at time.Time, window time.Duration) (int64, error) {
	e := s.lock(key)
	defer e.mu.Unlock()

	if !e.expires.IsZero() && !at.Before(e.expires) {
		e.members = e.members[:0]
	}
	e.members = append(e.members, at)

	cutoff := at.Add(-window)
	kept := e.members[:0]
	for _, m := range e.members {
		if !m.Before(cutoff) {
			kept = append(kept, m)
		}
	}
	e.members = kept
	e.expires = at.Add(window)
	return int64(len(e.members)), nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	e := s.lock(key)
	defer e.mu.Unlock()

	now := s.now()
	if !e.expires.IsZero() && !now.Before(e.expires) {
		e.value = 0
	}
	e.value++
	e.expires = now.Add(ttl)
	return e.value, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	e := s.lock(key)
	defer e.mu.Unlock()

	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		return 0, nil
	}
	return e.value, nil
}

func (s *MemoryStore) Del(_ context.Context, key string) error {
	e := s.lock(key)
	defer e.mu.Unlock()

	e.members = nil
	e.value = 0
	e.expires = time.Time{}
	return nil
}

// Sweep drops expired keys and reports how many were removed.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		e.mu.Lock()
		expired := !e.expires.IsZero() && !now.Before(e.expires)
		empty := e.expires.IsZero() && e.value == 0 && len(e.members) == 0
		if expired || empty {
			e.dead = true
			delete(s.entries, key)
			removed++
		}
		e.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }
