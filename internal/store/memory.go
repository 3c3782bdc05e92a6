package store

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	data    []byte
	expires time.Time
}

func (r memoryRecord) expired(now time.Time) bool {
	return !r.expires.IsZero() && now.After(r.expires)
}

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	sets    map[string]map[string]struct{}

	// Now is the clock; overridable in tests.
	Now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryRecord),
		sets:    make(map[string]map[string]struct{}),
		Now:     time.Now,
	}
}

func (s *MemoryStore) get(key string) ([]byte, bool) {
	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	if rec.expired(s.Now()) {
		delete(s.records, key)
		return nil, false
	}
	return rec.data, true
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.get(key)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.set(key, value, ttl)
	return nil
}

func (s *MemoryStore) set(key string, value []byte, ttl time.Duration) {
	rec := memoryRecord{data: append([]byte(nil), value...)}
	if ttl > 0 {
		rec.expires = s.Now().Add(ttl)
	}
	s.records[key] = rec
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.get(key); ok {
		return false, nil
	}
	s.set(key, value, ttl)
	return true, nil
}

func (s *MemoryStore) Update(_ context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.get(key)
	if !ok {
		return ErrNotFound
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	s.set(key, next, ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.records, key)
		delete(s.sets, key)
	}
	return nil
}

func (s *MemoryStore) SetAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SetRemove(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	return nil
}

func (s *MemoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
