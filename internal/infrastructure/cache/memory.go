package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/mpetrenko/document-vault/internal/core/domain"
)

// MemoryStore is the single-instance idempotency backend: a concurrency-safe
// map with TTL expiry and oldest-first eviction once the size ceiling is
// exceeded. Multi-instance deployments should use the Postgres backend so all
// replicas observe the same records.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // oldest at front
	max     int
}

type memoryEntry struct {
	key string
	rec domain.IdempotencyRecord
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &MemoryStore{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		max:     maxEntries,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string, now time.Time) (*domain.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*memoryEntry)
	if entry.rec.Expired(now) {
		s.remove(elem)
		return nil, nil
	}
	rec := entry.rec
	return &rec, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, rec domain.IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		elem.Value.(*memoryEntry).rec = rec
		return nil
	}
	s.entries[key] = s.order.PushBack(&memoryEntry{key: key, rec: rec})
	for len(s.entries) > s.max {
		s.remove(s.order.Front())
	}
	return nil
}

func (s *MemoryStore) Evict(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for elem := s.order.Front(); elem != nil; {
		next := elem.Next()
		if elem.Value.(*memoryEntry).rec.Expired(now) {
			s.remove(elem)
			removed++
		}
		elem = next
	}
	return removed, nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) remove(elem *list.Element) {
	if elem == nil {
		return
	}
	delete(s.entries, elem.Value.(*memoryEntry).key)
	s.order.Remove(elem)
}
