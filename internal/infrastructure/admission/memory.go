package admission

import (
	"context"
	"sync"
	"time"
)

// MemoryStore holds in-flight fingerprint admissions for one process. Admit
// is check-and-set under one lock, so N concurrent identical uploads resolve
// to exactly one admission.
type MemoryStore struct {
	mu      sync.Mutex
	holders map[string]holder
}

type holder struct {
	ownerID    string
	admittedAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{holders: make(map[string]holder)}
}

func (s *MemoryStore) Admit(_ context.Context, fingerprint, ownerID string) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.holders[fingerprint]; ok {
		return false, h.ownerID, nil
	}
	s.holders[fingerprint] = holder{ownerID: ownerID, admittedAt: time.Now().UTC()}
	return true, ownerID, nil
}

// Release drops the admission only when ownerID still holds it; a stale
// release from a cancelled upload cannot evict a newer admission.
func (s *MemoryStore) Release(_ context.Context, fingerprint, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.holders[fingerprint]; ok && h.ownerID == ownerID {
		delete(s.holders, fingerprint)
	}
	return nil
}

func (s *MemoryStore) Holder(_ context.Context, fingerprint string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holders[fingerprint]
	return h.ownerID, ok, nil
}
