package selector

import (
	"context"
	"sync"
)

// MemoryStore keeps usages in process. Safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	usages map[string]Usage
	// Applies counts successful Apply calls.
	Applies int
}

// NewMemoryStore returns a store seeded with usages.
func NewMemoryStore(usages map[string]Usage) *MemoryStore {
	s := &MemoryStore{usages: make(map[string]Usage, len(usages))}
	for id, u := range usages {
		s.usages[id] = u.clone()
	}
	return s
}

func (s *MemoryStore) Load(context.Context) (map[string]Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Usage, len(s.usages))
	for id, u := range s.usages {
		out[id] = u.clone()
	}
	return out, nil
}

func (s *MemoryStore) Apply(_ context.Context, changes []Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range changes {
		if ch.Usage == nil {
			delete(s.usages, ch.ID)
			continue
		}
		s.usages[ch.ID] = ch.Usage.clone()
	}
	s.Applies++
	return nil
}
