package memory

import (
	"context"
	"sync"
)

// SeenSet is a bounded set of event keys. Once full, the oldest key is
// forgotten first.
type SeenSet struct {
	mu       sync.Mutex
	capacity int
	keys     map[string]struct{}
	order    []string
}

func NewSeenSet(capacity int) *SeenSet {
	if capacity <= 0 {
		capacity = 10000
	}
	return &SeenSet{capacity: capacity, keys: make(map[string]struct{}, capacity)}
}

func (s *SeenSet) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return true, nil
	}
	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.keys, oldest)
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
	return false, nil
}
