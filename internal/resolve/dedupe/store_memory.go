package dedupe

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore tracks answered needs in process memory. Suitable for a
// single instance; distributed deployments share state through RedisStore.
type InMemoryStore struct {
	mu        sync.Mutex
	answered  map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

// NewInMemoryStore creates a memory-backed store that forgets need ids
// after the retention window.
func NewInMemoryStore(retention time.Duration) *InMemoryStore {
	return &InMemoryStore{
		answered:  make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

func (s *InMemoryStore) Seen(_ context.Context, needID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expire()
	_, ok := s.answered[needID]
	return ok, nil
}

func (s *InMemoryStore) Mark(_ context.Context, needID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expire()
	s.answered[needID] = s.now()
	return nil
}

// expire drops entries older than the retention window. Called under the
// lock on every access; the map stays small enough that a sweep is fine.
func (s *InMemoryStore) expire() {
	cutoff := s.now().Add(-s.retention)
	for id, at := range s.answered {
		if at.Before(cutoff) {
			delete(s.answered, id)
		}
	}
}
