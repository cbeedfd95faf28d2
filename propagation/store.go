package propagation

import (
	"sync"
)

// Store holds the most recently completed propagation result so
// criticality queries read it instead of recomputing the graph. A
// result published after a timed-out run keeps the previous value and
// is flagged stale.
type Store struct {
	mu     sync.RWMutex
	latest *Result
	stale  bool
}

// NewStore creates an empty result store
func NewStore() *Store {
	return &Store{}
}

// Publish stores a freshly completed result and clears staleness.
func (s *Store) Publish(r *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = r
	s.stale = false
}

// MarkStale flags the current result as stale (a newer run failed to
// complete inside its budget) without discarding it.
func (s *Store) MarkStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale = true
}

// Latest returns the last completed result (nil before the first run)
// and whether it is stale.
func (s *Store) Latest() (*Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.stale
}
