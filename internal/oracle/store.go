package oracle

import (
	"sync"

	"github.com/orblink/orblink/internal/instance"
)

// Store is a thread-safe orientation registry implementing SampleSource.
// It belongs to the caller's scheduler: the engine reads it during queries
// and never writes it. An unset body yields the zero Sample, whose zero
// boresight counts as a full half turn away from any required direction.
type Store struct {
	mu      sync.RWMutex
	samples map[int]instance.Sample
}

// NewStore creates an empty orientation store.
func NewStore() *Store {
	return &Store{samples: make(map[int]instance.Sample)}
}

// Set records the current orientation sample for a body.
func (s *Store) Set(body int, sm instance.Sample) {
	s.mu.Lock()
	s.samples[body] = sm
	s.mu.Unlock()
}

// Orientation returns the current orientation sample for a body.
func (s *Store) Orientation(body int) instance.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.samples[body]
}
