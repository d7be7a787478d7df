package indicator

import (
	"sync"
	"time"
)

// Snapshot is what the decision loop reads: the latest indicator state plus
// the spot price it was computed from.
type Snapshot struct {
	State     State
	Spot      float64
	UpdatedAt time.Time
}

// Shared is the synchronized hand-off between the candle/indicator loop (sole
// writer) and the decision loop. The lock is held only for the copy, never
// across any blocking call.
type Shared struct {
	mu   sync.RWMutex
	snap Snapshot
}

// Update publishes a fresh indicator evaluation.
func (s *Shared) Update(state State, spot float64, now time.Time) {
	s.mu.Lock()
	s.snap = Snapshot{State: state, Spot: spot, UpdatedAt: now}
	s.mu.Unlock()
}

// Snapshot returns the most recently published evaluation.
func (s *Shared) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
