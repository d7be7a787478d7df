package settle

import (
	"context"
	"sync"

	"github.com/rruehl/Kalshi-Bot-V5/internal/engine"
)

// Manager spawns at most one coordinator per ticker, so a duplicate rollover
// observation cannot settle the same session twice.
type Manager struct {
	coord *Coordinator

	mu      sync.Mutex
	spawned map[string]struct{}
	wg      sync.WaitGroup
}

// NewManager wraps a coordinator with per-ticker idempotence.
func NewManager(coord *Coordinator) *Manager {
	return &Manager{coord: coord, spawned: map[string]struct{}{}}
}

// Spawn starts settlement for the ticker in its own goroutine. It returns
// false when the ticker was already claimed, making duplicate calls no-ops.
func (m *Manager) Spawn(ctx context.Context, ticker string, strike, spotAtExpiry float64, pos *engine.Position, paper bool) bool {
	m.mu.Lock()
	if _, dup := m.spawned[ticker]; dup {
		m.mu.Unlock()
		return false
	}
	m.spawned[ticker] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.coord.Settle(ctx, ticker, strike, spotAtExpiry, pos, paper)
	}()
	return true
}

// Wait blocks until every in-flight settlement has finished. Shutdown calls
// it after cancelling the context so pending sleeps unwind promptly.
func (m *Manager) Wait() {
	m.wg.Wait()
}
