// Package risk tracks the bankroll and converts it into contract quantities.
package risk

import (
	"math"
	"sync"
	"time"
)

// Limits encodes the sizing guard-rails read from config on every evaluation.
type Limits struct {
	FlatFracPct       float64
	MaxContractsLimit int
	MaxDailyLoss      float64
}

type pnlEntry struct {
	at     time.Time
	amount float64
}

const maxPnLHistory = 5000

// Engine owns the bankroll. Entries deduct simulated cost in paper mode;
// settlements credit payouts and record PnL. In live mode the balance is
// informational only — the venue is authoritative.
type Engine struct {
	mu      sync.Mutex
	balance float64
	history []pnlEntry
}

// NewEngine starts the bankroll at the configured balance.
func NewEngine(startBalance float64) *Engine {
	return &Engine{balance: startBalance}
}

// Balance returns the current bankroll in dollars.
func (e *Engine) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// Deduct removes an entry cost from the bankroll (paper commits).
func (e *Engine) Deduct(dollars float64) {
	e.mu.Lock()
	e.balance -= dollars
	e.mu.Unlock()
}

// Credit adds a settlement payout to the bankroll.
func (e *Engine) Credit(dollars float64) {
	e.mu.Lock()
	e.balance += dollars
	e.mu.Unlock()
}

// RecordPnL appends one realized result to the rolling history.
func (e *Engine) RecordPnL(at time.Time, amount float64) {
	e.mu.Lock()
	e.history = append(e.history, pnlEntry{at: at, amount: amount})
	if len(e.history) > maxPnLHistory {
		e.history = e.history[len(e.history)-maxPnLHistory:]
	}
	e.mu.Unlock()
}

// Rolling24hLoss sums losing trades over the trailing day; the result is <= 0.
func (e *Engine) Rolling24hLoss(now time.Time) float64 {
	cutoff := now.Add(-24 * time.Hour)
	e.mu.Lock()
	defer e.mu.Unlock()
	var loss float64
	for _, p := range e.history {
		if p.at.After(cutoff) && p.amount < 0 {
			loss += p.amount
		}
	}
	return loss
}

// Quantity sizes a flat-fractional entry: floor(bankroll × fraction / price
// in dollars), clamped to [0, max]. Truncation keeps the deployed fraction at
// or under the configured one. Zero when the bankroll is exhausted or the
// rolling daily loss cap is breached.
func (e *Engine) Quantity(entryPriceCents int, limits Limits, now time.Time) int {
	if entryPriceCents <= 0 {
		return 0
	}
	bankroll := e.Balance()
	if bankroll <= 0 {
		return 0
	}
	if limits.MaxDailyLoss > 0 && math.Abs(e.Rolling24hLoss(now)) > limits.MaxDailyLoss {
		return 0
	}

	dollarRisk := bankroll * limits.FlatFracPct
	qty := int(dollarRisk / (float64(entryPriceCents) / 100.0))
	if qty < 0 {
		qty = 0
	}
	if limits.MaxContractsLimit > 0 && qty > limits.MaxContractsLimit {
		qty = limits.MaxContractsLimit
	}
	return qty
}
