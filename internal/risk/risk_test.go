package risk

import (
	"testing"
	"time"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var limits = Limits{FlatFracPct: 0.02, MaxContractsLimit: 250, MaxDailyLoss: 1_000_000}

func TestQuantityFlatFraction(t *testing.T) {
	e := NewEngine(1000)
	if qty := e.Quantity(50, limits, now); qty != 40 {
		t.Fatalf("bankroll 1000 at 2%% and 50c should size 40 contracts, got %d", qty)
	}
}

func TestQuantityClampedToMaxContracts(t *testing.T) {
	e := NewEngine(1000)
	// 1c contracts would size 2000 unclamped.
	if qty := e.Quantity(1, limits, now); qty != 250 {
		t.Fatalf("expected clamp to 250, got %d", qty)
	}
}

func TestQuantityTruncatesDown(t *testing.T) {
	e := NewEngine(1000)
	// 20 / 0.33 = 60.6..., must floor, never round up past the risk fraction.
	if qty := e.Quantity(33, limits, now); qty != 60 {
		t.Fatalf("expected 60 contracts, got %d", qty)
	}
}

func TestQuantityZeroCases(t *testing.T) {
	e := NewEngine(0)
	if qty := e.Quantity(50, limits, now); qty != 0 {
		t.Fatalf("empty bankroll must size 0, got %d", qty)
	}

	e = NewEngine(1000)
	if qty := e.Quantity(0, limits, now); qty != 0 {
		t.Fatalf("zero price must size 0, got %d", qty)
	}
}

func TestQuantityZeroWhenDailyLossCapBreached(t *testing.T) {
	e := NewEngine(1000)
	tight := limits
	tight.MaxDailyLoss = 100
	e.RecordPnL(now.Add(-time.Hour), -150)

	if qty := e.Quantity(50, tight, now); qty != 0 {
		t.Fatalf("breached loss cap must size 0, got %d", qty)
	}
}

func TestRolling24hLossWindow(t *testing.T) {
	e := NewEngine(1000)
	e.RecordPnL(now.Add(-30*time.Hour), -500) // outside the window
	e.RecordPnL(now.Add(-2*time.Hour), -40)
	e.RecordPnL(now.Add(-time.Hour), 60) // wins don't count toward loss

	if loss := e.Rolling24hLoss(now); loss != -40 {
		t.Fatalf("expected rolling loss -40, got %v", loss)
	}
}

func TestDeductAndCredit(t *testing.T) {
	e := NewEngine(1000)
	e.Deduct(20)
	e.Credit(45)
	if bal := e.Balance(); bal != 1025 {
		t.Fatalf("expected balance 1025, got %v", bal)
	}
}
