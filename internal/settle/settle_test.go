package settle

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rruehl/Kalshi-Bot-V5/internal/engine"
	"github.com/rruehl/Kalshi-Bot-V5/internal/recorder"
	"github.com/rruehl/Kalshi-Bot-V5/internal/risk"
)

type queryResponse struct {
	result  string
	settled bool
	err     error
}

type scriptedQuerier struct {
	mu        sync.Mutex
	responses []queryResponse
	calls     int
}

func (q *scriptedQuerier) MarketResult(_ context.Context, _ string) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if len(q.responses) == 0 {
		return "", false, nil
	}
	r := q.responses[0]
	q.responses = q.responses[1:]
	return r.result, r.settled, r.err
}

func (q *scriptedQuerier) callCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

type memRecorder struct {
	mu     sync.Mutex
	events []recorder.Event
}

func (r *memRecorder) Record(ev recorder.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *memRecorder) Close() error { return nil }

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func fastConfig() Config {
	return Config{InitialDelay: time.Millisecond, PollInterval: time.Millisecond, MaxAttempts: 4}
}

func yesPosition() *engine.Position {
	return &engine.Position{
		Ticker:     "KXBTCD-25JUN0112-T64500",
		Side:       engine.SideYes,
		EntryPrice: 49,
		Quantity:   40,
		Strike:     64500,
	}
}

func newCoordinator(q ResultQuerier, bankroll float64) (*Coordinator, *risk.Engine, *memRecorder) {
	re := risk.NewEngine(bankroll)
	rec := &memRecorder{}
	return NewCoordinator(zerolog.Nop(), fastConfig(), q, re, rec), re, rec
}

func TestVerifiedWinCreditsPayout(t *testing.T) {
	q := &scriptedQuerier{responses: []queryResponse{{result: "yes", settled: true}}}
	c, re, rec := newCoordinator(q, 980.40) // bankroll after the 40 x 49c paper deduct

	res := c.Settle(context.Background(), "KXBTCD-25JUN0112-T64500", 64500, 64920, yesPosition(), true)

	if res.Source != SourceVenue || res.Outcome != "yes" || !res.Won {
		t.Fatalf("unexpected result: %+v", res)
	}
	if want := 40*1.00 - 40*0.49; !approx(res.PnL, want) {
		t.Fatalf("pnl = %.2f, want %.2f", res.PnL, want)
	}
	if got := re.Balance(); !approx(got, 980.40+40.00) {
		t.Fatalf("bankroll = %.2f, want %.2f", got, 980.40+40.00)
	}
	if len(rec.events) != 1 || rec.events[0].Kind != recorder.KindSettlement {
		t.Fatalf("expected one SETTLE event, got %+v", rec.events)
	}
	if q.callCount() != 1 {
		t.Fatalf("venue polled %d times, want 1", q.callCount())
	}
}

func TestVerifiedLossRecordsNegativePnL(t *testing.T) {
	q := &scriptedQuerier{responses: []queryResponse{{result: "no", settled: true}}}
	c, re, _ := newCoordinator(q, 980.40)

	res := c.Settle(context.Background(), "KXBTCD-25JUN0112-T64500", 64500, 64100, yesPosition(), true)

	if res.Won || !approx(res.PnL, -40*0.49) {
		t.Fatalf("unexpected result: %+v", res)
	}
	// The entry cost was already deducted; a loss credits nothing back.
	if got := re.Balance(); got != 980.40 {
		t.Fatalf("bankroll = %.2f, want 980.40", got)
	}
	if loss := re.Rolling24hLoss(time.Now()); !approx(loss, 40*0.49) {
		t.Fatalf("rolling loss = %.2f, want %.2f", loss, 40*0.49)
	}
}

func TestFallbackAfterRetriesExhausted(t *testing.T) {
	q := &scriptedQuerier{} // never settles
	c, _, _ := newCoordinator(q, 1000)

	res := c.Settle(context.Background(), "KXBTCD-25JUN0112-T64500", 64500, 64920, yesPosition(), true)

	if res.Source != SourceFallback {
		t.Fatalf("source = %q, want fallback", res.Source)
	}
	if res.Outcome != "yes" || !res.Won {
		t.Fatalf("spot 64920 above strike 64500 should settle yes: %+v", res)
	}
	if q.callCount() != 4 {
		t.Fatalf("venue polled %d times, want 4", q.callCount())
	}
}

func TestFallbackTieSettlesAgainstYes(t *testing.T) {
	q := &scriptedQuerier{}
	c, _, _ := newCoordinator(q, 1000)

	res := c.Settle(context.Background(), "KXBTCD-25JUN0112-T64500", 64500, 64500, yesPosition(), true)

	if res.Outcome != "no" || res.Won {
		t.Fatalf("spot at strike must settle no: %+v", res)
	}
}

func TestQueryErrorsConsumeAttempts(t *testing.T) {
	// Two failures burn both attempts; the settled answer queued behind them
	// is never seen and the outcome falls back to spot comparison.
	q := &scriptedQuerier{responses: []queryResponse{
		{err: errors.New("502")},
		{err: errors.New("timeout")},
		{result: "no", settled: true},
	}}
	re := risk.NewEngine(1000)
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	c := NewCoordinator(zerolog.Nop(), cfg, q, re, &memRecorder{})

	res := c.Settle(context.Background(), "KXBTCD-25JUN0112-T64500", 64500, 64920, yesPosition(), true)

	if res.Source != SourceFallback || res.Outcome != "yes" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if q.callCount() != 2 {
		t.Fatalf("venue polled %d times, want 2", q.callCount())
	}
}

func TestFlatSessionStillRecorded(t *testing.T) {
	q := &scriptedQuerier{responses: []queryResponse{{result: "no", settled: true}}}
	c, re, rec := newCoordinator(q, 1000)

	res := c.Settle(context.Background(), "KXBTCD-25JUN0112-T64500", 64500, 64100, nil, true)

	if res.HadPosition || res.PnL != 0 {
		t.Fatalf("flat session must not carry pnl: %+v", res)
	}
	if got := re.Balance(); got != 1000 {
		t.Fatalf("bankroll = %.2f, want untouched 1000", got)
	}
	if len(rec.events) != 1 || rec.events[0].Kind != recorder.KindSettlement {
		t.Fatalf("flat session must still emit a SETTLE event, got %+v", rec.events)
	}
}

func TestCancelledContextAbandonsResolution(t *testing.T) {
	q := &scriptedQuerier{}
	re := risk.NewEngine(1000)
	cfg := Config{InitialDelay: time.Hour, PollInterval: time.Hour, MaxAttempts: 4}
	rec := &memRecorder{}
	c := NewCoordinator(zerolog.Nop(), cfg, q, re, rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.Settle(ctx, "KXBTCD-25JUN0112-T64500", 64500, 64920, yesPosition(), true)

	if res.Outcome != "" || q.callCount() != 0 || len(rec.events) != 0 {
		t.Fatalf("cancelled settle must not resolve: %+v, %d calls", res, q.callCount())
	}
}

// Mirrors the shutdown sequence: the trading context is cancelled while a
// settlement is still sleeping out its delay. Spawned on a detached context,
// the coordinator must finish anyway and land the PnL.
func TestSettlementOutlivesTradingShutdown(t *testing.T) {
	q := &scriptedQuerier{responses: []queryResponse{{result: "yes", settled: true}}}
	c, re, rec := newCoordinator(q, 980.40)
	m := NewManager(c)

	trading, cancel := context.WithCancel(context.Background())
	settleCtx := context.WithoutCancel(trading)

	if !m.Spawn(settleCtx, "KXBTCD-25JUN0112-T64500", 64500, 64920, yesPosition(), true) {
		t.Fatal("spawn lost the ticker")
	}
	cancel()
	m.Wait()

	if got := re.Balance(); !approx(got, 980.40+40.00) {
		t.Fatalf("bankroll = %.2f, want %.2f after the win landed", got, 980.40+40.00)
	}
	rec.mu.Lock()
	events := len(rec.events)
	rec.mu.Unlock()
	if events != 1 {
		t.Fatalf("settlement events = %d, want 1", events)
	}
}

func TestManagerSpawnsOncePerTicker(t *testing.T) {
	q := &scriptedQuerier{responses: []queryResponse{
		{result: "yes", settled: true},
		{result: "yes", settled: true},
	}}
	c, _, rec := newCoordinator(q, 1000)
	m := NewManager(c)

	first := m.Spawn(context.Background(), "KXBTCD-25JUN0112-T64500", 64500, 64920, nil, true)
	second := m.Spawn(context.Background(), "KXBTCD-25JUN0112-T64500", 64500, 64920, nil, true)
	m.Wait()

	if !first || second {
		t.Fatalf("spawn results = %v, %v; want true, false", first, second)
	}
	if q.callCount() != 1 {
		t.Fatalf("venue polled %d times, want 1", q.callCount())
	}
	if len(rec.events) != 1 {
		t.Fatalf("events = %d, want 1", len(rec.events))
	}
}
