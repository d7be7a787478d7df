package candle

import (
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestIngestBuildsOHLC(t *testing.T) {
	b := NewBuilder(time.Minute)

	live, closed := b.Ingest(100, t0)
	if closed != nil {
		t.Fatalf("first tick should not close a bar")
	}
	if live.Open != 100 || live.High != 100 || live.Low != 100 || live.Close != 100 {
		t.Fatalf("unexpected first bar: %+v", live)
	}

	live, _ = b.Ingest(103, t0.Add(10*time.Second))
	live, _ = b.Ingest(98, t0.Add(30*time.Second))
	live, _ = b.Ingest(101, t0.Add(50*time.Second))

	if live.Open != 100 || live.High != 103 || live.Low != 98 || live.Close != 101 {
		t.Fatalf("unexpected forming bar: %+v", live)
	}
	if live.Closed {
		t.Fatalf("forming bar must not be marked closed")
	}
}

func TestIngestClosesOnBucketBoundary(t *testing.T) {
	b := NewBuilder(time.Minute)
	b.Ingest(100, t0)
	b.Ingest(105, t0.Add(20*time.Second))

	live, closed := b.Ingest(104, t0.Add(time.Minute))
	if closed == nil {
		t.Fatalf("expected a closed bar on the minute boundary")
	}
	if !closed.Closed || closed.Close != 105 || closed.High != 105 {
		t.Fatalf("unexpected closed bar: %+v", closed)
	}
	if live.Open != 104 || !live.OpenTime.Equal(t0.Add(time.Minute)) {
		t.Fatalf("unexpected new forming bar: %+v", live)
	}
	if b.ClosedCount() != 1 {
		t.Fatalf("expected 1 closed bar, got %d", b.ClosedCount())
	}
}

func TestIngestIgnoresOutOfOrderTicks(t *testing.T) {
	b := NewBuilder(time.Minute)
	b.Ingest(100, t0)
	b.Ingest(110, t0.Add(time.Minute))

	// A late tick for the already-closed first bucket must not mutate history.
	live, closed := b.Ingest(999, t0.Add(5*time.Second))
	if closed != nil {
		t.Fatalf("late tick must not close bars")
	}
	if live.High == 999 || live.Close == 999 {
		t.Fatalf("late tick leaked into the forming bar: %+v", live)
	}
	series := b.Series()
	if series[0].High != 100 {
		t.Fatalf("late tick mutated a closed bar: %+v", series[0])
	}
}

func TestIngestLeavesGapsUnfilled(t *testing.T) {
	b := NewBuilder(time.Minute)
	b.Ingest(100, t0)
	// Next tick arrives three minutes later; intervening buckets stay absent.
	b.Ingest(102, t0.Add(3*time.Minute))

	if b.ClosedCount() != 1 {
		t.Fatalf("expected only the first bar closed, got %d", b.ClosedCount())
	}
	series := b.Series()
	if len(series) != 2 {
		t.Fatalf("expected 2 bars total, got %d", len(series))
	}
	if !series[1].OpenTime.Equal(t0.Add(3 * time.Minute)) {
		t.Fatalf("unexpected forming bar open time: %s", series[1].OpenTime)
	}
}

func TestSeedBootstrapsHistory(t *testing.T) {
	b := NewBuilder(time.Minute)
	var bars []Candle
	for i := 0; i < 12; i++ {
		px := 100 + float64(i)
		bars = append(bars, Candle{
			OpenTime: t0.Add(time.Duration(i) * time.Minute),
			Open:     px, High: px + 1, Low: px - 1, Close: px + 0.5,
		})
	}
	b.Seed(bars)

	if b.ClosedCount() != 12 {
		t.Fatalf("expected 12 seeded bars, got %d", b.ClosedCount())
	}
	if !b.Ready(10) {
		t.Fatalf("expected builder ready with atr period 10")
	}
	if b.Ready(11) {
		t.Fatalf("expected builder not ready with atr period 11")
	}
	for _, c := range b.Series() {
		if !c.Closed {
			t.Fatalf("seeded bars must be closed: %+v", c)
		}
	}
}

func TestSeededBucketsStayFinal(t *testing.T) {
	b := NewBuilder(time.Minute)
	var bars []Candle
	for i := 0; i < 3; i++ {
		px := 100 + float64(i)
		bars = append(bars, Candle{
			OpenTime: t0.Add(time.Duration(i) * time.Minute),
			Open:     px, High: px, Low: px, Close: px,
		})
	}
	b.Seed(bars)

	// A late sample landing inside a seeded bucket must not reopen it as a
	// forming bar.
	_, justClosed := b.Ingest(999, t0.Add(2*time.Minute+30*time.Second))
	if justClosed != nil {
		t.Fatalf("stale sample closed a bar: %+v", justClosed)
	}
	if b.ClosedCount() != 3 {
		t.Fatalf("expected 3 closed bars, got %d", b.ClosedCount())
	}
	if got := len(b.Series()); got != 3 {
		t.Fatalf("stale sample created a forming bar, series len %d", got)
	}

	// The first sample past the seeded history opens a fresh bucket.
	live, _ := b.Ingest(104, t0.Add(3*time.Minute))
	if !live.OpenTime.Equal(t0.Add(3 * time.Minute)) {
		t.Fatalf("forming bar at %s, want %s", live.OpenTime, t0.Add(3*time.Minute))
	}
	series := b.Series()
	for i := 1; i < len(series); i++ {
		if !series[i].OpenTime.After(series[i-1].OpenTime) {
			t.Fatalf("series open times not strictly increasing at %d: %s, %s",
				i, series[i-1].OpenTime, series[i].OpenTime)
		}
	}
}

func TestHistoryBounded(t *testing.T) {
	b := NewBuilder(time.Minute)
	b.maxClosed = 5
	for i := 0; i < 20; i++ {
		b.Ingest(100+float64(i), t0.Add(time.Duration(i)*time.Minute))
	}
	if b.ClosedCount() != 5 {
		t.Fatalf("expected history trimmed to 5, got %d", b.ClosedCount())
	}
	series := b.Series()
	if !series[0].OpenTime.Equal(t0.Add(14 * time.Minute)) {
		t.Fatalf("unexpected oldest retained bar: %s", series[0].OpenTime)
	}
}
