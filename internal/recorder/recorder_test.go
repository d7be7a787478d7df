package recorder

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func sampleEvent() Event {
	return Event{
		Timestamp:    time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
		Kind:         KindEntry,
		Mode:         "paper",
		Ticker:       "KXBTC15M-1",
		Side:         "yes",
		EntryPrice:   41,
		Quantity:     40,
		Spot:         65120.5,
		Strike:       65000,
		Bankroll:     983.6,
		Signal:       "buy",
		SignalBirth:  time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC),
		SignalAgeMin: 4,
		Msg:          "stalker fill",
	}
}

func TestJSONLRecorderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	r, err := NewJSONLRecorder(path)
	if err != nil {
		t.Fatalf("NewJSONLRecorder returned error: %v", err)
	}

	if err := r.Record(sampleEvent()); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open events file: %v", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		t.Fatalf("expected one event line")
	}
	var got Event
	if err := json.Unmarshal(scanner.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if got.Kind != KindEntry || got.Ticker != "KXBTC15M-1" || got.Quantity != 40 {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestSQLiteRecorderInserts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	r, err := NewSQLiteRecorder(path)
	if err != nil {
		t.Fatalf("NewSQLiteRecorder returned error: %v", err)
	}

	ev := sampleEvent()
	if err := r.Record(ev); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	settle := ev
	settle.Kind = KindSettlement
	settle.SettleSource = "spot_fallback"
	settle.PnL = 23.6
	if err := r.Record(settle); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}

	var source string
	var pnl float64
	err = db.QueryRow(
		"SELECT settle_source, pnl FROM events WHERE kind = ?", string(KindSettlement),
	).Scan(&source, &pnl)
	if err != nil {
		t.Fatalf("settlement query: %v", err)
	}
	if source != "spot_fallback" || pnl != 23.6 {
		t.Fatalf("unexpected settlement row: source=%s pnl=%v", source, pnl)
	}
}

type failingRecorder struct{ err error }

func (f failingRecorder) Record(Event) error { return f.err }
func (f failingRecorder) Close() error       { return f.err }

func TestMultiFansOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	jsonl, err := NewJSONLRecorder(path)
	if err != nil {
		t.Fatalf("NewJSONLRecorder returned error: %v", err)
	}
	m := Multi{jsonl, failingRecorder{err: os.ErrClosed}}

	if err := m.Record(sampleEvent()); err == nil {
		t.Fatalf("expected Multi to surface the failing sink error")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("healthy sink should still have received the event")
	}
	_ = m.Close()
}
