package recorder

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists events to a SQLite database for backtesting queries.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so dashboards can read while the bot writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp        INTEGER NOT NULL,
			kind             TEXT NOT NULL,
			mode             TEXT,
			ticker           TEXT,
			side             TEXT,
			entry_price      INTEGER,
			qty              INTEGER,
			minutes_left     REAL,
			spot             REAL,
			strike           REAL,
			yes_bid          INTEGER,
			no_bid           INTEGER,
			yes_liq          INTEGER,
			no_liq           INTEGER,
			obi              REAL,
			bankroll         REAL,
			rolling_24h_loss REAL,
			signal           TEXT,
			atr              REAL,
			stop             REAL,
			signal_birth     INTEGER,
			signal_age_min   REAL,
			book_stale       INTEGER,
			reject_reason    TEXT,
			settle_source    TEXT,
			spot_at_settle   REAL,
			pnl              REAL,
			msg              TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ticker ON events(ticker)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record inserts one event row.
func (r *SQLiteRecorder) Record(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stale := 0
	if ev.BookStale {
		stale = 1
	}
	var birth int64
	if !ev.SignalBirth.IsZero() {
		birth = ev.SignalBirth.UnixMilli()
	}

	_, err := r.db.Exec(`INSERT INTO events (
		timestamp, kind, mode, ticker, side, entry_price, qty, minutes_left,
		spot, strike, yes_bid, no_bid, yes_liq, no_liq, obi,
		bankroll, rolling_24h_loss, signal, atr, stop, signal_birth,
		signal_age_min, book_stale, reject_reason, settle_source,
		spot_at_settle, pnl, msg
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		ev.Timestamp.UnixMilli(), string(ev.Kind), ev.Mode, ev.Ticker, ev.Side,
		ev.EntryPrice, ev.Quantity, ev.MinutesLeft,
		ev.Spot, ev.Strike, ev.YesBid, ev.NoBid, ev.YesLiq, ev.NoLiq, ev.OBI,
		ev.Bankroll, ev.Rolling24Loss, ev.Signal, ev.ATR, ev.Stop, birth,
		ev.SignalAgeMin, stale, ev.RejectReason, ev.SettleSource,
		ev.SpotAtSettle, ev.PnL, ev.Msg,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (r *SQLiteRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Close()
}
