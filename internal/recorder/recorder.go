// Package recorder persists one structured record per meaningful occurrence:
// heartbeats, entries, guard rejections, settlements, and errors.
package recorder

import "time"

// Kind labels the event row.
type Kind string

const (
	KindHeartbeat  Kind = "HRTBT"
	KindEntry      Kind = "ENTRY"
	KindReject     Kind = "REJECT"
	KindSettlement Kind = "SETTLE"
	KindError      Kind = "ERROR"
)

// Event is a self-contained row: settlement rows repeat the full trade
// context so downstream analysis never needs a join against the entry row.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Mode      string    `json:"mode"`

	Ticker      string  `json:"ticker,omitempty"`
	Side        string  `json:"side,omitempty"`
	EntryPrice  int     `json:"entry_price,omitempty"`
	Quantity    int     `json:"qty,omitempty"`
	MinutesLeft float64 `json:"minutes_left,omitempty"`
	Spot        float64 `json:"spot,omitempty"`
	Strike      float64 `json:"strike,omitempty"`

	YesBid int     `json:"yes_bid,omitempty"`
	NoBid  int     `json:"no_bid,omitempty"`
	YesAsk int     `json:"yes_ask,omitempty"`
	NoAsk  int     `json:"no_ask,omitempty"`
	YesLiq int     `json:"yes_liq,omitempty"`
	NoLiq  int     `json:"no_liq,omitempty"`
	OBI    float64 `json:"obi,omitempty"`

	Bankroll      float64 `json:"bankroll"`
	Rolling24Loss float64 `json:"rolling_24h_loss"`

	Signal       string    `json:"signal,omitempty"`
	ATR          float64   `json:"atr,omitempty"`
	Stop         float64   `json:"stop,omitempty"`
	SignalBirth  time.Time `json:"signal_birth,omitempty"`
	SignalAgeMin float64   `json:"signal_age_min,omitempty"`

	BookStale    bool   `json:"book_stale,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`

	SettleSource string  `json:"settle_source,omitempty"`
	SpotAtSettle float64 `json:"spot_at_settlement,omitempty"`
	PnL          float64 `json:"pnl,omitempty"`

	Msg string `json:"msg,omitempty"`
}

// Recorder is the event sink contract.
type Recorder interface {
	Record(Event) error
	Close() error
}

// Multi fans one event out to several sinks, reporting the first failure.
type Multi []Recorder

// Record writes the event to every sink.
func (m Multi) Record(ev Event) error {
	var first error
	for _, r := range m {
		if err := r.Record(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every sink.
func (m Multi) Close() error {
	var first error
	for _, r := range m {
		if err := r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
