// Package candle aggregates a stream of timestamped prices into fixed-duration OHLCV bars.
package candle

import "time"

// Candle is one OHLCV bar. High/Low/Close extend while the bar is forming; Open never moves.
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Closed   bool      `json:"closed"`
}

// CloseTime is the first instant past the bar's bucket.
func (c Candle) CloseTime(timeframe time.Duration) time.Time {
	return c.OpenTime.Add(timeframe)
}

// Builder synthesizes bars from ticks. It keeps a bounded history of closed
// bars plus exactly one forming bar; a gap longer than one bucket leaves the
// intervening buckets absent rather than filling them synthetically.
type Builder struct {
	timeframe time.Duration
	maxClosed int
	closed    []Candle
	current   *Candle
	// open time of the newest finalized bar; buckets at or before it are done
	lastClosed time.Time
}

const defaultMaxClosed = 1000

// NewBuilder creates a builder for the given bucket duration.
func NewBuilder(timeframe time.Duration) *Builder {
	if timeframe <= 0 {
		timeframe = time.Minute
	}
	return &Builder{timeframe: timeframe, maxClosed: defaultMaxClosed}
}

// Seed preloads closed bars (e.g. REST history) so the indicator has enough
// data at startup instead of waiting a full warm-up period. Bars must already
// be in ascending open-time order; the forming bar is left untouched.
func (b *Builder) Seed(bars []Candle) {
	for _, bar := range bars {
		bar.OpenTime = bar.OpenTime.Truncate(b.timeframe)
		bar.Closed = true
		b.closed = append(b.closed, bar)
		if bar.OpenTime.After(b.lastClosed) {
			b.lastClosed = bar.OpenTime
		}
	}
	b.trim()
}

// Ingest feeds one price sample. It returns the forming bar after the update
// and, when the sample crossed a bucket boundary, the bar that just closed.
// Samples falling in an already-closed bucket are ignored.
func (b *Builder) Ingest(price float64, ts time.Time) (live Candle, justClosed *Candle) {
	bucket := ts.Truncate(b.timeframe)

	// Buckets at or before the newest finalized bar (live or seeded) stay
	// final; a sample there can never reopen them.
	if !b.lastClosed.IsZero() && !bucket.After(b.lastClosed) {
		if b.current != nil {
			live = *b.current
		}
		return live, nil
	}

	switch {
	case b.current == nil:
		b.current = &Candle{OpenTime: bucket, Open: price, High: price, Low: price, Close: price}

	case bucket.After(b.current.OpenTime):
		done := *b.current
		done.Closed = true
		b.closed = append(b.closed, done)
		b.lastClosed = done.OpenTime
		b.trim()
		b.current = &Candle{OpenTime: bucket, Open: price, High: price, Low: price, Close: price}
		justClosed = &done

	case bucket.Equal(b.current.OpenTime):
		if price > b.current.High {
			b.current.High = price
		}
		if price < b.current.Low {
			b.current.Low = price
		}
		b.current.Close = price

	default:
		// Out-of-order or duplicate sample for a bucket that already closed.
	}

	if b.current != nil {
		live = *b.current
	}
	return live, justClosed
}

// Series returns all closed bars with the forming bar appended, oldest first.
func (b *Builder) Series() []Candle {
	out := make([]Candle, 0, len(b.closed)+1)
	out = append(out, b.closed...)
	if b.current != nil {
		out = append(out, *b.current)
	}
	return out
}

// ClosedCount reports how many finalized bars are held.
func (b *Builder) ClosedCount() int { return len(b.closed) }

// Ready reports whether enough closed bars exist for a reliable indicator read.
func (b *Builder) Ready(atrPeriod int) bool {
	return len(b.closed) >= atrPeriod+2
}

func (b *Builder) trim() {
	if len(b.closed) > b.maxClosed {
		b.closed = b.closed[len(b.closed)-b.maxClosed:]
	}
}
