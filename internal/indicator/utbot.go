// Package indicator computes the UT-Bot trend signal: a Wilder-ATR scaled
// trailing stop whose side the close price sits on determines direction.
package indicator

import (
	"math"
	"time"

	"github.com/rruehl/Kalshi-Bot-V5/internal/candle"
)

// Signal is the trend direction derived from the trailing stop.
type Signal string

const (
	SignalUnset Signal = ""
	SignalBuy   Signal = "buy"
	SignalSell  Signal = "sell"
)

// State is one indicator evaluation over a candle series. BirthTime is the
// open time of the bar on which the signal last changed direction; replaying
// the same series always reproduces the same BirthTime, so recomputation
// never resets it while the signal holds.
type State struct {
	ATR       float64
	Stop      float64
	Signal    Signal
	BirthTime time.Time
	Close     float64
}

// Age reports how long the current signal has been alive.
func (s State) Age(now time.Time) time.Duration {
	if s.BirthTime.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(s.BirthTime)
}

// Evaluator holds the tunables of the recurrence. Evaluation is a pure
// function of the candle series — there is no hidden state beyond it.
type Evaluator struct {
	Sensitivity float64
	ATRPeriod   int
}

// Evaluate runs the full recurrence over closed bars plus the live forming
// bar. The second return is false until the series is long enough for a
// reliable ATR (period + 2 bars).
func (e Evaluator) Evaluate(cs []candle.Candle) (State, bool) {
	n := len(cs)
	if e.ATRPeriod <= 0 || n < e.ATRPeriod+2 {
		return State{}, false
	}

	atr := wilderATR(cs, e.ATRPeriod)

	stops := make([]float64, n)
	for i := 1; i < n; i++ {
		if atr[i] == 0 {
			continue
		}
		nLoss := e.Sensitivity * atr[i]
		prevStop := stops[i-1]
		prevClose := cs[i-1].Close
		close := cs[i].Close

		switch {
		case close > prevStop && prevClose > prevStop:
			stops[i] = math.Max(prevStop, close-nLoss)
		case close < prevStop && prevClose < prevStop:
			stops[i] = math.Min(prevStop, close+nLoss)
		case close > prevStop:
			stops[i] = close - nLoss
		default:
			stops[i] = close + nLoss
		}
	}

	// Direction per bar, then forward-fill the birth time from flip bars.
	var birth time.Time
	var prev Signal
	for i := 0; i < n; i++ {
		sig := SignalSell
		if cs[i].Close > stops[i] {
			sig = SignalBuy
		}
		if sig != prev {
			birth = cs[i].OpenTime
		}
		prev = sig
	}

	last := n - 1
	return State{
		ATR:       atr[last],
		Stop:      stops[last],
		Signal:    prev,
		BirthTime: birth,
		Close:     cs[last].Close,
	}, atr[last] > 0
}

// wilderATR returns the Wilder-smoothed ATR series: zero before period bars
// exist, the arithmetic mean of the first period true ranges at index
// period-1, and the smoothing recurrence afterwards.
func wilderATR(cs []candle.Candle, period int) []float64 {
	n := len(cs)
	tr := make([]float64, n)
	tr[0] = cs[0].High - cs[0].Low
	for i := 1; i < n; i++ {
		prevClose := cs[i-1].Close
		hl := cs[i].High - cs[i].Low
		hc := math.Abs(cs[i].High - prevClose)
		lc := math.Abs(cs[i].Low - prevClose)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	atr := make([]float64, n)
	if n < period {
		return atr
	}
	var sum float64
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	atr[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		atr[i] = atr[i-1] + (tr[i]-atr[i-1])/float64(period)
	}
	return atr
}
