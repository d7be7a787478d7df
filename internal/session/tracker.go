// Package session identifies the currently active market instance and
// detects rollover between consecutive time-boxed sessions.
package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/rruehl/Kalshi-Bot-V5/internal/venue"
)

// Snapshot is one observation of the active session's market and book.
type Snapshot struct {
	Ticker     string
	Strike     float64
	Expiry     time.Time
	YesBid     int
	NoBid      int
	YesAsk     int
	NoAsk      int
	YesLiq     int
	NoLiq      int
	OBI        float64
	ObservedAt time.Time
}

// MinutesRemaining returns time until expiry in fractional minutes.
func (s Snapshot) MinutesRemaining(now time.Time) float64 {
	return s.Expiry.Sub(now).Minutes()
}

// Age returns how old this observation is.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.ObservedAt)
}

// HasBook reports whether at least one side carried a resting bid.
func (s Snapshot) HasBook() bool {
	return s.YesBid > 0 || s.NoBid > 0
}

const liquidityDepth = 5

// Select picks the soonest-expiring market still in the future. Expiry ties
// break by ticker ordering so the choice is deterministic.
func Select(markets []venue.Market, now time.Time) (venue.Market, bool) {
	future := markets[:0:0]
	for _, m := range markets {
		if m.CloseTime.After(now) {
			future = append(future, m)
		}
	}
	if len(future) == 0 {
		return venue.Market{}, false
	}
	sort.Slice(future, func(i, j int) bool {
		if !future[i].CloseTime.Equal(future[j].CloseTime) {
			return future[i].CloseTime.Before(future[j].CloseTime)
		}
		return future[i].Ticker < future[j].Ticker
	})
	return future[0], true
}

// BuildSnapshot combines a market and its book into a decision-ready view.
// Asks are implied from the opposing side's bid, defaulting to 99¢ when that
// side is empty; OBI is the normalized top-level liquidity imbalance.
func BuildSnapshot(m venue.Market, ob venue.Orderbook, now time.Time) Snapshot {
	yesBid := ob.BestYesBid()
	noBid := ob.BestNoBid()

	yesAsk, noAsk := 99, 99
	if noBid > 0 {
		yesAsk = 100 - noBid
	}
	if yesBid > 0 {
		noAsk = 100 - yesBid
	}

	yesLiq := venue.TopLiquidity(ob.Yes, liquidityDepth)
	noLiq := venue.TopLiquidity(ob.No, liquidityDepth)
	obi := 0.0
	if yesLiq+noLiq > 0 {
		obi = float64(yesLiq-noLiq) / float64(yesLiq+noLiq)
	}

	return Snapshot{
		Ticker:     m.Ticker,
		Strike:     m.Strike(),
		Expiry:     m.CloseTime,
		YesBid:     yesBid,
		NoBid:      noBid,
		YesAsk:     yesAsk,
		NoAsk:      noAsk,
		YesLiq:     yesLiq,
		NoLiq:      noLiq,
		OBI:        obi,
		ObservedAt: now,
	}
}

// Tracker watches the stream of snapshots for ticker transitions. Rollover is
// reported exactly once per transition, handing back the superseded session.
type Tracker struct {
	current *Snapshot
}

// Observe records a snapshot. rolled is true on a ticker transition, in which
// case prev is the last snapshot of the superseded session. Successive
// sessions must expire strictly later; anything else is a broken assumption
// upstream and comes back as an error.
func (t *Tracker) Observe(snap Snapshot) (rolled bool, prev *Snapshot, err error) {
	if t.current == nil {
		s := snap
		t.current = &s
		return false, nil, nil
	}
	if snap.Ticker == t.current.Ticker {
		s := snap
		t.current = &s
		return false, nil, nil
	}
	if !snap.Expiry.After(t.current.Expiry) {
		return false, nil, fmt.Errorf("session %s expires at %s, not after predecessor %s (%s)",
			snap.Ticker, snap.Expiry, t.current.Ticker, t.current.Expiry)
	}
	old := t.current
	s := snap
	t.current = &s
	return true, old, nil
}

// Current returns the tracked session snapshot, nil before the first observation.
func (t *Tracker) Current() *Snapshot {
	return t.current
}
