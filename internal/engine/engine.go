// Package engine gates entries behind an ordered guard chain and commits
// approved orders. Cheap local checks run before anything that depends on
// external data freshness, so every skipped tick has one unambiguous reason.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rruehl/Kalshi-Bot-V5/internal/indicator"
	"github.com/rruehl/Kalshi-Bot-V5/internal/metrics"
	"github.com/rruehl/Kalshi-Bot-V5/internal/recorder"
	"github.com/rruehl/Kalshi-Bot-V5/internal/risk"
	"github.com/rruehl/Kalshi-Bot-V5/internal/session"
)

// Side is the contract side an entry takes.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// RejectReason is the closed set of guard failures. Tests assert on these
// values, so they never carry free-form text.
type RejectReason string

const (
	RejectNone             RejectReason = ""
	RejectSessionFilled    RejectReason = "session_fill_limit"
	RejectPositionOpen     RejectReason = "position_open"
	RejectAlreadyActed     RejectReason = "already_acted_this_signal"
	RejectSignalStale      RejectReason = "signal_too_old"
	RejectTooCloseToExpiry RejectReason = "too_close_to_expiry"
	RejectStaleOrderBook   RejectReason = "orderbook_stale"
	RejectPriceOutOfBand   RejectReason = "price_out_of_range"
	RejectZeroQuantity     RejectReason = "qty_zero_insufficient_bankroll"
)

// Position is the single open position, carrying the indicator snapshot it
// was opened on so the settlement row is self-contained.
type Position struct {
	Ticker       string
	Side         Side
	EntryPrice   int // cents
	Quantity     int
	Strike       float64
	Signal       indicator.Signal
	ATR          float64
	Stop         float64
	BirthTime    time.Time
	SignalAgeMin float64
	OpenedAt     time.Time
}

// Cost is the dollar outlay to open the position.
func (p Position) Cost() float64 {
	return float64(p.Quantity) * float64(p.EntryPrice) / 100.0
}

// Decision is the outcome of one evaluation tick.
type Decision struct {
	Approved bool
	Reason   RejectReason
	Side     Side
	Price    int
	Quantity int
}

// Params are the guard thresholds, re-read from the config snapshot on every
// tick so hot reloads apply without restart.
type Params struct {
	Paper              bool
	MaxFillsPerSession int
	MaxStalk           time.Duration
	MinMinutesToExpiry float64
	MaxBookAge         time.Duration
	VetoPriceCents     int
	MaxEntryPriceCents int
	Limits             risk.Limits
}

// Mode renders the trading mode for event rows.
func (p Params) Mode() string {
	if p.Paper {
		return "paper"
	}
	return "live"
}

// DedupStore is the durable record of acted-on birth times.
type DedupStore interface {
	Contains(birth time.Time) (bool, error)
	Record(birth, actedAt time.Time) error
}

// OrderPlacer submits live orders; *venue.Client satisfies it.
type OrderPlacer interface {
	CreateOrder(ctx context.Context, ticker, side string, count, priceCents int) error
}

// Engine owns all mutable decision state: the open position, the per-session
// fill counter, and the bankroll mutations on commit. It must only ever be
// driven from a single goroutine.
type Engine struct {
	log    zerolog.Logger
	risk   *risk.Engine
	dedup  DedupStore
	placer OrderPlacer
	rec    recorder.Recorder

	position     *Position
	sessionFills int
}

// New wires the engine. placer may be nil in paper-only setups.
func New(log zerolog.Logger, riskEngine *risk.Engine, dedup DedupStore, placer OrderPlacer, rec recorder.Recorder) *Engine {
	return &Engine{log: log, risk: riskEngine, dedup: dedup, placer: placer, rec: rec}
}

// Position returns the open position, nil when flat.
func (e *Engine) Position() *Position { return e.position }

// SessionFills returns the fill count for the current session.
func (e *Engine) SessionFills() int { return e.sessionFills }

// OnSessionRoll hands back the position held into the expiring session (nil
// when flat) and resets per-session state. The acted-on birth times are
// deliberately not reset: a signal acted on in the old session stays spent.
func (e *Engine) OnSessionRoll() *Position {
	pos := e.position
	e.position = nil
	e.sessionFills = 0
	return pos
}

// OnTick runs the guard chain against one state snapshot. It is a pure
// function of that snapshot plus the engine's own committed state, so
// replaying an identical tick yields an identical decision.
func (e *Engine) OnTick(ctx context.Context, now time.Time, ind indicator.Snapshot, snap session.Snapshot, p Params) (Decision, error) {
	// 1. Session already at its fill limit.
	if e.sessionFills >= p.MaxFillsPerSession {
		return e.reject(now, ind, snap, p, RejectSessionFilled), nil
	}
	// 2. A position is already open.
	if e.position != nil {
		return e.reject(now, ind, snap, p, RejectPositionOpen), nil
	}
	// 3. This signal was already acted upon (possibly before a restart).
	acted, err := e.dedup.Contains(ind.State.BirthTime)
	if err != nil {
		return Decision{}, fmt.Errorf("dedup lookup: %w", err)
	}
	if acted {
		return e.reject(now, ind, snap, p, RejectAlreadyActed), nil
	}
	// 4. Signal too old to stalk. An unset signal has infinite age and
	// falls out here too.
	if ind.State.Age(now) > p.MaxStalk {
		return e.reject(now, ind, snap, p, RejectSignalStale), nil
	}
	// 5. Session about to expire.
	if snap.MinutesRemaining(now) < p.MinMinutesToExpiry {
		return e.reject(now, ind, snap, p, RejectTooCloseToExpiry), nil
	}
	// 6. Order book observation too old to trust.
	if snap.Age(now) > p.MaxBookAge {
		return e.reject(now, ind, snap, p, RejectStaleOrderBook), nil
	}

	side, bid, ask := sideAndBook(ind.State.Signal, snap)
	price := makerPrice(bid, ask)

	// 7. Entry price outside the configured band (inclusive bounds).
	if price < p.VetoPriceCents || price > p.MaxEntryPriceCents {
		return e.reject(now, ind, snap, p, RejectPriceOutOfBand), nil
	}
	// 8. Bankroll cannot afford a single contract at this price.
	qty := e.risk.Quantity(price, p.Limits, now)
	if qty < 0 {
		return Decision{}, fmt.Errorf("sizer produced negative quantity %d at %dc", qty, price)
	}
	if qty < 1 {
		return e.reject(now, ind, snap, p, RejectZeroQuantity), nil
	}

	return e.commit(ctx, now, ind, snap, p, side, price, qty)
}

func (e *Engine) commit(ctx context.Context, now time.Time, ind indicator.Snapshot, snap session.Snapshot, p Params, side Side, price, qty int) (Decision, error) {
	ageMin := ind.State.Age(now).Minutes()

	if !p.Paper {
		if err := e.placer.CreateOrder(ctx, snap.Ticker, string(side), qty, price); err != nil {
			// Nothing rolls forward: counter, dedup, and position stay
			// untouched so the same signal remains eligible on a later tick.
			ev := e.event(now, ind, snap, p, recorder.KindError)
			ev.Side = string(side)
			ev.EntryPrice = price
			ev.Quantity = qty
			ev.Msg = err.Error()
			_ = e.rec.Record(ev)
			e.log.Error().Err(err).Str("ticker", snap.Ticker).Str("side", string(side)).Msg("order submission failed")
			return Decision{}, fmt.Errorf("submit order: %w", err)
		}
	}

	if err := e.dedup.Record(ind.State.BirthTime, now); err != nil {
		return Decision{}, fmt.Errorf("dedup record: %w", err)
	}

	pos := &Position{
		Ticker:       snap.Ticker,
		Side:         side,
		EntryPrice:   price,
		Quantity:     qty,
		Strike:       snap.Strike,
		Signal:       ind.State.Signal,
		ATR:          ind.State.ATR,
		Stop:         ind.State.Stop,
		BirthTime:    ind.State.BirthTime,
		SignalAgeMin: ageMin,
		OpenedAt:     now,
	}
	if p.Paper {
		e.risk.Deduct(pos.Cost())
	}
	e.position = pos
	e.sessionFills++

	metrics.EntriesTotal.WithLabelValues(string(side), p.Mode()).Inc()
	metrics.BankrollDollars.Set(e.risk.Balance())

	ev := e.event(now, ind, snap, p, recorder.KindEntry)
	ev.Side = string(side)
	ev.EntryPrice = price
	ev.Quantity = qty
	ev.Msg = fmt.Sprintf("stalker fill: age %.1fm", ageMin)
	_ = e.rec.Record(ev)

	e.log.Info().
		Str("ticker", snap.Ticker).
		Str("side", string(side)).
		Int("price_cents", price).
		Int("qty", qty).
		Float64("signal_age_min", ageMin).
		Str("mode", p.Mode()).
		Msg("entry committed")

	return Decision{Approved: true, Side: side, Price: price, Quantity: qty}, nil
}

func (e *Engine) reject(now time.Time, ind indicator.Snapshot, snap session.Snapshot, p Params, reason RejectReason) Decision {
	metrics.RejectionsTotal.WithLabelValues(string(reason)).Inc()

	// The first two guards fire on every tick while a session is filled or a
	// position rides; logging them each time would drown the event stream.
	if reason != RejectSessionFilled && reason != RejectPositionOpen {
		ev := e.event(now, ind, snap, p, recorder.KindReject)
		ev.RejectReason = string(reason)
		_ = e.rec.Record(ev)
	}
	return Decision{Reason: reason}
}

// event assembles the shared context every row carries.
func (e *Engine) event(now time.Time, ind indicator.Snapshot, snap session.Snapshot, p Params, kind recorder.Kind) recorder.Event {
	ageMin := 0.0
	if !ind.State.BirthTime.IsZero() {
		ageMin = ind.State.Age(now).Minutes()
	}
	return recorder.Event{
		Timestamp:     now,
		Kind:          kind,
		Mode:          p.Mode(),
		Ticker:        snap.Ticker,
		MinutesLeft:   snap.MinutesRemaining(now),
		Spot:          ind.Spot,
		Strike:        snap.Strike,
		YesBid:        snap.YesBid,
		NoBid:         snap.NoBid,
		YesAsk:        snap.YesAsk,
		NoAsk:         snap.NoAsk,
		YesLiq:        snap.YesLiq,
		NoLiq:         snap.NoLiq,
		OBI:           snap.OBI,
		Bankroll:      e.risk.Balance(),
		Rolling24Loss: e.risk.Rolling24hLoss(now),
		Signal:        string(ind.State.Signal),
		ATR:           ind.State.ATR,
		Stop:          ind.State.Stop,
		SignalBirth:   ind.State.BirthTime,
		SignalAgeMin:  ageMin,
		BookStale:     snap.Age(now) > p.MaxBookAge,
	}
}

// Heartbeat emits the periodic status row the dashboard tails.
func (e *Engine) Heartbeat(now time.Time, ind indicator.Snapshot, snap session.Snapshot, p Params) {
	ev := e.event(now, ind, snap, p, recorder.KindHeartbeat)
	if e.position != nil {
		ev.Side = string(e.position.Side)
		ev.EntryPrice = e.position.EntryPrice
		ev.Quantity = e.position.Quantity
	}
	_ = e.rec.Record(ev)
}

// sideAndBook maps the trend signal onto a contract side and its book.
func sideAndBook(sig indicator.Signal, snap session.Snapshot) (Side, int, int) {
	if sig == indicator.SignalBuy {
		return SideYes, snap.YesBid, snap.YesAsk
	}
	return SideNo, snap.NoBid, snap.NoAsk
}

// makerPrice rests one cent above the best bid when the spread leaves room,
// otherwise joins the bid, clamped to the venue's valid 1-99¢ range.
func makerPrice(bestBid, bestAsk int) int {
	price := bestBid
	if bestAsk > bestBid+1 {
		price = bestBid + 1
	}
	if price < 1 {
		price = 1
	}
	if price > 99 {
		price = 99
	}
	return price
}
