// Package settle resolves expired sessions: it waits out the venue's
// settlement lag, polls for the official result with bounded retries, and
// falls back to spot-versus-strike when the venue never answers.
package settle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rruehl/Kalshi-Bot-V5/internal/engine"
	"github.com/rruehl/Kalshi-Bot-V5/internal/metrics"
	"github.com/rruehl/Kalshi-Bot-V5/internal/recorder"
	"github.com/rruehl/Kalshi-Bot-V5/internal/risk"
)

// Source records how the outcome was determined.
type Source string

const (
	SourceVenue    Source = "venue_verified"
	SourceFallback Source = "spot_fallback"
)

// ResultQuerier fetches the official market result; *venue.Client satisfies it.
type ResultQuerier interface {
	MarketResult(ctx context.Context, ticker string) (result string, settled bool, err error)
}

// Config times the resolution sequence. Tests shrink the durations.
type Config struct {
	InitialDelay time.Duration
	PollInterval time.Duration
	MaxAttempts  int
}

// Result is the terminal record of one session's settlement.
type Result struct {
	Ticker       string
	Outcome      string // "yes" or "no"
	Source       Source
	SpotAtSettle float64
	HadPosition  bool
	Won          bool
	PnL          float64
}

// Coordinator resolves a single expired session. It runs detached from the
// decision loop so a slow venue never blocks trading on the next session.
type Coordinator struct {
	log   zerolog.Logger
	cfg   Config
	venue ResultQuerier
	risk  *risk.Engine
	rec   recorder.Recorder
}

// NewCoordinator wires a settlement resolver.
func NewCoordinator(log zerolog.Logger, cfg Config, querier ResultQuerier, riskEngine *risk.Engine, rec recorder.Recorder) *Coordinator {
	return &Coordinator{log: log, cfg: cfg, venue: querier, risk: riskEngine, rec: rec}
}

// Settle drives the session through the resolution sequence and returns the
// terminal result. pos may be nil when the session expired flat; the outcome
// is still recorded so the event history has every session. A query error
// consumes an attempt like an unsettled response does. spotAtExpiry is the
// last spot observed before the session rolled and feeds the fallback only.
func (c *Coordinator) Settle(ctx context.Context, ticker string, strike, spotAtExpiry float64, pos *engine.Position, paper bool) Result {
	if !c.sleep(ctx, c.cfg.InitialDelay) {
		return Result{Ticker: ticker}
	}

	outcome, source := "", SourceFallback
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		result, settled, err := c.venue.MarketResult(ctx, ticker)
		if err != nil {
			c.log.Warn().Err(err).Str("ticker", ticker).Int("attempt", attempt).Msg("settlement poll failed")
		} else if settled && (result == "yes" || result == "no") {
			outcome, source = result, SourceVenue
			break
		}
		if attempt < c.cfg.MaxAttempts && !c.sleep(ctx, c.cfg.PollInterval) {
			return Result{Ticker: ticker}
		}
	}
	if source == SourceFallback {
		// Strike is "at or above": a tie settles the yes side as a loss.
		if spotAtExpiry > strike {
			outcome = "yes"
		} else {
			outcome = "no"
		}
		c.log.Warn().Str("ticker", ticker).Float64("spot", spotAtExpiry).Float64("strike", strike).
			Str("outcome", outcome).Msg("venue never settled, falling back to spot comparison")
	}

	res := Result{
		Ticker:       ticker,
		Outcome:      outcome,
		Source:       source,
		SpotAtSettle: spotAtExpiry,
	}
	now := time.Now()

	label := "flat"
	if pos != nil {
		res.HadPosition = true
		res.Won = string(pos.Side) == outcome
		if res.Won {
			res.PnL = float64(pos.Quantity)*1.00 - pos.Cost()
			if paper {
				c.risk.Credit(float64(pos.Quantity) * 1.00)
			}
			label = "win"
		} else {
			res.PnL = -pos.Cost()
			label = "loss"
		}
		c.risk.RecordPnL(now, res.PnL)
		metrics.BankrollDollars.Set(c.risk.Balance())
	}
	metrics.SettlementsTotal.WithLabelValues(string(source), label).Inc()

	ev := recorder.Event{
		Timestamp:    now,
		Kind:         recorder.KindSettlement,
		Mode:         mode(paper),
		Ticker:       ticker,
		Strike:       strike,
		SettleSource: string(source),
		SpotAtSettle: spotAtExpiry,
		PnL:          res.PnL,
		Bankroll:     c.risk.Balance(),
		Msg:          fmt.Sprintf("settled %s (%s)", outcome, label),
	}
	if pos != nil {
		ev.Side = string(pos.Side)
		ev.EntryPrice = pos.EntryPrice
		ev.Quantity = pos.Quantity
		ev.Signal = string(pos.Signal)
		ev.SignalBirth = pos.BirthTime
	}
	_ = c.rec.Record(ev)

	c.log.Info().Str("ticker", ticker).Str("outcome", outcome).Str("source", string(source)).
		Float64("pnl", res.PnL).Float64("bankroll", c.risk.Balance()).Msg("session settled")
	return res
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func mode(paper bool) string {
	if paper {
		return "paper"
	}
	return "live"
}
