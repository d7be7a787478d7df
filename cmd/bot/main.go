package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/rruehl/Kalshi-Bot-V5/internal/candle"
	"github.com/rruehl/Kalshi-Bot-V5/internal/config"
	"github.com/rruehl/Kalshi-Bot-V5/internal/dedup"
	"github.com/rruehl/Kalshi-Bot-V5/internal/engine"
	"github.com/rruehl/Kalshi-Bot-V5/internal/feed"
	"github.com/rruehl/Kalshi-Bot-V5/internal/indicator"
	"github.com/rruehl/Kalshi-Bot-V5/internal/metrics"
	"github.com/rruehl/Kalshi-Bot-V5/internal/recorder"
	"github.com/rruehl/Kalshi-Bot-V5/internal/risk"
	"github.com/rruehl/Kalshi-Bot-V5/internal/session"
	"github.com/rruehl/Kalshi-Bot-V5/internal/settle"
	"github.com/rruehl/Kalshi-Bot-V5/internal/util"
	"github.com/rruehl/Kalshi-Bot-V5/internal/venue"
)

const (
	configReloadInterval = 30 * time.Second
	heartbeatInterval    = 10 * time.Second
	orderbookDepth       = 10
	historySeedBars      = 200
	// covers the settlement delay plus every retry, with headroom
	settleDrainGrace = 5 * time.Minute
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.NewLogger("info").Fatal().Err(err).Msg("load config")
	}
	if key := os.Getenv("KALSHI_API_KEY"); key != "" {
		cfg.Venue.APIKey = key
	}

	log := util.NewLogger(cfg.App.LogLevel)
	log.Info().Str("mode", cfg.App.Mode).Str("series", cfg.Venue.SeriesTicker).Msg("starting")

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	watcher := config.NewWatcher(*configPath, configReloadInterval, cfg, log)
	go watcher.Run(ctx)

	store, err := dedup.Open(cfg.State.DedupPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open dedup store")
	}
	defer store.Close()

	rec, err := openRecorders(cfg.State)
	if err != nil {
		log.Fatal().Err(err).Msg("open event recorders")
	}
	defer rec.Close()

	riskEngine := risk.NewEngine(cfg.Risk.PaperStartBalance)
	metrics.BankrollDollars.Set(riskEngine.Balance())

	client := venue.NewClient(cfg.Venue.BaseURL, cfg.Venue.APIKey,
		time.Duration(cfg.Venue.RequestTimeoutMs)*time.Millisecond, log)

	eng := engine.New(log, riskEngine, store, client, rec)

	coord := settle.NewCoordinator(log, settle.Config{
		InitialDelay: secs(cfg.Settlement.InitialDelaySecs),
		PollInterval: secs(cfg.Settlement.RetryIntervalSecs),
		MaxAttempts:  cfg.Settlement.MaxRetries,
	}, client, riskEngine, rec)
	settlements := settle.NewManager(coord)

	// Settlements run on their own lifetime: a SIGTERM stops trading but must
	// not abandon a session that is mid-resolution with PnL unapplied.
	settleCtx, settleCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer settleCancel()

	// Feed goroutine: sole producer of spot ticks.
	ticks := make(chan feed.Tick, 1024)
	spotFeed := feed.New(cfg.Feed.Provider, cfg.Feed.Symbol, log, feed.WithWebsocketURL(cfg.Feed.WSURL))
	go func() {
		if err := spotFeed.Run(ctx, ticks); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("feed stopped")
			cancel()
		}
	}()

	// Candle/indicator goroutine: sole consumer of ticks, sole writer of shared.
	shared := &indicator.Shared{}
	go runIndicatorLoop(ctx, log, watcher, spotFeed, ticks, shared)

	// Market poll goroutine: sole writer of the snapshot channel.
	snapshots := make(chan session.Snapshot, 1)
	go runMarketPoll(ctx, log, watcher, client, snapshots)

	runDecisionLoop(ctx, settleCtx, log, watcher, eng, settlements, shared, snapshots)

	drained := make(chan struct{})
	go func() {
		settlements.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(settleDrainGrace):
		log.Warn().Msg("settlements still pending past the drain deadline, abandoning")
		settleCancel()
		<-drained
	}
	log.Info().Msg("shut down cleanly")
}

func openRecorders(st config.State) (recorder.Recorder, error) {
	jsonl, err := recorder.NewJSONLRecorder(st.EventsPath)
	if err != nil {
		return nil, err
	}
	db, err := recorder.NewSQLiteRecorder(st.HistoryDB)
	if err != nil {
		jsonl.Close()
		return nil, err
	}
	return recorder.Multi{jsonl, db}, nil
}

// runIndicatorLoop folds ticks into candles and republishes the indicator
// state whenever a bar closes and on a fixed interval regardless of samples,
// so a mid-candle stop cross becomes visible without waiting for the close
// and the snapshot timestamp stays honest through feed stalls.
func runIndicatorLoop(ctx context.Context, log zerolog.Logger, watcher *config.Watcher, spotFeed *feed.Feed, ticks <-chan feed.Tick, shared *indicator.Shared) {
	cfg := watcher.Snapshot()
	builder := candle.NewBuilder(cfg.Strategy.Timeframe())

	var (
		lastSignal indicator.Signal
		lastSpot   float64
	)

	recompute := func(now time.Time) {
		cfg := watcher.Snapshot()
		if !builder.Ready(cfg.Strategy.ATRPeriod) {
			return
		}
		eval := indicator.Evaluator{Sensitivity: cfg.Strategy.Sensitivity, ATRPeriod: cfg.Strategy.ATRPeriod}
		state, ok := eval.Evaluate(builder.Series())
		if !ok {
			return
		}
		if state.Signal != lastSignal && state.Signal != indicator.SignalUnset {
			metrics.SignalFlipsTotal.WithLabelValues(string(state.Signal)).Inc()
			log.Info().Str("signal", string(state.Signal)).Time("birth", state.BirthTime).
				Float64("stop", state.Stop).Float64("spot", lastSpot).Msg("trend signal flipped")
			lastSignal = state.Signal
		}
		shared.Update(state, lastSpot, now)
	}

	// Warm start from REST history so a restart is not signal-blind for a
	// full indicator warm-up. A failed fetch just means a cold start.
	if bars, err := spotFeed.History(ctx, cfg.Strategy.Timeframe(), historySeedBars); err != nil {
		log.Warn().Err(err).Msg("candle history seed failed, starting cold")
	} else if len(bars) > 0 {
		builder.Seed(bars)
		lastSpot = bars[len(bars)-1].Close
		log.Info().Int("bars", len(bars)).Msg("seeded candle history")
		recompute(time.Now())
	}

	recalcEvery := time.Duration(cfg.Strategy.RecalcIntervalSec) * time.Second
	if recalcEvery <= 0 {
		recalcEvery = 5 * time.Second
	}
	recalc := time.NewTicker(recalcEvery)
	defer recalc.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-recalc.C:
			recompute(now)
		case tk := <-ticks:
			lastSpot = tk.Price
			if _, justClosed := builder.Ingest(tk.Price, tk.Ts); justClosed != nil {
				metrics.CandlesClosedTotal.Inc()
				recompute(tk.Ts)
			}
		}
	}
}

// runMarketPoll keeps the decision loop supplied with the freshest view of
// the active session. The channel holds one snapshot; a stale unread one is
// dropped in favor of the new observation.
func runMarketPoll(ctx context.Context, log zerolog.Logger, watcher *config.Watcher, client *venue.Client, out chan<- session.Snapshot) {
	interval := time.Duration(watcher.Snapshot().Venue.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cfg := watcher.Snapshot()
			now := time.Now()

			markets, err := client.OpenMarkets(ctx, cfg.Venue.SeriesTicker)
			if err != nil {
				log.Warn().Err(err).Msg("market listing failed")
				continue
			}
			market, ok := session.Select(markets, now)
			if !ok {
				log.Warn().Str("series", cfg.Venue.SeriesTicker).Msg("no open market in series")
				continue
			}
			book, err := client.Orderbook(ctx, market.Ticker, orderbookDepth)
			if err != nil {
				log.Warn().Err(err).Str("ticker", market.Ticker).Msg("orderbook fetch failed")
				continue
			}

			snap := session.BuildSnapshot(market, book, now)
			select {
			case out <- snap:
			default:
				select {
				case <-out:
				default:
				}
				select {
				case out <- snap:
				default:
				}
			}
		}
	}
}

// runDecisionLoop owns all trading state. Session rollover hands the expiring
// session to a settlement coordinator spawned on settleCtx, which outlives the
// trading context so shutdown cannot strand an unresolved session.
func runDecisionLoop(ctx, settleCtx context.Context, log zerolog.Logger, watcher *config.Watcher, eng *engine.Engine,
	settlements *settle.Manager, shared *indicator.Shared, snapshots <-chan session.Snapshot) {

	var tracker session.Tracker
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down decision loop")
			return

		case snap := <-snapshots:
			cfg := watcher.Snapshot()
			now := time.Now()
			ind := shared.Snapshot()

			rolled, prev, err := tracker.Observe(snap)
			if err != nil {
				log.Error().Err(err).Msg("session observation rejected")
				continue
			}
			if rolled {
				pos := eng.OnSessionRoll()
				log.Info().Str("expired", prev.Ticker).Str("active", snap.Ticker).
					Bool("had_position", pos != nil).Msg("session rolled")
				settlements.Spawn(settleCtx, prev.Ticker, prev.Strike, ind.Spot, pos, cfg.App.Paper())
			}

			if !snap.HasBook() {
				continue
			}
			if _, err := eng.OnTick(ctx, now, ind, snap, guardParams(cfg)); err != nil {
				log.Error().Err(err).Msg("decision tick failed")
			}

		case <-heartbeat.C:
			current := tracker.Current()
			if current == nil {
				continue
			}
			cfg := watcher.Snapshot()
			eng.Heartbeat(time.Now(), shared.Snapshot(), *current, guardParams(cfg))
		}
	}
}

func guardParams(cfg *config.Config) engine.Params {
	return engine.Params{
		Paper:              cfg.App.Paper(),
		MaxFillsPerSession: cfg.Entry.MaxFillsPerSession,
		MaxStalk:           time.Duration(cfg.Strategy.MaxStalkMin * float64(time.Minute)),
		MinMinutesToExpiry: cfg.Entry.MinMinutesToExpiry,
		MaxBookAge:         secs(cfg.Entry.MaxOrderbookStaleSec),
		VetoPriceCents:     cfg.Entry.VetoPriceCents,
		MaxEntryPriceCents: cfg.Entry.MaxEntryPriceCents,
		Limits: risk.Limits{
			FlatFracPct:       cfg.Risk.FlatFracPct,
			MaxContractsLimit: cfg.Risk.MaxContractsLimit,
			MaxDailyLoss:      cfg.Risk.MaxDailyLoss,
		},
	}
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
