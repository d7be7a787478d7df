// Package metrics registers Prometheus instrumentation for the trading loop.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "spot_ticks_total", Help: "Count of spot mid-price ticks ingested"},
	)
	CandlesClosedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "candles_closed_total", Help: "Count of finalized OHLC candles"},
	)
	SignalFlipsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signal_flips_total", Help: "Trend signal direction changes"},
		[]string{"signal"},
	)
	EntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "entries_total", Help: "Positions opened"},
		[]string{"side", "mode"},
	)
	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rejections_total", Help: "Entry evaluations rejected by a guard"},
		[]string{"reason"},
	)
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "settlements_total", Help: "Sessions settled"},
		[]string{"source", "outcome"},
	)
	VenueRequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "venue_request_errors_total", Help: "Venue REST request failures"},
		[]string{"endpoint"},
	)
	BankrollDollars = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "bankroll_dollars", Help: "Current bankroll balance in dollars"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		CandlesClosedTotal,
		SignalFlipsTotal,
		EntriesTotal,
		RejectionsTotal,
		SettlementsTotal,
		VenueRequestErrors,
		BankrollDollars,
	)
}

// Serve exposes /metrics on the given address in a background goroutine.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
