// Package feed streams spot prices for the underlying asset. The live
// provider subscribes to the Coinbase ticker channel; the stub provider emits
// a deterministic drift for tests and offline work.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rruehl/Kalshi-Bot-V5/internal/metrics"
)

const (
	// ProviderStub emits deterministic synthetic ticks.
	ProviderStub = "stub"
	// ProviderCoinbase streams the public Coinbase ticker websocket.
	ProviderCoinbase = "coinbase"
)

// Tick is one spot price observation.
type Tick struct {
	Product string
	Price   float64
	Ts      time.Time
}

// Feed is a pluggable spot price stream.
type Feed struct {
	provider string
	product  string
	wsURL    string
	restURL  string
	http     *http.Client
	log      zerolog.Logger
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const (
	defaultCoinbaseURL     = "wss://ws-feed.exchange.coinbase.com"
	defaultCoinbaseRESTURL = "https://api.exchange.coinbase.com"
)

// WithWebsocketURL overrides the live endpoint; tests point it at httptest.
func WithWebsocketURL(url string) Option {
	return func(f *Feed) {
		if url != "" {
			f.wsURL = url
		}
	}
}

// WithRESTURL overrides the candle history endpoint.
func WithRESTURL(url string) Option {
	return func(f *Feed) {
		if url != "" {
			f.restURL = strings.TrimSuffix(url, "/")
		}
	}
}

// New constructs a feed backed by the requested provider.
func New(provider, product string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider: strings.ToLower(provider),
		product:  product,
		wsURL:    defaultCoinbaseURL,
		restURL:  defaultCoinbaseRESTURL,
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run streams ticks into out until the context is cancelled. Live providers
// reconnect on failure with exponential backoff; Run itself only returns on
// context cancellation or an unsupported provider.
func (f *Feed) Run(ctx context.Context, out chan<- Tick) error {
	switch f.provider {
	case ProviderCoinbase:
		return f.runCoinbase(ctx, out)
	case ProviderStub:
		return f.runStub(ctx, out)
	default:
		return fmt.Errorf("unknown feed provider %q", f.provider)
	}
}

func (f *Feed) runStub(ctx context.Context, out chan<- Tick) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	px := 64000.0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			px += 5.0
			select {
			case out <- Tick{Product: f.product, Price: px, Ts: ts}:
				metrics.TicksTotal.Inc()
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
