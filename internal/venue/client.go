package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rruehl/Kalshi-Bot-V5/internal/metrics"
)

const (
	apiPrefix   = "/trade-api/v2"
	maxAttempts = 5
)

// Client talks to the venue's trade API with bounded retry on throttling and
// transport errors. It carries no decision logic; callers interpret staleness
// and settlement ambiguity themselves.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient builds a venue client. timeout guards each individual attempt.
func NewClient(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// OpenMarkets lists open market instances for a series.
func (c *Client) OpenMarkets(ctx context.Context, seriesTicker string) ([]Market, error) {
	params := url.Values{}
	params.Set("series_ticker", seriesTicker)
	params.Set("status", "open")

	var resp struct {
		Markets []Market `json:"markets"`
	}
	if err := c.do(ctx, http.MethodGet, "/markets", params, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Markets, nil
}

// Orderbook fetches resting liquidity for one ticker.
func (c *Client) Orderbook(ctx context.Context, ticker string, depth int) (Orderbook, error) {
	params := url.Values{}
	params.Set("depth", fmt.Sprintf("%d", depth))

	var resp struct {
		Orderbook Orderbook `json:"orderbook"`
	}
	if err := c.do(ctx, http.MethodGet, "/markets/"+ticker+"/orderbook", params, nil, &resp); err != nil {
		return Orderbook{}, err
	}
	return resp.Orderbook, nil
}

// MarketResult queries a single market for its settlement outcome. settled is
// false while the venue has not finalized; result is "yes" or "no" once it has.
func (c *Client) MarketResult(ctx context.Context, ticker string) (result string, settled bool, err error) {
	var resp struct {
		Market Market `json:"market"`
	}
	if err := c.do(ctx, http.MethodGet, "/markets/"+ticker, nil, nil, &resp); err != nil {
		return "", false, err
	}
	if !resp.Market.Settled() {
		return "", false, nil
	}
	return strings.ToLower(resp.Market.Result), true, nil
}

// CreateOrder submits a limit order. The price lands on the side-appropriate
// field; a fresh client_order_id makes accidental resubmission harmless.
func (c *Client) CreateOrder(ctx context.Context, ticker, side string, count, priceCents int) error {
	req := OrderRequest{
		Ticker:        ticker,
		Action:        "buy",
		Type:          "limit",
		Side:          side,
		Count:         count,
		ClientOrderID: uuid.NewString(),
	}
	if side == "yes" {
		req.YesPrice = priceCents
	} else {
		req.NoPrice = priceCents
	}
	return c.do(ctx, http.MethodPost, "/portfolio/orders", nil, req, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body, out any) error {
	target := c.baseURL + apiPrefix + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(float64(500*time.Millisecond)*float64(int(1)<<attempt)) +
				time.Duration(rand.Int63n(int64(250*time.Millisecond)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("KALSHI-ACCESS-KEY", c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			metrics.VenueRequestErrors.WithLabelValues(endpoint).Inc()
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("venue returned %d for %s", resp.StatusCode, endpoint)
			metrics.VenueRequestErrors.WithLabelValues(endpoint).Inc()
			continue
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			return fmt.Errorf("venue rejected %s: %d", endpoint, resp.StatusCode)
		}

		if out == nil {
			resp.Body.Close()
			return nil
		}
		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
		return nil
	}
	return fmt.Errorf("venue request %s failed after %d attempts: %w", endpoint, maxAttempts, lastErr)
}
