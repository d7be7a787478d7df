package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rruehl/Kalshi-Bot-V5/internal/candle"
)

// History fetches recent OHLCV bars over REST so the indicator starts warm
// instead of staying signal-blind for a full warm-up of live ticks. Only the
// coinbase provider has a history endpoint; the stub returns nothing. The
// newest (still forming) bucket is dropped so only final bars are seeded.
func (f *Feed) History(ctx context.Context, granularity time.Duration, limit int) ([]candle.Candle, error) {
	if f.provider != ProviderCoinbase {
		return nil, nil
	}

	url := fmt.Sprintf("%s/products/%s/candles?granularity=%d", f.restURL, f.product, int(granularity.Seconds()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch candle history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("candle history returned %d", resp.StatusCode)
	}

	// Rows arrive newest-first as [time, low, high, open, close, volume].
	var rows [][]float64
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode candle history: %w", err)
	}

	bars := make([]candle.Candle, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		bars = append(bars, candle.Candle{
			OpenTime: time.Unix(int64(r[0]), 0).UTC(),
			Low:      r[1],
			High:     r[2],
			Open:     r[3],
			Close:    r[4],
			Volume:   r[5],
			Closed:   true,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].OpenTime.Before(bars[j].OpenTime) })

	if len(bars) > 0 {
		bars = bars[:len(bars)-1]
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}
