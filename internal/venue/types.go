// Package venue is the REST connector for the binary-options exchange.
package venue

import "time"

// Market is one open binary contract instance as reported by the venue.
type Market struct {
	Ticker      string    `json:"ticker"`
	EventTicker string    `json:"event_ticker"`
	Status      string    `json:"status"`
	Result      string    `json:"result"`
	FloorStrike float64   `json:"floor_strike"`
	StrikePrice float64   `json:"strike_price"`
	CloseTime   time.Time `json:"close_time"`
}

// Strike returns whichever strike field the venue populated for this series.
func (m Market) Strike() float64 {
	if m.FloorStrike != 0 {
		return m.FloorStrike
	}
	return m.StrikePrice
}

// Settled reports whether the market carries a final result.
func (m Market) Settled() bool {
	return (m.Status == "settled" || m.Status == "finalized") && m.Result != ""
}

// Orderbook holds resting bids per side as [price_cents, quantity] levels,
// unsorted as delivered by the venue.
type Orderbook struct {
	Yes [][2]int `json:"yes"`
	No  [][2]int `json:"no"`
}

// bestBid returns the highest resting bid on a side, 0 when the side is empty.
func bestBid(levels [][2]int) int {
	best := 0
	for _, l := range levels {
		if l[0] > best {
			best = l[0]
		}
	}
	return best
}

// BestYesBid returns the top YES bid in cents.
func (ob Orderbook) BestYesBid() int { return bestBid(ob.Yes) }

// BestNoBid returns the top NO bid in cents.
func (ob Orderbook) BestNoBid() int { return bestBid(ob.No) }

// TopLiquidity sums contract quantity over the first n levels of a side.
func TopLiquidity(levels [][2]int, n int) int {
	total := 0
	for i, l := range levels {
		if i >= n {
			break
		}
		total += l[1]
	}
	return total
}

// OrderRequest is a limit order placement payload.
type OrderRequest struct {
	Ticker        string `json:"ticker"`
	Action        string `json:"action"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	Count         int    `json:"count"`
	YesPrice      int    `json:"yes_price,omitempty"`
	NoPrice       int    `json:"no_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}
