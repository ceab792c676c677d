// Package market holds the value types shared by the matching engine, the
// market-data processor and everything in between. The Trade and BookDepth
// records cross process boundaries as raw bytes in shared memory, so they
// must keep a fixed, pointer-free layout.
package market

import "math"

const (
	// TickerLen is the fixed width of the ticker buffer in shm records.
	TickerLen = 8

	// DepthLevels is the number of price levels per side in a BookDepth.
	DepthLevels = 50

	// PriceScale converts decimal prices and quantities to fixed point.
	// 101.25 on the wire is 10125 inside the engine.
	PriceScale = 100

	// Shared-memory channel parameters. Capacities must be powers of two.
	TradeRingCapacity = 1024
	DepthRingCapacity = 1024
	TradeShmPrefix    = "vela_trade"
	DepthShmPrefix    = "vela_depth"
)

// Market orders are represented inside the price-keyed book by reserved
// sentinel prices that cross against any resting level.
const (
	MarketBidPrice int64 = math.MaxInt64
	MarketAskPrice int64 = math.MinInt64
)

// MarketPrice returns the sentinel for a marketable order on the given side.
func MarketPrice(side Side) int64 {
	if side == Bid {
		return MarketBidPrice
	}
	return MarketAskPrice
}

// IsMarketPrice reports whether price is one of the market sentinels.
func IsMarketPrice(price int64) bool {
	return price == MarketBidPrice || price == MarketAskPrice
}

// ToInternal converts a decimal wire amount to fixed point, rounding to the
// nearest tick.
func ToInternal(v float64) int64 {
	return int64(math.Round(v * PriceScale))
}

// ToDecimal converts a fixed-point amount back to its wire representation.
func ToDecimal(v int64) float64 {
	return float64(v) / PriceScale
}

// Ticker is a fixed-size, NUL-padded instrument symbol.
type Ticker [TickerLen]byte

// NewTicker copies s into a fixed buffer, truncating if necessary.
func NewTicker(s string) Ticker {
	var t Ticker
	copy(t[:], s)
	return t
}

func (t Ticker) String() string {
	n := 0
	for n < len(t) && t[n] != 0 {
		n++
	}
	return string(t[:n])
}
