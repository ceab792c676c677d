package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSide(t *testing.T) {
	side, err := ParseSide("bid")
	require.NoError(t, err)
	assert.Equal(t, Bid, side)

	side, err = ParseSide("ask")
	require.NoError(t, err)
	assert.Equal(t, Ask, side)

	_, err = ParseSide("sideways")
	assert.Error(t, err)
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, Ask, Bid.Opposite())
	assert.Equal(t, Bid, Ask.Opposite())
}

func TestMarketSentinels(t *testing.T) {
	assert.True(t, IsMarketPrice(MarketPrice(Bid)))
	assert.True(t, IsMarketPrice(MarketPrice(Ask)))
	assert.False(t, IsMarketPrice(10050))

	// A market bid must cross every ask, a market ask every bid.
	assert.Greater(t, MarketPrice(Bid), int64(1<<60))
	assert.Less(t, MarketPrice(Ask), int64(-(1 << 60)))
}

func TestFixedPointConversion(t *testing.T) {
	assert.Equal(t, int64(10050), ToInternal(100.50))
	assert.InDelta(t, 100.50, ToDecimal(10050), 1e-9)
	assert.Equal(t, int64(10), ToInternal(0.1))
}

func TestTickerRoundTrip(t *testing.T) {
	assert.Equal(t, "GME", NewTicker("GME").String())
	assert.Equal(t, "ABCDEFGH", NewTicker("ABCDEFGHIJ").String())
}

func TestDepthMessageDropsZeroTail(t *testing.T) {
	var d BookDepth
	d.Ticker = NewTicker("GME")
	d.Bids[0] = LevelAggregate{Price: 10100, Quantity: 10}
	d.Bids[1] = LevelAggregate{Price: 10000, Quantity: 20}
	d.Asks[0] = LevelAggregate{Price: 10200, Quantity: 5}

	m := d.Message()
	assert.Equal(t, "GME", m.Ticker)
	require.Len(t, m.Bids, 2)
	require.Len(t, m.Asks, 1)
	assert.InDelta(t, 101.0, m.Bids[0].Price, 1e-9)
	assert.Equal(t, int64(20), m.Bids[1].Quantity)
}

func TestTradeMessage(t *testing.T) {
	trade := Trade{
		Ticker:    NewTicker("GME"),
		TradeID:   7,
		Price:     10050,
		Quantity:  3,
		TakerSide: Bid,
	}
	m := trade.Message()
	assert.Equal(t, "GME", m.Ticker)
	assert.InDelta(t, 100.50, m.Price, 1e-9)
	assert.Equal(t, int64(3), m.Quantity)
	assert.Equal(t, "bid", m.TakerSide)
}
