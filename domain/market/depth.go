package market

// LevelAggregate is one price level seen from the outside: the price and the
// total quantity resting across all orders at that price on one side.
type LevelAggregate struct {
	Price    int64
	Quantity int64
}

// BookDepth is a fixed-layout snapshot of the best DepthLevels price levels
// on each side of one book. Unused trailing levels are zero-valued. Like
// Trade it is copied byte-for-byte into shared memory, so it must stay
// pointer-free with a stable layout.
type BookDepth struct {
	Ticker Ticker
	Bids   [DepthLevels]LevelAggregate
	Asks   [DepthLevels]LevelAggregate
}

// DepthMessage is the outward JSON form of a BookDepth.
type DepthMessage struct {
	Ticker string         `json:"ticker"`
	Bids   []LevelMessage `json:"bids"`
	Asks   []LevelMessage `json:"asks"`
}

// LevelMessage is one occupied level in a DepthMessage.
type LevelMessage struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
}

// Message converts the snapshot into its wire representation, dropping the
// zero-valued tail levels.
func (d *BookDepth) Message() DepthMessage {
	msg := DepthMessage{
		Ticker: d.Ticker.String(),
		Bids:   make([]LevelMessage, 0, DepthLevels),
		Asks:   make([]LevelMessage, 0, DepthLevels),
	}
	for _, lvl := range d.Bids {
		if lvl.Quantity == 0 {
			break
		}
		msg.Bids = append(msg.Bids, LevelMessage{Price: ToDecimal(lvl.Price), Quantity: lvl.Quantity})
	}
	for _, lvl := range d.Asks {
		if lvl.Quantity == 0 {
			break
		}
		msg.Asks = append(msg.Asks, LevelMessage{Price: ToDecimal(lvl.Price), Quantity: lvl.Quantity})
	}
	return msg
}
