package market

// Trade is the immutable record of one matching step. It is written once by
// the matching engine and copied by value into the trade ring buffer; it is
// never mutated afterwards.
//
// Layout invariant: every field is either a fixed-size array or an 8-byte
// integer, with explicit tail padding, so the struct has the same size and
// offsets in every process that maps the trade segment.
type Trade struct {
	Ticker       Ticker
	TradeID      int64
	TakerOrderID int64
	MakerOrderID int64
	TakerID      int64
	MakerID      int64
	Price        int64
	Quantity     int64
	CreatedNanos int64
	TakerSide    Side
	_            [7]byte
}

// TradeMessage is the outward JSON form of a Trade, with fixed-point amounts
// converted back to decimals.
type TradeMessage struct {
	Ticker       string  `json:"ticker"`
	TradeID      int64   `json:"trade_id"`
	TakerOrderID int64   `json:"taker_order_id"`
	MakerOrderID int64   `json:"maker_order_id"`
	Price        float64 `json:"price"`
	Quantity     int64   `json:"quantity"`
	TakerSide    string  `json:"taker_side"`
	CreatedNanos int64   `json:"created_nanos"`
}

// Message converts the shm record into its wire representation.
func (t *Trade) Message() TradeMessage {
	return TradeMessage{
		Ticker:       t.Ticker.String(),
		TradeID:      t.TradeID,
		TakerOrderID: t.TakerOrderID,
		MakerOrderID: t.MakerOrderID,
		Price:        ToDecimal(t.Price),
		Quantity:     t.Quantity,
		TakerSide:    t.TakerSide.String(),
		CreatedNanos: t.CreatedNanos,
	}
}
