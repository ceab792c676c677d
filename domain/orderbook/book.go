// Package orderbook implements a price-time-priority limit order book for a
// single instrument.
//
// A Book is not internally synchronized. Exactly one goroutine owns it and
// calls AddOrder/CancelOrder/queries serially; parallelism across
// instruments comes from running one book (and one owning goroutine) per
// ticker. Sharing a book across goroutines without external coordination is
// a caller bug, not a supported mode.
package orderbook

import (
	"fmt"
	"time"

	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"

	"vela/domain/market"
)

// TradeSink receives each trade the matching loop produces. TryPublish must
// not block; a false return means the trade was dropped, which the book
// treats as fire-and-forget. The shm trade ring satisfies this in
// production, a recording stub satisfies it in tests.
type TradeSink interface {
	TryPublish(market.Trade) bool
}

// IDSource hands out trade ids.
type IDSource interface {
	Next() uint64
}

// Book holds the resting bid/ask state for one ticker.
//
// Invariant: every order reachable from orders is linked into exactly one
// price level on the side matching its Side field, at the price matching its
// Price field, and vice versa. Levels with no orders are removed from their
// side tree immediately, so neither tree ever holds an empty level.
type Book struct {
	ticker string
	tick   market.Ticker

	bids *rbt.Tree[int64, *priceLevel]
	asks *rbt.Tree[int64, *priceLevel]

	orders map[int64]*Order

	trades TradeSink
	ids    IDSource
}

// New creates an empty book. trades may be nil when no publication channel
// is attached (tests, fill-cost-only replicas).
func New(ticker string, trades TradeSink, ids IDSource) *Book {
	return &Book{
		ticker: ticker,
		tick:   market.NewTicker(ticker),
		bids:   rbt.New[int64, *priceLevel](),
		asks:   rbt.New[int64, *priceLevel](),
		orders: make(map[int64]*Order),
		trades: trades,
		ids:    ids,
	}
}

// Ticker returns the instrument this book matches.
func (b *Book) Ticker() string { return b.ticker }

// AddOrder matches the incoming order against the far side and rests any
// unfilled remainder on the near side. price must be strictly positive or
// the market sentinel for the given side; market orders never rest, an
// unfilled market remainder is discarded.
func (b *Book) AddOrder(orderID, price, quantity int64, side market.Side) error {
	if _, ok := b.orders[orderID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateOrderID, orderID)
	}
	if price != market.MarketPrice(side) && price <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPrice, price)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}

	if side == market.Bid {
		b.match(b.bids, b.asks, orderID, price, quantity, side)
	} else {
		b.match(b.asks, b.bids, orderID, price, quantity, side)
	}
	return nil
}

// match runs the price-time-priority loop: walk the far side's best levels
// while the incoming price crosses, consume each level's FIFO front to back,
// then rest the remainder (limit orders only) on the near side.
func (b *Book) match(near, far *rbt.Tree[int64, *priceLevel], orderID, price, quantity int64, side market.Side) {
	remaining := quantity

	for !far.Empty() && remaining > 0 {
		var node *rbt.Node[int64, *priceLevel]
		if side == market.Bid {
			node = far.Left() // lowest ask
		} else {
			node = far.Right() // highest bid
		}
		levelPrice, level := node.Key, node.Value

		// Crossing test. The sentinels compare past every real price, so
		// market orders fall through unconditionally.
		if (side == market.Bid && price < levelPrice) || (side == market.Ask && price > levelPrice) {
			break
		}

		for remaining > 0 && !level.empty() {
			maker := level.head

			// A market taker trades at the resting order's price, a limit
			// taker at its own limit price.
			tradePrice := price
			if market.IsMarketPrice(price) {
				tradePrice = maker.Price
			}

			if remaining >= maker.Quantity {
				traded := maker.Quantity
				remaining -= traded
				level.unlink(maker)
				delete(b.orders, maker.ID)
				b.publish(orderID, maker.ID, tradePrice, traded, side)
			} else {
				maker.Quantity -= remaining
				level.totalQty -= remaining
				b.publish(orderID, maker.ID, tradePrice, remaining, side)
				remaining = 0
			}
		}

		if level.empty() {
			far.Remove(levelPrice)
		}
	}

	if remaining > 0 && !market.IsMarketPrice(price) {
		o := &Order{ID: orderID, Price: price, Quantity: remaining, Side: side}
		level, ok := near.Get(price)
		if !ok {
			level = &priceLevel{price: price}
			near.Put(price, level)
		}
		level.enqueue(o)
		b.orders[orderID] = o
	}
}

// publish pushes one trade record into the sink. A full sink drops the
// trade; the matching loop never blocks on publication.
func (b *Book) publish(takerOrderID, makerOrderID, price, quantity int64, takerSide market.Side) {
	if b.trades == nil {
		return
	}
	var tradeID int64
	if b.ids != nil {
		tradeID = int64(b.ids.Next())
	}
	b.trades.TryPublish(market.Trade{
		Ticker:       b.tick,
		TradeID:      tradeID,
		TakerOrderID: takerOrderID,
		MakerOrderID: makerOrderID,
		Price:        price,
		Quantity:     quantity,
		CreatedNanos: time.Now().UnixNano(),
		TakerSide:    takerSide,
	})
}

// CancelOrder removes a resting order. The unlink is O(1) via the order's
// own list node; an emptied price level is removed from its side tree.
func (b *Book) CancelOrder(orderID int64) error {
	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}

	level := o.level
	level.unlink(o)
	if level.empty() {
		b.side(o.Side).Remove(level.price)
	}
	delete(b.orders, orderID)
	return nil
}

// BestOrder returns the order at the front of the best price level on a
// side: highest bid or lowest ask, earliest arrival first within the level.
func (b *Book) BestOrder(side market.Side) (*Order, error) {
	tree := b.side(side)
	if tree.Empty() {
		return nil, fmt.Errorf("%w: %s", ErrEmptySide, side)
	}
	if side == market.Bid {
		return tree.Right().Value.head, nil
	}
	return tree.Left().Value.head, nil
}

// OrderByID looks up a resting order in O(1).
func (b *Book) OrderByID(orderID int64) (*Order, error) {
	o, ok := b.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	return o, nil
}

// LevelAggregate returns the level-th best price level (0-indexed) on a side
// together with the total quantity resting at that price.
func (b *Book) LevelAggregate(side market.Side, level int) (market.LevelAggregate, error) {
	tree := b.side(side)
	if tree.Empty() {
		return market.LevelAggregate{}, fmt.Errorf("%w: %s", ErrEmptySide, side)
	}
	if level < 0 || level >= tree.Size() {
		return market.LevelAggregate{}, fmt.Errorf("%w: level %d on %s", ErrLevelOutOfRange, level, side)
	}

	it := tree.Iterator()
	if side == market.Bid {
		it.End()
		for i := 0; i <= level; i++ {
			it.Prev()
		}
	} else {
		it.Begin()
		for i := 0; i <= level; i++ {
			it.Next()
		}
	}
	lvl := it.Value()
	return market.LevelAggregate{Price: lvl.price, Quantity: lvl.totalQty}, nil
}

// Depth walks up to market.DepthLevels levels per side into a fixed-size
// snapshot, stopping early once a side runs out of levels. Read-only.
func (b *Book) Depth() market.BookDepth {
	depth := market.BookDepth{Ticker: b.tick}
	for i := 0; i < market.DepthLevels; i++ {
		agg, err := b.LevelAggregate(market.Bid, i)
		if err != nil {
			break
		}
		depth.Bids[i] = agg
	}
	for i := 0; i < market.DepthLevels; i++ {
		agg, err := b.LevelAggregate(market.Ask, i)
		if err != nil {
			break
		}
		depth.Asks[i] = agg
	}
	return depth
}

// FillCost prices a prospective order of the given size on the given side by
// walking the opposite side best to worst, without mutating the book. If the
// far side runs out the cost of the satisfiable part is returned.
func (b *Book) FillCost(quantity int64, side market.Side) (int64, error) {
	if quantity <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidQuantity, quantity)
	}
	far := b.side(side.Opposite())
	if far.Empty() {
		return 0, fmt.Errorf("%w: %s", ErrEmptySide, side.Opposite())
	}

	var cost int64
	it := far.Iterator()
	if side == market.Bid {
		it.Begin() // walk asks from the lowest price up
	} else {
		it.End() // walk bids from the highest price down
	}
	for quantity > 0 {
		if side == market.Bid {
			if !it.Next() {
				break
			}
		} else {
			if !it.Prev() {
				break
			}
		}
		lvl := it.Value()
		take := lvl.totalQty
		if take > quantity {
			take = quantity
		}
		cost += lvl.price * take
		quantity -= take
	}
	return cost, nil
}

// Levels reports the number of distinct price levels on a side.
func (b *Book) Levels(side market.Side) int { return b.side(side).Size() }

func (b *Book) side(side market.Side) *rbt.Tree[int64, *priceLevel] {
	if side == market.Bid {
		return b.bids
	}
	return b.asks
}
