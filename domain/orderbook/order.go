package orderbook

import "vela/domain/market"

// Order is one resting order in the book. Quantity only ever decreases via
// fills; an order whose quantity reaches zero is unlinked, never kept at
// zero size. The intrusive next/prev pointers form the FIFO queue of its
// price level and the level back-reference makes cancellation O(1).
type Order struct {
	ID       int64
	Price    int64
	Quantity int64
	Side     market.Side

	next, prev *Order
	level      *priceLevel
}

// priceLevel is the FIFO queue of all resting orders at one price on one
// side. Orders are appended at the tail and consumed from the head, which is
// what gives equal-priced orders their time priority.
type priceLevel struct {
	price    int64
	head     *Order
	tail     *Order
	totalQty int64
	count    int
}

func (l *priceLevel) enqueue(o *Order) {
	if l.head == nil {
		l.head = o
		l.tail = o
	} else {
		l.tail.next = o
		o.prev = l.tail
		l.tail = o
	}
	o.level = l
	l.totalQty += o.Quantity
	l.count++
}

func (l *priceLevel) unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		l.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		l.tail = o.prev
	}
	o.next, o.prev, o.level = nil, nil, nil
	l.totalQty -= o.Quantity
	l.count--
}

func (l *priceLevel) empty() bool { return l.head == nil }
