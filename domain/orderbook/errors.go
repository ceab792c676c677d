package orderbook

import "errors"

// Every rejected call maps to one of these sentinels. They are ordinary,
// recoverable outcomes on the matching hot path; callers reject the inbound
// request upstream and the book's invariants are untouched.
var (
	ErrDuplicateOrderID = errors.New("order id already exists in book")
	ErrInvalidPrice     = errors.New("price must be positive or a market sentinel")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrOrderNotFound    = errors.New("order id not found in book")
	ErrEmptySide        = errors.New("no resting orders on side")
	ErrLevelOutOfRange  = errors.New("price level does not exist on side")
)
