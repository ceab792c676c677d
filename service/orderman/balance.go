package orderman

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// ErrInsufficientBalance is returned when a debit would take a participant
// below zero.
var ErrInsufficientBalance = errors.New("insufficient balance")

// BalanceStore keeps per-participant, per-ticker cash balances in pebble.
// A participant first seen on a ticker starts with the configured credit.
type BalanceStore struct {
	db            *pebble.DB
	initialCredit int64
}

// OpenBalanceStore opens (or creates) the store at dir.
func OpenBalanceStore(dir string, initialCredit int64) (*BalanceStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open balance store %s: %w", dir, err)
	}
	return &BalanceStore{db: db, initialCredit: initialCredit}, nil
}

func balanceKey(participant, ticker string) []byte {
	return []byte(participant + "|" + ticker)
}

// Balance returns the participant's balance on a ticker, seeding the initial
// credit for unseen pairs.
func (s *BalanceStore) Balance(participant, ticker string) (int64, error) {
	value, closer, err := s.db.Get(balanceKey(participant, ticker))
	if errors.Is(err, pebble.ErrNotFound) {
		return s.initialCredit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	defer closer.Close()
	if len(value) != 8 {
		return 0, fmt.Errorf("corrupt balance record for %s|%s", participant, ticker)
	}
	return int64(binary.BigEndian.Uint64(value)), nil
}

// Apply adjusts a balance by delta and returns the new value. A debit past
// zero fails with ErrInsufficientBalance and leaves the balance untouched.
func (s *BalanceStore) Apply(participant, ticker string, delta int64) (int64, error) {
	current, err := s.Balance(participant, ticker)
	if err != nil {
		return 0, err
	}
	next := current + delta
	if next < 0 {
		return current, fmt.Errorf("%w: %s has %d on %s, needs %d", ErrInsufficientBalance,
			participant, current, ticker, -delta)
	}

	var value [8]byte
	binary.BigEndian.PutUint64(value[:], uint64(next))
	if err := s.db.Set(balanceKey(participant, ticker), value[:], pebble.Sync); err != nil {
		return 0, fmt.Errorf("write balance: %w", err)
	}
	return next, nil
}

// Close flushes and closes the underlying database.
func (s *BalanceStore) Close() error {
	return s.db.Close()
}
