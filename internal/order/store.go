package order

import (
	"fmt"

	"github.com/dangkhuong14/dEx-application/internal/ledger"
)

// Store holds every order ever created, keyed by sequential id. Ids
// start at 1 and are never reused; cancelled and filled orders remain
// readable forever. Not thread-safe; the engine serializes access.
type Store struct {
	orders   map[uint64]Order
	statuses map[uint64]Status
	lastID   uint64
}

func NewStore() *Store {
	return &Store{
		orders:   make(map[uint64]Order),
		statuses: make(map[uint64]Status),
	}
}

// Create assigns the next id and records the order.
func (s *Store) Create(creator ledger.Account, tokenGet ledger.Asset, amountGet uint64, tokenGive ledger.Asset, amountGive uint64, timestamp int64) Order {
	s.lastID++
	o := Order{
		ID:         s.lastID,
		Creator:    creator,
		TokenGet:   tokenGet,
		AmountGet:  amountGet,
		TokenGive:  tokenGive,
		AmountGive: amountGive,
		Timestamp:  timestamp,
	}
	s.orders[o.ID] = o
	s.statuses[o.ID] = Status{}
	return o
}

// Get returns an order by id.
func (s *Store) Get(id uint64) (Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return o, nil
}

// Status returns the lifecycle flags for an order.
func (s *Store) Status(id uint64) (Status, error) {
	st, ok := s.statuses[id]
	if !ok {
		return Status{}, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	return st, nil
}

// Cancel marks an open order cancelled. Closed orders stay closed.
func (s *Store) Cancel(id uint64) error {
	st, ok := s.statuses[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if !st.Open() {
		return fmt.Errorf("order %d: %w", id, ErrClosed)
	}
	st.Cancelled = true
	s.statuses[id] = st
	return nil
}

// Fill marks an open order filled.
func (s *Store) Fill(id uint64) error {
	st, ok := s.statuses[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if !st.Open() {
		return fmt.Errorf("order %d: %w", id, ErrClosed)
	}
	st.Filled = true
	s.statuses[id] = st
	return nil
}

// Count returns how many orders have ever been created.
func (s *Store) Count() uint64 {
	return s.lastID
}

// Open returns every order that is neither cancelled nor filled,
// ordered by id.
func (s *Store) Open() []Order {
	open := make([]Order, 0)
	for id := uint64(1); id <= s.lastID; id++ {
		if s.statuses[id].Open() {
			open = append(open, s.orders[id])
		}
	}
	return open
}
