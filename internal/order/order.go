package order

import (
	"errors"

	"github.com/dangkhuong14/dEx-application/internal/ledger"
)

var (
	// ErrNotFound is returned for order ids that were never issued.
	ErrNotFound = errors.New("order not found")

	// ErrClosed is returned when cancelling or filling an order that is
	// already cancelled or filled.
	ErrClosed = errors.New("order already closed")
)

// Order is an immutable limit offer: the creator wants amountGet of
// tokenGet and gives amountGive of tokenGive to whoever fills it. No
// funds are escrowed at creation; balances are checked again at fill
// time.
type Order struct {
	ID         uint64
	Creator    ledger.Account
	TokenGet   ledger.Asset
	AmountGet  uint64
	TokenGive  ledger.Asset
	AmountGive uint64
	Timestamp  int64 // Epoch microseconds, assigned at creation
}

// Status tracks the lifecycle flags of an order. Both flags are
// monotonic (false to true only) and mutually exclusive.
type Status struct {
	Cancelled bool
	Filled    bool
}

// Open reports whether the order can still be cancelled or filled.
func (s Status) Open() bool {
	return !s.Cancelled && !s.Filled
}
