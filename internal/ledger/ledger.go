package ledger

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAmountOverflow is returned when a credit would exceed the
	// representable range of a balance or an asset total.
	ErrAmountOverflow = errors.New("amount overflow")
)

// Ledger maintains in-memory custodial balances per (asset, account)
// plus a running total per asset. Not thread-safe; callers serialize.
type Ledger struct {
	balances map[balanceKey]uint64
	totals   map[Asset]uint64
}

func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[balanceKey]uint64),
		totals:   make(map[Asset]uint64),
	}
}

// Balance returns the current balance for (asset, account). Unknown
// pairs read as zero.
func (l *Ledger) Balance(asset Asset, account Account) uint64 {
	return l.balances[balanceKey{Asset: asset, Account: account}]
}

// AssetTotal returns the sum of all account balances for an asset,
// which must equal the custody held at the external contract.
func (l *Ledger) AssetTotal(asset Asset) uint64 {
	return l.totals[asset]
}

// Credit increases a balance. Fails without mutation if the balance or
// the asset total would overflow.
func (l *Ledger) Credit(asset Asset, account Account, amount uint64) error {
	key := balanceKey{Asset: asset, Account: account}

	if l.balances[key] > math.MaxUint64-amount {
		return fmt.Errorf("credit %d to %s: %w", amount, key.Path(), ErrAmountOverflow)
	}
	if l.totals[asset] > math.MaxUint64-amount {
		return fmt.Errorf("credit %d to %s: asset total: %w", amount, key.Path(), ErrAmountOverflow)
	}

	l.balances[key] += amount
	l.totals[asset] += amount
	return nil
}

// Debit decreases a balance. Fails without mutation if the balance is
// insufficient; balances never go negative.
func (l *Ledger) Debit(asset Asset, account Account, amount uint64) error {
	key := balanceKey{Asset: asset, Account: account}

	if l.balances[key] < amount {
		return fmt.Errorf("debit %d from %s (have %d): %w",
			amount, key.Path(), l.balances[key], ErrInsufficientBalance)
	}

	l.balances[key] -= amount
	l.totals[asset] -= amount
	return nil
}

// Apply applies a batch all-or-nothing. Every entry is checked against
// a staged view before any balance is written, so an entry that fails
// mid-batch leaves the ledger untouched. Entries within a batch see the
// effects of earlier entries in the same batch.
func (l *Ledger) Apply(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	staged := make(map[balanceKey]uint64, len(batch.Entries))
	stagedTotals := make(map[Asset]uint64, len(batch.Entries))

	read := func(key balanceKey) uint64 {
		if v, ok := staged[key]; ok {
			return v
		}
		return l.balances[key]
	}
	readTotal := func(asset Asset) uint64 {
		if v, ok := stagedTotals[asset]; ok {
			return v
		}
		return l.totals[asset]
	}

	for i, e := range batch.Entries {
		key := balanceKey{Asset: e.Asset, Account: e.Account}
		balance := read(key)
		total := readTotal(e.Asset)

		switch e.Op {
		case OpCredit:
			if balance > math.MaxUint64-e.Amount {
				return fmt.Errorf("batch %s entry %d: credit %d to %s: %w",
					batch.BatchID, i, e.Amount, key.Path(), ErrAmountOverflow)
			}
			if total > math.MaxUint64-e.Amount {
				return fmt.Errorf("batch %s entry %d: asset total: %w", batch.BatchID, i, ErrAmountOverflow)
			}
			staged[key] = balance + e.Amount
			stagedTotals[e.Asset] = total + e.Amount
		case OpDebit:
			if balance < e.Amount {
				return fmt.Errorf("batch %s entry %d: debit %d from %s (have %d): %w",
					batch.BatchID, i, e.Amount, key.Path(), balance, ErrInsufficientBalance)
			}
			staged[key] = balance - e.Amount
			stagedTotals[e.Asset] = total - e.Amount
		default:
			return fmt.Errorf("batch %s entry %d: unknown op %d", batch.BatchID, i, e.Op)
		}
	}

	for key, v := range staged {
		l.balances[key] = v
	}
	for asset, v := range stagedTotals {
		l.totals[asset] = v
	}

	return nil
}

// Snapshot returns a copy of all balances (for state hashing).
func (l *Ledger) Snapshot() map[Asset]map[Account]uint64 {
	snapshot := make(map[Asset]map[Account]uint64)
	for key, balance := range l.balances {
		byAccount, ok := snapshot[key.Asset]
		if !ok {
			byAccount = make(map[Account]uint64)
			snapshot[key.Asset] = byAccount
		}
		byAccount[key.Account] = balance
	}
	return snapshot
}

// Assets returns every asset the ledger has seen, including those whose
// total has returned to zero.
func (l *Ledger) Assets() []Asset {
	assets := make([]Asset, 0, len(l.totals))
	for asset := range l.totals {
		assets = append(assets, asset)
	}
	return assets
}
