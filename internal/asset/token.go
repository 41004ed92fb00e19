package asset

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/dangkhuong14/dEx-application/internal/ledger"
)

var (
	// ErrTransferRejected is returned when a token refuses to move funds.
	ErrTransferRejected = errors.New("transfer rejected")

	// ErrInsufficientAllowance is returned when a delegated transfer
	// exceeds the spender's approval.
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Token is the external asset contract the exchange holds custody
// against. Implementations may reject any transfer; the exchange treats
// a rejection as atomic (no partial movement).
type Token interface {
	// Transfer moves tokens from the caller's own balance.
	Transfer(from, to ledger.Account, amount uint64) error

	// TransferFrom moves tokens on behalf of a holder, consuming the
	// spender's allowance.
	TransferFrom(spender, from, to ledger.Account, amount uint64) error

	// Approve sets the spender's allowance over the owner's balance.
	Approve(owner, spender ledger.Account, amount uint64) error

	BalanceOf(account ledger.Account) uint64
	Allowance(owner, spender ledger.Account) uint64
}

// MemoryToken is an in-memory Token for local deployments and tests.
// It follows the standard approve/transferFrom custody handshake: the
// full supply is minted to the deployer.
type MemoryToken struct {
	name     string
	symbol   string
	decimals uint8
	supply   uint64

	mu         sync.Mutex
	balances   map[ledger.Account]uint64
	allowances map[allowanceKey]uint64
}

type allowanceKey struct {
	Owner   ledger.Account
	Spender ledger.Account
}

func NewMemoryToken(name, symbol string, decimals uint8, supply uint64, deployer ledger.Account) *MemoryToken {
	t := &MemoryToken{
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		supply:     supply,
		balances:   make(map[ledger.Account]uint64),
		allowances: make(map[allowanceKey]uint64),
	}
	t.balances[deployer] = supply
	return t
}

func (t *MemoryToken) Name() string        { return t.name }
func (t *MemoryToken) Symbol() string      { return t.symbol }
func (t *MemoryToken) Decimals() uint8     { return t.decimals }
func (t *MemoryToken) TotalSupply() uint64 { return t.supply }

func (t *MemoryToken) Transfer(from, to ledger.Account, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

func (t *MemoryToken) TransferFrom(spender, from, to ledger.Account, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := allowanceKey{Owner: from, Spender: spender}
	if t.allowances[key] < amount {
		return fmt.Errorf("%s: spender %s allowance %d < %d: %w",
			t.symbol, spender, t.allowances[key], amount, ErrInsufficientAllowance)
	}

	if err := t.move(from, to, amount); err != nil {
		return err
	}

	t.allowances[key] -= amount
	return nil
}

func (t *MemoryToken) Approve(owner, spender ledger.Account, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.allowances[allowanceKey{Owner: owner, Spender: spender}] = amount
	return nil
}

func (t *MemoryToken) BalanceOf(account ledger.Account) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account]
}

func (t *MemoryToken) Allowance(owner, spender ledger.Account) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[allowanceKey{Owner: owner, Spender: spender}]
}

// move transfers between balances. Callers hold the lock.
func (t *MemoryToken) move(from, to ledger.Account, amount uint64) error {
	if to == "" {
		return fmt.Errorf("%s: transfer to empty account: %w", t.symbol, ErrTransferRejected)
	}
	if t.balances[from] < amount {
		return fmt.Errorf("%s: %s has %d, needs %d: %w",
			t.symbol, from, t.balances[from], amount, ErrTransferRejected)
	}
	if t.balances[to] > math.MaxUint64-amount {
		return fmt.Errorf("%s: transfer to %s overflows: %w", t.symbol, to, ErrTransferRejected)
	}

	t.balances[from] -= amount
	t.balances[to] += amount
	return nil
}
