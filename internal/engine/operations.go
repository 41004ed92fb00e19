package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dangkhuong14/dEx-application/internal/event"
	"github.com/dangkhuong14/dEx-application/internal/ledger"
	"github.com/dangkhuong14/dEx-application/internal/order"
)

// Deposit pulls amount of a from the depositor's approval into custody
// and credits the depositor's ledger balance. The credit happens only
// after the pull succeeds; a rejected pull leaves the ledger untouched.
func (e *Engine) Deposit(a ledger.Asset, account ledger.Account, amount uint64) (*event.Deposit, error) {
	start := time.Now()

	if amount == 0 {
		e.rejected("deposit", "invalid_amount")
		return nil, fmt.Errorf("deposit: %w", ErrInvalidAmount)
	}

	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		e.rejected("deposit", "reentrant")
		return nil, fmt.Errorf("deposit: %w", ErrReentrantCall)
	}

	token, err := e.registry.Lookup(a)
	if err != nil {
		e.mu.Unlock()
		e.rejected("deposit", "unknown_asset")
		return nil, fmt.Errorf("deposit: %w", err)
	}

	// Overflow is checked before the pull so custody never ends up
	// holding tokens the ledger cannot account for.
	if e.balances.Balance(a, account) > math.MaxUint64-amount ||
		e.balances.AssetTotal(a) > math.MaxUint64-amount {
		e.mu.Unlock()
		e.rejected("deposit", "overflow")
		return nil, fmt.Errorf("deposit: %w", ledger.ErrAmountOverflow)
	}

	// External call window: guard set, lock released.
	e.busy = true
	e.mu.Unlock()

	pullErr := token.TransferFrom(e.custody, account, e.custody, amount)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.busy = false

	if pullErr != nil {
		e.rejected("deposit", "transfer_rejected")
		return nil, fmt.Errorf("deposit pull: %w", pullErr)
	}

	recordID := uuid.NewString()
	ts := e.clock.Now().UnixMicro()

	batch, err := e.gen.GenerateDeposit(recordID, e.sequence, a, account, amount, ts)
	if err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	if err := e.balances.Apply(batch); err != nil {
		return nil, fmt.Errorf("deposit apply: %w", err)
	}

	rec := &event.Deposit{
		ID:      recordID,
		Asset:   string(a),
		Account: string(account),
		Amount:  amount,
		Balance: e.balances.Balance(a, account),
	}
	e.emit(rec, batch, ts)

	e.applied("deposit")
	if e.metrics != nil {
		e.metrics.EngineOpDuration.WithLabelValues("deposit").Observe(time.Since(start).Seconds())
	}
	return rec, nil
}

// Withdraw debits the holder's ledger balance, then pushes the tokens
// out of custody. The debit comes first; if the push is rejected the
// debit is restored and the caller observes no state change.
func (e *Engine) Withdraw(a ledger.Asset, account ledger.Account, amount uint64) (*event.Withdraw, error) {
	start := time.Now()

	if amount == 0 {
		e.rejected("withdraw", "invalid_amount")
		return nil, fmt.Errorf("withdraw: %w", ErrInvalidAmount)
	}

	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		e.rejected("withdraw", "reentrant")
		return nil, fmt.Errorf("withdraw: %w", ErrReentrantCall)
	}

	token, err := e.registry.Lookup(a)
	if err != nil {
		e.mu.Unlock()
		e.rejected("withdraw", "unknown_asset")
		return nil, fmt.Errorf("withdraw: %w", err)
	}

	recordID := uuid.NewString()
	ts := e.clock.Now().UnixMicro()

	batch, err := e.gen.GenerateWithdrawal(recordID, e.sequence, a, account, amount, ts)
	if err != nil {
		e.mu.Unlock()
		e.rejected("withdraw", "insufficient_balance")
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	if err := e.balances.Apply(batch); err != nil {
		e.mu.Unlock()
		return nil, fmt.Errorf("withdraw apply: %w", err)
	}

	// External call window: the debit is already visible, so a token
	// that re-enters cannot double-spend the withdrawn amount.
	e.busy = true
	e.mu.Unlock()

	pushErr := token.Transfer(e.custody, account, amount)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.busy = false

	if pushErr != nil {
		reversal, genErr := e.gen.GenerateWithdrawalReversal(recordID, e.sequence, a, account, amount, ts)
		if genErr != nil {
			return nil, fmt.Errorf("withdraw reversal: %w", genErr)
		}
		if applyErr := e.balances.Apply(reversal); applyErr != nil {
			return nil, fmt.Errorf("withdraw reversal apply: %w", applyErr)
		}
		e.rejected("withdraw", "transfer_rejected")
		return nil, fmt.Errorf("withdraw push: %w", pushErr)
	}

	rec := &event.Withdraw{
		ID:      recordID,
		Asset:   string(a),
		Account: string(account),
		Amount:  amount,
		Balance: e.balances.Balance(a, account),
	}
	e.emit(rec, batch, ts)

	e.applied("withdraw")
	if e.metrics != nil {
		e.metrics.EngineOpDuration.WithLabelValues("withdraw").Observe(time.Since(start).Seconds())
	}
	return rec, nil
}

// MakeOrder records an offer. The creator must cover amountGive at
// creation time, but nothing is escrowed: the checked balance stays
// fully spendable and is re-validated when the order is filled.
func (e *Engine) MakeOrder(account ledger.Account, tokenGet ledger.Asset, amountGet uint64, tokenGive ledger.Asset, amountGive uint64) (order.Order, error) {
	start := time.Now()

	if amountGet == 0 || amountGive == 0 {
		e.rejected("make_order", "invalid_amount")
		return order.Order{}, fmt.Errorf("make order: %w", ErrInvalidAmount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.busy {
		e.rejected("make_order", "reentrant")
		return order.Order{}, fmt.Errorf("make order: %w", ErrReentrantCall)
	}

	if _, err := e.registry.Lookup(tokenGet); err != nil {
		e.rejected("make_order", "unknown_asset")
		return order.Order{}, fmt.Errorf("make order: %w", err)
	}
	if _, err := e.registry.Lookup(tokenGive); err != nil {
		e.rejected("make_order", "unknown_asset")
		return order.Order{}, fmt.Errorf("make order: %w", err)
	}

	if have := e.balances.Balance(tokenGive, account); have < amountGive {
		e.rejected("make_order", "insufficient_balance")
		return order.Order{}, fmt.Errorf("make order (have %d, need %d): %w",
			have, amountGive, ledger.ErrInsufficientBalance)
	}

	ts := e.clock.Now().UnixMicro()
	o := e.orders.Create(account, tokenGet, amountGet, tokenGive, amountGive, ts)

	rec := &event.Order{
		ID:         uuid.NewString(),
		OrderID:    o.ID,
		Creator:    string(o.Creator),
		TokenGet:   string(o.TokenGet),
		AmountGet:  o.AmountGet,
		TokenGive:  string(o.TokenGive),
		AmountGive: o.AmountGive,
		Timestamp:  o.Timestamp,
	}
	e.emit(rec, nil, ts)

	e.applied("make_order")
	if e.metrics != nil {
		e.metrics.OpenOrders.Inc()
		e.metrics.EngineOpDuration.WithLabelValues("make_order").Observe(time.Since(start).Seconds())
	}
	return o, nil
}

// CancelOrder withdraws an open offer. Only the creator may cancel;
// cancelled orders stay closed forever.
func (e *Engine) CancelOrder(account ledger.Account, id uint64) (*event.Cancel, error) {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.busy {
		e.rejected("cancel_order", "reentrant")
		return nil, fmt.Errorf("cancel order: %w", ErrReentrantCall)
	}

	o, err := e.orders.Get(id)
	if err != nil {
		e.rejected("cancel_order", "not_found")
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	if o.Creator != account {
		e.rejected("cancel_order", "unauthorized")
		return nil, fmt.Errorf("cancel order %d by %s: %w", id, account, ErrUnauthorized)
	}
	if err := e.orders.Cancel(id); err != nil {
		e.rejected("cancel_order", "closed")
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	ts := e.clock.Now().UnixMicro()
	rec := &event.Cancel{
		ID:         uuid.NewString(),
		OrderID:    o.ID,
		Creator:    string(o.Creator),
		TokenGet:   string(o.TokenGet),
		AmountGet:  o.AmountGet,
		TokenGive:  string(o.TokenGive),
		AmountGive: o.AmountGive,
		Timestamp:  ts,
	}
	e.emit(rec, nil, ts)

	e.applied("cancel_order")
	if e.metrics != nil {
		e.metrics.OpenOrders.Dec()
		e.metrics.EngineOpDuration.WithLabelValues("cancel_order").Observe(time.Since(start).Seconds())
	}
	return rec, nil
}

// FillOrder executes an open order at the filler's expense. The filler
// pays amountGet plus the fee in tokenGet; the creator's tokenGive
// balance is re-validated at fill time. All five balance mutations and
// the filled flag land together or not at all.
func (e *Engine) FillOrder(account ledger.Account, id uint64) (*event.Trade, error) {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.busy {
		e.rejected("fill_order", "reentrant")
		return nil, fmt.Errorf("fill order: %w", ErrReentrantCall)
	}

	o, err := e.orders.Get(id)
	if err != nil {
		e.rejected("fill_order", "not_found")
		return nil, fmt.Errorf("fill order: %w", err)
	}
	st, err := e.orders.Status(id)
	if err != nil {
		e.rejected("fill_order", "not_found")
		return nil, fmt.Errorf("fill order: %w", err)
	}
	if !st.Open() {
		e.rejected("fill_order", "closed")
		return nil, fmt.Errorf("fill order %d: %w", id, order.ErrClosed)
	}

	fee, err := e.computeFee(o.AmountGet)
	if err != nil {
		e.rejected("fill_order", "overflow")
		return nil, fmt.Errorf("fill order: %w", err)
	}

	recordID := uuid.NewString()
	ts := e.clock.Now().UnixMicro()

	batch, err := e.gen.GenerateTrade(recordID, e.sequence,
		o.Creator, account,
		o.TokenGet, o.AmountGet,
		o.TokenGive, o.AmountGive,
		fee, e.feeAccount, ts)
	if err != nil {
		e.rejected("fill_order", "insufficient_balance")
		return nil, fmt.Errorf("fill order: %w", err)
	}
	if err := e.balances.Apply(batch); err != nil {
		return nil, fmt.Errorf("fill order apply: %w", err)
	}
	if err := e.orders.Fill(id); err != nil {
		// Unreachable after the open check; the lock is held throughout.
		return nil, fmt.Errorf("fill order mark: %w", err)
	}

	rec := &event.Trade{
		ID:         recordID,
		OrderID:    o.ID,
		Creator:    string(o.Creator),
		TokenGet:   string(o.TokenGet),
		AmountGet:  o.AmountGet,
		TokenGive:  string(o.TokenGive),
		AmountGive: o.AmountGive,
		Filler:     string(account),
		Fee:        fee,
		Timestamp:  ts,
	}
	e.emit(rec, batch, ts)

	e.applied("fill_order")
	if e.metrics != nil {
		e.metrics.OpenOrders.Dec()
		e.metrics.EngineOpDuration.WithLabelValues("fill_order").Observe(time.Since(start).Seconds())
	}
	return rec, nil
}

// computeFee charges feePercent of amountGet, truncating toward zero.
func (e *Engine) computeFee(amountGet uint64) (uint64, error) {
	if e.feePercent == 0 {
		return 0, nil
	}
	if amountGet > math.MaxUint64/e.feePercent {
		return 0, fmt.Errorf("fee on %d: %w", amountGet, ledger.ErrAmountOverflow)
	}
	return amountGet * e.feePercent / 100, nil
}
