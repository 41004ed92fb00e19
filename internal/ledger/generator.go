package ledger

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// BatchGenerator builds ledger batches for exchange operations. The
// caller owns the global record sequence and passes it in; generation
// pre-checks balances against the live ledger so callers get a clean
// rejection before any side effect.
type BatchGenerator struct {
	ledger *Ledger
}

func NewBatchGenerator(l *Ledger) *BatchGenerator {
	return &BatchGenerator{
		ledger: l,
	}
}

// GenerateDeposit credits a confirmed inbound transfer to the
// depositor's balance.
func (g *BatchGenerator) GenerateDeposit(
	recordRef string,
	sequence int64,
	asset Asset,
	account Account,
	amount uint64,
	timestamp int64,
) (*Batch, error) {
	if g.ledger.Balance(asset, account) > math.MaxUint64-amount {
		return nil, fmt.Errorf("deposit pre-check: %w", ErrAmountOverflow)
	}

	batchID := uuid.New()
	batch := &Batch{
		BatchID:   batchID,
		RecordRef: recordRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Entries: []Entry{
			{
				EntryID:   uuid.New(),
				BatchID:   batchID,
				RecordRef: recordRef,
				Sequence:  sequence,
				Op:        OpCredit,
				Asset:     asset,
				Account:   account,
				Amount:    amount,
				Kind:      KindDeposit,
				Timestamp: timestamp,
			},
		},
	}

	return batch, nil
}

// GenerateWithdrawal debits the holder's balance ahead of the external
// push. Pre-check: the holder must cover the full amount.
func (g *BatchGenerator) GenerateWithdrawal(
	recordRef string,
	sequence int64,
	asset Asset,
	account Account,
	amount uint64,
	timestamp int64,
) (*Batch, error) {
	if have := g.ledger.Balance(asset, account); have < amount {
		return nil, fmt.Errorf("withdrawal pre-check (have %d, need %d): %w",
			have, amount, ErrInsufficientBalance)
	}

	batchID := uuid.New()
	batch := &Batch{
		BatchID:   batchID,
		RecordRef: recordRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Entries: []Entry{
			{
				EntryID:   uuid.New(),
				BatchID:   batchID,
				RecordRef: recordRef,
				Sequence:  sequence,
				Op:        OpDebit,
				Asset:     asset,
				Account:   account,
				Amount:    amount,
				Kind:      KindWithdrawal,
				Timestamp: timestamp,
			},
		},
	}

	return batch, nil
}

// GenerateWithdrawalReversal restores a debited balance after the
// external push was rejected. Shares the rejected withdrawal's record
// ref so the audit trail links the two.
func (g *BatchGenerator) GenerateWithdrawalReversal(
	recordRef string,
	sequence int64,
	asset Asset,
	account Account,
	amount uint64,
	timestamp int64,
) (*Batch, error) {
	if g.ledger.Balance(asset, account) > math.MaxUint64-amount {
		return nil, fmt.Errorf("withdrawal reversal pre-check: %w", ErrAmountOverflow)
	}

	batchID := uuid.New()
	batch := &Batch{
		BatchID:   batchID,
		RecordRef: recordRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Entries: []Entry{
			{
				EntryID:   uuid.New(),
				BatchID:   batchID,
				RecordRef: recordRef,
				Sequence:  sequence,
				Op:        OpCredit,
				Asset:     asset,
				Account:   account,
				Amount:    amount,
				Kind:      KindWithdrawalReversal,
				Timestamp: timestamp,
			},
		},
	}

	return batch, nil
}

// GenerateTrade builds the balance mutation for a fill: the filler
// spends amountGet plus fee of tokenGet, the creator receives amountGet
// and spends amountGive, the filler receives amountGive, and the fee
// account collects the fee. The fee entry is omitted when fee is zero.
// Pre-checks: the filler covers amountGet+fee, the creator still covers
// amountGive.
func (g *BatchGenerator) GenerateTrade(
	recordRef string,
	sequence int64,
	creator Account,
	filler Account,
	tokenGet Asset,
	amountGet uint64,
	tokenGive Asset,
	amountGive uint64,
	fee uint64,
	feeAccount Account,
	timestamp int64,
) (*Batch, error) {
	if amountGet > math.MaxUint64-fee {
		return nil, fmt.Errorf("trade pre-check: amountGet+fee: %w", ErrAmountOverflow)
	}
	totalSpend := amountGet + fee

	if have := g.ledger.Balance(tokenGet, filler); have < totalSpend {
		return nil, fmt.Errorf("trade pre-check: filler (have %d, need %d): %w",
			have, totalSpend, ErrInsufficientBalance)
	}
	if have := g.ledger.Balance(tokenGive, creator); have < amountGive {
		return nil, fmt.Errorf("trade pre-check: creator (have %d, need %d): %w",
			have, amountGive, ErrInsufficientBalance)
	}

	batchID := uuid.New()
	batch := &Batch{
		BatchID:   batchID,
		RecordRef: recordRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Entries:   make([]Entry, 0, 5),
	}

	add := func(op EntryOp, asset Asset, account Account, amount uint64, kind EntryKind) {
		batch.Entries = append(batch.Entries, Entry{
			EntryID:   uuid.New(),
			BatchID:   batchID,
			RecordRef: recordRef,
			Sequence:  sequence,
			Op:        op,
			Asset:     asset,
			Account:   account,
			Amount:    amount,
			Kind:      kind,
			Timestamp: timestamp,
		})
	}

	add(OpDebit, tokenGet, filler, totalSpend, KindTradeSpend)
	add(OpCredit, tokenGet, creator, amountGet, KindTradeReceive)
	if fee > 0 {
		add(OpCredit, tokenGet, feeAccount, fee, KindTradeFee)
	}
	add(OpDebit, tokenGive, creator, amountGive, KindTradeSpend)
	add(OpCredit, tokenGive, filler, amountGive, KindTradeReceive)

	return batch, nil
}
