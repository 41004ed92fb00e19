package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// EntryOp is the direction of a single ledger mutation.
type EntryOp int32

const (
	OpCredit EntryOp = iota
	OpDebit
)

func (op EntryOp) String() string {
	switch op {
	case OpCredit:
		return "credit"
	case OpDebit:
		return "debit"
	}
	return "unknown"
}

// EntryKind represents the purpose of a ledger entry.
type EntryKind int32

const (
	KindDeposit EntryKind = iota
	KindWithdrawal
	KindWithdrawalReversal
	KindTradeSpend
	KindTradeReceive
	KindTradeFee
)

func (k EntryKind) String() string {
	switch k {
	case KindDeposit:
		return "deposit"
	case KindWithdrawal:
		return "withdrawal"
	case KindWithdrawalReversal:
		return "withdrawal_reversal"
	case KindTradeSpend:
		return "trade_spend"
	case KindTradeReceive:
		return "trade_receive"
	case KindTradeFee:
		return "trade_fee"
	}
	return "unknown"
}

// Entry is a single-sided balance mutation. Amounts are unsigned base
// units; the Op carries the direction.
type Entry struct {
	EntryID   uuid.UUID
	BatchID   uuid.UUID // Groups entries applied atomically
	RecordRef string    // ID of the audit record this entry belongs to
	Sequence  int64     // Global record sequence
	Op        EntryOp
	Asset     Asset
	Account   Account
	Amount    uint64
	Kind      EntryKind
	Timestamp int64 // Epoch microseconds
}

// Batch is an ordered set of entries applied all-or-nothing.
type Batch struct {
	BatchID   uuid.UUID
	RecordRef string
	Sequence  int64
	Timestamp int64
	Entries   []Entry
}

// Validate ensures the batch is well-formed. Balance sufficiency and
// overflow are checked at apply time against a staged view, since later
// entries may depend on earlier ones within the same batch.
func (b *Batch) Validate() error {
	if len(b.Entries) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, e := range b.Entries {
		if e.Amount == 0 {
			return fmt.Errorf("entry %s has zero amount", e.EntryID)
		}
		if e.BatchID != b.BatchID {
			return fmt.Errorf("entry %s has mismatched batch_id", e.EntryID)
		}
		if e.Account == "" {
			return fmt.Errorf("entry %s has empty account", e.EntryID)
		}
	}

	return nil
}
