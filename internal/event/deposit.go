package event

// Deposit records a confirmed inbound transfer. Balance is the
// depositor's balance for the asset after the credit.
type Deposit struct {
	ID      string `json:"id"`
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
	Balance uint64 `json:"balance"`
}

func (d *Deposit) RecordID() string {
	return d.ID
}

func (d *Deposit) RecordKind() Kind {
	return KindDeposit
}

// Withdraw records a completed outbound transfer. Balance is the
// holder's balance for the asset after the debit.
type Withdraw struct {
	ID      string `json:"id"`
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
	Balance uint64 `json:"balance"`
}

func (w *Withdraw) RecordID() string {
	return w.ID
}

func (w *Withdraw) RecordKind() Kind {
	return KindWithdraw
}
