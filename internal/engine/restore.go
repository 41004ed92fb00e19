package engine

import (
	"fmt"

	"github.com/dangkhuong14/dEx-application/internal/event"
	"github.com/dangkhuong14/dEx-application/internal/ledger"
)

// Restore replays persisted outputs into a fresh engine. The record
// log is the only history: balances come from re-applying the batches,
// the order book from the Order/Cancel/Trade records. The hash chain
// is verified link by link while replaying.
func (e *Engine) Restore(outputs []Output) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.orders.Count() != 0 {
		return fmt.Errorf("restore into non-empty engine")
	}

	for _, out := range outputs {
		env := out.Envelope
		if env == nil || out.Record == nil {
			return fmt.Errorf("restore: output missing envelope or record")
		}

		if env.PrevHash != e.hasher.ChainTip() {
			return fmt.Errorf("restore: hash chain break at sequence %d", env.Sequence)
		}

		if out.Batch != nil {
			if err := e.balances.Apply(out.Batch); err != nil {
				return fmt.Errorf("restore sequence %d: %w", env.Sequence, err)
			}
		}

		switch rec := out.Record.(type) {
		case *event.Order:
			o := e.orders.Create(
				ledger.Account(rec.Creator),
				ledger.Asset(rec.TokenGet), rec.AmountGet,
				ledger.Asset(rec.TokenGive), rec.AmountGive,
				rec.Timestamp,
			)
			if o.ID != rec.OrderID {
				return fmt.Errorf("restore: order id drift, replayed %d recorded %d", o.ID, rec.OrderID)
			}
		case *event.Cancel:
			if err := e.orders.Cancel(rec.OrderID); err != nil {
				return fmt.Errorf("restore cancel %d: %w", rec.OrderID, err)
			}
		case *event.Trade:
			if err := e.orders.Fill(rec.OrderID); err != nil {
				return fmt.Errorf("restore fill %d: %w", rec.OrderID, err)
			}
		case *event.Deposit, *event.Withdraw:
			// Balance effects already replayed via the batch.
		default:
			return fmt.Errorf("restore: unknown record kind %T", out.Record)
		}

		e.hasher.RestoreChainTip(env.StateHash)
		e.sequence = env.Sequence + 1

		if e.metrics != nil {
			e.metrics.ReplayRecordsTotal.Inc()
		}
	}

	if e.metrics != nil {
		e.metrics.EngineSequence.Set(float64(e.sequence))
		e.metrics.OpenOrders.Set(float64(len(e.orders.Open())))
	}

	return nil
}
