package stream

import (
	"context"
	"log"

	"github.com/dangkhuong14/dEx-application/internal/engine"
	"github.com/dangkhuong14/dEx-application/internal/ledger"
)

// DedupWriter records processed request ids durably. Satisfied by
// persistence.PostgresDedupChecker.
type DedupWriter interface {
	MarkProcessed(ctx context.Context, op string, requestID string) error
}

// Processor drains the command channel and dispatches typed commands
// into the engine. Commands are acked after processing regardless of
// outcome: engine rejections are deterministic, so redelivery would
// only repeat the same rejection.
type Processor struct {
	engine      *engine.Engine
	deduper     *engine.RequestDeduper
	dedupWriter DedupWriter
	input       <-chan RawCommand
}

func NewProcessor(
	eng *engine.Engine,
	deduper *engine.RequestDeduper,
	dedupWriter DedupWriter,
	input <-chan RawCommand,
) *Processor {
	return &Processor{
		engine:      eng,
		deduper:     deduper,
		dedupWriter: dedupWriter,
		input:       input,
	}
}

// Run processes commands until ctx is cancelled or the channel closes.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-p.input:
			if !ok {
				return nil
			}
			p.handle(ctx, raw)
		}
	}
}

func (p *Processor) handle(ctx context.Context, raw RawCommand) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		// Malformed commands never become valid; ack to stop redelivery.
		log.Printf("WARN: dropping malformed command on %s: %v", raw.Subject, err)
		raw.AckFunc()
		return
	}

	op, requestID := cmd.CommandOp(), cmd.Request()

	if p.deduper != nil && p.deduper.IsDuplicate(op, requestID) {
		raw.AckFunc()
		return
	}

	if err := p.dispatch(cmd); err != nil {
		log.Printf("WARN: command %s request=%s rejected: %v", op, requestID, err)
		raw.AckFunc()
		return
	}

	if p.deduper != nil {
		p.deduper.MarkProcessed(op, requestID)
	}
	if p.dedupWriter != nil {
		if err := p.dedupWriter.MarkProcessed(ctx, op, requestID); err != nil {
			log.Printf("WARN: dedup write failed for %s:%s: %v", op, requestID, err)
		}
	}

	raw.AckFunc()
}

func (p *Processor) dispatch(cmd Command) error {
	switch c := cmd.(type) {
	case *DepositCommand:
		_, err := p.engine.Deposit(ledger.Asset(c.Asset), ledger.Account(c.Account), c.Amount)
		return err
	case *WithdrawCommand:
		_, err := p.engine.Withdraw(ledger.Asset(c.Asset), ledger.Account(c.Account), c.Amount)
		return err
	case *MakeOrderCommand:
		_, err := p.engine.MakeOrder(ledger.Account(c.Account),
			ledger.Asset(c.TokenGet), c.AmountGet,
			ledger.Asset(c.TokenGive), c.AmountGive)
		return err
	case *CancelOrderCommand:
		_, err := p.engine.CancelOrder(ledger.Account(c.Account), c.OrderID)
		return err
	case *FillOrderCommand:
		_, err := p.engine.FillOrder(ledger.Account(c.Account), c.OrderID)
		return err
	}
	return nil
}
