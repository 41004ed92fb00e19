package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/dangkhuong14/dEx-application/internal/engine"
	"github.com/dangkhuong14/dEx-application/internal/event"
	"github.com/dangkhuong14/dEx-application/internal/ledger"
	"github.com/dangkhuong14/dEx-application/internal/observability"
)

// Worker maintains the read-side tables from processed outputs. The
// feed is lossy (drops under backpressure); projections are eventually
// consistent and can always be rebuilt from the record log.
type Worker struct {
	db      *sql.DB
	input   <-chan engine.Output
	metrics *observability.Metrics
	lastSeq int64
}

func NewWorker(db *sql.DB, input <-chan engine.Output, metrics *observability.Metrics) *Worker {
	return &Worker{db: db, input: input, metrics: metrics}
}

// Run consumes outputs until ctx is cancelled or the channel closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-w.input:
			if !ok {
				return nil
			}

			if err := w.apply(ctx, out); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v",
					out.Envelope.Sequence, err)
				continue
			}
			w.lastSeq = out.Envelope.Sequence
		}
	}
}

func (w *Worker) apply(ctx context.Context, out engine.Output) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if out.Batch != nil {
		for _, entry := range out.Batch.Entries {
			if err := w.applyEntry(ctx, tx, entry); err != nil {
				return fmt.Errorf("balance projection: %w", err)
			}
		}
	}
	if err := w.applyRecord(ctx, tx, out.Record); err != nil {
		return fmt.Errorf("order projection: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermarks (projection, sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (projection) DO UPDATE SET sequence = $1, updated_at = NOW()
	`, out.Envelope.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
	}
	return nil
}

func (w *Worker) applyEntry(ctx context.Context, tx *sql.Tx, entry ledger.Entry) error {
	amount := strconv.FormatUint(entry.Amount, 10)
	if entry.Op == ledger.OpDebit {
		amount = "-" + amount
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (asset, account, balance, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (asset, account)
		DO UPDATE SET balance = projections.balances.balance + $3, updated_at = NOW()
	`, string(entry.Asset), string(entry.Account), amount)
	return err
}

func (w *Worker) applyRecord(ctx context.Context, tx *sql.Tx, rec event.Record) error {
	switch r := rec.(type) {
	case *event.Order:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.open_orders
				(order_id, creator, token_get, amount_get, token_give, amount_give, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (order_id) DO NOTHING
		`, r.OrderID, r.Creator,
			r.TokenGet, strconv.FormatUint(r.AmountGet, 10),
			r.TokenGive, strconv.FormatUint(r.AmountGive, 10),
			r.Timestamp)
		return err

	case *event.Cancel:
		_, err := tx.ExecContext(ctx,
			`DELETE FROM projections.open_orders WHERE order_id = $1`, r.OrderID)
		return err

	case *event.Trade:
		_, err := tx.ExecContext(ctx,
			`DELETE FROM projections.open_orders WHERE order_id = $1`, r.OrderID)
		return err
	}

	// Deposit and Withdraw touch only balances.
	return nil
}

// Rebuild derives all projection tables from the record log. Used
// after a crash or whenever the watermark has fallen behind.
func Rebuild(ctx context.Context, db *sql.DB) error {
	truncate := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.open_orders`,
		`DELETE FROM projections.watermarks WHERE projection = 'main'`,
	}
	for _, stmt := range truncate {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Balances: signed sum of entries per (asset, account). Op 0 is
	// credit, 1 is debit.
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (asset, account, balance, updated_at)
		SELECT asset, account,
		       SUM(CASE WHEN op = 0 THEN amount ELSE -amount END),
		       NOW()
		FROM event_log.entries
		GROUP BY asset, account
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	// Open orders: order records with no later cancel or trade.
	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.open_orders
			(order_id, creator, token_get, amount_get, token_give, amount_give, timestamp)
		SELECT (payload->>'order_id')::BIGINT,
		       payload->>'creator',
		       payload->>'token_get',
		       (payload->>'amount_get')::NUMERIC,
		       payload->>'token_give',
		       (payload->>'amount_give')::NUMERIC,
		       (payload->>'timestamp')::BIGINT
		FROM event_log.records
		WHERE kind = 'order'
		  AND (payload->>'order_id')::BIGINT NOT IN (
			SELECT (payload->>'order_id')::BIGINT
			FROM event_log.records
			WHERE kind IN ('cancel', 'trade')
		  )
	`); err != nil {
		return fmt.Errorf("rebuild open orders: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO projections.watermarks (projection, sequence, updated_at)
		SELECT 'main', COALESCE(MAX(sequence), -1), NOW() FROM event_log.records
		ON CONFLICT (projection) DO UPDATE
			SET sequence = EXCLUDED.sequence, updated_at = NOW()
	`); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
