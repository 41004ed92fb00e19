package persistence

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/dangkhuong14/dEx-application/internal/engine"
	"github.com/dangkhuong14/dEx-application/internal/observability"
)

// Worker drains the persist channel and batch-writes the record log to
// Postgres. The engine sends on the channel with blocking semantics, so
// if this worker falls behind the engine stalls rather than losing a
// record.
type Worker struct {
	writer       *RecordLogWriter
	db           *sql.DB
	input        <-chan engine.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	input <-chan engine.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewRecordLogWriter(db),
		db:           db,
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Run batches incoming outputs and flushes either when the batch is
// full or the flush timeout expires. Blocks until ctx is cancelled or
// the input channel closes.
func (w *Worker) Run(ctx context.Context) error {
	recordBatch := make([]RecordRow, 0, w.batchSize)
	entryBatch := make([]EntryRow, 0, w.batchSize*4)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(recordBatch) > 0 {
				if err := w.flush(context.Background(), recordBatch, entryBatch); err != nil {
					log.Printf("ERROR: final flush failed: %v", err)
				}
			}
			return ctx.Err()

		case out, ok := <-w.input:
			if !ok {
				if len(recordBatch) > 0 {
					if err := w.flush(context.Background(), recordBatch, entryBatch); err != nil {
						log.Printf("ERROR: final flush failed: %v", err)
					}
				}
				return nil
			}

			rec, entries, err := BuildRows(out)
			if err != nil {
				log.Printf("ERROR: dropping unserializable output: %v", err)
				continue
			}
			recordBatch = append(recordBatch, rec)
			entryBatch = append(entryBatch, entries...)

			if len(recordBatch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, recordBatch, entryBatch); err != nil {
					log.Printf("ERROR: batch flush failed after retries: %v", err)
				}
				recordBatch = recordBatch[:0]
				entryBatch = entryBatch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(recordBatch) > 0 {
				if err := w.flushWithRetry(ctx, recordBatch, entryBatch); err != nil {
					log.Printf("ERROR: timeout flush failed after retries: %v", err)
				}
				recordBatch = recordBatch[:0]
				entryBatch = entryBatch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never
// drops a batch; it retries until the write succeeds or the context is
// cancelled, in which case it attempts one final flush with a
// background context.
func (w *Worker) flushWithRetry(ctx context.Context, records []RecordRow, entries []EntryRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: persistence retry attempt %d (backoff=%v, records=%d)",
				attempt, backoff, len(records))
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), records, entries); err != nil {
					return err
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, records, entries)
		if err == nil {
			if attempt > 0 {
				log.Printf("INFO: persistence flush succeeded after %d retries", attempt)
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("flush").Inc()
		}
	}
}

// flush writes records and entries in a single transaction.
func (w *Worker) flush(ctx context.Context, records []RecordRow, entries []EntryRow) error {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteRecordBatch(ctx, tx, records); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_records").Inc()
		}
		return err
	}
	if err := w.writer.WriteEntryBatch(ctx, tx, entries); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_entries").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(records)))
		w.metrics.PersistRecordsWritten.Add(float64(len(records)))
		w.metrics.PersistEntriesWritten.Add(float64(len(entries)))
		w.metrics.PersistLastSequence.Set(float64(records[len(records)-1].Sequence))
	}

	return nil
}
