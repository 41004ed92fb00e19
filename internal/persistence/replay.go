package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/dangkhuong14/dEx-application/internal/engine"
	"github.com/dangkhuong14/dEx-application/internal/event"
	"github.com/dangkhuong14/dEx-application/internal/ledger"
)

// RecordLog reads the persisted record log back into engine outputs.
// On startup the full log is replayed through Engine.Restore; the log
// is the only durable history, there are no state snapshots.
type RecordLog struct {
	db *sql.DB
}

func NewRecordLog(db *sql.DB) *RecordLog {
	return &RecordLog{db: db}
}

// LatestSequence returns the highest sequence in the record log, or -1
// when the log is empty.
func (l *RecordLog) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := l.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM event_log.records`,
	).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}

// LoadOutputsFrom loads up to limit records starting at fromSequence,
// in sequence order, with their ledger batches reassembled.
func (l *RecordLog) LoadOutputsFrom(ctx context.Context, fromSequence int64, limit int) ([]engine.Output, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT sequence, kind, record_id, payload, state_hash, prev_hash, timestamp
		FROM event_log.records
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outputs []engine.Output
	for rows.Next() {
		var r RecordRow
		if err := rows.Scan(
			&r.Sequence, &r.Kind, &r.RecordID, &r.Payload,
			&r.StateHash, &r.PrevHash, &r.Timestamp,
		); err != nil {
			return nil, err
		}

		out, err := decodeRecordRow(r)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, nil
	}

	batches, err := l.loadBatches(ctx,
		outputs[0].Envelope.Sequence,
		outputs[len(outputs)-1].Envelope.Sequence,
	)
	if err != nil {
		return nil, err
	}
	for i := range outputs {
		outputs[i].Batch = batches[outputs[i].Envelope.Sequence]
	}

	return outputs, nil
}

// loadBatches reassembles ledger batches for a sequence range, keyed
// by sequence.
func (l *RecordLog) loadBatches(ctx context.Context, from, to int64) (map[int64]*ledger.Batch, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT entry_id, batch_id, record_ref, sequence, op, asset, account, amount, kind, timestamp
		FROM event_log.entries
		WHERE sequence BETWEEN $1 AND $2
		ORDER BY sequence ASC, timestamp ASC, entry_id ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := make(map[int64]*ledger.Batch)
	for rows.Next() {
		var row EntryRow
		var amount string
		if err := rows.Scan(
			&row.EntryID, &row.BatchID, &row.RecordRef, &row.Sequence,
			&row.Op, &row.Asset, &row.Account, &amount,
			&row.Kind, &row.Timestamp,
		); err != nil {
			return nil, err
		}

		entry, err := rowToEntry(row, amount)
		if err != nil {
			return nil, err
		}

		b, ok := batches[entry.Sequence]
		if !ok {
			b = &ledger.Batch{
				BatchID:   entry.BatchID,
				RecordRef: entry.RecordRef,
				Sequence:  entry.Sequence,
				Timestamp: entry.Timestamp,
			}
			batches[entry.Sequence] = b
		}
		b.Entries = append(b.Entries, entry)
	}

	return batches, rows.Err()
}

func rowToEntry(row EntryRow, amount string) (ledger.Entry, error) {
	entryID, err := uuid.Parse(row.EntryID)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("entry %s: %w", row.EntryID, err)
	}
	batchID, err := uuid.Parse(row.BatchID)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("entry %s batch: %w", row.EntryID, err)
	}
	value, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("entry %s amount %q: %w", row.EntryID, amount, err)
	}

	return ledger.Entry{
		EntryID:   entryID,
		BatchID:   batchID,
		RecordRef: row.RecordRef,
		Sequence:  row.Sequence,
		Op:        ledger.EntryOp(row.Op),
		Asset:     ledger.Asset(row.Asset),
		Account:   ledger.Account(row.Account),
		Amount:    value,
		Kind:      ledger.EntryKind(row.Kind),
		Timestamp: row.Timestamp,
	}, nil
}

func decodeRecordRow(r RecordRow) (engine.Output, error) {
	kind := event.ParseKind(r.Kind)

	rec, err := decodePayload(kind, r.Payload)
	if err != nil {
		return engine.Output{}, fmt.Errorf("record %d: %w", r.Sequence, err)
	}

	env := &event.Envelope{
		Sequence:  r.Sequence,
		Kind:      kind,
		RecordID:  r.RecordID,
		Timestamp: r.Timestamp,
	}
	if len(r.StateHash) != len(env.StateHash) || len(r.PrevHash) != len(env.PrevHash) {
		return engine.Output{}, fmt.Errorf("record %d: malformed hash", r.Sequence)
	}
	copy(env.StateHash[:], r.StateHash)
	copy(env.PrevHash[:], r.PrevHash)

	return engine.Output{Envelope: env, Record: rec}, nil
}

func decodePayload(kind event.Kind, payload []byte) (event.Record, error) {
	switch kind {
	case event.KindDeposit:
		var rec event.Deposit
		return &rec, json.Unmarshal(payload, &rec)
	case event.KindWithdraw:
		var rec event.Withdraw
		return &rec, json.Unmarshal(payload, &rec)
	case event.KindOrder:
		var rec event.Order
		return &rec, json.Unmarshal(payload, &rec)
	case event.KindCancel:
		var rec event.Cancel
		return &rec, json.Unmarshal(payload, &rec)
	case event.KindTrade:
		var rec event.Trade
		return &rec, json.Unmarshal(payload, &rec)
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
}
