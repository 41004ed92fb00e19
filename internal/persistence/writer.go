package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dangkhuong14/dEx-application/internal/engine"
)

// RecordRow is a row in event_log.records.
type RecordRow struct {
	Sequence  int64
	Kind      string // lower-case record kind
	RecordID  string
	Payload   []byte // JSON-encoded record
	StateHash []byte
	PrevHash  []byte
	Timestamp int64 // epoch microseconds
}

// EntryRow is a row in event_log.entries. Amounts are written as
// NUMERIC(20,0) so the full uint64 range survives the round trip.
type EntryRow struct {
	EntryID   string
	BatchID   string
	RecordRef string
	Sequence  int64
	Op        int32
	Asset     string
	Account   string
	Amount    uint64
	Kind      int32
	Timestamp int64
}

// BuildRows flattens an engine output into its database rows. Order
// lifecycle records carry no batch and produce no entry rows.
func BuildRows(out engine.Output) (RecordRow, []EntryRow, error) {
	payload, err := json.Marshal(out.Record)
	if err != nil {
		return RecordRow{}, nil, fmt.Errorf("marshal record %s: %w", out.Envelope.RecordID, err)
	}

	rec := RecordRow{
		Sequence:  out.Envelope.Sequence,
		Kind:      out.Envelope.Kind.Subject(),
		RecordID:  out.Envelope.RecordID,
		Payload:   payload,
		StateHash: out.Envelope.StateHash[:],
		PrevHash:  out.Envelope.PrevHash[:],
		Timestamp: out.Envelope.Timestamp,
	}

	if out.Batch == nil {
		return rec, nil, nil
	}

	entries := make([]EntryRow, 0, len(out.Batch.Entries))
	for _, e := range out.Batch.Entries {
		entries = append(entries, EntryRow{
			EntryID:   e.EntryID.String(),
			BatchID:   e.BatchID.String(),
			RecordRef: e.RecordRef,
			Sequence:  e.Sequence,
			Op:        int32(e.Op),
			Asset:     string(e.Asset),
			Account:   string(e.Account),
			Amount:    e.Amount,
			Kind:      int32(e.Kind),
			Timestamp: e.Timestamp,
		})
	}
	return rec, entries, nil
}

// RecordLogWriter batch-inserts records and entries into Postgres.
// Multi-row INSERT with ON CONFLICT DO NOTHING keeps the writes
// idempotent across worker retries and restarts.
type RecordLogWriter struct {
	db *sql.DB
}

func NewRecordLogWriter(db *sql.DB) *RecordLogWriter {
	return &RecordLogWriter{db: db}
}

// WriteRecordBatch inserts record rows inside the given transaction.
func (w *RecordLogWriter) WriteRecordBatch(ctx context.Context, tx *sql.Tx, records []RecordRow) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.records
		(sequence, kind, record_id, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*7)

	for i, r := range records {
		base := i * 7
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7,
		))
		args = append(args,
			r.Sequence, r.Kind, r.RecordID, r.Payload,
			r.StateHash, r.PrevHash, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteEntryBatch inserts entry rows inside the given transaction.
func (w *RecordLogWriter) WriteEntryBatch(ctx context.Context, tx *sql.Tx, entries []EntryRow) error {
	if len(entries) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.entries
		(entry_id, batch_id, record_ref, sequence, op, asset, account, amount, kind, timestamp)
		VALUES `

	values := make([]string, 0, len(entries))
	args := make([]interface{}, 0, len(entries)*10)

	for i, e := range entries {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			e.EntryID, e.BatchID, e.RecordRef, e.Sequence,
			e.Op, e.Asset, e.Account,
			strconv.FormatUint(e.Amount, 10),
			e.Kind, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (entry_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}
