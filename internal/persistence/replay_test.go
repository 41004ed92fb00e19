package persistence_test

import (
	"context"
	"testing"

	"github.com/dangkhuong14/dEx-application/internal/ledger"
	"github.com/dangkhuong14/dEx-application/internal/persistence"
	"github.com/dangkhuong14/dEx-application/internal/testutil"
)

// TestRecordLog_RoundTrip writes a realistic output sequence through
// the batch writer, loads it back, and restores a fresh engine from it.
func TestRecordLog_RoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	eng, dapp, persist := newEngine(t)
	fund(t, dapp, "alice", 500)
	fund(t, dapp, "bob", 220)

	if _, err := eng.Deposit("DAPP", "alice", 500); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Deposit("DAPP", "bob", 220); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.MakeOrder("alice", "DAPP", 100, "DAPP", 50); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.FillOrder("bob", 1); err != nil {
		t.Fatal(err)
	}

	var records []persistence.RecordRow
	var entries []persistence.EntryRow
	for len(persist) > 0 {
		rec, ents, err := persistence.BuildRows(<-persist)
		if err != nil {
			t.Fatal(err)
		}
		records = append(records, rec)
		entries = append(entries, ents...)
	}
	if len(records) != 4 {
		t.Fatalf("records: got %d, want 4", len(records))
	}

	writer := persistence.NewRecordLogWriter(db)
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := writer.WriteRecordBatch(ctx, tx, records); err != nil {
		t.Fatalf("write records: %v", err)
	}
	if err := writer.WriteEntryBatch(ctx, tx, entries); err != nil {
		t.Fatalf("write entries: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	recordLog := persistence.NewRecordLog(db)

	latest, err := recordLog.LatestSequence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest != 3 {
		t.Errorf("latest sequence: got %d, want 3", latest)
	}

	outputs, err := recordLog.LoadOutputsFrom(ctx, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 4 {
		t.Fatalf("loaded outputs: got %d, want 4", len(outputs))
	}

	// The order record carries no batch, everything else does.
	for i, out := range outputs {
		if out.Envelope.Sequence != int64(i) {
			t.Errorf("output %d: sequence %d", i, out.Envelope.Sequence)
		}
		wantBatch := out.Envelope.Kind.Subject() != "order"
		if (out.Batch != nil) != wantBatch {
			t.Errorf("output %d (%s): batch presence %v, want %v",
				i, out.Envelope.Kind.Subject(), out.Batch != nil, wantBatch)
		}
	}

	restored, _, _ := newEngine(t)
	if err := restored.Restore(outputs); err != nil {
		t.Fatalf("restore: %v", err)
	}

	for _, tc := range []struct {
		account string
		want    uint64
	}{
		{"alice", 550},
		{"bob", 160},
		{"feebank", 10},
	} {
		if got := restored.BalanceOf("DAPP", ledger.Account(tc.account)); got != tc.want {
			t.Errorf("restored balance %s: got %d, want %d", tc.account, got, tc.want)
		}
	}

	if restored.Sequence() != eng.Sequence() {
		t.Errorf("restored sequence: got %d, want %d", restored.Sequence(), eng.Sequence())
	}
	if restored.ChainTip() != eng.ChainTip() {
		t.Error("restored chain tip differs from live engine")
	}
}

// TestRecordLog_EmptyLog confirms cold-start semantics.
func TestRecordLog_EmptyLog(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if err := persistence.NewMigrator(db, "../../migrations").Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	recordLog := persistence.NewRecordLog(db)

	latest, err := recordLog.LatestSequence(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest != -1 {
		t.Errorf("latest sequence on empty log: got %d, want -1", latest)
	}

	outputs, err := recordLog.LoadOutputsFrom(ctx, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 0 {
		t.Errorf("outputs on empty log: got %d, want 0", len(outputs))
	}
}
