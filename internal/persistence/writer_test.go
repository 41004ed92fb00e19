package persistence_test

import (
	"encoding/json"
	"testing"

	"github.com/dangkhuong14/dEx-application/internal/asset"
	"github.com/dangkhuong14/dEx-application/internal/engine"
	"github.com/dangkhuong14/dEx-application/internal/event"
	"github.com/dangkhuong14/dEx-application/internal/ledger"
	"github.com/dangkhuong14/dEx-application/internal/persistence"
)

const (
	custody  = ledger.Account("exchange")
	deployer = ledger.Account("deployer")
)

// newEngine builds an engine with a single funded DAPP token and a
// buffered persist channel to capture outputs.
func newEngine(t *testing.T) (*engine.Engine, *asset.MemoryToken, chan engine.Output) {
	t.Helper()

	dapp := asset.NewMemoryToken("Dapp Token", "DAPP", 18, 1_000_000, deployer)
	registry := asset.NewRegistry()
	if err := registry.Register("DAPP", dapp); err != nil {
		t.Fatal(err)
	}

	persist := make(chan engine.Output, 256)
	eng, err := engine.NewEngine(engine.Config{
		Custody:    custody,
		FeeAccount: "feebank",
		FeePercent: 10,
	}, registry, persist, nil)
	if err != nil {
		t.Fatal(err)
	}
	return eng, dapp, persist
}

func fund(t *testing.T, tok *asset.MemoryToken, account ledger.Account, amount uint64) {
	t.Helper()
	if err := tok.Transfer(deployer, account, amount); err != nil {
		t.Fatal(err)
	}
	if err := tok.Approve(account, custody, amount); err != nil {
		t.Fatal(err)
	}
}

func TestBuildRows_Deposit(t *testing.T) {
	eng, dapp, persist := newEngine(t)
	fund(t, dapp, "alice", 500)

	if _, err := eng.Deposit("DAPP", "alice", 500); err != nil {
		t.Fatal(err)
	}
	out := <-persist

	rec, entries, err := persistence.BuildRows(out)
	if err != nil {
		t.Fatal(err)
	}

	if rec.Sequence != 0 {
		t.Errorf("sequence: got %d, want 0", rec.Sequence)
	}
	if rec.Kind != "deposit" {
		t.Errorf("kind: got %q, want %q", rec.Kind, "deposit")
	}
	if rec.RecordID != out.Envelope.RecordID {
		t.Errorf("record id: got %q, want %q", rec.RecordID, out.Envelope.RecordID)
	}
	if len(rec.StateHash) != 32 || len(rec.PrevHash) != 32 {
		t.Errorf("hash lengths: got %d/%d, want 32/32", len(rec.StateHash), len(rec.PrevHash))
	}

	var dep event.Deposit
	if err := json.Unmarshal(rec.Payload, &dep); err != nil {
		t.Fatal(err)
	}
	if dep.Account != "alice" || dep.Amount != 500 {
		t.Errorf("payload: got %+v", dep)
	}

	if len(entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Op != int32(ledger.OpCredit) || e.Asset != "DAPP" || e.Account != "alice" || e.Amount != 500 {
		t.Errorf("entry: got %+v", e)
	}
	if e.RecordRef != rec.RecordID {
		t.Errorf("record ref: got %q, want %q", e.RecordRef, rec.RecordID)
	}
}

func TestBuildRows_OrderHasNoEntries(t *testing.T) {
	eng, dapp, persist := newEngine(t)
	fund(t, dapp, "alice", 50)
	if _, err := eng.Deposit("DAPP", "alice", 50); err != nil {
		t.Fatal(err)
	}
	<-persist // deposit output

	if _, err := eng.MakeOrder("alice", "DAPP", 100, "DAPP", 50); err != nil {
		t.Fatal(err)
	}
	out := <-persist

	rec, entries, err := persistence.BuildRows(out)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Kind != "order" {
		t.Errorf("kind: got %q, want %q", rec.Kind, "order")
	}
	if entries != nil {
		t.Errorf("entries for order record: got %d, want none", len(entries))
	}
}
