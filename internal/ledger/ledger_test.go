package ledger_test

import (
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/dangkhuong14/dEx-application/internal/ledger"
)

// ============================================================================
// Test: Ledger credit/debit
// ============================================================================

func TestLedger_InitialBalanceZero(t *testing.T) {
	l := ledger.NewLedger()

	if got := l.Balance("DAPP", "alice"); got != 0 {
		t.Errorf("initial balance should be 0, got %d", got)
	}
	if got := l.AssetTotal("DAPP"); got != 0 {
		t.Errorf("initial asset total should be 0, got %d", got)
	}
}

func TestLedger_CreditDebitRoundTrip(t *testing.T) {
	l := ledger.NewLedger()

	if err := l.Credit("DAPP", "alice", 1_000_000); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if got := l.Balance("DAPP", "alice"); got != 1_000_000 {
		t.Errorf("balance: got %d, want 1_000_000", got)
	}
	if got := l.AssetTotal("DAPP"); got != 1_000_000 {
		t.Errorf("asset total: got %d, want 1_000_000", got)
	}

	if err := l.Debit("DAPP", "alice", 1_000_000); err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if got := l.Balance("DAPP", "alice"); got != 0 {
		t.Errorf("balance after round trip: got %d, want 0", got)
	}
	if got := l.AssetTotal("DAPP"); got != 0 {
		t.Errorf("asset total after round trip: got %d, want 0", got)
	}
}

func TestLedger_DebitInsufficient_Fails(t *testing.T) {
	l := ledger.NewLedger()

	if err := l.Credit("DAPP", "alice", 100); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	err := l.Debit("DAPP", "alice", 101)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}

	// Failed debit leaves the balance untouched
	if got := l.Balance("DAPP", "alice"); got != 100 {
		t.Errorf("balance after failed debit: got %d, want 100", got)
	}
}

func TestLedger_CreditOverflow_Fails(t *testing.T) {
	l := ledger.NewLedger()

	if err := l.Credit("DAPP", "alice", math.MaxUint64); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	err := l.Credit("DAPP", "alice", 1)
	if !errors.Is(err, ledger.ErrAmountOverflow) {
		t.Errorf("expected ErrAmountOverflow, got %v", err)
	}
	if got := l.Balance("DAPP", "alice"); got != math.MaxUint64 {
		t.Errorf("balance after failed credit changed: got %d", got)
	}
}

func TestLedger_AssetTotalOverflow_Fails(t *testing.T) {
	l := ledger.NewLedger()

	if err := l.Credit("DAPP", "alice", math.MaxUint64); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	// Different account, same asset: the per-account balance is fine but
	// the asset total would wrap.
	err := l.Credit("DAPP", "bob", 1)
	if !errors.Is(err, ledger.ErrAmountOverflow) {
		t.Errorf("expected ErrAmountOverflow on asset total, got %v", err)
	}
	if got := l.Balance("DAPP", "bob"); got != 0 {
		t.Errorf("bob's balance after failed credit: got %d, want 0", got)
	}
}

func TestLedger_BalancesIsolatedByAssetAndAccount(t *testing.T) {
	l := ledger.NewLedger()

	if err := l.Credit("DAPP", "alice", 10); err != nil {
		t.Fatal(err)
	}
	if err := l.Credit("mETH", "alice", 20); err != nil {
		t.Fatal(err)
	}
	if err := l.Credit("DAPP", "bob", 30); err != nil {
		t.Fatal(err)
	}

	if got := l.Balance("DAPP", "alice"); got != 10 {
		t.Errorf("DAPP/alice: got %d, want 10", got)
	}
	if got := l.Balance("mETH", "alice"); got != 20 {
		t.Errorf("mETH/alice: got %d, want 20", got)
	}
	if got := l.Balance("DAPP", "bob"); got != 30 {
		t.Errorf("DAPP/bob: got %d, want 30", got)
	}
	if got := l.AssetTotal("DAPP"); got != 40 {
		t.Errorf("DAPP total: got %d, want 40", got)
	}
}

func TestLedger_Snapshot(t *testing.T) {
	l := ledger.NewLedger()

	if err := l.Credit("DAPP", "alice", 999); err != nil {
		t.Fatal(err)
	}

	snap := l.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}

	// Mutating the snapshot should not affect the ledger
	snap["DAPP"]["alice"] = 0

	if got := l.Balance("DAPP", "alice"); got != 999 {
		t.Error("ledger balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatchValidate_EmptyBatch_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID: uuid.New(),
		Entries: []ledger.Entry{},
	}

	if err := batch.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

func TestBatchValidate_ZeroAmount_Fails(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Entries: []ledger.Entry{
			{
				EntryID: uuid.New(),
				BatchID: batchID,
				Op:      ledger.OpCredit,
				Asset:   "DAPP",
				Account: "alice",
				Amount:  0,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("zero amount should fail validation")
	}
}

func TestBatchValidate_MismatchedBatchID_Fails(t *testing.T) {
	batch := &ledger.Batch{
		BatchID: uuid.New(),
		Entries: []ledger.Entry{
			{
				EntryID: uuid.New(),
				BatchID: uuid.New(), // Different batch ID
				Op:      ledger.OpCredit,
				Asset:   "DAPP",
				Account: "alice",
				Amount:  100,
			},
		},
	}

	if err := batch.Validate(); err == nil {
		t.Error("mismatched batch ID should fail validation")
	}
}

// ============================================================================
// Test: Batch apply (all-or-nothing)
// ============================================================================

func TestLedgerApply_AtomicAcrossEntries(t *testing.T) {
	l := ledger.NewLedger()
	if err := l.Credit("DAPP", "alice", 100); err != nil {
		t.Fatal(err)
	}

	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Entries: []ledger.Entry{
			{EntryID: uuid.New(), BatchID: batchID, Op: ledger.OpDebit, Asset: "DAPP", Account: "alice", Amount: 60},
			{EntryID: uuid.New(), BatchID: batchID, Op: ledger.OpCredit, Asset: "DAPP", Account: "bob", Amount: 60},
			// Fails: bob has 60 staged, not 61
			{EntryID: uuid.New(), BatchID: batchID, Op: ledger.OpDebit, Asset: "DAPP", Account: "bob", Amount: 61},
		},
	}

	err := l.Apply(batch)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Nothing was written
	if got := l.Balance("DAPP", "alice"); got != 100 {
		t.Errorf("alice after failed batch: got %d, want 100", got)
	}
	if got := l.Balance("DAPP", "bob"); got != 0 {
		t.Errorf("bob after failed batch: got %d, want 0", got)
	}
}

func TestLedgerApply_LaterEntrySeesEarlierEffect(t *testing.T) {
	l := ledger.NewLedger()

	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Entries: []ledger.Entry{
			{EntryID: uuid.New(), BatchID: batchID, Op: ledger.OpCredit, Asset: "DAPP", Account: "alice", Amount: 50},
			// Only valid because the first entry is staged
			{EntryID: uuid.New(), BatchID: batchID, Op: ledger.OpDebit, Asset: "DAPP", Account: "alice", Amount: 50},
		},
	}

	if err := l.Apply(batch); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if got := l.Balance("DAPP", "alice"); got != 0 {
		t.Errorf("alice: got %d, want 0", got)
	}
}

func TestLedgerApply_PreservesAssetTotals(t *testing.T) {
	l := ledger.NewLedger()
	if err := l.Credit("DAPP", "alice", 1_000); err != nil {
		t.Fatal(err)
	}

	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Entries: []ledger.Entry{
			{EntryID: uuid.New(), BatchID: batchID, Op: ledger.OpDebit, Asset: "DAPP", Account: "alice", Amount: 400},
			{EntryID: uuid.New(), BatchID: batchID, Op: ledger.OpCredit, Asset: "DAPP", Account: "bob", Amount: 400},
		},
	}

	if err := l.Apply(batch); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	// Internal transfer: custody total unchanged
	if got := l.AssetTotal("DAPP"); got != 1_000 {
		t.Errorf("asset total: got %d, want 1_000", got)
	}
}

// ============================================================================
// Test: BatchGenerator
// ============================================================================

func TestBatchGenerator_DepositBatch(t *testing.T) {
	l := ledger.NewLedger()
	gen := ledger.NewBatchGenerator(l)

	batch, err := gen.GenerateDeposit("rec-1", 1, "DAPP", "alice", 500, 1_700_000_000_000_000)
	if err != nil {
		t.Fatalf("GenerateDeposit failed: %v", err)
	}

	if len(batch.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(batch.Entries))
	}
	e := batch.Entries[0]
	if e.Op != ledger.OpCredit || e.Kind != ledger.KindDeposit {
		t.Errorf("unexpected entry op/kind: %v/%v", e.Op, e.Kind)
	}
	if batch.Sequence != 1 || e.Sequence != 1 {
		t.Errorf("batch/entry sequence: got %d/%d, want 1/1", batch.Sequence, e.Sequence)
	}

	if err := l.Apply(batch); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if got := l.Balance("DAPP", "alice"); got != 500 {
		t.Errorf("alice: got %d, want 500", got)
	}
}

func TestBatchGenerator_WithdrawalPreCheck(t *testing.T) {
	l := ledger.NewLedger()
	gen := ledger.NewBatchGenerator(l)

	_, err := gen.GenerateWithdrawal("rec-1", 1, "DAPP", "alice", 100, 0)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestBatchGenerator_TradeBatch(t *testing.T) {
	l := ledger.NewLedger()
	if err := l.Credit("mETH", "filler", 110); err != nil {
		t.Fatal(err)
	}
	if err := l.Credit("DAPP", "creator", 50); err != nil {
		t.Fatal(err)
	}

	gen := ledger.NewBatchGenerator(l)
	batch, err := gen.GenerateTrade("rec-1", 1, "creator", "filler", "mETH", 100, "DAPP", 50, 10, "fees", 0)
	if err != nil {
		t.Fatalf("GenerateTrade failed: %v", err)
	}

	if len(batch.Entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(batch.Entries))
	}

	if err := l.Apply(batch); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if got := l.Balance("mETH", "filler"); got != 0 {
		t.Errorf("filler mETH: got %d, want 0", got)
	}
	if got := l.Balance("mETH", "creator"); got != 100 {
		t.Errorf("creator mETH: got %d, want 100", got)
	}
	if got := l.Balance("mETH", "fees"); got != 10 {
		t.Errorf("fees mETH: got %d, want 10", got)
	}
	if got := l.Balance("DAPP", "creator"); got != 0 {
		t.Errorf("creator DAPP: got %d, want 0", got)
	}
	if got := l.Balance("DAPP", "filler"); got != 50 {
		t.Errorf("filler DAPP: got %d, want 50", got)
	}
}

func TestBatchGenerator_TradeZeroFee_OmitsFeeEntry(t *testing.T) {
	l := ledger.NewLedger()
	if err := l.Credit("mETH", "filler", 100); err != nil {
		t.Fatal(err)
	}
	if err := l.Credit("DAPP", "creator", 50); err != nil {
		t.Fatal(err)
	}

	gen := ledger.NewBatchGenerator(l)
	batch, err := gen.GenerateTrade("rec-1", 1, "creator", "filler", "mETH", 100, "DAPP", 50, 0, "fees", 0)
	if err != nil {
		t.Fatalf("GenerateTrade failed: %v", err)
	}

	if len(batch.Entries) != 4 {
		t.Fatalf("expected 4 entries with zero fee, got %d", len(batch.Entries))
	}
	for _, e := range batch.Entries {
		if e.Kind == ledger.KindTradeFee {
			t.Error("zero-fee trade should not carry a fee entry")
		}
	}
}

func TestBatchGenerator_TradeFillerCannotCoverFee(t *testing.T) {
	l := ledger.NewLedger()
	// Covers amountGet but not amountGet+fee
	if err := l.Credit("mETH", "filler", 100); err != nil {
		t.Fatal(err)
	}
	if err := l.Credit("DAPP", "creator", 50); err != nil {
		t.Fatal(err)
	}

	gen := ledger.NewBatchGenerator(l)
	_, err := gen.GenerateTrade("rec-1", 1, "creator", "filler", "mETH", 100, "DAPP", 50, 10, "fees", 0)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

// ============================================================================
// Test: CustodyValidator
// ============================================================================

type stubCustody struct {
	held uint64
}

func (s *stubCustody) BalanceOf(account ledger.Account) uint64 {
	return s.held
}

func TestCustodyValidator_MatchPasses(t *testing.T) {
	l := ledger.NewLedger()
	if err := l.Credit("DAPP", "alice", 1_000); err != nil {
		t.Fatal(err)
	}

	custody := &stubCustody{held: 1_000}
	v := ledger.NewCustodyValidator(l, "exchange", func(a ledger.Asset) (ledger.CustodyReader, bool) {
		return custody, true
	})

	if err := v.ValidateCustody("DAPP"); err != nil {
		t.Errorf("matching custody should pass: %v", err)
	}
	if err := v.ValidateAll(); err != nil {
		t.Errorf("ValidateAll should pass: %v", err)
	}
}

func TestCustodyValidator_MismatchFails(t *testing.T) {
	l := ledger.NewLedger()
	if err := l.Credit("DAPP", "alice", 1_000); err != nil {
		t.Fatal(err)
	}

	custody := &stubCustody{held: 999}
	v := ledger.NewCustodyValidator(l, "exchange", func(a ledger.Asset) (ledger.CustodyReader, bool) {
		return custody, true
	})

	if err := v.ValidateCustody("DAPP"); err == nil {
		t.Error("custody mismatch should fail")
	}
}
