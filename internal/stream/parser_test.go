package stream_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dangkhuong14/dEx-application/internal/stream"
)

func rawFromJSON(t *testing.T, op string, v interface{}) stream.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return stream.RawCommand{
		Subject:   "test",
		Op:        op,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "req-001",
		"asset":      "DAPP",
		"account":    "alice",
		"amount":     uint64(1_000_000),
	}

	raw := rawFromJSON(t, "deposit", payload)
	cmd, err := stream.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dep, ok := cmd.(*stream.DepositCommand)
	if !ok {
		t.Fatalf("expected *stream.DepositCommand, got %T", cmd)
	}

	if dep.Asset != "DAPP" {
		t.Errorf("asset: got %s, want DAPP", dep.Asset)
	}
	if dep.Account != "alice" {
		t.Errorf("account: got %s, want alice", dep.Account)
	}
	if dep.Amount != 1_000_000 {
		t.Errorf("amount: got %d, want 1_000_000", dep.Amount)
	}
	if dep.CommandOp() != "deposit" {
		t.Errorf("op: got %s, want deposit", dep.CommandOp())
	}
	if dep.Request() != "req-001" {
		t.Errorf("request: got %s, want req-001", dep.Request())
	}
}

func TestParseWithdraw(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "req-002",
		"asset":      "mETH",
		"account":    "bob",
		"amount":     uint64(500),
	}

	raw := rawFromJSON(t, "withdraw", payload)
	cmd, err := stream.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	wd, ok := cmd.(*stream.WithdrawCommand)
	if !ok {
		t.Fatalf("expected *stream.WithdrawCommand, got %T", cmd)
	}
	if wd.Amount != 500 {
		t.Errorf("amount: got %d, want 500", wd.Amount)
	}
}

func TestParseMakeOrder(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":  "req-003",
		"account":     "alice",
		"token_get":   "mETH",
		"amount_get":  uint64(100),
		"token_give":  "DAPP",
		"amount_give": uint64(50),
	}

	raw := rawFromJSON(t, "make_order", payload)
	cmd, err := stream.ParseCommand(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	mk, ok := cmd.(*stream.MakeOrderCommand)
	if !ok {
		t.Fatalf("expected *stream.MakeOrderCommand, got %T", cmd)
	}
	if mk.TokenGet != "mETH" || mk.AmountGet != 100 {
		t.Errorf("get side: got %s/%d, want mETH/100", mk.TokenGet, mk.AmountGet)
	}
	if mk.TokenGive != "DAPP" || mk.AmountGive != 50 {
		t.Errorf("give side: got %s/%d, want DAPP/50", mk.TokenGive, mk.AmountGive)
	}
}

func TestParseCancelAndFill(t *testing.T) {
	cancelRaw := rawFromJSON(t, "cancel_order", map[string]interface{}{
		"request_id": "req-004",
		"account":    "alice",
		"order_id":   uint64(7),
	})
	cmd, err := stream.ParseCommand(cancelRaw)
	if err != nil {
		t.Fatalf("parse cancel failed: %v", err)
	}
	cancel, ok := cmd.(*stream.CancelOrderCommand)
	if !ok {
		t.Fatalf("expected *stream.CancelOrderCommand, got %T", cmd)
	}
	if cancel.OrderID != 7 {
		t.Errorf("order_id: got %d, want 7", cancel.OrderID)
	}

	fillRaw := rawFromJSON(t, "fill_order", map[string]interface{}{
		"request_id": "req-005",
		"account":    "bob",
		"order_id":   uint64(7),
	})
	cmd, err = stream.ParseCommand(fillRaw)
	if err != nil {
		t.Fatalf("parse fill failed: %v", err)
	}
	fill, ok := cmd.(*stream.FillOrderCommand)
	if !ok {
		t.Fatalf("expected *stream.FillOrderCommand, got %T", cmd)
	}
	if fill.OrderID != 7 {
		t.Errorf("order_id: got %d, want 7", fill.OrderID)
	}
}

func TestParseRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		op   string
		body map[string]interface{}
	}{
		{"missing request id", "deposit", map[string]interface{}{
			"asset": "DAPP", "account": "alice", "amount": uint64(1),
		}},
		{"missing account", "withdraw", map[string]interface{}{
			"request_id": "r", "asset": "DAPP", "amount": uint64(1),
		}},
		{"missing asset", "deposit", map[string]interface{}{
			"request_id": "r", "account": "alice", "amount": uint64(1),
		}},
		{"missing token pair", "make_order", map[string]interface{}{
			"request_id": "r", "account": "alice",
			"amount_get": uint64(1), "amount_give": uint64(1),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := rawFromJSON(t, tc.op, tc.body)
			if _, err := stream.ParseCommand(raw); err == nil {
				t.Error("expected parse error, got nil")
			}
		})
	}
}

func TestParseUnknownOp(t *testing.T) {
	raw := rawFromJSON(t, "liquidate", map[string]interface{}{})
	if _, err := stream.ParseCommand(raw); err == nil {
		t.Error("expected error for unknown op, got nil")
	}
}

func TestParseMalformedJSON(t *testing.T) {
	raw := stream.RawCommand{Op: "deposit", Data: []byte("{not json")}
	if _, err := stream.ParseCommand(raw); err == nil {
		t.Error("expected error for malformed JSON, got nil")
	}
}
