package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dangkhuong14/dEx-application/internal/api"
	"github.com/dangkhuong14/dEx-application/internal/asset"
	"github.com/dangkhuong14/dEx-application/internal/engine"
	"github.com/dangkhuong14/dEx-application/internal/ledger"
	"github.com/dangkhuong14/dEx-application/internal/observability"
)

const (
	custody  = ledger.Account("exchange")
	deployer = ledger.Account("deployer")
)

func newTestServer(t *testing.T) (*api.Server, *engine.Engine, *asset.MemoryToken) {
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

	health := observability.NewHealthChecker()
	health.SetReady(true)

	deduper := engine.NewRequestDeduper(128, nil, nil)
	srv := api.NewServer(eng, nil, deduper, nil, health, nil)
	return srv, eng, dapp
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

func doJSON(t *testing.T, srv *api.Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestDepositEndpoint(t *testing.T) {
	srv, eng, dapp := newTestServer(t)
	fund(t, dapp, "alice", 500)

	w := doJSON(t, srv, http.MethodPost, "/api/deposits", map[string]interface{}{
		"request_id": "req-1",
		"asset":      "DAPP",
		"account":    "alice",
		"amount":     uint64(500),
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want 201 (body=%s)", w.Code, w.Body.String())
	}
	if got := eng.BalanceOf("DAPP", "alice"); got != 500 {
		t.Errorf("balance after deposit: got %d, want 500", got)
	}

	var resp struct {
		Balance uint64 `json:"balance"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Balance != 500 {
		t.Errorf("response balance: got %d, want 500", resp.Balance)
	}
}

func TestDepositEndpoint_MissingRequestID(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/deposits", map[string]interface{}{
		"asset":   "DAPP",
		"account": "alice",
		"amount":  uint64(1),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestDepositEndpoint_DuplicateRequest(t *testing.T) {
	srv, eng, dapp := newTestServer(t)
	fund(t, dapp, "alice", 1000)

	body := map[string]interface{}{
		"request_id": "req-dup",
		"asset":      "DAPP",
		"account":    "alice",
		"amount":     uint64(500),
	}

	if w := doJSON(t, srv, http.MethodPost, "/api/deposits", body); w.Code != http.StatusCreated {
		t.Fatalf("first deposit: got %d, want 201", w.Code)
	}
	if w := doJSON(t, srv, http.MethodPost, "/api/deposits", body); w.Code != http.StatusConflict {
		t.Errorf("replayed deposit: got %d, want 409", w.Code)
	}
	if got := eng.BalanceOf("DAPP", "alice"); got != 500 {
		t.Errorf("balance after replay: got %d, want 500 (applied once)", got)
	}
}

func TestDepositEndpoint_UnknownAsset(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/deposits", map[string]interface{}{
		"request_id": "req-2",
		"asset":      "DOGE",
		"account":    "alice",
		"amount":     uint64(1),
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}
}

func TestWithdrawEndpoint_Insufficient(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/withdrawals", map[string]interface{}{
		"request_id": "req-3",
		"asset":      "DAPP",
		"account":    "alice",
		"amount":     uint64(100),
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status: got %d, want 422 (body=%s)", w.Code, w.Body.String())
	}
}

func TestOrderLifecycleEndpoints(t *testing.T) {
	srv, eng, dapp := newTestServer(t)
	fund(t, dapp, "alice", 50)
	if _, err := eng.Deposit("DAPP", "alice", 50); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, srv, http.MethodPost, "/api/orders", map[string]interface{}{
		"request_id":  "req-4",
		"account":     "alice",
		"token_get":   "DAPP",
		"amount_get":  uint64(100),
		"token_give":  "DAPP",
		"amount_give": uint64(50),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("make order: got %d, want 201 (body=%s)", w.Code, w.Body.String())
	}

	var created struct {
		ID uint64 `json:"ID"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID != 1 {
		t.Fatalf("order id: got %d, want 1", created.ID)
	}

	// Cancel by the wrong account is forbidden.
	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", created.ID), map[string]interface{}{
		"request_id": "req-5",
		"account":    "mallory",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign cancel: got %d, want 403", w.Code)
	}

	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", created.ID), map[string]interface{}{
		"request_id": "req-6",
		"account":    "alice",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("creator cancel: got %d, want 200", w.Code)
	}

	// Filling a cancelled order conflicts.
	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/orders/%d/fill", created.ID), map[string]interface{}{
		"request_id": "req-7",
		"account":    "bob",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("fill cancelled: got %d, want 409", w.Code)
	}
}

func TestGetOrderEndpoint(t *testing.T) {
	srv, eng, dapp := newTestServer(t)
	fund(t, dapp, "alice", 50)
	if _, err := eng.Deposit("DAPP", "alice", 50); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.MakeOrder("alice", "DAPP", 100, "DAPP", 50); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, srv, http.MethodGet, "/api/orders/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}

	var resp struct {
		Cancelled bool `json:"cancelled"`
		Filled    bool `json:"filled"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Cancelled || resp.Filled {
		t.Error("fresh order should be open")
	}

	if w := doJSON(t, srv, http.MethodGet, "/api/orders/42", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown order: got %d, want 404", w.Code)
	}
}

func TestListOrdersEndpoint(t *testing.T) {
	srv, eng, dapp := newTestServer(t)
	fund(t, dapp, "alice", 50)
	if _, err := eng.Deposit("DAPP", "alice", 50); err != nil {
		t.Fatal(err)
	}
	fund(t, dapp, "bob", 5)
	if _, err := eng.Deposit("DAPP", "bob", 5); err != nil {
		t.Fatal(err)
	}

	if _, err := eng.MakeOrder("alice", "DAPP", 100, "DAPP", 50); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.MakeOrder("bob", "DAPP", 10, "DAPP", 5); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.CancelOrder("bob", 2); err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, srv, http.MethodGet, "/api/orders?status=open", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}

	var orders []struct {
		ID uint64 `json:"ID"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &orders); err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 || orders[0].ID != 1 {
		t.Errorf("open orders: got %+v, want just order 1", orders)
	}

	if w := doJSON(t, srv, http.MethodGet, "/api/orders?status=filled", nil); w.Code != http.StatusBadRequest {
		t.Errorf("unsupported status filter: got %d, want 400", w.Code)
	}
}

func TestBalanceEndpoint(t *testing.T) {
	srv, _, dapp := newTestServer(t)
	fund(t, dapp, "alice", 300)

	doJSON(t, srv, http.MethodPost, "/api/deposits", map[string]interface{}{
		"request_id": "req-8",
		"asset":      "DAPP",
		"account":    "alice",
		"amount":     uint64(300),
	})

	w := doJSON(t, srv, http.MethodGet, "/api/balances/DAPP/alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}

	var resp struct {
		Balance uint64 `json:"balance"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Balance != 300 {
		t.Errorf("balance: got %d, want 300", resp.Balance)
	}
}

func TestConfigEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/config", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", w.Code)
	}

	var resp struct {
		Custody    string `json:"custody"`
		FeeAccount string `json:"fee_account"`
		FeePercent uint64 `json:"fee_percent"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Custody != "exchange" || resp.FeeAccount != "feebank" || resp.FeePercent != 10 {
		t.Errorf("config: got %+v", resp)
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	if w := doJSON(t, srv, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Errorf("healthz: got %d, want 200", w.Code)
	}
	if w := doJSON(t, srv, http.MethodGet, "/readyz", nil); w.Code != http.StatusOK {
		t.Errorf("readyz: got %d, want 200", w.Code)
	}
}
