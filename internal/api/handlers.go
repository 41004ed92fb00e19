package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dangkhuong14/dEx-application/internal/ledger"
)

// depositRequest doubles as the withdrawal body; both move one asset
// amount for one account.
type depositRequest struct {
	RequestID string `json:"request_id"`
	Asset     string `json:"asset"`
	Account   string `json:"account"`
	Amount    uint64 `json:"amount"`
}

type makeOrderRequest struct {
	RequestID  string `json:"request_id"`
	Account    string `json:"account"`
	TokenGet   string `json:"token_get"`
	AmountGet  uint64 `json:"amount_get"`
	TokenGive  string `json:"token_give"`
	AmountGive uint64 `json:"amount_give"`
}

type orderActionRequest struct {
	RequestID string `json:"request_id"`
	Account   string `json:"account"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.checkRequest(w, "deposit", req.RequestID, req.Account) {
		return
	}

	rec, err := s.engine.Deposit(ledger.Asset(req.Asset), ledger.Account(req.Account), req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.markProcessed(r, "deposit", req.RequestID)
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.checkRequest(w, "withdraw", req.RequestID, req.Account) {
		return
	}

	rec, err := s.engine.Withdraw(ledger.Asset(req.Asset), ledger.Account(req.Account), req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.markProcessed(r, "withdraw", req.RequestID)
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleMakeOrder(w http.ResponseWriter, r *http.Request) {
	var req makeOrderRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.checkRequest(w, "make_order", req.RequestID, req.Account) {
		return
	}

	o, err := s.engine.MakeOrder(ledger.Account(req.Account),
		ledger.Asset(req.TokenGet), req.AmountGet,
		ledger.Asset(req.TokenGive), req.AmountGive)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.markProcessed(r, "make_order", req.RequestID)
	s.writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.orderID(w, r)
	if !ok {
		return
	}
	var req orderActionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.checkRequest(w, "cancel_order", req.RequestID, req.Account) {
		return
	}

	rec, err := s.engine.CancelOrder(ledger.Account(req.Account), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.markProcessed(r, "cancel_order", req.RequestID)
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.orderID(w, r)
	if !ok {
		return
	}
	var req orderActionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.checkRequest(w, "fill_order", req.RequestID, req.Account) {
		return
	}

	rec, err := s.engine.FillOrder(ledger.Account(req.Account), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.markProcessed(r, "fill_order", req.RequestID)
	s.writeJSON(w, http.StatusOK, rec)
}

// --- Reads ---

// handleBalance serves the live engine balance, not the projection,
// so a caller sees its own writes immediately.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a, account := vars["asset"], vars["account"]

	balance := s.engine.BalanceOf(ledger.Asset(a), ledger.Account(account))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"asset":    a,
		"account":  account,
		"balance":  balance,
		"sequence": s.engine.Sequence(),
	})
}

func (s *Server) handleAccountBalances(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]

	balances, err := s.queries.ListBalances(r.Context(), account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balances)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.orderID(w, r)
	if !ok {
		return
	}

	o, st, err := s.engine.Order(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"order":     o,
		"cancelled": st.Cancelled,
		"filled":    st.Filled,
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	if status := r.URL.Query().Get("status"); status != "" && status != "open" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("unsupported status %q", status)})
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.OpenOrders())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	limit := queryLimit(r, 50)
	before := queryCursor(r)

	trades, err := s.queries.GetTrades(r.Context(), account, limit, before)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	limit := queryLimit(r, 50)
	before := queryCursor(r)

	records, err := s.queries.GetRecords(r.Context(), kind, limit, before)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"custody":     s.engine.Custody(),
		"fee_account": s.engine.FeeAccount(),
		"fee_percent": s.engine.FeePercent(),
		"sequence":    s.engine.Sequence(),
	})
}

func (s *Server) handleIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queries.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// --- Helpers ---

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return false
	}
	return true
}

// checkRequest validates the mutating-request envelope and rejects
// duplicates. A duplicate gets 409 so the caller knows the original
// already landed.
func (s *Server) checkRequest(w http.ResponseWriter, op, requestID, account string) bool {
	if requestID == "" || account == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "request_id and account are required"})
		return false
	}
	if s.deduper != nil && s.deduper.IsDuplicate(op, requestID) {
		s.writeJSON(w, http.StatusConflict, errorBody{Error: "duplicate request"})
		return false
	}
	return true
}

func (s *Server) markProcessed(r *http.Request, op, requestID string) {
	if s.deduper != nil {
		s.deduper.MarkProcessed(op, requestID)
	}
	if s.dedupStore != nil {
		if err := s.dedupStore.MarkProcessed(r.Context(), op, requestID); err != nil {
			s.logger.Warn().Err(err).
				Str("op", op).
				Str("request_id", requestID).
				Msg("dedup write failed")
		}
	}
}

func (s *Server) orderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid order id"})
		return 0, false
	}
	return id, true
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return fallback
	}
	return limit
}

func queryCursor(r *http.Request) *int64 {
	raw := r.URL.Query().Get("before")
	if raw == "" {
		return nil
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &cursor
}
