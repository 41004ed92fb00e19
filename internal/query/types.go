package query

import "encoding/json"

// BalanceResponse is a projected custodial balance. AsOfSequence is
// the projection watermark at query time; the live engine may be
// slightly ahead.
type BalanceResponse struct {
	Asset        string `json:"asset"`
	Account      string `json:"account"`
	Balance      uint64 `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// OpenOrderResponse is a projected open order.
type OpenOrderResponse struct {
	OrderID      uint64 `json:"order_id"`
	Creator      string `json:"creator"`
	TokenGet     string `json:"token_get"`
	AmountGet    uint64 `json:"amount_get"`
	TokenGive    string `json:"token_give"`
	AmountGive   uint64 `json:"amount_give"`
	Timestamp    int64  `json:"timestamp"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// TradeResponse is a completed fill read back from the record log.
type TradeResponse struct {
	Sequence   int64  `json:"sequence"`
	OrderID    uint64 `json:"order_id"`
	Creator    string `json:"creator"`
	Filler     string `json:"filler"`
	TokenGet   string `json:"token_get"`
	AmountGet  uint64 `json:"amount_get"`
	TokenGive  string `json:"token_give"`
	AmountGive uint64 `json:"amount_give"`
	Fee        uint64 `json:"fee"`
	Timestamp  int64  `json:"timestamp"`
}

// RecordResponse is a raw audit record with its chain hashes.
type RecordResponse struct {
	Sequence  int64           `json:"sequence"`
	Kind      string          `json:"kind"`
	RecordID  string          `json:"record_id"`
	Timestamp int64           `json:"timestamp"`
	StateHash string          `json:"state_hash"`
	PrevHash  string          `json:"prev_hash"`
	Payload   json.RawMessage `json:"payload"`
}

// NegativeBalance flags a projected balance below zero, which the
// engine's debit checks should make impossible.
type NegativeBalance struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Balance string `json:"balance"`
}

// IntegrityReport is the admin view of log and projection health.
type IntegrityReport struct {
	HashChainBreaks  []int64           `json:"hash_chain_breaks"`
	NegativeBalances []NegativeBalance `json:"negative_balances"`
	IsHealthy        bool              `json:"is_healthy"`
}
