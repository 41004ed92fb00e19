package event

// Trade records a completed fill. Creator is the order's author, Filler
// the account that executed it. Fee is denominated in TokenGet and was
// charged to the filler on top of AmountGet.
type Trade struct {
	ID         string `json:"id"`
	OrderID    uint64 `json:"order_id"`
	Creator    string `json:"creator"`
	TokenGet   string `json:"token_get"`
	AmountGet  uint64 `json:"amount_get"`
	TokenGive  string `json:"token_give"`
	AmountGive uint64 `json:"amount_give"`
	Filler     string `json:"filler"`
	Fee        uint64 `json:"fee"`
	Timestamp  int64  `json:"timestamp"`
}

func (t *Trade) RecordID() string {
	return t.ID
}

func (t *Trade) RecordKind() Kind {
	return KindTrade
}
