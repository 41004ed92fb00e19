package event

// Order records the creation of an offer.
type Order struct {
	ID         string `json:"id"`
	OrderID    uint64 `json:"order_id"`
	Creator    string `json:"creator"`
	TokenGet   string `json:"token_get"`
	AmountGet  uint64 `json:"amount_get"`
	TokenGive  string `json:"token_give"`
	AmountGive uint64 `json:"amount_give"`
	Timestamp  int64  `json:"timestamp"`
}

func (o *Order) RecordID() string {
	return o.ID
}

func (o *Order) RecordKind() Kind {
	return KindOrder
}

// Cancel records the withdrawal of an offer by its creator. The order
// fields are echoed so consumers need not join against the Order record.
type Cancel struct {
	ID         string `json:"id"`
	OrderID    uint64 `json:"order_id"`
	Creator    string `json:"creator"`
	TokenGet   string `json:"token_get"`
	AmountGet  uint64 `json:"amount_get"`
	TokenGive  string `json:"token_give"`
	AmountGive uint64 `json:"amount_give"`
	Timestamp  int64  `json:"timestamp"`
}

func (c *Cancel) RecordID() string {
	return c.ID
}

func (c *Cancel) RecordKind() Kind {
	return KindCancel
}
