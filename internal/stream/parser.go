package stream

import (
	"encoding/json"
	"fmt"
)

// Command is a typed exchange command parsed off the wire.
type Command interface {
	// CommandOp returns the operation name used for metrics and dedup.
	CommandOp() string

	// Request returns the producer-assigned request id.
	Request() string
}

// ParseCommand converts a RawCommand into a typed command. The wire
// format is JSON with snake_case fields to match upstream producers.
func ParseCommand(raw RawCommand) (Command, error) {
	switch raw.Op {
	case "deposit":
		return parseDeposit(raw.Data)
	case "withdraw":
		return parseWithdraw(raw.Data)
	case "make_order":
		return parseMakeOrder(raw.Data)
	case "cancel_order":
		return parseCancelOrder(raw.Data)
	case "fill_order":
		return parseFillOrder(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command op: %s", raw.Op)
	}
}

// DepositCommand asks the engine to pull approved tokens into custody.
type DepositCommand struct {
	RequestID string `json:"request_id"`
	Asset     string `json:"asset"`
	Account   string `json:"account"`
	Amount    uint64 `json:"amount"`
}

func (c *DepositCommand) CommandOp() string { return "deposit" }
func (c *DepositCommand) Request() string   { return c.RequestID }

// WithdrawCommand asks the engine to push custodial tokens back out.
type WithdrawCommand struct {
	RequestID string `json:"request_id"`
	Asset     string `json:"asset"`
	Account   string `json:"account"`
	Amount    uint64 `json:"amount"`
}

func (c *WithdrawCommand) CommandOp() string { return "withdraw" }
func (c *WithdrawCommand) Request() string   { return c.RequestID }

// MakeOrderCommand places an offer on the book.
type MakeOrderCommand struct {
	RequestID  string `json:"request_id"`
	Account    string `json:"account"`
	TokenGet   string `json:"token_get"`
	AmountGet  uint64 `json:"amount_get"`
	TokenGive  string `json:"token_give"`
	AmountGive uint64 `json:"amount_give"`
}

func (c *MakeOrderCommand) CommandOp() string { return "make_order" }
func (c *MakeOrderCommand) Request() string   { return c.RequestID }

// CancelOrderCommand withdraws an open offer.
type CancelOrderCommand struct {
	RequestID string `json:"request_id"`
	Account   string `json:"account"`
	OrderID   uint64 `json:"order_id"`
}

func (c *CancelOrderCommand) CommandOp() string { return "cancel_order" }
func (c *CancelOrderCommand) Request() string   { return c.RequestID }

// FillOrderCommand executes an open offer.
type FillOrderCommand struct {
	RequestID string `json:"request_id"`
	Account   string `json:"account"`
	OrderID   uint64 `json:"order_id"`
}

func (c *FillOrderCommand) CommandOp() string { return "fill_order" }
func (c *FillOrderCommand) Request() string   { return c.RequestID }

func parseDeposit(data []byte) (*DepositCommand, error) {
	var c DepositCommand
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse deposit: %w", err)
	}
	if err := validateRequest(c.RequestID, c.Account); err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	if c.Asset == "" {
		return nil, fmt.Errorf("deposit: missing asset")
	}
	return &c, nil
}

func parseWithdraw(data []byte) (*WithdrawCommand, error) {
	var c WithdrawCommand
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse withdraw: %w", err)
	}
	if err := validateRequest(c.RequestID, c.Account); err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	if c.Asset == "" {
		return nil, fmt.Errorf("withdraw: missing asset")
	}
	return &c, nil
}

func parseMakeOrder(data []byte) (*MakeOrderCommand, error) {
	var c MakeOrderCommand
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse make_order: %w", err)
	}
	if err := validateRequest(c.RequestID, c.Account); err != nil {
		return nil, fmt.Errorf("make_order: %w", err)
	}
	if c.TokenGet == "" || c.TokenGive == "" {
		return nil, fmt.Errorf("make_order: missing token pair")
	}
	return &c, nil
}

func parseCancelOrder(data []byte) (*CancelOrderCommand, error) {
	var c CancelOrderCommand
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse cancel_order: %w", err)
	}
	if err := validateRequest(c.RequestID, c.Account); err != nil {
		return nil, fmt.Errorf("cancel_order: %w", err)
	}
	return &c, nil
}

func parseFillOrder(data []byte) (*FillOrderCommand, error) {
	var c FillOrderCommand
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse fill_order: %w", err)
	}
	if err := validateRequest(c.RequestID, c.Account); err != nil {
		return nil, fmt.Errorf("fill_order: %w", err)
	}
	return &c, nil
}

func validateRequest(requestID, account string) error {
	if requestID == "" {
		return fmt.Errorf("missing request_id")
	}
	if account == "" {
		return fmt.Errorf("missing account")
	}
	return nil
}
