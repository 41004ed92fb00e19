package ledger

import "fmt"

// Asset identifies a token contract held in custody, by symbol.
type Asset string

// Account is an opaque external account identifier. The exchange never
// interprets it beyond equality.
type Account string

// balanceKey addresses one (asset, account) balance cell.
type balanceKey struct {
	Asset   Asset
	Account Account
}

// Path returns the string representation for storage/logging.
func (k balanceKey) Path() string {
	return fmt.Sprintf("%s:%s", k.Asset, k.Account)
}
