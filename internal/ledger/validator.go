package ledger

import "fmt"

// CustodyReader reads the custody held at an external asset contract.
type CustodyReader interface {
	BalanceOf(account Account) uint64
}

// CustodyValidator checks the custody invariant: for every asset, the
// sum of ledger balances equals the tokens the exchange holds at the
// asset contract.
type CustodyValidator struct {
	ledger  *Ledger
	custody Account
	lookup  func(Asset) (CustodyReader, bool)
}

func NewCustodyValidator(l *Ledger, custody Account, lookup func(Asset) (CustodyReader, bool)) *CustodyValidator {
	return &CustodyValidator{
		ledger:  l,
		custody: custody,
		lookup:  lookup,
	}
}

// ValidateCustody verifies the invariant for one asset.
func (v *CustodyValidator) ValidateCustody(asset Asset) error {
	reader, ok := v.lookup(asset)
	if !ok {
		return fmt.Errorf("no custody reader for asset %q", asset)
	}

	held := reader.BalanceOf(v.custody)
	total := v.ledger.AssetTotal(asset)
	if held != total {
		return fmt.Errorf("custody mismatch for asset %q: ledger total %d, held %d", asset, total, held)
	}

	return nil
}

// ValidateAll verifies the invariant for every asset the ledger has seen.
func (v *CustodyValidator) ValidateAll() error {
	for _, asset := range v.ledger.Assets() {
		if err := v.ValidateCustody(asset); err != nil {
			return err
		}
	}
	return nil
}
