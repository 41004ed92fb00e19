package asset

import (
	"errors"
	"fmt"

	"github.com/dangkhuong14/dEx-application/internal/ledger"
)

// ErrUnknownAsset is returned for assets with no registered contract.
var ErrUnknownAsset = errors.New("unknown asset")

// Registry maps ledger assets to their external token contracts.
// Registration happens at construction time; lookups afterwards are
// read-only, so no locking is needed.
type Registry struct {
	tokens map[ledger.Asset]Token
}

func NewRegistry() *Registry {
	return &Registry{
		tokens: make(map[ledger.Asset]Token),
	}
}

// Register binds an asset to its contract. Rebinding an asset is a
// configuration error.
func (r *Registry) Register(asset ledger.Asset, token Token) error {
	if asset == "" {
		return fmt.Errorf("empty asset symbol")
	}
	if _, exists := r.tokens[asset]; exists {
		return fmt.Errorf("asset %q already registered", asset)
	}
	r.tokens[asset] = token
	return nil
}

// Lookup returns the contract for an asset.
func (r *Registry) Lookup(asset ledger.Asset) (Token, error) {
	token, ok := r.tokens[asset]
	if !ok {
		return nil, fmt.Errorf("asset %q: %w", asset, ErrUnknownAsset)
	}
	return token, nil
}

// Assets returns all registered assets.
func (r *Registry) Assets() []ledger.Asset {
	assets := make([]ledger.Asset, 0, len(r.tokens))
	for asset := range r.tokens {
		assets = append(assets, asset)
	}
	return assets
}
