// Package ledger holds the coin ledger of a contract instance: the admin
// account and the insertion-ordered map from coin key to coin state. State
// runs on a Store so the same rules apply to the in-memory backend used in
// tests and to the durable SQLite backend. A Store handed to State is
// normally a transaction: the caller commits it when the contract call
// succeeds and rolls it back otherwise.
package ledger

import (
	"errors"

	"coinredeem.mini/ccr/internal/types"
)

var (
	ErrCoinNotFound        = errors.New("coin not found")
	ErrCoinAlreadyRedeemed = errors.New("coin already redeemed")
	ErrCoinAlreadyExists   = errors.New("coin already exists")
)

// Store is the storage a State operates on.
type Store interface {
	Admin() (types.AccountAddress, error)
	SetAdmin(types.AccountAddress) error
	// Coin returns the coin and whether it exists.
	Coin(types.PublicKey) (types.CoinState, bool, error)
	// InsertCoin adds a coin at the end of the iteration order. The key
	// must not already exist.
	InsertCoin(types.PublicKey, types.CoinState) error
	// UpdateCoin overwrites an existing coin in place.
	UpdateCoin(types.PublicKey, types.CoinState) error
	// Coins lists every coin in insertion order.
	Coins() ([]types.CoinView, error)
}

// State is the coin ledger.
type State struct {
	store Store
}

// Open wraps an already initialized store.
func Open(store Store) *State {
	return &State{store: store}
}

// Create initializes an empty ledger with the given admin.
func Create(store Store, admin types.AccountAddress) (*State, error) {
	if err := store.SetAdmin(admin); err != nil {
		return nil, err
	}
	return &State{store: store}, nil
}

func (s *State) Admin() (types.AccountAddress, error) {
	return s.store.Admin()
}

// SetAdmin replaces the admin. Authorization is the caller's concern.
func (s *State) SetAdmin(admin types.AccountAddress) error {
	return s.store.SetAdmin(admin)
}

// Issue adds a new unredeemed coin.
func (s *State) Issue(key types.PublicKey, amount types.Amount) error {
	_, exists, err := s.store.Coin(key)
	if err != nil {
		return err
	}
	if exists {
		return ErrCoinAlreadyExists
	}
	return s.store.InsertCoin(key, types.CoinState{Amount: amount})
}

// Redeem marks the coin redeemed and returns its amount.
func (s *State) Redeem(key types.PublicKey) (types.Amount, error) {
	coin, exists, err := s.store.Coin(key)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrCoinNotFound
	}
	if coin.IsRedeemed {
		return 0, ErrCoinAlreadyRedeemed
	}
	coin.IsRedeemed = true
	if err := s.store.UpdateCoin(key, coin); err != nil {
		return 0, err
	}
	return coin.Amount, nil
}

// Coin looks up a single coin.
func (s *State) Coin(key types.PublicKey) (types.CoinState, error) {
	coin, exists, err := s.store.Coin(key)
	if err != nil {
		return coin, err
	}
	if !exists {
		return coin, ErrCoinNotFound
	}
	return coin, nil
}

// View returns every coin in insertion order together with the admin.
func (s *State) View() (types.ViewReturnData, error) {
	var v types.ViewReturnData
	coins, err := s.store.Coins()
	if err != nil {
		return v, err
	}
	admin, err := s.store.Admin()
	if err != nil {
		return v, err
	}
	if coins == nil {
		coins = []types.CoinView{}
	}
	v.Coins = coins
	v.Admin = admin
	return v, nil
}
