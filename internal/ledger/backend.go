package ledger

import (
	"context"
	"errors"
	"sync"

	"coinredeem.mini/ccr/internal/types"
)

// ErrTxnDone is returned when a finished transaction is used again.
var ErrTxnDone = errors.New("ledger transaction already finished")

// Txn is a Store whose writes become visible only after Commit. Rollback
// after Commit is a no-op, so callers may defer it.
type Txn interface {
	Store
	Commit() error
	Rollback() error
}

// Backend hands out transactions over a contract instance's storage.
type Backend interface {
	Begin(ctx context.Context) (Txn, error)
}

// MemoryBackend keeps committed state in memory. Each transaction buffers
// its writes in an overlay that Commit folds into the committed maps.
// Transactions are expected to be serialized by the caller; Commit takes
// the lock so readers see whole commits.
type MemoryBackend struct {
	mu    sync.RWMutex
	admin types.AccountAddress
	coins map[types.PublicKey]types.CoinState
	order []types.PublicKey
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{coins: make(map[types.PublicKey]types.CoinState)}
}

func (b *MemoryBackend) Begin(ctx context.Context) (Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryTxn{
		backend: b,
		writes:  make(map[types.PublicKey]types.CoinState),
	}, nil
}

type memoryTxn struct {
	backend  *MemoryBackend
	admin    *types.AccountAddress
	writes   map[types.PublicKey]types.CoinState
	inserted []types.PublicKey
	done     bool
}

func (t *memoryTxn) Admin() (types.AccountAddress, error) {
	if t.done {
		return types.AccountAddress{}, ErrTxnDone
	}
	if t.admin != nil {
		return *t.admin, nil
	}
	t.backend.mu.RLock()
	defer t.backend.mu.RUnlock()
	return t.backend.admin, nil
}

func (t *memoryTxn) SetAdmin(a types.AccountAddress) error {
	if t.done {
		return ErrTxnDone
	}
	t.admin = &a
	return nil
}

func (t *memoryTxn) Coin(key types.PublicKey) (types.CoinState, bool, error) {
	if t.done {
		return types.CoinState{}, false, ErrTxnDone
	}
	if c, ok := t.writes[key]; ok {
		return c, true, nil
	}
	t.backend.mu.RLock()
	defer t.backend.mu.RUnlock()
	c, ok := t.backend.coins[key]
	return c, ok, nil
}

func (t *memoryTxn) InsertCoin(key types.PublicKey, c types.CoinState) error {
	if t.done {
		return ErrTxnDone
	}
	if _, exists, _ := t.Coin(key); exists {
		return ErrCoinAlreadyExists
	}
	t.writes[key] = c
	t.inserted = append(t.inserted, key)
	return nil
}

func (t *memoryTxn) UpdateCoin(key types.PublicKey, c types.CoinState) error {
	if t.done {
		return ErrTxnDone
	}
	if _, exists, _ := t.Coin(key); !exists {
		return ErrCoinNotFound
	}
	t.writes[key] = c
	return nil
}

func (t *memoryTxn) Coins() ([]types.CoinView, error) {
	if t.done {
		return nil, ErrTxnDone
	}
	t.backend.mu.RLock()
	order := make([]types.PublicKey, 0, len(t.backend.order)+len(t.inserted))
	order = append(order, t.backend.order...)
	committed := make(map[types.PublicKey]types.CoinState, len(t.backend.order))
	for _, k := range t.backend.order {
		committed[k] = t.backend.coins[k]
	}
	t.backend.mu.RUnlock()
	order = append(order, t.inserted...)

	out := make([]types.CoinView, 0, len(order))
	for _, k := range order {
		c, ok := t.writes[k]
		if !ok {
			c = committed[k]
		}
		out = append(out, types.CoinView{PublicKey: k, CoinState: c})
	}
	return out, nil
}

func (t *memoryTxn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	b := t.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if t.admin != nil {
		b.admin = *t.admin
	}
	for k, c := range t.writes {
		b.coins[k] = c
	}
	b.order = append(b.order, t.inserted...)
	return nil
}

func (t *memoryTxn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return nil
}
