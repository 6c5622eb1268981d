// Package ledgertest holds the behaviour every ledger.Backend must share,
// run against each backend from its own package tests.
package ledgertest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinredeem.mini/ccr/internal/ledger"
	"coinredeem.mini/ccr/internal/types"
)

// RunBackend runs the shared backend checks. newBackend must return an
// empty backend on every call.
func RunBackend(t *testing.T, newBackend func(t *testing.T) ledger.Backend) {
	ctx := context.Background()
	admin := types.AccountAddress{0xad}

	t.Run("commit makes writes visible", func(t *testing.T) {
		b := newBackend(t)

		txn, err := b.Begin(ctx)
		require.NoError(t, err)
		st, err := ledger.Create(txn, admin)
		require.NoError(t, err)
		require.NoError(t, st.Issue(types.PublicKey{2}, 20))
		require.NoError(t, st.Issue(types.PublicKey{1}, 10))
		require.NoError(t, txn.Commit())

		txn, err = b.Begin(ctx)
		require.NoError(t, err)
		defer txn.Rollback()
		view, err := ledger.Open(txn).View()
		require.NoError(t, err)
		assert.Equal(t, admin, view.Admin)
		require.Len(t, view.Coins, 2)
		assert.Equal(t, types.PublicKey{2}, view.Coins[0].PublicKey)
		assert.Equal(t, types.PublicKey{1}, view.Coins[1].PublicKey)
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		b := newBackend(t)

		txn, err := b.Begin(ctx)
		require.NoError(t, err)
		st, err := ledger.Create(txn, admin)
		require.NoError(t, err)
		require.NoError(t, st.Issue(types.PublicKey{1}, 10))
		require.NoError(t, txn.Commit())

		txn, err = b.Begin(ctx)
		require.NoError(t, err)
		st = ledger.Open(txn)
		_, err = st.Redeem(types.PublicKey{1})
		require.NoError(t, err)
		require.NoError(t, st.Issue(types.PublicKey{3}, 30))
		require.NoError(t, st.SetAdmin(types.AccountAddress{0xee}))
		require.NoError(t, txn.Rollback())

		txn, err = b.Begin(ctx)
		require.NoError(t, err)
		defer txn.Rollback()
		view, err := ledger.Open(txn).View()
		require.NoError(t, err)
		assert.Equal(t, admin, view.Admin)
		require.Len(t, view.Coins, 1)
		assert.False(t, view.Coins[0].IsRedeemed)
	})

	t.Run("uncommitted writes are visible inside the transaction", func(t *testing.T) {
		b := newBackend(t)

		txn, err := b.Begin(ctx)
		require.NoError(t, err)
		defer txn.Rollback()
		st, err := ledger.Create(txn, admin)
		require.NoError(t, err)
		require.NoError(t, st.Issue(types.PublicKey{5}, 50))

		coin, err := st.Coin(types.PublicKey{5})
		require.NoError(t, err)
		assert.Equal(t, types.Amount(50), coin.Amount)

		amount, err := st.Redeem(types.PublicKey{5})
		require.NoError(t, err)
		assert.Equal(t, types.Amount(50), amount)
		_, err = st.Redeem(types.PublicKey{5})
		assert.ErrorIs(t, err, ledger.ErrCoinAlreadyRedeemed)
	})

	t.Run("redeem keeps insertion order", func(t *testing.T) {
		b := newBackend(t)

		txn, err := b.Begin(ctx)
		require.NoError(t, err)
		st, err := ledger.Create(txn, admin)
		require.NoError(t, err)
		for i := byte(1); i <= 3; i++ {
			require.NoError(t, st.Issue(types.PublicKey{i}, types.Amount(i)))
		}
		require.NoError(t, txn.Commit())

		txn, err = b.Begin(ctx)
		require.NoError(t, err)
		_, err = ledger.Open(txn).Redeem(types.PublicKey{2})
		require.NoError(t, err)
		require.NoError(t, txn.Commit())

		txn, err = b.Begin(ctx)
		require.NoError(t, err)
		defer txn.Rollback()
		view, err := ledger.Open(txn).View()
		require.NoError(t, err)
		require.Len(t, view.Coins, 3)
		for i, c := range view.Coins {
			assert.Equal(t, types.PublicKey{byte(i + 1)}, c.PublicKey)
			assert.Equal(t, i == 1, c.IsRedeemed)
		}
	})
}
