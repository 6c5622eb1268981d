package chain_test

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinredeem.mini/ccr/internal/chain"
	"coinredeem.mini/ccr/internal/codec"
	"coinredeem.mini/ccr/internal/contract"
	"coinredeem.mini/ccr/internal/identity"
	"coinredeem.mini/ccr/internal/metrics"
	"coinredeem.mini/ccr/internal/store"
	"coinredeem.mini/ccr/internal/types"
)

const (
	ccd        = types.MicroCCDPerCCD
	coinAmount = 10 * ccd
	now        = types.Timestamp(1_700_000_000_000)
)

type env struct {
	chain    *chain.Chain
	metrics  *metrics.Metrics
	admin    *identity.Identity
	holder   *identity.Identity
	sponsor  *identity.Identity
	coin     *identity.CoinKey
	contract types.ContractAddress
}

func newIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return identity.NewIdentity(priv)
}

func newEnv(t *testing.T, backends chain.Backends) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{
		metrics: metrics.New(),
		admin:   newIdentity(t),
		holder:  newIdentity(t),
		sponsor: newIdentity(t),
	}
	var err error
	e.coin, err = identity.GenerateCoinKey()
	require.NoError(t, err)

	e.chain = chain.New(backends, nil, e.metrics)
	e.chain.SetSlotTime(now)
	require.NoError(t, e.chain.CreateAccount(chain.SingleKeyAccount(e.admin.Key(), 1000*ccd)))
	require.NoError(t, e.chain.CreateAccount(chain.SingleKeyAccount(e.holder.Key(), 0)))
	require.NoError(t, e.chain.CreateAccount(chain.SingleKeyAccount(e.sponsor.Key(), 5*ccd)))

	coins := types.CoinList{Coins: []types.CoinEntry{{PublicKey: e.coin.PublicKey(), Amount: coinAmount}}}
	e.contract, err = e.chain.InitContract(ctx, types.InitPayload{
		Sender:    e.admin.Address(),
		Amount:    100 * ccd,
		Parameter: codec.EncodeCoinList(coins),
	})
	require.NoError(t, err)
	return e
}

func (e *env) update(sender types.AccountAddress, entry string, param []byte) (chain.Result, error) {
	return e.chain.Update(context.Background(), types.UpdatePayload{
		Sender:     sender,
		Contract:   e.contract,
		EntryPoint: entry,
		Parameter:  param,
	})
}

func (e *env) view(t *testing.T) types.ViewReturnData {
	t.Helper()
	res, err := e.chain.Invoke(context.Background(), types.UpdatePayload{Contract: e.contract, EntryPoint: contract.EntryView})
	require.NoError(t, err)
	v, err := codec.DecodeViewReturnData(res.ReturnValue)
	require.NoError(t, err)
	return v
}

func (e *env) balance(t *testing.T, id *identity.Identity) types.Amount {
	t.Helper()
	a, ok := e.chain.Account(id.Address())
	require.True(t, ok)
	return a.Balance
}

func (e *env) contractBalance(t *testing.T) types.Amount {
	t.Helper()
	info, ok := e.chain.Contract(e.contract)
	require.True(t, ok)
	return info.Balance
}

func backendsUnderTest() map[string]func(t *testing.T) chain.Backends {
	return map[string]func(t *testing.T) chain.Backends{
		"memory": func(t *testing.T) chain.Backends { return chain.NewMemoryBackends() },
		"sqlite": func(t *testing.T) chain.Backends {
			s, err := store.NewStore(filepath.Join(t.TempDir(), "ccr.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestInitContract(t *testing.T) {
	for name, newBackends := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, newBackends(t))

			assert.Equal(t, types.ContractAddress{Index: 0}, e.contract)
			assert.Equal(t, 900*ccd, e.balance(t, e.admin))
			assert.Equal(t, 100*ccd, e.contractBalance(t))

			v := e.view(t)
			assert.Equal(t, e.admin.Address(), v.Admin)
			require.Len(t, v.Coins, 1)
			assert.Equal(t, e.coin.PublicKey(), v.Coins[0].PublicKey)
		})
	}
}

func TestDirectRedeem(t *testing.T) {
	for name, newBackends := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, newBackends(t))
			param := codec.EncodeRedeemParam(e.coin.RedeemParam(e.holder.Address()))

			res, err := e.update(e.holder.Address(), contract.EntryRedeem, param)
			require.NoError(t, err)
			assert.Equal(t, []chain.Transfer{{To: e.holder.Address(), Amount: coinAmount}}, res.Transfers)
			assert.Equal(t, coinAmount, e.balance(t, e.holder))
			assert.Equal(t, 90*ccd, e.contractBalance(t))
			assert.True(t, e.view(t).Coins[0].IsRedeemed)

			_, err = e.update(e.holder.Address(), contract.EntryRedeem, param)
			assert.Equal(t, contract.ErrCoinAlreadyRedeemed, err)
			assert.Equal(t, coinAmount, e.balance(t, e.holder))
		})
	}
}

func TestPermitRedeemIsSponsored(t *testing.T) {
	for name, newBackends := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, newBackends(t))
			permit := e.holder.SignPermit(types.PermitMessage{
				ContractAddress: e.contract,
				Timestamp:       now + 60_000,
				EntryPoint:      contract.EntryRedeem,
				Payload:         codec.EncodeRedeemParam(e.coin.RedeemParam(e.holder.Address())),
			})

			_, err := e.update(e.sponsor.Address(), contract.EntryPermit, codec.EncodePermitParam(permit))
			require.NoError(t, err)
			assert.Equal(t, coinAmount, e.balance(t, e.holder))
			assert.Equal(t, 5*ccd, e.balance(t, e.sponsor))
		})
	}
}

func TestFailedTransferLeavesCoinUnredeemed(t *testing.T) {
	for name, newBackends := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, newBackends(t))
			// The receiving address has no chain account, so the transfer fails after
			// the ledger already marked the coin.
			stranger := types.AccountAddress{0x5a}
			param := codec.EncodeRedeemParam(e.coin.RedeemParam(stranger))

			_, err := e.update(e.sponsor.Address(), contract.EntryRedeem, param)
			assert.Equal(t, contract.ErrInvokeTransfer, err)
			assert.False(t, e.view(t).Coins[0].IsRedeemed)
			assert.Equal(t, 100*ccd, e.contractBalance(t))

			// The coin still redeems to a real account afterwards.
			_, err = e.update(e.holder.Address(), contract.EntryRedeem, codec.EncodeRedeemParam(e.coin.RedeemParam(e.holder.Address())))
			assert.NoError(t, err)
		})
	}
}

func TestTransferNeedsContractBalance(t *testing.T) {
	e := newEnv(t, chain.NewMemoryBackends())
	big, err := identity.GenerateCoinKey()
	require.NoError(t, err)
	issue := types.CoinList{Coins: []types.CoinEntry{{PublicKey: big.PublicKey(), Amount: 101 * ccd}}}
	_, err = e.update(e.admin.Address(), contract.EntryIssue, codec.EncodeCoinList(issue))
	require.NoError(t, err)

	_, err = e.update(e.holder.Address(), contract.EntryRedeem, codec.EncodeRedeemParam(big.RedeemParam(e.holder.Address())))
	assert.Equal(t, contract.ErrInvokeTransfer, err)
	assert.Equal(t, 100*ccd, e.contractBalance(t))
}

func TestSlotTimeDrivesExpiry(t *testing.T) {
	e := newEnv(t, chain.NewMemoryBackends())
	permit := e.holder.SignPermit(types.PermitMessage{
		ContractAddress: e.contract,
		Timestamp:       now + 1,
		EntryPoint:      contract.EntryRedeem,
		Payload:         codec.EncodeRedeemParam(e.coin.RedeemParam(e.holder.Address())),
	})

	e.chain.SetSlotTime(now + 1)
	_, err := e.update(e.sponsor.Address(), contract.EntryPermit, codec.EncodePermitParam(permit))
	assert.Equal(t, contract.ErrExpired, err)

	e.chain.SetSlotTime(now)
	_, err = e.update(e.sponsor.Address(), contract.EntryPermit, codec.EncodePermitParam(permit))
	assert.NoError(t, err)
}

func TestInvokeKeepsNothing(t *testing.T) {
	e := newEnv(t, chain.NewMemoryBackends())
	res, err := e.chain.Invoke(context.Background(), types.UpdatePayload{
		Contract:   e.contract,
		EntryPoint: contract.EntryRedeem,
		Parameter:  codec.EncodeRedeemParam(e.coin.RedeemParam(e.holder.Address())),
	})
	require.NoError(t, err)
	assert.Equal(t, coinAmount, res.Total())
	assert.False(t, e.view(t).Coins[0].IsRedeemed)
	assert.Zero(t, e.balance(t, e.holder))
}

func TestCallErrors(t *testing.T) {
	e := newEnv(t, chain.NewMemoryBackends())
	ctx := context.Background()

	_, err := e.chain.Update(ctx, types.UpdatePayload{Sender: e.admin.Address(), Contract: types.ContractAddress{Index: 9}, EntryPoint: contract.EntryView})
	assert.ErrorIs(t, err, chain.ErrContractNotFound)

	_, err = e.update(e.admin.Address(), "mint", nil)
	assert.ErrorIs(t, err, contract.ErrUnknownEntrypoint)

	_, err = e.update(types.AccountAddress{0x01}, contract.EntryView, nil)
	assert.ErrorIs(t, err, chain.ErrAccountNotFound)

	_, err = e.chain.InitContract(ctx, types.InitPayload{Sender: e.holder.Address(), Amount: 1})
	assert.ErrorIs(t, err, chain.ErrInsufficientFunds)

	assert.ErrorIs(t, e.chain.CreateAccount(chain.SingleKeyAccount(e.admin.Key(), 0)), chain.ErrAccountExists)
}

func TestRejectsAreCounted(t *testing.T) {
	e := newEnv(t, chain.NewMemoryBackends())
	_, err := e.update(e.holder.Address(), contract.EntryRedeem, []byte{1})
	require.Equal(t, contract.ErrParseParams, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Rejects.WithLabelValues("ParseParams")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.Calls.WithLabelValues("init", "ok")))
}

// Coin, account and signature produced by the reference web wallet.
func TestWalletVector(t *testing.T) {
	coinKey, err := types.ParsePublicKey("0e74d2be36734c232e527b2ecc8d981ec898979f860359220274acf9c6def8f9")
	require.NoError(t, err)
	account, err := types.ParseAccountAddress("4r81HqikiXBfwxjNJKJAWdw6an2jq4aGSZZAy8fM3fQ9a7x9mH")
	require.NoError(t, err)
	sig, err := types.ParseSignature("f7cef8a2afcc2b9ab10da90289610ecbfd4bd95043990145120e3c4b47a3b9a0e0d25fa686869beb1da504aa5a2dc7573fd0a5bf7e67fd6414e33614c8518703")
	require.NoError(t, err)

	admin := newIdentity(t)
	c := chain.New(chain.NewMemoryBackends(), nil, nil)
	require.NoError(t, c.CreateAccount(chain.SingleKeyAccount(admin.Key(), 100*ccd)))
	require.NoError(t, c.CreateAccount(chain.Account{Address: account}))

	addr, err := c.InitContract(context.Background(), types.InitPayload{
		Sender:    admin.Address(),
		Amount:    100 * ccd,
		Parameter: codec.EncodeCoinList(types.CoinList{Coins: []types.CoinEntry{{PublicKey: coinKey, Amount: coinAmount}}}),
	})
	require.NoError(t, err)

	_, err = c.Update(context.Background(), types.UpdatePayload{
		Sender:     admin.Address(),
		Contract:   addr,
		EntryPoint: contract.EntryRedeem,
		Parameter:  codec.EncodeRedeemParam(types.RedeemParam{PublicKey: coinKey, Signature: sig, Account: account}),
	})
	require.NoError(t, err)
	got, _ := c.Account(account)
	assert.Equal(t, coinAmount, got.Balance)
}

func TestAttachContractContinuesIndexes(t *testing.T) {
	backends := chain.NewMemoryBackends()
	c := chain.New(backends, nil, nil)
	require.NoError(t, c.AttachContract(chain.ContractInfo{Address: types.ContractAddress{Index: 4}, Balance: 7}))
	assert.ErrorIs(t, c.AttachContract(chain.ContractInfo{Address: types.ContractAddress{Index: 4}}), chain.ErrContractExists)

	admin := newIdentity(t)
	require.NoError(t, c.CreateAccount(chain.SingleKeyAccount(admin.Key(), 0)))
	addr, err := c.InitContract(context.Background(), types.InitPayload{
		Sender:    admin.Address(),
		Parameter: codec.EncodeCoinList(types.CoinList{}),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), addr.Index)
	assert.Len(t, c.Contracts(), 2)
}

func TestIssueBatchIsAllOrNothing(t *testing.T) {
	for name, newBackends := range backendsUnderTest() {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, newBackends(t))
			_, err := e.update(e.admin.Address(), contract.EntryRedeem,
				codec.EncodeRedeemParam(e.coin.RedeemParam(e.holder.Address())))
			require.NoError(t, err)
			before := e.view(t)

			fresh := types.PublicKey{0x42}
			batch := types.CoinList{Coins: []types.CoinEntry{
				{PublicKey: fresh, Amount: ccd},
				{PublicKey: e.coin.PublicKey(), Amount: 99 * ccd},
			}}
			_, err = e.update(e.admin.Address(), contract.EntryIssue, codec.EncodeCoinList(batch))
			assert.Equal(t, contract.ErrCoinAlreadyExists, err)

			after := e.view(t)
			assert.Equal(t, before, after)
			for _, c := range after.Coins {
				assert.NotEqual(t, fresh, c.PublicKey, "fresh coin of a rejected batch was stored")
			}
			require.Len(t, after.Coins, 1)
			assert.Equal(t, coinAmount, after.Coins[0].Amount)
			assert.True(t, after.Coins[0].IsRedeemed)
		})
	}
}
