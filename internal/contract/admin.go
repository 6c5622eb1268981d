package contract

import (
	"coinredeem.mini/ccr/internal/codec"
	"coinredeem.mini/ccr/internal/ledger"
)

// issue adds a batch of coins. A duplicate key rejects the whole batch.
// issue does not check the sender: any account can add coins, and only
// setAdmin is restricted to the admin. This is a known gap.
func issue(h Host, st *ledger.State) ([]byte, error) {
	param, err := codec.DecodeCoinList(h.Parameter())
	if err != nil {
		return nil, fromParse(err)
	}
	return nil, issueAll(st, param.Coins)
}

func setAdmin(h Host, st *ledger.State) ([]byte, error) {
	newAdmin, err := codec.DecodeAccountAddress(h.Parameter())
	if err != nil {
		return nil, fromParse(err)
	}
	admin, err := st.Admin()
	if err != nil {
		return nil, err
	}
	if !h.Sender().IsAccount(admin) {
		return nil, ErrNotAuthorized
	}
	return nil, st.SetAdmin(newAdmin)
}

func view(_ Host, st *ledger.State) ([]byte, error) {
	v, err := st.View()
	if err != nil {
		return nil, err
	}
	return codec.EncodeViewReturnData(v), nil
}

// viewCoin lets a wallet check a coin before redeeming it.
func viewCoin(h Host, st *ledger.State) ([]byte, error) {
	key, err := codec.DecodePublicKey(h.Parameter())
	if err != nil {
		return nil, fromParse(err)
	}
	coin, err := st.Coin(key)
	if err != nil {
		return nil, fromLedger(err)
	}
	return codec.EncodeCoinState(coin), nil
}
