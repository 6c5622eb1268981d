package contract

import (
	"coinredeem.mini/ccr/internal/codec"
	"coinredeem.mini/ccr/internal/ledger"
	"coinredeem.mini/ccr/internal/types"
)

func redeem(h Host, st *ledger.State) ([]byte, error) {
	param, err := codec.DecodeRedeemParam(h.Parameter())
	if err != nil {
		return nil, fromParse(err)
	}
	return nil, redeemWith(h, st, param)
}

// redeemWith is the redeem path shared by redeem and permit. The signature
// is checked before the ledger is touched.
func redeemWith(h Host, st *ledger.State, param types.RedeemParam) error {
	if !verifyCoinSignature(h, param) {
		return ErrInvalidSignatures
	}
	amount, err := st.Redeem(param.PublicKey)
	if err != nil {
		return fromLedger(err)
	}
	if err := h.InvokeTransfer(param.Account, amount); err != nil {
		return ErrInvokeTransfer
	}
	return nil
}
