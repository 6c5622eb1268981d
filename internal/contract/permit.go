package contract

import (
	"coinredeem.mini/ccr/internal/codec"
	"coinredeem.mini/ccr/internal/ledger"
	"coinredeem.mini/ccr/internal/types"
)

// permitNonce is the only nonce permit accepts. Coins are single use, so a
// replayed permit fails with CoinAlreadyRedeemed.
const permitNonce = 0

// permit runs a sponsored call. The checks run in a fixed order and the
// first failure decides the reject.
func permit(h Host, st *ledger.State) ([]byte, error) {
	param, message, err := codec.DecodePermitParam(h.Parameter())
	if err != nil {
		return nil, fromParse(err)
	}
	msg := param.Message

	if msg.Nonce != permitNonce {
		return nil, ErrNonceMismatch
	}
	if msg.ContractAddress != h.SelfAddress() {
		return nil, ErrWrongContract
	}
	if msg.Timestamp <= h.SlotTime() {
		return nil, ErrExpired
	}

	hash := codec.MessageHash(param.Signer, message)
	if err := verifyAccountSignature(h, param.Signer, param.Signature, hash); err != nil {
		return nil, err
	}

	if msg.EntryPoint != EntryRedeem {
		return nil, ErrWrongEntryPoint
	}
	redeemParam, err := codec.DecodeRedeemParam(msg.Payload)
	if err != nil {
		return nil, fromParse(err)
	}
	if param.Signer != redeemParam.Account {
		return nil, ErrNotAuthorized
	}
	return nil, redeemWith(h, st, redeemParam)
}

// viewMessageHash returns the hash an account signs for the given permit.
// Nothing about the permit is verified.
func viewMessageHash(h Host, _ *ledger.State) ([]byte, error) {
	param, message, err := codec.DecodePermitParam(h.Parameter())
	if err != nil {
		return nil, fromParse(err)
	}
	hash := codec.MessageHash(param.Signer, message)
	return hash[:], nil
}

func supportsPermit(h Host, _ *ledger.State) ([]byte, error) {
	names, err := codec.DecodeEntrypointNames(h.Parameter())
	if err != nil {
		return nil, fromParse(err)
	}
	results := make([]types.SupportResult, len(names))
	for i, name := range names {
		if permitEntrypoints[name] {
			results[i].Kind = types.Support
		}
	}
	return codec.EncodeSupportResults(results), nil
}
