package contract

import (
	"errors"

	"coinredeem.mini/ccr/internal/types"
)

// verifyCoinSignature checks that the coin key signed the raw account bytes.
func verifyCoinSignature(h Host, p types.RedeemParam) bool {
	return h.VerifyEd25519(p.PublicKey, p.Signature, p.Account[:])
}

// verifyAccountSignature checks the signer's account signatures over the
// permit message hash.
func verifyAccountSignature(h Host, signer types.AccountAddress, sigs types.AccountSignatures, hash [32]byte) error {
	ok, err := h.CheckAccountSignature(signer, sigs, hash[:])
	switch {
	case errors.Is(err, ErrHostMissingAccount):
		return ErrMissingAccount
	case errors.Is(err, ErrHostMalformedData):
		return ErrMalformedSignatureData
	case err != nil:
		return err
	case !ok:
		return ErrInvalidSignatures
	}
	return nil
}
