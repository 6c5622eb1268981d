package identity

import (
	"crypto/ed25519"

	"coinredeem.mini/ccr/internal/codec"
	"coinredeem.mini/ccr/internal/types"
)

// Identity is an account's signing key. The account address is derived
// from the public key.
type Identity struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	key        types.PublicKey
	address    types.AccountAddress
}

// NewIdentity creates an Identity from a private key.
func NewIdentity(privKey ed25519.PrivateKey) *Identity {
	pub := privKey.Public().(ed25519.PublicKey)
	id := &Identity{privateKey: privKey, publicKey: pub}
	copy(id.key[:], pub)
	id.address = types.AccountAddressFromKey(id.key)
	return id
}

// Sign signs message with the account key.
func (i *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(i.privateKey, message)
}

// Verify checks a signature against the identity's public key.
func (i *Identity) Verify(message, signature []byte) bool {
	return types.VerifySignature(i.key, message, signature)
}

func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.publicKey
}

func (i *Identity) PrivateKey() ed25519.PrivateKey {
	return i.privateKey
}

// Key is the public key in ledger form.
func (i *Identity) Key() types.PublicKey {
	return i.key
}

// Address is the account this key controls.
func (i *Identity) Address() types.AccountAddress {
	return i.address
}

// SignPermit signs msg for this account as credential 0, key 0 and returns
// the permit parameter a sponsor can submit.
func (i *Identity) SignPermit(msg types.PermitMessage) types.PermitParam {
	hash := codec.PermitMessageHash(i.address, msg)
	var sig types.Signature
	copy(sig[:], i.Sign(hash[:]))
	return types.PermitParam{
		Signature: types.SingleSignature(sig),
		Signer:    i.address,
		Message:   msg,
	}
}
