package types

import "github.com/oasisprotocol/curve25519-voi/primitives/ed25519"

// VerifySignature checks an ed25519 signature by key over msg. The chain,
// the ABCI application and local identities all verify through it.
func VerifySignature(key PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(key[:]), msg, sig)
}
