package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"

	"coinredeem.mini/ccr/internal/types"
)

// CoinKey is the key pair behind one coin. Wallets receive only the seed.
type CoinKey struct {
	seed []byte
	priv ed25519.PrivateKey
	pub  types.PublicKey
}

// NewCoinKey derives the coin key from a 32-byte seed.
func NewCoinKey(seed []byte) (*CoinKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("coin seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	k := &CoinKey{
		seed: append([]byte(nil), seed...),
		priv: ed25519.NewKeyFromSeed(seed),
	}
	copy(k.pub[:], k.priv.Public().(ed25519.PublicKey))
	return k, nil
}

// GenerateCoinKey draws a fresh random seed.
func GenerateCoinKey() (*CoinKey, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return NewCoinKey(seed)
}

// ParseCoinSeed decodes a base58 seed as handed out to wallets.
func ParseCoinSeed(s string) (*CoinKey, error) {
	seed, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("coin seed: %w", err)
	}
	return NewCoinKey(seed)
}

// Seed is the base58 form of the seed.
func (k *CoinKey) Seed() string {
	return base58.Encode(k.seed)
}

func (k *CoinKey) PublicKey() types.PublicKey {
	return k.pub
}

// SignAccount signs the raw bytes of the account that will receive the
// coin's amount.
func (k *CoinKey) SignAccount(account types.AccountAddress) types.Signature {
	var sig types.Signature
	copy(sig[:], ed25519.Sign(k.priv, account[:]))
	return sig
}

// RedeemParam is the parameter that redeems this coin to account.
func (k *CoinKey) RedeemParam(account types.AccountAddress) types.RedeemParam {
	return types.RedeemParam{
		PublicKey: k.pub,
		Signature: k.SignAccount(account),
		Account:   account,
	}
}
