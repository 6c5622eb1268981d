package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"coinredeem.mini/ccr/internal/codec"
	"coinredeem.mini/ccr/internal/types"
)

func TestIdentityLifecycle(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "key.pem")

	identity1, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("Failed to create identity: %v", err)
	}

	identity2, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("Failed to load identity: %v", err)
	}

	if identity1.Address() != identity2.Address() {
		t.Errorf("Loaded identity differs from original. Got %s, want %s",
			identity2.Address(), identity1.Address())
	}
	if identity1.Address() != types.AccountAddressFromKey(identity1.Key()) {
		t.Error("address is not derived from the public key")
	}
}

func TestEmptyKeyFileIsRegenerated(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "empty.pem")
	if err := os.WriteFile(keyPath, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrCreateIdentity(keyPath); err != nil {
		t.Fatalf("Failed to create identity over empty file: %v", err)
	}
	if _, err := LoadIdentity(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Error("LoadIdentity succeeded without a key file")
	}
}

func TestPermissions(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "secure_test_key.pem")

	if _, err := LoadOrCreateIdentity(keyPath); err != nil {
		t.Fatalf("Failed to create identity: %v", err)
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("Failed to stat key file: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Key file has wrong permissions. Got %v, want %v",
			info.Mode().Perm(), 0600)
	}
}

func TestSignPermit(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	id := NewIdentity(priv)

	msg := types.PermitMessage{
		ContractAddress: types.ContractAddress{Index: 7},
		Timestamp:       1_700_000_000_000,
		EntryPoint:      "redeem",
		Payload:         []byte{1, 2, 3},
	}
	p := id.SignPermit(msg)
	if p.Signer != id.Address() {
		t.Fatalf("signer = %s, want %s", p.Signer, id.Address())
	}
	sig, ok := p.Signature[0][0]
	if !ok {
		t.Fatal("no signature at credential 0, key 0")
	}
	hash := codec.PermitMessageHash(id.Address(), msg)
	if !id.Verify(hash[:], sig[:]) {
		t.Error("permit signature does not cover the message hash")
	}
}

// Seed and key of the coin used by the contract's reference tests.
const (
	knownSeedHex = "9758DFD6DD81F57FA9AE75B3C92BED49B3C26C28723CEA00C9E1851CAED7BBF4"
	knownSeedB58 = "BBoAUNEJ5XYuVvs2U29Py78R3uPqdagsUryhjxb2mBf1"
	knownKeyHex  = "7057393dfec4763321e984e9ebdccae6dd7a980d345b2b3af73deadf6b4b7c0d"
)

func TestCoinKeyFromKnownSeed(t *testing.T) {
	seed, _ := hex.DecodeString(knownSeedHex)
	k, err := NewCoinKey(seed)
	if err != nil {
		t.Fatal(err)
	}
	if got := k.PublicKey().String(); got != knownKeyHex {
		t.Errorf("public key = %s, want %s", got, knownKeyHex)
	}
	if k.Seed() != knownSeedB58 {
		t.Errorf("seed = %s, want %s", k.Seed(), knownSeedB58)
	}

	parsed, err := ParseCoinSeed(knownSeedB58)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.PublicKey() != k.PublicKey() {
		t.Error("base58 seed does not round trip")
	}

	var account types.AccountAddress
	for i := range account {
		account[i] = 1
	}
	want := "0bcfe4d2e2066b05ec8486ca41016f435d64b1a5fd39f76d9de30d2615a5223367dd99ad1f946cbbeb7027619ec152b5df96ac9472415011e583025e119fcb09"
	if got := k.SignAccount(account).String(); got != want {
		t.Errorf("signature = %s, want %s", got, want)
	}
	p := k.RedeemParam(account)
	if p.Account != account || p.PublicKey != k.PublicKey() {
		t.Errorf("redeem param = %+v", p)
	}
}

func TestCoinSeedErrors(t *testing.T) {
	if _, err := ParseCoinSeed("0OIl"); err == nil {
		t.Error("accepted characters outside the base58 alphabet")
	}
	if _, err := ParseCoinSeed("3mJr7AoUXx2Wqd"); err == nil {
		t.Error("accepted a short seed")
	}
	k1, err := GenerateCoinKey()
	if err != nil {
		t.Fatal(err)
	}
	k2, _ := GenerateCoinKey()
	if k1.PublicKey() == k2.PublicKey() {
		t.Error("two generated coins share a key")
	}
}
