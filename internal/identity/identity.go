// Package identity handles the ed25519 keys a ccr node and its operators
// hold: the persistent account key (PEM, PKCS8, mode 0600) that signs
// transactions and permit messages, and the throwaway coin keys that are
// distributed as base58 seeds and sign the receiving account to redeem.
package identity

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
)

// LoadOrCreateIdentity loads the account key at keyPath, generating and
// saving a new one if the file is missing or empty.
func LoadOrCreateIdentity(keyPath string) (*Identity, error) {
	info, err := os.Stat(keyPath)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		privKey, err := generateAndSaveKeyPair(keyPath)
		if err != nil {
			return nil, err
		}
		return NewIdentity(privKey), nil
	}
	if err != nil {
		return nil, err
	}
	return LoadIdentity(keyPath)
}

// LoadIdentity loads an existing key file and fails if there is none.
func LoadIdentity(keyPath string) (*Identity, error) {
	privKey, err := loadKeyPair(keyPath)
	if err != nil {
		return nil, err
	}
	return NewIdentity(privKey), nil
}

func generateAndSaveKeyPair(keyPath string) (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	if err := SaveKey(keyPath, priv); err != nil {
		return nil, err
	}
	return priv, nil
}

// SaveKey writes priv to keyPath as a PKCS8 PEM block with mode 0600.
func SaveKey(keyPath string, priv ed25519.PrivateKey) error {
	x509Encoded, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return err
	}

	file, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	return pem.Encode(file, &pem.Block{Type: "PRIVATE KEY", Bytes: x509Encoded})
}

func loadKeyPair(keyPath string) (ed25519.PrivateKey, error) {
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	pemBlock, _ := pem.Decode(keyData)
	if pemBlock == nil {
		return nil, errors.New("failed to decode PEM block from key file")
	}

	genericKey, err := x509.ParsePKCS8PrivateKey(pemBlock.Bytes)
	if err != nil {
		return nil, err
	}

	privKey, ok := genericKey.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("key is not an ed25519 private key")
	}
	return privKey, nil
}
