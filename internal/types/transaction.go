package types

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"time"
)

// TransactionType selects how the ABCI application executes a transaction.
type TransactionType string

const (
	TxInitContract   TransactionType = "init_contract"
	TxUpdateContract TransactionType = "update_contract"
)

// Transaction is the unsigned body submitted to consensus.
type Transaction struct {
	Type      TransactionType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// SignedTransaction carries the JSON encoded Transaction with the sender
// key and its signature over Tx.
type SignedTransaction struct {
	Tx        []byte `json:"tx"`
	PublicKey []byte `json:"public_key"`
	Signature []byte `json:"signature"`
}

// InitPayload deploys a new contract instance.
type InitPayload struct {
	Sender    AccountAddress `json:"sender"`
	Amount    Amount         `json:"amount"`
	Parameter HexBytes       `json:"parameter"`
}

// UpdatePayload calls an entry point of an existing instance.
type UpdatePayload struct {
	Sender     AccountAddress  `json:"sender"`
	Contract   ContractAddress `json:"contract"`
	EntryPoint string          `json:"entry_point"`
	Parameter  HexBytes        `json:"parameter"`
}

// Signer produces ed25519 signatures for transactions.
type Signer interface {
	Sign(message []byte) []byte
	PublicKey() ed25519.PublicKey
}

// NewTransaction builds a transaction with a JSON payload.
func NewTransaction(txType TransactionType, payload interface{}) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Transaction{Type: txType, Timestamp: time.Now().UTC(), Payload: raw}, nil
}

// Sign serializes the transaction and signs it.
func (tx *Transaction) Sign(s Signer) (*SignedTransaction, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		Tx:        body,
		PublicKey: []byte(s.PublicKey()),
		Signature: s.Sign(body),
	}, nil
}

// Verify checks the signature over Tx.
func (stx *SignedTransaction) Verify() bool {
	key, err := stx.SignerKey()
	if err != nil || len(stx.Signature) != ed25519.SignatureSize {
		return false
	}
	return VerifySignature(key, stx.Tx, stx.Signature)
}

// GetTransaction decodes the inner transaction.
func (stx *SignedTransaction) GetTransaction() (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(stx.Tx, &tx); err != nil {
		return nil, err
	}
	if tx.Type == "" {
		return nil, errors.New("transaction type missing")
	}
	return &tx, nil
}

// SignerKey returns the signing key as a PublicKey.
func (stx *SignedTransaction) SignerKey() (PublicKey, error) {
	var k PublicKey
	if len(stx.PublicKey) != PublicKeySize {
		return k, errors.New("public key must be 32 bytes")
	}
	copy(k[:], stx.PublicKey)
	return k, nil
}
