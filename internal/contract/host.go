package contract

import (
	"errors"

	"coinredeem.mini/ccr/internal/types"
)

// Errors a Host returns from CheckAccountSignature.
var (
	ErrHostMissingAccount = errors.New("signer account does not exist")
	ErrHostMalformedData  = errors.New("malformed signature data")
)

// Host is the chain a contract call runs on. One Host value serves one
// call: Parameter and Sender describe that call, and transfers made through
// it take effect only if the call succeeds.
type Host interface {
	Parameter() []byte
	Sender() types.Address
	SelfAddress() types.ContractAddress
	// SlotTime is the block time the call executes at.
	SlotTime() types.Timestamp

	VerifyEd25519(key types.PublicKey, sig types.Signature, msg []byte) bool
	// CheckAccountSignature verifies sigs over msg against the keys of
	// account. It returns ErrHostMissingAccount or ErrHostMalformedData
	// when the check cannot be made.
	CheckAccountSignature(account types.AccountAddress, sigs types.AccountSignatures, msg []byte) (bool, error)
	InvokeTransfer(to types.AccountAddress, amount types.Amount) error
}

// InitHost is the host of a contract initialization.
type InitHost interface {
	Parameter() []byte
	// Origin is the account deploying the contract.
	Origin() types.AccountAddress
}
