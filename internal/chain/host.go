package chain

import (
	"github.com/pkg/errors"

	"coinredeem.mini/ccr/internal/contract"
	"coinredeem.mini/ccr/internal/types"
)

// Transfer is a payout from a contract to an account.
type Transfer struct {
	To     types.AccountAddress `json:"to"`
	Amount types.Amount         `json:"amount"`
}

// callHost serves one contract call. Transfers are staged against the
// instance balance and applied by the chain only after storage commits.
type callHost struct {
	chain    *Chain
	inst     *instance
	param    []byte
	sender   types.Address
	now      types.Timestamp
	staged   []Transfer
	outgoing types.Amount
}

var _ contract.Host = (*callHost)(nil)

func (h *callHost) Parameter() []byte                  { return h.param }
func (h *callHost) Sender() types.Address              { return h.sender }
func (h *callHost) SelfAddress() types.ContractAddress { return h.inst.info.Address }
func (h *callHost) SlotTime() types.Timestamp          { return h.now }

func (h *callHost) VerifyEd25519(key types.PublicKey, sig types.Signature, msg []byte) bool {
	return verifyEd25519(key, sig, msg)
}

func (h *callHost) CheckAccountSignature(account types.AccountAddress, sigs types.AccountSignatures, msg []byte) (bool, error) {
	acct, ok := h.chain.accounts[account]
	if !ok {
		return false, contract.ErrHostMissingAccount
	}
	return acct.Keys.checkSignatures(sigs, msg)
}

func (h *callHost) InvokeTransfer(to types.AccountAddress, amount types.Amount) error {
	if _, ok := h.chain.accounts[to]; !ok {
		return errors.Wrapf(ErrAccountNotFound, "transfer to %s", to)
	}
	if h.inst.info.Balance-h.outgoing < amount {
		return errors.Wrapf(ErrInsufficientFunds, "contract %s has %s, transfer needs %s",
			h.inst.info.Address, h.inst.info.Balance-h.outgoing, amount)
	}
	h.outgoing += amount
	h.staged = append(h.staged, Transfer{To: to, Amount: amount})
	return nil
}

// initHost serves a contract initialization.
type initHost struct {
	param  []byte
	origin types.AccountAddress
}

func (h initHost) Parameter() []byte            { return h.param }
func (h initHost) Origin() types.AccountAddress { return h.origin }
