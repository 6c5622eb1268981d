package api

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	ccrabci "coinredeem.mini/ccr/internal/abci"
	"coinredeem.mini/ccr/internal/chain"
	"coinredeem.mini/ccr/internal/config"
	"coinredeem.mini/ccr/internal/tendermint"
	"coinredeem.mini/ccr/internal/types"
)

// Receipt describes an accepted update call.
type Receipt struct {
	ID string `json:"id"`
	chain.Result
	TxHash string `json:"tx_hash,omitempty"`
	Height int64  `json:"height,omitempty"`
}

// Executor runs contract calls against one contract instance, with the
// node's operator account as sender.
type Executor interface {
	Mode() string
	Contract() types.ContractAddress
	Sender() types.AccountAddress
	// Update runs a call and keeps its effects.
	Update(ctx context.Context, entry string, param []byte) (Receipt, error)
	// Invoke runs a call and discards its effects.
	Invoke(ctx context.Context, entry string, param []byte) (chain.Result, error)
	Account(ctx context.Context, addr types.AccountAddress) (chain.Account, error)
	Accounts(ctx context.Context) ([]chain.Account, error)
}

// LocalExecutor calls an in-process chain.
type LocalExecutor struct {
	chain    *chain.Chain
	contract types.ContractAddress
	sender   types.AccountAddress
}

func NewLocalExecutor(c *chain.Chain, contract types.ContractAddress, sender types.AccountAddress) *LocalExecutor {
	return &LocalExecutor{chain: c, contract: contract, sender: sender}
}

func (e *LocalExecutor) Mode() string                    { return config.ModeLocal }
func (e *LocalExecutor) Contract() types.ContractAddress { return e.contract }
func (e *LocalExecutor) Sender() types.AccountAddress    { return e.sender }

func (e *LocalExecutor) payload(entry string, param []byte) types.UpdatePayload {
	return types.UpdatePayload{Sender: e.sender, Contract: e.contract, EntryPoint: entry, Parameter: param}
}

func (e *LocalExecutor) Update(ctx context.Context, entry string, param []byte) (Receipt, error) {
	res, err := e.chain.Update(ctx, e.payload(entry, param))
	return Receipt{Result: res}, err
}

func (e *LocalExecutor) Invoke(ctx context.Context, entry string, param []byte) (chain.Result, error) {
	return e.chain.Invoke(ctx, e.payload(entry, param))
}

func (e *LocalExecutor) Account(_ context.Context, addr types.AccountAddress) (chain.Account, error) {
	acct, ok := e.chain.Account(addr)
	if !ok {
		return chain.Account{}, errors.Wrapf(chain.ErrAccountNotFound, "account %s", addr)
	}
	return acct, nil
}

func (e *LocalExecutor) Accounts(context.Context) ([]chain.Account, error) {
	return e.chain.Accounts(), nil
}

// ConsensusExecutor submits calls as transactions to a Tendermint node and
// answers reads with ABCI queries.
type ConsensusExecutor struct {
	client   *tendermint.Client
	contract types.ContractAddress
	sender   types.AccountAddress
}

// NewConsensusExecutor creates an executor; client must sign with a key of
// the sender account.
func NewConsensusExecutor(client *tendermint.Client, contract types.ContractAddress, sender types.AccountAddress) *ConsensusExecutor {
	return &ConsensusExecutor{client: client, contract: contract, sender: sender}
}

func (e *ConsensusExecutor) Mode() string                    { return config.ModeTendermint }
func (e *ConsensusExecutor) Contract() types.ContractAddress { return e.contract }
func (e *ConsensusExecutor) Sender() types.AccountAddress    { return e.sender }

func (e *ConsensusExecutor) payload(entry string, param []byte) types.UpdatePayload {
	return types.UpdatePayload{Sender: e.sender, Contract: e.contract, EntryPoint: entry, Parameter: param}
}

func (e *ConsensusExecutor) Update(ctx context.Context, entry string, param []byte) (Receipt, error) {
	res, err := e.client.Submit(ctx, types.TxUpdateContract, e.payload(entry, param))
	if err != nil {
		return Receipt{}, err
	}
	r := Receipt{TxHash: res.Hash, Height: res.Height}
	if err := json.Unmarshal(res.Data, &r.Result); err != nil {
		return r, errors.Wrap(err, "decode call result")
	}
	return r, nil
}

func (e *ConsensusExecutor) Invoke(ctx context.Context, entry string, param []byte) (chain.Result, error) {
	var res chain.Result
	data, err := json.Marshal(e.payload(entry, param))
	if err != nil {
		return res, err
	}
	if err := e.query(ctx, ccrabci.PathInvoke, data, &res); err != nil {
		return res, err
	}
	return res, nil
}

func (e *ConsensusExecutor) Account(ctx context.Context, addr types.AccountAddress) (chain.Account, error) {
	var acct chain.Account
	err := e.query(ctx, ccrabci.PathAccount, []byte(addr.String()), &acct)
	return acct, err
}

func (e *ConsensusExecutor) Accounts(ctx context.Context) ([]chain.Account, error) {
	var accts []chain.Account
	err := e.query(ctx, ccrabci.PathAccounts, nil, &accts)
	return accts, err
}

func (e *ConsensusExecutor) query(ctx context.Context, path string, data []byte, out interface{}) error {
	raw, err := e.client.Query(ctx, path, data)
	if err != nil {
		return err
	}
	return errors.Wrapf(json.Unmarshal(raw, out), "decode %s response", path)
}
