// Package abci contains the ABCI application that runs the redeem chain
// under Tendermint consensus. CheckTx authenticates transactions against
// the sender account's keys, DeliverTx executes them on the chain, and
// BeginBlock hands the block time to the chain as its slot time. A
// transaction body is executed at most once: its timestamp must lie within
// TxWindow of the slot time, and bodies delivered inside the window are
// refused.
package abci

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/minio/sha256-simd"
	"github.com/pkg/errors"
	abci "github.com/tendermint/tendermint/abci/types"

	"coinredeem.mini/ccr/internal/chain"
	"coinredeem.mini/ccr/internal/config"
	"coinredeem.mini/ccr/internal/contract"
	"coinredeem.mini/ccr/internal/logger"
	"coinredeem.mini/ccr/internal/metrics"
	"coinredeem.mini/ccr/internal/types"
)

const (
	CodeTypeOK               uint32 = 0
	CodeTypeEncodingError    uint32 = 1
	CodeTypeAuthError        uint32 = 2
	CodeTypeInvalidTx        uint32 = 3
	CodeTypeContractRejected uint32 = 4
	CodeTypeReplay           uint32 = 5
	CodeTypeStaleTx          uint32 = 6
)

// TxWindow bounds how far a transaction timestamp may lie from the slot
// time. Delivered transactions are remembered until they leave the window,
// after which a resubmission is refused as stale.
const TxWindow = 10 * time.Minute

// Query paths.
const (
	PathView      = "/view"
	PathInvoke    = "/invoke"
	PathAccount   = "/account"
	PathAccounts  = "/accounts"
	PathContracts = "/contracts"
)

// ABCIApplication implements the ABCI interface on top of a chain.
type ABCIApplication struct {
	abci.BaseApplication

	chain    *chain.Chain
	genesis  []config.GenesisAccount
	contract types.ContractAddress
	events   *logger.Logger
	metrics  *metrics.Metrics
	log      slog.Logger

	height  int64
	appHash []byte

	// seen maps the hash of every delivered transaction body still inside
	// TxWindow to its timestamp.
	seen map[[sha256.Size]byte]time.Time
}

// NewABCIApplication wraps c. genesis is used by InitChain when the
// genesis document carries no app state; viewContract is the instance
// PathView reports. events, m and log may be nil.
func NewABCIApplication(c *chain.Chain, genesis []config.GenesisAccount, viewContract types.ContractAddress,
	events *logger.Logger, m *metrics.Metrics, log slog.Logger) *ABCIApplication {
	if log == nil {
		log = slog.Disabled
	}
	return &ABCIApplication{
		chain:    c,
		genesis:  genesis,
		contract: viewContract,
		events:   events,
		metrics:  m,
		log:      log,
		seen:     make(map[[sha256.Size]byte]time.Time),
	}
}

// Chain returns the chain the application executes on.
func (app *ABCIApplication) Chain() *chain.Chain {
	return app.chain
}

func (app *ABCIApplication) Info(req abci.RequestInfo) abci.ResponseInfo {
	return abci.ResponseInfo{
		Data:             contract.Name,
		Version:          types.Version,
		LastBlockHeight:  app.height,
		LastBlockAppHash: app.appHash,
	}
}

// InitChain creates the genesis accounts. App state in the genesis document
// is a JSON list of config.GenesisAccount and takes precedence over the
// configured list.
func (app *ABCIApplication) InitChain(req abci.RequestInitChain) abci.ResponseInitChain {
	accounts := app.genesis
	if len(req.AppStateBytes) > 0 {
		var fromDoc []config.GenesisAccount
		if err := json.Unmarshal(req.AppStateBytes, &fromDoc); err != nil {
			panic(errors.Wrap(err, "decode genesis app state"))
		}
		accounts = fromDoc
	}
	for _, g := range accounts {
		acct := chain.SingleKeyAccount(g.PublicKey, g.Balance)
		addr, err := g.GenesisAddress()
		if err != nil {
			panic(errors.Wrap(err, "genesis account address"))
		}
		acct.Address = addr
		if err := app.chain.CreateAccount(acct); err != nil {
			panic(errors.Wrap(err, "create genesis account"))
		}
		app.log.Infof("Genesis account %s with %s", addr, g.Balance)
	}
	if !req.Time.IsZero() {
		app.chain.SetSlotTime(types.TimestampFromTime(req.Time))
	}
	return abci.ResponseInitChain{}
}

func (app *ABCIApplication) BeginBlock(req abci.RequestBeginBlock) abci.ResponseBeginBlock {
	app.chain.SetSlotTime(types.TimestampFromTime(req.Header.Time))
	return abci.ResponseBeginBlock{}
}

// decoded is an authenticated transaction.
type decoded struct {
	id     [sha256.Size]byte
	tx     *types.Transaction
	init   *types.InitPayload
	update *types.UpdatePayload
}

// decodeTx decodes and authenticates raw. On failure it returns the
// response code and log.
func (app *ABCIApplication) decodeTx(raw []byte) (*decoded, uint32, string) {
	var signedTx types.SignedTransaction
	if err := json.Unmarshal(raw, &signedTx); err != nil {
		return nil, CodeTypeEncodingError, "failed to decode signed tx"
	}
	if !signedTx.Verify() {
		return nil, CodeTypeAuthError, "invalid signature"
	}
	key, err := signedTx.SignerKey()
	if err != nil {
		return nil, CodeTypeAuthError, err.Error()
	}
	tx, err := signedTx.GetTransaction()
	if err != nil {
		return nil, CodeTypeEncodingError, "failed to decode inner tx"
	}
	id := sha256.Sum256(signedTx.Tx)
	if _, ok := app.seen[id]; ok {
		return nil, CodeTypeReplay, "transaction already delivered"
	}
	if now := app.chain.SlotTime().Time(); tx.Timestamp.Before(now.Add(-TxWindow)) || tx.Timestamp.After(now.Add(TxWindow)) {
		return nil, CodeTypeStaleTx, fmt.Sprintf("transaction time %s outside %s of %s",
			tx.Timestamp.UTC().Format(time.RFC3339), TxWindow, now.Format(time.RFC3339))
	}

	d := &decoded{id: id, tx: tx}
	var sender types.AccountAddress
	switch tx.Type {
	case types.TxInitContract:
		d.init = new(types.InitPayload)
		if err := json.Unmarshal(tx.Payload, d.init); err != nil {
			return nil, CodeTypeEncodingError, "failed to decode init payload"
		}
		sender = d.init.Sender
	case types.TxUpdateContract:
		d.update = new(types.UpdatePayload)
		if err := json.Unmarshal(tx.Payload, d.update); err != nil {
			return nil, CodeTypeEncodingError, "failed to decode update payload"
		}
		sender = d.update.Sender
	default:
		return nil, CodeTypeInvalidTx, "unknown transaction type"
	}

	if !app.chain.AccountHasKey(sender, key) {
		return nil, CodeTypeAuthError, "signer key does not belong to sender " + sender.String()
	}
	return d, CodeTypeOK, ""
}

func (app *ABCIApplication) CheckTx(req abci.RequestCheckTx) abci.ResponseCheckTx {
	_, code, log := app.decodeTx(req.Tx)
	app.metrics.ObserveTx("check", code)
	return abci.ResponseCheckTx{Code: code, Log: log}
}

func (app *ABCIApplication) DeliverTx(req abci.RequestDeliverTx) abci.ResponseDeliverTx {
	resp := app.deliver(req.Tx)
	app.metrics.ObserveTx("deliver", resp.Code)
	app.mixHash(req.Tx, resp.Code)
	return resp
}

func (app *ABCIApplication) deliver(raw []byte) abci.ResponseDeliverTx {
	d, code, log := app.decodeTx(raw)
	if code != CodeTypeOK {
		return abci.ResponseDeliverTx{Code: code, Log: log}
	}
	// Rejected calls count as delivered too.
	app.seen[d.id] = d.tx.Timestamp
	ctx := context.Background()

	if d.init != nil {
		addr, err := app.chain.InitContract(ctx, *d.init)
		if err != nil {
			return app.failure(err)
		}
		data, _ := json.Marshal(chain.Result{Contract: addr, EntryPoint: "init"})
		app.event("info", fmt.Sprintf("Contract %s initialized by %s", addr, d.init.Sender))
		return abci.ResponseDeliverTx{
			Code: CodeTypeOK,
			Data: data,
			Events: []abci.Event{{
				Type: "init",
				Attributes: []abci.EventAttribute{
					{Key: []byte("contract"), Value: []byte(addr.String()), Index: true},
				},
			}},
		}
	}

	res, err := app.chain.Update(ctx, *d.update)
	if err != nil {
		return app.failure(err)
	}
	data, _ := json.Marshal(res)
	if total := res.Total(); total > 0 {
		app.event("info", fmt.Sprintf("%s via %s paid %s", d.update.EntryPoint, d.update.Sender, total))
	}
	return abci.ResponseDeliverTx{
		Code: CodeTypeOK,
		Data: data,
		Events: []abci.Event{{
			Type: "update",
			Attributes: []abci.EventAttribute{
				{Key: []byte("contract"), Value: []byte(d.update.Contract.String()), Index: true},
				{Key: []byte("entrypoint"), Value: []byte(d.update.EntryPoint), Index: true},
				{Key: []byte("paid"), Value: []byte(strconv.FormatUint(uint64(res.Total()), 10))},
			},
		}},
	}
}

func (app *ABCIApplication) failure(err error) abci.ResponseDeliverTx {
	if rej, ok := contract.AsError(err); ok {
		app.event("warning", "Rejected: "+rej.Name())
		return abci.ResponseDeliverTx{Code: CodeTypeContractRejected, Log: FormatReject(rej)}
	}
	app.log.Warnf("Transaction failed: %v", err)
	return abci.ResponseDeliverTx{Code: CodeTypeInvalidTx, Log: err.Error()}
}

func (app *ABCIApplication) event(level, text string) {
	if app.events != nil {
		app.events.Log(level, text)
	}
}

// mixHash folds a delivered transaction and its result into the app hash.
func (app *ABCIApplication) mixHash(tx []byte, code uint32) {
	h := sha256.New()
	h.Write(app.appHash)
	h.Write(tx)
	var c [4]byte
	binary.BigEndian.PutUint32(c[:], code)
	h.Write(c[:])
	app.appHash = h.Sum(nil)
}

func (app *ABCIApplication) Commit() abci.ResponseCommit {
	cutoff := app.chain.SlotTime().Time().Add(-TxWindow)
	for id, ts := range app.seen {
		if ts.Before(cutoff) {
			delete(app.seen, id)
		}
	}
	app.height++
	return abci.ResponseCommit{Data: app.appHash}
}

func (app *ABCIApplication) Query(req abci.RequestQuery) abci.ResponseQuery {
	value, err := app.query(req.Path, req.Data)
	if err != nil {
		if rej, ok := contract.AsError(err); ok {
			return abci.ResponseQuery{Code: CodeTypeContractRejected, Log: FormatReject(rej), Height: app.height}
		}
		return abci.ResponseQuery{Code: CodeTypeInvalidTx, Log: err.Error(), Height: app.height}
	}
	return abci.ResponseQuery{Code: CodeTypeOK, Value: value, Height: app.height}
}

func (app *ABCIApplication) query(path string, data []byte) ([]byte, error) {
	ctx := context.Background()
	switch path {
	case PathView:
		addr := app.contract
		if len(data) > 0 {
			if err := json.Unmarshal(data, &addr); err != nil {
				return nil, errors.Wrap(err, "decode contract address")
			}
		}
		res, err := app.chain.Invoke(ctx, types.UpdatePayload{Contract: addr, EntryPoint: contract.EntryView})
		if err != nil {
			return nil, err
		}
		return res.ReturnValue, nil

	case PathInvoke:
		var p types.UpdatePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, errors.Wrap(err, "decode invoke payload")
		}
		res, err := app.chain.Invoke(ctx, p)
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)

	case PathAccount:
		addr, err := types.ParseAccountAddress(string(data))
		if err != nil {
			return nil, err
		}
		acct, ok := app.chain.Account(addr)
		if !ok {
			return nil, errors.Wrapf(chain.ErrAccountNotFound, "query %s", addr)
		}
		return json.Marshal(acct)

	case PathAccounts:
		return json.Marshal(app.chain.Accounts())

	case PathContracts:
		return json.Marshal(app.chain.Contracts())
	}
	return nil, errors.Errorf("unknown query path %q", path)
}

// FormatReject renders a reject for a response log, e.g.
// "reject -6 InvalidSignatures".
func FormatReject(e contract.Error) string {
	return fmt.Sprintf("reject %d %s", e.Code(), e.Name())
}

// ParseReject recovers the reject from a log written by FormatReject.
func ParseReject(log string) (contract.Error, bool) {
	fields := strings.Fields(log)
	if len(fields) < 2 || fields[0] != "reject" {
		return 0, false
	}
	code, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return 0, false
	}
	return contract.ErrorFromCode(int32(code))
}
