package tendermint

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	ccrabci "coinredeem.mini/ccr/internal/abci"
	"coinredeem.mini/ccr/internal/types"
)

// TxResult is the outcome of a broadcast transaction.
type TxResult struct {
	Hash   string `json:"hash"`
	Height int64  `json:"height"`
	Code   uint32 `json:"code"`
	Log    string `json:"log"`
	Data   []byte `json:"data"`
}

// ErrTxFailed is returned for a transaction refused by CheckTx or
// DeliverTx for reasons other than a contract reject.
var ErrTxFailed = errors.New("transaction failed")

// Client submits signed transactions and queries through Tendermint's
// JSON-RPC endpoint.
type Client struct {
	rpcAddr string
	client  *http.Client
	signer  types.Signer
}

// NewClient creates a client for rpcAddr. signer signs transactions built
// by Submit and may be nil for a query-only client.
func NewClient(rpcAddr string, signer types.Signer) *Client {
	if rpcAddr == "" {
		rpcAddr = "http://127.0.0.1:26657"
	}
	return &Client{
		rpcAddr: rpcAddr,
		client:  &http.Client{Timeout: 30 * time.Second},
		signer:  signer,
	}
}

type abciResult struct {
	Code uint32 `json:"code"`
	Data []byte `json:"data"` // base64 in the RPC encoding
	Log  string `json:"log"`
}

// Submit builds a transaction from payload, signs it and waits for it to be
// committed. A contract reject is returned as the contract.Error.
func (c *Client) Submit(ctx context.Context, txType types.TransactionType, payload interface{}) (*TxResult, error) {
	if c.signer == nil {
		return nil, errors.New("client has no signer")
	}
	tx, err := types.NewTransaction(txType, payload)
	if err != nil {
		return nil, errors.Wrap(err, "build transaction")
	}
	stx, err := tx.Sign(c.signer)
	if err != nil {
		return nil, errors.Wrap(err, "sign transaction")
	}
	return c.BroadcastSignedTransactionCommit(ctx, stx)
}

// BroadcastSignedTransactionCommit broadcasts stx and waits for the block
// that includes it.
func (c *Client) BroadcastSignedTransactionCommit(ctx context.Context, stx *types.SignedTransaction) (*TxResult, error) {
	txBytes, err := json.Marshal(stx)
	if err != nil {
		return nil, errors.Wrap(err, "marshal transaction")
	}
	return c.BroadcastTxCommit(ctx, txBytes)
}

// BroadcastTxCommit broadcasts tx and waits for it to be committed.
func (c *Client) BroadcastTxCommit(ctx context.Context, tx []byte) (*TxResult, error) {
	var result struct {
		CheckTx   abciResult `json:"check_tx"`
		DeliverTx abciResult `json:"deliver_tx"`
		Hash      string     `json:"hash"`
		Height    string     `json:"height"`
	}
	if err := c.call(ctx, "broadcast_tx_commit", map[string]string{"tx": base64.StdEncoding.EncodeToString(tx)}, &result); err != nil {
		return nil, err
	}
	if err := txError(result.CheckTx); err != nil {
		return nil, errors.WithMessage(err, "check")
	}
	height, _ := strconv.ParseInt(result.Height, 10, 64)
	res := &TxResult{
		Hash:   result.Hash,
		Height: height,
		Code:   result.DeliverTx.Code,
		Log:    result.DeliverTx.Log,
		Data:   result.DeliverTx.Data,
	}
	return res, txError(result.DeliverTx)
}

// BroadcastTxSync broadcasts tx and returns once CheckTx has passed.
func (c *Client) BroadcastTxSync(ctx context.Context, tx []byte) (*TxResult, error) {
	var result struct {
		abciResult
		Hash string `json:"hash"`
	}
	if err := c.call(ctx, "broadcast_tx_sync", map[string]string{"tx": base64.StdEncoding.EncodeToString(tx)}, &result); err != nil {
		return nil, err
	}
	res := &TxResult{Hash: result.Hash, Code: result.Code, Log: result.Log, Data: result.Data}
	return res, txError(result.abciResult)
}

// Query runs an ABCI query, see the abci package for paths.
func (c *Client) Query(ctx context.Context, path string, data []byte) ([]byte, error) {
	var result struct {
		Response struct {
			Code  uint32 `json:"code"`
			Log   string `json:"log"`
			Value []byte `json:"value"`
		} `json:"response"`
	}
	params := map[string]string{"path": path, "data": hex.EncodeToString(data)}
	if err := c.call(ctx, "abci_query", params, &result); err != nil {
		return nil, err
	}
	r := result.Response
	if err := txError(abciResult{Code: r.Code, Log: r.Log}); err != nil {
		return nil, errors.WithMessagef(err, "query %s", path)
	}
	return r.Value, nil
}

// QueryTx looks a transaction up by hash.
func (c *Client) QueryTx(ctx context.Context, txHash string) (map[string]interface{}, error) {
	hash, err := hex.DecodeString(txHash)
	if err != nil {
		return nil, errors.Wrap(err, "decode tx hash")
	}
	var result map[string]interface{}
	err = c.call(ctx, "tx", map[string]string{"hash": base64.StdEncoding.EncodeToString(hash)}, &result)
	return result, err
}

// Status returns the node's status document.
func (c *Client) Status(ctx context.Context) (map[string]interface{}, error) {
	var result map[string]interface{}
	err := c.call(ctx, "status", map[string]string{}, &result)
	return result, err
}

func txError(r abciResult) error {
	switch r.Code {
	case ccrabci.CodeTypeOK:
		return nil
	case ccrabci.CodeTypeContractRejected:
		if rej, ok := ccrabci.ParseReject(r.Log); ok {
			return rej
		}
	}
	return errors.Wrapf(ErrTxFailed, "code %d: %s", r.Code, r.Log)
}

// call performs one JSON-RPC request and decodes its result into out.
func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	reqBytes, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return errors.Wrap(err, "marshal RPC request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcAddr, bytes.NewReader(reqBytes))
	if err != nil {
		return errors.Wrap(err, "build RPC request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send RPC request")
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read RPC response")
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    string `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &rpcResp); err != nil {
		return errors.Wrapf(err, "parse RPC response (body: %s)", respBytes)
	}
	if rpcResp.Error != nil {
		return errors.Errorf("RPC error %d: %s (%s)", rpcResp.Error.Code, rpcResp.Error.Message, rpcResp.Error.Data)
	}
	return errors.Wrapf(json.Unmarshal(rpcResp.Result, out), "decode %s result", method)
}
