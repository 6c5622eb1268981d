package api

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	ccrabci "coinredeem.mini/ccr/internal/abci"
	"coinredeem.mini/ccr/internal/chain"
	"coinredeem.mini/ccr/internal/contract"
	"coinredeem.mini/ccr/internal/tendermint"
	"coinredeem.mini/ccr/internal/types"
)

// fakeNode answers the Tendermint RPC calls ConsensusExecutor makes.
func fakeNode(t *testing.T, result chain.Result, account chain.Account) *httptest.Server {
	t.Helper()
	resultJSON, _ := json.Marshal(result)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params map[string]string `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}

		var res interface{}
		switch req.Method {
		case "broadcast_tx_commit":
			res = map[string]interface{}{
				"check_tx":   map[string]interface{}{"code": 0},
				"deliver_tx": map[string]interface{}{"code": 0, "data": base64.StdEncoding.EncodeToString(resultJSON)},
				"hash":       "BEEF",
				"height":     "7",
			}
		case "abci_query":
			data, _ := hex.DecodeString(req.Params["data"])
			var value []byte
			code := ccrabci.CodeTypeOK
			log := ""
			switch req.Params["path"] {
			case ccrabci.PathInvoke:
				var p types.UpdatePayload
				json.Unmarshal(data, &p)
				if p.EntryPoint == contract.EntryViewCoin {
					code, log = ccrabci.CodeTypeContractRejected, ccrabci.FormatReject(contract.ErrCoinNotFound)
				}
				value = resultJSON
			case ccrabci.PathAccount:
				value, _ = json.Marshal(account)
			case ccrabci.PathAccounts:
				value, _ = json.Marshal([]chain.Account{account})
			}
			res = map[string]interface{}{
				"response": map[string]interface{}{"code": code, "log": log, "value": base64.StdEncoding.EncodeToString(value)},
			}
		default:
			t.Errorf("unexpected rpc method %s", req.Method)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "result": res})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConsensusExecutor(t *testing.T) {
	dir := t.TempDir()
	operator := mustIdentity(t, dir, "operator.pem")
	contractAddr := types.ContractAddress{Index: 2}
	want := chain.Result{
		Contract:   contractAddr,
		EntryPoint: contract.EntryRedeem,
		Transfers:  []chain.Transfer{{To: operator.Address(), Amount: 4 * ccd}},
	}
	acct := chain.SingleKeyAccount(operator.Key(), 12*ccd)
	srv := fakeNode(t, want, acct)

	exec := NewConsensusExecutor(tendermint.NewClient(srv.URL, operator), contractAddr, operator.Address())
	if exec.Mode() != "tendermint" || exec.Contract() != contractAddr {
		t.Fatalf("unexpected executor identity")
	}

	ctx := context.Background()
	receipt, err := exec.Update(ctx, contract.EntryRedeem, []byte{1})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if receipt.TxHash != "BEEF" || receipt.Height != 7 || receipt.Total() != 4*ccd {
		t.Errorf("unexpected receipt %+v", receipt)
	}

	res, err := exec.Invoke(ctx, contract.EntryView, nil)
	if err != nil || res.EntryPoint != contract.EntryRedeem {
		t.Errorf("Invoke: %+v %v", res, err)
	}
	if _, err := exec.Invoke(ctx, contract.EntryViewCoin, nil); err == nil {
		t.Error("expected reject from viewCoin")
	} else if rej, ok := contract.AsError(err); !ok || rej != contract.ErrCoinNotFound {
		t.Errorf("reject not recovered: %v", err)
	}

	got, err := exec.Account(ctx, operator.Address())
	if err != nil || got.Balance != 12*ccd {
		t.Errorf("Account: %+v %v", got, err)
	}
	all, err := exec.Accounts(ctx)
	if err != nil || len(all) != 1 {
		t.Errorf("Accounts: %+v %v", all, err)
	}
}
