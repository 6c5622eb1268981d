package api

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"coinredeem.mini/ccr/internal/codec"
	"coinredeem.mini/ccr/internal/contract"
	"coinredeem.mini/ccr/internal/types"
)

func TestHandleView(t *testing.T) {
	svc, env, cleanup := setupTest(t)
	defer cleanup()

	w := doJSON(t, svc.HandleView, http.MethodGet, "/api/view", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status OK, got %d: %s", w.Code, w.Body)
	}
	var v viewResponse
	decode(t, w, &v)
	if v.Admin != env.operator.Address() || v.Contract != env.contract {
		t.Errorf("unexpected view %+v", v)
	}
	if len(v.Coins) != 1 || v.Coins[0].Amount != 10*ccd || v.Coins[0].IsRedeemed {
		t.Errorf("unexpected coins %+v", v.Coins)
	}

	w = doJSON(t, svc.HandleView, http.MethodPost, "/api/view", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST view: got %d", w.Code)
	}
}

func TestHandleRedeem(t *testing.T) {
	svc, env, cleanup := setupTest(t)
	defer cleanup()

	param := env.coin.RedeemParam(env.holder.Address())
	w := doJSON(t, svc.HandleRedeem, http.MethodPost, "/api/redeem", param)
	if w.Code != http.StatusOK {
		t.Fatalf("redeem failed: %d %s", w.Code, w.Body)
	}
	var receipt Receipt
	decode(t, w, &receipt)
	if _, err := uuid.Parse(receipt.ID); err != nil {
		t.Errorf("receipt id %q is not a uuid", receipt.ID)
	}
	if receipt.EntryPoint != contract.EntryRedeem || receipt.Total() != 10*ccd {
		t.Errorf("unexpected receipt %+v", receipt)
	}
	if acct, _ := env.chain.Account(env.holder.Address()); acct.Balance != 10*ccd {
		t.Errorf("holder balance = %s", acct.Balance)
	}

	// Redeeming twice is a reject, reported as 422 with its code.
	w = doJSON(t, svc.HandleRedeem, http.MethodPost, "/api/redeem", param)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("second redeem: got %d", w.Code)
	}
	var rej rejectResponse
	decode(t, w, &rej)
	if rej.Code != contract.ErrCoinAlreadyRedeemed.Code() || rej.Error != "CoinAlreadyRedeemed" {
		t.Errorf("unexpected reject %+v", rej)
	}

	events := svc.Events().GetAll()
	if len(events) != 2 || events[0].Level != "warning" || events[1].Level != "info" {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestHandleRedeemBadBody(t *testing.T) {
	svc, _, cleanup := setupTest(t)
	defer cleanup()

	for _, body := range []interface{}{
		"not an object",
		map[string]string{"public_key": "zz"},
		map[string]string{"unexpected": "field"},
	} {
		w := doJSON(t, svc.HandleRedeem, http.MethodPost, "/api/redeem", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %v: got %d", body, w.Code)
		}
	}
}

func TestHandlePermit(t *testing.T) {
	svc, env, cleanup := setupTest(t)
	defer cleanup()

	msg := types.PermitMessage{
		ContractAddress: env.contract,
		Timestamp:       types.TimestampFromTime(testNow.Add(time.Hour)),
		EntryPoint:      contract.EntryRedeem,
		Payload:         codec.EncodeRedeemParam(env.coin.RedeemParam(env.holder.Address())),
	}

	expired := msg
	expired.Timestamp = types.TimestampFromTime(testNow)
	w := doJSON(t, svc.HandlePermit, http.MethodPost, "/api/permit", env.holder.SignPermit(expired))
	var rej rejectResponse
	decode(t, w, &rej)
	if w.Code != http.StatusUnprocessableEntity || rej.Code != contract.ErrExpired.Code() {
		t.Fatalf("expired permit: %d %+v", w.Code, rej)
	}

	before, _ := env.chain.Account(env.operator.Address())
	w = doJSON(t, svc.HandlePermit, http.MethodPost, "/api/permit", env.holder.SignPermit(msg))
	if w.Code != http.StatusOK {
		t.Fatalf("permit failed: %d %s", w.Code, w.Body)
	}
	if acct, _ := env.chain.Account(env.holder.Address()); acct.Balance != 10*ccd {
		t.Errorf("holder balance = %s", acct.Balance)
	}
	if after, _ := env.chain.Account(env.operator.Address()); after.Balance != before.Balance {
		t.Errorf("sponsor balance changed from %s to %s", before.Balance, after.Balance)
	}
}

func TestPermitRejectsUnencodableParams(t *testing.T) {
	svc, env, cleanup := setupTest(t)
	defer cleanup()

	good := types.PermitMessage{
		ContractAddress: env.contract,
		Timestamp:       types.TimestampFromTime(testNow.Add(time.Hour)),
		EntryPoint:      contract.EntryRedeem,
	}
	badName := good
	badName.EntryPoint = "has space"
	bigPayload := good
	bigPayload.Payload = make([]byte, 1<<16)

	for name, msg := range map[string]types.PermitMessage{"entry point": badName, "payload": bigPayload} {
		param := env.holder.SignPermit(good)
		param.Message = msg
		for target, handler := range map[string]http.HandlerFunc{
			"/api/permit":       svc.HandlePermit,
			"/api/message-hash": svc.HandleMessageHash,
		} {
			w := doJSON(t, handler, http.MethodPost, target, param)
			if w.Code != http.StatusBadRequest {
				t.Errorf("%s %s: got %d %s", target, name, w.Code, w.Body)
			}
		}
	}
}

func TestHandleMessageHash(t *testing.T) {
	svc, env, cleanup := setupTest(t)
	defer cleanup()

	param := env.holder.SignPermit(types.PermitMessage{
		ContractAddress: env.contract,
		Timestamp:       42,
		EntryPoint:      contract.EntryRedeem,
		Payload:         []byte{1, 2, 3},
	})
	w := doJSON(t, svc.HandleMessageHash, http.MethodPost, "/api/message-hash", param)
	if w.Code != http.StatusOK {
		t.Fatalf("message-hash failed: %d %s", w.Code, w.Body)
	}
	var resp map[string]string
	decode(t, w, &resp)
	want := codec.PermitMessageHash(param.Signer, param.Message)
	if resp["hash"] != hex.EncodeToString(want[:]) {
		t.Errorf("hash = %s, want %x", resp["hash"], want)
	}
}

func TestHandleSupportsPermit(t *testing.T) {
	svc, _, cleanup := setupTest(t)
	defer cleanup()

	w := doJSON(t, svc.HandleSupportsPermit, http.MethodPost, "/api/supports-permit",
		supportsRequest{EntryPoints: []string{"redeem", "issue"}})
	if w.Code != http.StatusOK {
		t.Fatalf("supports-permit failed: %d %s", w.Code, w.Body)
	}
	var out []supportsEntry
	decode(t, w, &out)
	if len(out) != 2 || out[0].Kind != types.Support || out[1].Kind != types.NoSupport || out[1].EntryPoint != "issue" {
		t.Errorf("unexpected result %+v", out)
	}

	w = doJSON(t, svc.HandleSupportsPermit, http.MethodPost, "/api/supports-permit",
		supportsRequest{EntryPoints: []string{"bad name!"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid name: got %d", w.Code)
	}
}

func TestHandleIssueAndCoin(t *testing.T) {
	svc, env, cleanup := setupTest(t)
	defer cleanup()

	key := types.PublicKey{7}
	w := doJSON(t, svc.HandleIssue, http.MethodPost, "/api/issue",
		types.CoinList{Coins: []types.CoinEntry{{PublicKey: key, Amount: 3 * ccd}}})
	if w.Code != http.StatusOK {
		t.Fatalf("issue failed: %d %s", w.Code, w.Body)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/coins/"+key.String(), nil)
	req.SetPathValue("key", key.String())
	rec := httptest.NewRecorder()
	svc.HandleCoin(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("coin lookup failed: %d %s", rec.Code, rec.Body)
	}
	var coin types.CoinView
	decode(t, rec, &coin)
	if coin.PublicKey != key || coin.Amount != 3*ccd {
		t.Errorf("unexpected coin %+v", coin)
	}

	// The existing coin again rejects the batch.
	w = doJSON(t, svc.HandleIssue, http.MethodPost, "/api/issue",
		types.CoinList{Coins: []types.CoinEntry{{PublicKey: env.coin.PublicKey(), Amount: 1}}})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("duplicate issue: got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/coins/xyz", nil)
	req.SetPathValue("key", "xyz")
	rec = httptest.NewRecorder()
	svc.HandleCoin(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad key: got %d", rec.Code)
	}
}

func TestHandleSetAdmin(t *testing.T) {
	svc, env, cleanup := setupTest(t)
	defer cleanup()

	w := doJSON(t, svc.HandleSetAdmin, http.MethodPost, "/api/admin", setAdminRequest{Admin: env.holder.Address()})
	if w.Code != http.StatusOK {
		t.Fatalf("setAdmin failed: %d %s", w.Code, w.Body)
	}

	// The operator is no longer admin.
	w = doJSON(t, svc.HandleSetAdmin, http.MethodPost, "/api/admin", setAdminRequest{Admin: env.operator.Address()})
	var rej rejectResponse
	decode(t, w, &rej)
	if w.Code != http.StatusUnprocessableEntity || rej.Code != contract.ErrNotAuthorized.Code() {
		t.Errorf("second setAdmin: %d %+v", w.Code, rej)
	}
}
