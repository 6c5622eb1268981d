package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"coinredeem.mini/ccr/internal/types"
)

func postAs(t *testing.T, handler http.HandlerFunc, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(b))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func currentAdmin(t *testing.T, svc *Service) types.AccountAddress {
	t.Helper()
	w := doJSON(t, svc.HandleView, http.MethodGet, "/api/view", nil)
	var v viewResponse
	decode(t, w, &v)
	return v.Admin
}

func TestRequireOperator(t *testing.T) {
	svc, env, cleanup := setupTest(t)
	defer cleanup()
	svc.operatorToken = "s3cret"
	setAdmin := svc.RequireOperator(svc.HandleSetAdmin)
	req := setAdminRequest{Admin: env.holder.Address()}

	for _, token := range []string{"", "wrong", "s3cret "} {
		w := postAs(t, setAdmin, "/api/admin", token, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("token %q: got %d, want 401", token, w.Code)
		}
	}
	if admin := currentAdmin(t, svc); admin != env.operator.Address() {
		t.Fatalf("admin changed to %s by an anonymous request", admin)
	}

	w := postAs(t, setAdmin, "/api/admin", "s3cret", req)
	if w.Code != http.StatusOK {
		t.Fatalf("authorized setAdmin: %d %s", w.Code, w.Body)
	}
	if admin := currentAdmin(t, svc); admin != env.holder.Address() {
		t.Errorf("admin = %s, want %s", admin, env.holder.Address())
	}
}

func TestRequireOperatorWithoutToken(t *testing.T) {
	svc, _, cleanup := setupTest(t)
	defer cleanup()

	issue := svc.RequireOperator(svc.HandleIssue)
	coins := types.CoinList{Coins: []types.CoinEntry{{PublicKey: types.PublicKey{5}, Amount: ccd}}}
	for _, token := range []string{"", "anything"} {
		w := postAs(t, issue, "/api/issue", token, coins)
		if w.Code != http.StatusForbidden {
			t.Errorf("token %q: got %d, want 403", token, w.Code)
		}
	}
	w := doJSON(t, svc.HandleView, http.MethodGet, "/api/view", nil)
	var v viewResponse
	decode(t, w, &v)
	if len(v.Coins) != 1 {
		t.Errorf("coins issued without a token: %+v", v.Coins)
	}
}
