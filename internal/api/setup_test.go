package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"coinredeem.mini/ccr/internal/chain"
	"coinredeem.mini/ccr/internal/codec"
	"coinredeem.mini/ccr/internal/discovery"
	"coinredeem.mini/ccr/internal/docs"
	"coinredeem.mini/ccr/internal/identity"
	"coinredeem.mini/ccr/internal/logger"
	"coinredeem.mini/ccr/internal/store"
	"coinredeem.mini/ccr/internal/types"
)

const ccd = types.MicroCCDPerCCD

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// testEnv is a node whose operator deployed a contract with one coin.
type testEnv struct {
	chain    *chain.Chain
	store    *store.Store
	operator *identity.Identity
	holder   *identity.Identity
	coin     *identity.CoinKey
	contract types.ContractAddress
}

type fixedPeers []discovery.Peer

func (p fixedPeers) Peers() []discovery.Peer { return p }

func mustIdentity(t *testing.T, dir, name string) *identity.Identity {
	t.Helper()
	id, err := identity.LoadOrCreateIdentity(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	return id
}

// setupTest creates a SQLite backed chain and a service calling it locally.
func setupTest(t *testing.T) (*Service, *testEnv, func()) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewStore(filepath.Join(dir, "ccr.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	env := &testEnv{
		store:    st,
		operator: mustIdentity(t, dir, "operator.pem"),
		holder:   mustIdentity(t, dir, "holder.pem"),
	}
	if env.coin, err = identity.GenerateCoinKey(); err != nil {
		t.Fatal(err)
	}

	env.chain = chain.New(st, nil, nil)
	env.chain.UseClock(func() time.Time { return testNow })
	if err := env.chain.CreateAccount(chain.SingleKeyAccount(env.operator.Key(), 1000*ccd)); err != nil {
		t.Fatal(err)
	}
	if err := env.chain.CreateAccount(chain.SingleKeyAccount(env.holder.Key(), 0)); err != nil {
		t.Fatal(err)
	}
	coins := types.CoinList{Coins: []types.CoinEntry{{PublicKey: env.coin.PublicKey(), Amount: 10 * ccd}}}
	env.contract, err = env.chain.InitContract(context.Background(), types.InitPayload{
		Sender:    env.operator.Address(),
		Amount:    100 * ccd,
		Parameter: codec.EncodeCoinList(coins),
	})
	if err != nil {
		t.Fatalf("InitContract: %v", err)
	}

	svc := NewService(Options{
		Executor:   NewLocalExecutor(env.chain, env.contract, env.operator.Address()),
		Events:     logger.New(100),
		Store:      st,
		BackupKeep: 3,
		Peers:      fixedPeers{{Instance: "a", Contract: env.contract.String()}, {Instance: "b", Contract: "<9,0>"}},
		Docs:       docs.NewService(docs.Embedded()),
	})

	cleanup := func() {
		st.Close()
	}
	return svc, env, cleanup
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}
