package abci

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	tmabci "github.com/tendermint/tendermint/abci/types"
	tmproto "github.com/tendermint/tendermint/proto/tendermint/types"

	"coinredeem.mini/ccr/internal/chain"
	"coinredeem.mini/ccr/internal/codec"
	"coinredeem.mini/ccr/internal/config"
	"coinredeem.mini/ccr/internal/contract"
	"coinredeem.mini/ccr/internal/identity"
	"coinredeem.mini/ccr/internal/logger"
	"coinredeem.mini/ccr/internal/types"
)

const ccd = types.MicroCCDPerCCD

// blockTime tracks the wall clock since transactions carry their creation
// time and must fall inside TxWindow of it.
var blockTime = time.Now().UTC().Truncate(time.Millisecond)

type testNode struct {
	app     *ABCIApplication
	events  *logger.Logger
	admin   *identity.Identity
	holder  *identity.Identity
	sponsor *identity.Identity
	coin    *identity.CoinKey
}

func loadIdentity(t *testing.T, name string) *identity.Identity {
	t.Helper()
	id, err := identity.LoadOrCreateIdentity(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity error: %v", err)
	}
	return id
}

// newTestNode starts a chain with three genesis accounts and one deployed
// contract holding a single coin.
func newTestNode(t *testing.T) *testNode {
	t.Helper()
	n := &testNode{
		events:  logger.New(50),
		admin:   loadIdentity(t, "admin.pem"),
		holder:  loadIdentity(t, "holder.pem"),
		sponsor: loadIdentity(t, "sponsor.pem"),
	}
	var err error
	if n.coin, err = identity.GenerateCoinKey(); err != nil {
		t.Fatal(err)
	}

	genesis := []config.GenesisAccount{
		{PublicKey: n.admin.Key(), Balance: 1000 * ccd},
		{PublicKey: n.holder.Key()},
		{PublicKey: n.sponsor.Key(), Balance: ccd},
	}
	n.app = NewABCIApplication(chain.New(chain.NewMemoryBackends(), nil, nil), genesis, types.ContractAddress{}, n.events, nil, nil)
	n.app.InitChain(tmabci.RequestInitChain{Time: blockTime})
	n.app.BeginBlock(tmabci.RequestBeginBlock{Header: tmproto.Header{Time: blockTime}})

	coins := types.CoinList{Coins: []types.CoinEntry{{PublicKey: n.coin.PublicKey(), Amount: 10 * ccd}}}
	resp := n.app.DeliverTx(tmabci.RequestDeliverTx{Tx: signedTx(t, n.admin, types.TxInitContract, types.InitPayload{
		Sender:    n.admin.Address(),
		Amount:    100 * ccd,
		Parameter: codec.EncodeCoinList(coins),
	})})
	if resp.Code != CodeTypeOK {
		t.Fatalf("init failed: code=%d log=%s", resp.Code, resp.Log)
	}
	return n
}

func signedTx(t *testing.T, signer *identity.Identity, txType types.TransactionType, payload interface{}) []byte {
	t.Helper()
	tx, err := types.NewTransaction(txType, payload)
	if err != nil {
		t.Fatalf("new tx: %v", err)
	}
	stx, err := tx.Sign(signer)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	b, err := json.Marshal(stx)
	if err != nil {
		t.Fatalf("marshal signed tx: %v", err)
	}
	return b
}

func (n *testNode) balance(t *testing.T, id *identity.Identity) types.Amount {
	t.Helper()
	resp := n.app.Query(tmabci.RequestQuery{Path: PathAccount, Data: []byte(id.Address().String())})
	if resp.Code != CodeTypeOK {
		t.Fatalf("account query failed: %s", resp.Log)
	}
	var acct chain.Account
	if err := json.Unmarshal(resp.Value, &acct); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	return acct.Balance
}

func TestRedeemCheckAndDeliver(t *testing.T) {
	n := newTestNode(t)
	txBytes := signedTx(t, n.holder, types.TxUpdateContract, types.UpdatePayload{
		Sender:     n.holder.Address(),
		EntryPoint: contract.EntryRedeem,
		Parameter:  codec.EncodeRedeemParam(n.coin.RedeemParam(n.holder.Address())),
	})

	if resp := n.app.CheckTx(tmabci.RequestCheckTx{Tx: txBytes}); resp.Code != CodeTypeOK {
		t.Fatalf("CheckTx failed: code=%d log=%s", resp.Code, resp.Log)
	}
	dresp := n.app.DeliverTx(tmabci.RequestDeliverTx{Tx: txBytes})
	if dresp.Code != CodeTypeOK {
		t.Fatalf("DeliverTx failed: code=%d log=%s", dresp.Code, dresp.Log)
	}
	var res chain.Result
	if err := json.Unmarshal(dresp.Data, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Total() != 10*ccd {
		t.Errorf("paid %s, want 10 CCD", res.Total())
	}
	if got := n.balance(t, n.holder); got != 10*ccd {
		t.Errorf("holder balance = %s", got)
	}

	// A new redeem of the same coin is a contract reject carrying its code.
	dresp = n.app.DeliverTx(tmabci.RequestDeliverTx{Tx: signedTx(t, n.holder, types.TxUpdateContract, types.UpdatePayload{
		Sender:     n.holder.Address(),
		EntryPoint: contract.EntryRedeem,
		Parameter:  codec.EncodeRedeemParam(n.coin.RedeemParam(n.holder.Address())),
	})})
	if dresp.Code != CodeTypeContractRejected {
		t.Fatalf("expected reject, got code=%d log=%s", dresp.Code, dresp.Log)
	}
	if rej, ok := ParseReject(dresp.Log); !ok || rej != contract.ErrCoinAlreadyRedeemed {
		t.Errorf("reject log %q parsed as %v", dresp.Log, rej)
	}
	if len(n.events.GetRecent(1)) == 0 || n.events.GetRecent(1)[0].Level != "warning" {
		t.Errorf("reject not recorded in the event feed")
	}
}

func TestCheckTxRejectsInvalidSignature(t *testing.T) {
	n := newTestNode(t)

	// Signed by the sponsor but claiming the holder's key.
	tx, _ := types.NewTransaction(types.TxUpdateContract, types.UpdatePayload{Sender: n.holder.Address(), EntryPoint: contract.EntryView})
	stx, err := tx.Sign(n.sponsor)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	stx.PublicKey = []byte(n.holder.PublicKey())
	txBytes, _ := json.Marshal(stx)

	if resp := n.app.CheckTx(tmabci.RequestCheckTx{Tx: txBytes}); resp.Code != CodeTypeAuthError {
		t.Fatalf("CheckTx accepted invalid signature: code=%d", resp.Code)
	}
}

func TestCheckTxRejectsForeignSender(t *testing.T) {
	n := newTestNode(t)
	// A valid signature, but the sponsor's key does not control the holder.
	txBytes := signedTx(t, n.sponsor, types.TxUpdateContract, types.UpdatePayload{
		Sender:     n.holder.Address(),
		EntryPoint: contract.EntryRedeem,
	})
	if resp := n.app.CheckTx(tmabci.RequestCheckTx{Tx: txBytes}); resp.Code != CodeTypeAuthError {
		t.Fatalf("expected auth error, got code=%d log=%s", resp.Code, resp.Log)
	}

	if resp := n.app.CheckTx(tmabci.RequestCheckTx{Tx: []byte("{")}); resp.Code != CodeTypeEncodingError {
		t.Fatalf("expected encoding error, got code=%d", resp.Code)
	}
	unknown := signedTx(t, n.sponsor, "mint", map[string]string{})
	if resp := n.app.CheckTx(tmabci.RequestCheckTx{Tx: unknown}); resp.Code != CodeTypeInvalidTx {
		t.Fatalf("expected invalid tx, got code=%d", resp.Code)
	}
}

func TestPermitUsesBlockTime(t *testing.T) {
	n := newTestNode(t)
	permit := n.holder.SignPermit(types.PermitMessage{
		Timestamp:  types.TimestampFromTime(blockTime.Add(time.Minute)),
		EntryPoint: contract.EntryRedeem,
		Payload:    codec.EncodeRedeemParam(n.coin.RedeemParam(n.holder.Address())),
	})
	payload := types.UpdatePayload{
		Sender:     n.sponsor.Address(),
		EntryPoint: contract.EntryPermit,
		Parameter:  codec.EncodePermitParam(permit),
	}

	n.app.BeginBlock(tmabci.RequestBeginBlock{Header: tmproto.Header{Time: blockTime.Add(time.Minute)}})
	resp := n.app.DeliverTx(tmabci.RequestDeliverTx{Tx: signedTx(t, n.sponsor, types.TxUpdateContract, payload)})
	if rej, _ := ParseReject(resp.Log); rej != contract.ErrExpired {
		t.Fatalf("expected Expired, got code=%d log=%s", resp.Code, resp.Log)
	}

	n.app.BeginBlock(tmabci.RequestBeginBlock{Header: tmproto.Header{Time: blockTime}})
	resp = n.app.DeliverTx(tmabci.RequestDeliverTx{Tx: signedTx(t, n.sponsor, types.TxUpdateContract, payload)})
	if resp.Code != CodeTypeOK {
		t.Fatalf("permit failed: code=%d log=%s", resp.Code, resp.Log)
	}
	if got := n.balance(t, n.holder); got != 10*ccd {
		t.Errorf("holder balance = %s", got)
	}
}

func (n *testNode) contracts(t *testing.T) []chain.ContractInfo {
	t.Helper()
	resp := n.app.Query(tmabci.RequestQuery{Path: PathContracts})
	if resp.Code != CodeTypeOK {
		t.Fatalf("contracts query failed: %s", resp.Log)
	}
	var out []chain.ContractInfo
	if err := json.Unmarshal(resp.Value, &out); err != nil {
		t.Fatalf("decode contracts: %v", err)
	}
	return out
}

func TestDeliveredTxCannotBeReplayed(t *testing.T) {
	n := newTestNode(t)
	txBytes := signedTx(t, n.admin, types.TxInitContract, types.InitPayload{
		Sender:    n.admin.Address(),
		Amount:    100 * ccd,
		Parameter: codec.EncodeCoinList(types.CoinList{}),
	})
	before := n.balance(t, n.admin)

	if resp := n.app.DeliverTx(tmabci.RequestDeliverTx{Tx: txBytes}); resp.Code != CodeTypeOK {
		t.Fatalf("init failed: code=%d log=%s", resp.Code, resp.Log)
	}
	n.app.Commit()

	if resp := n.app.CheckTx(tmabci.RequestCheckTx{Tx: txBytes}); resp.Code != CodeTypeReplay {
		t.Errorf("CheckTx of a delivered tx: code=%d log=%s", resp.Code, resp.Log)
	}
	if resp := n.app.DeliverTx(tmabci.RequestDeliverTx{Tx: txBytes}); resp.Code != CodeTypeReplay {
		t.Errorf("DeliverTx of a delivered tx: code=%d log=%s", resp.Code, resp.Log)
	}
	if got := n.balance(t, n.admin); got != before-100*ccd {
		t.Errorf("admin balance = %s, want %s", got, before-100*ccd)
	}
	if got := len(n.contracts(t)); got != 2 {
		t.Errorf("%d contracts, want 2", got)
	}

	// Once the window has passed the body is forgotten but refused as stale.
	n.app.BeginBlock(tmabci.RequestBeginBlock{Header: tmproto.Header{Time: blockTime.Add(TxWindow + time.Minute)}})
	n.app.Commit()
	if len(n.app.seen) != 0 {
		t.Errorf("%d transactions kept past the window", len(n.app.seen))
	}
	if resp := n.app.DeliverTx(tmabci.RequestDeliverTx{Tx: txBytes}); resp.Code != CodeTypeStaleTx {
		t.Errorf("DeliverTx of an old tx: code=%d log=%s", resp.Code, resp.Log)
	}
	if got := len(n.contracts(t)); got != 2 {
		t.Errorf("%d contracts after a stale replay, want 2", got)
	}
}

func TestCheckTxRejectsFutureTx(t *testing.T) {
	n := newTestNode(t)
	tx, err := types.NewTransaction(types.TxUpdateContract, types.UpdatePayload{Sender: n.holder.Address(), EntryPoint: contract.EntryView})
	if err != nil {
		t.Fatal(err)
	}
	tx.Timestamp = blockTime.Add(2 * TxWindow)
	stx, err := tx.Sign(n.holder)
	if err != nil {
		t.Fatal(err)
	}
	txBytes, _ := json.Marshal(stx)
	if resp := n.app.CheckTx(tmabci.RequestCheckTx{Tx: txBytes}); resp.Code != CodeTypeStaleTx {
		t.Errorf("expected stale tx, got code=%d log=%s", resp.Code, resp.Log)
	}
}

func TestQueryView(t *testing.T) {
	n := newTestNode(t)
	resp := n.app.Query(tmabci.RequestQuery{Path: PathView})
	if resp.Code != CodeTypeOK {
		t.Fatalf("view failed: %s", resp.Log)
	}
	v, err := codec.DecodeViewReturnData(resp.Value)
	if err != nil {
		t.Fatal(err)
	}
	if v.Admin != n.admin.Address() || len(v.Coins) != 1 {
		t.Errorf("unexpected view %+v", v)
	}

	if resp := n.app.Query(tmabci.RequestQuery{Path: "/nope"}); resp.Code == CodeTypeOK {
		t.Error("unknown path succeeded")
	}
}

func TestCommitAdvancesHashAndHeight(t *testing.T) {
	n := newTestNode(t)
	first := n.app.Commit()
	if len(first.Data) == 0 {
		t.Fatal("empty app hash after a delivered tx")
	}
	n.app.DeliverTx(tmabci.RequestDeliverTx{Tx: []byte("junk")})
	second := n.app.Commit()
	if string(first.Data) == string(second.Data) {
		t.Error("app hash did not change")
	}
	if info := n.app.Info(tmabci.RequestInfo{}); info.LastBlockHeight != 2 {
		t.Errorf("height = %d", info.LastBlockHeight)
	}
}
