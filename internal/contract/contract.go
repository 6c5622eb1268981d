// Package contract is the redeemable-coin contract. The admin issues coins,
// each an ed25519 public key carrying an amount; whoever holds a coin's
// private key redeems it by signing the raw bytes of the receiving account,
// and the contract pays the amount out of its balance.
//
// Redemption is also available as a sponsored call through permit: the
// receiving account signs a message naming this contract, an expiry and the
// redeem entry point with its parameter, and any third party submits it.
//
// Entry points take their parameter from the Host and return the encoded
// return value. Every error they return either is an Error (a reject) or
// comes from the host's storage; in both cases the host must discard the
// call's writes and transfers.
package contract

import (
	"errors"
	"sort"

	"coinredeem.mini/ccr/internal/codec"
	"coinredeem.mini/ccr/internal/ledger"
	"coinredeem.mini/ccr/internal/types"
)

// Name is the contract name instances are created under.
const Name = "ccd_redeem"

const (
	EntryRedeem          = "redeem"
	EntryIssue           = "issue"
	EntrySetAdmin        = "setAdmin"
	EntryView            = "view"
	EntryViewCoin        = "viewCoin"
	EntryPermit          = "permit"
	EntryViewMessageHash = "viewMessageHash"
	EntrySupportsPermit  = "supportsPermit"
)

// ErrUnknownEntrypoint is returned by Receive for names the contract does
// not export.
var ErrUnknownEntrypoint = errors.New("unknown entrypoint")

// permitEntrypoints are the entry points permit may dispatch to.
var permitEntrypoints = map[string]bool{
	EntryRedeem: true,
}

type entrypoint struct {
	fn      func(Host, *ledger.State) ([]byte, error)
	mutable bool
}

var entrypoints = map[string]entrypoint{
	EntryRedeem:          {redeem, true},
	EntryIssue:           {issue, true},
	EntrySetAdmin:        {setAdmin, true},
	EntryPermit:          {permit, true},
	EntryView:            {view, false},
	EntryViewCoin:        {viewCoin, false},
	EntryViewMessageHash: {viewMessageHash, false},
	EntrySupportsPermit:  {supportsPermit, false},
}

// Receive runs the named entry point.
func Receive(name string, h Host, st *ledger.State) ([]byte, error) {
	ep, ok := entrypoints[name]
	if !ok {
		return nil, ErrUnknownEntrypoint
	}
	return ep.fn(h, st)
}

// Mutable reports whether the entry point can change state, and whether it
// exists at all.
func Mutable(name string) (mutable, known bool) {
	ep, ok := entrypoints[name]
	return ep.mutable, ok
}

// EntryPoints lists the exported entry point names, sorted.
func EntryPoints() []string {
	names := make([]string, 0, len(entrypoints))
	for n := range entrypoints {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Init creates a new instance: the deploying account becomes admin and
// every coin in the parameter is issued. Any duplicate fails the whole init.
func Init(h InitHost, store ledger.Store) (*ledger.State, error) {
	param, err := codec.DecodeCoinList(h.Parameter())
	if err != nil {
		return nil, fromParse(err)
	}
	st, err := ledger.Create(store, h.Origin())
	if err != nil {
		return nil, err
	}
	if err := issueAll(st, param.Coins); err != nil {
		return nil, err
	}
	return st, nil
}

func issueAll(st *ledger.State, coins []types.CoinEntry) error {
	for _, c := range coins {
		if err := st.Issue(c.PublicKey, c.Amount); err != nil {
			return fromLedger(err)
		}
	}
	return nil
}
