package types

import (
	"encoding/json"
	"fmt"
)

// CoinState is the ledger record of a single coin.
type CoinState struct {
	Amount     Amount `json:"amount"`
	IsRedeemed bool   `json:"is_redeemed"`
}

// CoinEntry pairs a coin key with its amount. In JSON it is the two element
// array `["<hex key>", "<amount>"]` written by the seed generator.
type CoinEntry struct {
	PublicKey PublicKey
	Amount    Amount
}

func (e CoinEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{e.PublicKey, e.Amount})
}

func (e *CoinEntry) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("coin entry: want [key, amount], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &e.PublicKey); err != nil {
		return fmt.Errorf("coin entry key: %w", err)
	}
	return json.Unmarshal(pair[1], &e.Amount)
}

// CoinList is the parameter of init and issue.
type CoinList struct {
	Coins []CoinEntry `json:"coins"`
}

// Total returns the sum of all listed amounts.
func (l CoinList) Total() Amount {
	var total Amount
	for _, c := range l.Coins {
		total += c.Amount
	}
	return total
}

// CoinView is one row of the view return value.
type CoinView struct {
	PublicKey PublicKey `json:"public_key"`
	CoinState
}

// ViewReturnData is the full contract state as returned by view.
type ViewReturnData struct {
	Coins []CoinView     `json:"coins"`
	Admin AccountAddress `json:"admin"`
}

// RedeemParam authorizes paying a coin out to Account. Signature is the
// coin key's signature over the 32 raw bytes of Account.
type RedeemParam struct {
	PublicKey PublicKey      `json:"public_key"`
	Signature Signature      `json:"signature"`
	Account   AccountAddress `json:"account"`
}
