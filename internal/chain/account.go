package chain

import (
	"sort"

	"coinredeem.mini/ccr/internal/contract"
	"coinredeem.mini/ccr/internal/types"
)

// CredentialKeys are the keys of one credential. Threshold of them must
// sign.
type CredentialKeys struct {
	Threshold uint8                     `json:"threshold"`
	Keys      map[uint8]types.PublicKey `json:"keys"`
}

// AccountKeys are an account's credentials. Threshold credentials must be
// present in a signature.
type AccountKeys struct {
	Threshold   uint8                    `json:"threshold"`
	Credentials map[uint8]CredentialKeys `json:"credentials"`
}

// Account is a chain account holding native currency.
type Account struct {
	Address types.AccountAddress `json:"address"`
	Balance types.Amount         `json:"balance"`
	Keys    AccountKeys          `json:"keys"`
}

// SingleKeyAccount is an account controlled by one key at credential 0,
// key 0, addressed by the hash of that key.
func SingleKeyAccount(key types.PublicKey, balance types.Amount) Account {
	return Account{
		Address: types.AccountAddressFromKey(key),
		Balance: balance,
		Keys: AccountKeys{
			Threshold: 1,
			Credentials: map[uint8]CredentialKeys{
				0: {Threshold: 1, Keys: map[uint8]types.PublicKey{0: key}},
			},
		},
	}
}

// HasKey reports whether key belongs to any of the account's credentials.
func (k AccountKeys) HasKey(key types.PublicKey) bool {
	for _, cred := range k.Credentials {
		for _, pk := range cred.Keys {
			if pk == key {
				return true
			}
		}
	}
	return false
}

// PublicKeys lists every key of the account, ordered by credential and key
// index.
func (k AccountKeys) PublicKeys() []types.PublicKey {
	credIdx := make([]int, 0, len(k.Credentials))
	for i := range k.Credentials {
		credIdx = append(credIdx, int(i))
	}
	sort.Ints(credIdx)

	var out []types.PublicKey
	for _, ci := range credIdx {
		cred := k.Credentials[uint8(ci)]
		keyIdx := make([]int, 0, len(cred.Keys))
		for i := range cred.Keys {
			keyIdx = append(keyIdx, int(i))
		}
		sort.Ints(keyIdx)
		for _, ki := range keyIdx {
			out = append(out, cred.Keys[uint8(ki)])
		}
	}
	return out
}

// checkSignatures verifies sigs over msg against the account keys. An empty
// map, or an empty credential entry, cannot be checked at all and yields
// contract.ErrHostMalformedData. Signatures naming a credential or key the
// account does not have make the whole set invalid.
func (k AccountKeys) checkSignatures(sigs types.AccountSignatures, msg []byte) (bool, error) {
	if len(sigs) == 0 {
		return false, contract.ErrHostMalformedData
	}
	for _, credSigs := range sigs {
		if len(credSigs) == 0 {
			return false, contract.ErrHostMalformedData
		}
	}

	for credIdx, credSigs := range sigs {
		cred, ok := k.Credentials[credIdx]
		if !ok {
			return false, nil
		}
		verified := 0
		for keyIdx, sig := range credSigs {
			key, ok := cred.Keys[keyIdx]
			if !ok {
				return false, nil
			}
			if !verifyEd25519(key, sig, msg) {
				return false, nil
			}
			verified++
		}
		if verified < int(cred.Threshold) {
			return false, nil
		}
	}
	return len(sigs) >= int(k.Threshold), nil
}

func verifyEd25519(key types.PublicKey, sig types.Signature, msg []byte) bool {
	return types.VerifySignature(key, msg, sig[:])
}
