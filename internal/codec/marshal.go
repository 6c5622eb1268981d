package codec

import (
	"github.com/minio/sha256-simd"

	"coinredeem.mini/ccr/internal/types"
)

// permitHashPadding is the run of zero bytes between the signer and the
// serialized message in the permit hash preimage.
const permitHashPadding = 8

// MessageHash computes SHA-256(signer || 8 zero bytes || message). message
// must be the serialized PermitMessage.
func MessageHash(signer types.AccountAddress, message []byte) [32]byte {
	h := sha256.New()
	h.Write(signer[:])
	h.Write(make([]byte, permitHashPadding))
	h.Write(message)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// PermitMessageHash serializes msg and hashes it for signer.
func PermitMessageHash(signer types.AccountAddress, msg types.PermitMessage) [32]byte {
	return MessageHash(signer, EncodePermitMessage(msg))
}

func EncodeAccountAddress(a types.AccountAddress) []byte {
	e := NewEncoder()
	e.AccountAddress(a)
	return e.Bytes()
}

func DecodeAccountAddress(b []byte) (types.AccountAddress, error) {
	d := NewDecoder(b)
	a, err := d.AccountAddress()
	if err != nil {
		return a, err
	}
	return a, d.Finish()
}

func DecodePublicKey(b []byte) (types.PublicKey, error) {
	d := NewDecoder(b)
	k, err := d.PublicKey()
	if err != nil {
		return k, err
	}
	return k, d.Finish()
}

func EncodePublicKey(k types.PublicKey) []byte {
	e := NewEncoder()
	e.PublicKey(k)
	return e.Bytes()
}

func EncodeRedeemParam(p types.RedeemParam) []byte {
	e := NewEncoder()
	e.RedeemParam(p)
	return e.Bytes()
}

func DecodeRedeemParam(b []byte) (types.RedeemParam, error) {
	d := NewDecoder(b)
	p, err := d.RedeemParam()
	if err != nil {
		return p, err
	}
	return p, d.Finish()
}

func EncodeCoinList(l types.CoinList) []byte {
	e := NewEncoder()
	e.CoinList(l)
	return e.Bytes()
}

func DecodeCoinList(b []byte) (types.CoinList, error) {
	d := NewDecoder(b)
	l, err := d.CoinList()
	if err != nil {
		return l, err
	}
	return l, d.Finish()
}

func EncodeCoinState(c types.CoinState) []byte {
	e := NewEncoder()
	e.CoinState(c)
	return e.Bytes()
}

func DecodeCoinState(b []byte) (types.CoinState, error) {
	d := NewDecoder(b)
	c, err := d.CoinState()
	if err != nil {
		return c, err
	}
	return c, d.Finish()
}

func EncodeViewReturnData(v types.ViewReturnData) []byte {
	e := NewEncoder()
	e.ViewReturnData(v)
	return e.Bytes()
}

func DecodeViewReturnData(b []byte) (types.ViewReturnData, error) {
	d := NewDecoder(b)
	v, err := d.ViewReturnData()
	if err != nil {
		return v, err
	}
	return v, d.Finish()
}

func EncodePermitMessage(m types.PermitMessage) []byte {
	e := NewEncoder()
	e.PermitMessage(m)
	return e.Bytes()
}

func EncodePermitParam(p types.PermitParam) []byte {
	e := NewEncoder()
	e.PermitParam(p)
	return e.Bytes()
}

// DecodePermitParam decodes a permit parameter and also returns the raw
// message bytes that follow the signer, which is the hash preimage.
func DecodePermitParam(b []byte) (types.PermitParam, []byte, error) {
	var p types.PermitParam
	d := NewDecoder(b)
	var err error
	if p.Signature, err = d.AccountSignatures(); err != nil {
		return p, nil, err
	}
	if p.Signer, err = d.AccountAddress(); err != nil {
		return p, nil, err
	}
	raw := d.Remaining()
	if p.Message, err = d.PermitMessage(); err != nil {
		return p, nil, err
	}
	if err := d.Finish(); err != nil {
		return p, nil, err
	}
	return p, raw, nil
}

// EncodeEntrypointNames writes a supportsPermit query.
func EncodeEntrypointNames(names []string) []byte {
	e := NewEncoder()
	e.U16(uint16(len(names)))
	for _, n := range names {
		e.EntrypointName(n)
	}
	return e.Bytes()
}

func DecodeEntrypointNames(b []byte) ([]string, error) {
	d := NewDecoder(b)
	n, err := d.U16()
	if err != nil {
		return nil, err
	}
	if int(n)*2 > len(d.Remaining()) {
		return nil, parseErr("query count %d exceeds input", n)
	}
	names := make([]string, 0, n)
	for i := 0; i < int(n); i++ {
		name, err := d.EntrypointName()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, d.Finish()
}

func EncodeSupportResults(results []types.SupportResult) []byte {
	e := NewEncoder()
	e.U16(uint16(len(results)))
	for _, r := range results {
		e.U8(uint8(r.Kind))
		if r.Kind == types.SupportBy {
			e.U8(uint8(len(r.Contracts)))
			for _, c := range r.Contracts {
				e.ContractAddress(c)
			}
		}
	}
	return e.Bytes()
}

func DecodeSupportResults(b []byte) ([]types.SupportResult, error) {
	d := NewDecoder(b)
	n, err := d.U16()
	if err != nil {
		return nil, err
	}
	if int(n) > len(d.Remaining()) {
		return nil, parseErr("result count %d exceeds input", n)
	}
	results := make([]types.SupportResult, 0, n)
	for i := 0; i < int(n); i++ {
		tag, err := d.U8()
		if err != nil {
			return nil, err
		}
		r := types.SupportResult{Kind: types.SupportKind(tag)}
		switch r.Kind {
		case types.NoSupport, types.Support:
		case types.SupportBy:
			cnt, err := d.U8()
			if err != nil {
				return nil, err
			}
			for j := 0; j < int(cnt); j++ {
				c, err := d.ContractAddress()
				if err != nil {
					return nil, err
				}
				r.Contracts = append(r.Contracts, c)
			}
		default:
			return nil, parseErr("unknown support result tag %d", tag)
		}
		results = append(results, r)
	}
	return results, d.Finish()
}
