package codec

import (
	"fmt"
	"math"

	"coinredeem.mini/ccr/internal/types"
)

// MaxEntrypointNameLen bounds the byte length of an entry point name.
const MaxEntrypointNameLen = 99

const signatureTagEd25519 = 0

// ValidEntrypointName reports whether name may be used as an entry point.
// Every byte must be ASCII alphanumeric or punctuation.
func ValidEntrypointName(name string) bool {
	if len(name) > MaxEntrypointNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		alnum := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		punct := (c >= 0x21 && c <= 0x2f) || (c >= 0x3a && c <= 0x40) ||
			(c >= 0x5b && c <= 0x60) || (c >= 0x7b && c <= 0x7e)
		if !alnum && !punct {
			return false
		}
	}
	return true
}

// CheckPermitParam reports why p has no encoding: an entry point name the
// decoder refuses, a payload over 65535 bytes, or more than 255 entries in
// either signature map level.
func CheckPermitParam(p types.PermitParam) error {
	if !ValidEntrypointName(p.Message.EntryPoint) {
		return fmt.Errorf("invalid entry point name %q", p.Message.EntryPoint)
	}
	if len(p.Message.Payload) > math.MaxUint16 {
		return fmt.Errorf("payload of %d bytes exceeds %d", len(p.Message.Payload), math.MaxUint16)
	}
	if len(p.Signature) > math.MaxUint8 {
		return fmt.Errorf("%d credentials exceed %d", len(p.Signature), math.MaxUint8)
	}
	for ci, sigs := range p.Signature {
		if len(sigs) > math.MaxUint8 {
			return fmt.Errorf("credential %d: %d signatures exceed %d", ci, len(sigs), math.MaxUint8)
		}
	}
	return nil
}

func (e *Encoder) AccountAddress(a types.AccountAddress) { e.Raw(a[:]) }

func (e *Encoder) ContractAddress(c types.ContractAddress) {
	e.U64(c.Index)
	e.U64(c.Subindex)
}

func (e *Encoder) PublicKey(k types.PublicKey) { e.Raw(k[:]) }

func (e *Encoder) Signature(s types.Signature) { e.Raw(s[:]) }

func (e *Encoder) Amount(a types.Amount) { e.U64(uint64(a)) }

func (e *Encoder) Timestamp(t types.Timestamp) { e.U64(uint64(t)) }

// EntrypointName panics on names the decoder would refuse; callers build
// names from constants or input that passed CheckPermitParam.
func (e *Encoder) EntrypointName(name string) {
	if !ValidEntrypointName(name) {
		panic("codec: invalid entrypoint name " + name)
	}
	e.U16(uint16(len(name)))
	e.Raw([]byte(name))
}

func (e *Encoder) Payload(b []byte) {
	if len(b) > math.MaxUint16 {
		panic("codec: payload exceeds 65535 bytes")
	}
	e.U16(uint16(len(b)))
	e.Raw(b)
}

func (e *Encoder) RedeemParam(p types.RedeemParam) {
	e.PublicKey(p.PublicKey)
	e.Signature(p.Signature)
	e.AccountAddress(p.Account)
}

func (e *Encoder) CoinList(l types.CoinList) {
	e.U32(uint32(len(l.Coins)))
	for _, c := range l.Coins {
		e.PublicKey(c.PublicKey)
		e.Amount(c.Amount)
	}
}

func (e *Encoder) CoinState(c types.CoinState) {
	e.Amount(c.Amount)
	e.Bool(c.IsRedeemed)
}

func (e *Encoder) ViewReturnData(v types.ViewReturnData) {
	e.U32(uint32(len(v.Coins)))
	for _, c := range v.Coins {
		e.PublicKey(c.PublicKey)
		e.CoinState(c.CoinState)
	}
	e.AccountAddress(v.Admin)
}

// AccountSignatures writes both map levels in ascending key order.
func (e *Encoder) AccountSignatures(sigs types.AccountSignatures) {
	creds := sortedKeys(sigs)
	e.U8(uint8(len(creds)))
	for _, ci := range creds {
		e.U8(ci)
		keySigs := sigs[ci]
		keys := sortedKeys(keySigs)
		e.U8(uint8(len(keys)))
		for _, ki := range keys {
			e.U8(ki)
			e.U8(signatureTagEd25519)
			e.Signature(keySigs[ki])
		}
	}
}

func (e *Encoder) PermitMessage(m types.PermitMessage) {
	e.ContractAddress(m.ContractAddress)
	e.U64(m.Nonce)
	e.Timestamp(m.Timestamp)
	e.EntrypointName(m.EntryPoint)
	e.Payload(m.Payload)
}

func (e *Encoder) PermitParam(p types.PermitParam) {
	e.AccountSignatures(p.Signature)
	e.AccountAddress(p.Signer)
	e.PermitMessage(p.Message)
}

func (d *Decoder) AccountAddress() (types.AccountAddress, error) {
	var a types.AccountAddress
	return a, d.Raw(a[:])
}

func (d *Decoder) ContractAddress() (types.ContractAddress, error) {
	var c types.ContractAddress
	var err error
	if c.Index, err = d.U64(); err != nil {
		return c, err
	}
	c.Subindex, err = d.U64()
	return c, err
}

func (d *Decoder) PublicKey() (types.PublicKey, error) {
	var k types.PublicKey
	return k, d.Raw(k[:])
}

func (d *Decoder) Signature() (types.Signature, error) {
	var s types.Signature
	return s, d.Raw(s[:])
}

func (d *Decoder) Amount() (types.Amount, error) {
	v, err := d.U64()
	return types.Amount(v), err
}

func (d *Decoder) Timestamp() (types.Timestamp, error) {
	v, err := d.U64()
	return types.Timestamp(v), err
}

func (d *Decoder) EntrypointName() (string, error) {
	n, err := d.U16()
	if err != nil {
		return "", err
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	name := string(b)
	if !ValidEntrypointName(name) {
		return "", parseErr("invalid entrypoint name %q", name)
	}
	return name, nil
}

func (d *Decoder) Payload() ([]byte, error) {
	n, err := d.U16()
	if err != nil {
		return nil, err
	}
	b, err := d.take(int(n))
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (d *Decoder) RedeemParam() (types.RedeemParam, error) {
	var p types.RedeemParam
	var err error
	if p.PublicKey, err = d.PublicKey(); err != nil {
		return p, err
	}
	if p.Signature, err = d.Signature(); err != nil {
		return p, err
	}
	p.Account, err = d.AccountAddress()
	return p, err
}

func (d *Decoder) CoinList() (types.CoinList, error) {
	var l types.CoinList
	n, err := d.U32()
	if err != nil {
		return l, err
	}
	// Each entry needs 40 bytes; refuse counts the input cannot hold.
	if uint64(n)*40 > uint64(len(d.Remaining())) {
		return l, parseErr("coin count %d exceeds input", n)
	}
	l.Coins = make([]types.CoinEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		var c types.CoinEntry
		if c.PublicKey, err = d.PublicKey(); err != nil {
			return l, err
		}
		if c.Amount, err = d.Amount(); err != nil {
			return l, err
		}
		l.Coins = append(l.Coins, c)
	}
	return l, nil
}

func (d *Decoder) CoinState() (types.CoinState, error) {
	var c types.CoinState
	var err error
	if c.Amount, err = d.Amount(); err != nil {
		return c, err
	}
	c.IsRedeemed, err = d.Bool()
	return c, err
}

func (d *Decoder) ViewReturnData() (types.ViewReturnData, error) {
	var v types.ViewReturnData
	n, err := d.U32()
	if err != nil {
		return v, err
	}
	if uint64(n)*41 > uint64(len(d.Remaining())) {
		return v, parseErr("coin count %d exceeds input", n)
	}
	v.Coins = make([]types.CoinView, 0, n)
	for i := uint32(0); i < n; i++ {
		var c types.CoinView
		if c.PublicKey, err = d.PublicKey(); err != nil {
			return v, err
		}
		if c.CoinState, err = d.CoinState(); err != nil {
			return v, err
		}
		v.Coins = append(v.Coins, c)
	}
	v.Admin, err = d.AccountAddress()
	return v, err
}

func (d *Decoder) AccountSignatures() (types.AccountSignatures, error) {
	nCreds, err := d.U8()
	if err != nil {
		return nil, err
	}
	sigs := make(types.AccountSignatures, nCreds)
	prevCred := -1
	for i := 0; i < int(nCreds); i++ {
		ci, err := d.U8()
		if err != nil {
			return nil, err
		}
		if int(ci) <= prevCred {
			return nil, parseErr("credential index %d out of order", ci)
		}
		prevCred = int(ci)

		nKeys, err := d.U8()
		if err != nil {
			return nil, err
		}
		keySigs := make(types.CredentialSignatures, nKeys)
		prevKey := -1
		for j := 0; j < int(nKeys); j++ {
			ki, err := d.U8()
			if err != nil {
				return nil, err
			}
			if int(ki) <= prevKey {
				return nil, parseErr("key index %d out of order", ki)
			}
			prevKey = int(ki)

			tag, err := d.U8()
			if err != nil {
				return nil, err
			}
			if tag != signatureTagEd25519 {
				return nil, parseErr("unknown signature tag %d", tag)
			}
			sig, err := d.Signature()
			if err != nil {
				return nil, err
			}
			keySigs[ki] = sig
		}
		sigs[ci] = keySigs
	}
	return sigs, nil
}

func (d *Decoder) PermitMessage() (types.PermitMessage, error) {
	var m types.PermitMessage
	var err error
	if m.ContractAddress, err = d.ContractAddress(); err != nil {
		return m, err
	}
	if m.Nonce, err = d.U64(); err != nil {
		return m, err
	}
	if m.Timestamp, err = d.Timestamp(); err != nil {
		return m, err
	}
	if m.EntryPoint, err = d.EntrypointName(); err != nil {
		return m, err
	}
	m.Payload, err = d.Payload()
	return m, err
}

func sortedKeys[V any](m map[uint8]V) []uint8 {
	keys := make([]uint8, 0, len(m))
	for i := 0; i <= math.MaxUint8; i++ {
		if _, ok := m[uint8(i)]; ok {
			keys = append(keys, uint8(i))
		}
	}
	return keys
}
