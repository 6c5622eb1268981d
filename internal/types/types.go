// Package types defines the core domain models for ccr. It contains the
// address, key, amount and time primitives shared by the contract, the
// chain host and the API, together with their text encodings. Binary wire
// encodings live in the codec package.
package types

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/minio/sha256-simd"
	"github.com/mr-tron/base58"
)

// Version is the current version of ccr
const Version = "0.3.0"

// BuildTime is set at build time via -ldflags
var BuildTime = "dev"

const (
	AccountAddressSize = 32
	PublicKeySize      = 32
	SignatureSize      = 64

	// accountAddressVersion is the base58check version byte of account addresses.
	accountAddressVersion = 1
)

var (
	ErrInvalidAddress = errors.New("invalid account address")
	ErrInvalidHex     = errors.New("invalid hex value")
)

// AccountAddress identifies an account on the chain.
type AccountAddress [AccountAddressSize]byte

// ParseAccountAddress accepts the base58check form used by wallets or a
// 64 character hex string.
func ParseAccountAddress(s string) (AccountAddress, error) {
	var a AccountAddress
	if len(s) == 2*AccountAddressSize {
		if err := decodeHexInto(a[:], s); err == nil {
			return a, nil
		}
	}
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != 1+AccountAddressSize+4 {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if raw[0] != accountAddressVersion {
		return a, fmt.Errorf("%w: version byte %d", ErrInvalidAddress, raw[0])
	}
	sum := checksum(raw[:1+AccountAddressSize])
	for i := 0; i < 4; i++ {
		if raw[1+AccountAddressSize+i] != sum[i] {
			return a, fmt.Errorf("%w: bad checksum", ErrInvalidAddress)
		}
	}
	copy(a[:], raw[1:1+AccountAddressSize])
	return a, nil
}

// String returns the base58check form.
func (a AccountAddress) String() string {
	buf := make([]byte, 0, 1+AccountAddressSize+4)
	buf = append(buf, accountAddressVersion)
	buf = append(buf, a[:]...)
	sum := checksum(buf)
	buf = append(buf, sum[:4]...)
	return base58.Encode(buf)
}

// Hex returns the address bytes hex-encoded.
func (a AccountAddress) Hex() string { return hex.EncodeToString(a[:]) }

func (a AccountAddress) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AccountAddress) UnmarshalText(b []byte) error {
	v, err := ParseAccountAddress(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// AccountAddressFromKey derives the address of an account whose single
// credential holds key.
func AccountAddressFromKey(key PublicKey) AccountAddress {
	return AccountAddress(sha256.Sum256(key[:]))
}

func checksum(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

// ContractAddress identifies a contract instance.
type ContractAddress struct {
	Index    uint64 `json:"index"`
	Subindex uint64 `json:"subindex"`
}

func (c ContractAddress) String() string {
	return fmt.Sprintf("<%d,%d>", c.Index, c.Subindex)
}

// Address is the sender of a call: an account or a contract.
type Address struct {
	Account  *AccountAddress  `json:"account,omitempty"`
	Contract *ContractAddress `json:"contract,omitempty"`
}

// AccountSender wraps an account address as a call sender.
func AccountSender(a AccountAddress) Address {
	return Address{Account: &a}
}

// ContractSender wraps a contract address as a call sender.
func ContractSender(c ContractAddress) Address {
	return Address{Contract: &c}
}

// IsAccount reports whether the sender is exactly the given account.
func (a Address) IsAccount(acct AccountAddress) bool {
	return a.Account != nil && *a.Account == acct
}

func (a Address) String() string {
	switch {
	case a.Account != nil:
		return a.Account.String()
	case a.Contract != nil:
		return a.Contract.String()
	}
	return "<none>"
}

// PublicKey is an ed25519 public key. Coins are identified by their key.
type PublicKey [PublicKeySize]byte

func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	return k, decodeHexInto(k[:], s)
}

func (k PublicKey) String() string { return hex.EncodeToString(k[:]) }

func (k PublicKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *PublicKey) UnmarshalText(b []byte) error { return decodeHexInto(k[:], string(b)) }

// Signature is an ed25519 signature.
type Signature [SignatureSize]byte

func ParseSignature(s string) (Signature, error) {
	var sig Signature
	return sig, decodeHexInto(sig[:], s)
}

func (s Signature) String() string { return hex.EncodeToString(s[:]) }

func (s Signature) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Signature) UnmarshalText(b []byte) error { return decodeHexInto(s[:], string(b)) }

// Amount is a quantity of the native currency in microCCD.
type Amount uint64

// MicroCCDPerCCD is the number of microCCD in one CCD.
const MicroCCDPerCCD Amount = 1_000_000

// MarshalJSON encodes amounts as decimal strings so values above 2^53
// survive JSON consumers.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(a), 10))
}

// UnmarshalJSON accepts a decimal string or a JSON number.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		s = string(b)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %s: %w", b, err)
	}
	*a = Amount(v)
	return nil
}

func (a Amount) String() string {
	return fmt.Sprintf("%d.%06d CCD", a/MicroCCDPerCCD, a%MicroCCDPerCCD)
}

// Timestamp is milliseconds since the Unix epoch.
type Timestamp uint64

func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

func (t Timestamp) Time() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time().Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts RFC3339 or a millisecond count.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		ms, perr := strconv.ParseUint(string(b), 10, 64)
		if perr != nil {
			return fmt.Errorf("invalid timestamp %s", b)
		}
		*t = Timestamp(ms)
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	*t = TimestampFromTime(parsed)
	return nil
}

// HexBytes is a byte slice carried as hex in JSON.
type HexBytes []byte

func (h HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h)), nil
}

func (h *HexBytes) UnmarshalText(b []byte) error {
	v, err := hex.DecodeString(string(b))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	*h = v
	return nil
}

func decodeHexInto(dst []byte, s string) error {
	if len(s) != 2*len(dst) {
		return fmt.Errorf("%w: want %d bytes, got %d hex chars", ErrInvalidHex, len(dst), len(s))
	}
	if _, err := hex.Decode(dst, []byte(s)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return nil
}
