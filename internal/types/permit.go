package types

import "fmt"

// CredentialSignatures maps key indexes of one credential to signatures.
type CredentialSignatures map[uint8]Signature

// AccountSignatures maps credential indexes of an account to the signatures
// made with that credential's keys.
type AccountSignatures map[uint8]CredentialSignatures

// SingleSignature is the common case of credential 0, key 0.
func SingleSignature(sig Signature) AccountSignatures {
	return AccountSignatures{0: {0: sig}}
}

// PermitMessage is the structured message an account signs to let a
// sponsor invoke EntryPoint on its behalf.
type PermitMessage struct {
	ContractAddress ContractAddress `json:"contract_address"`
	Nonce           uint64          `json:"nonce"`
	Timestamp       Timestamp       `json:"timestamp"`
	EntryPoint      string          `json:"entry_point"`
	Payload         HexBytes        `json:"payload"`
}

// PermitParam is the parameter of permit and viewMessageHash.
type PermitParam struct {
	Signature AccountSignatures `json:"signature"`
	Signer    AccountAddress    `json:"signer"`
	Message   PermitMessage     `json:"message"`
}

// SupportResult answers whether permit supports an entry point.
type SupportResult struct {
	Kind SupportKind `json:"kind"`
	// Contracts is set for SupportBy.
	Contracts []ContractAddress `json:"contracts,omitempty"`
}

type SupportKind uint8

const (
	NoSupport SupportKind = iota
	Support
	SupportBy
)

func (k SupportKind) String() string {
	switch k {
	case NoSupport:
		return "NoSupport"
	case Support:
		return "Support"
	case SupportBy:
		return "SupportBy"
	}
	return "Unknown"
}

func (k SupportKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *SupportKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "NoSupport":
		*k = NoSupport
	case "Support":
		*k = Support
	case "SupportBy":
		*k = SupportBy
	default:
		return fmt.Errorf("unknown support kind %q", b)
	}
	return nil
}
