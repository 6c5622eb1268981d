package contract

import (
	"errors"
	"fmt"

	"coinredeem.mini/ccr/internal/codec"
	"coinredeem.mini/ccr/internal/ledger"
)

// Error is a contract reject reason. The numeric code is what the chain
// reports for a rejected call.
type Error int32

const (
	ErrParseParams            Error = -1
	ErrCoinNotFound           Error = -2
	ErrCoinAlreadyRedeemed    Error = -3
	ErrCoinAlreadyExists      Error = -4
	ErrInvokeTransfer         Error = -5
	ErrInvalidSignatures      Error = -6
	ErrNotAuthorized          Error = -7
	ErrWrongContract          Error = -8
	ErrWrongEntryPoint        Error = -9
	ErrNonceMismatch          Error = -10
	ErrExpired                Error = -11
	ErrMissingAccount         Error = -12
	ErrMalformedSignatureData Error = -13
)

var errorNames = map[Error]string{
	ErrParseParams:            "ParseParams",
	ErrCoinNotFound:           "CoinNotFound",
	ErrCoinAlreadyRedeemed:    "CoinAlreadyRedeemed",
	ErrCoinAlreadyExists:      "CoinAlreadyExists",
	ErrInvokeTransfer:         "InvokeTransfer",
	ErrInvalidSignatures:      "InvalidSignatures",
	ErrNotAuthorized:          "NotAuthorized",
	ErrWrongContract:          "WrongContract",
	ErrWrongEntryPoint:        "WrongEntryPoint",
	ErrNonceMismatch:          "NonceMismatch",
	ErrExpired:                "Expired",
	ErrMissingAccount:         "MissingAccount",
	ErrMalformedSignatureData: "MalformedSignatureData",
}

func (e Error) Error() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("reject(%d)", int32(e))
}

// Code returns the reject code.
func (e Error) Code() int32 { return int32(e) }

// Name returns the reject reason name, e.g. "Expired".
func (e Error) Name() string { return e.Error() }

// ErrorFromCode maps a reject code back to its Error.
func ErrorFromCode(code int32) (Error, bool) {
	e := Error(code)
	_, ok := errorNames[e]
	return e, ok
}

// AsError extracts the reject reason from err, if there is one.
func AsError(err error) (Error, bool) {
	var e Error
	if errors.As(err, &e) {
		return e, true
	}
	return 0, false
}

// fromLedger turns ledger rule violations into rejects. Storage failures
// pass through untouched so the host can report them as such.
func fromLedger(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrCoinNotFound):
		return ErrCoinNotFound
	case errors.Is(err, ledger.ErrCoinAlreadyRedeemed):
		return ErrCoinAlreadyRedeemed
	case errors.Is(err, ledger.ErrCoinAlreadyExists):
		return ErrCoinAlreadyExists
	}
	return err
}

func fromParse(err error) error {
	if errors.Is(err, codec.ErrParse) {
		return ErrParseParams
	}
	return err
}
