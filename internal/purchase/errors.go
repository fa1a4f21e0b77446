package purchase

import (
	"fmt"
)

// Reason is the machine-checkable code returned to clients.
type Reason string

const (
	ReasonInvalidAddress       Reason = "InvalidAddress"
	ReasonInvalidAmount        Reason = "InvalidAmount"
	ReasonInvalidTxHash        Reason = "InvalidTxHash"
	ReasonTxNotFound           Reason = "TxNotFound"
	ReasonTxFailed             Reason = "TxFailed"
	ReasonNotStablecoinTx      Reason = "NotStablecoinTx"
	ReasonNoQualifyingTransfer Reason = "NoQualifyingTransfer"
	ReasonInsufficientPayment  Reason = "InsufficientPayment"
	ReasonInsufficientReserve  Reason = "InsufficientReserve"
	ReasonProofAlreadyUsed     Reason = "ProofAlreadyUsed"

	ReasonPayoutFailed  Reason = "PayoutFailed"
	ReasonChainError    Reason = "ChainError"
	ReasonLedgerError   Reason = "LedgerError"
	ReasonPayoutUnknown Reason = "PayoutUnknown"
)

// Rejection is a refusal detected before any funds moved.
type Rejection struct {
	Reason  Reason
	Message string
	// Available and Required are set for InsufficientReserve and
	// InsufficientPayment, in whole tokens.
	Available string
	Required  string
	// PayoutTxHash is set for ProofAlreadyUsed when the earlier payout is known.
	PayoutTxHash string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

func reject(reason Reason, format string, args ...interface{}) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Failure is a chain, ledger or payout error. When PayoutTxHash is set the
// payout was submitted and funds may have moved.
type Failure struct {
	Reason       Reason
	Detail       string
	PayoutTxHash string
	Err          error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Reason, f.Detail, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Detail)
}

func (f *Failure) Unwrap() error {
	return f.Err
}
