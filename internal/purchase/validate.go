package purchase

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Amounts are bounded so that scaling them never builds numbers wider than a
// uint256: at most 78 integer digits and 77 fractional digits.
const (
	maxAmountLength     = 160
	maxIntegerDigits    = 78
	maxFractionalDigits = 77
)

var (
	txHashPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	errNotPositive = errors.New("amount must be positive")
	errOutOfRange  = errors.New("amount out of range")
)

// IsTxHash reports whether s is a 0x-prefixed 32-byte hex hash.
func IsTxHash(s string) bool {
	return txHashPattern.MatchString(s)
}

// RawPurchase carries the untrusted request fields as received.
type RawPurchase struct {
	WalletAddress string
	StableAmount  string
	PayoutAmount  string
	TxHash        string
}

// Request is a validated purchase.
type Request struct {
	Buyer        common.Address
	StableAmount decimal.Decimal
	PayoutAmount decimal.Decimal
	ProofTxHash  *common.Hash
}

// Validate never touches the chain. A supplied hash is always validated, a
// missing one is rejected only when requireProof is set.
func Validate(raw RawPurchase, requireProof bool) (Request, error) {
	addr := strings.TrimSpace(raw.WalletAddress)
	if !common.IsHexAddress(addr) {
		return Request{}, reject(ReasonInvalidAddress, "invalid wallet address")
	}

	stable, err := parseAmount(raw.StableAmount)
	if err != nil {
		return Request{}, reject(ReasonInvalidAmount, "invalid usdtAmount")
	}
	payout, err := parseAmount(raw.PayoutAmount)
	if err != nil {
		return Request{}, reject(ReasonInvalidAmount, "invalid mzlxAmount")
	}

	req := Request{
		Buyer:        common.HexToAddress(addr),
		StableAmount: stable,
		PayoutAmount: payout,
	}

	txHash := strings.TrimSpace(raw.TxHash)
	switch {
	case txHash == "" && requireProof:
		return Request{}, reject(ReasonInvalidTxHash, "txHash is required")
	case txHash == "":
	case !IsTxHash(txHash):
		return Request{}, reject(ReasonInvalidTxHash, "invalid transaction hash format")
	default:
		h := common.HexToHash(txHash)
		req.ProofTxHash = &h
	}

	return req, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > maxAmountLength {
		return decimal.Decimal{}, errOutOfRange
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, errNotPositive
	}
	// Coefficient and exponent only, never rescaled.
	exp := int64(d.Exponent())
	if int64(d.NumDigits())+exp > maxIntegerDigits || -exp > maxFractionalDigits {
		return decimal.Decimal{}, errOutOfRange
	}
	return d, nil
}
