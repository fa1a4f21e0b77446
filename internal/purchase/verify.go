package purchase

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mzlxgateway/internal/chain"
	"mzlxgateway/internal/treasury"
)

// Verifier checks that a proof transaction is a mined stablecoin transfer to
// the receiving address.
type Verifier struct {
	Chain      chain.Client
	Stablecoin common.Address
	Receiver   common.Address
	// ConfirmTimeout bounds the wait for the proof's receipt.
	ConfirmTimeout time.Duration
	// VerifyPaidAmount also requires the qualifying transfers to cover the
	// claimed stablecoin amount.
	VerifyPaidAmount bool
	Logger           *zap.Logger
}

// Verification describes an accepted proof.
type Verification struct {
	ProofTxHash common.Hash
	BlockNumber uint64
	Transfers   []chain.TransferEvent
	// Paid is the sum of qualifying transfers in stablecoin smallest units.
	Paid *big.Int
}

func (v *Verifier) Verify(ctx context.Context, hash common.Hash, claimed decimal.Decimal) (Verification, error) {
	logger := v.logger().With(zap.String("proof", hash.Hex()))

	tx, pending, err := v.Chain.TransactionByHash(ctx, hash)
	if errors.Is(err, chain.ErrNotFound) {
		return Verification{}, reject(ReasonTxNotFound, "transaction not found")
	}
	if err != nil {
		return Verification{}, &Failure{Reason: ReasonChainError, Detail: "fetch transaction", Err: err}
	}
	if pending {
		logger.Debug("proof pending, waiting for receipt")
	}

	receipt, err := v.waitForReceipt(ctx, hash)
	if err != nil {
		return Verification{}, &Failure{Reason: ReasonChainError, Detail: "await transaction confirmation", Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Verification{}, reject(ReasonTxFailed, "transaction failed on chain")
	}

	if to := tx.To(); to == nil || *to != v.Stablecoin {
		return Verification{}, reject(ReasonNotStablecoinTx, "transaction is not a USDT transfer")
	}

	result := Verification{
		ProofTxHash: hash,
		Paid:        new(big.Int),
	}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	for _, log := range receipt.Logs {
		ev, ok := chain.DecodeTransfer(log)
		if !ok || ev.Token != v.Stablecoin || ev.To != v.Receiver {
			continue
		}
		result.Transfers = append(result.Transfers, ev)
		result.Paid.Add(result.Paid, ev.Value)
	}
	if len(result.Transfers) == 0 {
		return Verification{}, reject(ReasonNoQualifyingTransfer, "no USDT transfer to the receiving address in transaction")
	}

	if v.VerifyPaidAmount {
		if err := v.checkPaid(ctx, result.Paid, claimed); err != nil {
			return Verification{}, err
		}
	}

	logger.Info("proof verified",
		zap.Uint64("block", result.BlockNumber),
		zap.String("paid", result.Paid.String()),
		zap.Int("transfers", len(result.Transfers)),
	)
	return result, nil
}

func (v *Verifier) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if v.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.ConfirmTimeout)
		defer cancel()
	}
	return v.Chain.WaitForReceipt(ctx, hash)
}

func (v *Verifier) checkPaid(ctx context.Context, paid *big.Int, claimed decimal.Decimal) error {
	decimals, err := v.Chain.TokenDecimals(ctx, v.Stablecoin)
	if err != nil {
		return &Failure{Reason: ReasonChainError, Detail: "stablecoin decimals", Err: err}
	}
	required, err := treasury.ToUnits(claimed, decimals)
	if err != nil {
		return reject(ReasonInvalidAmount, "usdtAmount has too many decimal places")
	}
	if paid.Cmp(required) < 0 {
		r := reject(ReasonInsufficientPayment, "transferred USDT is less than usdtAmount")
		r.Available = treasury.FormatUnits(paid, decimals)
		r.Required = treasury.FormatUnits(required, decimals)
		return r
	}
	return nil
}

func (v *Verifier) logger() *zap.Logger {
	if v.Logger == nil {
		return zap.NewNop()
	}
	return v.Logger
}
