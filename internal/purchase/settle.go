package purchase

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mzlxgateway/internal/chain"
	"mzlxgateway/internal/ledger"
	"mzlxgateway/internal/treasury"
)

// Settlement is a confirmed payout.
type Settlement struct {
	PayoutTxHash common.Hash
	PayoutAmount decimal.Decimal
	StableAmount decimal.Decimal
	Receiver     common.Address
	ProofTxHash  *common.Hash
	Timestamp    time.Time
}

// Reconciliation is emitted whenever a payout ends in a state that needs a
// human to look at it.
type Reconciliation struct {
	Timestamp    time.Time `json:"timestamp"`
	ProofTxHash  string    `json:"proofTxHash,omitempty"`
	Buyer        string    `json:"buyer"`
	PayoutAmount string    `json:"payoutAmount"`
	PayoutTxHash string    `json:"payoutTxHash,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error"`
}

// Reconciler receives payouts that failed or whose outcome is unknown.
type Reconciler interface {
	Reconcile(entry Reconciliation)
}

type SettlerConfig struct {
	RequireProof   bool
	ConfirmTimeout time.Duration
}

// Settler runs validate, verify, reserve check and payout for one request.
// The ledger claim, reserve check and payout submission of all requests are
// serialized on one treasury lock.
type Settler struct {
	cfg        SettlerConfig
	chain      chain.Client
	verifier   *Verifier
	treasury   *treasury.Treasury
	ledger     ledger.Store
	reconciler Reconciler
	logger     *zap.Logger
	now        func() time.Time

	mu sync.Mutex
}

func NewSettler(cfg SettlerConfig, client chain.Client, verifier *Verifier, tr *treasury.Treasury, store ledger.Store, reconciler Reconciler, logger *zap.Logger) *Settler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	return &Settler{
		cfg:        cfg,
		chain:      client,
		verifier:   verifier,
		treasury:   tr,
		ledger:     store,
		reconciler: reconciler,
		logger:     logger,
		now:        time.Now,
	}
}

// Settle returns a *Rejection when the request is refused before funds move
// and a *Failure for chain, ledger or payout errors.
func (s *Settler) Settle(ctx context.Context, raw RawPurchase) (Settlement, error) {
	req, err := Validate(raw, s.cfg.RequireProof)
	if err != nil {
		return Settlement{}, err
	}

	logger := s.logger.With(zap.String("buyer", req.Buyer.Hex()), zap.String("mzlx", req.PayoutAmount.String()))

	if req.ProofTxHash != nil {
		logger = logger.With(zap.String("proof", req.ProofTxHash.Hex()))

		if err := s.checkUnused(ctx, *req.ProofTxHash); err != nil {
			return Settlement{}, err
		}
		if _, err := s.verifier.Verify(ctx, *req.ProofTxHash, req.StableAmount); err != nil {
			return Settlement{}, err
		}
	}

	// Funds may move from here on; the rest of the flow must not be abandoned
	// because the client went away.
	opCtx := context.WithoutCancel(ctx)

	payoutHash, amount, release, err := s.submit(opCtx, req, logger)
	if err != nil {
		return Settlement{}, err
	}
	defer release()

	logger = logger.With(zap.String("payout", payoutHash.Hex()))

	waitCtx, cancel := context.WithTimeout(opCtx, s.cfg.ConfirmTimeout)
	defer cancel()
	receipt, err := s.chain.WaitForReceipt(waitCtx, payoutHash)
	if err != nil {
		s.finish(opCtx, req, payoutHash, ledger.StatusIndeterminate, err.Error(), logger)
		s.holdReserve(amount)
		return Settlement{}, &Failure{
			Reason:       ReasonPayoutUnknown,
			Detail:       "payout submitted but confirmation was not observed",
			PayoutTxHash: payoutHash.Hex(),
			Err:          err,
		}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		s.finish(opCtx, req, payoutHash, ledger.StatusPayoutFailed, "payout reverted", logger)
		return Settlement{}, &Failure{
			Reason:       ReasonPayoutFailed,
			Detail:       "payout transaction failed on chain",
			PayoutTxHash: payoutHash.Hex(),
		}
	}

	s.finish(opCtx, req, payoutHash, ledger.StatusPaid, "", logger)
	logger.Info("purchase settled")

	return Settlement{
		PayoutTxHash: payoutHash,
		PayoutAmount: req.PayoutAmount,
		StableAmount: req.StableAmount,
		Receiver:     req.Buyer,
		ProofTxHash:  req.ProofTxHash,
		Timestamp:    s.now().UTC(),
	}, nil
}

func (s *Settler) checkUnused(ctx context.Context, proof common.Hash) error {
	rec, err := s.ledger.Get(ctx, proof.Hex())
	if err != nil {
		return &Failure{Reason: ReasonLedgerError, Detail: "ledger lookup", Err: err}
	}
	if rec != nil {
		r := reject(ReasonProofAlreadyUsed, "transaction hash has already been used for a purchase")
		r.PayoutTxHash = rec.PayoutTxHash
		return r
	}
	return nil
}

// submit is the critical section: claim the proof, check the reserve against
// the live balance and in-flight payouts, submit the transfer and account for
// it before the next request may check the reserve.
func (s *Settler) submit(ctx context.Context, req Request, logger *zap.Logger) (common.Hash, *big.Int, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rec := ledger.Record{
		Buyer:        req.Buyer.Hex(),
		StableAmount: req.StableAmount.String(),
		PayoutAmount: req.PayoutAmount.String(),
		Status:       ledger.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.ProofTxHash != nil {
		rec.ProofHash = req.ProofTxHash.Hex()
		if err := s.ledger.Claim(ctx, rec); err != nil {
			if errors.Is(err, ledger.ErrAlreadyClaimed) {
				if used := s.checkUnused(ctx, *req.ProofTxHash); used != nil {
					return common.Hash{}, nil, nil, used
				}
				return common.Hash{}, nil, nil, reject(ReasonProofAlreadyUsed, "transaction hash has already been used for a purchase")
			}
			return common.Hash{}, nil, nil, &Failure{Reason: ReasonLedgerError, Detail: "ledger claim", Err: err}
		}
	}
	unclaim := func() {
		if req.ProofTxHash == nil {
			return
		}
		if err := s.ledger.Release(ctx, req.ProofTxHash.Hex()); err != nil {
			logger.Error("release ledger claim", zap.Error(err))
		}
	}

	check, err := s.treasury.CheckReserve(ctx, req.PayoutAmount)
	if errors.Is(err, treasury.ErrTooPrecise) {
		unclaim()
		return common.Hash{}, nil, nil, reject(ReasonInvalidAmount, "mzlxAmount has too many decimal places")
	}
	if err != nil {
		unclaim()
		return common.Hash{}, nil, nil, &Failure{Reason: ReasonChainError, Detail: "read treasury reserve", Err: err}
	}
	if !check.Sufficient() {
		unclaim()
		logger.Warn("insufficient reserve",
			zap.String("available", check.AvailableFormatted()),
			zap.String("required", check.RequiredFormatted()),
		)
		r := reject(ReasonInsufficientReserve, "insufficient MZLX reserve")
		r.Available = check.AvailableFormatted()
		r.Required = check.RequiredFormatted()
		return common.Hash{}, nil, nil, r
	}

	hash, err := s.chain.TransferToken(ctx, s.treasury.Token(), req.Buyer, check.Required)
	if err != nil {
		// The node may still have accepted the transaction.
		s.holdReserve(check.Required)
		rec.Status = ledger.StatusIndeterminate
		rec.Error = err.Error()
		rec.UpdatedAt = s.now().UTC()
		s.record(ctx, req, rec, logger)
		return common.Hash{}, nil, nil, &Failure{Reason: ReasonChainError, Detail: "submit payout", Err: err}
	}

	release := s.treasury.Commit(check.Required)

	if req.ProofTxHash != nil {
		rec.PayoutTxHash = hash.Hex()
		rec.UpdatedAt = s.now().UTC()
		if err := s.ledger.Update(ctx, rec); err != nil {
			logger.Error("ledger update after payout submission", zap.String("payout", hash.Hex()), zap.Error(err))
		}
	}
	logger.Info("payout submitted", zap.String("payout", hash.Hex()), zap.String("units", check.Required.String()))
	return hash, check.Required, release, nil
}

// finish writes the terminal ledger state and queues anything that is not
// paid for reconciliation.
func (s *Settler) finish(ctx context.Context, req Request, payout common.Hash, status ledger.Status, detail string, logger *zap.Logger) {
	now := s.now().UTC()
	rec := ledger.Record{
		Buyer:        req.Buyer.Hex(),
		StableAmount: req.StableAmount.String(),
		PayoutAmount: req.PayoutAmount.String(),
		PayoutTxHash: payout.Hex(),
		Status:       status,
		Error:        detail,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.ProofTxHash != nil {
		rec.ProofHash = req.ProofTxHash.Hex()
		if existing, err := s.ledger.Get(ctx, rec.ProofHash); err == nil && existing != nil {
			rec.CreatedAt = existing.CreatedAt
		}
	}
	if status == ledger.StatusPaid {
		if req.ProofTxHash != nil {
			if err := s.ledger.Update(ctx, rec); err != nil {
				logger.Error("ledger update after payout confirmation", zap.Error(err))
			}
		}
		return
	}
	s.record(ctx, req, rec, logger)
}

func (s *Settler) record(ctx context.Context, req Request, rec ledger.Record, logger *zap.Logger) {
	logger.Error("payout needs reconciliation",
		zap.String("status", string(rec.Status)),
		zap.String("payout", rec.PayoutTxHash),
		zap.String("error", rec.Error),
	)
	if req.ProofTxHash != nil {
		if err := s.ledger.Update(ctx, rec); err != nil {
			logger.Error("ledger update for failed payout", zap.Error(err))
		}
	}
	if s.reconciler != nil {
		s.reconciler.Reconcile(Reconciliation{
			Timestamp:    rec.UpdatedAt,
			ProofTxHash:  rec.ProofHash,
			Buyer:        rec.Buyer,
			PayoutAmount: rec.PayoutAmount,
			PayoutTxHash: rec.PayoutTxHash,
			Status:       string(rec.Status),
			Error:        rec.Error,
		})
	}
}

// holdReserve keeps an unconfirmed amount reserved for another confirmation
// window, since the transfer may still be mined.
func (s *Settler) holdReserve(amount *big.Int) {
	release := s.treasury.Commit(amount)
	time.AfterFunc(s.cfg.ConfirmTimeout, release)
}
