package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNotFound is returned when the node does not know the transaction.
var ErrNotFound = errors.New("transaction not found")

// Client abstracts the on-chain reads and the treasury payout transfer.
type Client interface {
	// TransactionByHash returns the transaction and whether it is still pending.
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	// WaitForReceipt blocks until the transaction is mined or ctx is done.
	WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error)
	// TransferToken signs and submits an ERC-20 transfer from the admin wallet.
	TransferToken(ctx context.Context, token, to common.Address, amount *big.Int) (common.Hash, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// HealthChecker is implemented by clients that can cheaply probe the node.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
