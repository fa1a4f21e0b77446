package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Transfer is a payout recorded by FakeClient.
type Transfer struct {
	Hash   common.Hash
	Token  common.Address
	To     common.Address
	Amount *big.Int
}

// FakeClient is an in-memory chain used by tests. Payouts debit the sender's
// balance when their receipt is first observed, the way a mined transfer would.
type FakeClient struct {
	mu sync.Mutex

	From         common.Address
	ID           *big.Int
	PayoutStatus uint64

	// HoldPayoutReceipts, when set, blocks WaitForReceipt for payouts until a
	// value is received or the context ends.
	HoldPayoutReceipts chan struct{}

	TxErr       error
	BalanceErr  error
	DecimalsErr error
	TransferErr error

	txs       map[common.Hash]*types.Transaction
	pending   map[common.Hash]bool
	receipts  map[common.Hash]*types.Receipt
	decimals  map[common.Address]uint8
	balances  map[common.Address]map[common.Address]*big.Int
	payouts   map[common.Hash]Transfer
	settled   map[common.Hash]bool
	transfers []Transfer
	calls     int
}

func NewFakeClient(from common.Address) *FakeClient {
	return &FakeClient{
		From:         from,
		ID:           big.NewInt(56),
		PayoutStatus: types.ReceiptStatusSuccessful,
		txs:          make(map[common.Hash]*types.Transaction),
		pending:      make(map[common.Hash]bool),
		receipts:     make(map[common.Hash]*types.Receipt),
		decimals:     make(map[common.Address]uint8),
		balances:     make(map[common.Address]map[common.Address]*big.Int),
		payouts:      make(map[common.Hash]Transfer),
		settled:      make(map[common.Hash]bool),
	}
}

// AddTransaction registers tx under hash. A nil receipt leaves it pending.
func (f *FakeClient) AddTransaction(hash common.Hash, tx *types.Transaction, receipt *types.Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[hash] = tx
	f.pending[hash] = receipt == nil
	if receipt != nil {
		receipt.TxHash = hash
		f.receipts[hash] = receipt
	}
}

func (f *FakeClient) SetDecimals(token common.Address, decimals uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decimals[token] = decimals
}

func (f *FakeClient) SetBalance(token, holder common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[token] == nil {
		f.balances[token] = make(map[common.Address]*big.Int)
	}
	f.balances[token][holder] = new(big.Int).Set(amount)
}

// Calls counts every chain interaction made through the Client interface.
func (f *FakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeClient) Transfers() []Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Transfer, len(f.transfers))
	copy(out, f.transfers)
	return out
}

func (f *FakeClient) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return new(big.Int).Set(f.ID), nil
}

func (f *FakeClient) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.TxErr != nil {
		return nil, false, f.TxErr
	}
	tx, ok := f.txs[hash]
	if !ok {
		return nil, false, ErrNotFound
	}
	return tx, f.pending[hash], nil
}

func (f *FakeClient) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	f.calls++
	_, isPayout := f.payouts[hash]
	hold := f.HoldPayoutReceipts
	f.mu.Unlock()

	if isPayout && hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	receipt, ok := f.receipts[hash]
	if !ok {
		// never mined
		f.mu.Unlock()
		<-ctx.Done()
		f.mu.Lock()
		return nil, ctx.Err()
	}
	if isPayout && !f.settled[hash] {
		f.settled[hash] = true
		if receipt.Status == types.ReceiptStatusSuccessful {
			p := f.payouts[hash]
			f.debit(p.Token, f.From, p.Amount)
		}
	}
	return receipt, nil
}

func (f *FakeClient) TokenDecimals(_ context.Context, token common.Address) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.DecimalsErr != nil {
		return 0, f.DecimalsErr
	}
	d, ok := f.decimals[token]
	if !ok {
		return 0, fmt.Errorf("call decimals: execution reverted")
	}
	return d, nil
}

func (f *FakeClient) TokenBalance(_ context.Context, token, holder common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.BalanceErr != nil {
		return nil, f.BalanceErr
	}
	if bal, ok := f.balances[token][holder]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (f *FakeClient) TransferToken(_ context.Context, token, to common.Address, amount *big.Int) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.TransferErr != nil {
		return common.Hash{}, f.TransferErr
	}

	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], uint64(len(f.transfers)))
	hash := crypto.Keccak256Hash(f.From.Bytes(), nonce[:])

	t := Transfer{Hash: hash, Token: token, To: to, Amount: new(big.Int).Set(amount)}
	f.transfers = append(f.transfers, t)
	f.payouts[hash] = t
	f.receipts[hash] = &types.Receipt{
		TxHash:      hash,
		Status:      f.PayoutStatus,
		BlockNumber: big.NewInt(int64(len(f.transfers))),
	}
	return hash, nil
}

func (f *FakeClient) Ping(context.Context) error {
	return nil
}

func (f *FakeClient) debit(token, holder common.Address, amount *big.Int) {
	if f.balances[token] == nil {
		f.balances[token] = make(map[common.Address]*big.Int)
	}
	bal, ok := f.balances[token][holder]
	if !ok {
		bal = new(big.Int)
	}
	f.balances[token][holder] = new(big.Int).Sub(bal, amount)
}
