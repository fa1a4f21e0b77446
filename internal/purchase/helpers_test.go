package purchase

import (
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"mzlxgateway/internal/chain"
	"mzlxgateway/internal/ledger"
	"mzlxgateway/internal/treasury"
)

var (
	admin = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	usdt  = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	mzlx  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer = common.HexToAddress("0xabcd000000000000000000000000000000001234")
	payer = common.HexToAddress("0x9999999999999999999999999999999999999999")
	proof = common.HexToHash("0x" + strings.Repeat("11", 32))
)

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type recorder struct {
	mu      sync.Mutex
	entries []Reconciliation
}

func (r *recorder) Reconcile(entry Reconciliation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type fixture struct {
	fake     *chain.FakeClient
	store    *ledger.MemoryStore
	recon    *recorder
	treasury *treasury.Treasury
	verifier *Verifier
	settler  *Settler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := chain.NewFakeClient(admin)
	fake.SetDecimals(mzlx, 18)
	fake.SetDecimals(usdt, 18)
	fake.SetBalance(mzlx, admin, tokens(1000))

	f := &fixture{
		fake:     fake,
		store:    ledger.NewMemoryStore(),
		recon:    &recorder{},
		treasury: treasury.New(fake, mzlx, admin),
	}
	f.verifier = &Verifier{
		Chain:          fake,
		Stablecoin:     usdt,
		Receiver:       admin,
		ConfirmTimeout: time.Second,
	}
	f.settler = NewSettler(SettlerConfig{RequireProof: true, ConfirmTimeout: time.Second},
		fake, f.verifier, f.treasury, f.store, f.recon, nil)
	return f
}

func (f *fixture) addProof(t *testing.T, hash common.Hash, to common.Address, status uint64, logs ...*types.Log) {
	t.Helper()
	tx := types.NewTx(&types.LegacyTx{To: &to, Gas: 60_000, GasPrice: big.NewInt(1)})
	f.fake.AddTransaction(hash, tx, &types.Receipt{
		Status:      status,
		Logs:        logs,
		BlockNumber: big.NewInt(100),
	})
}

func (f *fixture) addPayment(t *testing.T, hash common.Hash, amount *big.Int) {
	t.Helper()
	f.addProof(t, hash, usdt, types.ReceiptStatusSuccessful, transferLog(t, usdt, payer, admin, amount))
}

func transferLog(t *testing.T, token, from, to common.Address, value *big.Int) *types.Log {
	t.Helper()
	log, err := chain.EncodeTransferLog(token, from, to, value)
	if err != nil {
		t.Fatalf("encode transfer log: %v", err)
	}
	return log
}

func validRaw() RawPurchase {
	return RawPurchase{
		WalletAddress: buyer.Hex(),
		StableAmount:  "100",
		PayoutAmount:  "500",
		TxHash:        proof.Hex(),
	}
}
