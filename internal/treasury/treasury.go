package treasury

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"mzlxgateway/internal/chain"
)

// State is a fresh read of the treasury's payout token holdings.
type State struct {
	Balance  *big.Int
	Decimals uint8
}

// Formatted returns the balance in whole tokens.
func (s State) Formatted() string {
	return FormatUnits(s.Balance, s.Decimals)
}

// Treasury reads the admin wallet's payout token balance and tracks payouts
// that were submitted but are not confirmed yet.
type Treasury struct {
	chain  chain.Client
	token  common.Address
	holder common.Address

	mu       sync.Mutex
	inFlight *big.Int
}

func New(client chain.Client, token, holder common.Address) *Treasury {
	return &Treasury{
		chain:    client,
		token:    token,
		holder:   holder,
		inFlight: new(big.Int),
	}
}

func (t *Treasury) Token() common.Address {
	return t.token
}

func (t *Treasury) Holder() common.Address {
	return t.holder
}

// State is never cached.
func (t *Treasury) State(ctx context.Context) (State, error) {
	decimals, err := t.chain.TokenDecimals(ctx, t.token)
	if err != nil {
		return State{}, fmt.Errorf("token decimals: %w", err)
	}
	balance, err := t.chain.TokenBalance(ctx, t.token, t.holder)
	if err != nil {
		return State{}, fmt.Errorf("token balance: %w", err)
	}
	return State{Balance: balance, Decimals: decimals}, nil
}

// ReserveCheck is the outcome of comparing a payout against the reserve.
type ReserveCheck struct {
	Required  *big.Int
	Available *big.Int
	Decimals  uint8
}

func (c ReserveCheck) Sufficient() bool {
	return c.Available.Cmp(c.Required) >= 0
}

func (c ReserveCheck) AvailableFormatted() string {
	return FormatUnits(c.Available, c.Decimals)
}

func (c ReserveCheck) RequiredFormatted() string {
	return FormatUnits(c.Required, c.Decimals)
}

// CheckReserve converts payout with live decimals and compares it against the
// live balance minus in-flight payouts.
func (t *Treasury) CheckReserve(ctx context.Context, payout decimal.Decimal) (ReserveCheck, error) {
	state, err := t.State(ctx)
	if err != nil {
		return ReserveCheck{}, err
	}
	required, err := ToUnits(payout, state.Decimals)
	if err != nil {
		return ReserveCheck{}, err
	}

	t.mu.Lock()
	available := new(big.Int).Sub(state.Balance, t.inFlight)
	t.mu.Unlock()
	if available.Sign() < 0 {
		available.SetInt64(0)
	}

	return ReserveCheck{
		Required:  required,
		Available: available,
		Decimals:  state.Decimals,
	}, nil
}

// Commit marks amount as spent until the returned release func is called.
func (t *Treasury) Commit(amount *big.Int) (release func()) {
	t.mu.Lock()
	t.inFlight.Add(t.inFlight, amount)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.inFlight.Sub(t.inFlight, amount)
			t.mu.Unlock()
		})
	}
}

// InFlight returns the total of unconfirmed payouts.
func (t *Treasury) InFlight() *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(big.Int).Set(t.inFlight)
}
