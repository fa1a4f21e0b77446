package treasury

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"mzlxgateway/internal/chain"
)

// ErrBalanceUnavailable wraps any failure to read the treasury snapshot.
var ErrBalanceUnavailable = errors.New("balance unavailable")

// Report is the health snapshot served by the API.
type Report struct {
	Status         string         `json:"status"`
	ChainID        string         `json:"chainId"`
	Network        string         `json:"network"`
	AdminWallet    common.Address `json:"adminWallet"`
	ReceiverWallet common.Address `json:"receiverWallet"`
	Balance        string         `json:"mzlxBalance"`
	InFlight       string         `json:"mzlxInFlight"`
	LastChecked    time.Time      `json:"lastChecked"`
}

// Reporter builds read-only treasury snapshots.
type Reporter struct {
	Chain    chain.Client
	Treasury *Treasury
	Network  string
	Receiver common.Address
	Now      func() time.Time
}

func (r *Reporter) Snapshot(ctx context.Context) (Report, error) {
	state, err := r.Treasury.State(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrBalanceUnavailable, err)
	}
	chainID, err := r.Chain.ChainID(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("%w: chain id: %v", ErrBalanceUnavailable, err)
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	return Report{
		Status:         "healthy",
		ChainID:        chainID.String(),
		Network:        r.Network,
		AdminWallet:    r.Treasury.Holder(),
		ReceiverWallet: r.Receiver,
		Balance:        state.Formatted(),
		InFlight:       FormatUnits(r.Treasury.InFlight(), state.Decimals),
		LastChecked:    now().UTC(),
	}, nil
}
