package treasury

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"mzlxgateway/internal/chain"
)

var (
	admin = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	token = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func tokens(n int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

func TestToUnits(t *testing.T) {
	got, err := ToUnits(decimal.RequireFromString("1.5"), 18)
	if err != nil {
		t.Fatalf("to units: %v", err)
	}
	if got.String() != "1500000000000000000" {
		t.Fatalf("unexpected units %s", got)
	}

	if _, err := ToUnits(decimal.RequireFromString("0.001"), 2); !errors.Is(err, ErrTooPrecise) {
		t.Fatalf("expected ErrTooPrecise, got %v", err)
	}

	got, err = ToUnits(decimal.RequireFromString("12.30"), 2)
	if err != nil || got.Int64() != 1230 {
		t.Fatalf("trailing zeros should be accepted: %v %v", got, err)
	}
}

func TestFormatUnits(t *testing.T) {
	if s := FormatUnits(tokens(500, 18), 18); s != "500" {
		t.Fatalf("unexpected format %q", s)
	}
	if s := FormatUnits(big.NewInt(1234567), 6); s != "1.234567" {
		t.Fatalf("unexpected format %q", s)
	}
	if s := FormatUnits(nil, 6); s != "0" {
		t.Fatalf("nil should format as 0, got %q", s)
	}
}

func TestCheckReserveUsesLiveDecimals(t *testing.T) {
	fake := chain.NewFakeClient(admin)
	fake.SetDecimals(token, 6)
	fake.SetBalance(token, admin, tokens(499, 6))
	tr := New(fake, token, admin)

	check, err := tr.CheckReserve(context.Background(), decimal.NewFromInt(500))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if check.Sufficient() {
		t.Fatalf("expected insufficient reserve")
	}
	if check.AvailableFormatted() != "499" || check.RequiredFormatted() != "500" {
		t.Fatalf("unexpected figures %s / %s", check.AvailableFormatted(), check.RequiredFormatted())
	}

	fake.SetDecimals(token, 2)
	check, err = tr.CheckReserve(context.Background(), decimal.NewFromInt(500))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if check.Required.Int64() != 50000 {
		t.Fatalf("expected decimals to be re-read, required=%s", check.Required)
	}
}

func TestCommitReducesAvailable(t *testing.T) {
	fake := chain.NewFakeClient(admin)
	fake.SetDecimals(token, 18)
	fake.SetBalance(token, admin, tokens(600, 18))
	tr := New(fake, token, admin)

	release := tr.Commit(tokens(500, 18))
	check, err := tr.CheckReserve(context.Background(), decimal.NewFromInt(500))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if check.Sufficient() {
		t.Fatalf("in-flight payout should count against the reserve")
	}
	if check.AvailableFormatted() != "100" {
		t.Fatalf("unexpected available %s", check.AvailableFormatted())
	}

	release()
	release()
	if tr.InFlight().Sign() != 0 {
		t.Fatalf("release should be idempotent, in-flight=%s", tr.InFlight())
	}
}

func TestCheckReservePropagatesChainErrors(t *testing.T) {
	fake := chain.NewFakeClient(admin)
	fake.SetDecimals(token, 18)
	fake.BalanceErr = errors.New("dial tcp: i/o timeout")
	tr := New(fake, token, admin)

	if _, err := tr.CheckReserve(context.Background(), decimal.NewFromInt(1)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestReporterSnapshot(t *testing.T) {
	fake := chain.NewFakeClient(admin)
	fake.SetDecimals(token, 18)
	fake.SetBalance(token, admin, tokens(1000, 18))
	now := time.Unix(1_700_000_000, 0)

	r := &Reporter{
		Chain:    fake,
		Treasury: New(fake, token, admin),
		Network:  "BSC Mainnet",
		Receiver: admin,
		Now:      func() time.Time { return now },
	}

	report, err := r.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if report.Balance != "1000" || report.ChainID != "56" || report.AdminWallet != admin {
		t.Fatalf("unexpected report %+v", report)
	}
	if !report.LastChecked.Equal(now) {
		t.Fatalf("unexpected timestamp %s", report.LastChecked)
	}

	fake.DecimalsErr = errors.New("boom")
	if _, err := r.Snapshot(context.Background()); !errors.Is(err, ErrBalanceUnavailable) {
		t.Fatalf("expected ErrBalanceUnavailable, got %v", err)
	}
}
