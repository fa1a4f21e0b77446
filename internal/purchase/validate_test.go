package purchase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RawPurchase)
		reason Reason
	}{
		{"empty address", func(r *RawPurchase) { r.WalletAddress = "" }, ReasonInvalidAddress},
		{"short address", func(r *RawPurchase) { r.WalletAddress = "0xABCD1234" }, ReasonInvalidAddress},
		{"non hex address", func(r *RawPurchase) { r.WalletAddress = "0x" + strings.Repeat("z", 40) }, ReasonInvalidAddress},
		{"zero usdt", func(r *RawPurchase) { r.StableAmount = "0" }, ReasonInvalidAmount},
		{"negative mzlx", func(r *RawPurchase) { r.PayoutAmount = "-5" }, ReasonInvalidAmount},
		{"text amount", func(r *RawPurchase) { r.StableAmount = "ten" }, ReasonInvalidAmount},
		{"nan amount", func(r *RawPurchase) { r.PayoutAmount = "NaN" }, ReasonInvalidAmount},
		{"infinite amount", func(r *RawPurchase) { r.PayoutAmount = "Infinity" }, ReasonInvalidAmount},
		{"huge exponent", func(r *RawPurchase) { r.PayoutAmount = "1e2000000000" }, ReasonInvalidAmount},
		{"tiny exponent", func(r *RawPurchase) { r.StableAmount = "1e-2000000000" }, ReasonInvalidAmount},
		{"80 digit integer", func(r *RawPurchase) { r.PayoutAmount = strings.Repeat("9", 80) }, ReasonInvalidAmount},
		{"78 fractional digits", func(r *RawPurchase) { r.PayoutAmount = "0." + strings.Repeat("0", 77) + "1" }, ReasonInvalidAmount},
		{"overlong literal", func(r *RawPurchase) { r.StableAmount = "1." + strings.Repeat("0", 200) }, ReasonInvalidAmount},
		{"missing hash", func(r *RawPurchase) { r.TxHash = "" }, ReasonInvalidTxHash},
		{"hash without prefix", func(r *RawPurchase) { r.TxHash = strings.Repeat("11", 32) }, ReasonInvalidTxHash},
		{"short hash", func(r *RawPurchase) { r.TxHash = "0x" + strings.Repeat("1", 63) }, ReasonInvalidTxHash},
		{"non hex hash", func(r *RawPurchase) { r.TxHash = "0x" + strings.Repeat("g", 64) }, ReasonInvalidTxHash},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := validRaw()
			tc.mutate(&raw)
			_, err := Validate(raw, true)
			var rej *Rejection
			if !errors.As(err, &rej) {
				t.Fatalf("expected rejection, got %v", err)
			}
			if rej.Reason != tc.reason {
				t.Fatalf("expected %s, got %s", tc.reason, rej.Reason)
			}
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	raw := validRaw()
	raw.WalletAddress = strings.ToLower(raw.WalletAddress)
	raw.StableAmount = "100.50"
	raw.TxHash = strings.ToUpper(proof.Hex()[2:])
	raw.TxHash = "0x" + raw.TxHash

	req, err := Validate(raw, true)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if req.Buyer != buyer {
		t.Fatalf("unexpected buyer %s", req.Buyer.Hex())
	}
	if req.StableAmount.String() != "100.5" {
		t.Fatalf("unexpected stable amount %s", req.StableAmount)
	}
	if req.ProofTxHash == nil || *req.ProofTxHash != proof {
		t.Fatalf("unexpected proof %v", req.ProofTxHash)
	}
}

func TestValidateOptionalProof(t *testing.T) {
	raw := validRaw()
	raw.TxHash = ""
	req, err := Validate(raw, false)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if req.ProofTxHash != nil {
		t.Fatalf("expected no proof")
	}

	raw.TxHash = "0x1234"
	if _, err := Validate(raw, false); err == nil {
		t.Fatalf("a supplied hash must still be well formed")
	}
}

func TestValidateAmountBoundaries(t *testing.T) {
	raw := validRaw()
	raw.PayoutAmount = strings.Repeat("9", 78)
	raw.StableAmount = "0." + strings.Repeat("0", 76) + "1"
	if _, err := Validate(raw, true); err != nil {
		t.Fatalf("amounts at the uint256 bounds should be accepted: %v", err)
	}
}

func TestSettleRejectsExtremeExponentQuickly(t *testing.T) {
	f := newFixture(t)
	f.addPayment(t, proof, tokens(100))

	raw := validRaw()
	raw.PayoutAmount = "1e2000000000"

	done := make(chan error, 1)
	go func() {
		_, err := f.settler.Settle(context.Background(), raw)
		done <- err
	}()

	select {
	case err := <-done:
		expectReason(t, err, ReasonInvalidAmount)
	case <-time.After(2 * time.Second):
		t.Fatalf("Settle did not return for mzlxAmount=1e2000000000")
	}
	if calls := f.fake.Calls(); calls != 0 {
		t.Fatalf("expected no chain calls, got %d", calls)
	}
}

func TestIsTxHash(t *testing.T) {
	if !IsTxHash(proof.Hex()) {
		t.Fatalf("expected %s to be a tx hash", proof.Hex())
	}
	for _, s := range []string{"", "0x1234", strings.Repeat("11", 32), "0x" + strings.Repeat("g", 64)} {
		if IsTxHash(s) {
			t.Fatalf("expected %q to be rejected", s)
		}
	}
}
