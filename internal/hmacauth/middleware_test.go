package hmacauth

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

const ledgerPath = "/api/admin/purchases/0xabc"

func TestMiddleware_AllowsValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := Sign("secret", ts, http.MethodGet, ledgerPath, nil)

	v := &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now: func() time.Time {
			return now
		},
	}

	req := httptest.NewRequest(http.MethodGet, ledgerPath, nil)
	req.Header.Set(defaultSignatureHeader, sig)
	req.Header.Set(defaultTimestampHeader, ts)
	rec := httptest.NewRecorder()

	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	v.Middleware(handler).ServeHTTP(rec, req)

	if !called {
		t.Fatalf("handler was not called")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMiddleware_RejectsInvalidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)

	v := &Verifier{
		Secret:  "secret",
		MaxSkew: time.Minute,
		Now: func() time.Time {
			return now
		},
	}

	req := httptest.NewRequest(http.MethodGet, ledgerPath, nil)
	req.Header.Set(defaultSignatureHeader, "deadbeef")
	req.Header.Set(defaultTimestampHeader, ts)
	rec := httptest.NewRecorder()

	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddleware_SignatureBindsPath(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := Sign("secret", ts, http.MethodGet, "/api/admin/purchases/0xdef", nil)

	v := &Verifier{Secret: "secret", MaxSkew: time.Minute, Now: func() time.Time { return now }}
	req := httptest.NewRequest(http.MethodGet, ledgerPath, nil)
	req.Header.Set(defaultSignatureHeader, sig)
	req.Header.Set(defaultTimestampHeader, ts)

	if err := v.verify(req); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestMiddleware_RejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Add(-5*time.Minute).Unix(), 10)
	sig := Sign("secret", ts, http.MethodGet, ledgerPath, nil)

	v := &Verifier{Secret: "secret", MaxSkew: time.Minute, Now: func() time.Time { return now }}
	req := httptest.NewRequest(http.MethodGet, ledgerPath, nil)
	req.Header.Set(defaultSignatureHeader, sig)
	req.Header.Set(defaultTimestampHeader, ts)

	if err := v.verify(req); err != ErrStaleTimestamp {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
}

func TestMiddleware_RefusesWithoutSecret(t *testing.T) {
	v := &Verifier{MaxSkew: time.Minute}
	req := httptest.NewRequest(http.MethodGet, ledgerPath, nil)
	if err := v.verify(req); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
