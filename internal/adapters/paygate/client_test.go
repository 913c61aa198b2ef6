package paygate_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"staybook/internal/adapters/paygate"
	"staybook/internal/domain"
)

func newClient(t *testing.T, h http.Handler) *paygate.Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	cl, err := paygate.New(ts.URL, "sk_test", 100) // high RPS for tests
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	return cl
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := paygate.New("http://x", "", 1); err == nil {
		t.Fatalf("expected error without a secret key")
	}
}

func TestClient_Verify_RetriesThenSuccess(t *testing.T) {
	var hits int32
	cl := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Errorf("missing bearer auth")
		}
		switch atomic.AddInt32(&hits, 1) {
		case 1:
			w.WriteHeader(http.StatusBadGateway)
		case 2:
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`{"status":true,"data":{"reference":"bk_1","status":"success","amount":16979999,"currency":"NGN","paid_at":"2026-03-10T11:00:00Z"}}`))
		}
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	v, err := cl.Verify(ctx, "bk_1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.Status != domain.ChargeSuccess || !v.Amount.Equal(decimal.RequireFromString("169799.99")) || v.PaidAt == nil {
		t.Fatalf("unexpected verification: %+v", v)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("expected 3 calls due to retries, got %d", hits)
	}
}

func TestClient_Verify_StatusMapping(t *testing.T) {
	cases := map[string]domain.ChargeStatus{
		"success":   domain.ChargeSuccess,
		"abandoned": domain.ChargeFailed,
		"failed":    domain.ChargeFailed,
		"ongoing":   domain.ChargePending,
	}
	for remote, want := range cases {
		remote, want := remote, want
		t.Run(remote, func(t *testing.T) {
			cl := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"status": true, "data": map[string]any{"status": remote, "amount": 100}})
			}))
			v, err := cl.Verify(context.Background(), "r")
			if err != nil || v.Status != want {
				t.Fatalf("got %s (%v), want %s", v.Status, err, want)
			}
		})
	}
}

func TestClient_Refund_IsIdempotent(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
		body map[string]any
	)
	cl := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/refund" {
			t.Errorf("unexpected call %s %s", r.Method, r.URL.Path)
		}
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		_ = json.NewDecoder(r.Body).Decode(&body)
		n := len(keys)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":true,"data":{"id":991,"status":"pending","amount":9500000}}`))
	}))

	rf, err := cl.Refund(context.Background(), "bk_1", decimal.RequireFromString("95000"))
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if rf.ID != "991" || !rf.Amount.Equal(decimal.RequireFromString("95000")) || rf.GatewayReference != "bk_1" {
		t.Fatalf("unexpected refund: %+v", rf)
	}
	if len(keys) != 2 || keys[0] != "refund-bk_1" || keys[0] != keys[1] {
		t.Fatalf("retries must reuse the idempotency key: %v", keys)
	}
	if body["amount"].(float64) != 9500000 || body["transaction"] != "bk_1" {
		t.Fatalf("unexpected refund body: %v", body)
	}
}

func TestClient_Payout(t *testing.T) {
	cl := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["reference"] != "wd-1" || body["amount"].(float64) != 1980000 {
			t.Errorf("unexpected transfer body: %v", body)
		}
		_, _ = w.Write([]byte(`{"status":true,"data":{"transfer_code":"TRF_1","status":"pending"}}`))
	}))
	ref, err := cl.Payout(context.Background(), domain.Withdrawal{
		ID: "wd-1", RealtorID: "RCP_1", NetAmount: decimal.RequireFromString("19800"), Currency: "NGN",
	})
	if err != nil || ref != "TRF_1" {
		t.Fatalf("payout: %q %v", ref, err)
	}
}

func TestClient_Errors(t *testing.T) {
	cl := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/transaction/verify/missing":
			http.NotFound(w, r)
		case "/transaction/verify/denied":
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":false,"message":"invalid amount"}`))
		}
	}))
	ctx := context.Background()
	if _, err := cl.Verify(ctx, "missing"); !errors.Is(err, paygate.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := cl.Verify(ctx, "denied"); !errors.Is(err, paygate.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := cl.InitiateCharge(ctx, decimal.NewFromInt(1), "NGN", "r", "e@x"); !errors.Is(err, paygate.ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestClient_ContextCancelStopsRetries(t *testing.T) {
	var hits int32
	cl := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := cl.Verify(ctx, "r"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected a single attempt, got %d", hits)
	}
}
