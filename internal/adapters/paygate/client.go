// Package paygate is the HTTP client for the payment processor: charge
// initialisation and verification, refunds, and realtor payouts.
package paygate

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"staybook/internal/adapters/observability"
	"staybook/internal/domain"
)

const maxAttempts = 4

type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter
}

var (
	_ domain.PaymentGateway = (*Client)(nil)
	_ domain.PayoutGateway  = (*Client)(nil)
)

func New(base, key string, rps int) (*Client, error) {
	if key == "" {
		return nil, fmt.Errorf("paygate secret key is required")
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 20 * time.Second},
		key:  key,
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// ---- wire types (amounts in minor units) ----

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type initData struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Reference string     `json:"reference"`
	Status    string     `json:"status"`
	Amount    int64      `json:"amount"`
	Currency  string     `json:"currency"`
	PaidAt    *time.Time `json:"paid_at"`
}

type refundData struct {
	ID     json.Number `json:"id"`
	Status string      `json:"status"`
	Amount int64       `json:"amount"`
}

type transferData struct {
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
}

func toMinor(d decimal.Decimal) int64 { return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart() }

func fromMinor(n int64) decimal.Decimal { return decimal.New(n, -2) }

// ---- Public API ----

func (c *Client) InitiateCharge(ctx context.Context, amount decimal.Decimal, currency, reference, email string) (domain.ChargeInit, error) {
	body := map[string]any{
		"amount":    toMinor(amount),
		"currency":  currency,
		"reference": reference,
		"email":     email,
	}
	var out envelope[initData]
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", "initialize", body, "charge-"+reference, &out); err != nil {
		return domain.ChargeInit{}, err
	}
	ref := out.Data.Reference
	if ref == "" {
		ref = reference
	}
	return domain.ChargeInit{Reference: ref, AuthorizationURL: out.Data.AuthorizationURL}, nil
}

func (c *Client) Verify(ctx context.Context, reference string) (domain.ChargeVerification, error) {
	var out envelope[verifyData]
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+reference, "verify", nil, "", &out); err != nil {
		return domain.ChargeVerification{}, err
	}
	v := domain.ChargeVerification{
		Reference: reference,
		Amount:    fromMinor(out.Data.Amount),
		Currency:  out.Data.Currency,
		PaidAt:    out.Data.PaidAt,
	}
	switch strings.ToLower(out.Data.Status) {
	case "success":
		v.Status = domain.ChargeSuccess
	case "failed", "abandoned", "reversed":
		v.Status = domain.ChargeFailed
	default:
		v.Status = domain.ChargePending
	}
	return v, nil
}

// Refund is keyed on the charge reference, so a retried refund for the same
// booking is not paid out twice.
func (c *Client) Refund(ctx context.Context, reference string, amount decimal.Decimal) (domain.GatewayRefund, error) {
	body := map[string]any{"transaction": reference, "amount": toMinor(amount)}
	var out envelope[refundData]
	if err := c.do(ctx, http.MethodPost, "/refund", "refund", body, "refund-"+reference, &out); err != nil {
		return domain.GatewayRefund{}, err
	}
	return domain.GatewayRefund{
		ID:               out.Data.ID.String(),
		Status:           out.Data.Status,
		Amount:           fromMinor(out.Data.Amount),
		GatewayReference: reference,
	}, nil
}

// Payout transfers the net amount of w; the withdrawal ID doubles as the
// transfer reference and idempotency key.
func (c *Client) Payout(ctx context.Context, w domain.Withdrawal) (string, error) {
	body := map[string]any{
		"source":    "balance",
		"amount":    toMinor(w.NetAmount),
		"currency":  w.Currency,
		"recipient": w.RealtorID,
		"reference": w.ID,
	}
	var out envelope[transferData]
	if err := c.do(ctx, http.MethodPost, "/transfer", "transfer", body, "payout-"+w.ID, &out); err != nil {
		return "", err
	}
	if strings.EqualFold(out.Data.Status, "failed") {
		return "", fmt.Errorf("transfer %s rejected", w.ID)
	}
	if out.Data.TransferCode == "" {
		return w.ID, nil
	}
	return out.Data.TransferCode, nil
}

// ---- Internals ----

var (
	ErrNotFound     = errors.New("paygate: not found")
	ErrUnauthorized = errors.New("paygate: unauthorized")
	ErrRejected     = errors.New("paygate: request rejected")
)

// do performs one API call with client-side rate limiting and retries.
// Retries on network errors, 429 and transient 5xx, honoring Retry-After.
// POSTs carry an Idempotency-Key so a retry after a lost response is safe.
func (c *Client) do(ctx context.Context, method, path, endpoint string, body any, idemKey string, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		// build a fresh request each attempt
		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.key)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "staybook/1.0")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idemKey != "" {
			req.Header.Set("Idempotency-Key", idemKey)
		}

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal("paygate", endpoint, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if i < maxAttempts-1 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal("paygate", endpoint, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusAccepted:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("decode %s response: %w", endpoint, err)
			}
			return nil

		case http.StatusNotFound:
			resp.Body.Close()
			return ErrNotFound

		case http.StatusUnauthorized, http.StatusForbidden:
			resp.Body.Close()
			return ErrUnauthorized

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("paygate %s: remote %d", endpoint, resp.StatusCode)
			if i < maxAttempts-1 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			// read a small error body for diagnostics
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("%w: %s status %d: %s", ErrRejected, endpoint, resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}
	return lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff is 200ms doubling per attempt plus up to 50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
