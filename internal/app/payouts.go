package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"staybook/internal/adapters/observability"
	"staybook/internal/domain"
	"staybook/internal/pricing"
)

// Payouts prices and submits realtor withdrawals. Each submission first claims
// the withdrawal with a status-guarded update, so a retry that lost the race
// does nothing.
type Payouts struct {
	store      domain.WithdrawalStore
	gateway    domain.PayoutGateway
	config     ConfigSource
	maxRetries int
	now        func() time.Time
}

func NewPayouts(s domain.WithdrawalStore, gw domain.PayoutGateway, cfg ConfigSource, maxRetries int) *Payouts {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Payouts{store: s, gateway: gw, config: cfg, maxRetries: maxRetries, now: time.Now}
}

func (p *Payouts) WithClock(now func() time.Time) *Payouts {
	p.now = now
	return p
}

type WithdrawalRequest struct {
	RealtorID string          `json:"realtor_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// RequestWithdrawal records a withdrawal and submits it once. A failed
// submission leaves it FAILED for the retry job.
func (p *Payouts) RequestWithdrawal(ctx context.Context, req WithdrawalRequest) (domain.Withdrawal, error) {
	cfg, err := p.config.Current()
	if err != nil {
		return domain.Withdrawal{}, err
	}
	if req.RealtorID == "" {
		return domain.Withdrawal{}, domain.ErrInvalidAmount
	}
	fee, err := pricing.ComputeWithdrawalFee(req.Amount, cfg)
	if err != nil {
		return domain.Withdrawal{}, err
	}
	currency := req.Currency
	if currency == "" {
		currency = cfg.Currency
	}

	now := p.now().UTC()
	w := domain.Withdrawal{
		ID:        uuid.NewString(),
		RealtorID: req.RealtorID,
		Amount:    fee.Amount,
		Fee:       fee.Fee,
		NetAmount: fee.NetAmount,
		Currency:  currency,
		Status:    domain.WithdrawalPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created := audit(domain.AuditWithdrawalCreated, "withdrawal", w.ID, req.RealtorID, now, map[string]any{
		"amount": w.Amount.String(),
		"fee":    w.Fee.String(),
		"net":    w.NetAmount.String(),
	})
	if err := p.store.InsertWithdrawal(ctx, w, created); err != nil {
		return domain.Withdrawal{}, fmt.Errorf("insert withdrawal: %w", err)
	}

	if _, err := p.submit(ctx, w, domain.WithdrawalPending); err != nil {
		log.Warn().Err(err).Str("withdrawal_id", w.ID).Msg("withdrawal submission failed, left for retry")
	}
	return p.store.GetWithdrawal(ctx, w.ID)
}

type submitOutcome int

const (
	submitSkipped submitOutcome = iota
	submitCompleted
	submitFailed
)

// submit claims w out of status from and calls the payout gateway.
func (p *Payouts) submit(ctx context.Context, w domain.Withdrawal, from domain.WithdrawalStatus) (submitOutcome, error) {
	ok, err := p.store.ClaimWithdrawal(ctx, w.ID, []domain.WithdrawalStatus{from}, p.maxRetries)
	if err != nil {
		return submitFailed, err
	}
	if !ok {
		return submitSkipped, nil
	}

	attempt := w.RetryCount
	if from == domain.WithdrawalFailed {
		attempt++
	}
	ref, perr := p.gateway.Payout(ctx, w)
	now := p.now().UTC()
	if perr != nil {
		perr = &domain.ExternalGatewayError{Op: "payout", Err: perr}
		a := audit(domain.AuditWithdrawalFailed, "withdrawal", w.ID, domain.SystemActor, now, map[string]any{
			"error":       perr.Error(),
			"retry_count": attempt,
		})
		if err := p.store.FailWithdrawal(ctx, w.ID, perr.Error(), a); err != nil {
			return submitFailed, fmt.Errorf("mark withdrawal %s failed: %w", w.ID, err)
		}
		return submitFailed, perr
	}
	a := audit(domain.AuditWithdrawalCompleted, "withdrawal", w.ID, domain.SystemActor, now, map[string]any{
		"reference":   ref,
		"net":         w.NetAmount.String(),
		"retry_count": attempt,
	})
	if err := p.store.CompleteWithdrawal(ctx, w.ID, ref, now, a); err != nil {
		// the transfer went out; a FAILED row here would pay twice on retry
		log.Error().Err(err).Str("withdrawal_id", w.ID).Str("reference", ref).Msg("payout sent but completion not recorded")
		return submitCompleted, err
	}
	return submitCompleted, nil
}

func (p *Payouts) Withdrawal(ctx context.Context, id string) (domain.Withdrawal, error) {
	return p.store.GetWithdrawal(ctx, id)
}

type WithdrawalRetryReport struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// RetryFailed resubmits FAILED withdrawals that still have retries left.
func (p *Payouts) RetryFailed(ctx context.Context, limit int) (WithdrawalRetryReport, error) {
	var rep WithdrawalRetryReport
	ws, err := p.store.ListFailedWithdrawals(ctx, p.maxRetries, limit)
	if err != nil {
		return rep, err
	}
	for _, w := range ws {
		out, err := p.submit(ctx, w, domain.WithdrawalFailed)
		switch out {
		case submitSkipped:
			rep.Skipped++
			continue
		case submitCompleted:
			rep.Processed++
			rep.Successful++
		case submitFailed:
			rep.Processed++
			rep.Failed++
			log.Warn().Err(err).Str("withdrawal_id", w.ID).Int("retry", w.RetryCount+1).Msg("withdrawal retry failed")
		}
		if err := p.store.AppendAudit(ctx, audit(domain.AuditWithdrawalRetried, "withdrawal", w.ID, domain.SystemActor, p.now().UTC(), map[string]any{
			"attempt":   w.RetryCount + 1,
			"succeeded": out == submitCompleted,
		})); err != nil {
			log.Warn().Err(err).Str("withdrawal_id", w.ID).Msg("audit withdrawal retry")
		}
	}
	observability.ObserveJobItems(JobRetryWithdrawals, "successful", rep.Successful)
	observability.ObserveJobItems(JobRetryWithdrawals, "failed", rep.Failed)
	observability.ObserveJobItems(JobRetryWithdrawals, "skipped", rep.Skipped)
	return rep, nil
}
