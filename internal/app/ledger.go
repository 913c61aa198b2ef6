package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"staybook/internal/adapters/observability"
	"staybook/internal/domain"
	"staybook/internal/pricing"
	"staybook/internal/refund"
)

// Ledger owns the payment and escrow state machine. Every mutation runs in one
// transaction scoped to one booking; gateway calls happen outside of it.
type Ledger struct {
	store   domain.LedgerStore
	gateway domain.PaymentGateway
	config  ConfigSource
	now     func() time.Time
}

func NewLedger(s domain.LedgerStore, gw domain.PaymentGateway, cfg ConfigSource) *Ledger {
	return &Ledger{store: s, gateway: gw, config: cfg, now: time.Now}
}

// WithClock replaces the ledger's time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// ---- pricing reads ----

func (l *Ledger) Quote(ctx context.Context, req pricing.ChargeRequest) (pricing.Charges, error) {
	cfg, err := l.config.Current()
	if err != nil {
		return pricing.Charges{}, err
	}
	if req.Currency == "" {
		req.Currency = cfg.Currency
	}
	return pricing.ComputeBookingCharges(req, cfg)
}

// PreviewCommission prices the platform commission a realtor would pay on roomFee today.
func (l *Ledger) PreviewCommission(ctx context.Context, realtorID string, roomFee decimal.Decimal) (pricing.Commission, error) {
	cfg, err := l.config.Current()
	if err != nil {
		return pricing.Commission{}, err
	}
	volume := decimal.Zero
	if realtorID != "" {
		if volume, err = l.store.MonthlyRealtorVolume(ctx, realtorID, monthStart(l.now()), ""); err != nil {
			return pricing.Commission{}, err
		}
	}
	return pricing.ComputePlatformCommission(roomFee, volume, cfg)
}

// BookingView is a booking with its payment and escrow, as the API shows it.
type BookingView struct {
	Booking domain.Booking  `json:"booking"`
	Payment *domain.Payment `json:"payment,omitempty"`
	Escrow  *domain.Escrow  `json:"escrow,omitempty"`
}

func (l *Ledger) Booking(ctx context.Context, id string) (BookingView, error) {
	b, err := l.store.GetBooking(ctx, id)
	if err != nil {
		return BookingView{}, err
	}
	v := BookingView{Booking: b}
	if v.Payment, err = l.store.GetPayment(ctx, id); err != nil && !isNotFound(err) {
		return BookingView{}, err
	}
	if v.Escrow, err = l.store.GetEscrow(ctx, id); err != nil && !isNotFound(err) {
		return BookingView{}, err
	}
	return v, nil
}

// ---- checkout ----

type CheckoutRequest struct {
	PropertyID      string           `json:"property_id"`
	RealtorID       string           `json:"realtor_id"`
	GuestID         string           `json:"guest_id"`
	GuestEmail      string           `json:"guest_email"`
	CheckInAt       time.Time        `json:"check_in_at"`
	CheckOutAt      time.Time        `json:"check_out_at"`
	NightlyRate     decimal.Decimal  `json:"nightly_rate"`
	WeeklyDiscount  *decimal.Decimal `json:"weekly_discount,omitempty"`
	MonthlyDiscount *decimal.Decimal `json:"monthly_discount,omitempty"`
	CleaningFee     decimal.Decimal  `json:"cleaning_fee"`
	SecurityDeposit decimal.Decimal  `json:"security_deposit"`
	Currency        string           `json:"currency"`
	International   bool             `json:"international"`
}

// Nights counts the stay's nights, a partial day counting as a night.
func (r CheckoutRequest) Nights() int {
	d := r.CheckOutAt.Sub(r.CheckInAt)
	n := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		n++
	}
	return n
}

type CheckoutResult struct {
	Booking          domain.Booking  `json:"booking"`
	Charges          pricing.Charges `json:"charges"`
	PaymentReference string          `json:"payment_reference"`
	AuthorizationURL string          `json:"authorization_url,omitempty"`
}

// Checkout prices the stay, opens a charge at the gateway and records the
// booking as PENDING with an INITIATED payment.
func (l *Ledger) Checkout(ctx context.Context, req CheckoutRequest) (res CheckoutResult, err error) {
	defer func() { observability.ObserveLedger("checkout", err) }()

	if !req.CheckOutAt.After(req.CheckInAt) || req.GuestEmail == "" || req.RealtorID == "" {
		return CheckoutResult{}, pricing.ErrInvalidChargeRequest
	}
	charges, err := l.Quote(ctx, pricing.ChargeRequest{
		Nights:          req.Nights(),
		NightlyRate:     req.NightlyRate,
		WeeklyDiscount:  req.WeeklyDiscount,
		MonthlyDiscount: req.MonthlyDiscount,
		CleaningFee:     req.CleaningFee,
		SecurityDeposit: req.SecurityDeposit,
		Currency:        req.Currency,
		International:   req.International,
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	id := uuid.NewString()
	charge, err := l.gateway.InitiateCharge(ctx, charges.Total, charges.Currency, "bk_"+id, req.GuestEmail)
	if err != nil {
		return CheckoutResult{}, &domain.ExternalGatewayError{Op: "initiate charge", Err: err}
	}
	ref := charge.Reference
	if ref == "" {
		ref = "bk_" + id
	}

	now := l.now().UTC()
	b := domain.Booking{
		ID:         id,
		PropertyID: req.PropertyID,
		RealtorID:  req.RealtorID,
		GuestID:    req.GuestID,
		GuestEmail: req.GuestEmail,
		CheckInAt:  req.CheckInAt.UTC(),
		CheckOutAt: req.CheckOutAt.UTC(),
		Status:     domain.BookingPending,
		TotalPrice: charges.Total,
		Currency:   charges.Currency,
		Fees:       charges.Breakdown(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	p := domain.Payment{
		BookingID:             id,
		Reference:             ref,
		Status:                domain.PaymentInitiated,
		Amount:                charges.Total,
		Currency:              charges.Currency,
		RoomFeeAmount:         charges.RoomFee,
		SecurityDepositAmount: charges.SecurityDeposit,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if charge.AuthorizationURL != "" {
		p.SetMeta("authorization_url", charge.AuthorizationURL)
	}

	err = l.store.WithinBookingTx(ctx, id, func(tx domain.LedgerTx) error {
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, audit(domain.AuditBookingCreated, "booking", id, req.GuestID, now, map[string]any{
			"reference": ref,
			"total":     charges.Total.String(),
			"currency":  charges.Currency,
		}))
	})
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("checkout %s: %w", id, err)
	}
	log.Info().Str("booking_id", id).Str("reference", ref).Str("total", charges.Total.String()).Msg("booking created")
	return CheckoutResult{Booking: b, Charges: charges, PaymentReference: ref, AuthorizationURL: charge.AuthorizationURL}, nil
}

// ---- payment confirmation ----

// ConfirmPayment verifies the charge at the gateway and moves an INITIATED
// payment to HELD (opening escrow) or FAILED. A HELD payment is returned untouched.
func (l *Ledger) ConfirmPayment(ctx context.Context, bookingID, actor string) (out domain.Payment, err error) {
	defer func() { observability.ObserveLedger("confirm_payment", err) }()

	p, err := l.store.GetPayment(ctx, bookingID)
	if err != nil {
		return domain.Payment{}, err
	}
	if p == nil {
		return domain.Payment{}, domain.ErrNotFound
	}
	if p.Status == domain.PaymentHeld {
		return *p, nil
	}
	if !domain.CanTransition(p.Status, domain.PaymentHeld) {
		return domain.Payment{}, &domain.InvalidStateError{Op: "confirm payment", Entity: "payment", ID: bookingID, State: string(p.Status)}
	}
	cfg, err := l.config.Current()
	if err != nil {
		return domain.Payment{}, err
	}

	v, err := l.gateway.Verify(ctx, p.Reference)
	if err != nil {
		return domain.Payment{}, &domain.ExternalGatewayError{Op: "verify", Err: err}
	}
	if v.Status == domain.ChargePending {
		return *p, nil
	}

	err = l.store.WithinBookingTx(ctx, bookingID, func(tx domain.LedgerTx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		pay, err := tx.LockPayment(ctx, bookingID)
		if err != nil {
			return err
		}
		if pay == nil {
			return domain.ErrNotFound
		}
		if pay.Status == domain.PaymentHeld {
			out = *pay
			return nil
		}
		if b.Status != domain.BookingPending {
			return &domain.InvalidStateError{Op: "confirm payment", Entity: "booking", ID: bookingID, State: string(b.Status)}
		}

		now := l.now().UTC()
		pay.SetMeta("gateway_status", string(v.Status))
		pay.UpdatedAt = now

		if v.Status != domain.ChargeSuccess || v.Amount.LessThan(pay.Amount) {
			reason := "GATEWAY_" + string(v.Status)
			if v.Status == domain.ChargeSuccess {
				reason = "AMOUNT_MISMATCH"
				pay.SetMeta("gateway_amount", v.Amount.String())
			}
			if err := moveTo(pay, domain.PaymentFailed, "confirm payment"); err != nil {
				return err
			}
			if err := tx.UpdatePayment(ctx, *pay); err != nil {
				return err
			}
			out = *pay
			return tx.AppendAudit(ctx, audit(domain.AuditPaymentFailed, "payment", bookingID, actor, now, map[string]any{"reason": reason}))
		}

		paidAt := now
		if v.PaidAt != nil {
			paidAt = v.PaidAt.UTC()
		}
		if err := moveTo(pay, domain.PaymentHeld, "confirm payment"); err != nil {
			return err
		}
		pay.PaidAt = &paidAt
		if err := tx.UpdatePayment(ctx, *pay); err != nil {
			return err
		}
		b.Status = domain.BookingActive
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		e := domain.Escrow{
			BookingID:         bookingID,
			Amount:            pay.RoomFeeAmount,
			Status:            domain.EscrowHeld,
			CreatedAt:         now,
			ReleaseEligibleAt: b.CheckInAt.Add(cfg.EscrowReleaseOffset()),
		}
		if err := tx.SaveEscrow(ctx, e); err != nil {
			return err
		}
		if err := tx.AppendEscrowEvent(ctx, escrowEvent(bookingID, domain.EscrowEventHold, e.Amount, actor, now)); err != nil {
			return err
		}
		out = *pay
		return tx.AppendAudit(ctx, audit(domain.AuditPaymentHeld, "payment", bookingID, actor, now, map[string]any{
			"reference":           pay.Reference,
			"amount":              pay.Amount.String(),
			"escrow_amount":       e.Amount.String(),
			"release_eligible_at": e.ReleaseEligibleAt,
		}))
	})
	if err != nil {
		return domain.Payment{}, err
	}
	log.Info().Str("booking_id", bookingID).Str("status", string(out.Status)).Msg("payment confirmed")
	return out, nil
}

// ---- cancellation & refund ----

type RefundResult struct {
	BookingID     string                `json:"booking_id"`
	Split         refund.Split          `json:"split"`
	GatewayRefund *domain.GatewayRefund `json:"gateway_refund,omitempty"`
	GatewayError  string                `json:"gateway_error,omitempty"`
}

// CancelResult reports a committed cancellation. RefundPending is set when the
// booking is cancelled but its refund did not go through; POST .../refund
// finishes it.
type CancelResult struct {
	Booking       domain.Booking `json:"booking"`
	Refund        *RefundResult  `json:"refund,omitempty"`
	RefundPending bool           `json:"refund_pending,omitempty"`
	RefundError   string         `json:"refund_error,omitempty"`
}

// CancelBooking cancels a PENDING or ACTIVE booking. A held payment is refunded
// by tier right after; an unpaid one is marked FAILED. Once the cancellation
// is committed a refund failure is reported in the result, not as an error.
func (l *Ledger) CancelBooking(ctx context.Context, bookingID, actor string) (res CancelResult, err error) {
	defer func() { observability.ObserveLedger("cancel_booking", err) }()

	var held bool
	err = l.store.WithinBookingTx(ctx, bookingID, func(tx domain.LedgerTx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != domain.BookingPending && b.Status != domain.BookingActive {
			return &domain.InvalidStateError{Op: "cancel booking", Entity: "booking", ID: bookingID, State: string(b.Status)}
		}
		pay, err := tx.LockPayment(ctx, bookingID)
		if err != nil {
			return err
		}
		now := l.now().UTC()
		if pay != nil {
			switch {
			case pay.Status == domain.PaymentFailed:
			case domain.CanTransition(pay.Status, domain.PaymentRefunded):
				held = true
			case domain.CanTransition(pay.Status, domain.PaymentFailed):
				if err := moveTo(pay, domain.PaymentFailed, "cancel booking"); err != nil {
					return err
				}
				pay.SetMeta("failure_reason", "CANCELLED_BEFORE_PAYMENT")
				pay.UpdatedAt = now
				if err := tx.UpdatePayment(ctx, *pay); err != nil {
					return err
				}
			default:
				return &domain.InvalidStateError{Op: "cancel booking", Entity: "payment", ID: bookingID, State: string(pay.Status)}
			}
		}
		b.Status = domain.BookingCancelled
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}
		res.Booking = b
		return tx.AppendAudit(ctx, audit(domain.AuditBookingCancelled, "booking", bookingID, actor, now, map[string]any{"refund_due": held}))
	})
	if err != nil {
		return CancelResult{}, err
	}
	if !held {
		return res, nil
	}

	rr, rerr := l.ProcessBookingRefund(ctx, bookingID, actor)
	if rerr != nil {
		log.Error().Err(rerr).Str("booking_id", bookingID).Msg("booking cancelled, refund pending")
		res.RefundPending = true
		res.RefundError = rerr.Error()
		return res, nil
	}
	res.Refund = &rr
	if rr.Split.Tier != "" {
		t := rr.Split.Tier
		res.Booking.RefundTier = &t
	}
	return res, nil
}

// ProcessBookingRefund splits a cancelled booking's held funds by refund tier.
// The gateway refund is attempted before the transaction; its failure is
// recorded but does not stop the local bookkeeping.
func (l *Ledger) ProcessBookingRefund(ctx context.Context, bookingID, actor string) (res RefundResult, err error) {
	defer func() { observability.ObserveLedger("process_refund", err) }()

	b, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return RefundResult{}, err
	}
	p, err := l.store.GetPayment(ctx, bookingID)
	if err != nil {
		return RefundResult{}, err
	}
	if err := refundable(b, p); err != nil {
		return RefundResult{}, err
	}

	now := l.now().UTC()
	split := refund.ComputeSplit(b.CheckInAt, p.RoomFeeAmount, p.SecurityDepositAmount, now)
	res = RefundResult{BookingID: bookingID, Split: split}

	if split.CustomerRefund.IsPositive() {
		gr, gerr := l.gateway.Refund(ctx, p.Reference, split.CustomerRefund)
		if gerr != nil {
			gerr = &domain.ExternalGatewayError{Op: "refund", Err: gerr}
			log.Error().Err(gerr).Str("booking_id", bookingID).Str("reference", p.Reference).
				Str("amount", split.CustomerRefund.String()).Msg("gateway refund failed, manual reconciliation needed")
			res.GatewayError = gerr.Error()
		} else {
			res.GatewayRefund = &gr
		}
	}

	err = l.store.WithinBookingTx(ctx, bookingID, func(tx domain.LedgerTx) error {
		b, err := tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		pay, err := tx.LockPayment(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := refundable(b, pay); err != nil {
			return err
		}

		if err := moveTo(pay, domain.PaymentRefunded, "refund"); err != nil {
			return err
		}
		pay.RefundAmount = split.CustomerRefund
		pay.RefundedAt = &now
		pay.PlatformCommission = split.RoomFeeToPlatform
		pay.RealtorEarnings = split.RoomFeeToRealtor
		pay.UpdatedAt = now
		if res.GatewayRefund != nil {
			pay.SetMeta("refund", res.GatewayRefund)
		}
		if res.GatewayError != "" {
			pay.SetMeta("refund_error", res.GatewayError)
		}
		if err := tx.UpdatePayment(ctx, *pay); err != nil {
			return err
		}

		tier := split.Tier
		b.RefundTier = &tier
		b.UpdatedAt = now
		if err := tx.UpdateBooking(ctx, b); err != nil {
			return err
		}

		e, err := tx.LockEscrow(ctx, bookingID)
		if err != nil {
			return err
		}
		if e != nil && e.Status != domain.EscrowVoid {
			remaining := e.Remaining()
			e.Status = domain.EscrowVoid
			if err := tx.SaveEscrow(ctx, *e); err != nil {
				return err
			}
			if err := tx.AppendEscrowEvent(ctx, escrowEvent(bookingID, domain.EscrowEventVoid, remaining, actor, now)); err != nil {
				return err
			}
		}

		return tx.AppendAudit(ctx, audit(domain.AuditRefundProcessed, "payment", bookingID, actor, now, map[string]any{
			"tier":                 string(split.Tier),
			"hours_to_check_in":    split.HoursToCheckIn,
			"room_fee_to_guest":    split.RoomFeeToGuest.String(),
			"room_fee_to_realtor":  split.RoomFeeToRealtor.String(),
			"room_fee_to_platform": split.RoomFeeToPlatform.String(),
			"deposit_to_guest":     split.DepositToGuest.String(),
			"customer_refund":      split.CustomerRefund.String(),
			"gateway_error":        res.GatewayError,
		}))
	})
	if err != nil {
		return RefundResult{}, err
	}
	log.Info().Str("booking_id", bookingID).Str("tier", string(split.Tier)).
		Str("customer_refund", split.CustomerRefund.String()).Msg("refund processed")
	return res, nil
}

func refundable(b domain.Booking, p *domain.Payment) error {
	if b.Status != domain.BookingCancelled {
		return &domain.InvalidStateError{Op: "refund", Entity: "booking", ID: b.ID, State: string(b.Status)}
	}
	if p == nil {
		return &domain.InvalidStateError{Op: "refund", Entity: "payment", ID: b.ID, State: "MISSING"}
	}
	if !domain.CanTransition(p.Status, domain.PaymentRefunded) {
		return &domain.InvalidStateError{Op: "refund", Entity: "payment", ID: b.ID, State: string(p.Status)}
	}
	return nil
}

// ---- escrow release ----

type ReleaseRequest struct {
	BookingID string          `json:"booking_id"`
	Amount    decimal.Decimal `json:"amount"` // zero releases the remainder
	Actor     string          `json:"actor"`
}

type ReleaseResult struct {
	BookingID       string               `json:"booking_id"`
	Released        decimal.Decimal      `json:"released"`
	Commission      decimal.Decimal      `json:"commission"`
	RealtorEarnings decimal.Decimal      `json:"realtor_earnings"`
	CommissionRate  decimal.Decimal      `json:"commission_rate"`
	PaymentStatus   domain.PaymentStatus `json:"payment_status"`
	EscrowStatus    domain.EscrowStatus  `json:"escrow_status"`
	BookingStatus   domain.BookingStatus `json:"booking_status,omitempty"`
	NoOp            bool                 `json:"no_op"`
}

// ReleaseEscrow pays out escrowed room-fee funds to the realtor once the
// escrow is eligible. The commission rate is fixed by the first release and
// reused by later legs. The final leg settles the payment and completes the
// booking; releasing a settled payment again changes nothing.
func (l *Ledger) ReleaseEscrow(ctx context.Context, req ReleaseRequest) (res ReleaseResult, err error) {
	defer func() { observability.ObserveLedger("release_escrow", err) }()

	id := req.BookingID
	if req.Amount.IsNegative() || !req.Amount.Equal(pricing.Round2(req.Amount)) {
		return ReleaseResult{}, domain.ErrInvalidAmount
	}
	b, err := l.store.GetBooking(ctx, id)
	if err != nil {
		return ReleaseResult{}, err
	}
	p, err := l.store.GetPayment(ctx, id)
	if err != nil {
		return ReleaseResult{}, err
	}
	if p == nil {
		return ReleaseResult{}, &domain.InvalidStateError{Op: "release escrow", Entity: "payment", ID: id, State: "MISSING"}
	}
	if p.Status == domain.PaymentSettled {
		return ReleaseResult{BookingID: id, PaymentStatus: p.Status, EscrowStatus: domain.EscrowReleased, NoOp: true}, nil
	}
	if p.Status.Terminal() {
		return ReleaseResult{}, &domain.InvalidStateError{Op: "release escrow", Entity: "payment", ID: id, State: string(p.Status)}
	}

	cfg, err := l.config.Current()
	if err != nil {
		return ReleaseResult{}, err
	}
	now := l.now().UTC()
	volume, err := l.store.MonthlyRealtorVolume(ctx, b.RealtorID, monthStart(now), id)
	if err != nil {
		return ReleaseResult{}, err
	}
	comm, err := pricing.ComputePlatformCommission(p.RoomFeeAmount, volume, cfg)
	if err != nil {
		return ReleaseResult{}, err
	}

	err = l.store.WithinBookingTx(ctx, id, func(tx domain.LedgerTx) error {
		b, err := tx.LockBooking(ctx, id)
		if err != nil {
			return err
		}
		pay, err := tx.LockPayment(ctx, id)
		if err != nil {
			return err
		}
		e, err := tx.LockEscrow(ctx, id)
		if err != nil {
			return err
		}
		if pay == nil || e == nil {
			return &domain.InvalidStateError{Op: "release escrow", Entity: "escrow", ID: id, State: "MISSING"}
		}
		if pay.Status == domain.PaymentSettled || e.Status == domain.EscrowReleased {
			res = ReleaseResult{BookingID: id, PaymentStatus: pay.Status, EscrowStatus: e.Status, NoOp: true}
			return nil
		}
		if b.Status != domain.BookingActive {
			return &domain.InvalidStateError{Op: "release escrow", Entity: "booking", ID: id, State: string(b.Status)}
		}
		if now.Before(e.ReleaseEligibleAt) {
			return &domain.InvalidStateError{Op: "release escrow", Entity: "escrow", ID: id,
				State: fmt.Sprintf("%s until %s", e.Status, e.ReleaseEligibleAt.Format(time.RFC3339))}
		}

		remaining := e.Remaining()
		amount := req.Amount
		if amount.IsZero() {
			amount = remaining
		}
		if amount.GreaterThan(remaining) || !amount.IsPositive() {
			return domain.ErrInvalidAmount
		}

		legComm := comm
		if e.CommissionRate.Valid {
			legComm = pricing.CommissionAtRate(pay.RoomFeeAmount, e.CommissionRate.Decimal)
		} else {
			e.CommissionRate = decimal.NullDecimal{Decimal: comm.Rate, Valid: true}
		}

		// the final leg takes whatever commission is left so the legs sum exactly
		var legCommission decimal.Decimal
		switch {
		case amount.Equal(remaining):
			legCommission = legComm.CommissionAmount.Sub(pay.PlatformCommission)
		case e.Amount.IsPositive():
			legCommission = pricing.Round2(legComm.CommissionAmount.Mul(amount).Div(e.Amount))
		}
		if legCommission.IsNegative() {
			legCommission = decimal.Zero
		}
		legEarnings := amount.Sub(legCommission)

		e.ReleasedAmount = e.ReleasedAmount.Add(amount)
		kind, next := domain.EscrowEventPartialRelease, domain.PaymentPartiallyReleased
		e.Status = domain.EscrowPartiallyReleased
		if e.Remaining().IsZero() {
			kind, next = domain.EscrowEventFullRelease, domain.PaymentSettled
			e.Status = domain.EscrowReleased
		}
		if err := moveTo(pay, next, "release escrow"); err != nil {
			return err
		}

		pay.PlatformCommission = pay.PlatformCommission.Add(legCommission)
		pay.RealtorEarnings = pay.RealtorEarnings.Add(legEarnings)
		pay.SetMeta("commission_rate", legComm.Rate.String())
		pay.UpdatedAt = now
		if err := tx.UpdatePayment(ctx, *pay); err != nil {
			return err
		}
		if err := tx.SaveEscrow(ctx, *e); err != nil {
			return err
		}
		if pay.Status == domain.PaymentSettled {
			b.Status = domain.BookingCompleted
			b.UpdatedAt = now
			if err := tx.UpdateBooking(ctx, b); err != nil {
				return err
			}
		}
		actor := req.Actor
		if actor == "" {
			actor = domain.SystemActor
		}
		if err := tx.AppendEscrowEvent(ctx, escrowEvent(id, kind, amount, actor, now)); err != nil {
			return err
		}
		res = ReleaseResult{
			BookingID:       id,
			Released:        amount,
			Commission:      legCommission,
			RealtorEarnings: legEarnings,
			CommissionRate:  legComm.Rate,
			PaymentStatus:   pay.Status,
			EscrowStatus:    e.Status,
			BookingStatus:   b.Status,
		}
		return tx.AppendAudit(ctx, audit(domain.AuditEscrowReleased, "escrow", id, actor, now, map[string]any{
			"kind":             string(kind),
			"amount":           amount.String(),
			"commission":       legCommission.String(),
			"realtor_earnings": legEarnings.String(),
			"rate":             legComm.Rate.String(),
			"monthly_volume":   volume.String(),
			"booking_status":   string(b.Status),
		}))
	})
	if err != nil {
		return ReleaseResult{}, err
	}
	if !res.NoOp {
		log.Info().Str("booking_id", id).Str("released", res.Released.String()).
			Str("payment_status", string(res.PaymentStatus)).Msg("escrow released")
	}
	return res, nil
}

// ---- helpers ----

// moveTo sets p's status when the payment state machine allows the edge.
func moveTo(p *domain.Payment, to domain.PaymentStatus, op string) error {
	if !domain.CanTransition(p.Status, to) {
		return &domain.InvalidStateError{Op: op, Entity: "payment", ID: p.BookingID, State: string(p.Status)}
	}
	p.Status = to
	return nil
}

func audit(action domain.AuditAction, entity, id, actor string, at time.Time, details map[string]any) domain.AuditLog {
	if actor == "" {
		actor = domain.SystemActor
	}
	return domain.AuditLog{
		ID:         uuid.NewString(),
		Action:     action,
		EntityType: entity,
		EntityID:   id,
		Actor:      actor,
		Details:    details,
		CreatedAt:  at,
	}
}

func escrowEvent(bookingID string, kind domain.EscrowEventKind, amount decimal.Decimal, actor string, at time.Time) domain.EscrowEvent {
	return domain.EscrowEvent{
		ID:        uuid.NewString(),
		BookingID: bookingID,
		Kind:      kind,
		Amount:    amount,
		Actor:     actor,
		At:        at,
	}
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// isNotFound keeps job loops from treating a vanished row as a failure.
func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
