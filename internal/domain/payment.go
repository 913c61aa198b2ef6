package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentInitiated         PaymentStatus = "INITIATED"
	PaymentHeld              PaymentStatus = "HELD"
	PaymentPartiallyReleased PaymentStatus = "PARTIALLY_RELEASED"
	PaymentSettled           PaymentStatus = "SETTLED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentFailed            PaymentStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSettled || s == PaymentRefunded || s == PaymentFailed
}

// paymentTransitions lists every permitted edge of the payment state machine.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentInitiated:         {PaymentHeld, PaymentFailed},
	PaymentHeld:              {PaymentPartiallyReleased, PaymentSettled, PaymentRefunded},
	PaymentPartiallyReleased: {PaymentPartiallyReleased, PaymentSettled},
}

// CanTransition reports whether a payment may move from one status to another.
func CanTransition(from, to PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Payment is the single funds-movement record of a booking.
type Payment struct {
	BookingID             string          `json:"booking_id"`
	Reference             string          `json:"reference"` // gateway transaction id
	Status                PaymentStatus   `json:"status"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	RoomFeeAmount         decimal.Decimal `json:"room_fee_amount"`
	SecurityDepositAmount decimal.Decimal `json:"security_deposit_amount"`
	RefundAmount          decimal.Decimal `json:"refund_amount"`
	PlatformCommission    decimal.Decimal `json:"platform_commission"`
	RealtorEarnings       decimal.Decimal `json:"realtor_earnings"`
	PaidAt                *time.Time      `json:"paid_at,omitempty"`
	RefundedAt            *time.Time      `json:"refunded_at,omitempty"`
	Metadata              map[string]any  `json:"metadata,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// SetMeta records gateway-specific audit data without clobbering other keys.
func (p *Payment) SetMeta(key string, v any) {
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	p.Metadata[key] = v
}
