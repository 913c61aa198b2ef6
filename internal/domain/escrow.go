package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EscrowStatus string

const (
	EscrowHeld              EscrowStatus = "HELD"
	EscrowPartiallyReleased EscrowStatus = "PARTIALLY_RELEASED"
	EscrowReleased          EscrowStatus = "RELEASED"
	EscrowVoid              EscrowStatus = "VOID"
)

type EscrowEventKind string

const (
	EscrowEventHold           EscrowEventKind = "HOLD"
	EscrowEventPartialRelease EscrowEventKind = "PARTIAL_RELEASE"
	EscrowEventFullRelease    EscrowEventKind = "FULL_RELEASE"
	EscrowEventVoid           EscrowEventKind = "VOID"
)

// Escrow is the custody record for a booking's room-fee funds.
type Escrow struct {
	BookingID         string              `json:"booking_id"`
	Amount            decimal.Decimal     `json:"amount"`
	ReleasedAmount    decimal.Decimal     `json:"released_amount"`
	Status            EscrowStatus        `json:"status"`
	CommissionRate    decimal.NullDecimal `json:"commission_rate"` // percent, fixed by the first release
	CreatedAt         time.Time           `json:"created_at"`
	ReleaseEligibleAt time.Time           `json:"release_eligible_at"`
	Events            []EscrowEvent       `json:"events,omitempty"` // append-only
}

func (e Escrow) Remaining() decimal.Decimal { return e.Amount.Sub(e.ReleasedAmount) }

type EscrowEvent struct {
	ID        string          `json:"id"`
	BookingID string          `json:"booking_id"`
	Kind      EscrowEventKind `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Actor     string          `json:"actor"`
	At        time.Time       `json:"at"`
}
