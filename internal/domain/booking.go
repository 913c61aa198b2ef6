package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingActive    BookingStatus = "ACTIVE"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
)

type RefundTier string

const (
	RefundTierEarly  RefundTier = "EARLY"
	RefundTierMedium RefundTier = "MEDIUM"
	RefundTierLate   RefundTier = "LATE"
	RefundTierNone   RefundTier = "NONE"
)

// FeeBreakdown is the guest-facing decomposition of a booking's total.
type FeeBreakdown struct {
	RoomFee         decimal.Decimal `json:"room_fee"`
	Discount        decimal.Decimal `json:"discount"`
	CleaningFee     decimal.Decimal `json:"cleaning_fee"`
	ServiceFee      decimal.Decimal `json:"service_fee"`
	SecurityDeposit decimal.Decimal `json:"security_deposit"`
	Taxes           decimal.Decimal `json:"taxes"`
}

type Booking struct {
	ID         string          `json:"id"`
	PropertyID string          `json:"property_id"`
	RealtorID  string          `json:"realtor_id"`
	GuestID    string          `json:"guest_id"`
	GuestEmail string          `json:"guest_email"`
	CheckInAt  time.Time       `json:"check_in_at"`
	CheckOutAt time.Time       `json:"check_out_at"`
	Status     BookingStatus   `json:"status"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Currency   string          `json:"currency"`
	Fees       FeeBreakdown    `json:"fees"`
	RefundTier *RefundTier     `json:"refund_tier,omitempty"` // nil until a cancellation refund is computed
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
