package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommissionTier is a room-fee bracket [Min, Max] with a commission rate in percent.
// A nil Max means the tier is open-ended.
type CommissionTier struct {
	Min  decimal.Decimal  `json:"min"`
	Max  *decimal.Decimal `json:"max,omitempty"`
	Rate decimal.Decimal  `json:"rate"`
}

// VolumeDiscount reduces the commission rate (percentage points) once a realtor's
// monthly room-fee volume reaches Volume.
type VolumeDiscount struct {
	Volume    decimal.Decimal `json:"volume"`
	Reduction decimal.Decimal `json:"reduction"`
}

// FeeCap limits the variable part of a fee to Amount once the fee base reaches Trigger.
type FeeCap struct {
	Trigger decimal.Decimal `json:"trigger"`
	Amount  decimal.Decimal `json:"amount"`
}

// FeeComponent is a guest-facing fee: percent of the fee base plus a fixed amount.
type FeeComponent struct {
	Percent decimal.Decimal `json:"percent"`
	Fixed   decimal.Decimal `json:"fixed"`
	Cap     *FeeCap         `json:"cap,omitempty"`
}

// WithdrawalFeeRule prices a realtor payout.
type WithdrawalFeeRule struct {
	Percent decimal.Decimal `json:"percent"`
	Cap     decimal.Decimal `json:"cap"` // zero means uncapped
	Minimum decimal.Decimal `json:"minimum"`
}

// CommissionConfig is an immutable, versioned snapshot of the pricing settings.
// Once activated it is never mutated; an admin update produces a new version.
type CommissionConfig struct {
	Version                    int64             `json:"version"`
	Currency                   string            `json:"currency"`
	Tiers                      []CommissionTier  `json:"tiers"`
	VolumeDiscounts            []VolumeDiscount  `json:"volume_discounts"`
	DiscountCap                decimal.Decimal   `json:"discount_cap"`
	PlatformFee                FeeComponent      `json:"platform_fee"`
	LocalProcessingFee         FeeComponent      `json:"local_processing_fee"`
	InternationalProcessingFee FeeComponent      `json:"international_processing_fee"`
	Withdrawal                 WithdrawalFeeRule `json:"withdrawal"`
	TaxRate                    decimal.Decimal   `json:"tax_rate"`
	EscrowReleaseOffsetHours   int               `json:"escrow_release_offset_hours"`
	ActivatedAt                time.Time         `json:"activated_at"`
	ActivatedBy                string            `json:"activated_by,omitempty"`
}

// EscrowReleaseOffset is the delay after check-in before escrow may be released.
func (c CommissionConfig) EscrowReleaseOffset() time.Duration {
	return time.Duration(c.EscrowReleaseOffsetHours) * time.Hour
}
