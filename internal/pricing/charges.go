package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"staybook/internal/domain"
)

const (
	weeklyNights  = 7
	monthlyNights = 28
)

// ChargeRequest is a raw stay request. Discounts are percentages; nil means
// the property has no such discount configured.
type ChargeRequest struct {
	Nights          int              `json:"nights"`
	NightlyRate     decimal.Decimal  `json:"nightly_rate"`
	WeeklyDiscount  *decimal.Decimal `json:"weekly_discount,omitempty"`
	MonthlyDiscount *decimal.Decimal `json:"monthly_discount,omitempty"`
	CleaningFee     decimal.Decimal  `json:"cleaning_fee"`
	SecurityDeposit decimal.Decimal  `json:"security_deposit"`
	Currency        string           `json:"currency"`
	International   bool             `json:"international"` // selects the international processing fee
}

type Charges struct {
	RoomFee         decimal.Decimal `json:"room_fee"`
	Discount        decimal.Decimal `json:"discount"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	CleaningFee     decimal.Decimal `json:"cleaning_fee"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	ProcessingFee   decimal.Decimal `json:"processing_fee"`
	ServiceFee      decimal.Decimal `json:"service_fee"`
	SecurityDeposit decimal.Decimal `json:"security_deposit"`
	Taxes           decimal.Decimal `json:"taxes"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
}

// Breakdown converts the charges into the booking's persisted fee breakdown.
func (c Charges) Breakdown() domain.FeeBreakdown {
	return domain.FeeBreakdown{
		RoomFee:         c.RoomFee,
		Discount:        c.Discount,
		CleaningFee:     c.CleaningFee,
		ServiceFee:      c.ServiceFee,
		SecurityDeposit: c.SecurityDeposit,
		Taxes:           c.Taxes,
	}
}

var ErrInvalidChargeRequest = errors.New("invalid charge request")

// StayDiscount picks the length-of-stay discount. Monthly and weekly are
// mutually exclusive; the longer tier wins when both apply.
func StayDiscount(nights int, weekly, monthly *decimal.Decimal) decimal.Decimal {
	switch {
	case nights >= monthlyNights && monthly != nil:
		return *monthly
	case nights >= weeklyNights && weekly != nil:
		return *weekly
	default:
		return zero
	}
}

// ComputeBookingCharges prices a stay against a config snapshot.
func ComputeBookingCharges(req ChargeRequest, cfg domain.CommissionConfig) (Charges, error) {
	if err := Validate(cfg); err != nil {
		return Charges{}, err
	}
	if req.Nights <= 0 || req.NightlyRate.IsNegative() || req.CleaningFee.IsNegative() || req.SecurityDeposit.IsNegative() {
		return Charges{}, ErrInvalidChargeRequest
	}
	disc := StayDiscount(req.Nights, req.WeeklyDiscount, req.MonthlyDiscount)
	if disc.IsNegative() || disc.GreaterThan(hundred) {
		return Charges{}, ErrInvalidChargeRequest
	}

	gross := req.NightlyRate.Mul(decimal.NewFromInt(int64(req.Nights)))
	roomFee := Round2(gross.Mul(hundred.Sub(disc)).Div(hundred))
	cleaning := Round2(req.CleaningFee)
	deposit := Round2(req.SecurityDeposit)

	// deposit is excluded from the fee base
	base := roomFee.Add(cleaning)
	platform := Round2(FeeAmount(base, cfg.PlatformFee))
	proc := cfg.LocalProcessingFee
	if req.International {
		proc = cfg.InternationalProcessingFee
	}
	processing := Round2(FeeAmount(base, proc))
	service := platform.Add(processing)
	taxes := Round2(percentOf(base, cfg.TaxRate))

	return Charges{
		RoomFee:         roomFee,
		Discount:        Round2(gross).Sub(roomFee),
		DiscountPercent: disc,
		CleaningFee:     cleaning,
		PlatformFee:     platform,
		ProcessingFee:   processing,
		ServiceFee:      service,
		SecurityDeposit: deposit,
		Taxes:           taxes,
		Total:           roomFee.Add(cleaning).Add(service).Add(deposit).Add(taxes),
		Currency:        req.Currency,
	}, nil
}

// FeeAmount evaluates one fee component on base, unrounded:
// min(base × pct, cap) + fixed once the cap's trigger is reached, else base × pct + fixed.
func FeeAmount(base decimal.Decimal, f domain.FeeComponent) decimal.Decimal {
	variable := percentOf(base, f.Percent)
	if f.Cap != nil && base.GreaterThanOrEqual(f.Cap.Trigger) {
		variable = minDec(variable, f.Cap.Amount)
	}
	return variable.Add(f.Fixed)
}
