package pricing

import (
	"github.com/shopspring/decimal"

	"staybook/internal/domain"
)

type Commission struct {
	BaseRate          decimal.Decimal `json:"base_rate"`
	Reduction         decimal.Decimal `json:"reduction"`
	Rate              decimal.Decimal `json:"rate"` // effective, percent
	CommissionAmount  decimal.Decimal `json:"commission_amount"`
	RealtorRoomPayout decimal.Decimal `json:"realtor_room_payout"`
}

// ComputePlatformCommission applies the room-fee tier and the realtor's volume
// discount. An invalid config fails closed.
func ComputePlatformCommission(roomFee, monthlyVolume decimal.Decimal, cfg domain.CommissionConfig) (Commission, error) {
	if err := Validate(cfg); err != nil {
		return Commission{}, err
	}
	if roomFee.IsNegative() {
		return Commission{}, ErrInvalidChargeRequest
	}

	base := TierRate(roomFee, cfg.Tiers)
	reduction := VolumeReduction(monthlyVolume, cfg.VolumeDiscounts)
	rate := maxDec(base.Sub(minDec(reduction, cfg.DiscountCap)), zero)

	c := CommissionAtRate(roomFee, rate)
	c.BaseRate, c.Reduction = base, reduction
	return c, nil
}

// CommissionAtRate prices roomFee at an already decided effective rate.
func CommissionAtRate(roomFee, rate decimal.Decimal) Commission {
	commission := Round2(percentOf(roomFee, rate))
	return Commission{
		BaseRate:          rate,
		Rate:              rate,
		CommissionAmount:  commission,
		RealtorRoomPayout: Round2(roomFee).Sub(commission),
	}
}

// TierRate returns the rate of the tier containing amount. Tiers are assumed
// validated: the last tier with Min <= amount wins, so an amount between one
// tier's Max and the next tier's Min stays in the lower tier.
func TierRate(amount decimal.Decimal, tiers []domain.CommissionTier) decimal.Decimal {
	rate := zero
	for _, t := range tiers {
		if amount.LessThan(t.Min) {
			break
		}
		rate = t.Rate
	}
	return rate
}

// VolumeReduction returns the reduction of the highest threshold <= volume, or 0.
func VolumeReduction(volume decimal.Decimal, discounts []domain.VolumeDiscount) decimal.Decimal {
	red := zero
	for _, d := range discounts {
		if volume.LessThan(d.Volume) {
			break
		}
		red = d.Reduction
	}
	return red
}
