package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"staybook/internal/domain"
)

// MaxRatePercent bounds every rate in a config.
var MaxRatePercent = decimal.NewFromInt(100)

var one = decimal.NewFromInt(1)

// Validate checks the CommissionConfig invariants. It collects every problem
// instead of stopping at the first, so an admin sees the whole list at once.
func Validate(c domain.CommissionConfig) error {
	var p []string
	add := func(format string, args ...any) { p = append(p, fmt.Sprintf(format, args...)) }

	if len(c.Tiers) == 0 {
		add("no commission tiers")
	}
	for i, t := range c.Tiers {
		if i == 0 && !t.Min.IsZero() {
			add("first tier must start at 0, starts at %s", t.Min)
		}
		if !rateOK(t.Rate) {
			add("tier %d rate %s outside [0,%s]", i, t.Rate, MaxRatePercent)
		}
		if t.Max != nil && t.Max.LessThan(t.Min) {
			add("tier %d max %s below min %s", i, t.Max, t.Min)
		}
		last := i == len(c.Tiers)-1
		if last {
			if t.Max != nil {
				add("last tier must be open-ended, ends at %s", t.Max)
			}
			continue
		}
		if t.Max == nil {
			add("tier %d is open-ended but is not the last tier", i)
			continue
		}
		next := c.Tiers[i+1]
		if !next.Min.Equal(t.Max.Add(one)) {
			add("tier %d min %s is not contiguous with tier %d max %s", i+1, next.Min, i, t.Max)
		}
	}

	for i, d := range c.VolumeDiscounts {
		if d.Volume.IsNegative() {
			add("volume discount %d threshold %s is negative", i, d.Volume)
		}
		if !rateOK(d.Reduction) {
			add("volume discount %d reduction %s outside [0,%s]", i, d.Reduction, MaxRatePercent)
		}
		if i > 0 && !d.Volume.GreaterThan(c.VolumeDiscounts[i-1].Volume) {
			add("volume discount thresholds must be strictly increasing at %d", i)
		}
	}
	if !rateOK(c.DiscountCap) {
		add("discount cap %s outside [0,%s]", c.DiscountCap, MaxRatePercent)
	}

	for _, fc := range []struct {
		name string
		f    domain.FeeComponent
	}{
		{"platform fee", c.PlatformFee},
		{"local processing fee", c.LocalProcessingFee},
		{"international processing fee", c.InternationalProcessingFee},
	} {
		name, f := fc.name, fc.f
		if !rateOK(f.Percent) {
			add("%s percent %s outside [0,%s]", name, f.Percent, MaxRatePercent)
		}
		if f.Fixed.IsNegative() {
			add("%s fixed amount %s is negative", name, f.Fixed)
		}
		if f.Cap != nil && (f.Cap.Amount.IsNegative() || f.Cap.Trigger.IsNegative()) {
			add("%s cap must not be negative", name)
		}
	}

	if !rateOK(c.Withdrawal.Percent) {
		add("withdrawal percent %s outside [0,%s]", c.Withdrawal.Percent, MaxRatePercent)
	}
	if c.Withdrawal.Cap.IsNegative() || c.Withdrawal.Minimum.IsNegative() {
		add("withdrawal cap and minimum must not be negative")
	}
	if !rateOK(c.TaxRate) {
		add("tax rate %s outside [0,%s]", c.TaxRate, MaxRatePercent)
	}
	if c.EscrowReleaseOffsetHours < 0 {
		add("escrow release offset %dh is negative", c.EscrowReleaseOffsetHours)
	}

	if len(p) > 0 {
		return &domain.ConfigurationError{Problems: p}
	}
	return nil
}

func rateOK(r decimal.Decimal) bool {
	return !r.IsNegative() && r.LessThanOrEqual(MaxRatePercent)
}
