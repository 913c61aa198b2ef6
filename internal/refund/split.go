// Package refund computes cancellation refund splits. It is pure: the ledger
// applies the result.
package refund

import (
	"time"

	"github.com/shopspring/decimal"

	"staybook/internal/domain"
)

// Policy is the share of the escrowed room fee each party receives, in percent.
type Policy struct {
	Tier     domain.RefundTier
	Guest    decimal.Decimal
	Realtor  decimal.Decimal
	Platform decimal.Decimal
}

var (
	hundred = decimal.NewFromInt(100)

	early  = Policy{domain.RefundTierEarly, decimal.NewFromInt(90), decimal.NewFromInt(7), decimal.NewFromInt(3)}
	medium = Policy{domain.RefundTierMedium, decimal.NewFromInt(70), decimal.NewFromInt(20), decimal.NewFromInt(10)}
	late   = Policy{domain.RefundTierLate, decimal.Zero, decimal.NewFromInt(80), decimal.NewFromInt(20)}
	none   = Policy{domain.RefundTierNone, decimal.Zero, decimal.Zero, decimal.Zero}
)

// Split is the outcome of a cancellation. Cleaning and service fees are
// never part of it.
type Split struct {
	Tier              domain.RefundTier `json:"tier"`
	HoursToCheckIn    float64           `json:"hours_to_check_in"`
	RoomFee           decimal.Decimal   `json:"room_fee"`
	RoomFeeToGuest    decimal.Decimal   `json:"room_fee_to_guest"`
	RoomFeeToRealtor  decimal.Decimal   `json:"room_fee_to_realtor"`
	RoomFeeToPlatform decimal.Decimal   `json:"room_fee_to_platform"`
	DepositToGuest    decimal.Decimal   `json:"deposit_to_guest"`
	CustomerRefund    decimal.Decimal   `json:"customer_refund"`
}

// PolicyFor returns the refund policy for the time left until check-in.
func PolicyFor(untilCheckIn time.Duration) Policy {
	switch {
	case untilCheckIn >= 24*time.Hour:
		return early
	case untilCheckIn >= 12*time.Hour:
		return medium
	case untilCheckIn > 0:
		return late
	default:
		return none
	}
}

// ComputeSplit splits the escrowed room fee by tier and returns the deposit in full.
func ComputeSplit(checkInAt time.Time, roomFee, deposit decimal.Decimal, now time.Time) Split {
	until := checkInAt.Sub(now)
	p := PolicyFor(until)

	roomFee = roomFee.Round(2)
	deposit = deposit.Round(2)

	guest := share(roomFee, p.Guest)
	realtor := share(roomFee, p.Realtor)
	platform := share(roomFee, p.Platform)
	if p.Guest.Add(p.Realtor).Add(p.Platform).Equal(hundred) {
		// platform absorbs the rounding remainder
		platform = roomFee.Sub(guest).Sub(realtor)
	}

	return Split{
		Tier:              p.Tier,
		HoursToCheckIn:    until.Hours(),
		RoomFee:           roomFee,
		RoomFeeToGuest:    guest,
		RoomFeeToRealtor:  realtor,
		RoomFeeToPlatform: platform,
		DepositToGuest:    deposit,
		CustomerRefund:    guest.Add(deposit),
	}
}

func share(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred).Round(2)
}
