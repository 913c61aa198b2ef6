package pricing

import (
	"github.com/shopspring/decimal"

	"staybook/internal/domain"
)

type WithdrawalFee struct {
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	NetAmount decimal.Decimal `json:"net_amount"`
}

// ComputeWithdrawalFee prices a realtor payout: min(amount × pct, cap), cap zero meaning uncapped.
func ComputeWithdrawalFee(amount decimal.Decimal, cfg domain.CommissionConfig) (WithdrawalFee, error) {
	if err := Validate(cfg); err != nil {
		return WithdrawalFee{}, err
	}
	amount = Round2(amount)
	if !amount.IsPositive() || amount.LessThan(cfg.Withdrawal.Minimum) {
		return WithdrawalFee{}, domain.ErrBelowMinimumWithdrawal
	}
	fee := percentOf(amount, cfg.Withdrawal.Percent)
	if cfg.Withdrawal.Cap.IsPositive() {
		fee = minDec(fee, cfg.Withdrawal.Cap)
	}
	fee = Round2(fee)
	return WithdrawalFee{Amount: amount, Fee: fee, NetAmount: amount.Sub(fee)}, nil
}
