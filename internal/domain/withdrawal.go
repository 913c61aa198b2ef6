package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "PENDING"
	WithdrawalFailed     WithdrawalStatus = "FAILED"
	WithdrawalProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalCompleted  WithdrawalStatus = "COMPLETED"
)

// Withdrawal is a realtor payout request.
type Withdrawal struct {
	ID          string           `json:"id"`
	RealtorID   string           `json:"realtor_id"`
	Amount      decimal.Decimal  `json:"amount"`
	Fee         decimal.Decimal  `json:"fee"`
	NetAmount   decimal.Decimal  `json:"net_amount"`
	Currency    string           `json:"currency"`
	Status      WithdrawalStatus `json:"status"`
	RetryCount  int              `json:"retry_count"`
	LastError   *string          `json:"last_error,omitempty"`
	Reference   *string          `json:"reference,omitempty"` // payout gateway transfer reference
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}
