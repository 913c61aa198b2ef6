package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerStore is the persistence handle of the settlement ledger.
// Mutations happen only through WithinBookingTx; the remaining methods are
// non-locking reads used to find work or to fail fast before a transaction.
type LedgerStore interface {
	// WithinBookingTx runs fn in one atomic transaction scoped to a single booking.
	// If fn returns an error the transaction is rolled back.
	WithinBookingTx(ctx context.Context, bookingID string, fn func(tx LedgerTx) error) error

	GetBooking(ctx context.Context, id string) (Booking, error)
	GetPayment(ctx context.Context, bookingID string) (*Payment, error)
	GetEscrow(ctx context.Context, bookingID string) (*Escrow, error)

	// MonthlyRealtorVolume sums the room fees of the realtor's bookings paid
	// since monthStart, leaving out excludeBookingID.
	MonthlyRealtorVolume(ctx context.Context, realtorID string, monthStart time.Time, excludeBookingID string) (decimal.Decimal, error)

	ListExpiryCandidates(ctx context.Context, createdBefore time.Time, limit int) ([]string, error)
	ListReleasableEscrows(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListReminderCandidates(ctx context.Context, from, to time.Time) ([]ReminderCandidate, error)

	// InsertReminderDedupe returns ErrDuplicate when the (booking, event) row already exists.
	InsertReminderDedupe(ctx context.Context, bookingID string, event ReminderEvent, at time.Time) error
}

// LedgerTx is the view of the store inside a booking transaction.
// Lock* methods re-read the row and hold its lock until commit or rollback.
type LedgerTx interface {
	LockBooking(ctx context.Context, id string) (Booking, error)
	LockPayment(ctx context.Context, bookingID string) (*Payment, error) // nil, nil when absent
	LockEscrow(ctx context.Context, bookingID string) (*Escrow, error)   // nil, nil when absent

	InsertBooking(ctx context.Context, b Booking) error
	UpdateBooking(ctx context.Context, b Booking) error
	InsertPayment(ctx context.Context, p Payment) error
	UpdatePayment(ctx context.Context, p Payment) error
	SaveEscrow(ctx context.Context, e Escrow) error
	AppendEscrowEvent(ctx context.Context, ev EscrowEvent) error

	// DeleteBooking removes the booking together with its payment, escrow,
	// escrow events and reminder rows.
	DeleteBooking(ctx context.Context, id string) error

	AppendAudit(ctx context.Context, a AuditLog) error
}

// WithdrawalStore writes every withdrawal transition together with its audit
// entry; a failed audit write rolls the transition back.
type WithdrawalStore interface {
	InsertWithdrawal(ctx context.Context, w Withdrawal, a AuditLog) error
	GetWithdrawal(ctx context.Context, id string) (Withdrawal, error)
	ListFailedWithdrawals(ctx context.Context, maxRetries, limit int) ([]Withdrawal, error)
	// ClaimWithdrawal moves a withdrawal from one of the given statuses to PROCESSING,
	// incrementing RetryCount when it was FAILED. It returns false when another worker got there first.
	ClaimWithdrawal(ctx context.Context, id string, from []WithdrawalStatus, maxRetries int) (bool, error)
	CompleteWithdrawal(ctx context.Context, id, reference string, at time.Time, a AuditLog) error
	FailWithdrawal(ctx context.Context, id, lastErr string, a AuditLog) error
	AppendAudit(ctx context.Context, a AuditLog) error
}

type ConfigStore interface {
	ActiveCommissionConfig(ctx context.Context) (CommissionConfig, error)
	// SaveCommissionConfig stores cfg as a new version, marks it active and returns the version.
	SaveCommissionConfig(ctx context.Context, cfg CommissionConfig) (int64, error)
	AppendAudit(ctx context.Context, a AuditLog) error
}

type ReminderEvent string

const (
	ReminderCheckIn  ReminderEvent = "CHECK_IN_EVIDENCE"
	ReminderCheckOut ReminderEvent = "CHECK_OUT_EVIDENCE"
)

type ReminderCandidate struct {
	BookingID  string
	GuestEmail string
	Event      ReminderEvent
	At         time.Time // check-in or check-out time the reminder refers to
}

// ---- external collaborators ----

type ChargeStatus string

const (
	ChargeSuccess ChargeStatus = "success"
	ChargePending ChargeStatus = "pending"
	ChargeFailed  ChargeStatus = "failed"
)

type ChargeInit struct {
	Reference        string
	AuthorizationURL string
}

type ChargeVerification struct {
	Reference string
	Status    ChargeStatus
	Amount    decimal.Decimal
	Currency  string
	PaidAt    *time.Time
}

type GatewayRefund struct {
	ID               string          `json:"id"`
	Status           string          `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	GatewayReference string          `json:"gateway_reference"`
}

type PaymentGateway interface {
	InitiateCharge(ctx context.Context, amount decimal.Decimal, currency, reference, email string) (ChargeInit, error)
	Verify(ctx context.Context, reference string) (ChargeVerification, error)
	Refund(ctx context.Context, reference string, amount decimal.Decimal) (GatewayRefund, error)
}

type PayoutGateway interface {
	// Payout transfers w.NetAmount to the realtor; the withdrawal ID is the idempotency key.
	Payout(ctx context.Context, w Withdrawal) (reference string, err error)
}

// Notifier is a best-effort outbound message sink.
type Notifier interface {
	Send(ctx context.Context, recipient, template string, data map[string]any) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}
