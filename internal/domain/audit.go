package domain

import "time"

type AuditAction string

const (
	AuditBookingCreated      AuditAction = "BOOKING_CREATED"
	AuditPaymentHeld         AuditAction = "PAYMENT_HELD"
	AuditPaymentFailed       AuditAction = "PAYMENT_FAILED"
	AuditBookingCancelled    AuditAction = "BOOKING_CANCELLED"
	AuditRefundProcessed     AuditAction = "REFUND_PROCESSED"
	AuditEscrowReleased      AuditAction = "ESCROW_RELEASED"
	AuditBookingExpired      AuditAction = "BOOKING_EXPIRED"
	AuditWithdrawalCreated   AuditAction = "WITHDRAWAL_CREATED"
	AuditWithdrawalRetried   AuditAction = "WITHDRAWAL_RETRIED"
	AuditWithdrawalCompleted AuditAction = "WITHDRAWAL_COMPLETED"
	AuditWithdrawalFailed    AuditAction = "WITHDRAWAL_FAILED"
	AuditConfigActivated     AuditAction = "COMMISSION_CONFIG_ACTIVATED"
)

// Reasons carried in audit details.
const (
	ReasonPaymentTimeout = "PAYMENT_TIMEOUT"
)

// Actor used for state changes made by the schedulers.
const SystemActor = "system:scheduler"

// AuditLog is write-once.
type AuditLog struct {
	ID         string         `json:"id"`
	Action     AuditAction    `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
