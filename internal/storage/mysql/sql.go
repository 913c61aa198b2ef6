package mysql

// -----------------------------------------------------------------------------
// BOOKINGS
// -----------------------------------------------------------------------------

const bookingCols = `
  b.id, b.property_id, b.realtor_id, b.guest_id, b.guest_email,
  b.check_in_at, b.check_out_at, b.status, b.total_price, b.currency,
  b.room_fee, b.discount, b.cleaning_fee, b.service_fee, b.security_deposit, b.taxes,
  b.refund_tier, b.created_at, b.updated_at`

const getBookingSQL = `SELECT` + bookingCols + `
FROM bookings b
WHERE b.id = ?`

const lockBookingSQL = getBookingSQL + ` FOR UPDATE`

const insertBookingSQL = `
INSERT INTO bookings
  (id, property_id, realtor_id, guest_id, guest_email,
   check_in_at, check_out_at, status, total_price, currency,
   room_fee, discount, cleaning_fee, service_fee, security_deposit, taxes,
   refund_tier, created_at, updated_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Only the mutable columns; prices are fixed at checkout.
const updateBookingSQL = `
UPDATE bookings SET
  status      = ?,
  refund_tier = ?,
  updated_at  = ?
WHERE id = ?
`

// payments, escrows, escrow_events and reminder_dedupe cascade on delete.
const deleteBookingSQL = `DELETE FROM bookings WHERE id = ?`

// -----------------------------------------------------------------------------
// PAYMENTS
// -----------------------------------------------------------------------------

const paymentCols = `
  booking_id, reference, status, amount, currency,
  room_fee_amount, security_deposit_amount, refund_amount,
  platform_commission, realtor_earnings,
  paid_at, refunded_at, metadata, created_at, updated_at`

const getPaymentSQL = `SELECT` + paymentCols + `
FROM payments
WHERE booking_id = ?`

const lockPaymentSQL = getPaymentSQL + ` FOR UPDATE`

const insertPaymentSQL = `
INSERT INTO payments
  (booking_id, reference, status, amount, currency,
   room_fee_amount, security_deposit_amount, refund_amount,
   platform_commission, realtor_earnings,
   paid_at, refunded_at, metadata, created_at, updated_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const updatePaymentSQL = `
UPDATE payments SET
  status              = ?,
  refund_amount       = ?,
  platform_commission = ?,
  realtor_earnings    = ?,
  paid_at             = ?,
  refunded_at         = ?,
  metadata            = ?,
  updated_at          = ?
WHERE booking_id = ?
`

// -----------------------------------------------------------------------------
// ESCROW
// -----------------------------------------------------------------------------

const getEscrowSQL = `
SELECT booking_id, amount, released_amount, status, commission_rate, created_at, release_eligible_at
FROM escrows
WHERE booking_id = ?`

const lockEscrowSQL = getEscrowSQL + ` FOR UPDATE`

const upsertEscrowSQL = `
INSERT INTO escrows
  (booking_id, amount, released_amount, status, commission_rate, created_at, release_eligible_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  released_amount = VALUES(released_amount),
  status          = VALUES(status),
  commission_rate = COALESCE(commission_rate, VALUES(commission_rate))
`

const listEscrowEventsSQL = `
SELECT id, booking_id, kind, amount, actor, at
FROM escrow_events
WHERE booking_id = ?
ORDER BY at, seq`

const insertEscrowEventSQL = `
INSERT INTO escrow_events (id, booking_id, kind, amount, actor, at)
VALUES (?, ?, ?, ?, ?, ?)
`

// -----------------------------------------------------------------------------
// RECONCILIATION QUERIES
// -----------------------------------------------------------------------------

// Candidates only; the expiry job re-checks the same predicate under lock.
const listExpiryCandidatesSQL = `
SELECT b.id
FROM bookings b
LEFT JOIN payments p ON p.booking_id = b.id
WHERE b.status = 'PENDING'
  AND b.created_at < ?
  AND (p.booking_id IS NULL OR (p.status IN ('INITIATED', 'FAILED') AND p.paid_at IS NULL))
ORDER BY b.created_at, b.id
LIMIT ?`

const listReleasableEscrowsSQL = `
SELECT e.booking_id
FROM escrows e
JOIN bookings b ON b.id = e.booking_id
WHERE e.status IN ('HELD', 'PARTIALLY_RELEASED')
  AND e.release_eligible_at <= ?
  AND b.status = 'ACTIVE'
ORDER BY e.release_eligible_at, e.booking_id
LIMIT ?`

// A booking settled before check-out still gets its check-out reminder.
const listReminderCandidatesSQL = `
SELECT id, guest_email, 'CHECK_IN_EVIDENCE' AS event, check_in_at AS at
FROM bookings
WHERE status = 'ACTIVE' AND check_in_at BETWEEN ? AND ?
UNION ALL
SELECT id, guest_email, 'CHECK_OUT_EVIDENCE' AS event, check_out_at AS at
FROM bookings
WHERE status IN ('ACTIVE', 'COMPLETED') AND check_out_at BETWEEN ? AND ?`

const insertReminderDedupeSQL = `
INSERT INTO reminder_dedupe (booking_id, event_type, sent_at)
VALUES (?, ?, ?)
`

// Room fees of bookings whose payment was captured since the month start,
// leaving out the booking being priced.
const monthlyVolumeSQL = `
SELECT COALESCE(SUM(p.room_fee_amount), 0)
FROM payments p
JOIN bookings b ON b.id = p.booking_id
WHERE b.realtor_id = ?
  AND p.paid_at >= ?
  AND b.id <> ?
  AND p.status IN ('HELD', 'PARTIALLY_RELEASED', 'SETTLED')`

// -----------------------------------------------------------------------------
// WITHDRAWALS
// -----------------------------------------------------------------------------

const withdrawalCols = `
  id, realtor_id, amount, fee, net_amount, currency, status,
  retry_count, last_error, reference, created_at, updated_at, completed_at`

const insertWithdrawalSQL = `
INSERT INTO withdrawals
  (id, realtor_id, amount, fee, net_amount, currency, status,
   retry_count, last_error, reference, created_at, updated_at, completed_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const getWithdrawalSQL = `SELECT` + withdrawalCols + `
FROM withdrawals
WHERE id = ?`

const listFailedWithdrawalsSQL = `SELECT` + withdrawalCols + `
FROM withdrawals
WHERE status = 'FAILED' AND retry_count < ?
ORDER BY updated_at, id
LIMIT ?`

// retry_count is assigned first: MySQL evaluates SET left to right, so it
// still sees the old status.
const claimWithdrawalPrefix = `
UPDATE withdrawals SET
  retry_count = retry_count + IF(status = 'FAILED', 1, 0),
  status      = 'PROCESSING',
  updated_at  = ?
WHERE id = ?
  AND NOT (status = 'FAILED' AND retry_count >= ?)
  AND status IN `

const completeWithdrawalSQL = `
UPDATE withdrawals SET
  status       = 'COMPLETED',
  reference    = ?,
  last_error   = NULL,
  completed_at = ?,
  updated_at   = ?
WHERE id = ? AND status = 'PROCESSING'
`

const failWithdrawalSQL = `
UPDATE withdrawals SET
  status     = 'FAILED',
  last_error = ?,
  updated_at = ?
WHERE id = ? AND status = 'PROCESSING'
`

const withdrawalExistsSQL = `SELECT 1 FROM withdrawals WHERE id = ?`

// -----------------------------------------------------------------------------
// AUDIT + CONFIG
// -----------------------------------------------------------------------------

const insertAuditSQL = `
INSERT INTO audit_logs (id, action, entity_type, entity_id, actor, details, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

const activeConfigSQL = `
SELECT version, settings, activated_at, activated_by
FROM commission_configs
WHERE active = 1
ORDER BY version DESC
LIMIT 1`

const deactivateConfigsSQL = `UPDATE commission_configs SET active = 0 WHERE active = 1`

const insertConfigSQL = `
INSERT INTO commission_configs (settings, active, activated_at, activated_by)
VALUES (?, 1, ?, ?)
`
