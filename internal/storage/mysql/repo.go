package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"staybook/internal/domain"
)

const errDupEntry = 1062

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}
func valTier(p *domain.RefundTier) any {
	if p == nil {
		return nil
	}
	return string(*p)
}
func valJSON(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func ptrTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
func ptrStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// mapErr translates driver errors into domain sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	var me *mysqldrv.MySQLError
	if errors.As(err, &me) && me.Number == errDupEntry {
		return fmt.Errorf("%w: %s", domain.ErrDuplicate, me.Message)
	}
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type Repo struct{ db *sql.DB }

var (
	_ domain.LedgerStore     = (*Repo)(nil)
	_ domain.WithdrawalStore = (*Repo)(nil)
	_ domain.ConfigStore     = (*Repo)(nil)
)

func New(db *sql.DB) *Repo { return &Repo{db: db} }

// WithinBookingTx runs fn in a single InnoDB transaction. Rows are locked by
// the Lock* calls fn makes and held until commit or rollback.
func (r *Repo) WithinBookingTx(ctx context.Context, bookingID string, fn func(tx domain.LedgerTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for booking %s: %w", bookingID, err)
	}
	if err := fn(&txRepo{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit booking %s: %w", bookingID, mapErr(err))
	}
	return nil
}

// ---- non-locking reads ----

func (r *Repo) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	return scanBooking(r.db.QueryRowContext(ctx, getBookingSQL, id))
}

func (r *Repo) GetPayment(ctx context.Context, bookingID string) (*domain.Payment, error) {
	return scanPaymentOpt(r.db.QueryRowContext(ctx, getPaymentSQL, bookingID))
}

// GetEscrow loads the escrow with its event history.
func (r *Repo) GetEscrow(ctx context.Context, bookingID string) (*domain.Escrow, error) {
	e, err := scanEscrowOpt(r.db.QueryRowContext(ctx, getEscrowSQL, bookingID))
	if err != nil || e == nil {
		return e, err
	}
	rows, err := r.db.QueryContext(ctx, listEscrowEventsSQL, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ev   domain.EscrowEvent
			kind string
		)
		if err := rows.Scan(&ev.ID, &ev.BookingID, &kind, &ev.Amount, &ev.Actor, &ev.At); err != nil {
			return nil, err
		}
		ev.Kind = domain.EscrowEventKind(kind)
		ev.At = ev.At.UTC()
		e.Events = append(e.Events, ev)
	}
	return e, rows.Err()
}

func (r *Repo) MonthlyRealtorVolume(ctx context.Context, realtorID string, monthStart time.Time, excludeBookingID string) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	if err := r.db.QueryRowContext(ctx, monthlyVolumeSQL, realtorID, monthStart.UTC(), excludeBookingID).Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (r *Repo) ListExpiryCandidates(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	return r.listIDs(ctx, listExpiryCandidatesSQL, createdBefore.UTC(), limit)
}

func (r *Repo) ListReleasableEscrows(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return r.listIDs(ctx, listReleasableEscrowsSQL, now.UTC(), limit)
}

func (r *Repo) listIDs(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repo) ListReminderCandidates(ctx context.Context, from, to time.Time) ([]domain.ReminderCandidate, error) {
	from, to = from.UTC(), to.UTC()
	rows, err := r.db.QueryContext(ctx, listReminderCandidatesSQL, from, to, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ReminderCandidate
	for rows.Next() {
		var (
			c     domain.ReminderCandidate
			event string
		)
		if err := rows.Scan(&c.BookingID, &c.GuestEmail, &event, &c.At); err != nil {
			return nil, err
		}
		c.Event = domain.ReminderEvent(event)
		c.At = c.At.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repo) InsertReminderDedupe(ctx context.Context, bookingID string, event domain.ReminderEvent, at time.Time) error {
	_, err := r.db.ExecContext(ctx, insertReminderDedupeSQL, bookingID, string(event), at.UTC())
	return mapErr(err)
}

func (r *Repo) AppendAudit(ctx context.Context, a domain.AuditLog) error {
	return appendAudit(ctx, r.db, a)
}

// ---- transaction view ----

type txRepo struct{ tx *sql.Tx }

func (t *txRepo) LockBooking(ctx context.Context, id string) (domain.Booking, error) {
	return scanBooking(t.tx.QueryRowContext(ctx, lockBookingSQL, id))
}

func (t *txRepo) LockPayment(ctx context.Context, bookingID string) (*domain.Payment, error) {
	return scanPaymentOpt(t.tx.QueryRowContext(ctx, lockPaymentSQL, bookingID))
}

func (t *txRepo) LockEscrow(ctx context.Context, bookingID string) (*domain.Escrow, error) {
	return scanEscrowOpt(t.tx.QueryRowContext(ctx, lockEscrowSQL, bookingID))
}

func (t *txRepo) InsertBooking(ctx context.Context, b domain.Booking) error {
	_, err := t.tx.ExecContext(ctx, insertBookingSQL,
		b.ID, b.PropertyID, b.RealtorID, b.GuestID, b.GuestEmail,
		b.CheckInAt.UTC(), b.CheckOutAt.UTC(), string(b.Status), b.TotalPrice, b.Currency,
		b.Fees.RoomFee, b.Fees.Discount, b.Fees.CleaningFee, b.Fees.ServiceFee, b.Fees.SecurityDeposit, b.Fees.Taxes,
		valTier(b.RefundTier), b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	)
	return mapErr(err)
}

func (t *txRepo) UpdateBooking(ctx context.Context, b domain.Booking) error {
	_, err := t.tx.ExecContext(ctx, updateBookingSQL, string(b.Status), valTier(b.RefundTier), b.UpdatedAt.UTC(), b.ID)
	return mapErr(err)
}

func (t *txRepo) InsertPayment(ctx context.Context, p domain.Payment) error {
	meta, err := valJSON(p.Metadata)
	if err != nil {
		return fmt.Errorf("payment metadata: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, insertPaymentSQL,
		p.BookingID, p.Reference, string(p.Status), p.Amount, p.Currency,
		p.RoomFeeAmount, p.SecurityDepositAmount, p.RefundAmount,
		p.PlatformCommission, p.RealtorEarnings,
		valTime(p.PaidAt), valTime(p.RefundedAt), meta, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	return mapErr(err)
}

func (t *txRepo) UpdatePayment(ctx context.Context, p domain.Payment) error {
	meta, err := valJSON(p.Metadata)
	if err != nil {
		return fmt.Errorf("payment metadata: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, updatePaymentSQL,
		string(p.Status), p.RefundAmount, p.PlatformCommission, p.RealtorEarnings,
		valTime(p.PaidAt), valTime(p.RefundedAt), meta, p.UpdatedAt.UTC(),
		p.BookingID,
	)
	return mapErr(err)
}

func (t *txRepo) SaveEscrow(ctx context.Context, e domain.Escrow) error {
	_, err := t.tx.ExecContext(ctx, upsertEscrowSQL,
		e.BookingID, e.Amount, e.ReleasedAmount, string(e.Status), e.CommissionRate, e.CreatedAt.UTC(), e.ReleaseEligibleAt.UTC())
	return mapErr(err)
}

func (t *txRepo) AppendEscrowEvent(ctx context.Context, ev domain.EscrowEvent) error {
	_, err := t.tx.ExecContext(ctx, insertEscrowEventSQL,
		ev.ID, ev.BookingID, string(ev.Kind), ev.Amount, ev.Actor, ev.At.UTC())
	return mapErr(err)
}

func (t *txRepo) DeleteBooking(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, deleteBookingSQL, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *txRepo) AppendAudit(ctx context.Context, a domain.AuditLog) error {
	return appendAudit(ctx, t.tx, a)
}

// ---- shared ----

func appendAudit(ctx context.Context, q dbtx, a domain.AuditLog) error {
	details, err := valJSON(a.Details)
	if err != nil {
		return fmt.Errorf("audit details: %w", err)
	}
	_, err = q.ExecContext(ctx, insertAuditSQL,
		a.ID, string(a.Action), a.EntityType, a.EntityID, a.Actor, details, a.CreatedAt.UTC())
	return mapErr(err)
}

func scanBooking(row scanner) (domain.Booking, error) {
	var (
		b          domain.Booking
		status     string
		refundTier sql.NullString
	)
	if err := row.Scan(
		&b.ID, &b.PropertyID, &b.RealtorID, &b.GuestID, &b.GuestEmail,
		&b.CheckInAt, &b.CheckOutAt, &status, &b.TotalPrice, &b.Currency,
		&b.Fees.RoomFee, &b.Fees.Discount, &b.Fees.CleaningFee, &b.Fees.ServiceFee, &b.Fees.SecurityDeposit, &b.Fees.Taxes,
		&refundTier, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return domain.Booking{}, mapErr(err)
	}
	b.Status = domain.BookingStatus(status)
	if refundTier.Valid {
		tier := domain.RefundTier(refundTier.String)
		b.RefundTier = &tier
	}
	b.CheckInAt, b.CheckOutAt = b.CheckInAt.UTC(), b.CheckOutAt.UTC()
	b.CreatedAt, b.UpdatedAt = b.CreatedAt.UTC(), b.UpdatedAt.UTC()
	return b, nil
}

// scanPaymentOpt returns nil, nil when the row does not exist.
func scanPaymentOpt(row scanner) (*domain.Payment, error) {
	var (
		p                  domain.Payment
		status             string
		paidAt, refundedAt sql.NullTime
		meta               []byte
	)
	err := row.Scan(
		&p.BookingID, &p.Reference, &status, &p.Amount, &p.Currency,
		&p.RoomFeeAmount, &p.SecurityDepositAmount, &p.RefundAmount,
		&p.PlatformCommission, &p.RealtorEarnings,
		&paidAt, &refundedAt, &meta, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Status = domain.PaymentStatus(status)
	p.PaidAt, p.RefundedAt = ptrTime(paidAt), ptrTime(refundedAt)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("payment %s metadata: %w", p.BookingID, err)
		}
	}
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return &p, nil
}

func scanEscrowOpt(row scanner) (*domain.Escrow, error) {
	var (
		e      domain.Escrow
		status string
	)
	err := row.Scan(&e.BookingID, &e.Amount, &e.ReleasedAmount, &status, &e.CommissionRate, &e.CreatedAt, &e.ReleaseEligibleAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Status = domain.EscrowStatus(status)
	e.CreatedAt, e.ReleaseEligibleAt = e.CreatedAt.UTC(), e.ReleaseEligibleAt.UTC()
	return &e, nil
}
