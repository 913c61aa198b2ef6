package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"staybook/internal/domain"
)

func (r *Repo) InsertWithdrawal(ctx context.Context, w domain.Withdrawal, a domain.AuditLog) error {
	return r.withAudit(ctx, a, insertWithdrawalSQL,
		w.ID, w.RealtorID, w.Amount, w.Fee, w.NetAmount, w.Currency, string(w.Status),
		w.RetryCount, valStr(w.LastError), valStr(w.Reference),
		w.CreatedAt.UTC(), w.UpdatedAt.UTC(), valTime(w.CompletedAt),
	)
}

func (r *Repo) GetWithdrawal(ctx context.Context, id string) (domain.Withdrawal, error) {
	return scanWithdrawal(r.db.QueryRowContext(ctx, getWithdrawalSQL, id))
}

func (r *Repo) ListFailedWithdrawals(ctx context.Context, maxRetries, limit int) ([]domain.Withdrawal, error) {
	rows, err := r.db.QueryContext(ctx, listFailedWithdrawalsSQL, maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ClaimWithdrawal is a single status-guarded UPDATE; zero affected rows means
// the withdrawal moved on or ran out of retries.
func (r *Repo) ClaimWithdrawal(ctx context.Context, id string, from []domain.WithdrawalStatus, maxRetries int) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []any{time.Now().UTC(), id, maxRetries}
	marks := make([]string, 0, len(from))
	for _, st := range from {
		marks = append(marks, "?")
		args = append(args, string(st))
	}
	q := claimWithdrawalPrefix + "(" + strings.Join(marks, ",") + ")"

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var one int
	if err := r.db.QueryRowContext(ctx, withdrawalExistsSQL, id).Scan(&one); err != nil {
		return false, mapErr(err)
	}
	return false, nil
}

func (r *Repo) CompleteWithdrawal(ctx context.Context, id, reference string, at time.Time, a domain.AuditLog) error {
	return r.withAudit(ctx, a, completeWithdrawalSQL, reference, at.UTC(), at.UTC(), id)
}

func (r *Repo) FailWithdrawal(ctx context.Context, id, lastErr string, a domain.AuditLog) error {
	return r.withAudit(ctx, a, failWithdrawalSQL, lastErr, time.Now().UTC(), id)
}

// withAudit runs one withdrawal write and its audit entry in one transaction.
func (r *Repo) withAudit(ctx context.Context, a domain.AuditLog, query string, args ...any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for withdrawal %s: %w", a.EntityID, err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		_ = tx.Rollback()
		return mapErr(err)
	}
	if err := appendAudit(ctx, tx, a); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit withdrawal %s: %w", a.EntityID, mapErr(err))
	}
	return nil
}

func scanWithdrawal(row scanner) (domain.Withdrawal, error) {
	var (
		w                  domain.Withdrawal
		status             string
		lastErr, reference sql.NullString
		completedAt        sql.NullTime
	)
	if err := row.Scan(
		&w.ID, &w.RealtorID, &w.Amount, &w.Fee, &w.NetAmount, &w.Currency, &status,
		&w.RetryCount, &lastErr, &reference, &w.CreatedAt, &w.UpdatedAt, &completedAt,
	); err != nil {
		return domain.Withdrawal{}, mapErr(err)
	}
	w.Status = domain.WithdrawalStatus(status)
	w.LastError, w.Reference = ptrStr(lastErr), ptrStr(reference)
	w.CompletedAt = ptrTime(completedAt)
	w.CreatedAt, w.UpdatedAt = w.CreatedAt.UTC(), w.UpdatedAt.UTC()
	return w, nil
}
