package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"staybook/internal/adapters/observability"
	"staybook/internal/domain"
)

const (
	JobExpireUnpaid      = "expire_unpaid_bookings"
	JobRetryWithdrawals  = "retry_failed_withdrawals"
	JobEvidenceReminders = "send_evidence_reminders"
	JobReleaseEscrows    = "release_eligible_escrows"
	JobRefreshConfig     = "refresh_commission_config"
)

type JobsConfig struct {
	PaymentTimeout    time.Duration
	ReminderLookahead time.Duration
	ReminderTolerance time.Duration
	Workers           int
	BatchSize         int
}

func (c JobsConfig) withDefaults() JobsConfig {
	if c.PaymentTimeout <= 0 {
		c.PaymentTimeout = 60 * time.Minute
	}
	if c.ReminderLookahead <= 0 {
		c.ReminderLookahead = 2 * time.Hour
	}
	if c.ReminderTolerance <= 0 {
		c.ReminderTolerance = 5 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	return c
}

// Jobs holds the reconciliation job bodies. Each one is safe to run while a
// previous tick of the same job is still going.
type Jobs struct {
	store    domain.LedgerStore
	ledger   *Ledger
	payouts  *Payouts
	notifier domain.Notifier
	config   *ConfigService
	cfg      JobsConfig
	now      func() time.Time
}

func NewJobs(s domain.LedgerStore, l *Ledger, p *Payouts, n domain.Notifier, c *ConfigService, cfg JobsConfig) *Jobs {
	return &Jobs{store: s, ledger: l, payouts: p, notifier: n, config: c, cfg: cfg.withDefaults(), now: time.Now}
}

func (j *Jobs) WithClock(now func() time.Time) *Jobs {
	j.now = now
	return j
}

// ---- unpaid booking expiry ----

type ExpiryReport struct {
	Candidates int `json:"candidates"`
	Expired    int `json:"expired"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// ExpireUnpaidBookings purges PENDING bookings whose payment never completed
// within the timeout. Each candidate is re-read and re-checked under lock, so
// a payment that lands between the query and the transaction wins.
func (j *Jobs) ExpireUnpaidBookings(ctx context.Context) (ExpiryReport, error) {
	cutoff := j.now().UTC().Add(-j.cfg.PaymentTimeout)
	ids, err := j.store.ListExpiryCandidates(ctx, cutoff, j.cfg.BatchSize)
	if err != nil {
		return ExpiryReport{}, err
	}
	rep := ExpiryReport{Candidates: len(ids)}
	rep.Expired, rep.Skipped, rep.Failed = fanOut(ctx, j.cfg.Workers, JobExpireUnpaid, ids,
		func(id string) string { return id },
		func(ctx context.Context, id string) (itemOutcome, error) { return j.expireOne(ctx, id, cutoff) })

	observability.ObserveJobItems(JobExpireUnpaid, "expired", rep.Expired)
	observability.ObserveJobItems(JobExpireUnpaid, "skipped", rep.Skipped)
	observability.ObserveJobItems(JobExpireUnpaid, "failed", rep.Failed)
	return rep, nil
}

func (j *Jobs) expireOne(ctx context.Context, id string, cutoff time.Time) (itemOutcome, error) {
	out := itemSkipped
	err := j.store.WithinBookingTx(ctx, id, func(tx domain.LedgerTx) error {
		b, err := tx.LockBooking(ctx, id)
		if isNotFound(err) {
			return nil // purged by an overlapping tick
		}
		if err != nil {
			return err
		}
		pay, err := tx.LockPayment(ctx, id)
		if err != nil {
			return err
		}
		if !unpaidPastDeadline(b, pay, cutoff) {
			return nil
		}

		details := map[string]any{
			"reason":     domain.ReasonPaymentTimeout,
			"created_at": b.CreatedAt,
			"total":      b.TotalPrice.String(),
			"guest_id":   b.GuestID,
		}
		if pay != nil {
			details["payment_status"] = string(pay.Status)
			details["reference"] = pay.Reference
		}
		if err := tx.AppendAudit(ctx, audit(domain.AuditBookingExpired, "booking", id, domain.SystemActor, j.now().UTC(), details)); err != nil {
			return err
		}
		if err := tx.DeleteBooking(ctx, id); err != nil {
			return err
		}
		out = itemDone
		return nil
	})
	if err != nil {
		return itemFailed, err
	}
	if out == itemDone {
		log.Info().Str("booking_id", id).Str("reason", domain.ReasonPaymentTimeout).Msg("unpaid booking expired")
	}
	return out, nil
}

// unpaidPastDeadline is the expiry predicate, evaluated on locked rows.
func unpaidPastDeadline(b domain.Booking, p *domain.Payment, cutoff time.Time) bool {
	if b.Status != domain.BookingPending || !b.CreatedAt.Before(cutoff) {
		return false
	}
	if p == nil {
		return true
	}
	return (p.Status == domain.PaymentInitiated || p.Status == domain.PaymentFailed) && p.PaidAt == nil
}

// ---- withdrawal retry ----

func (j *Jobs) RetryFailedWithdrawals(ctx context.Context) (WithdrawalRetryReport, error) {
	return j.payouts.RetryFailed(ctx, j.cfg.BatchSize)
}

// ---- evidence reminders ----

type ReminderReport struct {
	Candidates int `json:"candidates"`
	Sent       int `json:"sent"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

var reminderTemplates = map[domain.ReminderEvent]string{
	domain.ReminderCheckIn:  "evidence_reminder_check_in",
	domain.ReminderCheckOut: "evidence_reminder_check_out",
}

// SendEvidenceReminders sends at most one reminder per booking and event. The
// dedupe row is written before the send; a unique violation means another
// tick already owns it.
func (j *Jobs) SendEvidenceReminders(ctx context.Context) (ReminderReport, error) {
	now := j.now().UTC()
	from := now.Add(j.cfg.ReminderLookahead - j.cfg.ReminderTolerance)
	to := now.Add(j.cfg.ReminderLookahead + j.cfg.ReminderTolerance)

	cands, err := j.store.ListReminderCandidates(ctx, from, to)
	if err != nil {
		return ReminderReport{}, err
	}
	rep := ReminderReport{Candidates: len(cands)}
	rep.Sent, rep.Duplicates, rep.Failed = fanOut(ctx, j.cfg.Workers, JobEvidenceReminders, cands,
		func(c domain.ReminderCandidate) string { return c.BookingID + "/" + string(c.Event) },
		func(ctx context.Context, c domain.ReminderCandidate) (itemOutcome, error) {
			return j.remind(ctx, c, now)
		})

	observability.ObserveJobItems(JobEvidenceReminders, "sent", rep.Sent)
	observability.ObserveJobItems(JobEvidenceReminders, "duplicate", rep.Duplicates)
	observability.ObserveJobItems(JobEvidenceReminders, "failed", rep.Failed)
	return rep, nil
}

func (j *Jobs) remind(ctx context.Context, c domain.ReminderCandidate, now time.Time) (itemOutcome, error) {
	err := j.store.InsertReminderDedupe(ctx, c.BookingID, c.Event, now)
	if errors.Is(err, domain.ErrDuplicate) {
		return itemSkipped, nil
	}
	if err != nil {
		return itemFailed, err
	}
	// at-most-once: the dedupe row stays even if the send below fails
	if err := j.notifier.Send(ctx, c.GuestEmail, reminderTemplates[c.Event], map[string]any{
		"booking_id": c.BookingID,
		"event":      string(c.Event),
		"at":         c.At,
	}); err != nil {
		return itemFailed, err
	}
	return itemDone, nil
}

// ---- escrow auto-release ----

type ReleaseReport struct {
	Candidates int `json:"candidates"`
	Released   int `json:"released"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// ReleaseEligibleEscrows releases the remainder of every escrow past its
// release time. Already settled escrows come back as no-ops.
func (j *Jobs) ReleaseEligibleEscrows(ctx context.Context) (ReleaseReport, error) {
	ids, err := j.store.ListReleasableEscrows(ctx, j.now().UTC(), j.cfg.BatchSize)
	if err != nil {
		return ReleaseReport{}, err
	}
	rep := ReleaseReport{Candidates: len(ids)}
	rep.Released, rep.Skipped, rep.Failed = fanOut(ctx, j.cfg.Workers, JobReleaseEscrows, ids,
		func(id string) string { return id },
		func(ctx context.Context, id string) (itemOutcome, error) {
			res, err := j.ledger.ReleaseEscrow(ctx, ReleaseRequest{BookingID: id, Actor: domain.SystemActor})
			switch {
			case domain.IsInvalidState(err), isNotFound(err):
				return itemSkipped, nil
			case err != nil:
				return itemFailed, err
			case res.NoOp:
				return itemSkipped, nil
			}
			return itemDone, nil
		})

	observability.ObserveJobItems(JobReleaseEscrows, "released", rep.Released)
	observability.ObserveJobItems(JobReleaseEscrows, "skipped", rep.Skipped)
	observability.ObserveJobItems(JobReleaseEscrows, "failed", rep.Failed)
	return rep, nil
}

// ---- config refresh ----

func (j *Jobs) RefreshCommissionConfig(ctx context.Context) error {
	return j.config.Refresh(ctx)
}

// ---- fan-out ----

type itemOutcome int

const (
	itemDone itemOutcome = iota
	itemSkipped
	itemFailed
)

// fanOut runs fn over items with at most workers in flight. A failing item is
// logged as a TransientJobError and never stops the batch.
func fanOut[T any](ctx context.Context, workers int, job string, items []T, key func(T) string,
	fn func(context.Context, T) (itemOutcome, error)) (done, skipped, failed int) {

	sem := semaphore.NewWeighted(int64(workers))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	count := func(o itemOutcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case itemDone:
			done++
		case itemSkipped:
			skipped++
		default:
			failed++
		}
	}

	for i, it := range items {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Warn().Err(err).Str("job", job).Int("unstarted", len(items)-i).Msg("batch interrupted")
			break
		}
		wg.Add(1)
		go func(it T) {
			defer wg.Done()
			defer sem.Release(1)

			o, err := fn(ctx, it)
			if err != nil {
				terr := &domain.TransientJobError{Job: job, ItemID: key(it), Err: err}
				log.Warn().Err(terr).Str("job", job).Str("item", terr.ItemID).Msg("job item failed")
				o = itemFailed
			}
			count(o)
		}(it)
	}
	wg.Wait()
	return done, skipped, failed
}
