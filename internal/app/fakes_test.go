package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"staybook/internal/domain"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
func pdec(s string) *decimal.Decimal {
	v := dec(s)
	return &v
}

// testConfig: 10% up to 500,000, 8% up to 2,000,000, 6% above; escrow opens 24h after check-in.
func testConfig() domain.CommissionConfig {
	return domain.CommissionConfig{
		Version:  1,
		Currency: "NGN",
		Tiers: []domain.CommissionTier{
			{Min: dec("0"), Max: pdec("500000"), Rate: dec("10")},
			{Min: dec("500001"), Max: pdec("2000000"), Rate: dec("8")},
			{Min: dec("2000001"), Rate: dec("6")},
		},
		VolumeDiscounts:          []domain.VolumeDiscount{{Volume: dec("1000000"), Reduction: dec("1")}},
		DiscountCap:              dec("2"),
		PlatformFee:              domain.FeeComponent{Percent: dec("5")},
		LocalProcessingFee:       domain.FeeComponent{Percent: dec("1.5"), Fixed: dec("100")},
		Withdrawal:               domain.WithdrawalFeeRule{Percent: dec("1"), Cap: dec("500"), Minimum: dec("1000")},
		EscrowReleaseOffsetHours: 24,
	}
}

func testSettings() map[string]any {
	return map[string]any{
		"currency": "NGN",
		"tiers": []any{
			map[string]any{"0-500000": 10},
			map[string]any{"500001+": 8},
		},
		"platform_fee":                5,
		"escrow_release_offset_hours": 24,
		"withdrawal_fee":              map[string]any{"percent": 1, "cap": 500, "minimum": 1000},
	}
}

type staticConfig struct{ cfg domain.CommissionConfig }

func (s staticConfig) Current() (domain.CommissionConfig, error) { return s.cfg, nil }

// ---- in-memory store ----

// memStore implements every persistence port. Transactions take a per-booking
// lock, read copies and buffer writes until fn returns nil.
type memStore struct {
	mu          sync.Mutex
	locks       map[string]*sync.Mutex
	bookings    map[string]domain.Booking
	payments    map[string]domain.Payment
	escrows     map[string]domain.Escrow
	events      []domain.EscrowEvent
	dedupe      map[string]time.Time
	withdrawals map[string]domain.Withdrawal
	audits      []domain.AuditLog
	configs     []domain.CommissionConfig
	volume      decimal.Decimal
	// volumeExcluded records the booking left out of each volume query.
	volumeExcluded []string

	// beforeTx runs at the start of WithinBookingTx, before the booking lock is taken.
	beforeTx func(bookingID string)
	// txErr, when set, aborts a transaction with its error before fn runs.
	txErr func(bookingID string) error
}

func newMemStore() *memStore {
	return &memStore{
		locks:       map[string]*sync.Mutex{},
		bookings:    map[string]domain.Booking{},
		payments:    map[string]domain.Payment{},
		escrows:     map[string]domain.Escrow{},
		dedupe:      map[string]time.Time{},
		withdrawals: map[string]domain.Withdrawal{},
	}
}

func (s *memStore) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *memStore) WithinBookingTx(ctx context.Context, bookingID string, fn func(tx domain.LedgerTx) error) error {
	if s.beforeTx != nil {
		s.beforeTx(bookingID)
	}
	l := s.lockFor(bookingID)
	l.Lock()
	defer l.Unlock()

	if s.txErr != nil {
		if err := s.txErr(bookingID); err != nil {
			return err
		}
	}
	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range tx.ops {
		op()
	}
	return nil
}

func clonePayment(p domain.Payment) *domain.Payment {
	c := p
	if p.Metadata != nil {
		c.Metadata = make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func (s *memStore) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *memStore) GetPayment(ctx context.Context, bookingID string) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[bookingID]
	if !ok {
		return nil, nil
	}
	return clonePayment(p), nil
}

func (s *memStore) GetEscrow(ctx context.Context, bookingID string) (*domain.Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[bookingID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *memStore) MonthlyRealtorVolume(ctx context.Context, realtorID string, monthStart time.Time, excludeBookingID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volumeExcluded = append(s.volumeExcluded, excludeBookingID)
	return s.volume, nil
}

func (s *memStore) ListExpiryCandidates(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, b := range s.bookings {
		if b.Status != domain.BookingPending || !b.CreatedAt.Before(createdBefore) {
			continue
		}
		if p, ok := s.payments[id]; ok {
			if (p.Status != domain.PaymentInitiated && p.Status != domain.PaymentFailed) || p.PaidAt != nil {
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memStore) ListReleasableEscrows(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, e := range s.escrows {
		if e.Status != domain.EscrowHeld && e.Status != domain.EscrowPartiallyReleased {
			continue
		}
		if e.ReleaseEligibleAt.After(now) || s.bookings[id].Status != domain.BookingActive {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memStore) ListReminderCandidates(ctx context.Context, from, to time.Time) ([]domain.ReminderCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := func(t time.Time) bool { return !t.Before(from) && !t.After(to) }
	var out []domain.ReminderCandidate
	for _, b := range s.bookings {
		active := b.Status == domain.BookingActive
		if active && in(b.CheckInAt) {
			out = append(out, domain.ReminderCandidate{BookingID: b.ID, GuestEmail: b.GuestEmail, Event: domain.ReminderCheckIn, At: b.CheckInAt})
		}
		if (active || b.Status == domain.BookingCompleted) && in(b.CheckOutAt) {
			out = append(out, domain.ReminderCandidate{BookingID: b.ID, GuestEmail: b.GuestEmail, Event: domain.ReminderCheckOut, At: b.CheckOutAt})
		}
	}
	return out, nil
}

func (s *memStore) InsertReminderDedupe(ctx context.Context, bookingID string, event domain.ReminderEvent, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bookingID + "|" + string(event)
	if _, ok := s.dedupe[key]; ok {
		return domain.ErrDuplicate
	}
	s.dedupe[key] = at
	return nil
}

func (s *memStore) AppendAudit(ctx context.Context, a domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, a)
	return nil
}

// ---- withdrawals ----

func (s *memStore) InsertWithdrawal(ctx context.Context, w domain.Withdrawal, a domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withdrawals[w.ID] = w
	s.audits = append(s.audits, a)
	return nil
}

func (s *memStore) GetWithdrawal(ctx context.Context, id string) (domain.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return domain.Withdrawal{}, domain.ErrNotFound
	}
	return w, nil
}

func (s *memStore) ListFailedWithdrawals(ctx context.Context, maxRetries, limit int) ([]domain.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Withdrawal
	for _, w := range s.withdrawals {
		if w.Status == domain.WithdrawalFailed && w.RetryCount < maxRetries {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ClaimWithdrawal(ctx context.Context, id string, from []domain.WithdrawalStatus, maxRetries int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	allowed := false
	for _, st := range from {
		if w.Status == st {
			allowed = true
		}
	}
	if !allowed || (w.Status == domain.WithdrawalFailed && w.RetryCount >= maxRetries) {
		return false, nil
	}
	if w.Status == domain.WithdrawalFailed {
		w.RetryCount++
	}
	w.Status = domain.WithdrawalProcessing
	s.withdrawals[id] = w
	return true, nil
}

func (s *memStore) CompleteWithdrawal(ctx context.Context, id, reference string, at time.Time, a domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.withdrawals[id]
	w.Status = domain.WithdrawalCompleted
	w.Reference = &reference
	w.CompletedAt = &at
	s.withdrawals[id] = w
	s.audits = append(s.audits, a)
	return nil
}

func (s *memStore) FailWithdrawal(ctx context.Context, id, lastErr string, a domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.withdrawals[id]
	w.Status = domain.WithdrawalFailed
	w.LastError = &lastErr
	s.withdrawals[id] = w
	s.audits = append(s.audits, a)
	return nil
}

// ---- commission configs ----

func (s *memStore) ActiveCommissionConfig(ctx context.Context) (domain.CommissionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.configs) == 0 {
		return domain.CommissionConfig{}, domain.ErrNotFound
	}
	return s.configs[len(s.configs)-1], nil
}

func (s *memStore) SaveCommissionConfig(ctx context.Context, cfg domain.CommissionConfig) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.Version = int64(len(s.configs) + 1)
	s.configs = append(s.configs, cfg)
	return cfg.Version, nil
}

// ---- inspection helpers ----

// trail lists the audit actions recorded for one entity, oldest first.
func (s *memStore) trail(entityID string) []domain.AuditAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditAction
	for _, a := range s.audits {
		if a.EntityID == entityID {
			out = append(out, a.Action)
		}
	}
	return out
}

func (s *memStore) auditsFor(action domain.AuditAction) []domain.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditLog
	for _, a := range s.audits {
		if a.Action == action {
			out = append(out, a)
		}
	}
	return out
}

func (s *memStore) eventsFor(bookingID string) []domain.EscrowEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EscrowEvent
	for _, e := range s.events {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out
}

// seedHeld stores an ACTIVE booking with a HELD payment and a HELD escrow.
func (s *memStore) seedHeld(id string, checkIn time.Time, roomFee, deposit string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	paid := testNow.Add(-48 * time.Hour)
	s.bookings[id] = domain.Booking{
		ID: id, PropertyID: "prop-1", RealtorID: "realtor-1", GuestID: "guest-1", GuestEmail: "guest@example.com",
		CheckInAt: checkIn, CheckOutAt: checkIn.Add(72 * time.Hour),
		Status: domain.BookingActive, Currency: "NGN",
		TotalPrice: dec(roomFee).Add(dec(deposit)),
		Fees:       domain.FeeBreakdown{RoomFee: dec(roomFee), SecurityDeposit: dec(deposit)},
		CreatedAt:  paid, UpdatedAt: paid,
	}
	s.payments[id] = domain.Payment{
		BookingID: id, Reference: "ref-" + id, Status: domain.PaymentHeld, Currency: "NGN",
		Amount: dec(roomFee).Add(dec(deposit)), RoomFeeAmount: dec(roomFee), SecurityDepositAmount: dec(deposit),
		PaidAt: &paid, CreatedAt: paid, UpdatedAt: paid,
	}
	s.escrows[id] = domain.Escrow{
		BookingID: id, Amount: dec(roomFee), Status: domain.EscrowHeld,
		CreatedAt: paid, ReleaseEligibleAt: checkIn.Add(24 * time.Hour),
	}
}

// seedPending stores a PENDING booking created at createdAt with an INITIATED payment.
func (s *memStore) seedPending(id string, createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[id] = domain.Booking{
		ID: id, RealtorID: "realtor-1", GuestEmail: "guest@example.com",
		CheckInAt: testNow.Add(72 * time.Hour), CheckOutAt: testNow.Add(96 * time.Hour),
		Status: domain.BookingPending, Currency: "NGN", TotalPrice: dec("100000"),
		CreatedAt: createdAt, UpdatedAt: createdAt,
	}
	s.payments[id] = domain.Payment{
		BookingID: id, Reference: "ref-" + id, Status: domain.PaymentInitiated, Currency: "NGN",
		Amount: dec("100000"), RoomFeeAmount: dec("90000"), CreatedAt: createdAt, UpdatedAt: createdAt,
	}
}

type memTx struct {
	s   *memStore
	ops []func()
}

func (t *memTx) LockBooking(ctx context.Context, id string) (domain.Booking, error) {
	return t.s.GetBooking(ctx, id)
}

func (t *memTx) LockPayment(ctx context.Context, bookingID string) (*domain.Payment, error) {
	return t.s.GetPayment(ctx, bookingID)
}

func (t *memTx) LockEscrow(ctx context.Context, bookingID string) (*domain.Escrow, error) {
	return t.s.GetEscrow(ctx, bookingID)
}

func (t *memTx) InsertBooking(ctx context.Context, b domain.Booking) error {
	t.ops = append(t.ops, func() { t.s.bookings[b.ID] = b })
	return nil
}

func (t *memTx) UpdateBooking(ctx context.Context, b domain.Booking) error {
	t.ops = append(t.ops, func() { t.s.bookings[b.ID] = b })
	return nil
}

func (t *memTx) InsertPayment(ctx context.Context, p domain.Payment) error {
	t.ops = append(t.ops, func() { t.s.payments[p.BookingID] = *clonePayment(p) })
	return nil
}

func (t *memTx) UpdatePayment(ctx context.Context, p domain.Payment) error {
	t.ops = append(t.ops, func() { t.s.payments[p.BookingID] = *clonePayment(p) })
	return nil
}

func (t *memTx) SaveEscrow(ctx context.Context, e domain.Escrow) error {
	t.ops = append(t.ops, func() { t.s.escrows[e.BookingID] = e })
	return nil
}

func (t *memTx) AppendEscrowEvent(ctx context.Context, ev domain.EscrowEvent) error {
	t.ops = append(t.ops, func() { t.s.events = append(t.s.events, ev) })
	return nil
}

func (t *memTx) DeleteBooking(ctx context.Context, id string) error {
	t.ops = append(t.ops, func() {
		delete(t.s.bookings, id)
		delete(t.s.payments, id)
		delete(t.s.escrows, id)
		kept := t.s.events[:0]
		for _, e := range t.s.events {
			if e.BookingID != id {
				kept = append(kept, e)
			}
		}
		t.s.events = kept
		for k := range t.s.dedupe {
			if strings.HasPrefix(k, id+"|") {
				delete(t.s.dedupe, k)
			}
		}
	})
	return nil
}

func (t *memTx) AppendAudit(ctx context.Context, a domain.AuditLog) error {
	t.ops = append(t.ops, func() { t.s.audits = append(t.s.audits, a) })
	return nil
}

// ---- collaborators ----

type fakeGateway struct {
	mu        sync.Mutex
	verify    domain.ChargeVerification
	verifyErr error
	refundErr error
	refunds   []decimal.Decimal
	charges   int
}

func (g *fakeGateway) InitiateCharge(ctx context.Context, amount decimal.Decimal, currency, reference, email string) (domain.ChargeInit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges++
	return domain.ChargeInit{Reference: reference, AuthorizationURL: "https://pay.example/" + reference}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, reference string) (domain.ChargeVerification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.verify
	v.Reference = reference
	return v, g.verifyErr
}

func (g *fakeGateway) Refund(ctx context.Context, reference string, amount decimal.Decimal) (domain.GatewayRefund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return domain.GatewayRefund{}, g.refundErr
	}
	g.refunds = append(g.refunds, amount)
	return domain.GatewayRefund{ID: "rf-1", Status: "processed", Amount: amount, GatewayReference: reference}, nil
}

type fakePayout struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *fakePayout) Payout(ctx context.Context, w domain.Withdrawal) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return "trf-" + w.ID, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent []string
}

func (n *fakeNotifier) Send(ctx context.Context, recipient, template string, data map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, recipient+"|"+template)
	return nil
}

// fakeCache round-trips values through JSON like the Redis adapter does.
type fakeCache struct {
	mu    sync.Mutex
	store map[string][]byte
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.store[key] = b
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	return nil
}

var errGatewayDown = errors.New("gateway unavailable")
