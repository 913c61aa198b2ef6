package refund

import (
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"staybook/internal/domain"
)

var checkIn = time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertAmount(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s: got %s, want %s", name, got, want)
	}
}

func TestComputeSplit_EarlyCancellation(t *testing.T) {
	s := ComputeSplit(checkIn, dec("300000"), dec("50000"), checkIn.Add(-30*time.Hour))
	if s.Tier != domain.RefundTierEarly {
		t.Fatalf("tier: %s", s.Tier)
	}
	assertAmount(t, "guest", s.RoomFeeToGuest, "270000")
	assertAmount(t, "realtor", s.RoomFeeToRealtor, "21000")
	assertAmount(t, "platform", s.RoomFeeToPlatform, "9000")
	assertAmount(t, "deposit", s.DepositToGuest, "50000")
	assertAmount(t, "customer refund", s.CustomerRefund, "320000")
}

func TestComputeSplit_LateCancellation(t *testing.T) {
	s := ComputeSplit(checkIn, dec("300000"), dec("50000"), checkIn.Add(-6*time.Hour))
	if s.Tier != domain.RefundTierLate {
		t.Fatalf("tier: %s", s.Tier)
	}
	assertAmount(t, "guest", s.RoomFeeToGuest, "0")
	assertAmount(t, "realtor", s.RoomFeeToRealtor, "240000")
	assertAmount(t, "platform", s.RoomFeeToPlatform, "60000")
	assertAmount(t, "customer refund", s.CustomerRefund, "50000")
}

func TestPolicyFor_Boundaries(t *testing.T) {
	cases := []struct {
		until time.Duration
		want  domain.RefundTier
	}{
		{48 * time.Hour, domain.RefundTierEarly},
		{24 * time.Hour, domain.RefundTierEarly},
		{24*time.Hour - time.Second, domain.RefundTierMedium},
		{12 * time.Hour, domain.RefundTierMedium},
		{12*time.Hour - time.Second, domain.RefundTierLate},
		{time.Second, domain.RefundTierLate},
		{0, domain.RefundTierNone},
		{-3 * time.Hour, domain.RefundTierNone},
	}
	for _, tc := range cases {
		if got := PolicyFor(tc.until).Tier; got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.until, got, tc.want)
		}
	}
}

func TestComputeSplit_Invariants(t *testing.T) {
	fees := []string{"0", "0.01", "333.33", "99999.99", "300000", "1234567.89"}
	offsets := []time.Duration{72 * time.Hour, 18 * time.Hour, 3 * time.Hour, 0, -time.Hour}
	for _, fee := range fees {
		for _, off := range offsets {
			now := checkIn.Add(-off)
			a := ComputeSplit(checkIn, dec(fee), dec("50000"), now)
			b := ComputeSplit(checkIn, dec(fee), dec("50000"), now)
			if !reflect.DeepEqual(a, b) {
				t.Fatalf("not deterministic for %s/%s", fee, off)
			}
			if !a.CustomerRefund.Equal(a.RoomFeeToGuest.Add(a.DepositToGuest)) {
				t.Fatalf("customer refund identity broken: %+v", a)
			}
			assertAmount(t, "deposit", a.DepositToGuest, "50000")
			if a.Tier != domain.RefundTierNone {
				sum := a.RoomFeeToGuest.Add(a.RoomFeeToRealtor).Add(a.RoomFeeToPlatform)
				assertAmount(t, "shares sum for "+fee, sum, fee)
			}
		}
	}
}

func TestComputeSplit_NoneTierStillReturnsDeposit(t *testing.T) {
	s := ComputeSplit(checkIn, dec("300000"), dec("75000.50"), checkIn.Add(2*time.Hour))
	if s.Tier != domain.RefundTierNone {
		t.Fatalf("tier: %s", s.Tier)
	}
	assertAmount(t, "room to guest", s.RoomFeeToGuest, "0")
	assertAmount(t, "room to realtor", s.RoomFeeToRealtor, "0")
	assertAmount(t, "customer refund", s.CustomerRefund, "75000.50")
	if s.HoursToCheckIn >= 0 {
		t.Fatalf("expected negative hours, got %v", s.HoursToCheckIn)
	}
}

func TestComputeSplit_PlatformAbsorbsRounding(t *testing.T) {
	// 7% of 0.10 = 0.007 -> 0.01, 90% = 0.09, platform gets what is left
	s := ComputeSplit(checkIn, dec("0.10"), decimal.Zero, checkIn.Add(-48*time.Hour))
	assertAmount(t, "guest", s.RoomFeeToGuest, "0.09")
	assertAmount(t, "realtor", s.RoomFeeToRealtor, "0.01")
	assertAmount(t, "platform", s.RoomFeeToPlatform, "0")
}
