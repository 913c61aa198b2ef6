package shared_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"staybook/internal/pricing"
	"staybook/internal/shared"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PAYMENT_TIMEOUT_MINUTES", "")
	t.Setenv("JOB_WORKERS", "not-a-number")
	c := shared.Load()
	if c.PaymentTimeout != time.Hour || c.JobWorkers != 4 || c.ExpirySchedule != "@every 1m" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PAYMENT_TIMEOUT_MINUTES", "30")
	t.Setenv("RELEASE_SCHEDULE", "")
	t.Setenv("REMINDER_SCHEDULE", "@every 10m")
	t.Setenv("CACHE_TTL_SECONDS", "60")
	c := shared.Load()
	if c.PaymentTimeout != 30*time.Minute || c.ReminderSchedule != "@every 10m" || c.CacheTTL != time.Minute {
		t.Fatalf("unexpected config: %+v", c)
	}
}

const settingsYAML = `
currency: NGN
tiers:
  - "0-500000": 10
  - "500001-2000000": 8
  - "2000001+": 6
volume_discounts:
  - volume: 1000000
    reduction: 1
discount_cap: 2
platform_fee: 5
local_processing_fee:
  percent: 1.5
  fixed: 100
withdrawal_fee:
  percent: 1
  cap: 500
  minimum: 1000
escrow_release_offset_hours: 24
`

func TestLoadCommissionSettings_YAMLParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commission.yaml")
	if err := os.WriteFile(path, []byte(settingsYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	raw, err := shared.LoadCommissionSettings(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg, err := pricing.ParseSettings(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Tiers) != 3 || cfg.EscrowReleaseOffsetHours != 24 || cfg.Currency != "NGN" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadCommissionSettings_Errors(t *testing.T) {
	if raw, err := shared.LoadCommissionSettings(""); raw != nil || err != nil {
		t.Fatalf("empty path means no seed, got %v %v", raw, err)
	}
	if _, err := shared.LoadCommissionSettings(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
