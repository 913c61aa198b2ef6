package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"staybook/internal/app"
	"staybook/internal/domain"
)

func TestConfigService_FailsClosedBeforeLoad(t *testing.T) {
	svc := app.NewConfigService(newMemStore(), &fakeCache{}, time.Minute)
	if _, err := svc.Current(); !domain.IsConfiguration(err) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestConfigService_ActivateRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	svc := app.NewConfigService(s, &fakeCache{}, time.Minute)

	raw := testSettings()
	raw["tiers"] = []any{map[string]any{"0-100": 10}, map[string]any{"500+": 8}} // gap
	if _, err := svc.Activate(ctx, raw, "admin"); !domain.IsConfiguration(err) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if len(s.configs) != 0 || len(s.auditsFor(domain.AuditConfigActivated)) != 0 {
		t.Fatalf("nothing may be stored for a rejected config")
	}
}

func TestConfigService_ActivateSwapsSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	cache := &fakeCache{}
	svc := app.NewConfigService(s, cache, time.Minute)

	cfg, err := svc.Activate(ctx, testSettings(), "admin")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if cfg.Version != 1 || cfg.ActivatedBy != "admin" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	held, _ := svc.Current()

	raw := testSettings()
	raw["tiers"] = []any{map[string]any{"0-500000": 12}, map[string]any{"500001+": 9}}
	if _, err := svc.Activate(ctx, raw, "admin"); err != nil {
		t.Fatalf("second activate: %v", err)
	}
	cur, _ := svc.Current()
	if cur.Version != 2 || !cur.Tiers[0].Rate.Equal(dec("12")) {
		t.Fatalf("expected version 2, got %+v", cur)
	}
	// a snapshot taken earlier keeps its values
	if !held.Tiers[0].Rate.Equal(dec("10")) {
		t.Fatalf("held snapshot changed: %s", held.Tiers[0].Rate)
	}
	if n := len(s.auditsFor(domain.AuditConfigActivated)); n != 2 {
		t.Fatalf("expected 2 activation audits, got %d", n)
	}
}

func TestConfigService_RefreshConvergesAcrossInstances(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	admin := app.NewConfigService(s, nil, time.Minute)
	worker := app.NewConfigService(s, nil, time.Minute)

	if _, err := admin.Activate(ctx, testSettings(), "admin"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := worker.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	cur, err := worker.Current()
	if err != nil || cur.Version != 1 {
		t.Fatalf("worker did not pick up the config: %+v, %v", cur, err)
	}
}

func TestConfigService_RefreshReadsCacheFirst(t *testing.T) {
	ctx := context.Background()
	cache := &fakeCache{}
	admin := app.NewConfigService(newMemStore(), cache, time.Minute)
	if _, err := admin.Activate(ctx, testSettings(), "admin"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	// a second instance with an empty store still loads from the shared cache
	other := app.NewConfigService(newMemStore(), cache, time.Minute)
	if err := other.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	cur, _ := other.Current()
	if cur.Version != 1 || len(cur.Tiers) != 2 {
		t.Fatalf("unexpected cached config: %+v", cur)
	}
}

func TestConfigService_Bootstrap(t *testing.T) {
	ctx := context.Background()
	s := newMemStore()
	svc := app.NewConfigService(s, nil, time.Minute)

	if err := svc.Bootstrap(ctx, nil); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("no seed and no stored config: expected ErrNotFound, got %v", err)
	}
	if err := svc.Bootstrap(ctx, testSettings()); err != nil {
		t.Fatalf("bootstrap with seed: %v", err)
	}
	if len(s.configs) != 1 {
		t.Fatalf("expected the seed to be stored")
	}
	// an existing config wins over the seed
	if err := app.NewConfigService(s, nil, time.Minute).Bootstrap(ctx, testSettings()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if len(s.configs) != 1 {
		t.Fatalf("seed must not be activated twice")
	}
}
