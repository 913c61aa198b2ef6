package redisad_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	redisad "staybook/internal/adapters/redis"
	"staybook/internal/domain"
)

func newCache(t *testing.T) (*redisad.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := redisad.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestCache_RoundTripCommissionConfig(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	top := decimal.RequireFromString("500000")
	in := domain.CommissionConfig{
		Version:  7,
		Currency: "NGN",
		Tiers: []domain.CommissionTier{
			{Min: decimal.Zero, Max: &top, Rate: decimal.RequireFromString("10")},
			{Min: decimal.RequireFromString("500001"), Rate: decimal.RequireFromString("8.5")},
		},
		EscrowReleaseOffsetHours: 24,
	}
	if err := c.Set(ctx, "commission:config:active", in, 60); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("staybook:commission:config:active") {
		t.Fatalf("expected namespaced key, have %v", mr.Keys())
	}

	var out domain.CommissionConfig
	ok, err := c.Get(ctx, "commission:config:active", &out)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if out.Version != 7 || len(out.Tiers) != 2 || !out.Tiers[1].Rate.Equal(decimal.RequireFromString("8.5")) {
		t.Fatalf("unexpected config: %+v", out)
	}
	if out.Tiers[1].Max != nil || out.Tiers[0].Max == nil || !out.Tiers[0].Max.Equal(top) {
		t.Fatalf("tier bounds lost: %+v", out.Tiers)
	}
}

func TestCache_MissExpiryAndDel(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	var v map[string]int
	if ok, err := c.Get(ctx, "absent", &v); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	_ = c.Set(ctx, "k", map[string]int{"a": 1}, 10)
	mr.FastForward(11 * time.Second)
	if ok, _ := c.Get(ctx, "k", &v); ok {
		t.Fatalf("expected key to expire")
	}

	_ = c.Set(ctx, "k", map[string]int{"a": 1}, 10)
	if err := c.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if ok, _ := c.Get(ctx, "k", &v); ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestCache_UndecodableValueIsAMiss(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	_ = mr.Set("staybook:bad", "{not json")
	var v map[string]int
	ok, err := c.Get(ctx, "bad", &v)
	if ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if mr.Exists("staybook:bad") {
		t.Fatalf("undecodable value should be dropped")
	}
}
