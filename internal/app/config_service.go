package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"staybook/internal/domain"
	"staybook/internal/pricing"
)

const activeConfigKey = "commission:config:active"

// ConfigSource hands out the commission config snapshot a calculation should use.
type ConfigSource interface {
	Current() (domain.CommissionConfig, error)
}

// ConfigService is the admin boundary for CommissionConfig: read, validate, activate.
// The active snapshot is swapped atomically; a caller that already holds a
// snapshot keeps computing against it.
type ConfigService struct {
	store    domain.ConfigStore
	cache    domain.Cache
	cacheTTL time.Duration
	now      func() time.Time

	current atomic.Pointer[domain.CommissionConfig]
}

func NewConfigService(s domain.ConfigStore, c domain.Cache, ttl time.Duration) *ConfigService {
	return &ConfigService{store: s, cache: c, cacheTTL: ttl, now: time.Now}
}

// Current returns the active snapshot. With nothing loaded it fails closed.
func (s *ConfigService) Current() (domain.CommissionConfig, error) {
	cfg := s.current.Load()
	if cfg == nil {
		return domain.CommissionConfig{}, &domain.ConfigurationError{Problems: []string{"no active commission config"}}
	}
	return *cfg, nil
}

// Validate parses a raw settings blob without activating it.
func (s *ConfigService) Validate(raw map[string]any) (domain.CommissionConfig, error) {
	return pricing.ParseSettings(raw)
}

// Activate validates raw, persists it as a new version, refreshes the cache and
// swaps the in-process snapshot. Nothing is written when validation fails.
func (s *ConfigService) Activate(ctx context.Context, raw map[string]any, actor string) (domain.CommissionConfig, error) {
	cfg, err := pricing.ParseSettings(raw)
	if err != nil {
		return domain.CommissionConfig{}, err
	}
	return s.activate(ctx, cfg, actor)
}

func (s *ConfigService) activate(ctx context.Context, cfg domain.CommissionConfig, actor string) (domain.CommissionConfig, error) {
	now := s.now().UTC()
	cfg.ActivatedAt = now
	cfg.ActivatedBy = actor

	version, err := s.store.SaveCommissionConfig(ctx, cfg)
	if err != nil {
		return domain.CommissionConfig{}, fmt.Errorf("save commission config: %w", err)
	}
	cfg.Version = version

	if err := s.store.AppendAudit(ctx, domain.AuditLog{
		ID:         uuid.NewString(),
		Action:     domain.AuditConfigActivated,
		EntityType: "commission_config",
		EntityID:   fmt.Sprint(version),
		Actor:      actor,
		Details:    map[string]any{"tiers": len(cfg.Tiers), "currency": cfg.Currency},
		CreatedAt:  now,
	}); err != nil {
		log.Error().Err(err).Int64("version", version).Msg("audit commission config activation")
	}
	s.cacheActive(ctx, cfg)
	s.swap(cfg)
	log.Info().Int64("version", version).Str("actor", actor).Msg("commission config activated")
	return cfg, nil
}

// Refresh reloads the active config, cache first, and swaps it in when the
// version moved. A stored config that no longer validates is refused and the
// previous snapshot stays.
func (s *ConfigService) Refresh(ctx context.Context) error {
	var cfg domain.CommissionConfig
	if s.cache != nil {
		ok, err := s.cache.Get(ctx, activeConfigKey, &cfg)
		if err != nil {
			log.Warn().Err(err).Msg("read cached commission config, falling back to store")
		}
		if ok && err == nil {
			return s.install(cfg)
		}
	}
	cfg, err := s.store.ActiveCommissionConfig(ctx)
	if err != nil {
		return err
	}
	if err := s.install(cfg); err != nil {
		return err
	}
	s.cacheActive(ctx, cfg)
	return nil
}

// cacheActive publishes cfg to the other instances. On failure they fall back
// to the store at their next refresh.
func (s *ConfigService) cacheActive(ctx context.Context, cfg domain.CommissionConfig) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, activeConfigKey, cfg, int(s.cacheTTL.Seconds())); err != nil {
		log.Warn().Err(err).Int64("version", cfg.Version).Msg("cache active commission config")
	}
}

// Bootstrap loads the active config and, when the store has none yet,
// activates the seed settings.
func (s *ConfigService) Bootstrap(ctx context.Context, seed map[string]any) error {
	err := s.Refresh(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) || seed == nil {
		return err
	}
	log.Info().Msg("no active commission config, activating seed settings")
	_, err = s.Activate(ctx, seed, "system:seed")
	return err
}

func (s *ConfigService) install(cfg domain.CommissionConfig) error {
	if err := pricing.Validate(cfg); err != nil {
		log.Error().Err(err).Int64("version", cfg.Version).Msg("refusing invalid commission config")
		return err
	}
	if cur := s.current.Load(); cur != nil && cur.Version == cfg.Version {
		return nil
	}
	s.swap(cfg)
	log.Info().Int64("version", cfg.Version).Msg("commission config loaded")
	return nil
}

func (s *ConfigService) swap(cfg domain.CommissionConfig) {
	c := cfg
	s.current.Store(&c)
}
