package mysql

import (
	"context"
	"encoding/json"
	"fmt"

	"staybook/internal/domain"
)

// ActiveCommissionConfig returns the newest active version.
func (r *Repo) ActiveCommissionConfig(ctx context.Context) (domain.CommissionConfig, error) {
	var (
		cfg      domain.CommissionConfig
		version  int64
		settings []byte
	)
	row := r.db.QueryRowContext(ctx, activeConfigSQL)
	if err := row.Scan(&version, &settings, &cfg.ActivatedAt, &cfg.ActivatedBy); err != nil {
		return domain.CommissionConfig{}, mapErr(err)
	}
	at, by := cfg.ActivatedAt.UTC(), cfg.ActivatedBy
	if err := json.Unmarshal(settings, &cfg); err != nil {
		return domain.CommissionConfig{}, fmt.Errorf("commission config v%d: %w", version, err)
	}
	cfg.Version, cfg.ActivatedAt, cfg.ActivatedBy = version, at, by
	return cfg, nil
}

// SaveCommissionConfig deactivates the current version and inserts cfg as the
// new active one in a single transaction. The auto-increment key is the version.
func (r *Repo) SaveCommissionConfig(ctx context.Context, cfg domain.CommissionConfig) (int64, error) {
	cfg.Version = 0
	settings, err := json.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("encode commission config: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, deactivateConfigsSQL); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, insertConfigSQL, string(settings), cfg.ActivatedAt.UTC(), cfg.ActivatedBy)
	if err != nil {
		return 0, mapErr(err)
	}
	version, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}
