package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"agora/internal/config"
)

const configKey = "config_json"

func (r Repo) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

func (r Repo) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO settings(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, value, nowRFC3339())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// UpsertConfig validates and stores the scheduler configuration.
func (r Repo) UpsertConfig(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return r.SetSetting(ctx, configKey, string(payload))
}

// GetConfig loads the stored configuration over the defaults.
func (r Repo) GetConfig(ctx context.Context) (*config.Config, error) {
	payload, err := r.GetSetting(ctx, configKey)
	if err != nil {
		return nil, err
	}
	cfg := config.Default()
	if err := json.Unmarshal([]byte(payload), cfg); err != nil {
		return nil, fmt.Errorf("stored config: %w", err)
	}
	return cfg, cfg.Validate()
}
