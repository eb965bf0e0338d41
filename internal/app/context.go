package app

import (
	"context"
	"errors"
	"fmt"

	"agora/internal/config"
	"agora/internal/repo"
)

// ResolveConfig returns the config stored in the DB. On first use it seeds the
// DB from the workspace agora.yml when present, else from defaults. The
// executor's default channel is created if missing.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		seed, err := config.LoadOptional(workspace)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
		}
		if seed == nil {
			seed = config.Default()
		}
		if err := r.UpsertConfig(ctx, seed); err != nil {
			return nil, fmt.Errorf("seed config: %w", err)
		}
		cfg = seed
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("stored config invalid: %w", err)
	}
	if _, err := r.EnsureChannel(ctx, cfg.Executor.DefaultChannel, ""); err != nil {
		return nil, fmt.Errorf("ensure default channel: %w", err)
	}
	return cfg, nil
}
