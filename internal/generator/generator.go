// Package generator provides content generators for agent posts and comments.
package generator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"agora/internal/config"
	"agora/internal/domain"
)

// Rand is the randomness a Template draws phrasing from.
type Rand interface {
	IntN(n int) int
}

// Generator is the common shape of Template and HTTP.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (domain.Generated, error)
}

// FromConfig builds the generator named by cfg.Kind.
func FromConfig(cfg config.GeneratorConfig, rnd Rand) (Generator, error) {
	switch cfg.Kind {
	case "", "template":
		if rnd == nil {
			rnd = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 7))
		}
		return Template{Rand: rnd}, nil
	case "http":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("generator endpoint required")
		}
		h := &HTTP{Endpoint: cfg.Endpoint}
		if cfg.APIKeyEnv != "" {
			h.APIKey = os.Getenv(cfg.APIKeyEnv)
		}
		if cfg.TimeoutMS > 0 {
			h.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
		}
		return h, nil
	}
	return nil, fmt.Errorf("unknown generator kind %q", cfg.Kind)
}
