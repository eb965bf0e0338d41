package engine

import (
	"database/sql"
	"log"
	"math/rand/v2"
	"time"

	"agora/internal/config"
	"agora/internal/events"
	"agora/internal/repo"
)

// Engine runs scheduler ticks over a set of injected collaborators.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Agents   AgentRepository
	Executor ActivityExecutor
	Activity ActivityLogger
	Config   *config.Config
	Rand     Rand
	Now      func() time.Time
	Logger   *log.Logger
}

// New wires an Engine backed by SQLite for repository, store and activity log.
func New(db *sql.DB, cfg *config.Config, gen ContentGenerator) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	rnd := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	return Engine{
		DB:     db,
		Repo:   r,
		Agents: r,
		Executor: Executor{
			Store:     r,
			Generator: gen,
			Config:    cfg.Executor,
			Rand:      rnd,
			Now:       time.Now,
		},
		Activity: events.Writer{DB: db},
		Config:   cfg,
		Rand:     rnd,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}
