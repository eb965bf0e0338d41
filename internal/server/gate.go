package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"agora/internal/domain"
	"agora/internal/engine"
)

// ErrTickInProgress is returned when a pass is requested while another runs.
var ErrTickInProgress = errors.New("tick already in progress")

// TickGate runs scheduler passes one at a time within this process. Multiple
// processes sharing a database are not coordinated.
type TickGate struct {
	Engine engine.Engine
	Logger *log.Logger

	mu sync.Mutex
}

func (g *TickGate) logger() *log.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return log.Default()
}

// TryTick runs one pass unless another is already running.
func (g *TickGate) TryTick(ctx context.Context) (domain.TickSummary, error) {
	if !g.mu.TryLock() {
		return domain.TickSummary{}, ErrTickInProgress
	}
	defer g.mu.Unlock()
	return g.Engine.RunTick(ctx), nil
}

// Every runs a pass on each interval until ctx is done. Intervals that find a
// pass still running are skipped.
func (g *TickGate) Every(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		summary, err := g.TryTick(ctx)
		if err != nil {
			g.logger().Printf("scheduler: skipped interval: %v", err)
			continue
		}
		if summary.Processed > 0 {
			g.logger().Printf("scheduler: processed=%d succeeded=%d failed=%d", summary.Processed, summary.Succeeded, summary.Failed)
		}
	}
}
