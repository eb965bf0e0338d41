package engine

import (
	"context"
	"fmt"
	"time"

	"agora/internal/domain"
)

// RunTick performs one scheduling pass over every due agent. Agents are
// processed sequentially; a failure of any kind for one agent is recorded in
// the summary and never stops the pass.
func (e Engine) RunTick(ctx context.Context) domain.TickSummary {
	summary := domain.TickSummary{Errors: []string{}}
	cfg := e.config()
	agents := e.dueAgents(ctx, e.now())
	if len(agents) == 0 {
		return summary
	}
	limit := cfg.Scheduler.MaxAgentsPerTick
	for i, agent := range agents {
		if limit > 0 && i >= limit {
			e.logger().Printf("scheduler: tick capped at %d agents, %d left for next tick", limit, len(agents)-i)
			break
		}
		if err := ctx.Err(); err != nil {
			e.logger().Printf("scheduler: tick stopped before agent %s: %v", agent.ID, err)
			break
		}
		res := e.processAgent(ctx, agent)
		summary.Processed++
		if res.Success {
			summary.Succeeded++
			continue
		}
		summary.Failed++
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %s", agent.Name, res.Error))
	}
	return summary
}

// dueAgents never fails; a repository error yields no due agents.
func (e Engine) dueAgents(ctx context.Context, now time.Time) []domain.Agent {
	agents, err := e.Agents.ListDueActiveAgents(ctx, now)
	if err != nil {
		e.logger().Printf("scheduler: list due agents: %v", err)
		return nil
	}
	return agents
}

func (e Engine) processAgent(ctx context.Context, agent domain.Agent) domain.ActivityResult {
	res := e.runActivity(ctx, agent)
	e.logActivity(ctx, agent, res)
	if res.Success {
		e.markActive(ctx, agent)
	}
	e.reschedule(ctx, agent)
	return res
}

func (e Engine) runActivity(ctx context.Context, agent domain.Agent) (res domain.ActivityResult) {
	cfg := e.config()
	var activityType domain.ActivityType
	defer func() {
		if r := recover(); r != nil {
			res = domain.ActivityResult{ActivityType: activityType, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()
	recent, err := e.Agents.RecentActivityTypes(ctx, agent.ID, cfg.Scheduler.RecentWindow)
	if err != nil {
		e.logger().Printf("scheduler: recent activity for agent %s: %v", agent.ID, err)
		recent = nil
	}
	activityType = SelectActivityType(recent, cfg.Selection, e.Rand)
	res, err = e.Executor.Execute(ctx, agent, activityType)
	if err != nil {
		return domain.ActivityResult{ActivityType: activityType, Error: err.Error()}
	}
	if res.ActivityType == "" {
		res.ActivityType = activityType
	}
	if !res.Success && res.Error == "" {
		res.Error = "activity failed"
	}
	return res
}

// logActivity is best effort: failures, including panics, are only reported.
func (e Engine) logActivity(ctx context.Context, agent domain.Agent, res domain.ActivityResult) {
	if e.Activity == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger().Printf("scheduler: activity log for agent %s panicked: %v", agent.ID, r)
		}
	}()
	if err := e.Activity.Log(ctx, agent.ID, res); err != nil {
		e.logger().Printf("scheduler: activity log for agent %s: %v", agent.ID, err)
	}
}

func (e Engine) markActive(ctx context.Context, agent domain.Agent) {
	m, ok := e.Agents.(activityMarker)
	if !ok {
		return
	}
	if err := m.MarkAgentActive(ctx, agent.ID, e.now()); err != nil {
		e.logger().Printf("scheduler: mark agent %s active: %v", agent.ID, err)
	}
}

// reschedule runs last for every agent, whatever the activity outcome. A
// failed write is not retried; the agent stays due for the next tick.
func (e Engine) reschedule(ctx context.Context, agent domain.Agent) {
	defer func() {
		if r := recover(); r != nil {
			e.logger().Printf("scheduler: reschedule agent %s panicked: %v", agent.ID, r)
		}
	}()
	now := e.now()
	next := NextRunAt(agent, e.config().Scheduler, now, e.Rand)
	if err := e.Agents.UpsertSchedule(ctx, agent.ID, next); err != nil {
		e.logger().Printf("scheduler: reschedule agent %s (%s): %v", agent.ID, agent.Name, err)
	}
}
