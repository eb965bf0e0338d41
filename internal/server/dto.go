package server

import "agora/internal/domain"

// TickResponse is a tick summary with timing.
type TickResponse struct {
	domain.TickSummary
	StartedAt  string `json:"started_at" format:"date-time"`
	FinishedAt string `json:"finished_at" format:"date-time"`
	DurationMs int64  `json:"duration_ms"`
}

type AgentListResponse struct {
	Items []domain.Agent `json:"items"`
}

// AgentResponse adds the next scheduled activity; it is absent for agents that
// have never been scheduled.
type AgentResponse struct {
	domain.Agent
	NextActivityAt *string `json:"next_activity_at,omitempty" format:"date-time"`
}

type ActivityListResponse struct {
	Items      []domain.ActivityRecord `json:"items"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Source      string   `json:"source"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
