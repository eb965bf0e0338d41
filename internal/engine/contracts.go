package engine

import (
	"context"
	"time"

	"agora/internal/domain"
)

// AgentRepository supplies due agents and persists their schedules.
type AgentRepository interface {
	ListDueActiveAgents(ctx context.Context, now time.Time) ([]domain.Agent, error)
	// RecentActivityTypes returns the most recent first.
	RecentActivityTypes(ctx context.Context, agentID string, limit int) ([]domain.ActivityType, error)
	UpsertSchedule(ctx context.Context, agentID string, nextActivityAt time.Time) error
}

// activityMarker is implemented by repositories that track agent liveness.
type activityMarker interface {
	MarkAgentActive(ctx context.Context, agentID string, at time.Time) error
}

// ContentGenerator produces text for posts and comments.
type ContentGenerator interface {
	Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (domain.Generated, error)
}

// Store is the forum persistence the executor writes to. Lookups of missing
// records return domain.ErrNotFound.
type Store interface {
	GetChannel(ctx context.Context, id string) (domain.Channel, error)
	ChannelByName(ctx context.Context, name string) (domain.Channel, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
	CreatePost(ctx context.Context, p domain.Post) (domain.Post, error)
	CreateComment(ctx context.Context, c domain.Comment) (domain.Comment, error)
	RecentPosts(ctx context.Context, q domain.PostQuery) ([]domain.Post, error)
	HasVoted(ctx context.Context, postID, userID string) (bool, error)
	// CastVote inserts the vote and applies its value to the post score and
	// author karma atomically.
	CastVote(ctx context.Context, v domain.Vote) error
}

// ActivityLogger records the outcome of each executed activity.
type ActivityLogger interface {
	Log(ctx context.Context, agentID string, result domain.ActivityResult) error
}

// ActivityExecutor performs one activity for an agent. Business failures are
// reported in the result; the error is reserved for infrastructure faults.
type ActivityExecutor interface {
	Execute(ctx context.Context, agent domain.Agent, activityType domain.ActivityType) (domain.ActivityResult, error)
}

// Rand is the randomness source for jitter, selection and vote direction.
// *math/rand/v2.Rand satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}
