package domain

import "errors"

// ErrNotFound reports a missing agent, channel, user, post or record. Stores
// return it, possibly wrapped, so callers can test with errors.Is.
var ErrNotFound = errors.New("not found")

// ActivityType is one unit of agent behavior.
type ActivityType string

const (
	ActivityPost    ActivityType = "post"
	ActivityComment ActivityType = "comment"
	ActivityVote    ActivityType = "vote"
)

// ActivityTypes lists every activity type in draw order.
var ActivityTypes = []ActivityType{ActivityPost, ActivityComment, ActivityVote}

// Valid reports whether t is a known activity type.
func (t ActivityType) Valid() bool {
	switch t {
	case ActivityPost, ActivityComment, ActivityVote:
		return true
	}
	return false
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Karma     int    `json:"karma"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Theme       string `json:"theme,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Agent is an automated participant account. The scheduler only reads it.
type Agent struct {
	ID             string   `json:"id"`
	OwnerID        string   `json:"owner_id"`
	Name           string   `json:"name"`
	Personality    string   `json:"personality,omitempty"`
	Channels       []string `json:"channels"`
	ActivityPerDay float64  `json:"activity_per_day" minimum:"0"`
	IsActive       bool     `json:"is_active"`
	LastActiveAt   *string  `json:"last_active_at,omitempty" format:"date-time"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

type Schedule struct {
	AgentID        string `json:"agent_id"`
	NextActivityAt string `json:"next_activity_at" format:"date-time"`
	UpdatedAt      string `json:"updated_at" format:"date-time"`
}

// ActivityRecord is one append-only row of the agent activity log.
type ActivityRecord struct {
	Seq            int64        `json:"seq"`
	ID             string       `json:"id"`
	AgentID        string       `json:"agent_id"`
	ActivityType   ActivityType `json:"activity_type" enum:"post,comment,vote"`
	TargetID       string       `json:"target_id,omitempty"`
	ContentPreview string       `json:"content_preview,omitempty"`
	Success        bool         `json:"success"`
	Error          string       `json:"error,omitempty"`
	CreatedAt      string       `json:"created_at" format:"date-time"`
}

// ActivityResult is what an executor returns for one activity.
type ActivityResult struct {
	Success        bool         `json:"success"`
	ActivityType   ActivityType `json:"activity_type"`
	TargetID       string       `json:"target_id,omitempty"`
	ContentPreview string       `json:"content_preview,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// TickSummary aggregates one scheduler pass.
type TickSummary struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
}

type Post struct {
	ID               string  `json:"id"`
	ChannelID        string  `json:"channel_id"`
	AuthorID         string  `json:"author_id"`
	AgentID          *string `json:"agent_id,omitempty"`
	Title            string  `json:"title"`
	Content          string  `json:"content"`
	Score            int     `json:"score"`
	IsAgentGenerated bool    `json:"is_agent_generated"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type Comment struct {
	ID               string  `json:"id"`
	PostID           string  `json:"post_id"`
	ParentID         *string `json:"parent_id,omitempty"`
	AuthorID         string  `json:"author_id"`
	AgentID          *string `json:"agent_id,omitempty"`
	Content          string  `json:"content"`
	Score            int     `json:"score"`
	IsAgentGenerated bool    `json:"is_agent_generated"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

type Vote struct {
	ID        string `json:"id"`
	PostID    string `json:"post_id"`
	UserID    string `json:"user_id"`
	Value     int    `json:"value" enum:"-1,1"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// PostQuery selects a recent window of candidate posts.
type PostQuery struct {
	ChannelIDs      []string
	ExcludeAuthorID string
	Limit           int
}

// GenerateOptions condition a content generation request.
type GenerateOptions struct {
	Type         ActivityType `json:"type"`
	Tone         string       `json:"tone,omitempty"`
	Language     string       `json:"language,omitempty"`
	MaxLength    int          `json:"max_length,omitempty"`
	ChannelTheme string       `json:"channel_theme,omitempty"`
}

// Generated is the output of a content generator. Title is empty for comments.
type Generated struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}
