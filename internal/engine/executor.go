package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"agora/internal/config"
	"agora/internal/domain"
)

// Executor carries out posts, comments and votes on behalf of agents.
// Failed writes and failed generation come back as unsuccessful results;
// unexpected read failures are returned as errors.
type Executor struct {
	Store     Store
	Generator ContentGenerator
	Config    config.ExecutorConfig
	Rand      Rand
	Now       func() time.Time
}

func (x Executor) now() time.Time {
	if x.Now != nil {
		return x.Now()
	}
	return time.Now()
}

// Execute runs one activity of the given type for agent.
func (x Executor) Execute(ctx context.Context, agent domain.Agent, activityType domain.ActivityType) (domain.ActivityResult, error) {
	switch activityType {
	case domain.ActivityPost:
		return x.createPost(ctx, agent)
	case domain.ActivityComment:
		return x.createComment(ctx, agent)
	case domain.ActivityVote:
		return x.castVote(ctx, agent)
	}
	return failed(activityType, fmt.Sprintf("unknown activity type %q", activityType)), nil
}

func (x Executor) createPost(ctx context.Context, agent domain.Agent) (domain.ActivityResult, error) {
	ch, res, err := x.pickChannel(ctx, agent)
	if res != nil || err != nil {
		return derefResult(res), err
	}
	if _, err := x.Store.GetUser(ctx, agent.OwnerID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return failed(domain.ActivityPost, fmt.Sprintf("agent owner %s not found", agent.OwnerID)), nil
		}
		return domain.ActivityResult{}, fmt.Errorf("get owner: %w", err)
	}
	theme := ch.Theme
	if theme == "" {
		theme = ch.Name
	}
	gen, err := x.Generator.Generate(ctx, postPrompt(agent, ch), domain.GenerateOptions{
		Type:         domain.ActivityPost,
		Tone:         x.Config.Tone,
		Language:     x.Config.Language,
		MaxLength:    x.Config.PostMaxLength,
		ChannelTheme: theme,
	})
	if err != nil {
		return failed(domain.ActivityPost, fmt.Sprintf("content generation failed: %v", err)), nil
	}
	content := strings.TrimSpace(gen.Content)
	if content == "" {
		return failed(domain.ActivityPost, "generated content is empty"), nil
	}
	title := strings.TrimSpace(gen.Title)
	if title == "" {
		title = truncate(firstLine(content), 80)
	}
	agentID := agent.ID
	post, err := x.Store.CreatePost(ctx, domain.Post{
		ID:               uuid.NewString(),
		ChannelID:        ch.ID,
		AuthorID:         agent.OwnerID,
		AgentID:          &agentID,
		Title:            title,
		Content:          content,
		IsAgentGenerated: true,
		CreatedAt:        x.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return failed(domain.ActivityPost, fmt.Sprintf("failed to create post: %v", err)), nil
	}
	return domain.ActivityResult{
		Success:        true,
		ActivityType:   domain.ActivityPost,
		TargetID:       post.ID,
		ContentPreview: truncate(title, x.previewLength()),
	}, nil
}

// pickChannel returns either a channel, a failed result, or an error.
func (x Executor) pickChannel(ctx context.Context, agent domain.Agent) (domain.Channel, *domain.ActivityResult, error) {
	if len(agent.Channels) > 0 {
		id := agent.Channels[x.Rand.IntN(len(agent.Channels))]
		ch, err := x.Store.GetChannel(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			res := failed(domain.ActivityPost, fmt.Sprintf("channel %s not found", id))
			return domain.Channel{}, &res, nil
		}
		if err != nil {
			return domain.Channel{}, nil, fmt.Errorf("get channel %s: %w", id, err)
		}
		return ch, nil, nil
	}
	ch, err := x.Store.ChannelByName(ctx, x.Config.DefaultChannel)
	if errors.Is(err, domain.ErrNotFound) {
		res := failed(domain.ActivityPost, fmt.Sprintf("default channel %s not found", x.Config.DefaultChannel))
		return domain.Channel{}, &res, nil
	}
	if err != nil {
		return domain.Channel{}, nil, fmt.Errorf("get default channel: %w", err)
	}
	return ch, nil, nil
}

func (x Executor) createComment(ctx context.Context, agent domain.Agent) (domain.ActivityResult, error) {
	post, ok, err := x.pickPost(ctx, agent, x.Config.CommentCandidates)
	if err != nil {
		return domain.ActivityResult{}, err
	}
	if !ok {
		return failed(domain.ActivityComment, "no posts available to comment on"), nil
	}
	gen, err := x.Generator.Generate(ctx, commentPrompt(agent, post), domain.GenerateOptions{
		Type:      domain.ActivityComment,
		Tone:      x.Config.Tone,
		Language:  x.Config.Language,
		MaxLength: x.Config.CommentMaxLength,
	})
	if err != nil {
		return failedOn(domain.ActivityComment, post.ID, fmt.Sprintf("comment generation failed: %v", err)), nil
	}
	content := strings.TrimSpace(gen.Content)
	if content == "" {
		return failedOn(domain.ActivityComment, post.ID, "generated comment is empty"), nil
	}
	agentID := agent.ID
	if _, err := x.Store.CreateComment(ctx, domain.Comment{
		ID:               uuid.NewString(),
		PostID:           post.ID,
		AuthorID:         agent.OwnerID,
		AgentID:          &agentID,
		Content:          content,
		IsAgentGenerated: true,
		CreatedAt:        x.now().UTC().Format(time.RFC3339),
	}); err != nil {
		return failedOn(domain.ActivityComment, post.ID, fmt.Sprintf("failed to create comment: %v", err)), nil
	}
	return domain.ActivityResult{
		Success:        true,
		ActivityType:   domain.ActivityComment,
		TargetID:       post.ID,
		ContentPreview: truncate(content, x.previewLength()),
	}, nil
}

func (x Executor) castVote(ctx context.Context, agent domain.Agent) (domain.ActivityResult, error) {
	post, ok, err := x.pickPost(ctx, agent, x.Config.VoteCandidates)
	if err != nil {
		return domain.ActivityResult{}, err
	}
	if !ok {
		return failed(domain.ActivityVote, "no posts available to vote on"), nil
	}
	voted, err := x.Store.HasVoted(ctx, post.ID, agent.OwnerID)
	if err != nil {
		return domain.ActivityResult{}, fmt.Errorf("check existing vote: %w", err)
	}
	if voted {
		return domain.ActivityResult{
			Success:        true,
			ActivityType:   domain.ActivityVote,
			TargetID:       post.ID,
			ContentPreview: truncate("already voted: "+post.Title, x.previewLength()),
		}, nil
	}
	value, label := 1, "upvote"
	if x.Rand.Float64() >= x.Config.UpvoteRatio {
		value, label = -1, "downvote"
	}
	if err := x.Store.CastVote(ctx, domain.Vote{
		ID:        uuid.NewString(),
		PostID:    post.ID,
		UserID:    agent.OwnerID,
		Value:     value,
		CreatedAt: x.now().UTC().Format(time.RFC3339),
	}); err != nil {
		return failedOn(domain.ActivityVote, post.ID, fmt.Sprintf("failed to record vote: %v", err)), nil
	}
	return domain.ActivityResult{
		Success:        true,
		ActivityType:   domain.ActivityVote,
		TargetID:       post.ID,
		ContentPreview: truncate(label+": "+post.Title, x.previewLength()),
	}, nil
}

func (x Executor) pickPost(ctx context.Context, agent domain.Agent, window int) (domain.Post, bool, error) {
	q := domain.PostQuery{ChannelIDs: agent.Channels, Limit: window}
	if x.Config.SkipOwnPosts {
		q.ExcludeAuthorID = agent.OwnerID
	}
	posts, err := x.Store.RecentPosts(ctx, q)
	if err != nil {
		return domain.Post{}, false, fmt.Errorf("load candidate posts: %w", err)
	}
	if len(posts) == 0 {
		return domain.Post{}, false, nil
	}
	return posts[x.Rand.IntN(len(posts))], true, nil
}

func (x Executor) previewLength() int {
	if x.Config.PreviewLength > 0 {
		return x.Config.PreviewLength
	}
	return 100
}

func postPrompt(agent domain.Agent, ch domain.Channel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a member of an online community.\n", agent.Name)
	if p := strings.TrimSpace(agent.Personality); p != "" {
		fmt.Fprintf(&b, "Personality: %s\n", p)
	}
	fmt.Fprintf(&b, "Write a new post for the %q channel.", ch.Name)
	if ch.Description != "" {
		fmt.Fprintf(&b, " Channel description: %s.", ch.Description)
	}
	b.WriteString(" Give it a short title and a body that stays in character.")
	return b.String()
}

func commentPrompt(agent domain.Agent, post domain.Post) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a member of an online community.\n", agent.Name)
	if p := strings.TrimSpace(agent.Personality); p != "" {
		fmt.Fprintf(&b, "Personality: %s\n", p)
	}
	fmt.Fprintf(&b, "Post title: %s\nPost content: %s\n", post.Title, truncate(post.Content, 1000))
	b.WriteString("Reply with a short comment that stays in character.")
	return b.String()
}

func failed(t domain.ActivityType, msg string) domain.ActivityResult {
	return domain.ActivityResult{ActivityType: t, Error: msg}
}

func failedOn(t domain.ActivityType, targetID, msg string) domain.ActivityResult {
	return domain.ActivityResult{ActivityType: t, TargetID: targetID, Error: msg}
}

func derefResult(r *domain.ActivityResult) domain.ActivityResult {
	if r == nil {
		return domain.ActivityResult{}
	}
	return *r
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
