package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"agora/internal/config"
	"agora/internal/domain"
)

func seeded() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

// fixedRand returns the same draw every time.
type fixedRand struct {
	f float64
	n int
}

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) IntN(n int) int {
	if r.n >= n {
		return n - 1
	}
	return r.n
}

type fakeAgents struct {
	due       []domain.Agent
	dueErr    error
	recent    map[string][]domain.ActivityType
	recentErr error
	schedules map[string]time.Time
	upsertErr error
	marked    []string
}

func (f *fakeAgents) ListDueActiveAgents(ctx context.Context, now time.Time) ([]domain.Agent, error) {
	return f.due, f.dueErr
}

func (f *fakeAgents) RecentActivityTypes(ctx context.Context, agentID string, limit int) ([]domain.ActivityType, error) {
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return f.recent[agentID], nil
}

func (f *fakeAgents) UpsertSchedule(ctx context.Context, agentID string, next time.Time) error {
	if f.schedules == nil {
		f.schedules = map[string]time.Time{}
	}
	f.schedules[agentID] = next
	return f.upsertErr
}

func (f *fakeAgents) MarkAgentActive(ctx context.Context, agentID string, at time.Time) error {
	f.marked = append(f.marked, agentID)
	return nil
}

type executeFunc func(ctx context.Context, agent domain.Agent, t domain.ActivityType) (domain.ActivityResult, error)

type fakeExecutor struct {
	fn    executeFunc
	calls []domain.ActivityType
}

func (f *fakeExecutor) Execute(ctx context.Context, agent domain.Agent, t domain.ActivityType) (domain.ActivityResult, error) {
	f.calls = append(f.calls, t)
	if f.fn == nil {
		return domain.ActivityResult{Success: true, ActivityType: t, TargetID: "x"}, nil
	}
	return f.fn(ctx, agent, t)
}

type fakeLogger struct {
	err     error
	entries map[string]domain.ActivityResult
}

func (f *fakeLogger) Log(ctx context.Context, agentID string, result domain.ActivityResult) error {
	if f.entries == nil {
		f.entries = map[string]domain.ActivityResult{}
	}
	f.entries[agentID] = result
	return f.err
}

type fakeGenerator struct {
	out     domain.Generated
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (domain.Generated, error) {
	f.prompts = append(f.prompts, prompt)
	return f.out, f.err
}

type fakeStore struct {
	channels map[string]domain.Channel
	users    map[string]domain.User
	posts    []domain.Post
	voted    map[string]bool

	postsErr   error
	createErr  error
	voteErr    error
	hasVoteErr error

	createdPosts    []domain.Post
	createdComments []domain.Comment
	votes           []domain.Vote
	deltas          []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		channels: map[string]domain.Channel{
			"general": {ID: "general", Name: "general", Theme: "anything"},
			"dev":     {ID: "dev", Name: "dev", Theme: "programming"},
		},
		users: map[string]domain.User{"owner": {ID: "owner", Name: "owner"}},
		voted: map[string]bool{},
	}
}

func (s *fakeStore) GetChannel(ctx context.Context, id string) (domain.Channel, error) {
	c, ok := s.channels[id]
	if !ok {
		return domain.Channel{}, domain.ErrNotFound
	}
	return c, nil
}

func (s *fakeStore) ChannelByName(ctx context.Context, name string) (domain.Channel, error) {
	for _, c := range s.channels {
		if c.Name == name {
			return c, nil
		}
	}
	return domain.Channel{}, domain.ErrNotFound
}

func (s *fakeStore) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) CreatePost(ctx context.Context, p domain.Post) (domain.Post, error) {
	if s.createErr != nil {
		return domain.Post{}, s.createErr
	}
	s.createdPosts = append(s.createdPosts, p)
	return p, nil
}

func (s *fakeStore) CreateComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	if s.createErr != nil {
		return domain.Comment{}, s.createErr
	}
	s.createdComments = append(s.createdComments, c)
	return c, nil
}

func (s *fakeStore) RecentPosts(ctx context.Context, q domain.PostQuery) ([]domain.Post, error) {
	if s.postsErr != nil {
		return nil, s.postsErr
	}
	var out []domain.Post
	for _, p := range s.posts {
		if q.ExcludeAuthorID != "" && p.AuthorID == q.ExcludeAuthorID {
			continue
		}
		out = append(out, p)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) HasVoted(ctx context.Context, postID, userID string) (bool, error) {
	if s.hasVoteErr != nil {
		return false, s.hasVoteErr
	}
	return s.voted[postID+"/"+userID], nil
}

// CastVote mirrors the atomic store: on error neither the vote nor the delta
// is recorded.
func (s *fakeStore) CastVote(ctx context.Context, v domain.Vote) error {
	if s.voteErr != nil {
		return s.voteErr
	}
	s.votes = append(s.votes, v)
	s.deltas = append(s.deltas, v.Value)
	return nil
}

func testAgent(name string) domain.Agent {
	return domain.Agent{
		ID:             "id-" + name,
		OwnerID:        "owner",
		Name:           name,
		Personality:    "friendly and curious",
		ActivityPerDay: 24,
		IsActive:       true,
	}
}

func testEngine(agents *fakeAgents, exec ActivityExecutor, logger ActivityLogger) Engine {
	return Engine{
		Agents:   agents,
		Executor: exec,
		Activity: logger,
		Config:   config.Default(),
		Rand:     seeded(),
		Now:      func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
}

func testExecutor(store *fakeStore, gen *fakeGenerator, rnd Rand) Executor {
	return Executor{
		Store:     store,
		Generator: gen,
		Config:    config.Default().Executor,
		Rand:      rnd,
		Now:       func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
}

var errBoom = errors.New("boom")

func agentNamed(i int) domain.Agent {
	return testAgent(fmt.Sprintf("agent%d", i))
}
