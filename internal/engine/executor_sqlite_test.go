package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/config"
	"agora/internal/db"
	"agora/internal/domain"
	"agora/internal/migrate"
	"agora/internal/repo"
)

func TestExecuteVoteScoreFailureLeavesNoVote(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	r := repo.Repo{DB: conn}

	for _, id := range []string{"owner", "author"} {
		_, err := r.InsertUser(ctx, domain.User{ID: id})
		require.NoError(t, err)
	}
	ch, err := r.EnsureChannel(ctx, "general", "anything")
	require.NoError(t, err)
	_, err = r.CreatePost(ctx, domain.Post{ID: "p1", ChannelID: ch.ID, AuthorID: "author", Title: "t", Content: "c"})
	require.NoError(t, err)

	_, err = conn.Exec(`CREATE TRIGGER fail_score BEFORE UPDATE OF score ON posts BEGIN SELECT RAISE(ABORT, 'transient'); END`)
	require.NoError(t, err)

	x := Executor{Store: r, Config: config.Default().Executor, Rand: fixedRand{f: 0.5}}
	res, err := x.Execute(ctx, testAgent("ada"), domain.ActivityVote)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "failed to record vote")
	voted, err := r.HasVoted(ctx, "p1", "owner")
	require.NoError(t, err)
	assert.False(t, voted, "vote row must roll back with the score update")

	_, err = conn.Exec(`DROP TRIGGER fail_score`)
	require.NoError(t, err)

	res, err = x.Execute(ctx, testAgent("ada"), domain.ActivityVote)
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "upvote: t", res.ContentPreview)

	post, err := r.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, post.Score)
	author, err := r.GetUser(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, 1, author.Karma)
}
