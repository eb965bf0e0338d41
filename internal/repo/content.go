package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"agora/internal/domain"
)

const postColumns = `id,channel_id,author_id,agent_id,title,content,score,is_agent_generated,created_at`

func scanPost(row rowScanner) (domain.Post, error) {
	var (
		p       domain.Post
		agentID sql.NullString
		agent   int
	)
	if err := row.Scan(&p.ID, &p.ChannelID, &p.AuthorID, &agentID, &p.Title, &p.Content, &p.Score, &agent, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return p, ErrNotFound
		}
		return p, err
	}
	if agentID.Valid {
		p.AgentID = &agentID.String
	}
	p.IsAgentGenerated = agent != 0
	return p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) CreatePost(ctx context.Context, p domain.Post) (domain.Post, error) {
	if strings.TrimSpace(p.Content) == "" {
		return domain.Post{}, errors.New("content is required")
	}
	if p.ID == "" || p.ChannelID == "" || p.AuthorID == "" {
		return domain.Post{}, errors.New("post id, channel and author required")
	}
	if p.CreatedAt == "" {
		p.CreatedAt = nowRFC3339()
	}
	var agentID any
	if p.AgentID != nil {
		agentID = *p.AgentID
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO posts(id,channel_id,author_id,agent_id,title,content,score,is_agent_generated,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ChannelID, p.AuthorID, agentID, p.Title, p.Content, p.Score, boolInt(p.IsAgentGenerated), p.CreatedAt)
	if err != nil {
		return domain.Post{}, err
	}
	return p, nil
}

func (r Repo) GetPost(ctx context.Context, id string) (domain.Post, error) {
	return scanPost(r.DB.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id=?`, id))
}

// RecentPosts returns the newest posts, optionally limited to channels and
// excluding one author.
func (r Repo) RecentPosts(ctx context.Context, q domain.PostQuery) ([]domain.Post, error) {
	var (
		clauses []string
		args    []any
	)
	if len(q.ChannelIDs) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(q.ChannelIDs)), ",")
		clauses = append(clauses, fmt.Sprintf("channel_id IN (%s)", marks))
		for _, id := range q.ChannelIDs {
			args = append(args, id)
		}
	}
	if q.ExcludeAuthorID != "" {
		clauses = append(clauses, "author_id<>?")
		args = append(args, q.ExcludeAuthorID)
	}
	query := `SELECT ` + postColumns + ` FROM posts`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) CreateComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	if strings.TrimSpace(c.Content) == "" {
		return domain.Comment{}, errors.New("content is required")
	}
	if c.ID == "" || c.PostID == "" || c.AuthorID == "" {
		return domain.Comment{}, errors.New("comment id, post and author required")
	}
	if c.CreatedAt == "" {
		c.CreatedAt = nowRFC3339()
	}
	var parentID, agentID any
	if c.ParentID != nil {
		parentID = *c.ParentID
	}
	if c.AgentID != nil {
		agentID = *c.AgentID
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO comments(id,post_id,parent_id,author_id,agent_id,content,score,is_agent_generated,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		c.ID, c.PostID, parentID, c.AuthorID, agentID, c.Content, c.Score, boolInt(c.IsAgentGenerated), c.CreatedAt)
	if err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

func (r Repo) ListComments(ctx context.Context, postID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,post_id,parent_id,author_id,agent_id,content,score,is_agent_generated,created_at FROM comments WHERE post_id=? ORDER BY created_at ASC, id ASC`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var (
			c                 domain.Comment
			parentID, agentID sql.NullString
			agent             int
		)
		if err := rows.Scan(&c.ID, &c.PostID, &parentID, &c.AuthorID, &agentID, &c.Content, &c.Score, &agent, &c.CreatedAt); err != nil {
			return nil, err
		}
		if parentID.Valid {
			c.ParentID = &parentID.String
		}
		if agentID.Valid {
			c.AgentID = &agentID.String
		}
		c.IsAgentGenerated = agent != 0
		res = append(res, c)
	}
	return res, rows.Err()
}
