package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"agora/internal/domain"
)

// ErrDuplicateVote is returned when the user already voted on the post.
var ErrDuplicateVote = errors.New("duplicate vote")

func (r Repo) HasVoted(ctx context.Context, postID, userID string) (bool, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM votes WHERE post_id=? AND user_id=?`, postID, userID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// CastVote records the vote and applies its value to the post's score and
// the post author's karma in one transaction. Nothing is written if any step
// fails.
func (r Repo) CastVote(ctx context.Context, v domain.Vote) error {
	if v.Value != 1 && v.Value != -1 {
		return fmt.Errorf("invalid vote value %d", v.Value)
	}
	if v.CreatedAt == "" {
		v.CreatedAt = nowRFC3339()
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var authorID string
	err = tx.QueryRowContext(ctx, `SELECT author_id FROM posts WHERE id=?`, v.PostID).Scan(&authorID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("post %s: %w", v.PostID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO votes(id,post_id,user_id,value,created_at) VALUES (?,?,?,?,?)`,
		v.ID, v.PostID, v.UserID, v.Value, v.CreatedAt)
	if isUniqueConstraint(err) {
		return ErrDuplicateVote
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE posts SET score=score+? WHERE id=?`, v.Value, v.PostID); err != nil {
		return fmt.Errorf("apply score: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET karma=karma+? WHERE id=?`, v.Value, authorID); err != nil {
		return fmt.Errorf("apply karma: %w", err)
	}
	return tx.Commit()
}
