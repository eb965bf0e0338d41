package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"agora/internal/domain"
)

// Repo is the SQLite-backed agent repository and forum store.
type Repo struct {
	DB *sql.DB
}

// ErrNotFound is the domain-wide not-found sentinel.
var ErrNotFound = domain.ErrNotFound

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func isUniqueConstraint(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) (domain.User, error) {
	if strings.TrimSpace(u.ID) == "" {
		return domain.User{}, errors.New("user id required")
	}
	if strings.TrimSpace(u.Name) == "" {
		u.Name = u.ID
	}
	if u.CreatedAt == "" {
		u.CreatedAt = nowRFC3339()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,karma,created_at) VALUES (?,?,?,?)`, u.ID, u.Name, u.Karma, u.CreatedAt)
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,karma,created_at FROM users WHERE id=?`, id).
		Scan(&u.ID, &u.Name, &u.Karma, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,karma,created_at FROM users ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Karma, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
