package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"agora/internal/domain"
)

const channelColumns = `id,name,COALESCE(theme,''),COALESCE(description,''),created_at`

func scanChannel(row *sql.Row) (domain.Channel, error) {
	var c domain.Channel
	err := row.Scan(&c.ID, &c.Name, &c.Theme, &c.Description, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// InsertChannel creates a channel; the id defaults to a slug of the name.
func (r Repo) InsertChannel(ctx context.Context, c domain.Channel) (domain.Channel, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return domain.Channel{}, errors.New("channel name required")
	}
	if c.ID == "" {
		c.ID = strings.ToLower(strings.ReplaceAll(c.Name, " ", "-"))
	}
	if c.CreatedAt == "" {
		c.CreatedAt = nowRFC3339()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO channels(id,name,theme,description,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.Name, nullable(c.Theme), nullable(c.Description), c.CreatedAt)
	return c, err
}

func (r Repo) GetChannel(ctx context.Context, id string) (domain.Channel, error) {
	return scanChannel(r.DB.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE id=?`, id))
}

func (r Repo) ChannelByName(ctx context.Context, name string) (domain.Channel, error) {
	return scanChannel(r.DB.QueryRowContext(ctx, `SELECT `+channelColumns+` FROM channels WHERE name=? COLLATE NOCASE`, name))
}

func (r Repo) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Channel
	for rows.Next() {
		var c domain.Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.Theme, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// EnsureChannel creates the named channel if it does not exist yet.
func (r Repo) EnsureChannel(ctx context.Context, name, theme string) (domain.Channel, error) {
	c, err := r.ChannelByName(ctx, name)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return domain.Channel{}, err
	}
	return r.InsertChannel(ctx, domain.Channel{Name: name, Theme: theme})
}
