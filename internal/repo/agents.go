package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"agora/internal/domain"
)

const agentColumns = `a.id,a.owner_id,a.name,COALESCE(a.personality,''),a.channels_json,a.activity_per_day,a.is_active,a.last_active_at,a.created_at,a.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (domain.Agent, error) {
	var (
		a        domain.Agent
		channels string
		active   int
		last     sql.NullString
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Personality, &channels, &a.ActivityPerDay, &active, &last, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return a, ErrNotFound
		}
		return a, err
	}
	a.IsActive = active != 0
	if last.Valid {
		a.LastActiveAt = &last.String
	}
	a.Channels = []string{}
	if channels != "" {
		if err := json.Unmarshal([]byte(channels), &a.Channels); err != nil {
			return a, fmt.Errorf("agent %s channels: %w", a.ID, err)
		}
	}
	return a, nil
}

func encodeChannels(ids []string) (string, error) {
	seen := make(map[string]struct{}, len(ids))
	set := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		set = append(set, id)
	}
	b, err := json.Marshal(set)
	return string(b), err
}

func (r Repo) InsertAgent(ctx context.Context, a domain.Agent) (domain.Agent, error) {
	if strings.TrimSpace(a.OwnerID) == "" {
		return domain.Agent{}, errors.New("owner id required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return domain.Agent{}, errors.New("agent name required")
	}
	if a.ActivityPerDay < 0 {
		return domain.Agent{}, errors.New("activity per day must not be negative")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	channels, err := encodeChannels(a.Channels)
	if err != nil {
		return domain.Agent{}, err
	}
	now := nowRFC3339()
	a.CreatedAt, a.UpdatedAt = now, now
	active := 0
	if a.IsActive {
		active = 1
	}
	if _, err := r.DB.ExecContext(ctx, `INSERT INTO agents(id,owner_id,name,personality,channels_json,activity_per_day,is_active,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.OwnerID, a.Name, nullable(a.Personality), channels, a.ActivityPerDay, active, a.CreatedAt, a.UpdatedAt); err != nil {
		return domain.Agent{}, err
	}
	return r.GetAgent(ctx, a.ID)
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	return scanAgent(r.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents a WHERE a.id=?`, id))
}

// ListAgents returns agents, optionally restricted to one owner.
func (r Repo) ListAgents(ctx context.Context, ownerID string) ([]domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents a`
	var args []any
	if ownerID != "" {
		query += ` WHERE a.owner_id=?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY a.created_at ASC, a.id ASC`
	return r.queryAgents(ctx, query, args...)
}

// ListDueActiveAgents returns active agents whose next activity time has
// passed. Agents never scheduled before are due.
func (r Repo) ListDueActiveAgents(ctx context.Context, now time.Time) ([]domain.Agent, error) {
	return r.queryAgents(ctx, `SELECT `+agentColumns+`
FROM agents a
LEFT JOIN agent_schedules s ON s.agent_id=a.id
WHERE a.is_active=1 AND (s.next_activity_at IS NULL OR s.next_activity_at <= ?)
ORDER BY COALESCE(s.next_activity_at, a.created_at) ASC, a.id ASC`, now.UTC().Format(time.RFC3339))
}

func (r Repo) queryAgents(ctx context.Context, query string, args ...any) ([]domain.Agent, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// AgentUpdate holds optional agent changes; nil fields are left untouched.
type AgentUpdate struct {
	Name           *string
	Personality    *string
	Channels       *[]string
	ActivityPerDay *float64
	IsActive       *bool
}

func (r Repo) UpdateAgent(ctx context.Context, id string, u AgentUpdate) (domain.Agent, error) {
	var (
		fields []string
		args   []any
	)
	if u.Name != nil {
		if strings.TrimSpace(*u.Name) == "" {
			return domain.Agent{}, errors.New("agent name required")
		}
		fields = append(fields, "name=?")
		args = append(args, *u.Name)
	}
	if u.Personality != nil {
		fields = append(fields, "personality=?")
		args = append(args, nullable(*u.Personality))
	}
	if u.Channels != nil {
		channels, err := encodeChannels(*u.Channels)
		if err != nil {
			return domain.Agent{}, err
		}
		fields = append(fields, "channels_json=?")
		args = append(args, channels)
	}
	if u.ActivityPerDay != nil {
		if *u.ActivityPerDay < 0 {
			return domain.Agent{}, errors.New("activity per day must not be negative")
		}
		fields = append(fields, "activity_per_day=?")
		args = append(args, *u.ActivityPerDay)
	}
	if u.IsActive != nil {
		active := 0
		if *u.IsActive {
			active = 1
		}
		fields = append(fields, "is_active=?")
		args = append(args, active)
	}
	if len(fields) == 0 {
		return r.GetAgent(ctx, id)
	}
	fields = append(fields, "updated_at=?")
	args = append(args, nowRFC3339(), id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE agents SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return domain.Agent{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Agent{}, ErrNotFound
	}
	return r.GetAgent(ctx, id)
}

func (r Repo) DeleteAgent(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM agents WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAgentActive stamps the agent's last activity time.
func (r Repo) MarkAgentActive(ctx context.Context, agentID string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE agents SET last_active_at=? WHERE id=?`, at.UTC().Format(time.RFC3339), agentID)
	return err
}
