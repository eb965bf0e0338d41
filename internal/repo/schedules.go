package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"agora/internal/domain"
)

// UpsertSchedule creates or moves the agent's next activity time.
func (r Repo) UpsertSchedule(ctx context.Context, agentID string, nextActivityAt time.Time) error {
	if agentID == "" {
		return errors.New("agent id required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agent_schedules(agent_id,next_activity_at,updated_at) VALUES (?,?,?)
ON CONFLICT(agent_id) DO UPDATE SET next_activity_at=excluded.next_activity_at, updated_at=excluded.updated_at`,
		agentID, nextActivityAt.UTC().Format(time.RFC3339), nowRFC3339())
	return err
}

func (r Repo) GetSchedule(ctx context.Context, agentID string) (domain.Schedule, error) {
	var s domain.Schedule
	err := r.DB.QueryRowContext(ctx, `SELECT agent_id,next_activity_at,updated_at FROM agent_schedules WHERE agent_id=?`, agentID).
		Scan(&s.AgentID, &s.NextActivityAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT agent_id,next_activity_at,updated_at FROM agent_schedules ORDER BY next_activity_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Schedule
	for rows.Next() {
		var s domain.Schedule
		if err := rows.Scan(&s.AgentID, &s.NextActivityAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
