package repo

import (
	"context"
	"database/sql"

	"agora/internal/domain"
)

const activityColumns = `seq,id,agent_id,activity_type,COALESCE(target_id,''),COALESCE(content_preview,''),success,COALESCE(error,''),created_at`

// RecentActivityTypes returns up to limit activity types, newest first.
func (r Repo) RecentActivityTypes(ctx context.Context, agentID string, limit int) ([]domain.ActivityType, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT activity_type FROM agent_activity_logs WHERE agent_id=? ORDER BY seq DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityType
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		res = append(res, domain.ActivityType(t))
	}
	return res, rows.Err()
}

// ListActivities returns an agent's activity records, newest first. An empty
// agentID lists all agents.
func (r Repo) ListActivities(ctx context.Context, agentID string, limit int) ([]domain.ActivityRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT ` + activityColumns + ` FROM agent_activity_logs`
	var args []any
	if agentID != "" {
		query += ` WHERE agent_id=?`
		args = append(args, agentID)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)
	return r.queryActivities(ctx, query, args...)
}

// ActivitiesAfter returns records with seq greater than cursor, oldest first.
func (r Repo) ActivitiesAfter(ctx context.Context, cursor int64, limit int) ([]domain.ActivityRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryActivities(ctx, `SELECT `+activityColumns+` FROM agent_activity_logs WHERE seq>? ORDER BY seq ASC LIMIT ?`, cursor, limit)
}

func (r Repo) LatestActivitySeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(seq) FROM agent_activity_logs`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func (r Repo) queryActivities(ctx context.Context, query string, args ...any) ([]domain.ActivityRecord, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityRecord
	for rows.Next() {
		var (
			rec     domain.ActivityRecord
			typ     string
			success int
		)
		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.AgentID, &typ, &rec.TargetID, &rec.ContentPreview, &success, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.ActivityType = domain.ActivityType(typ)
		rec.Success = success != 0
		res = append(res, rec)
	}
	return res, rows.Err()
}
