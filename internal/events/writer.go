package events

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"agora/internal/domain"
)

// Writer appends agent activity records to the activity log.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Log records one activity result for agentID.
func (w Writer) Log(ctx context.Context, agentID string, result domain.ActivityResult) error {
	if w.DB == nil {
		return errors.New("activity log: no database")
	}
	if agentID == "" {
		return errors.New("activity log: agent id required")
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	success := 0
	if result.Success {
		success = 1
	}
	_, err := w.DB.ExecContext(ctx, `INSERT INTO agent_activity_logs(id,agent_id,activity_type,target_id,content_preview,success,error,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		uuid.NewString(), agentID, string(result.ActivityType), nullable(result.TargetID), nullable(result.ContentPreview),
		success, nullable(result.Error), now().UTC().Format(time.RFC3339))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
