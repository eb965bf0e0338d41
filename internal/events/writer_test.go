package events_test

import (
	"context"
	"testing"
	"time"

	"agora/internal/db"
	"agora/internal/domain"
	"agora/internal/events"
	"agora/internal/migrate"
)

func TestWriterLogAppendsRecord(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	w := events.Writer{DB: conn, Now: func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }}
	ctx := context.Background()
	if err := w.Log(ctx, "agent-1", domain.ActivityResult{Success: true, ActivityType: domain.ActivityVote, TargetID: "p1", ContentPreview: "upvote: hi"}); err != nil {
		t.Fatalf("log success: %v", err)
	}
	if err := w.Log(ctx, "agent-1", domain.ActivityResult{ActivityType: domain.ActivityComment, Error: "no posts available to comment on"}); err != nil {
		t.Fatalf("log failure: %v", err)
	}
	var n, ok int
	var lastErr string
	if err := conn.QueryRow(`SELECT COUNT(1), SUM(success) FROM agent_activity_logs WHERE agent_id='agent-1'`).Scan(&n, &ok); err != nil {
		t.Fatal(err)
	}
	if n != 2 || ok != 1 {
		t.Fatalf("expected 2 records with 1 success, got %d/%d", n, ok)
	}
	if err := conn.QueryRow(`SELECT error FROM agent_activity_logs ORDER BY seq DESC LIMIT 1`).Scan(&lastErr); err != nil {
		t.Fatal(err)
	}
	if lastErr != "no posts available to comment on" {
		t.Fatalf("unexpected error column %q", lastErr)
	}
}

func TestWriterRejectsMissingAgent(t *testing.T) {
	if err := (events.Writer{}).Log(context.Background(), "", domain.ActivityResult{}); err == nil {
		t.Fatal("expected error")
	}
}
