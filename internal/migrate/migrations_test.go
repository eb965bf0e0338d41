package migrate_test

import (
	"testing"

	"agora/internal/db"
	"agora/internal/migrate"
)

func TestMigrateIdempotentAndLatestApplied(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	latest, err := migrate.Latest()
	if err != nil {
		t.Fatal(err)
	}
	current, err := migrate.Current(conn)
	if err != nil {
		t.Fatal(err)
	}
	if current != latest || current < 2 {
		t.Fatalf("expected schema version %d, got %d", latest, current)
	}
	for _, table := range []string{"agents", "agent_schedules", "posts", "comments", "votes", "agent_activity_logs", "settings", "api_keys"} {
		var n int
		if err := conn.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil || n != 1 {
			t.Fatalf("table %s missing (n=%d err=%v)", table, n, err)
		}
	}
}
