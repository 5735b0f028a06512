package memory

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// getTestDB returns a database pool for testing.
// Skips the test if DATABASE_URL is not set.
func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	return db
}

func TestPGSave(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	pg := NewPG(db)
	ctx := context.Background()

	content := "integration test memory " + time.Now().Format(time.RFC3339Nano)
	item := NewItem(content, map[string]string{"session_id": "test", "label": "Them"})

	if err := pg.Save(ctx, item); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Saving again with changed metadata must update the row in place.
	item.Metadata["label"] = "You"
	if err := pg.Save(ctx, item); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	var gotContent string
	var rawMeta []byte
	err := db.QueryRow(ctx, "SELECT content, metadata FROM call_memories WHERE id = $1", item.ID).Scan(&gotContent, &rawMeta)
	if err != nil {
		t.Fatalf("failed to read back item: %v", err)
	}
	if gotContent != content {
		t.Errorf("content = %q, want %q", gotContent, content)
	}

	var meta map[string]string
	if err := json.Unmarshal(rawMeta, &meta); err != nil {
		t.Fatalf("failed to unmarshal metadata: %v", err)
	}
	if meta["label"] != "You" {
		t.Errorf("metadata label = %q, want %q", meta["label"], "You")
	}

	var count int
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM call_memories WHERE id = $1", item.ID).Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1", count)
	}

	// Cleanup
	_, _ = db.Exec(ctx, "DELETE FROM call_memories WHERE id = $1", item.ID)
}

func TestPGDeleteOlderThan(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	pg := NewPG(db)
	ctx := context.Background()

	content := "retention test memory " + time.Now().Format(time.RFC3339Nano)
	item := NewItem(content, nil)
	if err := pg.Save(ctx, item); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Backdate the row so the cutoff catches it.
	_, err := db.Exec(ctx, "UPDATE call_memories SET created_at = NOW() - INTERVAL '40 days' WHERE id = $1", item.ID)
	if err != nil {
		t.Fatalf("failed to backdate row: %v", err)
	}

	deleted, err := pg.DeleteOlderThan(ctx, time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("DeleteOlderThan failed: %v", err)
	}
	if deleted < 1 {
		t.Errorf("deleted = %d, want at least 1", deleted)
	}

	var count int
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM call_memories WHERE id = $1", item.ID).Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 0 {
		t.Errorf("row count after delete = %d, want 0", count)
	}
}
