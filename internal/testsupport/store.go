package testsupport

import (
	"database/sql"
	"testing"
	"time"

	"linesync/internal/config"
	"linesync/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// InsertRawMutation writes a pending mutation row directly, bypassing
// validation. It lets tests plant kinds the current build does not know.
func InsertRawMutation(t testing.TB, store *queue.Store, kind, payload string) {
	t.Helper()

	db, err := sql.Open("sqlite", store.Path())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := db.Exec(
		`INSERT INTO pending_mutations (kind, payload, status, attempts, created_at, updated_at) VALUES (?, ?, 'pending', 0, ?, ?)`,
		kind, payload, ts, ts,
	); err != nil {
		t.Fatalf("insert raw mutation: %v", err)
	}
}
