package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SnapshotName builds the cache key for a listing scoped to a line.
func SnapshotName(kind, lineID string) string {
	return kind + ":" + lineID
}

// SaveSnapshot stores the last-known-good copy of a remote listing.
func (s *Store) SaveSnapshot(ctx context.Context, name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", name, err)
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO snapshots (name, payload, fetched_at) VALUES (?, ?, ?)
         ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		name, string(data), s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	return nil
}

// LoadSnapshot decodes a cached listing into dest. found is false when no
// snapshot has been saved under name.
func (s *Store) LoadSnapshot(ctx context.Context, name string, dest any) (fetchedAt time.Time, found bool, err error) {
	var payload, fetchedRaw string
	err = s.db.QueryRowContext(ensureContext(ctx), `SELECT payload, fetched_at FROM snapshots WHERE name = ?`, name).Scan(&payload, &fetchedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(payload), dest); err != nil {
		return time.Time{}, false, fmt.Errorf("decode snapshot %s: %w", name, err)
	}
	fetchedAt, _ = parseTimeString(fetchedRaw)
	return fetchedAt, true, nil
}

// DeleteSnapshot drops one cached listing.
func (s *Store) DeleteSnapshot(ctx context.Context, name string) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM snapshots WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", name, err)
	}
	return nil
}

// ClearSnapshots drops every cached listing. Queued records and mutations are kept.
func (s *Store) ClearSnapshots(ctx context.Context) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	return nil
}
