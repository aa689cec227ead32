package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"linesync/internal/services"
)

// ErrDuplicateRecord is returned when a record with the same local ID is already queued.
var ErrDuplicateRecord = errors.New("record already queued")

// Enqueue validates and appends a record to the queue. A missing LocalID is
// assigned here. The queue has no size bound.
func (s *Store) Enqueue(ctx context.Context, rec *Record) (*Record, error) {
	if rec == nil {
		return nil, errors.New("record is nil")
	}
	if err := rec.Validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue", "", err)
	}
	if rec.LocalID == "" {
		rec.LocalID = uuid.NewString()
	} else if _, err := uuid.Parse(rec.LocalID); err != nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue", "local id must be a UUID", err)
	}

	ts := s.timestamp()
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO queued_records (
            local_id, line_id, user_id, record_date, quantity, operator, notes,
            local_photo, status, attempts, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		rec.LocalID,
		rec.LineID,
		nullableString(rec.UserID),
		rec.Date,
		rec.Quantity,
		nullableString(rec.Operator),
		nullableString(rec.Notes),
		nullableString(rec.LocalPhoto),
		StatusPending,
		ts,
		ts,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRecord, rec.LocalID)
		}
		return nil, fmt.Errorf("insert queued record: %w", err)
	}
	return s.Get(ctx, rec.LocalID)
}

// Get fetches a queued record by local ID. It returns nil when the record is absent.
func (s *Store) Get(ctx context.Context, localID string) (*Record, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+recordColumns+` FROM queued_records WHERE local_id = ?`, localID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// List returns queued records in queue order, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM queued_records`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		args = statusArgs(statuses)
	}
	return s.queryRecords(ctx, query+recordOrder, args...)
}

// Unsynced returns records that still need a flush pass, in queue order.
func (s *Store) Unsynced(ctx context.Context) ([]*Record, error) {
	return s.List(ctx, StatusPending, StatusPhotoPending)
}

// ListByLine returns every queued record for a production line, including failed ones.
func (s *Store) ListByLine(ctx context.Context, lineID string) ([]*Record, error) {
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM queued_records WHERE line_id = ?`+recordOrder, lineID)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkRowConfirmed records that the backend row exists. Records without a
// photo are complete and removed; the others move to photo_pending. The
// returned record carries the resulting status.
func (s *Store) MarkRowConfirmed(ctx context.Context, localID, remoteID string) (*Record, error) {
	var result *Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM queued_records WHERE local_id = ?`, localID))
		if err != nil {
			return err
		}
		rec.RemoteID = remoteID
		if !rec.HasPhoto() {
			if _, err := tx.ExecContext(ctx, `DELETE FROM queued_records WHERE local_id = ?`, localID); err != nil {
				return err
			}
			rec.Status = StatusSynced
			result = rec
			return nil
		}
		rec.Status = StatusPhotoPending
		rec.UpdatedAt = s.now().UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE queued_records SET status = ?, remote_id = ?, last_error = NULL, updated_at = ? WHERE local_id = ?`,
			StatusPhotoPending, remoteID, s.timestamp(), localID,
		); err != nil {
			return err
		}
		result = rec
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mark row confirmed: record %s not queued", localID)
	}
	if err != nil {
		return nil, fmt.Errorf("mark row confirmed: %w", err)
	}
	return result, nil
}

// MarkPhotoUploaded stores the confirmed storage path so a retry only has to
// repeat the photo_path update.
func (s *Store) MarkPhotoUploaded(ctx context.Context, localID, remotePath string) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE queued_records SET remote_photo_path = ?, updated_at = ? WHERE local_id = ?`,
		remotePath, s.timestamp(), localID,
	)
	if err != nil {
		return fmt.Errorf("mark photo uploaded: %w", err)
	}
	return nil
}

// Complete removes a record whose row and photo are both confirmed. The removed
// record is returned with StatusSynced so callers can clean up staged files.
func (s *Store) Complete(ctx context.Context, localID string) (*Record, error) {
	rec, err := s.remove(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("complete record: %w", err)
	}
	if rec != nil {
		rec.Status = StatusSynced
	}
	return rec, nil
}

// Remove deletes a queued record regardless of state. It is reserved for
// explicit user action and returns nil when nothing matched.
func (s *Store) Remove(ctx context.Context, localID string) (*Record, error) {
	rec, err := s.remove(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("remove record: %w", err)
	}
	return rec, nil
}

func (s *Store) remove(ctx context.Context, localID string) (*Record, error) {
	var removed *Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM queued_records WHERE local_id = ?`, localID))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM queued_records WHERE local_id = ?`, localID); err != nil {
			return err
		}
		removed = rec
		return nil
	})
	return removed, err
}

// RecordFailure counts a failed attempt. When maxAttempts is positive and has
// been reached the record moves to StatusFailed. The resulting status is returned.
func (s *Store) RecordFailure(ctx context.Context, localID string, cause error, maxAttempts int) (Status, error) {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	var status Status
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			current  string
			attempts int
		)
		if err := tx.QueryRowContext(ctx, `SELECT status, attempts FROM queued_records WHERE local_id = ?`, localID).Scan(&current, &attempts); err != nil {
			return err
		}
		attempts++
		status = Status(current)
		if maxAttempts > 0 && attempts >= maxAttempts {
			status = StatusFailed
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE queued_records SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE local_id = ?`,
			status, attempts, message, s.timestamp(), localID,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("record failure: %w", err)
	}
	return status, nil
}

// RetryFailed moves failed records back into the flush rotation. Records whose
// row is already confirmed resume at photo_pending. With no IDs every failed
// record is retried.
func (s *Store) RetryFailed(ctx context.Context, localIDs ...string) (int64, error) {
	query := `UPDATE queued_records
        SET status = CASE WHEN remote_id IS NULL THEN ? ELSE ? END,
            attempts = 0, last_error = NULL, updated_at = ?
        WHERE status = ?`
	args := []any{StatusPending, StatusPhotoPending, s.timestamp(), StatusFailed}
	if len(localIDs) > 0 {
		query += ` AND local_id IN (` + makePlaceholders(len(localIDs)) + `)`
		for _, id := range localIDs {
			args = append(args, id)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed records: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed deletes every dead-lettered record and returns what was removed.
func (s *Store) ClearFailed(ctx context.Context) ([]*Record, error) {
	failed, err := s.List(ctx, StatusFailed)
	if err != nil {
		return nil, err
	}
	removed := make([]*Record, 0, len(failed))
	for _, rec := range failed {
		gone, err := s.Remove(ctx, rec.LocalID)
		if err != nil {
			return removed, err
		}
		if gone != nil {
			removed = append(removed, gone)
		}
	}
	return removed, nil
}
