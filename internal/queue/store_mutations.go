package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"linesync/internal/services"
)

// EnqueueMutation validates and stores a mutation for later replay.
func (s *Store) EnqueueMutation(ctx context.Context, m Mutation) (*PendingMutation, error) {
	kind, payload, err := EncodeMutation(m)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "enqueue mutation", "", err)
	}
	ts := s.timestamp()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO pending_mutations (kind, payload, status, attempts, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		kind, string(payload), StatusPending, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("insert mutation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetMutation(ctx, id)
}

// GetMutation fetches a stored mutation by ID, or nil when absent.
func (s *Store) GetMutation(ctx context.Context, id int64) (*PendingMutation, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+mutationColumns+` FROM pending_mutations WHERE id = ?`, id)
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mutation: %w", err)
	}
	return m, nil
}

// Mutations lists stored mutations in insertion order, optionally filtered by status.
// Rows whose kind cannot be decoded are returned with DecodeErr set.
func (s *Store) Mutations(ctx context.Context, statuses ...Status) ([]*PendingMutation, error) {
	query := `SELECT ` + mutationColumns + ` FROM pending_mutations`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		args = statusArgs(statuses)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	defer rows.Close()

	var out []*PendingMutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CompleteMutation removes a mutation once the backend has accepted it.
func (s *Store) CompleteMutation(ctx context.Context, id int64) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM pending_mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("complete mutation: %w", err)
	}
	return nil
}

// RemoveMutation deletes a mutation on explicit user request.
func (s *Store) RemoveMutation(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM pending_mutations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove mutation: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RecordMutationFailure counts a failed replay and dead-letters the mutation
// once maxAttempts (when positive) is reached.
func (s *Store) RecordMutationFailure(ctx context.Context, id int64, cause error, maxAttempts int) (Status, error) {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	var status Status
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var attempts int
		if err := tx.QueryRowContext(ctx, `SELECT attempts FROM pending_mutations WHERE id = ?`, id).Scan(&attempts); err != nil {
			return err
		}
		attempts++
		status = StatusPending
		if maxAttempts > 0 && attempts >= maxAttempts {
			status = StatusFailed
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE pending_mutations SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			status, attempts, message, s.timestamp(), id,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("record mutation failure: %w", err)
	}
	return status, nil
}

// RetryFailedMutations moves dead-lettered mutations back to pending.
func (s *Store) RetryFailedMutations(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE pending_mutations SET status = ?, attempts = 0, last_error = NULL, updated_at = ? WHERE status = ?`,
		StatusPending, s.timestamp(), StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("retry failed mutations: %w", err)
	}
	return res.RowsAffected()
}
