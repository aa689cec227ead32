package queue

import (
	"database/sql"
	"errors"
	"time"
)

const recordColumns = "local_id, line_id, user_id, record_date, quantity, operator, notes, local_photo, remote_photo_path, remote_id, status, attempts, last_error, created_at, updated_at"

// seq is assigned at insert, so it is creation order without relying on clock text.
const recordOrder = " ORDER BY seq"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(scanner rowScanner) (*Record, error) {
	var (
		rec         Record
		userID      sql.NullString
		operator    sql.NullString
		notes       sql.NullString
		localPhoto  sql.NullString
		remotePhoto sql.NullString
		remoteID    sql.NullString
		status      string
		lastError   sql.NullString
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(
		&rec.LocalID,
		&rec.LineID,
		&userID,
		&rec.Date,
		&rec.Quantity,
		&operator,
		&notes,
		&localPhoto,
		&remotePhoto,
		&remoteID,
		&status,
		&rec.Attempts,
		&lastError,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	rec.UserID = userID.String
	rec.Operator = operator.String
	rec.Notes = notes.String
	rec.LocalPhoto = localPhoto.String
	rec.RemotePhotoPath = remotePhoto.String
	rec.RemoteID = remoteID.String
	rec.Status = Status(status)
	rec.LastError = lastError.String
	if created, err := parseTimeString(createdRaw); err == nil {
		rec.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = updated
	}
	return &rec, nil
}

const mutationColumns = "id, kind, payload, status, attempts, last_error, created_at, updated_at"

func scanMutation(scanner rowScanner) (*PendingMutation, error) {
	var (
		m          PendingMutation
		kind       string
		payload    string
		status     string
		lastError  sql.NullString
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&m.ID, &kind, &payload, &status, &m.Attempts, &lastError, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	m.Kind = MutationKind(kind)
	m.Payload = []byte(payload)
	m.Status = Status(status)
	m.LastError = lastError.String
	m.Mutation, m.DecodeErr = DecodeMutation(m.Kind, m.Payload)
	if created, err := parseTimeString(createdRaw); err == nil {
		m.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		m.UpdatedAt = updated
	}
	return &m, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}
