package api

import (
	"time"

	"linesync/internal/preflight"
	"linesync/internal/queue"
	"linesync/internal/syncer"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// FromRecord converts a queued record to its API representation.
func FromRecord(rec *queue.Record) QueueRecord {
	if rec == nil {
		return QueueRecord{}
	}
	return QueueRecord{
		LocalID:         rec.LocalID,
		LineID:          rec.LineID,
		UserID:          rec.UserID,
		Date:            rec.Date,
		Quantity:        rec.Quantity,
		Operator:        rec.Operator,
		Notes:           rec.Notes,
		Status:          string(rec.Status),
		HasPhoto:        rec.HasPhoto(),
		LocalPhoto:      rec.LocalPhoto,
		RemotePhotoPath: rec.RemotePhotoPath,
		RemoteID:        rec.RemoteID,
		Attempts:        rec.Attempts,
		LastError:       rec.LastError,
		CreatedAt:       formatTime(rec.CreatedAt),
		UpdatedAt:       formatTime(rec.UpdatedAt),
	}
}

// FromRecords converts queued records into API DTOs.
func FromRecords(recs []*queue.Record) []QueueRecord {
	out := make([]QueueRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromRecord(rec))
	}
	return out
}

// FromMutation converts a stored mutation. Mutations whose kind this build
// does not know are still listed, with the decode error.
func FromMutation(m *queue.PendingMutation) QueueMutation {
	if m == nil {
		return QueueMutation{}
	}
	dto := QueueMutation{
		ID:        m.ID,
		Kind:      string(m.Kind),
		Status:    string(m.Status),
		Attempts:  m.Attempts,
		LastError: m.LastError,
		CreatedAt: formatTime(m.CreatedAt),
	}
	if m.DecodeErr != nil {
		dto.DecodeError = m.DecodeErr.Error()
	}
	if m.Mutation != nil {
		dto.LineID = queue.MutationLine(m.Mutation)
	}
	return dto
}

// FromMutations converts stored mutations into API DTOs.
func FromMutations(ms []*queue.PendingMutation) []QueueMutation {
	out := make([]QueueMutation, 0, len(ms))
	for _, m := range ms {
		out = append(out, FromMutation(m))
	}
	return out
}

// FromHealth converts queue counts.
func FromHealth(h queue.HealthSummary) QueueStats {
	return QueueStats(h)
}

// FromFlushResult converts a flush outcome.
func FromFlushResult(r syncer.FlushResult) FlushSummary {
	return FlushSummary{
		Skipped:          r.Skipped,
		Synced:           r.Synced,
		Pending:          r.Pending,
		PhotoPending:     r.PhotoPending,
		Failed:           r.Failed,
		MutationsApplied: r.MutationsApplied,
		MutationsPending: r.MutationsPending,
		MutationsFailed:  r.MutationsFailed,
		MutationsUnknown: r.MutationsUnknown,
		RefreshedLines:   r.RefreshedLines,
		StartedAt:        formatTime(r.StartedAt),
		DurationMillis:   r.Duration.Milliseconds(),
	}
}

// FromChecks converts preflight results.
func FromChecks(results []preflight.Result) []CheckResult {
	if len(results) == 0 {
		return nil
	}
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{Name: r.Name, Passed: r.Passed, Warning: r.Warning, Detail: r.Detail})
	}
	return out
}
