package api

import (
	"context"

	"linesync/internal/queue"
)

// QueueRemover captures the store operation used by per-record remove workflows.
type QueueRemover interface {
	Remove(ctx context.Context, localID string) (*queue.Record, error)
}

type RemoveOutcome string

const (
	RemoveRemoved  RemoveOutcome = "removed"
	RemoveNotFound RemoveOutcome = "not_found"
)

type RemoveResult struct {
	LocalID string        `json:"localId"`
	Outcome RemoveOutcome `json:"outcome"`
	// Photo is the staged file left behind by the removed record, if any.
	Photo string `json:"photo,omitempty"`
}

type RemoveRecordsResult struct {
	RemovedCount int            `json:"removedCount"`
	Records      []RemoveResult `json:"records"`
}

// RemoveRecords removes queued records one by one so each id can report removed/not_found.
func RemoveRecords(ctx context.Context, store QueueRemover, localIDs []string) (RemoveRecordsResult, error) {
	result := RemoveRecordsResult{Records: make([]RemoveResult, 0, len(localIDs))}
	for _, id := range localIDs {
		rec, err := store.Remove(ctx, id)
		if err != nil {
			return RemoveRecordsResult{}, err
		}
		if rec == nil {
			result.Records = append(result.Records, RemoveResult{LocalID: id, Outcome: RemoveNotFound})
			continue
		}
		result.RemovedCount++
		result.Records = append(result.Records, RemoveResult{LocalID: id, Outcome: RemoveRemoved, Photo: rec.LocalPhoto})
	}
	return result, nil
}
