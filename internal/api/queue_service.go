package api

import (
	"context"

	"linesync/internal/queue"
)

// QueueReader abstracts queue persistence interactions needed for API queries.
type QueueReader interface {
	List(ctx context.Context, statuses ...queue.Status) ([]*queue.Record, error)
	Mutations(ctx context.Context, statuses ...queue.Status) ([]*queue.PendingMutation, error)
	Health(ctx context.Context) (queue.HealthSummary, error)
}

// QueueService exposes read-only queue operations returning API DTOs.
type QueueService struct {
	store QueueReader
}

// NewQueueService constructs a QueueService around the provided reader.
func NewQueueService(store QueueReader) *QueueService {
	if store == nil {
		return nil
	}
	return &QueueService{store: store}
}

// List returns queued records and mutations, optionally filtered by status.
func (s *QueueService) List(ctx context.Context, statuses ...queue.Status) (QueueListResponse, error) {
	if s == nil || s.store == nil {
		return QueueListResponse{}, nil
	}
	recs, err := s.store.List(ctx, statuses...)
	if err != nil {
		return QueueListResponse{}, err
	}
	muts, err := s.store.Mutations(ctx, statuses...)
	if err != nil {
		return QueueListResponse{}, err
	}
	return QueueListResponse{Records: FromRecords(recs), Mutations: FromMutations(muts)}, nil
}

// Stats returns queue summary counts.
func (s *QueueService) Stats(ctx context.Context) (QueueStats, error) {
	if s == nil || s.store == nil {
		return QueueStats{}, nil
	}
	h, err := s.store.Health(ctx)
	if err != nil {
		return QueueStats{}, err
	}
	return FromHealth(h), nil
}

// ParseStatuses converts user supplied status names, ignoring blanks.
func ParseStatuses(values []string) ([]queue.Status, []string) {
	var (
		statuses []queue.Status
		invalid  []string
	)
	for _, v := range values {
		if v == "" {
			continue
		}
		status, ok := queue.ParseStatus(v)
		if !ok {
			invalid = append(invalid, v)
			continue
		}
		statuses = append(statuses, status)
	}
	return statuses, invalid
}
