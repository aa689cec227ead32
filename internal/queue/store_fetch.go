package queue

import (
	"context"
	"time"
)

// Source says where a listing came from.
type Source string

const (
	SourceRemote   Source = "remote"
	SourceSnapshot Source = "snapshot"
	// SourceNone means the remote failed and nothing was cached.
	SourceNone Source = "none"
)

// Cached is a listing together with its provenance.
type Cached[T any] struct {
	Value     T
	Source    Source
	FetchedAt time.Time
	// RemoteErr is the fetch failure that forced a fallback.
	RemoteErr error
	// SnapshotErr is set when a fresh listing could not be cached.
	SnapshotErr error
}

// Fetch runs fetch and caches its result under name. When fetch fails the
// last saved snapshot is returned instead. The returned error is reserved
// for failures of the local database.
func Fetch[T any](ctx context.Context, s *Store, name string, fetch func(context.Context) (T, error)) (Cached[T], error) {
	value, err := fetch(ctx)
	if err == nil {
		out := Cached[T]{Value: value, Source: SourceRemote, FetchedAt: s.now().UTC()}
		out.SnapshotErr = s.SaveSnapshot(ctx, name, value)
		return out, nil
	}

	var cached T
	fetchedAt, found, loadErr := s.LoadSnapshot(ctx, name, &cached)
	if loadErr != nil {
		return Cached[T]{RemoteErr: err}, loadErr
	}
	if !found {
		return Cached[T]{Source: SourceNone, RemoteErr: err}, nil
	}
	return Cached[T]{Value: cached, Source: SourceSnapshot, FetchedAt: fetchedAt, RemoteErr: err}, nil
}
