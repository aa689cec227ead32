package queueaccess_test

import (
	"context"
	"errors"
	"testing"

	"linesync/internal/api"
	"linesync/internal/ipc"
	"linesync/internal/queue"
	"linesync/internal/queueaccess"
	"linesync/internal/testsupport"
)

type recordingDiscarder struct{ paths []string }

func (r *recordingDiscarder) Discard(path string) error {
	r.paths = append(r.paths, path)
	return nil
}

func enqueue(t *testing.T, store *queue.Store, photo string) *queue.Record {
	t.Helper()
	rec, err := store.Enqueue(context.Background(), &queue.Record{
		LineID:     "line-1",
		Date:       "2026-03-01",
		Quantity:   12,
		LocalPhoto: photo,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return rec
}

func TestStoreAccessRetryAndClearFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	photos := &recordingDiscarder{}
	access := queueaccess.NewStoreAccess(store, photos)
	ctx := context.Background()

	first := enqueue(t, store, "/tmp/first.jpg")
	second := enqueue(t, store, "")
	for _, rec := range []*queue.Record{first, second} {
		if _, err := store.RecordFailure(ctx, rec.LocalID, errors.New("boom"), 1); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	list, err := access.List(ctx, []string{"failed"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list.Records) != 2 {
		t.Fatalf("expected 2 failed records, got %d", len(list.Records))
	}

	records, mutations, err := access.Retry(ctx, []string{second.LocalID})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if records != 1 || mutations != 0 {
		t.Fatalf("Retry = %d/%d, want 1/0", records, mutations)
	}

	removed, err := access.ClearFailed(ctx)
	if err != nil {
		t.Fatalf("ClearFailed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("ClearFailed removed %d, want 1", removed)
	}
	if len(photos.paths) != 1 || photos.paths[0] != "/tmp/first.jpg" {
		t.Fatalf("expected staged photo to be discarded, got %v", photos.paths)
	}

	if _, err := access.List(ctx, []string{"bogus"}); err == nil {
		t.Fatal("expected invalid status error")
	}
}

func TestStoreAccessRemoveReportsMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	access := queueaccess.NewStoreAccess(store, nil)
	ctx := context.Background()

	rec := enqueue(t, store, "")
	res, err := access.Remove(ctx, []string{rec.LocalID, "missing"})
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if res.RemovedCount != 1 {
		t.Fatalf("RemovedCount = %d, want 1", res.RemovedCount)
	}
	if res.Records[1].Outcome != api.RemoveNotFound {
		t.Fatalf("expected not_found for missing id, got %s", res.Records[1].Outcome)
	}

	health, err := access.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if !health.IntegrityCheck || health.TotalRecords != 0 {
		t.Fatalf("unexpected health %+v", health)
	}
}

func TestOpenWithFallbackUsesStore(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	session, err := queueaccess.OpenWithFallback(
		func() (*ipc.Client, error) { return nil, errors.New("no daemon") },
		func() (*queue.Store, error) { return queue.Open(cfg) },
		nil,
	)
	if err != nil {
		t.Fatalf("OpenWithFallback: %v", err)
	}
	defer session.Close()
	if session.Remote {
		t.Fatal("expected store-backed session")
	}
	list, err := session.Access.List(context.Background(), nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list.Records) != 0 {
		t.Fatalf("expected empty queue, got %d records", len(list.Records))
	}
}

func TestOpenWithFallbackRequiresStoreOpener(t *testing.T) {
	if _, err := queueaccess.OpenWithFallback(nil, nil, nil); err == nil {
		t.Fatal("expected error without store opener")
	}
}
