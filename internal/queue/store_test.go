package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"linesync/internal/queue"
	"linesync/internal/services"
	"linesync/internal/testsupport"
)

func newRecord(line string, qty int) *queue.Record {
	return &queue.Record{LineID: line, UserID: "user-1", Date: "2026-03-14", Quantity: qty, Operator: "Li", Notes: "batch"}
}

func TestEnqueueAssignsLocalIDAndPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	rec, err := store.Enqueue(ctx, newRecord("line-1", 12))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if rec.LocalID == "" {
		t.Fatal("expected local id to be assigned")
	}
	if rec.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", rec.Status)
	}
	if rec.CreatedAt.IsZero() {
		t.Fatal("expected created timestamp")
	}

	fetched, err := store.Get(ctx, rec.LocalID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fetched == nil || fetched.Quantity != 12 || fetched.Operator != "Li" {
		t.Fatalf("unexpected fetched record: %#v", fetched)
	}
}

func TestEnqueueKeepsProvidedLocalID(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	rec := newRecord("line-1", 1)
	rec.LocalID = "8f14e45f-ceea-4e7a-9a8c-1f0e7d3b2a10"
	got, err := store.Enqueue(ctx, rec)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if got.LocalID != rec.LocalID {
		t.Fatalf("expected local id preserved, got %q", got.LocalID)
	}

	if _, err := store.Enqueue(ctx, rec); !errors.Is(err, queue.ErrDuplicateRecord) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	cases := map[string]*queue.Record{
		"zero quantity": {LineID: "line-1", Date: "2026-03-14", Quantity: 0},
		"bad date":      {LineID: "line-1", Date: "14/03/2026", Quantity: 1},
		"missing line":  {Date: "2026-03-14", Quantity: 1},
		"bad local id":  {LocalID: "nope", LineID: "line-1", Date: "2026-03-14", Quantity: 1},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Enqueue(ctx, rec); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUnsyncedPreservesQueueOrder(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	var ids []string
	for i := 1; i <= 5; i++ {
		rec, err := store.Enqueue(ctx, newRecord("line-1", i))
		if err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
		ids = append(ids, rec.LocalID)
	}

	pending, err := store.Unsynced(ctx)
	if err != nil {
		t.Fatalf("Unsynced failed: %v", err)
	}
	if len(pending) != len(ids) {
		t.Fatalf("expected %d records, got %d", len(ids), len(pending))
	}
	for i, rec := range pending {
		if rec.LocalID != ids[i] {
			t.Fatalf("position %d: expected %s, got %s", i, ids[i], rec.LocalID)
		}
	}
}

func TestMarkRowConfirmedWithoutPhotoRemovesRecord(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	rec, err := store.Enqueue(ctx, newRecord("line-1", 3))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	confirmed, err := store.MarkRowConfirmed(ctx, rec.LocalID, rec.LocalID)
	if err != nil {
		t.Fatalf("MarkRowConfirmed failed: %v", err)
	}
	if confirmed.Status != queue.StatusSynced {
		t.Fatalf("expected synced, got %s", confirmed.Status)
	}
	if got, _ := store.Get(ctx, rec.LocalID); got != nil {
		t.Fatalf("expected record removed, got %#v", got)
	}
}

func TestPhotoRecordLifecycle(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	in := newRecord("line-1", 3)
	in.LocalPhoto = "/tmp/photo.jpg"
	rec, err := store.Enqueue(ctx, in)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	confirmed, err := store.MarkRowConfirmed(ctx, rec.LocalID, rec.LocalID)
	if err != nil {
		t.Fatalf("MarkRowConfirmed failed: %v", err)
	}
	if confirmed.Status != queue.StatusPhotoPending {
		t.Fatalf("expected photo_pending, got %s", confirmed.Status)
	}

	path := queue.StoragePath(rec.LineID, rec.LocalID)
	if err := store.MarkPhotoUploaded(ctx, rec.LocalID, path); err != nil {
		t.Fatalf("MarkPhotoUploaded failed: %v", err)
	}
	current, err := store.Get(ctx, rec.LocalID)
	if err != nil || current == nil {
		t.Fatalf("Get failed: %v", err)
	}
	if current.RemotePhotoPath != path || current.RemoteID != rec.LocalID {
		t.Fatalf("unexpected record state: %#v", current)
	}

	done, err := store.Complete(ctx, rec.LocalID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if done == nil || done.Status != queue.StatusSynced || done.LocalPhoto != "/tmp/photo.jpg" {
		t.Fatalf("unexpected completed record: %#v", done)
	}
	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 0 {
		t.Fatalf("expected empty queue, got %+v", health)
	}
}

func TestRecordFailureUnboundedKeepsStatus(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	rec, _ := store.Enqueue(ctx, newRecord("line-1", 1))
	for i := 0; i < 10; i++ {
		status, err := store.RecordFailure(ctx, rec.LocalID, errors.New("offline"), 0)
		if err != nil {
			t.Fatalf("RecordFailure failed: %v", err)
		}
		if status != queue.StatusPending {
			t.Fatalf("expected pending with unbounded retries, got %s", status)
		}
	}
	got, _ := store.Get(ctx, rec.LocalID)
	if got.Attempts != 10 || got.LastError != "offline" {
		t.Fatalf("unexpected attempts/error: %d %q", got.Attempts, got.LastError)
	}
}

func TestRecordFailureDeadLettersAndRetry(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	in := newRecord("line-1", 1)
	in.LocalPhoto = "/tmp/p.jpg"
	withPhoto, _ := store.Enqueue(ctx, in)
	plain, _ := store.Enqueue(ctx, newRecord("line-1", 2))
	if _, err := store.MarkRowConfirmed(ctx, withPhoto.LocalID, withPhoto.LocalID); err != nil {
		t.Fatalf("MarkRowConfirmed failed: %v", err)
	}

	for _, id := range []string{withPhoto.LocalID, plain.LocalID} {
		if status, _ := store.RecordFailure(ctx, id, errors.New("boom"), 2); status != queue.StatusPhotoPending && status != queue.StatusPending {
			t.Fatalf("first failure should not dead-letter, got %s", status)
		}
		if status, _ := store.RecordFailure(ctx, id, errors.New("boom"), 2); status != queue.StatusFailed {
			t.Fatalf("expected failed after max attempts, got %s", status)
		}
	}

	unsynced, _ := store.Unsynced(ctx)
	if len(unsynced) != 0 {
		t.Fatalf("expected failed records excluded from flush, got %d", len(unsynced))
	}

	n, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 retried, got %d", n)
	}
	photo, _ := store.Get(ctx, withPhoto.LocalID)
	if photo.Status != queue.StatusPhotoPending || photo.Attempts != 0 {
		t.Fatalf("expected photo record to resume at photo_pending, got %s/%d", photo.Status, photo.Attempts)
	}
	row, _ := store.Get(ctx, plain.LocalID)
	if row.Status != queue.StatusPending {
		t.Fatalf("expected plain record to resume at pending, got %s", row.Status)
	}
}

func TestRemoveAndClearFailed(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	a, _ := store.Enqueue(ctx, newRecord("line-1", 1))
	b, _ := store.Enqueue(ctx, newRecord("line-2", 1))
	if _, err := store.RecordFailure(ctx, b.LocalID, errors.New("rejected"), 1); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	removed, err := store.Remove(ctx, a.LocalID)
	if err != nil || removed == nil {
		t.Fatalf("Remove failed: %v %#v", err, removed)
	}
	if again, err := store.Remove(ctx, a.LocalID); err != nil || again != nil {
		t.Fatalf("expected second remove to be a no-op, got %#v %v", again, err)
	}

	cleared, err := store.ClearFailed(ctx)
	if err != nil {
		t.Fatalf("ClearFailed failed: %v", err)
	}
	if len(cleared) != 1 || cleared[0].LocalID != b.LocalID {
		t.Fatalf("unexpected cleared records: %#v", cleared)
	}
}

func TestListByLine(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Enqueue(ctx, newRecord("line-a", i+1)); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}
	if _, err := store.Enqueue(ctx, newRecord("line-b", 1)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	recs, err := store.ListByLine(ctx, "line-a")
	if err != nil {
		t.Fatalf("ListByLine failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
}

func TestConcurrentEnqueueLosesNothing(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	const workers = 8
	const perWorker = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := store.Enqueue(ctx, newRecord(fmt.Sprintf("line-%d", w), i+1)); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent enqueue failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Pending != workers*perWorker {
		t.Fatalf("expected %d pending, got %+v", workers*perWorker, health)
	}
}

func TestCheckHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth failed: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %+v", health)
	}
	if health.SchemaVersion != 1 {
		t.Fatalf("unexpected schema version: %d", health.SchemaVersion)
	}
}

func TestReopenKeepsQueue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	rec, err := store.Enqueue(context.Background(), newRecord("line-1", 4))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	store.Close()

	reopened := testsupport.MustOpenStore(t, cfg)
	got, err := reopened.Get(context.Background(), rec.LocalID)
	if err != nil || got == nil {
		t.Fatalf("expected record to survive restart: %v", err)
	}
}
