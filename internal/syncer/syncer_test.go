package syncer_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"linesync/internal/backend"
	"linesync/internal/config"
	"linesync/internal/notifications"
	"linesync/internal/queue"
	"linesync/internal/syncer"
	"linesync/internal/testsupport"
)

type harness struct {
	cfg    *config.Config
	fake   *testsupport.FakeBackend
	store  *queue.Store
	syncer *syncer.Syncer
	events *recordingNotifier
	lines  *recordingRefresher
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	fake := testsupport.NewFakeBackend(t)
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithBackendURL(fake.URL)}, opts...)...)
	store := testsupport.MustOpenStore(t, cfg)
	h := &harness{
		cfg:    cfg,
		fake:   fake,
		store:  store,
		events: &recordingNotifier{},
		lines:  &recordingRefresher{},
	}
	h.syncer = syncer.New(cfg, store, backend.New(cfg),
		syncer.WithNotifier(h.events),
		syncer.WithRefresher(h.lines),
	)
	return h
}

func draft(line string, qty int) syncer.Draft {
	return syncer.Draft{LineID: line, UserID: "user-1", Date: "2026-03-14", Quantity: qty, Operator: "Li"}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) has(event notifications.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

type recordingRefresher struct {
	mu    sync.Mutex
	lines []string
}

func (r *recordingRefresher) RefreshLine(_ context.Context, lineID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, lineID)
	return nil
}

func (r *recordingRefresher) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestFlushSyncsRecordWithoutPhoto(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.syncer.Enqueue(ctx, draft("line-1", 7))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	result, err := h.syncer.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if result.Synced != 1 || result.Pending != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	rows := h.fake.Rows(h.cfg.Backend.RecordsTable)
	if len(rows) != 1 || rows[0]["id"] != rec.LocalID || rows[0]["quantity"] != float64(7) {
		t.Fatalf("unexpected remote rows: %#v", rows)
	}
	if got, _ := h.store.Get(ctx, rec.LocalID); got != nil {
		t.Fatalf("expected record removed from queue, got %#v", got)
	}
	if h.fake.Count(testsupport.OpUpload) != 0 {
		t.Fatal("record without photo must not upload")
	}
	if !h.events.has(notifications.EventFlushCompleted) {
		t.Fatal("expected flush completed event")
	}
}

func TestFlushUploadsPhotoAndPatchesPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "evidence.jpg")
	testsupport.WriteJPEG(t, src, 120, 90)
	d := draft("line-1", 3)
	d.PhotoSource = src
	rec, err := h.syncer.Enqueue(ctx, d)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if rec.LocalPhoto == "" {
		t.Fatal("expected staged photo")
	}

	result, err := h.syncer.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if result.Synced != 1 {
		t.Fatalf("expected synced record, got %+v", result)
	}
	objectPath := queue.StoragePath("line-1", rec.LocalID)
	if _, ok := h.fake.Object(h.cfg.Backend.PhotoBucket, objectPath); !ok {
		t.Fatalf("expected uploaded object at %s", objectPath)
	}
	rows := h.fake.Rows(h.cfg.Backend.RecordsTable)
	if len(rows) != 1 || rows[0]["photo_path"] != objectPath {
		t.Fatalf("expected photo_path patched, got %#v", rows)
	}
	if _, err := os.Stat(rec.LocalPhoto); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected staged photo removed, stat err=%v", err)
	}
}

func TestPhotoFailureLeavesPhotoPendingWithoutReinsert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "evidence.png")
	testsupport.WritePNG(t, src, 40, 40)
	d := draft("line-1", 2)
	d.PhotoSource = src
	rec, err := h.syncer.Enqueue(ctx, d)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	h.fake.FailNext(testsupport.OpUpload, 1, http.StatusServiceUnavailable)
	result, err := h.syncer.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if result.PhotoPending != 1 || result.Synced != 0 {
		t.Fatalf("expected photo_pending, got %+v", result)
	}
	queued, _ := h.store.Get(ctx, rec.LocalID)
	if queued == nil || queued.Status != queue.StatusPhotoPending || queued.Attempts != 1 || queued.LastError == "" {
		t.Fatalf("unexpected queued record: %#v", queued)
	}

	h.fake.FailNext(testsupport.OpUpdate, 1, http.StatusBadGateway)
	if _, err := h.syncer.Flush(ctx); err != nil {
		t.Fatalf("second Flush failed: %v", err)
	}
	queued, _ = h.store.Get(ctx, rec.LocalID)
	if queued == nil || queued.RemotePhotoPath == "" {
		t.Fatalf("expected confirmed upload to be remembered, got %#v", queued)
	}

	result, err = h.syncer.Flush(ctx)
	if err != nil {
		t.Fatalf("third Flush failed: %v", err)
	}
	if result.Synced != 1 {
		t.Fatalf("expected synced on third flush, got %+v", result)
	}
	if n := h.fake.Count(testsupport.OpInsert); n != 1 {
		t.Fatalf("expected exactly one insert, got %d", n)
	}
	if n := h.fake.Count(testsupport.OpUpload); n != 2 {
		t.Fatalf("expected upload retried once after confirmation, got %d uploads", n)
	}
}

func TestInsertConflictCountsAsConfirmed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.syncer.Enqueue(ctx, draft("line-1", 4))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	h.fake.SeedRow(h.cfg.Backend.RecordsTable, map[string]any{"id": rec.LocalID, "line_id": "line-1"})

	result, err := h.syncer.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if result.Synced != 1 {
		t.Fatalf("expected conflict to count as confirmed, got %+v", result)
	}
	if rows := h.fake.Rows(h.cfg.Backend.RecordsTable); len(rows) != 1 {
		t.Fatalf("expected no duplicate row, got %d", len(rows))
	}
}

func TestOfflineFlushKeepsRecordsInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, _ := h.syncer.Enqueue(ctx, draft("line-1", 1))
	second, _ := h.syncer.Enqueue(ctx, draft("line-2", 2))
	h.fake.SetOffline(true)

	result, err := h.syncer.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if result.Pending != 2 || result.Synced != 0 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	pending, err := h.store.Unsynced(ctx)
	if err != nil {
		t.Fatalf("Unsynced failed: %v", err)
	}
	if len(pending) != 2 || pending[0].LocalID != first.LocalID || pending[1].LocalID != second.LocalID {
		t.Fatalf("expected queue order kept, got %#v", pending)
	}
	for _, rec := range pending {
		if rec.Attempts != 1 || rec.LastError == "" {
			t.Fatalf("expected attempt recorded, got %#v", rec)
		}
	}

	h.fake.SetOffline(false)
	result, err = h.syncer.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush after reconnect failed: %v", err)
	}
	if result.Synced != 2 {
		t.Fatalf("expected both synced after reconnect, got %+v", result)
	}
}

func TestConcurrentFlushIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.syncer.Enqueue(ctx, draft("line-1", 1)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	h.fake.SetDelay(300 * time.Millisecond)

	done := make(chan syncer.FlushResult, 1)
	go func() {
		res, _ := h.syncer.Flush(ctx)
		done <- res
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !h.syncer.Flushing() {
		if time.Now().After(deadline) {
			t.Fatal("first flush never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	skipped, err := h.syncer.Flush(ctx)
	if !errors.Is(err, syncer.ErrFlushInProgress) || !skipped.Skipped {
		t.Fatalf("expected skipped flush, got %+v %v", skipped, err)
	}
	first := <-done
	if first.Synced != 1 {
		t.Fatalf("expected first flush to sync, got %+v", first)
	}
	if n := h.fake.Count(testsupport.OpInsert); n != 1 {
		t.Fatalf("expected exactly one insert, got %d", n)
	}
}

func TestReconnectDuringFlushStillRefreshesWatchedLines(t *testing.T) {
	h := newHarness(t, testsupport.WithWatchLines("line-w"))
	ctx := context.Background()
	if _, err := h.syncer.Enqueue(ctx, draft("line-1", 1)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	h.fake.FailNext(testsupport.OpInsert, 1, http.StatusServiceUnavailable)
	h.fake.SetDelay(300 * time.Millisecond)

	done := make(chan syncer.FlushResult, 1)
	go func() {
		res, _ := h.syncer.Flush(ctx)
		done <- res
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !h.syncer.Flushing() {
		if time.Now().After(deadline) {
			t.Fatal("manual flush never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	skipped, err := h.syncer.FlushThenRefresh(ctx)
	if !errors.Is(err, syncer.ErrFlushInProgress) || !skipped.Skipped {
		t.Fatalf("expected reconnect flush to be skipped, got %+v %v", skipped, err)
	}
	first := <-done
	if first.Changed() {
		t.Fatalf("failing manual flush must not change anything, got %+v", first)
	}
	calls := h.lines.calls()
	if len(calls) != 1 || calls[0] != "line-w" {
		t.Fatalf("expected watched line refreshed after the running flush, got %v", calls)
	}
}

func TestMaxAttemptsDeadLettersRecord(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxAttempts(2))
	ctx := context.Background()
	rec, _ := h.syncer.Enqueue(ctx, draft("line-1", 1))

	h.fake.FailNext(testsupport.OpInsert, 2, http.StatusServiceUnavailable)
	if res, _ := h.syncer.Flush(ctx); res.Pending != 1 {
		t.Fatalf("expected pending after first failure, got %+v", res)
	}
	res, _ := h.syncer.Flush(ctx)
	if res.Failed != 1 {
		t.Fatalf("expected dead letter after second failure, got %+v", res)
	}
	if got, _ := h.store.Get(ctx, rec.LocalID); got == nil || got.Status != queue.StatusFailed {
		t.Fatalf("expected failed record, got %#v", got)
	}
	if !h.events.has(notifications.EventRecordFailed) {
		t.Fatal("expected record failed event")
	}

	if res, _ := h.syncer.Flush(ctx); res.Synced != 0 || res.Failed != 0 {
		t.Fatalf("failed records must be left alone, got %+v", res)
	}
	if _, err := h.store.RetryFailed(ctx); err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if res, _ := h.syncer.Flush(ctx); res.Synced != 1 {
		t.Fatalf("expected retried record to sync, got %+v", res)
	}
}

func TestUnboundedRetryNeverDeadLetters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rec, _ := h.syncer.Enqueue(ctx, draft("line-1", 1))
	h.fake.FailNext(testsupport.OpInsert, 5, http.StatusBadRequest)
	for i := 0; i < 5; i++ {
		if _, err := h.syncer.Flush(ctx); err != nil {
			t.Fatalf("Flush %d failed: %v", i, err)
		}
	}
	got, _ := h.store.Get(ctx, rec.LocalID)
	if got == nil || got.Status != queue.StatusPending || got.Attempts != 5 {
		t.Fatalf("expected pending with 5 attempts, got %#v", got)
	}
}

func TestMutationsReplayInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fake.SeedRow(h.cfg.Backend.LinesTable, map[string]any{"id": "line-1", "name": "Old"})
	h.fake.SeedRow(h.cfg.Backend.RecordsTable, map[string]any{"id": "rec-9", "line_id": "line-1"})

	mutations := []queue.Mutation{
		queue.UpdateLine{LineID: "line-1", Name: "Casting"},
		queue.CreateFinancialEntry{ID: "fin-1", LineID: "line-1", Type: queue.EntryIncome, Category: "黄金销售收入", Amount: 1200, Date: "2026-03-14"},
		queue.DeleteRecord{RecordID: "rec-9", LineID: "line-1"},
	}
	for _, m := range mutations {
		if _, err := h.syncer.QueueMutation(ctx, m); err != nil {
			t.Fatalf("QueueMutation failed: %v", err)
		}
	}

	result, err := h.syncer.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if result.MutationsApplied != 3 || result.MutationsPending != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if lines := h.fake.Rows(h.cfg.Backend.LinesTable); lines[0]["name"] != "Casting" {
		t.Fatalf("line not renamed: %#v", lines)
	}
	finance := h.fake.Rows(h.cfg.Backend.FinanceTable)
	if len(finance) != 1 || finance[0]["type"] != backend.FinanceIncome {
		t.Fatalf("unexpected finance rows: %#v", finance)
	}
	if rows := h.fake.Rows(h.cfg.Backend.RecordsTable); len(rows) != 0 {
		t.Fatalf("expected record deleted, got %#v", rows)
	}
	left, _ := h.store.Mutations(ctx)
	if len(left) != 0 {
		t.Fatalf("expected mutations drained, got %d", len(left))
	}
}

func TestLineAndMemberMutationsReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fake.SeedRow(h.cfg.Backend.UsersTable, map[string]any{"id": "u-7", "username": "wang"})
	h.fake.SeedRow(h.cfg.Backend.MembersTable, map[string]any{"line_id": "line-1", "user_id": "u-old", "role": backend.RoleShiftLead})

	mutations := []queue.Mutation{
		queue.CreateLine{ID: "line-2", Name: "Polish", OwnerID: "boss", Status: backend.LineDisabled, ExpireDate: "2026-04-13"},
		queue.AddMember{ID: "m-1", LineID: "line-1", Username: "wang", Role: backend.RoleShiftLead},
		queue.AddMember{ID: "m-2", LineID: "line-1", UserID: "u-old", Role: backend.RoleShiftLead},
		queue.RemoveMember{LineID: "line-1", UserID: "u-old"},
	}
	for _, m := range mutations {
		if _, err := h.syncer.QueueMutation(ctx, m); err != nil {
			t.Fatalf("QueueMutation failed: %v", err)
		}
	}

	result, err := h.syncer.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if result.MutationsApplied != 4 || result.MutationsPending != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	lines := h.fake.Rows(h.cfg.Backend.LinesTable)
	if len(lines) != 1 || lines[0]["id"] != "line-2" || lines[0]["status"] != backend.LineDisabled || lines[0]["is_active"] != true {
		t.Fatalf("unexpected line rows: %#v", lines)
	}
	members := h.fake.Rows(h.cfg.Backend.MembersTable)
	if len(members) != 1 || members[0]["user_id"] != "u-7" || members[0]["id"] != "m-1" {
		t.Fatalf("unexpected member rows: %#v", members)
	}

	// A second replay of the same line insert lands on the existing row.
	if _, err := h.syncer.QueueMutation(ctx, mutations[0]); err != nil {
		t.Fatal(err)
	}
	if result, _ := h.syncer.Flush(ctx); result.MutationsApplied != 1 {
		t.Fatalf("expected duplicate line insert treated as applied, got %+v", result)
	}
	if n := len(h.fake.Rows(h.cfg.Backend.LinesTable)); n != 1 {
		t.Fatalf("expected one line row, got %d", n)
	}
}

func TestAddMemberForUnknownUserDeadLetters(t *testing.T) {
	h := newHarness(t, testsupport.WithMaxAttempts(3))
	ctx := context.Background()
	if _, err := h.syncer.QueueMutation(ctx, queue.AddMember{ID: "m-1", LineID: "line-1", Username: "ghost", Role: backend.RoleShiftLead}); err != nil {
		t.Fatal(err)
	}

	result, err := h.syncer.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if result.MutationsFailed != 1 {
		t.Fatalf("expected rejected add to dead-letter, got %+v", result)
	}
	if n := h.fake.Count(testsupport.OpInsert); n != 0 {
		t.Fatalf("expected no member insert, got %d", n)
	}
}

func TestUnknownMutationKindStaysQueued(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testsupport.InsertRawMutation(t, h.store, "archive_line", `{"line_id":"line-1"}`)

	result, err := h.syncer.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if result.MutationsUnknown != 1 || result.MutationsPending != 1 {
		t.Fatalf("expected unknown mutation reported, got %+v", result)
	}
	left, err := h.store.Mutations(ctx)
	if err != nil {
		t.Fatalf("Mutations failed: %v", err)
	}
	if len(left) != 1 || !errors.Is(left[0].DecodeErr, queue.ErrUnknownMutationKind) {
		t.Fatalf("expected mutation kept with decode error, got %#v", left)
	}
}

func TestRefreshRunsAfterChangingFlush(t *testing.T) {
	h := newHarness(t, testsupport.WithWatchLines("line-w"))
	ctx := context.Background()

	if res, _ := h.syncer.Flush(ctx); len(res.RefreshedLines) != 0 {
		t.Fatalf("empty flush must not refresh, got %v", res.RefreshedLines)
	}
	if _, err := h.syncer.Enqueue(ctx, draft("line-1", 1)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	res, err := h.syncer.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	calls := h.lines.calls()
	if len(calls) != 2 || calls[0] != "line-1" || calls[1] != "line-w" {
		t.Fatalf("unexpected refresh calls: %v", calls)
	}
	if len(res.RefreshedLines) != 2 {
		t.Fatalf("unexpected refreshed lines: %v", res.RefreshedLines)
	}

	res, err = h.syncer.FlushThenRefresh(ctx)
	if err != nil {
		t.Fatalf("FlushThenRefresh failed: %v", err)
	}
	if len(res.RefreshedLines) != 1 || res.RefreshedLines[0] != "line-w" {
		t.Fatalf("expected watched line refreshed on reconnect, got %v", res.RefreshedLines)
	}
	if last, ok := h.syncer.LastResult(); !ok || len(last.RefreshedLines) != 1 {
		t.Fatalf("expected last result recorded, got %+v %v", last, ok)
	}
}

func TestSubmitOnlineAndOffline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	online, err := h.syncer.Submit(ctx, draft("line-1", 5))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if online.Queued || online.Status != queue.StatusSynced {
		t.Fatalf("expected immediate sync, got %+v", online)
	}

	h.fake.SetOffline(true)
	offline, err := h.syncer.Submit(ctx, draft("line-1", 6))
	if err != nil {
		t.Fatalf("Submit offline failed: %v", err)
	}
	if !offline.Queued || offline.Status != queue.StatusPending || offline.LastError == "" {
		t.Fatalf("expected record kept queued, got %+v", offline)
	}
}

func TestEnqueueRejectsInvalidDraftWithoutStaging(t *testing.T) {
	h := newHarness(t)
	src := filepath.Join(t.TempDir(), "evidence.jpg")
	testsupport.WriteJPEG(t, src, 10, 10)
	d := draft("line-1", 0)
	d.PhotoSource = src
	if _, err := h.syncer.Enqueue(context.Background(), d); err == nil {
		t.Fatal("expected validation error")
	}
	entries, _ := os.ReadDir(h.cfg.Paths.PhotoDir)
	if len(entries) != 0 {
		t.Fatalf("expected no staged photos, found %d", len(entries))
	}
}

type failingRefresher struct{ err error }

func (f failingRefresher) RefreshLine(context.Context, string) error { return f.err }

func TestMultiRefresherTriesEveryListing(t *testing.T) {
	first, last := &recordingRefresher{}, &recordingRefresher{}
	boom := errors.New("members unavailable")
	multi := syncer.MultiRefresher{first, failingRefresher{err: boom}, nil, last}

	err := multi.RefreshLine(context.Background(), "line-1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(first.calls()) != 1 || len(last.calls()) != 1 {
		t.Fatalf("expected both listings refreshed, got %v and %v", first.calls(), last.calls())
	}
}
