package daemon_test

import (
	"context"
	"testing"
	"time"

	"linesync/internal/backend"
	"linesync/internal/config"
	"linesync/internal/connectivity"
	"linesync/internal/daemon"
	"linesync/internal/queue"
	"linesync/internal/syncer"
	"linesync/internal/testsupport"
)

type fixture struct {
	cfg      *config.Config
	fake     *testsupport.FakeBackend
	store    *queue.Store
	observer *connectivity.Observer
	daemon   *daemon.Daemon
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := testsupport.NewFakeBackend(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(fake.URL))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	client := backend.New(cfg)
	observer := connectivity.New(cfg, client)
	d, err := daemon.New(cfg, nil, daemon.Deps{
		Store:    store,
		Syncer:   syncer.New(cfg, store, client),
		Observer: observer,
		Pinger:   client,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return &fixture{cfg: cfg, fake: fake, store: store, observer: observer, daemon: d}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonStartStop(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := f.daemon.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath != f.cfg.LockPath() {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}
	if len(status.Preflight) == 0 {
		t.Fatal("expected preflight results in status")
	}

	// Second start should fail
	if err := f.daemon.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	f.daemon.Stop()
	if f.daemon.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonRefusesMissingDependencies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := daemon.New(cfg, nil, daemon.Deps{}); err == nil {
		t.Fatal("expected error without store, syncer and observer")
	}
}

func TestEnqueueWhileOfflineFlushesOnReconnect(t *testing.T) {
	f := newFixture(t)
	f.fake.SetOffline(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.daemon.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer f.daemon.Stop()
	waitFor(t, "offline state", func() bool { return f.observer.State() == connectivity.StateOffline })

	res, err := f.daemon.Enqueue(ctx, syncer.Draft{LineID: "line-1", UserID: "user-1", Date: "2026-03-14", Quantity: 12})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if !res.Queued || res.Status != queue.StatusPending {
		t.Fatalf("expected record queued, got %+v", res)
	}
	if n := f.fake.Count("insert"); n != 0 {
		t.Fatalf("expected no insert while offline, got %d", n)
	}

	f.fake.SetOffline(false)
	f.observer.Trigger()
	waitFor(t, "queue drained", func() bool {
		recs, err := f.store.List(ctx)
		return err == nil && len(recs) == 0
	})
	if rows := f.fake.Rows("production_records"); len(rows) != 1 {
		t.Fatalf("expected one remote row, got %d", len(rows))
	}
	waitFor(t, "flush result", func() bool { return f.daemon.Status(ctx).LastFlush != nil })
}

func TestRetryAndClearFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.store.Enqueue(ctx, &queue.Record{LineID: "line-1", Date: "2026-03-14", Quantity: 3})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := f.store.RecordFailure(ctx, rec.LocalID, nil, 1); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	recs, _, err := f.daemon.RetryFailed(ctx, []string{rec.LocalID})
	if err != nil || recs != 1 {
		t.Fatalf("expected one record retried, got %d (%v)", recs, err)
	}

	if _, err := f.store.RecordFailure(ctx, rec.LocalID, nil, 1); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	cleared, err := f.daemon.ClearFailed(ctx)
	if err != nil || cleared != 1 {
		t.Fatalf("expected one record cleared, got %d (%v)", cleared, err)
	}
	if got, _ := f.store.Get(ctx, rec.LocalID); got != nil {
		t.Fatal("expected record removed")
	}
}

func TestRemoveRecordsReportsOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.store.Enqueue(ctx, &queue.Record{LineID: "line-1", Date: "2026-03-14", Quantity: 3})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	res, err := f.daemon.RemoveRecords(ctx, []string{rec.LocalID, "5b0e7c9e-7d8c-4c5e-9d7f-1a2b3c4d5e6f"})
	if err != nil {
		t.Fatalf("RemoveRecords: %v", err)
	}
	if len(res.Records) != 2 || res.Records[0].Outcome != "removed" || res.Records[1].Outcome != "not_found" {
		t.Fatalf("unexpected outcomes %+v", res.Records)
	}
}

func TestFlushReportsSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.store.Enqueue(ctx, &queue.Record{LineID: "line-1", Date: "2026-03-14", Quantity: 3}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	summary, err := f.daemon.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if summary.Synced != 1 || summary.Skipped {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestTestNotificationWithoutSinks(t *testing.T) {
	f := newFixture(t)
	sent, message, err := f.daemon.TestNotification(context.Background())
	if err != nil || sent || message == "" {
		t.Fatalf("expected unsent test notification with a message, got %v %q %v", sent, message, err)
	}
}
