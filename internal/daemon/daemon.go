package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"linesync/internal/api"
	"linesync/internal/config"
	"linesync/internal/connectivity"
	"linesync/internal/lines"
	"linesync/internal/logging"
	"linesync/internal/notifications"
	"linesync/internal/photo"
	"linesync/internal/preflight"
	"linesync/internal/queue"
	"linesync/internal/realtime"
	"linesync/internal/records"
	"linesync/internal/services"
	"linesync/internal/session"
	"linesync/internal/syncer"
)

// Deps are the services the daemon coordinates. Store, Syncer and Observer
// are required; the rest may be nil.
type Deps struct {
	Store    *queue.Store
	Syncer   *syncer.Syncer
	Observer *connectivity.Observer
	Pinger   preflight.Pinger
	Feed     *realtime.Feed
	Records  *records.Service
	Lines    *lines.Service
	Sessions session.Store
	Notifier notifications.Service
}

// Daemon coordinates the background sync services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	syncer   *syncer.Syncer
	observer *connectivity.Observer
	pinger   preflight.Pinger
	feed     *realtime.Feed
	records  *records.Service
	lines    *lines.Service
	sessions session.Store
	notifier notifications.Service
	photos   *photo.Preparer
	queueSvc *api.QueueService
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	checks []preflight.Result
	now    func() time.Time
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Syncer == nil || deps.Observer == nil {
		return nil, errors.New("daemon requires config, store, syncer, and connectivity observer")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewNoop()
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    deps.Store,
		syncer:   deps.Syncer,
		observer: deps.Observer,
		pinger:   deps.Pinger,
		feed:     deps.Feed,
		records:  deps.Records,
		lines:    deps.Lines,
		sessions: deps.Sessions,
		notifier: notifier,
		photos:   photo.NewPreparer(cfg),
		queueSvc: api.NewQueueService(deps.Store),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		now:      time.Now,
	}
	d.observer.Subscribe(d.handleConnected, d.handleDisconnected)

	apiSrv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = apiSrv
	return d, nil
}

// Start acquires the daemon lock, runs preflight checks and launches the
// observer, change feed and HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another linesync daemon instance is already running")
	}

	checks := preflight.RunAll(ctx, d.cfg, d.pinger)
	d.mu.Lock()
	d.checks = checks
	d.mu.Unlock()
	for _, check := range checks {
		if !check.Passed {
			d.logger.Warn("preflight check did not pass",
				logging.String("check", check.Name),
				logging.String("detail", check.Detail),
				logging.Bool("fatal", !check.Warning),
				logging.String(logging.FieldEventType, "preflight_check_failed"),
				logging.String(logging.FieldImpact, "see detail"),
				logging.String(logging.FieldErrorHint, "run linesync status for the full report"),
			)
		}
	}
	if fatal := preflight.Fatal(checks); len(fatal) > 0 {
		_ = d.lock.Unlock()
		return fmt.Errorf("preflight: %s: %s", fatal[0].Name, fatal[0].Detail)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.api.start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx, d.cancel = nil, nil
		return err
	}

	d.goRun("connectivity", d.observer.Run)
	if d.feed != nil {
		d.goRun("realtime", d.feed.Run)
	}

	d.running.Store(true)
	d.logger.Info("linesync daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) goRun(name string, run func(context.Context) error) {
	ctx := d.ctx
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := run(ctx); err != nil {
			d.logger.Error("background service stopped",
				logging.String("service", name),
				logging.Error(err),
				logging.String(logging.FieldEventType, "service_stopped"),
				logging.String(logging.FieldImpact, name+" unavailable until restart"),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
			)
		}
	}()
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_lock_release_failed"),
			logging.String(logging.FieldImpact, "next start may report another instance"),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("linesync daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	notifications.Close(d.notifier)
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// handleConnected runs the reconnect sequence: flush, then refresh of the
// watched lines, then expiry of lapsed lines. It runs in its own goroutine
// so the observer keeps probing.
func (d *Daemon) handleConnected(ctx context.Context) {
	d.publish(ctx, notifications.EventConnectivityChanged, notifications.Payload{"online": true})
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		res, err := d.syncer.FlushThenRefresh(ctx)
		if errors.Is(err, syncer.ErrFlushInProgress) {
			d.logger.Info("reconnect refresh handed to running flush",
				logging.String(logging.FieldEventType, "reconnect_refresh_deferred"),
			)
		} else if err != nil {
			logging.WarnWithContext(d.logger, "reconnect flush failed", "reconnect_flush_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "queued records wait for the next flush"),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
			)
		} else if !res.Skipped {
			d.logger.Info("reconnect flush finished",
				logging.String(logging.FieldEventType, "reconnect_flush_finished"),
				logging.Int("synced", res.Synced),
				logging.Int("pending", res.Pending+res.PhotoPending),
				logging.Int("refreshed_lines", len(res.RefreshedLines)),
			)
		}
		d.disableExpiredLines(ctx)
	}()
}

func (d *Daemon) handleDisconnected(ctx context.Context) {
	d.publish(ctx, notifications.EventConnectivityChanged, notifications.Payload{"online": false})
}

func (d *Daemon) disableExpiredLines(ctx context.Context) {
	if d.lines == nil || d.sessions == nil {
		return
	}
	sess, err := d.sessions.Load(ctx)
	if err != nil {
		return
	}
	n, err := d.lines.DisableExpired(ctx, sess.UserID, d.now())
	if err != nil {
		logging.WarnWithContext(d.logger, "expired line check failed", "line_expiry_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "expired lines stay enabled until the next reconnect"),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
		)
		return
	}
	if n > 0 {
		d.logger.Info("expired lines disabled", logging.Int("count", n))
	}
}

func (d *Daemon) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := d.notifier.Publish(ctx, event, payload); err != nil {
		d.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}

// ListQueue returns queued records and mutations filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) (api.QueueListResponse, error) {
	return d.queueSvc.List(ctx, statuses...)
}

// RemoveRecords deletes queued records on explicit user request and discards their staged photos.
func (d *Daemon) RemoveRecords(ctx context.Context, localIDs []string) (api.RemoveRecordsResult, error) {
	res, err := api.RemoveRecords(ctx, d.store, localIDs)
	if err != nil {
		return res, err
	}
	for _, r := range res.Records {
		if r.Photo == "" {
			continue
		}
		if err := d.photos.Discard(r.Photo); err != nil {
			d.logger.Warn("staged photo left behind",
				logging.String(logging.FieldLocalID, r.LocalID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "photo_discard_failed"),
				logging.String(logging.FieldImpact, "orphaned file in photo directory"),
				logging.String(logging.FieldErrorHint, "delete "+r.Photo+" manually"),
			)
		}
	}
	return res, nil
}

// RemoveMutation deletes a queued mutation.
func (d *Daemon) RemoveMutation(ctx context.Context, id int64) (bool, error) {
	return d.store.RemoveMutation(ctx, id)
}

// RetryFailed moves dead-lettered records (optionally a subset) and all
// dead-lettered mutations back into the flush rotation.
func (d *Daemon) RetryFailed(ctx context.Context, localIDs []string) (int64, int64, error) {
	recs, err := d.store.RetryFailed(ctx, localIDs...)
	if err != nil {
		return 0, 0, err
	}
	var muts int64
	if len(localIDs) == 0 {
		if muts, err = d.store.RetryFailedMutations(ctx); err != nil {
			return recs, 0, err
		}
	}
	if recs+muts > 0 {
		d.observer.Trigger()
	}
	return recs, muts, nil
}

// ClearFailed deletes dead-lettered records.
func (d *Daemon) ClearFailed(ctx context.Context) (int, error) {
	removed, err := d.store.ClearFailed(ctx)
	for _, rec := range removed {
		_ = d.photos.Discard(rec.LocalPhoto)
	}
	return len(removed), err
}

// Flush drains the queue now. A flush already running is reported as skipped.
func (d *Daemon) Flush(ctx context.Context) (api.FlushSummary, error) {
	res, err := d.syncer.Flush(ctx)
	if errors.Is(err, syncer.ErrFlushInProgress) {
		return api.FromFlushResult(res), nil
	}
	if err != nil {
		return api.FlushSummary{}, err
	}
	return api.FromFlushResult(res), nil
}

// Enqueue queues a record and, when the backend is reachable, tries to send it at once.
func (d *Daemon) Enqueue(ctx context.Context, draft syncer.Draft) (syncer.SubmitResult, error) {
	if d.observer.Online() {
		return d.syncer.Submit(ctx, draft)
	}
	rec, err := d.syncer.Enqueue(ctx, draft)
	if err != nil {
		return syncer.SubmitResult{}, err
	}
	return syncer.SubmitResult{LocalID: rec.LocalID, Status: rec.Status, Queued: true}, nil
}

// LineRecords returns the merged record listing of a line.
func (d *Daemon) LineRecords(ctx context.Context, lineID string) (records.Listing, error) {
	if d.records == nil {
		return records.Listing{}, errors.New("records service unavailable")
	}
	return d.records.List(ctx, lineID)
}

// TestNotification sends a test event through the configured sinks.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" && strings.TrimSpace(d.cfg.Notifications.MQTTBroker) == "" {
		return false, "no notification sink configured", nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Connectivity: d.observer.State().String(),
		Flushing:     d.syncer.Flushing(),
		WatchLines:   d.cfg.Sync.WatchLines,
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if since := d.observer.LastChange(); !since.IsZero() {
		status.ConnectivitySince = since.UTC().Format(time.RFC3339)
	}
	if d.feed != nil {
		status.RealtimeConnected = d.feed.Connected()
	}
	if stats, err := d.queueSvc.Stats(ctx); err == nil {
		status.Queue = stats
	} else {
		d.logger.Warn("queue stats unavailable",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_stats_failed"),
			logging.String(logging.FieldImpact, "status shows zero counts"),
			logging.String(logging.FieldErrorHint, "check the queue database"),
		)
	}
	if res, ok := d.syncer.LastResult(); ok {
		summary := api.FromFlushResult(res)
		status.LastFlush = &summary
	}
	d.mu.Lock()
	status.Preflight = api.FromChecks(d.checks)
	d.mu.Unlock()
	return status
}

// DatabaseHealth returns diagnostics for the queue database.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}
