package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"linesync/internal/backend"
	"linesync/internal/config"
	"linesync/internal/logging"
	"linesync/internal/notifications"
	"linesync/internal/photo"
	"linesync/internal/queue"
	"linesync/internal/session"
)

// ErrFlushInProgress is returned by Flush when another flush is running.
var ErrFlushInProgress = errors.New("flush already in progress")

// Remote is the subset of the backend client the syncer writes through.
type Remote interface {
	Select(ctx context.Context, table string, q backend.Query, dest any) error
	Insert(ctx context.Context, table string, row any, dest any) error
	Update(ctx context.Context, table string, filters []backend.Filter, patch any, dest any) error
	Delete(ctx context.Context, table string, filters []backend.Filter) error
	Upload(ctx context.Context, bucket, path string, body io.Reader, contentType string) error
}

// Refresher re-fetches the cached listings of a line.
type Refresher interface {
	RefreshLine(ctx context.Context, lineID string) error
}

// Syncer owns the enqueue and flush contract.
type Syncer struct {
	store    *queue.Store
	remote   Remote
	photos   *photo.Preparer
	notifier notifications.Service
	sessions session.Store
	refresh  Refresher
	logger   *slog.Logger

	recordsTable string
	linesTable   string
	financeTable string
	membersTable string
	usersTable   string
	bucket       string
	maxAttempts  int
	watchLines   []string

	slotMu      sync.Mutex
	flushing    atomic.Bool
	refreshOwed bool
	lastRun     atomic.Pointer[FlushResult]
	now         func() time.Time
}

// Option customizes a Syncer.
type Option func(*Syncer)

// WithNotifier publishes flush and dead-letter events.
func WithNotifier(n notifications.Service) Option {
	return func(s *Syncer) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithSessions supplies the user id stamped on enqueued records.
func WithSessions(store session.Store) Option {
	return func(s *Syncer) { s.sessions = store }
}

// WithRefresher enables the post-flush refresh continuation.
func WithRefresher(r Refresher) Option {
	return func(s *Syncer) { s.refresh = r }
}

// WithLogger sets the logger used for flush diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Syncer) { s.logger = logging.NewComponentLogger(logger, "syncer") }
}

// New builds a Syncer for cfg.
func New(cfg *config.Config, store *queue.Store, remote Remote, opts ...Option) *Syncer {
	s := &Syncer{
		store:        store,
		remote:       remote,
		photos:       photo.NewPreparer(cfg),
		notifier:     notifications.NewNoop(),
		logger:       logging.NewComponentLogger(nil, "syncer"),
		recordsTable: cfg.Backend.RecordsTable,
		linesTable:   cfg.Backend.LinesTable,
		financeTable: cfg.Backend.FinanceTable,
		membersTable: cfg.Backend.MembersTable,
		usersTable:   cfg.Backend.UsersTable,
		bucket:       cfg.Backend.PhotoBucket,
		maxAttempts:  cfg.Sync.MaxAttempts,
		watchLines:   append([]string(nil), cfg.Sync.WatchLines...),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the queue the syncer drains.
func (s *Syncer) Store() *queue.Store {
	return s.store
}

// Flushing reports whether a flush is running.
func (s *Syncer) Flushing() bool {
	return s.flushing.Load()
}

// LastResult returns the outcome of the most recent completed flush.
func (s *Syncer) LastResult() (FlushResult, bool) {
	res := s.lastRun.Load()
	if res == nil {
		return FlushResult{}, false
	}
	return *res, true
}
