package daemonrun

import (
	"fmt"
	"log/slog"

	"linesync/internal/backend"
	"linesync/internal/config"
	"linesync/internal/connectivity"
	"linesync/internal/finance"
	"linesync/internal/lines"
	"linesync/internal/logging"
	"linesync/internal/members"
	"linesync/internal/notifications"
	"linesync/internal/queue"
	"linesync/internal/realtime"
	"linesync/internal/records"
	"linesync/internal/session"
	"linesync/internal/stats"
	"linesync/internal/syncer"
)

// Components is the wired service graph shared by the daemon and the
// one-shot CLI commands.
type Components struct {
	Store    *queue.Store
	Client   *backend.Client
	Sessions *session.FileStore
	Notifier notifications.Service
	Observer *connectivity.Observer
	Members  *members.Directory
	Records  *records.Service
	Finance  *finance.Service
	Lines    *lines.Service
	Stats    *stats.Service
	Syncer   *syncer.Syncer
	// Feed is nil unless realtime.enabled is set.
	Feed *realtime.Feed
}

// Build opens the queue and wires every service. When gateOnline is true the
// listing services skip remote calls while the observer reports offline;
// one-shot commands pass false because no observer loop runs for them.
func Build(cfg *config.Config, logger *slog.Logger, gateOnline bool) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	sessions := session.NewFileStore(cfg)
	client := backend.New(cfg,
		backend.WithTokenSource(sessions),
		backend.WithLogger(logger),
	)
	observer := connectivity.New(cfg, client, connectivity.WithLogger(logger))

	var online func() bool
	if gateOnline {
		online = observer.Online
	}

	dir := members.New(cfg, store, client, members.WithOnline(online), members.WithLogger(logger))
	recs := records.New(cfg, store, client, backend.NewPhotoURLResolver(client, cfg), dir,
		records.WithOnline(online), records.WithLogger(logger))
	fin := finance.New(cfg, store, client, dir, finance.WithOnline(online), finance.WithLogger(logger))
	lns := lines.New(cfg, store, client, lines.WithOnline(online), lines.WithLogger(logger))
	notifier := notifications.NewService(cfg)

	refresher := syncer.MultiRefresher{recs, fin, dir}
	c := &Components{
		Store:    store,
		Client:   client,
		Sessions: sessions,
		Notifier: notifier,
		Observer: observer,
		Members:  dir,
		Records:  recs,
		Finance:  fin,
		Lines:    lns,
		Stats:    stats.NewService(lns, recs, fin),
		Syncer: syncer.New(cfg, store, client,
			syncer.WithNotifier(notifier),
			syncer.WithSessions(sessions),
			syncer.WithRefresher(refresher),
			syncer.WithLogger(logger),
		),
	}

	if cfg.Realtime.Enabled {
		feed, err := realtime.New(cfg, refresher,
			realtime.WithTokenSource(sessions),
			realtime.WithLogger(logger),
		)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		c.Feed = feed
	}
	return c, nil
}

// Close releases the queue database and notification sinks.
func (c *Components) Close() error {
	if c == nil {
		return nil
	}
	notifications.Close(c.Notifier)
	return c.Store.Close()
}
