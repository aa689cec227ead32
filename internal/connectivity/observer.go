package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"linesync/internal/config"
	"linesync/internal/logging"
	"linesync/internal/services"
)

// Pinger reports whether the backend answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// State is the last observed reachability.
type State int

const (
	// StateUnknown means no probe has completed yet.
	StateUnknown State = iota
	StateOnline
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateOnline:
		return "online"
	case StateOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Observer probes the backend and reports transitions.
type Observer struct {
	pinger   Pinger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	netlink  *netlinkTrigger

	state   atomic.Int32
	trigger chan struct{}

	mu             sync.Mutex
	onConnected    []func(context.Context)
	onDisconnected []func(context.Context)
	lastChange     time.Time
	now            func() time.Time
}

// Option customizes an Observer.
type Option func(*Observer)

// WithLogger sets the observer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Observer) { o.logger = logging.NewComponentLogger(logger, "connectivity") }
}

// OnConnected registers a callback run on each offline to online transition.
func OnConnected(fn func(context.Context)) Option {
	return func(o *Observer) { o.onConnected = append(o.onConnected, fn) }
}

// OnDisconnected registers a callback run on each online to offline transition.
func OnDisconnected(fn func(context.Context)) Option {
	return func(o *Observer) { o.onDisconnected = append(o.onDisconnected, fn) }
}

// New builds an observer. The netlink trigger is attached when enabled in cfg.
func New(cfg *config.Config, pinger Pinger, opts ...Option) *Observer {
	o := &Observer{
		pinger:   pinger,
		interval: cfg.ProbeInterval(),
		timeout:  cfg.ProbeTimeout(),
		logger:   logging.NewComponentLogger(nil, "connectivity"),
		trigger:  make(chan struct{}, 1),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.interval <= 0 {
		o.interval = 15 * time.Second
	}
	if o.timeout <= 0 {
		o.timeout = 5 * time.Second
	}
	if cfg.Connectivity.Netlink {
		o.netlink = newNetlinkTrigger(o.logger, o.Trigger)
	}
	return o
}

// State returns the last observed reachability.
func (o *Observer) State() State {
	return State(o.state.Load())
}

// Online reports whether the last probe reached the backend.
func (o *Observer) Online() bool {
	return o.State() == StateOnline
}

// LastChange returns when the state last flipped.
func (o *Observer) LastChange() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastChange
}

// Subscribe adds transition callbacks after construction. Either may be nil.
func (o *Observer) Subscribe(onConnected, onDisconnected func(context.Context)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if onConnected != nil {
		o.onConnected = append(o.onConnected, onConnected)
	}
	if onDisconnected != nil {
		o.onDisconnected = append(o.onDisconnected, onDisconnected)
	}
}

// Trigger asks the running loop to probe now. Extra triggers coalesce.
func (o *Observer) Trigger() {
	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Run probes until ctx is cancelled.
func (o *Observer) Run(ctx context.Context) error {
	if err := o.netlink.Start(ctx); err != nil {
		return err
	}
	defer o.netlink.Stop()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-o.trigger:
		}
		o.Probe(ctx)
	}
}

// Probe checks reachability once, fires transition callbacks and returns
// the new state.
func (o *Observer) Probe(ctx context.Context) State {
	probeCtx, cancel := context.WithTimeout(ctx, o.timeout)
	err := o.pinger.Ping(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return o.State()
	}

	next := StateOnline
	if err != nil {
		next = StateOffline
	}
	prev := State(o.state.Swap(int32(next)))
	if prev == next {
		return next
	}

	o.mu.Lock()
	o.lastChange = o.now()
	var callbacks []func(context.Context)
	if next == StateOnline {
		callbacks = append(callbacks, o.onConnected...)
	} else if prev == StateOnline {
		callbacks = append(callbacks, o.onDisconnected...)
	}
	o.mu.Unlock()

	if next == StateOnline {
		o.logger.Info("backend reachable",
			logging.String(logging.FieldEventType, "connectivity_online"),
			logging.String("previous", prev.String()),
		)
	} else {
		logging.WarnWithContext(o.logger, "backend unreachable", "connectivity_offline",
			logging.Error(err),
			logging.String(logging.FieldImpact, "new records are queued locally"),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
		)
	}
	for _, fn := range callbacks {
		fn(ctx)
	}
	return next
}
