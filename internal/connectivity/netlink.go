package connectivity

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"linesync/internal/logging"
)

// netlinkTrigger listens for udev events on network interfaces and asks
// for an immediate probe, so a cable or wifi change is noticed before the
// next tick.
type netlinkTrigger struct {
	logger *slog.Logger
	fire   func()

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newNetlinkTrigger(logger *slog.Logger, fire func()) *netlinkTrigger {
	return &netlinkTrigger{
		logger: logging.NewComponentLogger(logger, "netlink-trigger"),
		fire:   fire,
	}
}

// Start begins listening. A socket failure is logged and ignored; the
// observer still probes on its interval.
func (m *netlinkTrigger) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; connectivity changes will be noticed on the probe interval",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open netlink sockets or set connectivity.netlink = false"),
			logging.String(logging.FieldImpact, "reconnects are detected more slowly"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true
	quit := m.quit
	go m.loop(ctx, conn, quit)

	m.logger.Debug("netlink trigger started",
		logging.String(logging.FieldEventType, "netlink_trigger_started"),
	)
	return nil
}

// Stop closes the socket.
func (m *netlinkTrigger) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.quit)
	m.quit = nil
	_ = m.conn.Close()
	m.conn = nil
	m.running = false
}

// Running reports whether the trigger is listening.
func (m *netlinkTrigger) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *netlinkTrigger) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(events, errs, buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case ev := <-events:
			m.handleEvent(ev)
		case err := <-errs:
			m.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "reconnects are detected on the probe interval"),
			)
		}
	}
}

// buildMatcher matches SUBSYSTEM=net with ACTION=add|change|move|online.
func buildMatcher() netlink.Matcher {
	action := "^(add|change|move|online)$"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env:    map[string]string{"SUBSYSTEM": "^net$"},
	})
	return rules
}

func (m *netlinkTrigger) handleEvent(ev netlink.UEvent) {
	m.logger.Debug("network interface event",
		logging.String("action", string(ev.Action)),
		logging.String("interface", ev.Env["INTERFACE"]),
	)
	if m.fire != nil {
		m.fire()
	}
}
