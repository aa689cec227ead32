package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"linesync/internal/config"
	"linesync/internal/logging"
	"linesync/internal/services"
)

const protocolVersion = "1.0.0"

// Phoenix channel events.
const (
	eventJoin      = "phx_join"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"
)

// Refresher re-fetches the cached listings of a line.
type Refresher interface {
	RefreshLine(ctx context.Context, lineID string) error
}

// TokenSource supplies the user token sent with channel joins.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Message is one Phoenix channel frame.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type changeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter"`
}

type joinPayload struct {
	Config struct {
		PostgresChanges []changeFilter `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

type subscription struct {
	lineID string
	table  string
}

func (s subscription) topic() string {
	return "realtime:" + s.table + ":" + s.lineID
}

// Feed keeps one websocket open and turns row changes into line refreshes.
type Feed struct {
	endpoint  string
	tables    []string
	heartbeat time.Duration
	reconnect time.Duration
	refresher Refresher
	tokens    TokenSource
	logger    *slog.Logger
	dialer    *websocket.Dialer

	ref       atomic.Uint64
	connected atomic.Bool

	mu    sync.Mutex
	lines []string
}

// Option customizes a Feed.
type Option func(*Feed)

// WithTokenSource attaches the session whose token authorizes joins.
func WithTokenSource(tokens TokenSource) Option {
	return func(f *Feed) { f.tokens = tokens }
}

// WithLogger sets the feed logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Feed) { f.logger = logging.NewComponentLogger(logger, "realtime") }
}

// New builds a feed subscribed to the configured watch lines.
func New(cfg *config.Config, refresher Refresher, opts ...Option) (*Feed, error) {
	endpoint, err := Endpoint(cfg.Backend.URL, cfg.Backend.APIKey)
	if err != nil {
		return nil, err
	}
	f := &Feed{
		endpoint:  endpoint,
		tables:    []string{cfg.Backend.RecordsTable, cfg.Backend.MembersTable, cfg.Backend.FinanceTable},
		heartbeat: time.Duration(cfg.Realtime.HeartbeatInterval) * time.Second,
		reconnect: time.Duration(cfg.Realtime.ReconnectDelay) * time.Second,
		refresher: refresher,
		logger:    logging.NewComponentLogger(nil, "realtime"),
		dialer:    &websocket.Dialer{HandshakeTimeout: cfg.RequestTimeout()},
		lines:     append([]string(nil), cfg.Sync.WatchLines...),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.heartbeat <= 0 {
		f.heartbeat = 25 * time.Second
	}
	if f.reconnect <= 0 {
		f.reconnect = 5 * time.Second
	}
	return f, nil
}

// Endpoint derives the websocket URL from the backend project URL.
func Endpoint(baseURL, apiKey string) (string, error) {
	if baseURL == "" || apiKey == "" {
		return "", services.Wrap(services.ErrConfiguration, "realtime", "endpoint", "backend url or api key missing", nil)
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "realtime", "endpoint", "invalid backend url", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", services.Wrap(services.ErrConfiguration, "realtime", "endpoint", fmt.Sprintf("unsupported scheme %q", u.Scheme), nil)
	}
	u.Path += "/realtime/v1/websocket"
	u.RawQuery = url.Values{"apikey": {apiKey}, "vsn": {protocolVersion}}.Encode()
	return u.String(), nil
}

// Connected reports whether the websocket is currently open.
func (f *Feed) Connected() bool {
	return f.connected.Load()
}

// Lines returns the subscribed line ids.
func (f *Feed) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

// Run connects and re-connects until ctx is cancelled. With no lines to
// watch it returns immediately.
func (f *Feed) Run(ctx context.Context) error {
	if len(f.Lines()) == 0 {
		f.logger.Info("realtime feed idle; no watch lines configured",
			logging.String(logging.FieldEventType, "realtime_idle"),
		)
		return nil
	}
	for {
		err := f.session(ctx)
		f.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		logging.WarnWithContext(f.logger, "realtime connection lost", "realtime_disconnected",
			logging.Error(err),
			logging.Duration("retry_in", f.reconnect),
			logging.String(logging.FieldImpact, "listings refresh only after flushes until reconnected"),
			logging.String(logging.FieldErrorHint, services.Hint(err)),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.reconnect):
		}
	}
}

func (f *Feed) session(ctx context.Context) error {
	conn, resp, err := f.dialer.DialContext(ctx, f.endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		marker := services.ErrTransient
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			marker = services.ErrUnauthorized
		}
		return services.Wrap(marker, "realtime", "dial", "", err)
	}
	defer conn.Close()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	send := func(msg Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(msg)
	}

	topics, err := f.join(sessionCtx, send)
	if err != nil {
		return err
	}
	f.connected.Store(true)
	f.logger.Info("realtime feed connected",
		logging.String(logging.FieldEventType, "realtime_connected"),
		logging.Int("channels", len(topics)),
	)

	refreshes := make(chan string, 64)
	go f.refreshWorker(sessionCtx, refreshes)

	heartbeatErr := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(f.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				return
			case <-ticker.C:
				if err := send(Message{Topic: "phoenix", Event: eventHeartbeat, Payload: json.RawMessage(`{}`), Ref: f.nextRef()}); err != nil {
					heartbeatErr <- err
					_ = conn.Close()
					return
				}
			}
		}
	}()
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case hbErr := <-heartbeatErr:
				return services.Wrap(services.ErrTransient, "realtime", "heartbeat", "", hbErr)
			default:
			}
			return services.Wrap(services.ErrTransient, "realtime", "read", "", err)
		}
		f.dispatch(msg, topics, refreshes)
	}
}

func (f *Feed) join(ctx context.Context, send func(Message) error) (map[string]string, error) {
	token := ""
	if f.tokens != nil {
		var err error
		if token, err = f.tokens.AccessToken(ctx); err != nil {
			return nil, services.Wrap(services.ErrUnauthorized, "realtime", "join", "", err)
		}
	}
	topics := map[string]string{}
	for _, line := range f.Lines() {
		for _, table := range f.tables {
			if table == "" {
				continue
			}
			sub := subscription{lineID: line, table: table}
			var payload joinPayload
			payload.AccessToken = token
			payload.Config.PostgresChanges = []changeFilter{{
				Event:  "*",
				Schema: "public",
				Table:  table,
				Filter: "line_id=eq." + line,
			}}
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("encode join payload: %w", err)
			}
			if err := send(Message{Topic: sub.topic(), Event: eventJoin, Payload: raw, Ref: f.nextRef()}); err != nil {
				return nil, services.Wrap(services.ErrTransient, "realtime", "join", sub.topic(), err)
			}
			topics[sub.topic()] = line
		}
	}
	return topics, nil
}

func (f *Feed) dispatch(msg Message, topics map[string]string, refreshes chan<- string) {
	line, ok := topics[msg.Topic]
	if !ok {
		return
	}
	switch msg.Event {
	case eventChanges:
		change := parseChange(msg.Payload)
		f.logger.Debug("row change received",
			logging.String(logging.FieldLineID, line),
			logging.String("table", change.Table),
			logging.String("type", change.Type),
		)
		select {
		case refreshes <- line:
		default:
		}
	case eventReply:
		if status := replyStatus(msg.Payload); status != "" && status != "ok" {
			logging.WarnWithContext(f.logger, "channel join refused", "realtime_join_refused",
				logging.String("topic", msg.Topic),
				logging.String("status", status),
				logging.String(logging.FieldImpact, "changes on this line are not pushed"),
				logging.String(logging.FieldErrorHint, "check row level security for the logged in user"),
			)
		}
	case eventError, eventClose:
		logging.WarnWithContext(f.logger, "channel closed by server", "realtime_channel_closed",
			logging.String("topic", msg.Topic),
			logging.String("event", msg.Event),
			logging.String(logging.FieldImpact, "changes on this line are not pushed"),
		)
	}
}

// refreshWorker coalesces bursts of changes on the same line.
func (f *Feed) refreshWorker(ctx context.Context, lines <-chan string) {
	for {
		var first string
		select {
		case <-ctx.Done():
			return
		case first = <-lines:
		}
		batch := map[string]struct{}{first: {}}
	drain:
		for {
			select {
			case line := <-lines:
				batch[line] = struct{}{}
			default:
				break drain
			}
		}
		for line := range batch {
			if f.refresher == nil {
				continue
			}
			lineCtx := services.WithLineID(ctx, line)
			if err := f.refresher.RefreshLine(lineCtx, line); err != nil && !errors.Is(err, context.Canceled) {
				logging.WarnWithContext(logging.WithContext(lineCtx, f.logger), "refresh after change failed", "realtime_refresh_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "cached listing may be stale"),
					logging.String(logging.FieldErrorHint, services.Hint(err)),
				)
			}
		}
	}
}

func (f *Feed) nextRef() string {
	return strconv.FormatUint(f.ref.Add(1), 10)
}

// Change summarizes a postgres_changes payload.
type Change struct {
	Type  string
	Table string
}

func parseChange(raw json.RawMessage) Change {
	var payload struct {
		Data struct {
			Type  string `json:"type"`
			Table string `json:"table"`
		} `json:"data"`
	}
	_ = json.Unmarshal(raw, &payload)
	return Change{Type: payload.Data.Type, Table: payload.Data.Table}
}

func replyStatus(raw json.RawMessage) string {
	var payload struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal(raw, &payload)
	return payload.Status
}
