package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"linesync/internal/api"
	"linesync/internal/daemon"
	"linesync/internal/logging"
	"linesync/internal/syncer"
)

// ServiceName is the JSON-RPC service the daemon registers.
const ServiceName = "Linesync"

const (
	socketMode     = 0o600
	stopReplyGrace = 100 * time.Millisecond
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer listens on the socket path. onStop, when non-nil, runs after a
// Stop request has stopped the daemon.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger, onStop func()) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &service{daemon: d, logger: logger, ctx: ctx, onStop: onStop}); err != nil {
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(path, socketMode); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restrict socket permissions: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve accepts connections in the background until Close.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go s.acceptLoop()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			s.logger.Warn("accept failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "ipc_accept_failed"),
				logging.String(logging.FieldImpact, "CLI commands fall back to opening the queue directly"),
				logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Close stops accepting, drops open client connections and removes the socket.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	_ = s.listener.Close()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "next daemon start removes the stale socket"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
	onStop func()
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	if s.onStop != nil {
		// Let the reply reach the client before the connection is dropped.
		time.AfterFunc(stopReplyGrace, s.onStop)
	}
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status(s.ctx)
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	statuses, invalid := api.ParseStatuses(req.Statuses)
	if len(invalid) > 0 {
		return fmt.Errorf("invalid status %q", invalid[0])
	}
	list, err := s.daemon.ListQueue(s.ctx, statuses)
	if err != nil {
		return err
	}
	*resp = list
	return nil
}

func (s *service) QueueRemove(req QueueRemoveRequest, resp *QueueRemoveResponse) error {
	if len(req.LocalIDs) == 0 {
		return errors.New("queue remove requires at least one local id")
	}
	result, err := s.daemon.RemoveRecords(s.ctx, req.LocalIDs)
	if err != nil {
		return err
	}
	*resp = result
	s.log().Info("queued records removed",
		logging.String(logging.FieldEventType, "queue_remove"),
		logging.Int("requested", len(req.LocalIDs)))
	return nil
}

func (s *service) MutationRemove(req MutationRemoveRequest, resp *MutationRemoveResponse) error {
	if req.ID <= 0 {
		return fmt.Errorf("invalid mutation id %d", req.ID)
	}
	removed, err := s.daemon.RemoveMutation(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) QueueRetry(req QueueRetryRequest, resp *QueueRetryResponse) error {
	s.log().Debug("queue retry requested", logging.Int("record_count", len(req.LocalIDs)))
	recs, muts, err := s.daemon.RetryFailed(s.ctx, req.LocalIDs)
	if err != nil {
		return err
	}
	resp.Records = recs
	resp.Mutations = muts
	s.log().Info("failed entries retried",
		logging.String(logging.FieldEventType, "queue_retry"),
		logging.Int64("records", recs),
		logging.Int64("mutations", muts))
	return nil
}

func (s *service) QueueClearFailed(_ QueueClearFailedRequest, resp *QueueClearFailedResponse) error {
	removed, err := s.daemon.ClearFailed(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("failed records cleared",
		logging.String(logging.FieldEventType, "queue_clear_failed"),
		logging.Int("removed_count", removed))
	return nil
}

func (s *service) Flush(_ FlushRequest, resp *FlushResponse) error {
	summary, err := s.daemon.Flush(s.ctx)
	if err != nil {
		return err
	}
	*resp = summary
	return nil
}

func (s *service) Enqueue(req EnqueueRequest, resp *EnqueueResponse) error {
	res, err := s.daemon.Enqueue(s.ctx, syncer.Draft{
		LineID:      req.LineID,
		Date:        req.Date,
		Quantity:    req.Quantity,
		Operator:    req.Operator,
		Notes:       req.Notes,
		PhotoSource: req.Photo,
	})
	if err != nil {
		return err
	}
	*resp = EnqueueResponse{
		LocalID:   res.LocalID,
		Status:    string(res.Status),
		Queued:    res.Queued,
		LastError: res.LastError,
	}
	return nil
}

func (s *service) LineRecords(req LineRecordsRequest, resp *LineRecordsResponse) error {
	listing, err := s.daemon.LineRecords(s.ctx, req.LineID)
	if err != nil {
		return err
	}
	*resp = listing
	return nil
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.DatabaseHealth(s.ctx)
	if err != nil && health.Error == "" {
		return err
	}
	*resp = DatabaseHealthResponse(health)
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	return err
}
