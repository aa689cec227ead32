package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"linesync/internal/config"
	"linesync/internal/daemon"
	"linesync/internal/ipc"
	"linesync/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// PIDPath returns the pid file written by a running daemon.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "linesync.pid")
}

const currentLogName = "linesync.log"

// CurrentLogPath points at the log of the most recent daemon run.
func CurrentLogPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, currentLogName)
}

// Run starts the linesync daemon runtime loop and blocks until a signal or
// an IPC stop request arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("linesync-%s.log", runID))
	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update linesync.log link: %v\n", err)
	}
	logConfigSnapshot(logger, cfg)

	pidPath := PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	comps, err := Build(cfg, logger, true)
	if err != nil {
		logger.Error("build services", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, logger, daemon.Deps{
		Store:    comps.Store,
		Syncer:   comps.Syncer,
		Observer: comps.Observer,
		Pinger:   comps.Client,
		Feed:     comps.Feed,
		Records:  comps.Records,
		Lines:    comps.Lines,
		Sessions: comps.Sessions,
		Notifier: comps.Notifier,
	})
	if err != nil {
		_ = comps.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger, cancel)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and directory permissions"),
			logging.String(logging.FieldImpact, "queued records are not flushed"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("linesync daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, currentLogName)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("backend_url", cfg.Backend.URL),
		logging.Bool("api_key_present", strings.TrimSpace(cfg.Backend.APIKey) != ""),
		logging.Bool("session_passphrase_present", strings.TrimSpace(cfg.Session.Passphrase) != ""),
		logging.Int("max_attempts", cfg.Sync.MaxAttempts),
		logging.String("photo_url_mode", cfg.Photos.URLMode),
		logging.Bool("realtime_enabled", cfg.Realtime.Enabled),
		logging.Bool("netlink_enabled", cfg.Connectivity.Netlink),
		logging.Int("watch_lines", len(cfg.Sync.WatchLines)),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("mqtt_configured", strings.TrimSpace(cfg.Notifications.MQTTBroker) != ""),
	)
}
