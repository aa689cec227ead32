package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"linesync/internal/api"
	"linesync/internal/config"
	"linesync/internal/ipc"
	"linesync/internal/preflight"
	"linesync/internal/queue"
)

const pollInterval = 200 * time.Millisecond

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls how a detached daemon is spawned.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
	// OutputPath receives the daemon's stdout and stderr. Empty discards them.
	OutputPath string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult reports what EnsureStarted did.
type StartResult struct {
	State    StartState
	Launched bool
	PID      int
}

// StopResult reports how the daemon went away.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

func (o LaunchOptions) args() []string {
	args := []string{"daemon"}
	if v := strings.TrimSpace(o.ConfigPath); v != "" {
		args = append(args, "--config", v)
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		args = append(args, "--log-level", v)
	}
	return args
}

// Launch spawns `linesync daemon` in its own session and returns without waiting.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.New("resolve executable: executable path is empty")
	}
	proc := exec.Command(executablePath, opts.args()...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if opts.OutputPath != "" {
		out, err := os.OpenFile(opts.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open daemon output %q: %w", opts.OutputPath, err)
		}
		defer out.Close()
		proc.Stdout = out
		proc.Stderr = out
	}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// poll calls check until it reports done, fails, or timeout elapses. The last
// non-fatal reason returned by check is used in the timeout error.
func poll(timeout time.Duration, check func() (done bool, reason error)) error {
	deadline := time.Now().Add(timeout)
	var reason error
	for {
		done, why := check()
		if done {
			return why
		}
		if why != nil {
			reason = why
		}
		if time.Now().After(deadline) {
			if reason == nil {
				reason = errors.New("timed out")
			}
			return reason
		}
		time.Sleep(pollInterval)
	}
}

// EnsureStarted launches the daemon unless one already answers on the socket,
// then waits until it reports running.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if status, err := queryStatus(socketPath); err == nil {
		return StartResult{State: StartStateAlreadyRunning, PID: status.PID}, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}

	var pid int
	err := poll(waitTimeout, func() (bool, error) {
		status, err := queryStatus(socketPath)
		if err != nil {
			return false, err
		}
		if !status.Running {
			return false, errors.New("daemon launched but not yet running; check linesync.log")
		}
		pid = status.PID
		return true, nil
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("daemon failed to start: %w", err)
	}
	return StartResult{State: StartStateStarted, Launched: true, PID: pid}, nil
}

// StopAndTerminate asks the daemon to stop. If its lock is still held after
// gracePeriod the process named by the pid file is killed.
func StopAndTerminate(socketPath, pidPath string, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	var lockPath string
	var pid int
	if status, err := client.Status(); err == nil {
		lockPath = status.LockFilePath
		pid = status.PID
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid, StopAcknowledged: resp.Stopped}

	stopped := poll(gracePeriod, func() (bool, error) {
		if lockPath != "" {
			return !lockHeld(lockPath), nil
		}
		alive, _, _ := ProcessInfo(socketPath)
		return !alive, nil
	}) == nil
	if stopped {
		return result, nil
	}

	killed, err := ForceKillProcess(pidPath, lockPath, pid)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killed
	return result, nil
}

// ProcessInfo reports whether a daemon answers on the socket and its PID.
func ProcessInfo(socketPath string) (bool, int, error) {
	status, err := queryStatus(socketPath)
	switch {
	case err == nil:
		return true, status.PID, nil
	case isDaemonUnavailable(err):
		return false, 0, nil
	case errors.Is(err, errStatusFailed):
		return true, 0, err
	default:
		return false, 0, err
	}
}

// ForceKillProcess SIGKILLs the daemon and removes its pid and lock files.
// The pid file wins over fallbackPID when both are available.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid, err := readPID(pidPath)
	if err != nil {
		return 0, err
	}
	if pid <= 0 {
		pid = fallbackPID
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if pidPath != "" {
		if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
		}
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

// BuildStatusSnapshot asks the daemon for its status and falls back to the
// queue database and local checks when no daemon answers.
func BuildStatusSnapshot(ctx context.Context, cfg *config.Config) (*api.DaemonStatus, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	if status, err := queryStatus(cfg.SocketPath()); err == nil {
		return status, nil
	}

	status := &api.DaemonStatus{
		Connectivity: "unknown",
		WatchLines:   cfg.Sync.WatchLines,
		QueueDBPath:  cfg.DatabasePath(),
		LockFilePath: cfg.LockPath(),
		Preflight:    api.FromChecks(preflight.RunAll(ctx, cfg, nil)),
	}
	store, err := queue.Open(cfg)
	if err != nil {
		return status, nil
	}
	defer store.Close()
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if health, err := store.Health(queryCtx); err == nil {
		status.Queue = api.FromHealth(health)
	}
	return status, nil
}

var errStatusFailed = errors.New("daemon status failed")

func queryStatus(socketPath string) (*api.DaemonStatus, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	status, err := client.Status()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errStatusFailed, err)
	}
	return status, nil
}

// lockHeld reports whether another process holds the daemon lock.
func lockHeld(path string) bool {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return false
	}
	if ok {
		_ = lock.Unlock()
		return false
	}
	return true
}

func readPID(path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, nil
	}
	return pid, nil
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
