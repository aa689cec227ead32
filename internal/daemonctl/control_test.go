package daemonctl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"linesync/internal/queue"
	"linesync/internal/testsupport"
)

func TestForceKillRefusesCurrentProcess(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "linesync.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ForceKillProcess(pidPath, "", 0); err == nil {
		t.Fatal("expected refusal to kill the current process")
	}
}

func TestForceKillWithoutPID(t *testing.T) {
	if _, err := ForceKillProcess(filepath.Join(t.TempDir(), "missing.pid"), "", 0); err == nil {
		t.Fatal("expected error without pid")
	}
}

func TestForceKillIgnoresGarbagePIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "linesync.pid")
	if err := os.WriteFile(pidPath, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ForceKillProcess(pidPath, "", os.Getpid()); err == nil {
		t.Fatal("expected fallback pid to be refused as the current process")
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "linesync.sock")
	if _, err := StopAndTerminate(socket, "", time.Second); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	if alive, _, err := ProcessInfo(socket); alive || err != nil {
		t.Fatalf("expected no daemon, got alive=%v err=%v", alive, err)
	}
}

func TestLockHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linesyncd.lock")
	if lockHeld(path) {
		t.Fatal("expected free lock")
	}
	holder := flock.New(path)
	ok, err := holder.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	if !lockHeld(path) {
		t.Fatal("expected held lock")
	}
	if err := holder.Unlock(); err != nil {
		t.Fatal(err)
	}
	if lockHeld(path) {
		t.Fatal("expected lock released")
	}
}

func TestPollTimeoutKeepsLastReason(t *testing.T) {
	want := errors.New("still busy")
	calls := 0
	err := poll(10*time.Millisecond, func() (bool, error) {
		calls++
		return false, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected last reason, got %v", err)
	}
	if calls == 0 {
		t.Fatal("expected at least one check")
	}

	if err := poll(time.Second, func() (bool, error) { return true, nil }); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestLaunchRejectsEmptyExecutable(t *testing.T) {
	if err := Launch("  ", LaunchOptions{}); err == nil {
		t.Fatal("expected error for empty executable")
	}
	got := LaunchOptions{ConfigPath: "/tmp/l.toml", LogLevel: "debug"}.args()
	want := []string{"daemon", "--config", "/tmp/l.toml", "--log-level", "debug"}
	if len(got) != len(want) {
		t.Fatalf("args = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("args = %v, want %v", got, want)
		}
	}
}

func TestBuildStatusSnapshotFallsBackToDatabase(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	store := testsupport.MustOpenStore(t, cfg)
	if _, err := store.Enqueue(context.Background(), &queue.Record{LineID: "line-1", Date: "2026-03-14", Quantity: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	status, err := BuildStatusSnapshot(context.Background(), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if status.Running {
		t.Fatal("expected not running without a daemon")
	}
	if status.Queue.Pending != 1 {
		t.Fatalf("expected one pending record, got %+v", status.Queue)
	}
	if len(status.Preflight) == 0 {
		t.Fatal("expected local preflight results")
	}
}
