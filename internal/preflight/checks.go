package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"linesync/internal/config"
)

// minFreeBytes is the free space below which staged photos risk failing to write.
const minFreeBytes = 64 * 1024 * 1024

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace warns when the filesystem holding path is nearly full.
func CheckFreeSpace(name, path string, minimum uint64) Result {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Result{Name: name, Warning: true, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	free := st.Bavail * uint64(st.Bsize)
	detail := fmt.Sprintf("%s (%d MiB free)", path, free/(1024*1024))
	if free < minimum {
		return Result{Name: name, Warning: true, Detail: detail + " below recommended minimum"}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckBackendConfig verifies that the backend URL and API key are set.
func CheckBackendConfig(cfg *config.Config) Result {
	const name = "Backend config"
	switch {
	case strings.TrimSpace(cfg.Backend.URL) == "":
		return Result{Name: name, Detail: "missing url (set backend.url or LINESYNC_BACKEND_URL)"}
	case strings.TrimSpace(cfg.Backend.APIKey) == "":
		return Result{Name: name, Detail: "missing api key (set backend.api_key or LINESYNC_API_KEY)"}
	}
	return Result{Name: name, Passed: true, Detail: cfg.Backend.URL}
}

// CheckSessionPassphrase warns when no passphrase is available to unseal the session.
func CheckSessionPassphrase(cfg *config.Config) Result {
	const name = "Session passphrase"
	if strings.TrimSpace(cfg.Session.Passphrase) == "" {
		return Result{Name: name, Warning: true, Detail: "not set; records are queued without a user until login"}
	}
	return Result{Name: name, Passed: true, Detail: "configured"}
}

// CheckBackendReachable probes the backend once. Being offline is not
// fatal; records queue until the observer sees the backend again.
func CheckBackendReachable(ctx context.Context, pinger Pinger, timeout time.Duration) Result {
	const name = "Backend"
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pinger.Ping(checkCtx); err != nil {
		return Result{Name: name, Warning: true, Detail: fmt.Sprintf("unreachable (%v); running offline", err)}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}
