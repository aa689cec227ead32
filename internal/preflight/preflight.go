package preflight

import (
	"context"

	"linesync/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	// Warning marks a failed check the daemon can run without.
	Warning bool
	Detail  string
}

// Pinger reports whether the backend answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RunAll executes the daemon start checks. A nil pinger skips the
// reachability check.
func RunAll(ctx context.Context, cfg *config.Config, pinger Pinger) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Photo directory", cfg.Paths.PhotoDir),
		CheckFreeSpace("Photo storage", cfg.Paths.PhotoDir, minFreeBytes),
		CheckBackendConfig(cfg),
		CheckSessionPassphrase(cfg),
	}
	if pinger != nil {
		results = append(results, CheckBackendReachable(ctx, pinger, cfg.ProbeTimeout()))
	}
	return results
}

// Fatal returns the failed checks that are not warnings.
func Fatal(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Warning {
			out = append(out, r)
		}
	}
	return out
}
