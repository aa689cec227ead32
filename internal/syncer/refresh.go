package syncer

import (
	"context"
	"errors"
	"sort"

	"linesync/internal/logging"
	"linesync/internal/services"
)

// refreshLines re-fetches the watched lines plus those the flush touched.
// It runs after the flush completes, so a refresh never races the writes
// it is meant to observe.
func (s *Syncer) refreshLines(ctx context.Context, touched map[string]struct{}) []string {
	if s.refresh == nil {
		return nil
	}
	lines := make(map[string]struct{}, len(touched)+len(s.watchLines))
	for line := range touched {
		lines[line] = struct{}{}
	}
	for _, line := range s.watchLines {
		lines[line] = struct{}{}
	}
	ordered := make([]string, 0, len(lines))
	for line := range lines {
		if line != "" {
			ordered = append(ordered, line)
		}
	}
	sort.Strings(ordered)

	refreshed := make([]string, 0, len(ordered))
	for _, line := range ordered {
		if ctx.Err() != nil {
			break
		}
		lineCtx := services.WithLineID(ctx, line)
		if err := s.refresh.RefreshLine(lineCtx, line); err != nil {
			logging.WarnWithContext(logging.WithContext(lineCtx, s.logger), "line refresh failed", "refresh_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "cached listing may be stale"),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
			)
			continue
		}
		refreshed = append(refreshed, line)
	}
	return refreshed
}

// MultiRefresher refreshes a line through each listing in turn. Every
// listing is attempted; the failures are joined.
type MultiRefresher []Refresher

// RefreshLine implements Refresher.
func (m MultiRefresher) RefreshLine(ctx context.Context, lineID string) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.RefreshLine(ctx, lineID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
