package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"linesync/internal/backend"
	"linesync/internal/logging"
	"linesync/internal/notifications"
	"linesync/internal/queue"
	"linesync/internal/services"
)

// FlushResult counts what a flush did. Pending, PhotoPending and
// MutationsPending are the counts left after the flush.
type FlushResult struct {
	Skipped          bool
	Synced           int
	Pending          int
	PhotoPending     int
	Failed           int
	MutationsApplied int
	MutationsPending int
	MutationsFailed  int
	MutationsUnknown int
	RefreshedLines   []string
	StartedAt        time.Time
	Duration         time.Duration
}

// Changed reports whether the flush confirmed anything remotely.
func (r FlushResult) Changed() bool {
	return r.Synced > 0 || r.MutationsApplied > 0
}

// Flush drains the queue once. It returns ErrFlushInProgress, with
// Skipped set, when another flush is running. Failures of individual
// records are recorded on the records and never abort the pass.
func (s *Syncer) Flush(ctx context.Context) (FlushResult, error) {
	return s.flush(ctx, false)
}

// FlushThenRefresh flushes and then refreshes the watched lines even if the
// flush changed nothing. It is what a reconnect runs. When another flush or
// submit holds the queue, the refresh is handed to it and runs once that
// pass finishes; the call still returns ErrFlushInProgress.
func (s *Syncer) FlushThenRefresh(ctx context.Context) (FlushResult, error) {
	return s.flush(ctx, true)
}

// acquire claims the flush slot. A caller that loses the race and wants a
// refresh leaves it owed to the holder.
func (s *Syncer) acquire(wantRefresh bool) bool {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	if !s.flushing.CompareAndSwap(false, true) {
		if wantRefresh {
			s.refreshOwed = true
		}
		return false
	}
	return true
}

// takeOwedRefresh clears and returns the owed refresh flag.
func (s *Syncer) takeOwedRefresh() bool {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	owed := s.refreshOwed
	s.refreshOwed = false
	return owed
}

// release frees the flush slot and settles a refresh that was handed over
// after the holder last looked.
func (s *Syncer) release(ctx context.Context) {
	s.slotMu.Lock()
	s.flushing.Store(false)
	owed := s.refreshOwed
	s.refreshOwed = false
	s.slotMu.Unlock()
	if !owed {
		return
	}
	refreshed := s.refreshLines(ctx, nil)
	s.logger.Info("deferred reconnect refresh finished",
		logging.String(logging.FieldEventType, "deferred_refresh_finished"),
		logging.Int("refreshed_lines", len(refreshed)),
	)
}

func (s *Syncer) flush(ctx context.Context, alwaysRefresh bool) (FlushResult, error) {
	if !s.acquire(alwaysRefresh) {
		return FlushResult{Skipped: true}, ErrFlushInProgress
	}
	defer s.release(ctx)

	result := FlushResult{StartedAt: s.now()}
	touched := map[string]struct{}{}

	records, err := s.store.Unsynced(ctx)
	if err != nil {
		return result, fmt.Errorf("list unsynced records: %w", err)
	}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		status, _ := s.syncRecord(ctx, rec)
		switch status {
		case queue.StatusSynced:
			result.Synced++
			touched[rec.LineID] = struct{}{}
		case queue.StatusPhotoPending:
			result.PhotoPending++
			touched[rec.LineID] = struct{}{}
		case queue.StatusFailed:
			result.Failed++
		default:
			result.Pending++
		}
	}

	if err := s.replayMutations(ctx, &result, touched); err != nil {
		return result, err
	}

	result.Duration = s.now().Sub(result.StartedAt)
	s.logger.Info("flush completed",
		logging.String(logging.FieldEventType, "flush_completed"),
		logging.Int("synced", result.Synced),
		logging.Int("pending", result.Pending),
		logging.Int("photo_pending", result.PhotoPending),
		logging.Int("failed", result.Failed),
		logging.Int("mutations_applied", result.MutationsApplied),
		logging.Int("mutations_pending", result.MutationsPending),
		logging.Duration("elapsed", result.Duration),
	)
	if result.Synced > 0 || result.Failed > 0 {
		s.publish(ctx, notifications.EventFlushCompleted, notifications.Payload{
			"synced":   result.Synced,
			"failed":   result.Failed,
			"duration": result.Duration,
		})
	}

	if s.takeOwedRefresh() || alwaysRefresh || result.Changed() {
		result.RefreshedLines = s.refreshLines(ctx, touched)
	}
	stored := result
	s.lastRun.Store(&stored)
	return result, nil
}

// syncRecord advances one record as far as it can go and returns its
// resulting status. The returned error is the failure that stopped it.
func (s *Syncer) syncRecord(ctx context.Context, rec *queue.Record) (queue.Status, error) {
	ctx = services.WithLineID(services.WithLocalID(ctx, rec.LocalID), rec.LineID)

	if rec.Status == queue.StatusPending {
		confirmed, err := s.insertRow(ctx, rec)
		if err != nil {
			return s.recordFailure(ctx, rec, err)
		}
		if confirmed.Status == queue.StatusSynced {
			s.logSynced(ctx, rec)
			return queue.StatusSynced, nil
		}
		rec = confirmed
	}

	if err := s.attachPhoto(ctx, rec); err != nil {
		return s.recordFailure(ctx, rec, err)
	}
	done, err := s.store.Complete(ctx, rec.LocalID)
	if err != nil {
		return rec.Status, err
	}
	if done != nil {
		if err := s.photos.Discard(done.LocalPhoto); err != nil {
			logging.WithContext(ctx, s.logger).Warn("staged photo not removed", logging.Error(err))
		}
	}
	s.logSynced(ctx, rec)
	return queue.StatusSynced, nil
}

func (s *Syncer) insertRow(ctx context.Context, rec *queue.Record) (*queue.Record, error) {
	row := backend.ProductionRecord{
		ID:       rec.LocalID,
		LineID:   rec.LineID,
		UserID:   rec.UserID,
		Date:     rec.Date,
		Quantity: rec.Quantity,
		Operator: rec.Operator,
		Notes:    rec.Notes,
	}
	err := s.remote.Insert(ctx, s.recordsTable, row, nil)
	if errors.Is(err, services.ErrConflict) {
		logging.WithContext(ctx, s.logger).Debug("row already present, treating insert as confirmed")
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return s.store.MarkRowConfirmed(ctx, rec.LocalID, rec.LocalID)
}

// attachPhoto uploads the staged photo unless a previous flush already did,
// then writes photo_path on the row.
func (s *Syncer) attachPhoto(ctx context.Context, rec *queue.Record) error {
	remotePath := rec.RemotePhotoPath
	if remotePath == "" {
		file, err := os.Open(rec.LocalPhoto)
		if errors.Is(err, os.ErrNotExist) {
			logging.WarnWithContext(logging.WithContext(ctx, s.logger), "staged photo missing, syncing record without photo",
				"photo_missing",
				logging.String("local_photo", rec.LocalPhoto),
				logging.String(logging.FieldImpact, "record is stored without photo evidence"),
				logging.String(logging.FieldErrorHint, "re-attach the photo from the backend console"),
			)
			return nil
		}
		if err != nil {
			return services.Wrap(services.ErrTransient, "syncer", "open photo", rec.LocalPhoto, err)
		}
		defer file.Close()

		target := queue.StoragePath(rec.LineID, rec.LocalID)
		if err := s.remote.Upload(ctx, s.bucket, target, file, "image/jpeg"); err != nil {
			return err
		}
		if err := s.store.MarkPhotoUploaded(ctx, rec.LocalID, target); err != nil {
			return err
		}
		remotePath = target
	}

	patch := map[string]string{"photo_path": remotePath}
	return s.remote.Update(ctx, s.recordsTable, []backend.Filter{backend.Eq("id", rec.LocalID)}, patch, nil)
}

func (s *Syncer) recordFailure(ctx context.Context, rec *queue.Record, cause error) (queue.Status, error) {
	limit := s.maxAttempts
	if limit > 0 && (errors.Is(cause, services.ErrRejected) || errors.Is(cause, services.ErrValidation)) {
		limit = 1
	}
	status, err := s.store.RecordFailure(ctx, rec.LocalID, cause, limit)
	if err != nil {
		logging.ErrorWithContext(logging.WithContext(ctx, s.logger), "failed to record sync failure", "queue_write_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the queue database with 'linesync status'"),
		)
		return rec.Status, cause
	}

	logger := logging.WithContext(ctx, s.logger)
	logging.WarnWithContext(logger, "record sync failed", "record_sync_failed",
		logging.Error(cause),
		logging.String("status", string(status)),
		logging.String(logging.FieldErrorHint, services.Hint(cause)),
		logging.String(logging.FieldImpact, "record stays queued"),
	)
	if status == queue.StatusFailed {
		logger.Warn("record moved to failed", logging.Alert("dead_letter"))
		s.publish(ctx, notifications.EventRecordFailed, notifications.Payload{
			"localID": rec.LocalID,
			"lineID":  rec.LineID,
			"error":   cause,
		})
	}
	return status, cause
}

func (s *Syncer) logSynced(ctx context.Context, rec *queue.Record) {
	logging.WithContext(ctx, s.logger).Info("record synced",
		logging.Int("quantity", rec.Quantity),
		logging.Bool("photo", rec.HasPhoto()),
	)
}

func (s *Syncer) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := s.notifier.Publish(ctx, event, payload); err != nil {
		s.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
