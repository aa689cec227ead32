package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"linesync/internal/logging"
	"linesync/internal/queue"
	"linesync/internal/services"
	"linesync/internal/session"
)

// Draft is a production record as entered by an operator.
type Draft struct {
	LineID   string
	UserID   string
	Date     string
	Quantity int
	Operator string
	Notes    string
	// PhotoSource is the path of the photo to attach. It is staged into the
	// photo directory, so the caller may delete it afterwards.
	PhotoSource string
}

// Enqueue validates d, stages its photo and appends it to the queue. The
// returned record carries the assigned local ID.
func (s *Syncer) Enqueue(ctx context.Context, d Draft) (*queue.Record, error) {
	rec := &queue.Record{
		LocalID:  uuid.NewString(),
		LineID:   d.LineID,
		UserID:   d.UserID,
		Date:     d.Date,
		Quantity: d.Quantity,
		Operator: d.Operator,
		Notes:    d.Notes,
	}
	if err := rec.Validate(); err != nil {
		return nil, services.Wrap(services.ErrValidation, "syncer", "enqueue", "", err)
	}
	if rec.UserID == "" {
		userID, err := s.currentUser(ctx)
		if err != nil {
			return nil, err
		}
		rec.UserID = userID
	}

	if d.PhotoSource != "" {
		staged, err := s.photos.Stage(rec.LocalID, d.PhotoSource)
		if err != nil {
			return nil, fmt.Errorf("stage photo: %w", err)
		}
		rec.LocalPhoto = staged
	}

	stored, err := s.store.Enqueue(ctx, rec)
	if err != nil {
		if discardErr := s.photos.Discard(rec.LocalPhoto); discardErr != nil {
			s.logger.Warn("staged photo left behind", logging.Error(discardErr))
		}
		return nil, err
	}
	s.logger.Info("record queued",
		logging.String(logging.FieldLocalID, stored.LocalID),
		logging.String(logging.FieldLineID, stored.LineID),
		logging.Int("quantity", stored.Quantity),
		logging.Bool("photo", stored.HasPhoto()),
	)
	return stored, nil
}

// Submit queues d and immediately tries to sync it. A record that cannot be
// sent stays queued; that is reported through Queued, not as an error.
func (s *Syncer) Submit(ctx context.Context, d Draft) (SubmitResult, error) {
	rec, err := s.Enqueue(ctx, d)
	if err != nil {
		return SubmitResult{}, err
	}
	result := SubmitResult{LocalID: rec.LocalID, Status: rec.Status, Queued: true}
	if !s.acquire(false) {
		return result, nil
	}
	defer s.release(ctx)

	status, syncErr := s.syncRecord(ctx, rec)
	result.Status = status
	result.Queued = status != queue.StatusSynced
	if syncErr != nil {
		result.LastError = syncErr.Error()
	}
	return result, nil
}

// SubmitResult reports where a submitted record ended up.
type SubmitResult struct {
	LocalID   string
	Status    queue.Status
	Queued    bool
	LastError string
}

func (s *Syncer) currentUser(ctx context.Context) (string, error) {
	if s.sessions == nil {
		return "", nil
	}
	sess, err := s.sessions.Load(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sess.UserID, nil
}
