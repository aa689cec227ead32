// Package records lists and deletes production records.
//
// Listings come from the backend when it answers and from the last cached
// snapshot when it does not. Records still waiting in the local queue are
// merged in front and flagged Offline, so an operator always sees what they
// entered. Snapshots store photo paths; URLs are resolved when a listing is
// read.
package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"linesync/internal/backend"
	"linesync/internal/config"
	"linesync/internal/logging"
	"linesync/internal/members"
	"linesync/internal/photo"
	"linesync/internal/queue"
	"linesync/internal/services"
)

const snapshotKind = "production_records"

// Remote is the part of the backend client this package uses.
type Remote interface {
	Select(ctx context.Context, table string, q backend.Query, dest any) error
	Delete(ctx context.Context, table string, filters []backend.Filter) error
}

// URLResolver turns stored photo paths into URLs.
type URLResolver interface {
	Resolve(ctx context.Context, path string) (string, error)
}

// Entry is one production record as shown to a reader.
type Entry struct {
	ID        string       `json:"id"`
	LineID    string       `json:"line_id"`
	UserID    string       `json:"user_id,omitempty"`
	Date      string       `json:"date"`
	Quantity  int          `json:"quantity"`
	Operator  string       `json:"operator,omitempty"`
	Notes     string       `json:"notes,omitempty"`
	PhotoPath string       `json:"photo_path,omitempty"`
	PhotoURL  string       `json:"photo_url,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	Offline   bool         `json:"offline"`
	Status    queue.Status `json:"status,omitempty"`
}

// Listing is the merged view of a line's records.
type Listing struct {
	LineID    string       `json:"line_id"`
	Entries   []Entry      `json:"entries"`
	Source    queue.Source `json:"source"`
	FetchedAt time.Time    `json:"fetched_at"`
	Queued    int          `json:"queued"`
}

// Service reads and deletes production records.
type Service struct {
	remote  Remote
	store   *queue.Store
	urls    URLResolver
	members *members.Directory
	photos  *photo.Preparer
	table   string
	online  func() bool
	logger  *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithOnline skips remote calls while report returns false.
func WithOnline(report func() bool) Option {
	return func(s *Service) { s.online = report }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logging.NewComponentLogger(logger, "records") }
}

// New builds a Service.
func New(cfg *config.Config, store *queue.Store, remote Remote, urls URLResolver, dir *members.Directory, opts ...Option) *Service {
	s := &Service{
		remote:  remote,
		store:   store,
		urls:    urls,
		members: dir,
		photos:  photo.NewPreparer(cfg),
		table:   cfg.Backend.RecordsTable,
		logger:  logging.NewComponentLogger(nil, "records"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) isOnline() bool {
	return s.online == nil || s.online()
}

func (s *Service) fetch(lineID string) func(context.Context) ([]backend.ProductionRecord, error) {
	return func(ctx context.Context) ([]backend.ProductionRecord, error) {
		if !s.isOnline() {
			return nil, services.Wrap(services.ErrTransient, "records", "list", "offline", nil)
		}
		var rows []backend.ProductionRecord
		q := backend.Query{
			Filters: []backend.Filter{backend.Eq("line_id", lineID)},
			Order:   "created_at.desc",
		}
		if err := s.remote.Select(ctx, s.table, q, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
}

// List returns the records of lineID, newest first, with queued records in front.
func (s *Service) List(ctx context.Context, lineID string) (Listing, error) {
	ctx = services.WithLineID(ctx, lineID)
	remote, err := queue.Fetch(ctx, s.store, queue.SnapshotName(snapshotKind, lineID), s.fetch(lineID))
	if err != nil {
		return Listing{}, err
	}
	logger := logging.WithContext(ctx, s.logger)
	if remote.RemoteErr != nil {
		logger.Info("records served without backend",
			logging.String("source", string(remote.Source)),
			logging.Error(remote.RemoteErr),
		)
	}
	if remote.SnapshotErr != nil {
		logging.WarnWithContext(logger, "records snapshot not saved", "snapshot_save_failed",
			logging.Error(remote.SnapshotErr),
			logging.String(logging.FieldImpact, "offline listing may be stale"),
		)
	}

	queued, err := s.store.ListByLine(ctx, lineID)
	if err != nil {
		return Listing{}, err
	}

	listing := Listing{LineID: lineID, Source: remote.Source, FetchedAt: remote.FetchedAt, Queued: len(queued)}
	local := make(map[string]struct{}, len(queued))
	for i := len(queued) - 1; i >= 0; i-- {
		rec := queued[i]
		local[rec.LocalID] = struct{}{}
		listing.Entries = append(listing.Entries, Entry{
			ID:        rec.LocalID,
			LineID:    rec.LineID,
			UserID:    rec.UserID,
			Date:      rec.Date,
			Quantity:  rec.Quantity,
			Operator:  rec.Operator,
			Notes:     rec.Notes,
			PhotoPath: rec.LocalPhoto,
			CreatedAt: rec.CreatedAt,
			Offline:   true,
			Status:    rec.Status,
		})
	}
	for _, row := range remote.Value {
		if _, dup := local[row.ID]; dup {
			continue
		}
		entry := Entry{
			ID:        row.ID,
			LineID:    row.LineID,
			UserID:    row.UserID,
			Date:      row.Date,
			Quantity:  row.Quantity,
			Operator:  row.Operator,
			Notes:     row.Notes,
			PhotoPath: row.PhotoPath,
			CreatedAt: row.CreatedAt,
		}
		if row.PhotoPath != "" && s.urls != nil {
			url, err := s.urls.Resolve(ctx, row.PhotoPath)
			if err != nil {
				logger.Debug("photo url unavailable", logging.String("photo_path", row.PhotoPath), logging.Error(err))
			}
			entry.PhotoURL = url
		}
		listing.Entries = append(listing.Entries, entry)
	}
	return listing, nil
}

// RefreshLine re-fetches lineID's records into the snapshot.
func (s *Service) RefreshLine(ctx context.Context, lineID string) error {
	res, err := queue.Fetch(ctx, s.store, queue.SnapshotName(snapshotKind, lineID), s.fetch(lineID))
	if err != nil {
		return err
	}
	if res.RemoteErr != nil {
		return res.RemoteErr
	}
	return res.SnapshotErr
}

// DeleteOutcome says how a delete was carried out.
type DeleteOutcome string

const (
	DeletedLocal  DeleteOutcome = "local"
	DeletedRemote DeleteOutcome = "remote"
	DeleteQueued  DeleteOutcome = "queued"
)

// Delete removes record id from lineID on behalf of userID. Only line owners
// may delete. A record still in the local queue is dropped locally; a remote
// record that cannot be deleted now is queued as a delete_record mutation.
func (s *Service) Delete(ctx context.Context, lineID, recordID, userID string) (DeleteOutcome, error) {
	ctx = services.WithLineID(ctx, lineID)
	if userID == "" {
		return "", services.Wrap(services.ErrUnauthorized, "records", "delete", "not logged in", nil)
	}
	if err := s.members.Require(ctx, lineID, userID, "delete records", members.CanDeleteRecords); err != nil {
		return "", err
	}

	queued, err := s.store.Get(ctx, recordID)
	if err != nil {
		return "", err
	}
	if queued != nil && queued.LineID == lineID && queued.RemoteID == "" {
		removed, err := s.store.Remove(ctx, recordID)
		if err != nil {
			return "", err
		}
		if removed != nil {
			_ = s.photos.Discard(removed.LocalPhoto)
		}
		return DeletedLocal, nil
	}
	if queued != nil {
		// Row already exists remotely; drop the local copy and delete the row.
		if _, err := s.store.Remove(ctx, recordID); err != nil {
			return "", err
		}
		_ = s.photos.Discard(queued.LocalPhoto)
	}

	outcome := DeletedRemote
	err = services.Wrap(services.ErrTransient, "records", "delete", "offline", nil)
	if s.isOnline() {
		err = s.remote.Delete(ctx, s.table, []backend.Filter{backend.Eq("id", recordID)})
		if errors.Is(err, services.ErrNotFound) {
			err = nil
		}
	}
	if err != nil {
		if !services.Retryable(err) {
			return "", err
		}
		if _, qerr := s.store.EnqueueMutation(ctx, queue.DeleteRecord{RecordID: recordID, LineID: lineID}); qerr != nil {
			return "", fmt.Errorf("queue delete after %v: %w", err, qerr)
		}
		outcome = DeleteQueued
	}
	if err := s.dropFromSnapshot(ctx, lineID, recordID); err != nil {
		logging.WithContext(ctx, s.logger).Warn("snapshot not updated after delete", logging.Error(err))
	}
	logging.WithContext(ctx, s.logger).Info("record deleted",
		logging.String("record_id", recordID),
		logging.String("outcome", string(outcome)),
	)
	return outcome, nil
}

func (s *Service) dropFromSnapshot(ctx context.Context, lineID, recordID string) error {
	name := queue.SnapshotName(snapshotKind, lineID)
	var rows []backend.ProductionRecord
	_, found, err := s.store.LoadSnapshot(ctx, name, &rows)
	if err != nil || !found {
		return err
	}
	rows = slices.DeleteFunc(rows, func(r backend.ProductionRecord) bool { return r.ID == recordID })
	return s.store.SaveSnapshot(ctx, name, rows)
}
