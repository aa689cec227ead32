// Package finance records income and expenses against production lines.
package finance

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"linesync/internal/backend"
	"linesync/internal/config"
	"linesync/internal/logging"
	"linesync/internal/members"
	"linesync/internal/queue"
	"linesync/internal/services"
)

const snapshotKind = "financial_records"

// Remote is the part of the backend client this package uses.
type Remote interface {
	Select(ctx context.Context, table string, q backend.Query, dest any) error
	Insert(ctx context.Context, table string, row any, dest any) error
	Delete(ctx context.Context, table string, filters []backend.Filter) error
}

// Input describes a new finance entry. Type is queue.EntryIncome or
// queue.EntryExpense.
type Input struct {
	LineID      string
	UserID      string
	Type        string
	Category    string
	Amount      float64
	Date        string
	Description string
}

// Entry is a finance entry as shown to a reader.
type Entry struct {
	ID          string    `json:"id"`
	LineID      string    `json:"line_id"`
	UserID      string    `json:"user_id,omitempty"`
	Type        string    `json:"type"`
	Category    string    `json:"category"`
	Amount      float64   `json:"amount"`
	Date        string    `json:"date"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Offline     bool      `json:"offline"`
}

// Listing is the merged view of a line's finance entries.
type Listing struct {
	LineID    string       `json:"line_id"`
	Entries   []Entry      `json:"entries"`
	Source    queue.Source `json:"source"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// AddResult reports where a new entry went.
type AddResult struct {
	Entry  Entry
	Queued bool
}

// Service adds, lists and deletes finance entries.
type Service struct {
	remote  Remote
	store   *queue.Store
	members *members.Directory
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
	return func(s *Service) { s.logger = logging.NewComponentLogger(logger, "finance") }
}

// New builds a Service.
func New(cfg *config.Config, store *queue.Store, remote Remote, dir *members.Directory, opts ...Option) *Service {
	s := &Service{
		remote:  remote,
		store:   store,
		members: dir,
		table:   cfg.Backend.FinanceTable,
		logger:  logging.NewComponentLogger(nil, "finance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) isOnline() bool {
	return s.online == nil || s.online()
}

// Add inserts a finance entry, queueing it as a mutation when the backend
// cannot be reached.
func (s *Service) Add(ctx context.Context, in Input) (AddResult, error) {
	m := queue.CreateFinancialEntry{
		ID:          uuid.NewString(),
		LineID:      in.LineID,
		UserID:      in.UserID,
		Type:        strings.ToLower(strings.TrimSpace(in.Type)),
		Category:    strings.TrimSpace(in.Category),
		Amount:      in.Amount,
		Date:        in.Date,
		Description: in.Description,
	}
	if _, _, err := queue.EncodeMutation(m); err != nil {
		return AddResult{}, services.Wrap(services.ErrValidation, "finance", "add", "", err)
	}
	entry := entryFromMutation(m)
	logger := logging.WithContext(services.WithLineID(ctx, in.LineID), s.logger)

	err := services.Wrap(services.ErrTransient, "finance", "add", "offline", nil)
	if s.isOnline() {
		wireType, _ := backend.WireFinanceType(m.Type)
		err = s.remote.Insert(ctx, s.table, backend.FinancialRecord{
			ID:          m.ID,
			LineID:      m.LineID,
			UserID:      m.UserID,
			Date:        m.Date,
			Amount:      m.Amount,
			Type:        wireType,
			Category:    m.Category,
			Description: m.Description,
		}, nil)
	}
	if err == nil {
		logger.Info("finance entry added", logging.String("type", m.Type), logging.String("category", m.Category))
		return AddResult{Entry: entry}, nil
	}
	if !services.Retryable(err) {
		return AddResult{}, err
	}
	if _, qerr := s.store.EnqueueMutation(ctx, m); qerr != nil {
		return AddResult{}, fmt.Errorf("queue finance entry after %v: %w", err, qerr)
	}
	logger.Info("finance entry queued", logging.String("type", m.Type), logging.Error(err))
	entry.Offline = true
	return AddResult{Entry: entry, Queued: true}, nil
}

func entryFromMutation(m queue.CreateFinancialEntry) Entry {
	return Entry{
		ID:          m.ID,
		LineID:      m.LineID,
		UserID:      m.UserID,
		Type:        m.Type,
		Category:    m.Category,
		Amount:      m.Amount,
		Date:        m.Date,
		Description: m.Description,
	}
}

func (s *Service) fetch(lineID string) func(context.Context) ([]backend.FinancialRecord, error) {
	return func(ctx context.Context) ([]backend.FinancialRecord, error) {
		if !s.isOnline() {
			return nil, services.Wrap(services.ErrTransient, "finance", "list", "offline", nil)
		}
		var rows []backend.FinancialRecord
		q := backend.Query{
			Filters: []backend.Filter{backend.Eq("line_id", lineID)},
			Order:   "date.desc",
		}
		if err := s.remote.Select(ctx, s.table, q, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
}

// List returns lineID's entries, with queued entries in front.
func (s *Service) List(ctx context.Context, lineID string) (Listing, error) {
	res, err := queue.Fetch(ctx, s.store, queue.SnapshotName(snapshotKind, lineID), s.fetch(lineID))
	if err != nil {
		return Listing{}, err
	}
	if res.RemoteErr != nil {
		s.logger.Info("finance served without backend",
			logging.String(logging.FieldLineID, lineID),
			logging.String("source", string(res.Source)),
			logging.Error(res.RemoteErr),
		)
	}

	listing := Listing{LineID: lineID, Source: res.Source, FetchedAt: res.FetchedAt}
	queued, err := s.store.Mutations(ctx, queue.StatusPending, queue.StatusFailed)
	if err != nil {
		return Listing{}, err
	}
	seen := map[string]struct{}{}
	for _, pm := range slices.Backward(queued) {
		entry, ok := pm.Mutation.(queue.CreateFinancialEntry)
		if !ok || entry.LineID != lineID {
			continue
		}
		e := entryFromMutation(entry)
		e.Offline = true
		e.CreatedAt = pm.CreatedAt
		seen[e.ID] = struct{}{}
		listing.Entries = append(listing.Entries, e)
	}
	for _, row := range res.Value {
		if _, dup := seen[row.ID]; dup {
			continue
		}
		listing.Entries = append(listing.Entries, Entry{
			ID:          row.ID,
			LineID:      row.LineID,
			UserID:      row.UserID,
			Type:        backend.EntryType(row.Type),
			Category:    row.Category,
			Amount:      row.Amount,
			Date:        row.Date,
			Description: row.Description,
			CreatedAt:   row.CreatedAt,
		})
	}
	return listing, nil
}

// RefreshLine re-fetches lineID's entries into the snapshot.
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

// Delete removes entry id from lineID. Owners and line leads may delete.
// Deletes need the backend; there is no offline fallback.
func (s *Service) Delete(ctx context.Context, lineID, id, userID string) error {
	if userID == "" {
		return services.Wrap(services.ErrUnauthorized, "finance", "delete", "not logged in", nil)
	}
	if err := s.members.Require(ctx, lineID, userID, "delete finance entries", members.CanDeleteFinance); err != nil {
		return err
	}
	if !s.isOnline() {
		return services.Wrap(services.ErrTransient, "finance", "delete", "offline", nil)
	}
	if err := s.remote.Delete(ctx, s.table, []backend.Filter{backend.Eq("id", id), backend.Eq("line_id", lineID)}); err != nil {
		return err
	}
	name := queue.SnapshotName(snapshotKind, lineID)
	var rows []backend.FinancialRecord
	if _, found, err := s.store.LoadSnapshot(ctx, name, &rows); err == nil && found {
		rows = slices.DeleteFunc(rows, func(r backend.FinancialRecord) bool { return r.ID == id })
		if err := s.store.SaveSnapshot(ctx, name, rows); err != nil {
			s.logger.Warn("finance snapshot not updated after delete", logging.Error(err))
		}
	}
	return nil
}
