// Package lines lists an owner's production lines and applies line changes.
package lines

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"linesync/internal/backend"
	"linesync/internal/config"
	"linesync/internal/logging"
	"linesync/internal/queue"
	"linesync/internal/services"
)

const snapshotKind = "production_lines"

// Remote is the part of the backend client this package uses.
type Remote interface {
	Select(ctx context.Context, table string, q backend.Query, dest any) error
	Insert(ctx context.Context, table string, row any, dest any) error
	Update(ctx context.Context, table string, filters []backend.Filter, patch any, dest any) error
}

// Service reads and updates production lines.
type Service struct {
	remote Remote
	store  *queue.Store
	table  string
	online func() bool
	logger *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithOnline skips remote calls while report returns false.
func WithOnline(report func() bool) Option {
	return func(s *Service) { s.online = report }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logging.NewComponentLogger(logger, "lines") }
}

// New builds a Service.
func New(cfg *config.Config, store *queue.Store, remote Remote, opts ...Option) *Service {
	s := &Service{
		remote: remote,
		store:  store,
		table:  cfg.Backend.LinesTable,
		logger: logging.NewComponentLogger(nil, "lines"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) isOnline() bool {
	return s.online == nil || s.online()
}

// List returns the active lines owned by ownerID, falling back to the cache.
func (s *Service) List(ctx context.Context, ownerID string) (queue.Cached[[]backend.Line], error) {
	return queue.Fetch(ctx, s.store, queue.SnapshotName(snapshotKind, ownerID), func(ctx context.Context) ([]backend.Line, error) {
		if !s.isOnline() {
			return nil, services.Wrap(services.ErrTransient, "lines", "list", "offline", nil)
		}
		var rows []backend.Line
		q := backend.Query{
			Filters: []backend.Filter{backend.Eq("owner_id", ownerID), backend.Eq("is_active", "true")},
			Order:   "name.asc",
		}
		if err := s.remote.Select(ctx, s.table, q, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	})
}

// ActiveCount counts lines whose status is enabled.
func ActiveCount(lines []backend.Line) int {
	n := 0
	for _, l := range lines {
		if l.Status == backend.LineEnabled {
			n++
		}
	}
	return n
}

// Update renames a line or changes its status. When the backend cannot be
// reached the change is queued and queued=true is returned.
func (s *Service) Update(ctx context.Context, change queue.UpdateLine) (queued bool, err error) {
	if _, _, err := queue.EncodeMutation(change); err != nil {
		return false, services.Wrap(services.ErrValidation, "lines", "update", "", err)
	}
	err = services.Wrap(services.ErrTransient, "lines", "update", "offline", nil)
	if s.isOnline() {
		patch := map[string]string{}
		if change.Name != "" {
			patch["name"] = change.Name
		}
		if change.Status != "" {
			patch["status"] = change.Status
		}
		err = s.remote.Update(ctx, s.table, []backend.Filter{backend.Eq("id", change.LineID)}, patch, nil)
	}
	if err == nil {
		return false, nil
	}
	if !services.Retryable(err) {
		return false, err
	}
	if _, qerr := s.store.EnqueueMutation(ctx, change); qerr != nil {
		return false, qerr
	}
	return true, nil
}

// Created describes a line made by Create.
type Created struct {
	Line   backend.Line
	Queued bool
}

// Create adds a line owned by ownerID on a monthly plan. The first line an
// owner has is enabled and later ones start disabled. Creation is refused once
// the owner has MaxEnabledLines enabled lines. Offline, the insert is queued
// and lines already waiting in the queue count toward the owner's total.
func (s *Service) Create(ctx context.Context, ownerID, name string, now time.Time) (Created, error) {
	name = strings.TrimSpace(name)
	if ownerID == "" {
		return Created{}, services.Wrap(services.ErrUnauthorized, "lines", "create", "not logged in", nil)
	}
	if name == "" {
		return Created{}, services.Wrap(services.ErrValidation, "lines", "create", "line name is required", nil)
	}

	total, enabled, err := s.ownedCounts(ctx, ownerID)
	if err != nil {
		return Created{}, err
	}
	if enabled >= backend.MaxEnabledLines {
		return Created{}, services.Wrap(services.ErrRejected, "lines", "create",
			fmt.Sprintf("at most %d enabled lines are allowed", backend.MaxEnabledLines), nil)
	}
	status := backend.LineDisabled
	if total == 0 {
		status = backend.LineEnabled
	}
	change := queue.CreateLine{
		ID:         uuid.NewString(),
		Name:       name,
		OwnerID:    ownerID,
		Status:     status,
		Plan:       backend.LinePlanMonthly,
		Price:      backend.LineMonthlyPrice,
		ExpireDate: now.AddDate(0, 0, backend.LineTermDays).Format("2006-01-02"),
	}
	line := backend.Line{
		ID:         change.ID,
		Name:       change.Name,
		OwnerID:    change.OwnerID,
		Status:     change.Status,
		Plan:       change.Plan,
		Price:      change.Price,
		ExpireDate: change.ExpireDate,
		IsActive:   true,
	}

	err = services.Wrap(services.ErrTransient, "lines", "create", "offline", nil)
	if s.isOnline() {
		err = s.remote.Insert(ctx, s.table, line, nil)
		if errors.Is(err, services.ErrConflict) {
			err = nil
		}
	}
	if err == nil {
		if _, lerr := s.List(ctx, ownerID); lerr != nil {
			s.logger.Warn("line cache not refreshed after create", logging.Error(lerr))
		}
		s.logger.Info("line created",
			logging.String(logging.FieldLineID, line.ID),
			logging.String("status", line.Status),
		)
		return Created{Line: line}, nil
	}
	if !services.Retryable(err) {
		return Created{}, err
	}
	if _, qerr := s.store.EnqueueMutation(ctx, change); qerr != nil {
		return Created{}, fmt.Errorf("queue line create after %v: %w", err, qerr)
	}
	return Created{Line: line, Queued: true}, nil
}

// ownedCounts returns how many active lines ownerID has and how many of them
// are enabled, including creations still waiting in the queue.
func (s *Service) ownedCounts(ctx context.Context, ownerID string) (total, enabled int, err error) {
	res, err := s.List(ctx, ownerID)
	if err != nil {
		return 0, 0, err
	}
	if res.Source == queue.SourceNone {
		return 0, 0, res.RemoteErr
	}
	total = len(res.Value)
	enabled = ActiveCount(res.Value)

	pending, err := s.store.Mutations(ctx, queue.StatusPending)
	if err != nil {
		return 0, 0, err
	}
	for _, pm := range pending {
		create, ok := pm.Mutation.(queue.CreateLine)
		if !ok || create.OwnerID != ownerID {
			continue
		}
		total++
		if create.Status == backend.LineEnabled {
			enabled++
		}
	}
	return total, enabled, nil
}

// DisableExpired switches enabled lines past their expiry date to disabled.
// It needs the backend and does nothing offline.
func (s *Service) DisableExpired(ctx context.Context, ownerID string, now time.Time) (int, error) {
	if !s.isOnline() {
		return 0, nil
	}
	res, err := s.List(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	if res.Source != queue.SourceRemote {
		return 0, nil
	}
	disabled := 0
	for _, line := range res.Value {
		if line.Status != backend.LineEnabled || !expired(line.ExpireDate, now) {
			continue
		}
		patch := map[string]string{"status": backend.LineDisabled}
		if err := s.remote.Update(ctx, s.table, []backend.Filter{backend.Eq("id", line.ID)}, patch, nil); err != nil {
			return disabled, err
		}
		disabled++
		s.logger.Info("expired line disabled",
			logging.String(logging.FieldLineID, line.ID),
			logging.String("expire_date", line.ExpireDate),
		)
	}
	if disabled > 0 {
		if _, err := s.List(ctx, ownerID); err != nil {
			return disabled, err
		}
	}
	return disabled, nil
}

func expired(value string, now time.Time) bool {
	if value == "" {
		return false
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return now.After(t)
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return !now.Before(t.AddDate(0, 0, 1))
	}
	return false
}
