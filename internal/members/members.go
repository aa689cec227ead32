// Package members resolves line membership and the permissions attached to
// each role.
package members

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"linesync/internal/backend"
	"linesync/internal/config"
	"linesync/internal/logging"
	"linesync/internal/queue"
	"linesync/internal/services"
)

var (
	// ErrPermissionDenied is returned when a user's role does not allow an action.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnknownUser is returned when a username matches no account.
	ErrUnknownUser = errors.New("unknown user")
)

const snapshotKind = "line_members"

// Remote is the part of the backend client this package uses.
type Remote interface {
	Select(ctx context.Context, table string, q backend.Query, dest any) error
	Insert(ctx context.Context, table string, row any, dest any) error
	Delete(ctx context.Context, table string, filters []backend.Filter) error
}

// Directory lists and manages line members with snapshot fallback.
type Directory struct {
	remote     Remote
	store      *queue.Store
	table      string
	usersTable string
	online     func() bool
	logger     *slog.Logger
}

// Option customizes a Directory.
type Option func(*Directory)

// WithOnline skips the remote fetch while report returns false.
func WithOnline(report func() bool) Option {
	return func(d *Directory) { d.online = report }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) { d.logger = logging.NewComponentLogger(logger, "members") }
}

// New builds a Directory.
func New(cfg *config.Config, store *queue.Store, remote Remote, opts ...Option) *Directory {
	d := &Directory{
		remote:     remote,
		store:      store,
		table:      cfg.Backend.MembersTable,
		usersTable: cfg.Backend.UsersTable,
		logger:     logging.NewComponentLogger(nil, "members"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Directory) isOnline() bool {
	return d.online == nil || d.online()
}

func (d *Directory) fetch(lineID string) func(context.Context) ([]backend.Member, error) {
	return func(ctx context.Context) ([]backend.Member, error) {
		if !d.isOnline() {
			return nil, services.Wrap(services.ErrTransient, "members", "list", "offline", nil)
		}
		var rows []backend.Member
		q := backend.Query{Filters: []backend.Filter{backend.Eq("line_id", lineID)}}
		if err := d.remote.Select(ctx, d.table, q, &rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
}

// List returns the members of lineID, falling back to the cached copy.
func (d *Directory) List(ctx context.Context, lineID string) (queue.Cached[[]backend.Member], error) {
	res, err := queue.Fetch(ctx, d.store, queue.SnapshotName(snapshotKind, lineID), d.fetch(lineID))
	if err != nil {
		return res, err
	}
	if res.RemoteErr != nil {
		d.logger.Debug("member list served from cache",
			logging.String(logging.FieldLineID, lineID),
			logging.String("source", string(res.Source)),
			logging.Error(res.RemoteErr),
		)
	}
	return res, nil
}

// RefreshLine re-fetches and caches the member list of lineID.
func (d *Directory) RefreshLine(ctx context.Context, lineID string) error {
	res, err := d.List(ctx, lineID)
	if err != nil {
		return err
	}
	if res.RemoteErr != nil {
		return res.RemoteErr
	}
	return res.SnapshotErr
}

// Role returns userID's role on lineID, or "" when the user is not a member.
func (d *Directory) Role(ctx context.Context, lineID, userID string) (string, error) {
	res, err := d.List(ctx, lineID)
	if err != nil {
		return "", err
	}
	if res.Source == queue.SourceNone {
		return "", res.RemoteErr
	}
	for _, m := range res.Value {
		if m.UserID == userID {
			return m.Role, nil
		}
	}
	return "", nil
}

// Require fails with ErrPermissionDenied unless userID's role passes allowed.
func (d *Directory) Require(ctx context.Context, lineID, userID, action string, allowed func(role string) bool) error {
	role, err := d.Role(ctx, lineID, userID)
	if err != nil {
		return err
	}
	if !allowed(role) {
		return services.Wrap(services.ErrRejected, "members", action, "role "+quoteRole(role)+" may not "+action, ErrPermissionDenied)
	}
	return nil
}

func quoteRole(role string) string {
	if role == "" {
		return "(none)"
	}
	return role
}

// CanManageMembers reports whether role may add or remove line members.
func CanManageMembers(role string) bool {
	return role == backend.RoleOwner || role == backend.RoleLineLead
}

// CanDeleteRecords reports whether role may delete production records.
func CanDeleteRecords(role string) bool {
	return role == backend.RoleOwner
}

// CanDeleteFinance reports whether role may delete finance entries.
func CanDeleteFinance(role string) bool {
	return role == backend.RoleOwner || role == backend.RoleLineLead
}

// NewMember names the user to add by id or, when the id is unknown, by username.
type NewMember struct {
	LineID   string
	UserID   string
	Username string
	Role     string
}

// Add grants a user a role on a line on behalf of actorID. When the backend
// cannot be reached the grant is queued and queued=true is returned.
func (d *Directory) Add(ctx context.Context, actorID string, req NewMember) (queued bool, err error) {
	if actorID == "" {
		return false, services.Wrap(services.ErrUnauthorized, "members", "add", "not logged in", nil)
	}
	if !backend.ValidRole(req.Role) {
		return false, services.Wrap(services.ErrValidation, "members", "add", "unknown role "+quoteRole(req.Role), nil)
	}
	change := queue.AddMember{
		ID:       uuid.NewString(),
		LineID:   req.LineID,
		UserID:   req.UserID,
		Username: strings.TrimSpace(req.Username),
		Role:     req.Role,
	}
	if _, _, err := queue.EncodeMutation(change); err != nil {
		return false, services.Wrap(services.ErrValidation, "members", "add", "", err)
	}
	if err := d.Require(ctx, req.LineID, actorID, "manage members", CanManageMembers); err != nil {
		return false, err
	}

	err = services.Wrap(services.ErrTransient, "members", "add", "offline", nil)
	if d.isOnline() {
		err = d.insert(ctx, change)
	}
	if err == nil {
		d.refreshAfterWrite(ctx, req.LineID)
		return false, nil
	}
	if !services.Retryable(err) {
		return false, err
	}
	if _, qerr := d.store.EnqueueMutation(ctx, change); qerr != nil {
		return false, fmt.Errorf("queue member add after %v: %w", err, qerr)
	}
	d.logger.Info("member add queued",
		logging.String(logging.FieldLineID, req.LineID),
		logging.Error(err),
	)
	return true, nil
}

func (d *Directory) insert(ctx context.Context, m queue.AddMember) error {
	userID := m.UserID
	if userID == "" {
		user, err := d.lookupUser(ctx, m.Username)
		if err != nil {
			return err
		}
		userID = user.ID
	}
	var existing []backend.Member
	q := backend.Query{Filters: []backend.Filter{backend.Eq("line_id", m.LineID), backend.Eq("user_id", userID)}}
	if err := d.remote.Select(ctx, d.table, q, &existing); err != nil {
		return err
	}
	if len(existing) > 0 {
		return services.Wrap(services.ErrRejected, "members", "add", "user is already a member of this line", nil)
	}
	return d.remote.Insert(ctx, d.table, backend.Member{ID: m.ID, LineID: m.LineID, UserID: userID, Role: m.Role}, nil)
}

func (d *Directory) lookupUser(ctx context.Context, username string) (backend.User, error) {
	var users []backend.User
	q := backend.Query{Filters: []backend.Filter{backend.Eq("username", username)}, Limit: 1}
	if err := d.remote.Select(ctx, d.usersTable, q, &users); err != nil {
		return backend.User{}, err
	}
	if len(users) == 0 {
		return backend.User{}, services.Wrap(services.ErrRejected, "members", "add", "no user named "+username+"; register the account first", ErrUnknownUser)
	}
	return users[0], nil
}

// Remove revokes userID's membership of lineID on behalf of actorID. When the
// backend cannot be reached the removal is queued and queued=true is returned.
func (d *Directory) Remove(ctx context.Context, actorID, lineID, userID string) (queued bool, err error) {
	if actorID == "" {
		return false, services.Wrap(services.ErrUnauthorized, "members", "remove", "not logged in", nil)
	}
	change := queue.RemoveMember{LineID: lineID, UserID: userID}
	if _, _, err := queue.EncodeMutation(change); err != nil {
		return false, services.Wrap(services.ErrValidation, "members", "remove", "", err)
	}
	if userID == actorID {
		return false, services.Wrap(services.ErrValidation, "members", "remove", "you cannot remove yourself", nil)
	}
	if err := d.Require(ctx, lineID, actorID, "manage members", CanManageMembers); err != nil {
		return false, err
	}

	err = services.Wrap(services.ErrTransient, "members", "remove", "offline", nil)
	if d.isOnline() {
		err = d.remote.Delete(ctx, d.table, []backend.Filter{backend.Eq("line_id", lineID), backend.Eq("user_id", userID)})
		if errors.Is(err, services.ErrNotFound) {
			err = nil
		}
	}
	if err == nil {
		d.refreshAfterWrite(ctx, lineID)
		return false, nil
	}
	if !services.Retryable(err) {
		return false, err
	}
	if _, qerr := d.store.EnqueueMutation(ctx, change); qerr != nil {
		return false, fmt.Errorf("queue member removal after %v: %w", err, qerr)
	}
	return true, nil
}

func (d *Directory) refreshAfterWrite(ctx context.Context, lineID string) {
	if err := d.RefreshLine(ctx, lineID); err != nil {
		d.logger.Warn("member cache not refreshed after write",
			logging.String(logging.FieldLineID, lineID),
			logging.Error(err),
		)
	}
}
