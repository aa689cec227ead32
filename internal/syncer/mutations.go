package syncer

import (
	"context"
	"errors"
	"fmt"

	"linesync/internal/backend"
	"linesync/internal/logging"
	"linesync/internal/notifications"
	"linesync/internal/queue"
	"linesync/internal/services"
)

// QueueMutation stores m for replay on the next flush.
func (s *Syncer) QueueMutation(ctx context.Context, m queue.Mutation) (*queue.PendingMutation, error) {
	pending, err := s.store.EnqueueMutation(ctx, m)
	if err != nil {
		return nil, err
	}
	s.logger.Info("mutation queued",
		logging.String(logging.FieldMutationKind, string(pending.Kind)),
		logging.Int64("mutation_id", pending.ID),
	)
	return pending, nil
}

func (s *Syncer) replayMutations(ctx context.Context, result *FlushResult, touched map[string]struct{}) error {
	pending, err := s.store.Mutations(ctx, queue.StatusPending)
	if err != nil {
		return fmt.Errorf("list pending mutations: %w", err)
	}
	for _, pm := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger := s.logger.With(
			logging.String(logging.FieldMutationKind, string(pm.Kind)),
			logging.Int64("mutation_id", pm.ID),
		)
		if pm.DecodeErr != nil {
			result.MutationsUnknown++
			result.MutationsPending++
			logging.WarnWithContext(logger, "queued mutation cannot be decoded", "mutation_undecodable",
				logging.Error(pm.DecodeErr),
				logging.String(logging.FieldImpact, "mutation stays queued until a build that knows it replays it"),
				logging.String(logging.FieldErrorHint, "upgrade linesync or remove it with 'linesync queue remove --mutation'"),
			)
			continue
		}

		if err := s.applyMutation(ctx, pm.Mutation); err != nil {
			limit := s.maxAttempts
			if limit > 0 && errors.Is(err, services.ErrRejected) {
				limit = 1
			}
			status, recErr := s.store.RecordMutationFailure(ctx, pm.ID, err, limit)
			if recErr != nil {
				return recErr
			}
			logging.WarnWithContext(logger, "mutation replay failed", "mutation_replay_failed",
				logging.Error(err),
				logging.String("status", string(status)),
				logging.String(logging.FieldErrorHint, services.Hint(err)),
				logging.String(logging.FieldImpact, "change not yet visible to other devices"),
			)
			if status == queue.StatusFailed {
				result.MutationsFailed++
				s.publish(ctx, notifications.EventMutationFailed, notifications.Payload{
					"kind":  string(pm.Kind),
					"error": err,
				})
				continue
			}
			result.MutationsPending++
			continue
		}

		if err := s.store.CompleteMutation(ctx, pm.ID); err != nil {
			return err
		}
		result.MutationsApplied++
		if line := queue.MutationLine(pm.Mutation); line != "" {
			touched[line] = struct{}{}
		}
		logger.Info("mutation applied")
	}
	return nil
}

// applyMutation sends one mutation. Writes that already took effect (a
// duplicate insert, a delete of a missing row) count as applied.
func (s *Syncer) applyMutation(ctx context.Context, m queue.Mutation) error {
	switch v := m.(type) {
	case queue.UpdateLine:
		patch := map[string]string{}
		if v.Name != "" {
			patch["name"] = v.Name
		}
		if v.Status != "" {
			patch["status"] = v.Status
		}
		return s.remote.Update(ctx, s.linesTable, []backend.Filter{backend.Eq("id", v.LineID)}, patch, nil)
	case queue.CreateFinancialEntry:
		wireType, err := backend.WireFinanceType(v.Type)
		if err != nil {
			return services.Wrap(services.ErrValidation, "syncer", "replay finance entry", "", err)
		}
		row := backend.FinancialRecord{
			ID:          v.ID,
			LineID:      v.LineID,
			UserID:      v.UserID,
			Date:        v.Date,
			Amount:      v.Amount,
			Type:        wireType,
			Category:    v.Category,
			Description: v.Description,
		}
		err = s.remote.Insert(ctx, s.financeTable, row, nil)
		if errors.Is(err, services.ErrConflict) {
			return nil
		}
		return err
	case queue.DeleteRecord:
		err := s.remote.Delete(ctx, s.recordsTable, []backend.Filter{backend.Eq("id", v.RecordID)})
		if errors.Is(err, services.ErrNotFound) {
			return nil
		}
		return err
	case queue.CreateLine:
		row := backend.Line{
			ID:         v.ID,
			Name:       v.Name,
			OwnerID:    v.OwnerID,
			Status:     v.Status,
			Plan:       v.Plan,
			Price:      v.Price,
			ExpireDate: v.ExpireDate,
			IsActive:   true,
		}
		err := s.remote.Insert(ctx, s.linesTable, row, nil)
		if errors.Is(err, services.ErrConflict) {
			return nil
		}
		return err
	case queue.AddMember:
		return s.addMember(ctx, v)
	case queue.RemoveMember:
		err := s.remote.Delete(ctx, s.membersTable, []backend.Filter{backend.Eq("line_id", v.LineID), backend.Eq("user_id", v.UserID)})
		if errors.Is(err, services.ErrNotFound) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("%w: %s", queue.ErrUnknownMutationKind, m.Kind())
	}
}

func (s *Syncer) addMember(ctx context.Context, m queue.AddMember) error {
	userID := m.UserID
	if userID == "" {
		var users []backend.User
		q := backend.Query{Filters: []backend.Filter{backend.Eq("username", m.Username)}, Limit: 1}
		if err := s.remote.Select(ctx, s.usersTable, q, &users); err != nil {
			return err
		}
		if len(users) == 0 {
			return services.Wrap(services.ErrRejected, "syncer", "replay add member", "no user named "+m.Username, nil)
		}
		userID = users[0].ID
	}

	var existing []backend.Member
	q := backend.Query{Filters: []backend.Filter{backend.Eq("line_id", m.LineID), backend.Eq("user_id", userID)}}
	if err := s.remote.Select(ctx, s.membersTable, q, &existing); err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	row := backend.Member{ID: m.ID, LineID: m.LineID, UserID: userID, Role: m.Role}
	err := s.remote.Insert(ctx, s.membersTable, row, nil)
	if errors.Is(err, services.ErrConflict) {
		return nil
	}
	return err
}
