// Package service orchestrates the approval workflow: it fetches the
// entry's current snapshot and the owner's configuration, hands both to the
// pure workflow engine, persists whatever plan comes back and fans the
// change out through the notifier. It owns no business rules itself.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jfellner/zeiterfassung/internal/model"
	"github.com/jfellner/zeiterfassung/internal/queue"
	"github.com/jfellner/zeiterfassung/internal/repository"
	"github.com/jfellner/zeiterfassung/internal/workflow"
)

// EntryStore is the slice of the entry repository the service depends on.
type EntryStore interface {
	Get(ctx context.Context, id uint64) (*model.TimeEntry, error)
	GetMany(ctx context.Context, ids []uint64) ([]model.TimeEntry, error)
	ListByOwner(ctx context.Context, ownerID uint64, from, to string, includeDeleted bool) ([]model.TimeEntry, error)
	Insert(ctx context.Context, e *model.TimeEntry) error
	UpdateFields(ctx context.Context, id uint64, fields map[string]any) error
	UpdateFieldsMany(ctx context.Context, ids []uint64, fields map[string]any) error
	HardDelete(ctx context.Context, id uint64) error
	RejectAndClearDelegation(ctx context.Context, id uint64, fields map[string]any) error
}

// HistoryStore appends and reads audit rows.
type HistoryStore interface {
	Append(ctx context.Context, h *model.EntryChangeHistory) error
	ListByEntry(ctx context.Context, entryID uint64) ([]model.EntryChangeHistory, error)
}

// SettingsProvider resolves an owner's workflow configuration.
type SettingsProvider interface {
	GetSettings(ctx context.Context, userID uint64) (workflow.OwnerSettings, error)
}

// LockProvider answers whether a calendar day is closed for a user.
type LockProvider interface {
	IsLocked(ctx context.Context, userID uint64, day time.Time) (bool, error)
}

// ChangeNotifier pushes invalidation events to subscribed readers.
type ChangeNotifier interface {
	EntryChanged(ctx context.Context, event queue.EntryChangedEvent) error
}

// EntryService wires the workflow engine to its collaborators.
type EntryService struct {
	entries  EntryStore
	history  HistoryStore
	settings SettingsProvider
	locks    LockProvider
	notifier ChangeNotifier
	logger   *logrus.Logger
	now      func() time.Time
}

// NewEntryService constructs an EntryService. notifier may be nil, in which
// case change events are skipped (useful in tests and degraded setups).
func NewEntryService(entries EntryStore, history HistoryStore, settings SettingsProvider, locks LockProvider, notifier ChangeNotifier) *EntryService {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return &EntryService{
		entries:  entries,
		history:  history,
		settings: settings,
		locks:    locks,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create logs a new entry for ownerID. Office and admin actors may create on
// another user's behalf; installers and azubis only for themselves.
func (s *EntryService) Create(ctx context.Context, draft model.TimeEntry, ownerID uint64, actor workflow.Actor) (*model.TimeEntry, error) {
	if ownerID == 0 {
		ownerID = actor.ID
	}
	if ownerID != actor.ID && !actor.CanEditOthers() {
		return nil, &workflow.PermissionError{Op: "create", Reason: "cannot create entries for another user"}
	}

	s.logger.WithFields(logrus.Fields{
		"owner_id": ownerID,
		"actor_id": actor.ID,
		"type":     draft.Type,
		"date":     draft.Date.Format("2006-01-02"),
	}).Info("Creating time entry")

	owner, err := s.ownerSettings(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	locked, err := s.locks.IsLocked(ctx, ownerID, draft.Date)
	if err != nil {
		return nil, err
	}

	planned, err := workflow.PlanCreate(draft, actor, ownerID, owner, locked, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.entries.Insert(ctx, &planned); err != nil {
		s.logger.WithError(err).Error("Failed to insert entry")
		return nil, err
	}

	s.publish(ctx, queue.ActionCreated, planned.ID, ownerID, actor.ID)
	return s.refetch(ctx, planned.ID, &planned)
}

// Update applies a partial edit to an entry, appending one audit row.
func (s *EntryService) Update(ctx context.Context, id uint64, patch workflow.EntryPatch, reason string, actor workflow.Actor) (*model.TimeEntry, error) {
	current, err := s.getEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"entry_id": id,
		"actor_id": actor.ID,
		"owner_id": current.UserID,
	}).Info("Updating time entry")

	owner, err := s.ownerSettings(ctx, current.UserID)
	if err != nil {
		return nil, err
	}
	curLocked, err := s.locks.IsLocked(ctx, current.UserID, current.Date)
	if err != nil {
		return nil, err
	}
	tgtLocked := false
	if patch.Date != nil {
		if tgtLocked, err = s.locks.IsLocked(ctx, current.UserID, *patch.Date); err != nil {
			return nil, err
		}
	}

	plan, err := workflow.PlanUpdate(*current, patch, reason, actor, owner, curLocked, tgtLocked, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.entries.UpdateFields(ctx, id, plan.Fields); err != nil {
		s.logger.WithError(err).Error("Failed to update entry")
		return nil, s.translate(err, id)
	}
	if err := s.history.Append(ctx, &plan.History); err != nil {
		// The entry update is already durable; a lost audit row is a real
		// defect and must be loud even though we cannot roll back here.
		s.logger.WithError(err).WithField("entry_id", id).Error("Failed to append history row")
		return nil, err
	}

	s.publish(ctx, queue.ActionUpdated, id, current.UserID, actor.ID)
	return s.refetch(ctx, id, &plan.Entry)
}

// Confirm marks an entry as reviewed. Authorization for "is this my
// department" style checks is resolved here from roles and delegation; the
// engine only adds the late-entry admin gate.
func (s *EntryService) Confirm(ctx context.Context, id uint64, actor workflow.Actor) (*model.TimeEntry, error) {
	current, err := s.getEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	fields, err := workflow.PlanConfirm(*current, actor, s.mayReview(current, actor), s.now())
	if err != nil {
		return nil, err
	}
	if err := s.entries.UpdateFields(ctx, id, fields); err != nil {
		return nil, s.translate(err, id)
	}

	s.logger.WithFields(logrus.Fields{
		"entry_id": id,
		"actor_id": actor.ID,
	}).Info("Entry confirmed")

	s.publish(ctx, queue.ActionConfirmed, id, current.UserID, actor.ID)
	return s.refetch(ctx, id, nil)
}

// Reject sends an entry back to its owner with a reason. When the entry has
// a delegated reviewer, the write goes through the privileged channel that
// also drops the delegation; the next correction restores it.
func (s *EntryService) Reject(ctx context.Context, id uint64, actor workflow.Actor, reason string) (*model.TimeEntry, error) {
	current, err := s.getEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	plan, err := workflow.PlanReject(*current, actor, s.mayReview(current, actor), reason, s.now())
	if err != nil {
		return nil, err
	}
	if plan.ClearDelegation {
		err = s.entries.RejectAndClearDelegation(ctx, id, plan.Fields)
	} else {
		err = s.entries.UpdateFields(ctx, id, plan.Fields)
	}
	if err != nil {
		return nil, s.translate(err, id)
	}

	s.logger.WithFields(logrus.Fields{
		"entry_id": id,
		"actor_id": actor.ID,
	}).Info("Entry rejected")

	s.publish(ctx, queue.ActionRejected, id, current.UserID, actor.ID)
	return s.refetch(ctx, id, nil)
}

// Delete removes an entry: permanently when the owner drops an unsubmitted
// draft, as a reasoned soft delete otherwise. Hard reports which variant ran
// so the handler can shape its response.
func (s *EntryService) Delete(ctx context.Context, id uint64, actor workflow.Actor, reason string) (hard bool, err error) {
	current, err := s.getEntry(ctx, id)
	if err != nil {
		return false, err
	}
	locked, err := s.locks.IsLocked(ctx, current.UserID, current.Date)
	if err != nil {
		return false, err
	}

	plan, err := workflow.PlanDelete(*current, actor, reason, locked, s.now())
	if err != nil {
		return false, err
	}
	if plan.Hard {
		err = s.entries.HardDelete(ctx, id)
	} else {
		err = s.entries.UpdateFields(ctx, id, plan.Fields)
	}
	if err != nil {
		return false, s.translate(err, id)
	}

	s.logger.WithFields(logrus.Fields{
		"entry_id": id,
		"actor_id": actor.ID,
		"hard":     plan.Hard,
	}).Info("Entry deleted")

	s.publish(ctx, queue.ActionDeleted, id, current.UserID, actor.ID)
	return plan.Hard, nil
}

// BulkSubmit marks the actor's own entries as submitted. Items that cannot
// be submitted are filtered per item, never aborting the batch: unresolved
// ids, foreign or deleted entries and unconfirmed late entries silently drop
// out, and the caller gets back the ids that were actually updated.
func (s *EntryService) BulkSubmit(ctx context.Context, ids []uint64, actor workflow.Actor) ([]uint64, error) {
	owner, err := s.ownerSettings(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	entries, err := s.entries.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	plan := workflow.PlanBulkSubmit(entries, actor.ID, owner, s.now())
	if len(plan.IDs) == 0 {
		return []uint64{}, nil
	}
	if err := s.entries.UpdateFieldsMany(ctx, plan.IDs, plan.Fields); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"actor_id":  actor.ID,
		"requested": len(ids),
		"submitted": len(plan.IDs),
	}).Info("Entries submitted")

	for _, id := range plan.IDs {
		s.publish(ctx, queue.ActionSubmitted, id, actor.ID, actor.ID)
	}
	return plan.IDs, nil
}

// Get returns one entry. Owners see their own entries, office and admin see
// everything, a delegated reviewer sees the entry delegated to them.
func (s *EntryService) Get(ctx context.Context, id uint64, actor workflow.Actor) (*model.TimeEntry, error) {
	current, err := s.getEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.mayView(current, actor) {
		return nil, &workflow.PermissionError{Op: "get", Reason: "not allowed to view this entry"}
	}
	return current, nil
}

// List returns an owner's entries in a date range (inclusive, YYYY-MM-DD;
// empty bounds are open).
func (s *EntryService) List(ctx context.Context, ownerID uint64, from, to string, includeDeleted bool, actor workflow.Actor) ([]model.TimeEntry, error) {
	if ownerID == 0 {
		ownerID = actor.ID
	}
	if ownerID != actor.ID && !actor.CanEditOthers() {
		return nil, &workflow.PermissionError{Op: "list", Reason: "not allowed to view entries of another user"}
	}
	return s.entries.ListByOwner(ctx, ownerID, from, to, includeDeleted)
}

// History returns the audit trail of one entry, newest first.
func (s *EntryService) History(ctx context.Context, id uint64, actor workflow.Actor) ([]model.EntryChangeHistory, error) {
	current, err := s.getEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.mayView(current, actor) {
		return nil, &workflow.PermissionError{Op: "history", Reason: "not allowed to view this entry"}
	}
	return s.history.ListByEntry(ctx, id)
}

// mayReview resolves reviewer authorization outside the engine: office and
// admin always review, a delegated reviewer reviews the entry delegated to
// them. The late-entry admin gate is the engine's business, not ours.
func (s *EntryService) mayReview(e *model.TimeEntry, actor workflow.Actor) bool {
	if actor.CanEditOthers() {
		return true
	}
	return e.ResponsibleUserID != nil && *e.ResponsibleUserID == actor.ID
}

func (s *EntryService) mayView(e *model.TimeEntry, actor workflow.Actor) bool {
	return e.UserID == actor.ID || s.mayReview(e, actor)
}

func (s *EntryService) getEntry(ctx context.Context, id uint64) (*model.TimeEntry, error) {
	e, err := s.entries.Get(ctx, id)
	if err != nil {
		return nil, s.translate(err, id)
	}
	return e, nil
}

func (s *EntryService) ownerSettings(ctx context.Context, userID uint64) (workflow.OwnerSettings, error) {
	owner, err := s.settings.GetSettings(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return owner, &workflow.NotFoundError{Entity: "user", ID: userID}
	}
	return owner, err
}

func (s *EntryService) translate(err error, id uint64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return &workflow.NotFoundError{Entity: "entry", ID: id}
	}
	return err
}

// refetch reads the canonical row back after a write so callers see store
// timestamps and the derived has_history flag. On a read failure the planned
// in-memory state (when available) is returned instead: the write succeeded
// and the caller should not see it as failed.
func (s *EntryService) refetch(ctx context.Context, id uint64, fallback *model.TimeEntry) (*model.TimeEntry, error) {
	e, err := s.entries.Get(ctx, id)
	if err != nil {
		if fallback != nil {
			return fallback, nil
		}
		return nil, s.translate(err, id)
	}
	return e, nil
}

func (s *EntryService) publish(ctx context.Context, action string, entryID, ownerID, actorID uint64) {
	if s.notifier == nil {
		return
	}
	ev := queue.EntryChangedEvent{
		EventID:    uuid.NewString(),
		Table:      "time_entries",
		EntityID:   entryID,
		OwnerID:    ownerID,
		Action:     action,
		ActorID:    actorID,
		OccurredAt: s.now().Format(time.RFC3339),
	}
	if err := s.notifier.EntryChanged(ctx, ev); err != nil {
		// Readers converge on the next full read; the push is best effort.
		s.logger.WithError(err).WithField("entry_id", entryID).Warn("Change event publish failed")
	}
}
