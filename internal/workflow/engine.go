package workflow

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jfellner/zeiterfassung/internal/model"
)

// PlanCreate computes the stored state of a new entry. The draft carries the
// content fields only; ownership and all lifecycle flags are decided here.
// dayLocked must reflect the owner's lock set for the draft's date at call
// time.
//
// Auto-confirmation applies when the owner's trust setting disables
// mandatory review, the category is low-risk and no peer reviewer is
// delegated. A late entry overrides that shortcut: it stays an unsubmitted
// draft until an admin confirms it, unless the confirmation would already be
// admin-authored.
func PlanCreate(draft model.TimeEntry, actor Actor, ownerID uint64, owner OwnerSettings, dayLocked bool, now time.Time) (model.TimeEntry, error) {
	if dayLocked {
		return model.TimeEntry{}, &LockedError{UserID: ownerID, Day: draft.Date}
	}
	if err := validateContent(&draft); err != nil {
		return model.TimeEntry{}, err
	}

	e := draft
	e.UserID = ownerID

	// Lifecycle flags are never accepted from the caller.
	e.ConfirmedBy, e.ConfirmedAt = nil, nil
	e.RejectedBy, e.RejectedAt, e.RejectionReason = nil, nil, nil
	e.LastChangedBy, e.ChangeReason = nil, nil
	e.ChangeConfirmedByUser = false
	e.IsDeleted, e.DeletedAt, e.DeletedBy, e.DeletionReason = false, nil, nil, nil
	e.DeletionConfirmedByUser = false

	if autoConfirmStands(e.Type, e.ResponsibleUserID, e.IsLate(), actor, owner) {
		actorID := actor.ID
		at := now
		e.Submitted = true
		e.ConfirmedBy = &actorID
		e.ConfirmedAt = &at
	} else {
		e.Submitted = false
	}

	e.CreatedAt, e.UpdatedAt = now, now
	return e, nil
}

// UpdatePlan is the outcome of PlanUpdate: the merged entry state, the exact
// column set to persist and the audit row to append. Persisting Fields
// rather than the whole entry keeps concurrent updates last-write-wins at
// the granularity of a single call's field set.
type UpdatePlan struct {
	Entry   model.TimeEntry
	Fields  map[string]any
	History model.EntryChangeHistory
}

// PlanUpdate computes the effect of a partial edit on an existing entry.
//
// Edits by anyone but the owner demand an explicit reason and flag the entry
// as awaiting the owner's acknowledgment; an owner's own edit is
// self-acknowledged. Any update clears an outstanding rejection, because a
// correction is the attempt to resolve it, but a corrected rejected entry
// always re-enters manual review instead of re-auto-confirming. When the
// rejecting reviewer was the delegated reviewer, the delegation is restored
// so it survives the reject and correct cycle.
func PlanUpdate(current model.TimeEntry, patch EntryPatch, reason string, actor Actor, owner OwnerSettings, currentDayLocked, targetDayLocked bool, now time.Time) (*UpdatePlan, error) {
	if currentDayLocked {
		return nil, &LockedError{UserID: current.UserID, Day: current.Date}
	}
	if patch.Date != nil && targetDayLocked {
		return nil, &LockedError{UserID: current.UserID, Day: *patch.Date}
	}

	isOwner := actor.ID == current.UserID
	if !isOwner && !actor.CanEditOthers() {
		return nil, &PermissionError{Op: "update", Reason: "only the owner or office staff may edit an entry"}
	}
	if patch.Empty() {
		return nil, &ValidationError{Field: "patch", Reason: "no fields to update"}
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if !isOwner && reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required when editing someone else's entry"}
	}

	// The requested delta, captured before derived fields are mixed in: it
	// becomes the new_values payload of the audit row.
	delta, err := json.Marshal(patch.Fields())
	if err != nil {
		return nil, err
	}

	fields := patch.Fields()
	merged := patch.Apply(current)
	actorID := actor.ID

	if isOwner {
		merged.ChangeConfirmedByUser = true
		merged.ChangeReason = nil
		fields["change_confirmed_by_user"] = true
		fields["change_reason"] = nil
	} else {
		r := reason
		merged.ChangeConfirmedByUser = false
		merged.ChangeReason = &r
		merged.LastChangedBy = &actorID
		fields["change_confirmed_by_user"] = false
		fields["change_reason"] = reason
		fields["last_changed_by"] = actorID
	}

	// Re-evaluate auto-confirmation against the post-merge state. An entry
	// carrying an unresolved rejection never re-auto-confirms, and an
	// already confirmed entry keeps its original confirmation.
	wasRejected := current.RejectedAt != nil
	if !wasRejected && current.ConfirmedAt == nil &&
		autoConfirmStands(merged.Type, merged.ResponsibleUserID, merged.IsLate(), actor, owner) {
		at := now
		merged.Submitted = true
		merged.ConfirmedBy = &actorID
		merged.ConfirmedAt = &at
		fields["submitted"] = true
		fields["confirmed_by"] = actorID
		fields["confirmed_at"] = now
	}

	merged.RejectedBy, merged.RejectedAt, merged.RejectionReason = nil, nil, nil
	fields["rejected_by"] = nil
	fields["rejected_at"] = nil
	fields["rejection_reason"] = nil

	// The rejection channel may have cleared the delegation; restore it from
	// the rejecting reviewer unless the update supplies or carries one.
	if current.RejectedBy != nil && merged.ResponsibleUserID == nil {
		rb := *current.RejectedBy
		merged.ResponsibleUserID = &rb
		fields["responsible_user_id"] = rb
	}

	merged.UpdatedAt = now

	status := model.HistoryStatusPending
	if isOwner {
		status = model.HistoryStatusConfirmed
	}
	var reasonPtr *string
	if reason != "" {
		reasonPtr = &reason
	}
	hist := model.EntryChangeHistory{
		EntryID:   current.ID,
		ChangedBy: actorID,
		OldValues: current.Snapshot(),
		NewValues: delta,
		Reason:    reasonPtr,
		Status:    status,
		ChangedAt: now,
	}

	return &UpdatePlan{Entry: merged, Fields: fields, History: hist}, nil
}

// PlanConfirm computes the field set for confirming an entry. The reviewer
// authorization ("is this my department") is resolved by the caller and
// passed in; the engine only layers the late-entry admin gate on top. A late
// entry becomes submitted at the moment of its admin confirmation, never
// before.
func PlanConfirm(current model.TimeEntry, actor Actor, authorized bool, now time.Time) (map[string]any, error) {
	if !authorized {
		return nil, &PermissionError{Op: "confirm", Reason: "not authorized to review this entry"}
	}
	if current.IsLate() && !actor.IsAdmin() {
		return nil, &PermissionError{Op: "confirm", Reason: "late entries require admin confirmation"}
	}
	fields := map[string]any{
		"confirmed_by":     actor.ID,
		"confirmed_at":     now,
		"rejected_by":      nil,
		"rejected_at":      nil,
		"rejection_reason": nil,
	}
	if current.IsLate() {
		fields["submitted"] = true
	}
	return fields, nil
}

// RejectPlan is the outcome of PlanReject. ClearDelegation tells the caller
// to route the write through the privileged reject-and-clear-delegation
// store operation, since nothing else may drop responsible_user_id.
type RejectPlan struct {
	Fields          map[string]any
	ClearDelegation bool
}

// PlanReject computes the field set for rejecting an entry. A rejection
// demands a reason, clears any confirmation and supersedes a deletion
// request in flight.
func PlanReject(current model.TimeEntry, actor Actor, authorized bool, reason string, now time.Time) (*RejectPlan, error) {
	if !authorized {
		return nil, &PermissionError{Op: "reject", Reason: "not authorized to review this entry"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required to reject an entry"}
	}
	fields := map[string]any{
		"rejected_by":                actor.ID,
		"rejected_at":                now,
		"rejection_reason":           reason,
		"confirmed_by":               nil,
		"confirmed_at":               nil,
		"is_deleted":                 false,
		"deleted_at":                 nil,
		"deleted_by":                 nil,
		"deletion_reason":            nil,
		"deletion_confirmed_by_user": false,
	}
	return &RejectPlan{
		Fields:          fields,
		ClearDelegation: current.ResponsibleUserID != nil,
	}, nil
}

// DeletePlan is the outcome of PlanDelete. Hard means the row is removed
// permanently; otherwise Fields holds the soft-delete column set.
type DeletePlan struct {
	Hard   bool
	Fields map[string]any
}

// PlanDelete decides between hard and soft deletion. Only the owner may hard
// delete, and only a pure draft; everything else is a soft delete that
// demands a reason and, when performed by someone else, the owner's later
// acknowledgment.
func PlanDelete(current model.TimeEntry, actor Actor, reason string, dayLocked bool, now time.Time) (*DeletePlan, error) {
	if dayLocked {
		return nil, &LockedError{UserID: current.UserID, Day: current.Date}
	}
	isOwner := actor.ID == current.UserID
	if isOwner && !current.Submitted {
		return &DeletePlan{Hard: true}, nil
	}
	if !isOwner && !actor.CanEditOthers() {
		return nil, &PermissionError{Op: "delete", Reason: "only the owner or office staff may delete an entry"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required to delete a submitted entry"}
	}
	fields := map[string]any{
		"is_deleted":                 true,
		"deleted_at":                 now,
		"deleted_by":                 actor.ID,
		"deletion_reason":            reason,
		"deletion_confirmed_by_user": isOwner,
	}
	return &DeletePlan{Fields: fields}, nil
}

// BulkSubmitPlan is the outcome of PlanBulkSubmit: the ids that survive the
// per-item filters and the field set to write on all of them.
type BulkSubmitPlan struct {
	IDs    []uint64
	Fields map[string]any
}

// PlanBulkSubmit filters the owner's entries for bulk submission and builds
// the shared field set. Filtered out per item, silently: entries owned by
// someone else, deleted entries and late entries that have not been admin
// confirmed yet. When the owner has confirmation disabled, confirmed_at is
// stamped on the whole batch; unlike the per-entry path this is keyed on the
// owner setting alone, since the batch carries no per-row category decision.
func PlanBulkSubmit(entries []model.TimeEntry, ownerID uint64, owner OwnerSettings, now time.Time) BulkSubmitPlan {
	ids := make([]uint64, 0, len(entries))
	for _, e := range entries {
		if e.UserID != ownerID || e.IsDeleted {
			continue
		}
		if e.IsLate() && e.ConfirmedAt == nil {
			continue
		}
		ids = append(ids, e.ID)
	}
	fields := map[string]any{"submitted": true}
	if !owner.RequireConfirmation {
		fields["confirmed_at"] = now
	}
	return BulkSubmitPlan{IDs: ids, Fields: fields}
}

func validateContent(e *model.TimeEntry) error {
	if !e.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "unknown entry type"}
	}
	if e.Hours < 0 {
		return &ValidationError{Field: "hours", Reason: "must not be negative"}
	}
	if e.Surcharge != nil && e.Type != model.TypeEmergencyService {
		return &ValidationError{Field: "surcharge", Reason: "only allowed on emergency_service entries"}
	}
	if e.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "required"}
	}
	return nil
}
