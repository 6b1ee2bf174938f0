// Package workflow implements the time-entry approval state machine: pure
// decision logic that, given an intended create, update, confirm, reject,
// delete or bulk submit together with the actor and the entry's current
// snapshot, computes the resulting field values or refuses the operation
// with a typed error. The package performs no I/O; callers fetch the entry
// snapshot, the owner's settings and the lock state immediately before
// calling in, and persist whatever plan comes back.
package workflow

import (
	"fmt"
	"time"
)

// LockedError is returned when the target calendar day is closed for the
// owner. There is no override for any role; the caller surfaces the error
// verbatim and must not retry.
type LockedError struct {
	UserID uint64
	Day    time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("day %s is locked for user %d", e.Day.Format("2006-01-02"), e.UserID)
}

// PermissionError is returned when a role or ownership precondition fails,
// for example a non-admin confirming a late entry.
type PermissionError struct {
	Op     string
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// ValidationError is returned when the request itself is malformed, such as
// a missing mandatory reason on a non-owner edit.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError is returned when the entry id cannot be resolved. It lives
// here with the other workflow error kinds even though the lookup itself
// happens in the service layer.
type NotFoundError struct {
	Entity string
	ID     uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}
