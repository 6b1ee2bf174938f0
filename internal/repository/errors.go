// Package repository implements the durable store behind the approval
// workflow as thin raw-SQL data access over MySQL. Repositories own row
// durability and nothing else: every business decision about what may be
// written lives in the workflow package. Sentinel errors defined here let
// the service and handler layers distinguish failure scenarios without
// depending on driver details.
package repository

import "errors"

// ErrNotFound is returned when a row lookup matches nothing. Services
// translate it into the workflow's NotFoundError with entity context.
var ErrNotFound = errors.New("not found")

// ErrNoFields is returned when a partial update is requested with an empty
// field set. It indicates a programming error in the caller, not user input.
var ErrNoFields = errors.New("no fields to update")
