package workflow

import (
	"github.com/jfellner/zeiterfassung/internal/model"
)

// Actor identifies who is performing an operation. The ID is the user id
// from the access token, Role the role claim.
type Actor struct {
	ID   uint64
	Role string
}

// IsAdmin reports whether the actor carries the admin role.
func (a Actor) IsAdmin() bool { return a.Role == model.RoleAdmin }

// CanEditOthers reports whether the actor's role allows mutating entries
// owned by someone else. Peer reviewers confirm and reject but do not edit.
func (a Actor) CanEditOthers() bool {
	return a.Role == model.RoleAdmin || a.Role == model.RoleOffice
}

// OwnerSettings is the slice of the owner's configuration the state machine
// depends on, resolved by the caller right before each operation.
type OwnerSettings struct {
	RequireConfirmation bool
	Role                string
}

// autoConfirmTypes lists the low-risk categories that may skip manual review
// when the owner's trust setting disables mandatory confirmation.
var autoConfirmTypes = map[model.EntryType]bool{
	model.TypeCompany:   true,
	model.TypeOffice:    true,
	model.TypeWarehouse: true,
	model.TypeCar:       true,
}

// autoConfirmEligible applies the per-entry auto-confirmation rule: the
// owner must have confirmation disabled, the category must be low-risk and
// the entry must not be delegated to a peer reviewer.
func autoConfirmEligible(typ model.EntryType, responsible *uint64, owner OwnerSettings) bool {
	if owner.RequireConfirmation {
		return false
	}
	return autoConfirmTypes[typ] && responsible == nil
}

// autoConfirmStands combines eligibility with the late-entry override.
// Retroactive reporting is treated as higher risk: the trust shortcut only
// survives on a late entry when the confirmation would be admin-authored.
func autoConfirmStands(typ model.EntryType, responsible *uint64, late bool, actor Actor, owner OwnerSettings) bool {
	if !autoConfirmEligible(typ, responsible, owner) {
		return false
	}
	if late && !actor.IsAdmin() {
		return false
	}
	return true
}
