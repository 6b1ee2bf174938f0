package workflow

import (
	"time"

	"github.com/jfellner/zeiterfassung/internal/model"
)

// EntryPatch is a partial update to a time entry. Each field is optional;
// nil means "leave unchanged". Only the content fields of an entry appear
// here: the lifecycle flags (submission, confirmation, rejection, deletion,
// change tracking) are derived by the state machine and can never be set
// directly, and a delegation can be assigned through the patch but never
// cleared (removal goes through the privileged reject channel only).
type EntryPatch struct {
	Date              *time.Time
	Type              *model.EntryType
	Hours             *float64
	StartTime         *string
	EndTime           *string
	Note              *string
	Surcharge         *float64
	ResponsibleUserID *uint64
	LateReason        *string
}

// Empty reports whether the patch changes nothing.
func (p *EntryPatch) Empty() bool {
	return p.Date == nil && p.Type == nil && p.Hours == nil &&
		p.StartTime == nil && p.EndTime == nil && p.Note == nil &&
		p.Surcharge == nil && p.ResponsibleUserID == nil && p.LateReason == nil
}

// Apply merges the patch into a copy of the entry and returns it. The
// receiver entry is not modified.
func (p *EntryPatch) Apply(e model.TimeEntry) model.TimeEntry {
	if p.Date != nil {
		e.Date = *p.Date
	}
	if p.Type != nil {
		e.Type = *p.Type
	}
	if p.Hours != nil {
		e.Hours = *p.Hours
	}
	if p.StartTime != nil {
		e.StartTime = p.StartTime
	}
	if p.EndTime != nil {
		e.EndTime = p.EndTime
	}
	if p.Note != nil {
		e.Note = p.Note
	}
	if p.Surcharge != nil {
		e.Surcharge = p.Surcharge
	}
	if p.ResponsibleUserID != nil {
		e.ResponsibleUserID = p.ResponsibleUserID
	}
	if p.LateReason != nil {
		e.LateReason = p.LateReason
	}
	return e
}

// Fields returns the requested delta as column name to value pairs. This is
// both the field set handed to the store (partial update, last write wins at
// this granularity) and the new_values payload of the audit row.
func (p *EntryPatch) Fields() map[string]any {
	f := map[string]any{}
	if p.Date != nil {
		f["date"] = *p.Date
	}
	if p.Type != nil {
		f["type"] = string(*p.Type)
	}
	if p.Hours != nil {
		f["hours"] = *p.Hours
	}
	if p.StartTime != nil {
		f["start_time"] = *p.StartTime
	}
	if p.EndTime != nil {
		f["end_time"] = *p.EndTime
	}
	if p.Note != nil {
		f["note"] = *p.Note
	}
	if p.Surcharge != nil {
		f["surcharge"] = *p.Surcharge
	}
	if p.ResponsibleUserID != nil {
		f["responsible_user_id"] = *p.ResponsibleUserID
	}
	if p.LateReason != nil {
		f["late_reason"] = *p.LateReason
	}
	return f
}

// Validate checks the content of the patch against the same rules Create
// applies to a full draft.
func (p *EntryPatch) Validate() error {
	if p.Type != nil && !p.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "unknown entry type"}
	}
	if p.Hours != nil && *p.Hours < 0 {
		return &ValidationError{Field: "hours", Reason: "must not be negative"}
	}
	if p.Surcharge != nil && p.Type != nil && *p.Type != model.TypeEmergencyService {
		return &ValidationError{Field: "surcharge", Reason: "only allowed on emergency_service entries"}
	}
	return nil
}
