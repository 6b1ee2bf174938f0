package model

import (
	"encoding/json"
	"time"
)

// EntryType enumerates the reporting categories of a time entry. Work-like
// categories describe where paid time was spent, absence categories describe
// why no time was worked on a day. The zero value is not a valid type.
type EntryType string

const (
	TypeWork              EntryType = "work"
	TypeBreak             EntryType = "break"
	TypeCompany           EntryType = "company"
	TypeOffice            EntryType = "office"
	TypeWarehouse         EntryType = "warehouse"
	TypeCar               EntryType = "car"
	TypeVacation          EntryType = "vacation"
	TypeSick              EntryType = "sick"
	TypeHoliday           EntryType = "holiday"
	TypeUnpaid            EntryType = "unpaid"
	TypeOvertimeReduction EntryType = "overtime_reduction"
	TypeSickChild         EntryType = "sick_child"
	TypeSickPay           EntryType = "sick_pay"
	TypeSpecialHoliday    EntryType = "special_holiday"
	TypeEmergencyService  EntryType = "emergency_service"
)

// entryTypes is the set of all valid categories, used by Valid().
var entryTypes = map[EntryType]bool{
	TypeWork: true, TypeBreak: true, TypeCompany: true, TypeOffice: true,
	TypeWarehouse: true, TypeCar: true, TypeVacation: true, TypeSick: true,
	TypeHoliday: true, TypeUnpaid: true, TypeOvertimeReduction: true,
	TypeSickChild: true, TypeSickPay: true, TypeSpecialHoliday: true,
	TypeEmergencyService: true,
}

// absenceTypes marks the categories that represent an absence rather than
// worked time. The flag is derived for API responses and never persisted.
var absenceTypes = map[EntryType]bool{
	TypeVacation: true, TypeSick: true, TypeHoliday: true, TypeUnpaid: true,
	TypeOvertimeReduction: true, TypeSickChild: true, TypeSickPay: true,
	TypeSpecialHoliday: true,
}

// Valid reports whether t is one of the known entry categories.
func (t EntryType) Valid() bool { return entryTypes[t] }

// IsAbsence reports whether t counts as an absence category.
func (t EntryType) IsAbsence() bool { return absenceTypes[t] }

// TimeEntry is one unit of reported time or absence for one owner on one
// calendar day, as stored in the `time_entries` table. Nullable columns are
// pointer fields. Date carries only the calendar day; the time-of-day part
// is always midnight UTC.
//
// The lifecycle flags encode the approval workflow: an entry starts as a
// draft (Submitted=false), is submitted by its owner or auto-confirmed on
// creation, and is then confirmed or rejected by a reviewer. Rejection and
// confirmation are mutually exclusive at all times.
type TimeEntry struct {
	ID     uint64    `json:"id"`
	UserID uint64    `json:"user_id"`
	Date   time.Time `json:"date"`

	Type      EntryType `json:"type"`
	Hours     float64   `json:"hours"`
	StartTime *string   `json:"start_time,omitempty"`
	EndTime   *string   `json:"end_time,omitempty"`
	Note      *string   `json:"note,omitempty"`
	Surcharge *float64  `json:"surcharge,omitempty"` // emergency_service only, percent

	Submitted         bool       `json:"submitted"`
	ConfirmedBy       *uint64    `json:"confirmed_by,omitempty"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
	RejectedBy        *uint64    `json:"rejected_by,omitempty"`
	RejectedAt        *time.Time `json:"rejected_at,omitempty"`
	RejectionReason   *string    `json:"rejection_reason,omitempty"`
	ResponsibleUserID *uint64    `json:"responsible_user_id,omitempty"` // delegated peer reviewer
	LateReason        *string    `json:"late_reason,omitempty"`         // set on retroactive entries

	LastChangedBy         *uint64 `json:"last_changed_by,omitempty"`
	ChangeReason          *string `json:"change_reason,omitempty"`
	ChangeConfirmedByUser bool    `json:"change_confirmed_by_user"`

	IsDeleted               bool       `json:"is_deleted"`
	DeletedAt               *time.Time `json:"deleted_at,omitempty"`
	DeletedBy               *uint64    `json:"deleted_by,omitempty"`
	DeletionReason          *string    `json:"deletion_reason,omitempty"`
	DeletionConfirmedByUser bool       `json:"deletion_confirmed_by_user"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// HasHistory is derived on read (EXISTS against entry_change_history)
	// and never written back.
	HasHistory bool `json:"has_history"`
}

// IsLate reports whether the entry was logged retroactively. Late entries are
// exempt from auto-confirmation and may only be confirmed by an admin.
func (e *TimeEntry) IsLate() bool { return e.LateReason != nil && *e.LateReason != "" }

// Snapshot serializes the full current state of the entry for the audit
// trail. The derived HasHistory flag is part of the struct but harmless in
// the snapshot; storage fields are what matter to a reviewer reading history.
func (e *TimeEntry) Snapshot() json.RawMessage {
	b, err := json.Marshal(e)
	if err != nil {
		// Marshalling a plain struct of scalars cannot fail at runtime;
		// fall back to an empty object rather than poisoning the audit row.
		return json.RawMessage(`{}`)
	}
	return b
}

// History row statuses. A row starts pending when a non-owner edited the
// entry and confirmed when the owner edited it themselves; a later owner
// response flow (not part of this service) may move pending rows on.
const (
	HistoryStatusPending   = "pending"
	HistoryStatusConfirmed = "confirmed"
	HistoryStatusRejected  = "rejected"
)

// EntryChangeHistory is one append-only audit record in the
// `entry_change_history` table. OldValues holds the full entry snapshot
// taken before the change, NewValues only the fields the caller asked to
// change. Rows are never mutated or deleted by this service.
type EntryChangeHistory struct {
	ID        uint64          `json:"id"`
	EntryID   uint64          `json:"entry_id"`
	ChangedBy uint64          `json:"changed_by"`
	OldValues json.RawMessage `json:"old_values"`
	NewValues json.RawMessage `json:"new_values"`
	Reason    *string         `json:"reason,omitempty"`
	Status    string          `json:"status"`
	ChangedAt time.Time       `json:"changed_at"`
}
