package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/jfellner/zeiterfassung/internal/model"
)

// EntryRepo provides row access to the time_entries table. Partial updates
// take an explicit column-to-value map and write exactly that set, so the
// consistency model stays last-write-wins at the granularity of a single
// call's field set; there is no version column. has_history is derived per
// read from the audit table and never stored.
type EntryRepo struct {
	db *sql.DB
}

// NewEntryRepo returns an EntryRepo bound to the given database.
func NewEntryRepo(db *sql.DB) *EntryRepo { return &EntryRepo{db: db} }

// entryColumns is the select list shared by all entry reads. The EXISTS
// subquery feeds the derived has_history flag.
const entryColumns = `e.id, e.user_id, e.date, e.type, e.hours, e.start_time, e.end_time,
	e.note, e.surcharge, e.submitted, e.confirmed_by, e.confirmed_at,
	e.rejected_by, e.rejected_at, e.rejection_reason, e.responsible_user_id,
	e.late_reason, e.last_changed_by, e.change_reason, e.change_confirmed_by_user,
	e.is_deleted, e.deleted_at, e.deleted_by, e.deletion_reason,
	e.deletion_confirmed_by_user, e.created_at, e.updated_at,
	EXISTS(SELECT 1 FROM entry_change_history h WHERE h.entry_id = e.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*model.TimeEntry, error) {
	var (
		e           model.TimeEntry
		typ         string
		startTime   sql.NullString
		endTime     sql.NullString
		note        sql.NullString
		surcharge   sql.NullFloat64
		confirmedBy sql.NullInt64
		confirmedAt sql.NullTime
		rejectedBy  sql.NullInt64
		rejectedAt  sql.NullTime
		rejReason   sql.NullString
		responsible sql.NullInt64
		lateReason  sql.NullString
		changedBy   sql.NullInt64
		chgReason   sql.NullString
		deletedAt   sql.NullTime
		deletedBy   sql.NullInt64
		delReason   sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.UserID, &e.Date, &typ, &e.Hours, &startTime, &endTime,
		&note, &surcharge, &e.Submitted, &confirmedBy, &confirmedAt,
		&rejectedBy, &rejectedAt, &rejReason, &responsible,
		&lateReason, &changedBy, &chgReason, &e.ChangeConfirmedByUser,
		&e.IsDeleted, &deletedAt, &deletedBy, &delReason,
		&e.DeletionConfirmedByUser, &e.CreatedAt, &e.UpdatedAt,
		&e.HasHistory,
	)
	if err != nil {
		return nil, err
	}
	e.Type = model.EntryType(typ)
	e.StartTime = strPtr(startTime)
	e.EndTime = strPtr(endTime)
	e.Note = strPtr(note)
	if surcharge.Valid {
		v := surcharge.Float64
		e.Surcharge = &v
	}
	e.ConfirmedBy = uintPtr(confirmedBy)
	e.RejectedBy = uintPtr(rejectedBy)
	e.ResponsibleUserID = uintPtr(responsible)
	e.LastChangedBy = uintPtr(changedBy)
	e.DeletedBy = uintPtr(deletedBy)
	e.RejectionReason = strPtr(rejReason)
	e.LateReason = strPtr(lateReason)
	e.ChangeReason = strPtr(chgReason)
	e.DeletionReason = strPtr(delReason)
	if confirmedAt.Valid {
		t := confirmedAt.Time
		e.ConfirmedAt = &t
	}
	if rejectedAt.Valid {
		t := rejectedAt.Time
		e.RejectedAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		e.DeletedAt = &t
	}
	return &e, nil
}

func strPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func uintPtr(n sql.NullInt64) *uint64 {
	if !n.Valid {
		return nil
	}
	v := uint64(n.Int64)
	return &v
}

// Get fetches one entry by id, deleted or not. Returns ErrNotFound when the
// id does not resolve.
func (r *EntryRepo) Get(ctx context.Context, id uint64) (*model.TimeEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM time_entries e WHERE e.id = ?`
	e, err := scanEntry(r.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return e, err
}

// GetMany fetches the entries whose ids resolve; ids that match nothing are
// silently absent from the result, which is what bulk submission's per-item
// filtering relies on.
func (r *EntryRepo) GetMany(ctx context.Context, ids []uint64) ([]model.TimeEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	q := `SELECT ` + entryColumns + ` FROM time_entries e WHERE e.id IN (` +
		strings.Join(placeholders, ",") + `)`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TimeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ListByOwner returns the owner's entries in a date range, oldest first.
// Soft-deleted rows are excluded unless includeDeleted is set.
func (r *EntryRepo) ListByOwner(ctx context.Context, ownerID uint64, from, to string, includeDeleted bool) ([]model.TimeEntry, error) {
	q := `SELECT ` + entryColumns + ` FROM time_entries e WHERE e.user_id = ?`
	args := []any{ownerID}
	if from != "" {
		q += ` AND e.date >= ?`
		args = append(args, from)
	}
	if to != "" {
		q += ` AND e.date <= ?`
		args = append(args, to)
	}
	if !includeDeleted {
		q += ` AND e.is_deleted = 0`
	}
	q += ` ORDER BY e.date, e.id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TimeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Insert stores a new entry and populates its generated id.
func (r *EntryRepo) Insert(ctx context.Context, e *model.TimeEntry) error {
	const q = `INSERT INTO time_entries
		(user_id, date, type, hours, start_time, end_time, note, surcharge,
		 submitted, confirmed_by, confirmed_at, responsible_user_id, late_reason)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`
	res, err := r.db.ExecContext(ctx, q,
		e.UserID, e.Date, string(e.Type), e.Hours, e.StartTime, e.EndTime,
		e.Note, e.Surcharge, e.Submitted, e.ConfirmedBy, e.ConfirmedAt,
		e.ResponsibleUserID, e.LateReason)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = uint64(id)
	return nil
}

// UpdateFields writes exactly the given column set on one entry. Columns are
// applied in sorted order so the generated statement is deterministic.
// updated_at always moves with the write.
func (r *EntryRepo) UpdateFields(ctx context.Context, id uint64, fields map[string]any) error {
	set, args, err := buildSet(fields)
	if err != nil {
		return err
	}
	q := `UPDATE time_entries SET ` + set + `, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	args = append(args, id)
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// RowsAffected is 0 both for a missing row and for a no-op write;
		// confirm existence before reporting not found.
		var one int
		if err := r.db.QueryRowContext(ctx, `SELECT 1 FROM time_entries WHERE id = ?`, id).Scan(&one); err == sql.ErrNoRows {
			return ErrNotFound
		} else if err != nil {
			return err
		}
	}
	return nil
}

// UpdateFieldsMany writes one column set across several entries in a single
// statement.
func (r *EntryRepo) UpdateFieldsMany(ctx context.Context, ids []uint64, fields map[string]any) error {
	if len(ids) == 0 {
		return nil
	}
	set, args, err := buildSet(fields)
	if err != nil {
		return err
	}
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	q := `UPDATE time_entries SET ` + set + `, updated_at = CURRENT_TIMESTAMP WHERE id IN (` +
		strings.Join(placeholders, ",") + `)`
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

// HardDelete removes the row permanently. Used only for unsubmitted drafts
// deleted by their owner.
func (r *EntryRepo) HardDelete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM time_entries WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RejectAndClearDelegation is the privileged rejection channel: it applies
// the rejection field set and drops the delegated reviewer in one statement.
// Regular updates cannot touch responsible_user_id in this direction.
func (r *EntryRepo) RejectAndClearDelegation(ctx context.Context, id uint64, fields map[string]any) error {
	set, args, err := buildSet(fields)
	if err != nil {
		return err
	}
	q := `UPDATE time_entries SET ` + set +
		`, responsible_user_id = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	args = append(args, id)
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

// buildSet renders a deterministic SET clause from a column map.
func buildSet(fields map[string]any) (string, []any, error) {
	if len(fields) == 0 {
		return "", nil, ErrNoFields
	}
	cols := make([]string, 0, len(fields))
	for c := range fields {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	parts := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s = ?", c)
		args[i] = fields[c]
	}
	return strings.Join(parts, ", "), args, nil
}
