package repository

import (
	"context"
	"database/sql"

	"github.com/jfellner/zeiterfassung/internal/model"
)

// HistoryRepo appends and reads audit rows in entry_change_history. The
// table is append-only from this service's point of view: rows are never
// updated or deleted here. A separate owner-response flow may later move a
// row's status on.
type HistoryRepo struct {
	db *sql.DB
}

// NewHistoryRepo returns a HistoryRepo bound to the given database.
func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{db: db} }

// Append stores one audit row and populates its generated id.
func (r *HistoryRepo) Append(ctx context.Context, h *model.EntryChangeHistory) error {
	const q = `INSERT INTO entry_change_history
		(entry_id, changed_by, old_values, new_values, reason, status, changed_at)
		VALUES (?,?,?,?,?,?,?)`
	res, err := r.db.ExecContext(ctx, q,
		h.EntryID, h.ChangedBy, []byte(h.OldValues), []byte(h.NewValues),
		h.Reason, h.Status, h.ChangedAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	h.ID = uint64(id)
	return nil
}

// ListByEntry returns the audit trail of one entry, newest first.
func (r *HistoryRepo) ListByEntry(ctx context.Context, entryID uint64) ([]model.EntryChangeHistory, error) {
	const q = `SELECT id, entry_id, changed_by, old_values, new_values, reason, status, changed_at
		FROM entry_change_history WHERE entry_id = ? ORDER BY changed_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EntryChangeHistory
	for rows.Next() {
		var (
			h      model.EntryChangeHistory
			oldV   []byte
			newV   []byte
			reason sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.EntryID, &h.ChangedBy, &oldV, &newV, &reason, &h.Status, &h.ChangedAt); err != nil {
			return nil, err
		}
		h.OldValues = oldV
		h.NewValues = newV
		h.Reason = strPtr(reason)
		out = append(out, h)
	}
	return out, rows.Err()
}
