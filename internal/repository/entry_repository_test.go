package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jfellner/zeiterfassung/internal/model"
)

var repoNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var entryCols = []string{
	"id", "user_id", "date", "type", "hours", "start_time", "end_time",
	"note", "surcharge", "submitted", "confirmed_by", "confirmed_at",
	"rejected_by", "rejected_at", "rejection_reason", "responsible_user_id",
	"late_reason", "last_changed_by", "change_reason", "change_confirmed_by_user",
	"is_deleted", "deleted_at", "deleted_by", "deletion_reason",
	"deletion_confirmed_by_user", "created_at", "updated_at", "has_history",
}

func entryRow(id, userID uint64) *sqlmock.Rows {
	return sqlmock.NewRows(entryCols).AddRow(
		id, userID, repoNow, "work", 8.0, "07:30", nil,
		nil, nil, true, int64(2), repoNow,
		nil, nil, nil, nil,
		nil, nil, nil, false,
		false, nil, nil, nil,
		false, repoNow, repoNow, true,
	)
}

func TestEntryRepoGet(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEntryRepo(db)

	mock.ExpectQuery(`SELECT .+ FROM time_entries e WHERE e\.id = \?`).
		WithArgs(uint64(10)).
		WillReturnRows(entryRow(10, 1))

	e, err := repo.Get(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), e.ID)
	assert.Equal(t, model.TypeWork, e.Type)
	require.NotNil(t, e.StartTime)
	assert.Equal(t, "07:30", *e.StartTime)
	assert.Nil(t, e.EndTime)
	require.NotNil(t, e.ConfirmedBy)
	assert.Equal(t, uint64(2), *e.ConfirmedBy)
	require.NotNil(t, e.ConfirmedAt)
	assert.True(t, e.HasHistory)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepoGetNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEntryRepo(db)

	mock.ExpectQuery(`SELECT .+ FROM time_entries e WHERE e\.id = \?`).
		WithArgs(uint64(404)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEntryRepoGetManyEmpty(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEntryRepo(db)

	out, err := repo.GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepoGetMany(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEntryRepo(db)

	rows := entryRow(10, 1).AddRow(
		11, 1, repoNow, "company", 2.0, nil, nil,
		nil, nil, false, nil, nil,
		nil, nil, nil, nil,
		nil, nil, nil, false,
		false, nil, nil, nil,
		false, repoNow, repoNow, false,
	)
	mock.ExpectQuery(`SELECT .+ FROM time_entries e WHERE e\.id IN \(\?,\?,\?\)`).
		WithArgs(uint64(10), uint64(11), uint64(999)).
		WillReturnRows(rows)

	out, err := repo.GetMany(context.Background(), []uint64{10, 11, 999})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, model.TypeCompany, out[1].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepoListByOwner(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEntryRepo(db)

	mock.ExpectQuery(`SELECT .+ FROM time_entries e WHERE e\.user_id = \? AND e\.date >= \? AND e\.date <= \? AND e\.is_deleted = 0 ORDER BY e\.date, e\.id`).
		WithArgs(uint64(1), "2025-03-01", "2025-03-31").
		WillReturnRows(entryRow(10, 1))

	out, err := repo.ListByOwner(context.Background(), 1, "2025-03-01", "2025-03-31", false)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepoListByOwnerIncludeDeleted(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEntryRepo(db)

	mock.ExpectQuery(`SELECT .+ FROM time_entries e WHERE e\.user_id = \? ORDER BY e\.date, e\.id`).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(entryCols))

	out, err := repo.ListByOwner(context.Background(), 1, "", "", true)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepoInsert(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEntryRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO time_entries`)).
		WillReturnResult(sqlmock.NewResult(42, 1))

	e := model.TimeEntry{UserID: 1, Date: repoNow, Type: model.TypeWork, Hours: 8}
	require.NoError(t, repo.Insert(context.Background(), &e))
	assert.Equal(t, uint64(42), e.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepoUpdateFieldsSortsColumns(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEntryRepo(db)

	// Columns come out sorted, so the statement is stable regardless of map
	// iteration order.
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE time_entries SET confirmed_at = ?, confirmed_by = ?, submitted = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`)).
		WithArgs(repoNow, uint64(2), true, uint64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateFields(context.Background(), 10, map[string]any{
		"submitted":    true,
		"confirmed_by": uint64(2),
		"confirmed_at": repoNow,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepoUpdateFieldsNoFields(t *testing.T) {
	db, _ := newMock(t)
	repo := NewEntryRepo(db)

	err := repo.UpdateFields(context.Background(), 10, map[string]any{})
	assert.ErrorIs(t, err, ErrNoFields)
}

func TestEntryRepoUpdateFieldsMissingRow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEntryRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE time_entries SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM time_entries WHERE id = ?`)).
		WithArgs(uint64(404)).
		WillReturnError(sql.ErrNoRows)

	err := repo.UpdateFields(context.Background(), 404, map[string]any{"submitted": true})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepoUpdateFieldsNoopWrite(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEntryRepo(db)

	// Zero rows affected but the row exists: the values already matched.
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE time_entries SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM time_entries WHERE id = ?`)).
		WithArgs(uint64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	err := repo.UpdateFields(context.Background(), 10, map[string]any{"submitted": true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepoUpdateFieldsMany(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEntryRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE time_entries SET confirmed_at = ?, submitted = ?, updated_at = CURRENT_TIMESTAMP WHERE id IN (?,?)`)).
		WithArgs(repoNow, true, uint64(10), uint64(11)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.UpdateFieldsMany(context.Background(), []uint64{10, 11}, map[string]any{
		"submitted":    true,
		"confirmed_at": repoNow,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepoHardDelete(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEntryRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM time_entries WHERE id = ?`)).
		WithArgs(uint64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.HardDelete(context.Background(), 10))

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM time_entries WHERE id = ?`)).
		WithArgs(uint64(404)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.HardDelete(context.Background(), 404), ErrNotFound)
}

func TestEntryRepoRejectAndClearDelegation(t *testing.T) {
	db, mock := newMock(t)
	repo := NewEntryRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE time_entries SET rejected_at = ?, rejected_by = ?, responsible_user_id = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`)).
		WithArgs(repoNow, uint64(2), uint64(10)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RejectAndClearDelegation(context.Background(), 10, map[string]any{
		"rejected_by": uint64(2),
		"rejected_at": repoNow,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepoAppendAndList(t *testing.T) {
	db, mock := newMock(t)
	repo := NewHistoryRepo(db)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO entry_change_history`)).
		WillReturnResult(sqlmock.NewResult(7, 1))

	h := model.EntryChangeHistory{
		EntryID:   10,
		ChangedBy: 2,
		OldValues: []byte(`{"hours":8}`),
		NewValues: []byte(`{"hours":6}`),
		Status:    model.HistoryStatusPending,
		ChangedAt: repoNow,
	}
	require.NoError(t, repo.Append(context.Background(), &h))
	assert.Equal(t, uint64(7), h.ID)

	rows := sqlmock.NewRows([]string{"id", "entry_id", "changed_by", "old_values", "new_values", "reason", "status", "changed_at"}).
		AddRow(7, 10, 2, []byte(`{"hours":8}`), []byte(`{"hours":6}`), "typo", "pending", repoNow)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, entry_id, changed_by, old_values, new_values, reason, status, changed_at`)).
		WithArgs(uint64(10)).
		WillReturnRows(rows)

	out, err := repo.ListByEntry(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, uint64(7), out[0].ID)
	require.NotNil(t, out[0].Reason)
	assert.Equal(t, "typo", *out[0].Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockedDayRepoIsLocked(t *testing.T) {
	db, mock := newMock(t)
	repo := NewLockedDayRepo(db)

	day := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM locked_days WHERE user_id = ? AND day = ?`)).
		WithArgs(uint64(1), "2025-03-07").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	locked, err := repo.IsLocked(context.Background(), 1, day)
	require.NoError(t, err)
	assert.True(t, locked)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM locked_days WHERE user_id = ? AND day = ?`)).
		WithArgs(uint64(1), "2025-03-07").
		WillReturnError(sql.ErrNoRows)
	locked, err = repo.IsLocked(context.Background(), 1, day)
	require.NoError(t, err)
	assert.False(t, locked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepoGetSettings(t *testing.T) {
	db, mock := newMock(t)
	repo := NewUserRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT require_confirmation, role FROM users WHERE id = ?`)).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"require_confirmation", "role"}).AddRow(true, model.RoleInstaller))

	s, err := repo.GetSettings(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, s.RequireConfirmation)
	assert.Equal(t, model.RoleInstaller, s.Role)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT require_confirmation, role FROM users WHERE id = ?`)).
		WithArgs(uint64(77)).
		WillReturnError(sql.ErrNoRows)
	_, err = repo.GetSettings(context.Background(), 77)
	assert.ErrorIs(t, err, ErrNotFound)
}
