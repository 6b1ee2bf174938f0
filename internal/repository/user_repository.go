package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jfellner/zeiterfassung/internal/model"
	"github.com/jfellner/zeiterfassung/internal/workflow"
)

// UserRepo reads the users table. User provisioning happens outside this
// service, so there is no insert path; the repo doubles as the owner
// settings provider for the workflow engine.
type UserRepo struct{ db *sql.DB }

// NewUserRepo returns a UserRepo bound to the given database.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, email, name, password_hash, role, require_confirmation, is_active, created_at, updated_at`

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role,
		&u.RequireConfirmation, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? LIMIT 1`, email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ? LIMIT 1`, id))
}

// GetSettings resolves the slice of a user's configuration the workflow
// engine needs, fetched fresh before every operation.
func (r *UserRepo) GetSettings(ctx context.Context, userID uint64) (workflow.OwnerSettings, error) {
	var s workflow.OwnerSettings
	err := r.db.QueryRowContext(ctx,
		`SELECT require_confirmation, role FROM users WHERE id = ? LIMIT 1`,
		userID).Scan(&s.RequireConfirmation, &s.Role)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// LockedDayRepo reads the owner's locked-day set. Locks are written by the
// payroll closing process; the workflow only ever asks "is this day closed".
type LockedDayRepo struct{ db *sql.DB }

// NewLockedDayRepo returns a LockedDayRepo bound to the given database.
func NewLockedDayRepo(db *sql.DB) *LockedDayRepo { return &LockedDayRepo{db: db} }

// IsLocked reports whether the given calendar day is closed for the user.
func (r *LockedDayRepo) IsLocked(ctx context.Context, userID uint64, day time.Time) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM locked_days WHERE user_id = ? AND day = ? LIMIT 1`,
		userID, day.Format("2006-01-02")).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
