package model

import "time"

// Roles known to the application. They mirror the values stored in
// `users.role` and carried in the JWT "role" claim. ADMIN and OFFICE review
// and correct entries for others; INSTALLER and AZUBI only report their own
// time.
const (
	RoleAdmin     = "ADMIN"
	RoleOffice    = "OFFICE"
	RoleInstaller = "INSTALLER"
	RoleAzubi     = "AZUBI"
)

// User represents a row in the `users` table. RequireConfirmation is the
// owner's trust setting: when false, low-risk entry categories skip manual
// review on creation (see the workflow package).
type User struct {
	ID                  uint64    // users.id
	Email               string    // users.email
	Name                string    // users.name
	PasswordHash        string    // users.password_hash (bcrypt)
	Role                string    // users.role
	RequireConfirmation bool      // users.require_confirmation
	IsActive            bool      // users.is_active
	CreatedAt           time.Time // users.created_at
	UpdatedAt           time.Time // users.updated_at
}

// LockedDay marks one calendar day of one user as closed for bookkeeping.
// No entry on a locked day may be created, changed or deleted, with no
// override for any role. Rows are written by the payroll closing process,
// this service only reads them.
type LockedDay struct {
	UserID   uint64    // locked_days.user_id
	Day      time.Time // locked_days.day (date only)
	LockedAt time.Time // locked_days.locked_at
}

// RefreshToken models an entry in the `refresh_tokens` table. Only the
// SHA-256 hash of the token value is stored, never the raw token.
type RefreshToken struct {
	ID        uint64     // refresh_tokens.id
	UserID    uint64     // refresh_tokens.user_id
	TokenHash string     // refresh_tokens.token_hash
	ExpiresAt time.Time  // refresh_tokens.expires_at
	RevokedAt *time.Time // refresh_tokens.revoked_at (nullable)
	CreatedAt time.Time  // refresh_tokens.created_at
}
