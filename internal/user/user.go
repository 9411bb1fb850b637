// Package user implements the minimal account identity record (spec §3): a username, its password hash, and the
// bookkeeping timestamps every other per-user collection is keyed against. The personal system-stream values that
// decorate an account (email, language, phoneNumber) live in internal/systemstream's value store, not here
// — a User is only what authentication needs to resolve a username to an id and verify a password.
package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the user package.
var (
	ErrNotFound         = errors.New("user not found")
	ErrUsernameTaken    = errors.New("username already taken")
	ErrAlreadyDeleted   = errors.New("user has already been deleted")
)

// User is an account's core identity row.
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	Created      time.Time
	Modified     time.Time
	Deleted      *time.Time
}

// IsLive reports whether the account has not been soft-deleted.
func (u *User) IsLive() bool { return u.Deleted == nil }

// CreateParams groups the inputs for registering a new account.
type CreateParams struct {
	Username     string
	PasswordHash string
}

// Repository is the persistence contract for accounts.
type Repository interface {
	Create(ctx context.Context, p CreateParams) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	// SoftDelete tombstones the account row only; the user's streams/events/accesses live in other packages'
	// repositories and are not touched by it.
	SoftDelete(ctx context.Context, id uuid.UUID) (*User, error)
}
