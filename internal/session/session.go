// Package session implements the personal-access login session (spec §3, §4.1): a sliding-expiry token bound to the
// SSO cookie that a personal access must resolve to a live session on every use. Grounded on internal/access and
// internal/stream's PostgreSQL repository idiom (rather than a Valkey-backed refresh-token store) since a session row
// is exactly a sliding-TTL small record the persisted-state layout (spec §6) lists alongside every other per-user
// collection — a second storage backend for it would duplicate durability guarantees Postgres already gives the
// rest of the schema for no benefit.
package session

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the session package.
var (
	ErrNotFound = errors.New("session not found or expired")
)

// Session is one personal-login session: a sliding-expiry token bound to an account's personal access.
type Session struct {
	Token    string
	UserID   string
	Username string
	AccessID string
	AppID    string
	Created  time.Time
	Expires  time.Time
}

// Expired reports whether the session's sliding-expiry window has lapsed relative to now.
func (s *Session) Expired(now time.Time) bool {
	return !s.Expires.After(now)
}

// Repository is the persistence contract for sessions.
type Repository interface {
	Create(ctx context.Context, userID, username, accessID, appID string, maxAge time.Duration) (*Session, error)
	Get(ctx context.Context, token string) (*Session, error)
	// Touch extends a live session's expiry by maxAge from now, implementing the sliding-expiry rule (§4.1).
	Touch(ctx context.Context, token string, maxAge time.Duration) (*Session, error)
	Delete(ctx context.Context, token string) error
}
