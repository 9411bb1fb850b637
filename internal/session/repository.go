package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `token, user_id, username, access_id, app_id, created, expires`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed session repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	if err := row.Scan(&s.Token, &s.UserID, &s.Username, &s.AccessID, &s.AppID, &s.Created, &s.Expires); err != nil {
		return nil, err
	}
	return &s, nil
}

// Create opens a new session for the given account/access/app, expiring maxAge from now.
func (r *PGRepository) Create(ctx context.Context, userID, username, accessID, appID string, maxAge time.Duration) (*Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	now := time.Now()
	row := r.db.QueryRow(ctx,
		`INSERT INTO sessions (token, user_id, username, access_id, app_id, created, expires)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+selectColumns,
		token, userID, username, accessID, appID, now, now.Add(maxAge),
	)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// Get returns a session by token, regardless of whether it has expired (callers check Expired).
func (r *PGRepository) Get(ctx context.Context, token string) (*Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, "SELECT "+selectColumns+" FROM sessions WHERE token = $1", token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query session: %w", err)
	}
	return s, nil
}

// Touch extends a live session's expiry by maxAge from now. Returns ErrNotFound if the session is gone or already
// past its expiry (a lapsed session cannot be revived by a late touch).
func (r *PGRepository) Touch(ctx context.Context, token string, maxAge time.Duration) (*Session, error) {
	now := time.Now()
	row := r.db.QueryRow(ctx,
		`UPDATE sessions SET expires = $2 WHERE token = $1 AND expires > $3 RETURNING `+selectColumns,
		token, now.Add(maxAge), now,
	)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("touch session: %w", err)
	}
	return s, nil
}

// Delete removes a session row (logout).
func (r *PGRepository) Delete(ctx context.Context, token string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM sessions WHERE token = $1", token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
