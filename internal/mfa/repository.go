package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when an account has no MFA enrollment on record.
var ErrNotFound = errors.New("no MFA enrollment for this account")

// Settings is one account's MFA enrollment record.
type Settings struct {
	UserID             uuid.UUID
	EncryptedSecret    string
	RecoveryCodeHashes []string
	Enabled            bool
	Created            time.Time
	Modified           time.Time
}

// Repository is the persistence contract for MFA enrollment state.
type Repository interface {
	Get(ctx context.Context, userID uuid.UUID) (*Settings, error)
	// Upsert creates or replaces userID's MFA settings, used both by the initial Confirm step and by
	// RegenerateCodes.
	Upsert(ctx context.Context, s *Settings) error
	SetEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed MFA settings repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanSettings(row pgx.Row) (*Settings, error) {
	var s Settings
	if err := row.Scan(&s.UserID, &s.EncryptedSecret, &s.RecoveryCodeHashes, &s.Enabled, &s.Created, &s.Modified); err != nil {
		return nil, err
	}
	return &s, nil
}

// Get returns userID's MFA settings.
func (r *PGRepository) Get(ctx context.Context, userID uuid.UUID) (*Settings, error) {
	s, err := scanSettings(r.db.QueryRow(ctx,
		`SELECT user_id, encrypted_secret, recovery_code_hashes, enabled, created, modified
		 FROM user_mfa WHERE user_id = $1`, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query MFA settings: %w", err)
	}
	return s, nil
}

// Upsert creates or replaces userID's MFA settings.
func (r *PGRepository) Upsert(ctx context.Context, s *Settings) error {
	now := time.Now()
	_, err := r.db.Exec(ctx,
		`INSERT INTO user_mfa (user_id, encrypted_secret, recovery_code_hashes, enabled, created, modified)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
		   encrypted_secret = $2, recovery_code_hashes = $3, enabled = $4, modified = $5`,
		s.UserID, s.EncryptedSecret, s.RecoveryCodeHashes, s.Enabled, now,
	)
	if err != nil {
		return fmt.Errorf("upsert MFA settings: %w", err)
	}
	return nil
}

// SetEnabled flips the enabled flag, used by Disable without touching the stored secret/recovery codes.
func (r *PGRepository) SetEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error {
	_, err := r.db.Exec(ctx,
		"UPDATE user_mfa SET enabled = $2, modified = $3 WHERE user_id = $1", userID, enabled, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update MFA enabled flag: %w", err)
	}
	return nil
}

// Delete removes userID's MFA enrollment entirely.
func (r *PGRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, "DELETE FROM user_mfa WHERE user_id = $1", userID)
	if err != nil {
		return fmt.Errorf("delete MFA settings: %w", err)
	}
	return nil
}
