package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pryv-io/core/internal/postgres"
)

const selectColumns = `id, username, password_hash, created, modified, deleted`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed user repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Created, &u.Modified, &u.Deleted); err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new account row.
func (r *PGRepository) Create(ctx context.Context, p CreateParams) (*User, error) {
	now := time.Now()
	row := r.db.QueryRow(ctx,
		`INSERT INTO users (id, username, password_hash, created, modified, deleted)
		 VALUES ($1, $2, $3, $4, $4, NULL)
		 RETURNING `+selectColumns,
		uuid.New(), p.Username, p.PasswordHash, now,
	)
	u, err := scanUser(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetByID returns the account matching id, including soft-deleted ones.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, "SELECT "+selectColumns+" FROM users WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by id: %w", err)
	}
	return u, nil
}

// GetByUsername returns the account matching username, including soft-deleted ones (callers check IsLive).
func (r *PGRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, "SELECT "+selectColumns+" FROM users WHERE username = $1", username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by username: %w", err)
	}
	return u, nil
}

// UpdatePasswordHash replaces the stored password hash, used both by accounts.changePassword and by lazy Argon2
// parameter-rehash on login.
func (r *PGRepository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	tag, err := r.db.Exec(ctx, "UPDATE users SET password_hash = $1, modified = $2 WHERE id = $3 AND deleted IS NULL",
		hash, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete tombstones the account row in place.
func (r *PGRepository) SoftDelete(ctx context.Context, id uuid.UUID) (*User, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE users SET deleted = $2, modified = $2 WHERE id = $1 AND deleted IS NULL RETURNING `+selectColumns,
		id, time.Now(),
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlreadyDeleted
		}
		return nil, fmt.Errorf("soft-delete user: %w", err)
	}
	return u, nil
}
