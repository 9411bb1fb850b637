package systemstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pryv-io/core/internal/postgres"
)

// Sentinel errors for the systemstream package.
var (
	ErrNotFound     = errors.New("system stream value not found")
	ErrValueTaken   = errors.New("this value is already in use by another account")
)

// Value is one leaf's stored value for a user (e.g. the "email" leaf's address).
type Value struct {
	StreamID string
	Value    string
	Created  time.Time
	Modified time.Time
}

// Repository is the persistence contract for system-stream leaf values (the `account` system stream's
// `email`/`language`/`phoneNumber`-style leaves, spec §3).
type Repository interface {
	Get(ctx context.Context, userID, streamID string) (*Value, error)
	// GetAll returns every stored leaf value for userID, keyed by stream id, backing GET /account.
	GetAll(ctx context.Context, userID string) (map[string]Value, error)
	// Set upserts a leaf's value. Returns ErrValueTaken if streamID is an indexed leaf (§3) and value is already
	// claimed by a different user.
	Set(ctx context.Context, userID, streamID, value string) (*Value, error)
	// FindByIndexedValue looks up the user owning value on an indexed leaf (e.g. resolving login by email), used by
	// internal/account's registration uniqueness check and future email-based login.
	FindByIndexedValue(ctx context.Context, streamID, value string) (userID string, err error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed system-stream-value repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanValue(row pgx.Row) (*Value, error) {
	var v Value
	if err := row.Scan(&v.StreamID, &v.Value, &v.Created, &v.Modified); err != nil {
		return nil, err
	}
	return &v, nil
}

// Get returns a single leaf value for userID.
func (r *PGRepository) Get(ctx context.Context, userID, streamID string) (*Value, error) {
	v, err := scanValue(r.db.QueryRow(ctx,
		"SELECT stream_id, value, created, modified FROM system_stream_values WHERE user_id = $1 AND stream_id = $2",
		userID, streamID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query system stream value: %w", err)
	}
	return v, nil
}

// GetAll returns every stored leaf value for userID.
func (r *PGRepository) GetAll(ctx context.Context, userID string) (map[string]Value, error) {
	rows, err := r.db.Query(ctx,
		"SELECT stream_id, value, created, modified FROM system_stream_values WHERE user_id = $1", userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query system stream values: %w", err)
	}
	defer rows.Close()

	result := map[string]Value{}
	for rows.Next() {
		v, err := scanValue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan system stream value: %w", err)
		}
		result[v.StreamID] = *v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate system stream values: %w", err)
	}
	return result, nil
}

// Set upserts streamID's value for userID.
func (r *PGRepository) Set(ctx context.Context, userID, streamID, value string) (*Value, error) {
	now := time.Now()
	row := r.db.QueryRow(ctx,
		`INSERT INTO system_stream_values (user_id, stream_id, value, created, modified)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (user_id, stream_id) DO UPDATE SET value = $3, modified = $4
		 RETURNING stream_id, value, created, modified`,
		userID, streamID, value, now,
	)
	v, err := scanValue(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrValueTaken
		}
		return nil, fmt.Errorf("upsert system stream value: %w", err)
	}
	return v, nil
}

// FindByIndexedValue returns the user id that currently owns value on streamID.
func (r *PGRepository) FindByIndexedValue(ctx context.Context, streamID, value string) (string, error) {
	var userID string
	err := r.db.QueryRow(ctx,
		"SELECT user_id FROM system_stream_values WHERE stream_id = $1 AND value = $2", streamID, value,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("query system stream value owner: %w", err)
	}
	return userID, nil
}
