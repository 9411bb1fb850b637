package followedslice

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

const selectColumns = `id, name, url, access_token, created, modified`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed followed-slice repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanFollowedSlice(row pgx.Row) (*FollowedSlice, error) {
	var f FollowedSlice
	if err := row.Scan(&f.ID, &f.Name, &f.URL, &f.AccessToken, &f.Created, &f.Modified); err != nil {
		return nil, err
	}
	return &f, nil
}

// Create inserts a new followed slice.
func (r *PGRepository) Create(ctx context.Context, userID string, p CreateParams) (*FollowedSlice, error) {
	now := time.Now()
	row := r.db.QueryRow(ctx,
		`INSERT INTO followed_slices (user_id, id, name, url, access_token, created, modified)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 RETURNING `+selectColumns,
		userID, p.ID, p.Name, p.URL, p.AccessToken, now,
	)
	f, err := scanFollowedSlice(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert followed slice: %w", err)
	}
	return f, nil
}

// List returns every followed slice for userID.
func (r *PGRepository) List(ctx context.Context, userID string) ([]FollowedSlice, error) {
	rows, err := r.db.Query(ctx, "SELECT "+selectColumns+" FROM followed_slices WHERE user_id = $1 ORDER BY created", userID)
	if err != nil {
		return nil, fmt.Errorf("query followed slices: %w", err)
	}
	defer rows.Close()

	var result []FollowedSlice
	for rows.Next() {
		f, err := scanFollowedSlice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan followed slice: %w", err)
		}
		result = append(result, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate followed slices: %w", err)
	}
	return result, nil
}

// Get returns a single followed slice by id.
func (r *PGRepository) Get(ctx context.Context, userID, id string) (*FollowedSlice, error) {
	f, err := scanFollowedSlice(r.db.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM followed_slices WHERE user_id = $1 AND id = $2", userID, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query followed slice: %w", err)
	}
	return f, nil
}

// Update applies PATCH-semantics changes to an existing followed slice.
func (r *PGRepository) Update(ctx context.Context, userID, id string, p UpdateParams) (*FollowedSlice, error) {
	existing, err := r.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	name, url, token := existing.Name, existing.URL, existing.AccessToken
	if p.Name != nil {
		name = *p.Name
	}
	if p.URL != nil {
		url = *p.URL
	}
	if p.AccessToken != nil {
		token = *p.AccessToken
	}

	row := r.db.QueryRow(ctx,
		`UPDATE followed_slices SET name = $3, url = $4, access_token = $5, modified = $6
		 WHERE user_id = $1 AND id = $2
		 RETURNING `+selectColumns,
		userID, id, name, url, token, time.Now(),
	)
	f, err := scanFollowedSlice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update followed slice: %w", err)
	}
	return f, nil
}

// Delete removes a followed slice. Returns ErrNotFound if it does not exist.
func (r *PGRepository) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM followed_slices WHERE user_id = $1 AND id = $2", userID, id)
	if err != nil {
		return fmt.Errorf("delete followed slice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
