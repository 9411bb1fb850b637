package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed profile repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Get returns the document for (scope, clientID), or an empty entry if no row exists yet.
func (r *PGRepository) Get(ctx context.Context, userID string, scope Scope, clientID string) (*Entry, error) {
	var data []byte
	var modified time.Time
	err := r.db.QueryRow(ctx,
		"SELECT data, modified FROM profile WHERE user_id = $1 AND scope = $2 AND client_id = $3",
		userID, string(scope), clientID,
	).Scan(&data, &modified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &Entry{Scope: scope, ClientID: clientID, Data: map[string]any{}}, nil
		}
		return nil, fmt.Errorf("query profile entry: %w", err)
	}

	e := &Entry{Scope: scope, ClientID: clientID, Modified: modified}
	if err := json.Unmarshal(data, &e.Data); err != nil {
		return nil, fmt.Errorf("unmarshal profile data: %w", err)
	}
	return e, nil
}

// Set upserts the document for (scope, clientID), replacing it wholesale.
func (r *PGRepository) Set(ctx context.Context, userID string, scope Scope, clientID string, data map[string]any) (*Entry, error) {
	if data == nil {
		data = map[string]any{}
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal profile data: %w", err)
	}

	now := time.Now()
	_, err = r.db.Exec(ctx,
		`INSERT INTO profile (user_id, scope, client_id, data, modified)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, scope, client_id) DO UPDATE SET data = $4, modified = $5`,
		userID, string(scope), clientID, encoded, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert profile entry: %w", err)
	}
	return &Entry{Scope: scope, ClientID: clientID, Data: data, Modified: now}, nil
}

// Delete clears the document for (scope, clientID) back to empty; removing the row is equivalent to an unset entry
// since Get synthesizes an empty Entry when no row exists.
func (r *PGRepository) Delete(ctx context.Context, userID string, scope Scope, clientID string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM profile WHERE user_id = $1 AND scope = $2 AND client_id = $3", userID, string(scope), clientID)
	if err != nil {
		return fmt.Errorf("delete profile entry: %w", err)
	}
	return nil
}
