package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pryv-io/core/internal/postgres"
)

const selectColumns = `id, name, parent_id, trashed, single_activity, client_data, created, created_by, modified, modified_by`

// PGRepository implements Repository using PostgreSQL. Streams are keyed by (user_id, id): the id is a per-user slug,
// not a surrogate key, matching the data model's "id unique per user".
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed stream repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanStream(row pgx.Row) (*Stream, error) {
	var s Stream
	var clientData []byte
	if err := row.Scan(&s.ID, &s.Name, &s.ParentID, &s.Trashed, &s.SingleActivity, &clientData, &s.Created, &s.CreatedBy, &s.Modified, &s.ModifiedBy); err != nil {
		return nil, err
	}
	if len(clientData) > 0 {
		if err := json.Unmarshal(clientData, &s.ClientData); err != nil {
			return nil, fmt.Errorf("unmarshal stream client data: %w", err)
		}
	}
	return &s, nil
}

// Create inserts a new stream row, validating invariants (a)-(c) against the user's current tree before writing.
func (r *PGRepository) Create(ctx context.Context, userID string, p CreateParams, actorAccessID string) (*Stream, error) {
	if err := ValidateID(p.ID); err != nil {
		return nil, err
	}

	existing, err := r.List(ctx, userID, StoreOf(p.ID))
	if err != nil {
		return nil, fmt.Errorf("list existing streams: %w", err)
	}
	for _, s := range existing {
		if s.ID == p.ID {
			return nil, ErrAlreadyExists
		}
		if s.ParentID == nil && p.ParentID == nil && s.Name == p.Name {
			return nil, ErrNameTaken
		}
		if s.ParentID != nil && p.ParentID != nil && *s.ParentID == *p.ParentID && s.Name == p.Name {
			return nil, ErrNameTaken
		}
	}
	if p.ParentID != nil {
		found := false
		for _, s := range existing {
			if s.ID == *p.ParentID {
				found = true
				break
			}
		}
		if !found {
			return nil, ErrParentNotFound
		}
	}

	clientData, err := json.Marshal(p.ClientData)
	if err != nil {
		return nil, fmt.Errorf("marshal client data: %w", err)
	}

	now := time.Now()
	row := r.db.QueryRow(ctx,
		`INSERT INTO streams (user_id, id, name, parent_id, trashed, single_activity, client_data, created, created_by, modified, modified_by)
		 VALUES ($1, $2, $3, $4, false, $5, $6, $7, $8, $7, $8)
		 RETURNING `+selectColumns,
		userID, p.ID, p.Name, p.ParentID, p.SingleActivity, clientData, now, actorAccessID,
	)
	s, err := scanStream(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert stream: %w", err)
	}
	return s, nil
}

// Get returns a single stream by id.
func (r *PGRepository) Get(ctx context.Context, userID, id string) (*Stream, error) {
	row := r.db.QueryRow(ctx, "SELECT "+selectColumns+" FROM streams WHERE user_id = $1 AND id = $2", userID, id)
	s, err := scanStream(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query stream: %w", err)
	}
	return s, nil
}

// List returns every stream for the user in the given store (matched by id prefix convention, see StoreOf).
func (r *PGRepository) List(ctx context.Context, userID, storeID string) ([]Stream, error) {
	rows, err := r.db.Query(ctx, "SELECT "+selectColumns+" FROM streams WHERE user_id = $1 ORDER BY created", userID)
	if err != nil {
		return nil, fmt.Errorf("query streams: %w", err)
	}
	defer rows.Close()

	var out []Stream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		if StoreOf(s.ID) == storeID {
			out = append(out, *s)
		}
	}
	return out, rows.Err()
}

// Update applies PATCH-semantics changes, re-validating the cycle invariant when parentId changes.
func (r *PGRepository) Update(ctx context.Context, userID, id string, p UpdateParams, actorAccessID string) (*Stream, error) {
	var result *Stream
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		all, err := r.List(ctx, userID, StoreOf(id))
		if err != nil {
			return err
		}
		parents := make(map[string]*string, len(all))
		for _, s := range all {
			parents[s.ID] = s.ParentID
		}
		if p.ParentID != nil {
			if *p.ParentID != nil {
				if _, ok := parents[**p.ParentID]; !ok {
					return ErrParentNotFound
				}
			}
			parents[id] = *p.ParentID
			if err := ValidateNoCycle(id, parents); err != nil {
				return err
			}
		}

		setClauses := []string{"modified = @modified", "modified_by = @modifiedBy"}
		args := pgx.NamedArgs{"userID": userID, "id": id, "modified": time.Now(), "modifiedBy": actorAccessID}
		if p.Name != nil {
			setClauses = append(setClauses, "name = @name")
			args["name"] = *p.Name
		}
		if p.ParentID != nil {
			setClauses = append(setClauses, "parent_id = @parentID")
			args["parentID"] = *p.ParentID
		}
		if p.ClientData != nil {
			cd, err := json.Marshal(p.ClientData)
			if err != nil {
				return fmt.Errorf("marshal client data: %w", err)
			}
			setClauses = append(setClauses, "client_data = @clientData")
			args["clientData"] = cd
		}
		if p.SingleActivity != nil {
			setClauses = append(setClauses, "single_activity = @singleActivity")
			args["singleActivity"] = *p.SingleActivity
		}

		query := "UPDATE streams SET "
		for i, c := range setClauses {
			if i > 0 {
				query += ", "
			}
			query += c
		}
		query += " WHERE user_id = @userID AND id = @id RETURNING " + selectColumns

		row := tx.QueryRow(ctx, query, args)
		result, err = scanStream(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("update stream: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Trash sets the trashed flag without deleting the row.
func (r *PGRepository) Trash(ctx context.Context, userID, id string, actorAccessID string) (*Stream, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE streams SET trashed = true, modified = $3, modified_by = $4 WHERE user_id = $1 AND id = $2
		 RETURNING `+selectColumns,
		userID, id, time.Now(), actorAccessID,
	)
	s, err := scanStream(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("trash stream: %w", err)
	}
	return s, nil
}

// Delete hard-deletes a trashed stream row. Returns ErrNotTrashed if the stream isn't trashed, matching the "must
// trash before delete" invariant.
func (r *PGRepository) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM streams WHERE user_id = $1 AND id = $2 AND trashed = true", userID, id)
	if err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s, getErr := r.Get(ctx, userID, id)
		if getErr != nil {
			return ErrNotFound
		}
		if !s.Trashed {
			return ErrNotTrashed
		}
		return ErrNotFound
	}
	return nil
}

// Reparent rewrites a single stream's parentId, used by the merge-with-parent deletion path to splice a deleted
// stream's children onto its own parent before the stream row itself is removed.
func (r *PGRepository) Reparent(ctx context.Context, userID, childID, newParentID string) error {
	tag, err := r.db.Exec(ctx, "UPDATE streams SET parent_id = $3, modified = $4 WHERE user_id = $1 AND id = $2",
		userID, childID, newParentID, time.Now())
	if err != nil {
		return fmt.Errorf("reparent stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
