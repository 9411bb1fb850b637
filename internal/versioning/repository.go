package versioning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const historySelectColumns = `id, head_id, stream_ids, type, time, duration, content, modified, modified_by`

// PGHistoryRepository implements HistoryRepository using PostgreSQL.
type PGHistoryRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGHistoryRepository creates a new PostgreSQL-backed event-history repository.
func NewPGHistoryRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGHistoryRepository {
	return &PGHistoryRepository{db: db, log: logger}
}

// Append inserts a new history row within the caller's transaction.
func (r *PGHistoryRepository) Append(ctx context.Context, userID string, tx pgx.Tx, h HistoryEntry) error {
	content, err := json.Marshal(h.Content)
	if err != nil {
		return fmt.Errorf("marshal history content: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO events_history (user_id, id, head_id, stream_ids, type, time, duration, content, modified, modified_by)
		 VALUES (@userID, @id, @headID, @streamIDs, @type, @time, @duration, @content, @modified, @modifiedBy)`,
		pgx.NamedArgs{
			"userID": userID, "id": h.ID, "headID": h.HeadID, "streamIDs": h.StreamIDs, "type": h.Type,
			"time": h.Time, "duration": h.Duration, "content": content, "modified": h.Modified, "modifiedBy": h.ModifiedBy,
		},
	)
	if err != nil {
		return fmt.Errorf("insert event history row: %w", err)
	}
	return nil
}

// PurgeAll deletes every history row for headID (deletionMode=keep-nothing).
func (r *PGHistoryRepository) PurgeAll(ctx context.Context, tx pgx.Tx, userID, headID string) error {
	if _, err := tx.Exec(ctx, "DELETE FROM events_history WHERE user_id = $1 AND head_id = $2", userID, headID); err != nil {
		return fmt.Errorf("purge event history: %w", err)
	}
	return nil
}

// ReduceAll collapses every history row for headID down to {id(=headId), modified, modifiedBy}, clearing the other
// fields (deletionMode=keep-authors).
func (r *PGHistoryRepository) ReduceAll(ctx context.Context, tx pgx.Tx, userID, headID string) error {
	_, err := tx.Exec(ctx,
		`UPDATE events_history SET id = head_id, stream_ids = NULL, type = NULL, time = NULL, duration = NULL, content = NULL
		 WHERE user_id = $1 AND head_id = $2`,
		userID, headID,
	)
	if err != nil {
		return fmt.Errorf("reduce event history: %w", err)
	}
	return nil
}

// List returns every history entry for headID, newest first, for includeHistory=true reads.
func (r *PGHistoryRepository) List(ctx context.Context, userID, headID string) ([]HistoryEntry, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+historySelectColumns+" FROM events_history WHERE user_id = $1 AND head_id = $2 ORDER BY modified DESC",
		userID, headID,
	)
	if err != nil {
		return nil, fmt.Errorf("query event history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var content []byte
		if err := rows.Scan(&h.ID, &h.HeadID, &h.StreamIDs, &h.Type, &h.Time, &h.Duration, &content, &h.Modified, &h.ModifiedBy); err != nil {
			return nil, fmt.Errorf("scan event history row: %w", err)
		}
		if len(content) > 0 {
			if err := json.Unmarshal(content, &h.Content); err != nil {
				return nil, fmt.Errorf("unmarshal history content: %w", err)
			}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
