package webhook

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

const selectColumns = `id, access_id, url, state, run_count, fail_count, last_run, runs,
min_interval_ms, max_retries, created, created_by, modified, modified_by, deleted`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed webhook repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanWebhook(row pgx.Row) (*Webhook, error) {
	var w Webhook
	var state string
	var lastRun, runs []byte
	err := row.Scan(
		&w.ID, &w.AccessID, &w.URL, &state, &w.RunCount, &w.FailCount, &lastRun, &runs,
		&w.MinIntervalMs, &w.MaxRetries, &w.Created, &w.CreatedBy, &w.Modified, &w.ModifiedBy, &w.Deleted,
	)
	if err != nil {
		return nil, err
	}
	w.State = State(state)

	if len(lastRun) > 0 {
		if err := json.Unmarshal(lastRun, &w.LastRun); err != nil {
			return nil, fmt.Errorf("unmarshal last run: %w", err)
		}
	}
	if len(runs) > 0 {
		if err := json.Unmarshal(runs, &w.Runs); err != nil {
			return nil, fmt.Errorf("unmarshal runs: %w", err)
		}
	}
	return &w, nil
}

// Create inserts a new active webhook.
func (r *PGRepository) Create(ctx context.Context, userID string, p CreateParams, actorAccessID string) (*Webhook, error) {
	runs, _ := json.Marshal([]Run{})
	now := time.Now()
	row := r.db.QueryRow(ctx,
		`INSERT INTO webhooks (user_id, id, access_id, url, state, run_count, fail_count, last_run, runs,
		 min_interval_ms, max_retries, created, created_by, modified, modified_by)
		 VALUES ($1, $2, $3, $4, $5, 0, 0, NULL, $6, $7, $8, $9, $10, $9, $10)
		 RETURNING `+selectColumns,
		userID, p.ID, p.AccessID, p.URL, string(StateActive), runs, p.MinIntervalMs, p.MaxRetries, now, actorAccessID,
	)
	w, err := scanWebhook(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, fmt.Errorf("webhook id already exists: %w", err)
		}
		return nil, fmt.Errorf("insert webhook: %w", err)
	}
	return w, nil
}

// List returns every non-deleted webhook for userID.
func (r *PGRepository) List(ctx context.Context, userID string) ([]Webhook, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+selectColumns+" FROM webhooks WHERE user_id = $1 AND deleted IS NULL ORDER BY created", userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	var result []Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		result = append(result, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return result, nil
}

// Get returns a single non-deleted webhook by id.
func (r *PGRepository) Get(ctx context.Context, userID, id string) (*Webhook, error) {
	w, err := scanWebhook(r.db.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM webhooks WHERE user_id = $1 AND id = $2 AND deleted IS NULL", userID, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query webhook: %w", err)
	}
	return w, nil
}

// Save persists the full state of an in-memory Webhook (after RecordRun, or a field update), bumping modified.
func (r *PGRepository) Save(ctx context.Context, userID string, w *Webhook, actorAccessID string) (*Webhook, error) {
	lastRun, err := json.Marshal(w.LastRun)
	if err != nil {
		return nil, fmt.Errorf("marshal last run: %w", err)
	}
	runs, err := json.Marshal(w.Runs)
	if err != nil {
		return nil, fmt.Errorf("marshal runs: %w", err)
	}

	row := r.db.QueryRow(ctx,
		`UPDATE webhooks SET url = $3, state = $4, run_count = $5, fail_count = $6, last_run = $7, runs = $8,
		 min_interval_ms = $9, max_retries = $10, modified = $11, modified_by = $12
		 WHERE user_id = $1 AND id = $2 AND deleted IS NULL
		 RETURNING `+selectColumns,
		userID, w.ID, w.URL, string(w.State), w.RunCount, w.FailCount, lastRun, runs,
		w.MinIntervalMs, w.MaxRetries, time.Now(), actorAccessID,
	)
	saved, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("save webhook: %w", err)
	}
	return saved, nil
}

// Delete soft-deletes a webhook.
func (r *PGRepository) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE webhooks SET deleted = $3, state = $4 WHERE user_id = $1 AND id = $2 AND deleted IS NULL",
		userID, id, time.Now(), string(StateDeleted),
	)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
