package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `id, stream_ids, type, time, duration, content, attachments, integrity, trashed,
	created, created_by, modified, modified_by, deleted`

// Repository is the persistence contract for events.
type Repository interface {
	Create(ctx context.Context, userID string, p CreateParams, actorAccessID string) (*Event, error)
	Get(ctx context.Context, userID, id string) (*Event, error)
	Update(ctx context.Context, userID, id string, p UpdateParams, actorAccessID string) (*Event, error)
	Trash(ctx context.Context, userID, id string, actorAccessID string) (*Event, error)
	// Delete is implemented by internal/versioning, which applies the configured deletionMode; the repository only
	// exposes the raw tombstone/hard-delete primitives it needs.
	TombstoneHead(ctx context.Context, userID, id string, actorAccessID string, keepFields bool) (*Event, error)
	PurgeHistory(ctx context.Context, userID, headID string) error
	// Overlapping returns every non-trashed, non-deleted duration event on streamID whose [time, time+duration) range
	// intersects [start, end), excluding excludeID (the event being created/updated) — used to enforce the
	// singleActivity invariant (f).
	Overlapping(ctx context.Context, userID, streamID string, start, end time.Time, excludeID string) ([]Event, error)
	// FilterStore runs a compiled stream-query filter tree (internal/streamquery) against the event store.
	FilterStore(ctx context.Context, userID string, filter Filter, opts ListOptions) ([]Event, error)
	// SetAttachments replaces an event's attachments array wholesale, used by internal/attachment's write path after
	// an upload has been moved into the per-user attachments directory (spec §4.8 "indexed into the event's
	// attachments array with freshly computed size and integrity digest").
	SetAttachments(ctx context.Context, userID, id string, attachments []Attachment, actorAccessID string) (*Event, error)
}

// Filter is the store-level filter tree emitted by internal/streamquery (§4.4 step 5): an OR of AND-conjuncts, each
// with $in/$eq/$nin stream-id constraints. Defined here (rather than in internal/streamquery) so the repository can
// depend on it without an import cycle back to the query compiler.
type Filter struct {
	Or []Conjunct
}

// Conjunct is one `{$and: [...]}` branch of a Filter.
type Conjunct struct {
	In  []string // streamIds: {$in: any}
	All []string // streamIds: {$eq: each} for every entry in all
	Nin []string // streamIds: {$nin: not}
}

// ListOptions controls non-stream filtering and pagination of FilterStore.
type ListOptions struct {
	Types          []string
	FromTime       *time.Time
	ToTime         *time.Time
	State          string // "default" (non-trashed), "trashed", "all"
	IncludeDeletions bool
	SortAscending  bool
	Limit          int
	Skip           int
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed event repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	var streamIDs []string
	var content, attachments []byte
	if err := row.Scan(&e.ID, &streamIDs, &e.Type, &e.Time, &e.Duration, &content, &attachments, &e.Integrity,
		&e.Trashed, &e.Created, &e.CreatedBy, &e.Modified, &e.ModifiedBy, &e.Deleted); err != nil {
		return nil, err
	}
	e.StreamIDs = streamIDs
	if len(content) > 0 {
		if err := json.Unmarshal(content, &e.Content); err != nil {
			return nil, fmt.Errorf("unmarshal event content: %w", err)
		}
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &e.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal event attachments: %w", err)
		}
	}
	return &e, nil
}

// Create inserts a new event row.
func (r *PGRepository) Create(ctx context.Context, userID string, p CreateParams, actorAccessID string) (*Event, error) {
	content, err := json.Marshal(p.Content)
	if err != nil {
		return nil, fmt.Errorf("marshal event content: %w", err)
	}
	attachments, err := json.Marshal(p.Attachments)
	if err != nil {
		return nil, fmt.Errorf("marshal event attachments: %w", err)
	}

	now := time.Now()
	row := r.db.QueryRow(ctx,
		`INSERT INTO events (user_id, id, stream_ids, type, time, duration, content, attachments, integrity, trashed,
			created, created_by, modified, modified_by, deleted)
		 VALUES (@userID, @id, @streamIDs, @type, @time, @duration, @content, @attachments, @integrity, false,
			@now, @actor, @now, @actor, NULL)
		 RETURNING `+selectColumns,
		pgx.NamedArgs{
			"userID": userID, "id": uuid.New().String(), "streamIDs": p.StreamIDs, "type": p.Type,
			"time": p.Time, "duration": p.Duration, "content": content, "attachments": attachments,
			"integrity": p.Integrity, "now": now, "actor": actorAccessID,
		},
	)
	e, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// Get returns a single event by id.
func (r *PGRepository) Get(ctx context.Context, userID, id string) (*Event, error) {
	row := r.db.QueryRow(ctx, "SELECT "+selectColumns+" FROM events WHERE user_id = $1 AND id = $2", userID, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query event: %w", err)
	}
	return e, nil
}

// Update applies PATCH-semantics changes to a live event row. Callers (internal/versioning) are responsible for
// writing a history row first when forceKeepHistory is set.
func (r *PGRepository) Update(ctx context.Context, userID, id string, p UpdateParams, actorAccessID string) (*Event, error) {
	setClauses := []string{"modified = @modified", "modified_by = @modifiedBy"}
	args := pgx.NamedArgs{"userID": userID, "id": id, "modified": time.Now(), "modifiedBy": actorAccessID}

	if p.StreamIDs != nil {
		setClauses = append(setClauses, "stream_ids = @streamIDs")
		args["streamIDs"] = *p.StreamIDs
	}
	if p.Type != nil {
		setClauses = append(setClauses, "type = @type")
		args["type"] = *p.Type
	}
	if p.Time != nil {
		setClauses = append(setClauses, "time = @time")
		args["time"] = *p.Time
	}
	if p.Duration != nil {
		setClauses = append(setClauses, "duration = @duration")
		args["duration"] = *p.Duration
	}
	if p.Content != nil {
		c, err := json.Marshal(*p.Content)
		if err != nil {
			return nil, fmt.Errorf("marshal event content: %w", err)
		}
		setClauses = append(setClauses, "content = @content")
		args["content"] = c
	}

	query := "UPDATE events SET "
	for i, c := range setClauses {
		if i > 0 {
			query += ", "
		}
		query += c
	}
	query += " WHERE user_id = @userID AND id = @id AND deleted IS NULL RETURNING " + selectColumns

	row := r.db.QueryRow(ctx, query, args)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update event: %w", err)
	}
	return e, nil
}

// SetAttachments overwrites the attachments array on a live event row.
func (r *PGRepository) SetAttachments(ctx context.Context, userID, id string, attachments []Attachment, actorAccessID string) (*Event, error) {
	encoded, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("marshal event attachments: %w", err)
	}
	row := r.db.QueryRow(ctx,
		`UPDATE events SET attachments = $3, modified = $4, modified_by = $5
		 WHERE user_id = $1 AND id = $2 AND deleted IS NULL RETURNING `+selectColumns,
		userID, id, encoded, time.Now(), actorAccessID,
	)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("set event attachments: %w", err)
	}
	return e, nil
}

// Trash sets the trashed flag without deleting or tombstoning the row.
func (r *PGRepository) Trash(ctx context.Context, userID, id string, actorAccessID string) (*Event, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE events SET trashed = true, modified = $3, modified_by = $4 WHERE user_id = $1 AND id = $2 AND deleted IS NULL
		 RETURNING `+selectColumns,
		userID, id, time.Now(), actorAccessID,
	)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("trash event: %w", err)
	}
	return e, nil
}

// TombstoneHead marks the head row deleted and stamps modified/modifiedBy. When keepFields is true (the
// deletionMode=keep-everything path) every other field is left as-is; otherwise (keep-nothing/keep-authors, which
// differ only in their history handling, not the head row) content is nulled, attachments are emptied and integrity
// is blanked, while streamIds, type, time and duration stay on the row.
func (r *PGRepository) TombstoneHead(ctx context.Context, userID, id string, actorAccessID string, keepFields bool) (*Event, error) {
	now := time.Now()
	if keepFields {
		row := r.db.QueryRow(ctx,
			`UPDATE events SET deleted = $3, modified = $3, modified_by = $4 WHERE user_id = $1 AND id = $2 AND deleted IS NULL
			 RETURNING `+selectColumns,
			userID, id, now, actorAccessID,
		)
		e, err := scanEvent(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("tombstone event: %w", err)
		}
		return e, nil
	}

	row := r.db.QueryRow(ctx,
		`UPDATE events SET deleted = $3, modified = $3, modified_by = $4, content = NULL, attachments = '[]'::jsonb, integrity = ''
		 WHERE user_id = $1 AND id = $2 AND deleted IS NULL
		 RETURNING `+selectColumns,
		userID, id, now, actorAccessID,
	)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tombstone event: %w", err)
	}
	return e, nil
}

// PurgeHistory removes every history row for headID (the deletionMode=keep-nothing path).
func (r *PGRepository) PurgeHistory(ctx context.Context, userID, headID string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM events_history WHERE user_id = $1 AND head_id = $2", userID, headID)
	if err != nil {
		return fmt.Errorf("purge event history: %w", err)
	}
	return nil
}

// Overlapping implements the singleActivity range-intersection query: two ranges [aStart,aEnd) and [bStart,bEnd)
// intersect iff aStart < bEnd AND bStart < aEnd. duration IS NULL is treated as a zero-length point at time.
func (r *PGRepository) Overlapping(ctx context.Context, userID, streamID string, start, end time.Time, excludeID string) ([]Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM events
		 WHERE user_id = $1 AND $2 = ANY(stream_ids) AND trashed = false AND deleted IS NULL AND id != $3
		   AND time < $5 AND (time + (COALESCE(duration, 0) || ' seconds')::interval) > $4`,
		userID, streamID, excludeID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("query overlapping events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan overlapping event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// FilterStore runs a compiled stream-query filter tree against the event store, applying type/time/state filters and
// the default sort (time desc, created desc tie-break) unless SortAscending is set.
func (r *PGRepository) FilterStore(ctx context.Context, userID string, filter Filter, opts ListOptions) ([]Event, error) {
	query := "SELECT " + selectColumns + " FROM events WHERE user_id = @userID"
	args := pgx.NamedArgs{"userID": userID}

	if clause, ok := buildOrClause(filter, args); ok {
		query += " AND (" + clause + ")"
	}
	switch opts.State {
	case "trashed":
		query += " AND trashed = true"
	case "all":
		// no trashed filter
	default:
		query += " AND trashed = false"
	}
	if !opts.IncludeDeletions {
		query += " AND deleted IS NULL"
	}
	if len(opts.Types) > 0 {
		query += " AND type = ANY(@types)"
		args["types"] = opts.Types
	}
	if opts.FromTime != nil {
		query += " AND time >= @fromTime"
		args["fromTime"] = *opts.FromTime
	}
	if opts.ToTime != nil {
		query += " AND time <= @toTime"
		args["toTime"] = *opts.ToTime
	}
	if opts.SortAscending {
		query += " ORDER BY time ASC, created ASC"
	} else {
		query += " ORDER BY time DESC, created DESC"
	}
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Skip > 0 {
		query += fmt.Sprintf(" OFFSET %d", opts.Skip)
	}

	rows, err := r.db.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func buildOrClause(filter Filter, args pgx.NamedArgs) (string, bool) {
	if len(filter.Or) == 0 {
		return "", false
	}
	clause := ""
	for i, c := range filter.Or {
		if i > 0 {
			clause += " OR "
		}
		clause += "(" + buildAndClause(c, args, i) + ")"
	}
	return clause, true
}

func buildAndClause(c Conjunct, args pgx.NamedArgs, idx int) string {
	var parts []string
	if len(c.In) > 0 {
		key := fmt.Sprintf("in%d", idx)
		args[key] = c.In
		parts = append(parts, "stream_ids && @"+key)
	}
	for j, all := range c.All {
		key := fmt.Sprintf("all%d_%d", idx, j)
		args[key] = all
		parts = append(parts, "@"+key+" = ANY(stream_ids)")
	}
	if len(c.Nin) > 0 {
		key := fmt.Sprintf("nin%d", idx)
		args[key] = c.Nin
		parts = append(parts, "NOT (stream_ids && @"+key+")")
	}
	if len(parts) == 0 {
		return "true"
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " AND "
		}
		out += p
	}
	return out
}
