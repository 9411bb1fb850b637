package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/pryv-io/core/internal/permission"
	"github.com/pryv-io/core/internal/postgres"
)

const selectColumns = `id, token, type, name, permissions, expires, device_name, client_data, created_by, created, modified, modified_by, deleted`

// Repository persists accesses, including soft-deleted tombstones kept for accesses.get's includeDeletions flag.
type Repository interface {
	Create(ctx context.Context, userID string, a *Access) (*Access, error)
	Get(ctx context.Context, userID, id string) (*Access, error)
	GetByToken(ctx context.Context, token string) (*Access, error)
	List(ctx context.Context, userID string, includeExpired, includeDeletions bool) (live []Access, deletions []Access, err error)
	ListCreatedBy(ctx context.Context, userID, creatorID string) ([]Access, error)
	FindByName(ctx context.Context, userID string, t Type, name string) (*Access, error)
	SoftDelete(ctx context.Context, userID, id string) (*Access, error)
	DeleteCascade(ctx context.Context, userID, targetID string) (deleted *Access, related []Access, err error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed access repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

type permissionRow struct {
	Kind     permission.Kind           `json:"kind"`
	StreamID string                    `json:"streamId,omitempty"`
	Level    string                    `json:"level,omitempty"`
	Feature  permission.Feature        `json:"feature,omitempty"`
	Setting  permission.FeatureSetting `json:"setting,omitempty"`
}

func encodePermissions(perms []permission.Permission) ([]byte, error) {
	rows := make([]permissionRow, len(perms))
	for i, p := range perms {
		rows[i] = permissionRow{Kind: p.Kind, StreamID: p.StreamID, Level: p.Level.String(), Feature: p.Feature, Setting: p.Setting}
	}
	return json.Marshal(rows)
}

func decodePermissions(raw []byte) ([]permission.Permission, error) {
	var rows []permissionRow
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, err
		}
	}
	perms := make([]permission.Permission, len(rows))
	for i, r := range rows {
		if r.Kind == permission.KindFeature {
			perms[i] = permission.FeaturePermission(r.Feature, r.Setting)
			continue
		}
		lvl, _ := permission.ParseLevel(r.Level)
		perms[i] = permission.StreamPermission(r.StreamID, lvl)
	}
	return perms, nil
}

func scanAccess(row pgx.Row) (*Access, error) {
	var a Access
	var perms, clientData []byte
	if err := row.Scan(&a.ID, &a.Token, &a.Type, &a.Name, &perms, &a.Expires, &a.DeviceName, &clientData,
		&a.CreatedBy, &a.Created, &a.Modified, &a.ModifiedBy, &a.Deleted); err != nil {
		return nil, err
	}
	decoded, err := decodePermissions(perms)
	if err != nil {
		return nil, fmt.Errorf("unmarshal access permissions: %w", err)
	}
	a.Permissions = decoded
	if len(clientData) > 0 {
		if err := json.Unmarshal(clientData, &a.ClientData); err != nil {
			return nil, fmt.Errorf("unmarshal access client data: %w", err)
		}
	}
	return &a, nil
}

// Create inserts a new access. The access must already carry its id and token.
func (r *PGRepository) Create(ctx context.Context, userID string, a *Access) (*Access, error) {
	perms, err := encodePermissions(a.Permissions)
	if err != nil {
		return nil, fmt.Errorf("marshal permissions: %w", err)
	}
	clientData, err := json.Marshal(a.ClientData)
	if err != nil {
		return nil, fmt.Errorf("marshal client data: %w", err)
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO accesses (user_id, id, token, type, name, permissions, expires, device_name, client_data,
			created_by, created, modified, modified_by, deleted)
		 VALUES (@userID, @id, @token, @type, @name, @permissions, @expires, @deviceName, @clientData,
			@createdBy, @created, @created, @createdBy, NULL)
		 RETURNING `+selectColumns,
		pgx.NamedArgs{
			"userID": userID, "id": a.ID, "token": a.Token, "type": a.Type, "name": a.Name,
			"permissions": perms, "expires": a.Expires, "deviceName": a.DeviceName, "clientData": clientData,
			"createdBy": a.CreatedBy, "created": a.Created,
		},
	)
	created, err := scanAccess(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert access: %w", err)
	}
	return created, nil
}

// Get returns a single access by id, including soft-deleted ones (callers filter as needed).
func (r *PGRepository) Get(ctx context.Context, userID, id string) (*Access, error) {
	row := r.db.QueryRow(ctx, "SELECT "+selectColumns+" FROM accesses WHERE user_id = $1 AND id = $2", userID, id)
	a, err := scanAccess(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query access: %w", err)
	}
	return a, nil
}

// GetByToken resolves an access by its opaque token, used by request-context token resolution.
func (r *PGRepository) GetByToken(ctx context.Context, token string) (*Access, error) {
	row := r.db.QueryRow(ctx, "SELECT "+selectColumns+" FROM accesses WHERE token = $1 AND deleted IS NULL", token)
	a, err := scanAccess(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query access by token: %w", err)
	}
	return a, nil
}

// List returns the live accesses for a user, plus (if includeDeletions) the tombstoned ones separately.
func (r *PGRepository) List(ctx context.Context, userID string, includeExpired, includeDeletions bool) ([]Access, []Access, error) {
	rows, err := r.db.Query(ctx, "SELECT "+selectColumns+" FROM accesses WHERE user_id = $1 ORDER BY created", userID)
	if err != nil {
		return nil, nil, fmt.Errorf("query accesses: %w", err)
	}
	defer rows.Close()

	var live, deletions []Access
	now := time.Now()
	for rows.Next() {
		a, err := scanAccess(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scan access: %w", err)
		}
		if a.Deleted != nil {
			if includeDeletions {
				deletions = append(deletions, *a)
			}
			continue
		}
		if a.Expired(now) && !includeExpired {
			continue
		}
		live = append(live, *a)
	}
	return live, deletions, rows.Err()
}

// ListCreatedBy returns every live access whose createdBy equals creatorID, used by cascading delete.
func (r *PGRepository) ListCreatedBy(ctx context.Context, userID, creatorID string) ([]Access, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+selectColumns+" FROM accesses WHERE user_id = $1 AND created_by = $2 AND deleted IS NULL ORDER BY created",
		userID, creatorID)
	if err != nil {
		return nil, fmt.Errorf("query accesses created by: %w", err)
	}
	defer rows.Close()

	var out []Access
	for rows.Next() {
		a, err := scanAccess(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// FindByName looks up a live access by its (type, name) pair, used by checkApp and the unique-name collision check.
func (r *PGRepository) FindByName(ctx context.Context, userID string, t Type, name string) (*Access, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM accesses WHERE user_id = $1 AND type = $2 AND name = $3 AND deleted IS NULL",
		userID, t, name)
	a, err := scanAccess(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query access by name: %w", err)
	}
	return a, nil
}

// SoftDelete tombstones an access in place, recording the deletion time rather than removing the row.
func (r *PGRepository) SoftDelete(ctx context.Context, userID, id string) (*Access, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE accesses SET deleted = @deleted, modified = @deleted WHERE user_id = @userID AND id = @id AND deleted IS NULL
		 RETURNING `+selectColumns,
		pgx.NamedArgs{"userID": userID, "id": id, "deleted": time.Now()},
	)
	a, err := scanAccess(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeleted
		}
		return nil, fmt.Errorf("soft-delete access: %w", err)
	}
	return a, nil
}

// DeleteCascade soft-deletes target and, in the same transaction, every live (non-expired) access whose createdBy
// equals target.ID — the relatedDeletions of accesses.delete (§4.6). Expired descendants are left untouched, matching
// the "expired is not touched" rule; that wall-clock check runs in Go rather than as a DB trigger, since a
// trigger-assisted cascade has no concept of expiry.
func (r *PGRepository) DeleteCascade(ctx context.Context, userID, targetID string) (deleted *Access, related []Access, err error) {
	err = postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		now := time.Now()

		row := tx.QueryRow(ctx,
			`UPDATE accesses SET deleted = @deleted, modified = @deleted WHERE user_id = @userID AND id = @id AND deleted IS NULL
			 RETURNING `+selectColumns,
			pgx.NamedArgs{"userID": userID, "id": targetID, "deleted": now},
		)
		d, derr := scanAccess(row)
		if derr != nil {
			if errors.Is(derr, pgx.ErrNoRows) {
				return ErrDeleted
			}
			return fmt.Errorf("soft-delete access: %w", derr)
		}
		deleted = d

		rows, qerr := tx.Query(ctx,
			"SELECT "+selectColumns+" FROM accesses WHERE user_id = $1 AND created_by = $2 AND deleted IS NULL",
			userID, targetID)
		if qerr != nil {
			return fmt.Errorf("query child accesses: %w", qerr)
		}
		var children []Access
		for rows.Next() {
			c, cerr := scanAccess(rows)
			if cerr != nil {
				rows.Close()
				return fmt.Errorf("scan child access: %w", cerr)
			}
			children = append(children, *c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate child accesses: %w", err)
		}

		for _, c := range children {
			if c.Expired(now) {
				continue
			}
			crow := tx.QueryRow(ctx,
				`UPDATE accesses SET deleted = @deleted, modified = @deleted WHERE user_id = @userID AND id = @id AND deleted IS NULL
				 RETURNING `+selectColumns,
				pgx.NamedArgs{"userID": userID, "id": c.ID, "deleted": now},
			)
			cd, cerr := scanAccess(crow)
			if cerr != nil {
				if errors.Is(cerr, pgx.ErrNoRows) {
					continue
				}
				return fmt.Errorf("soft-delete child access: %w", cerr)
			}
			related = append(related, *cd)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return deleted, related, nil
}
