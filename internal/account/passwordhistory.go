package account

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pryv-io/core/internal/auth"
)

// passwordHistoryRepository backs the password-age rules: a changed password must be older than PasswordAgeMinDays
// before it can be changed again, and must not match any of the account's recent password hashes. PasswordAgeMaxDays
// is not enforced.
type passwordHistoryRepository struct {
	db *pgxpool.Pool
}

func newPasswordHistoryRepository(db *pgxpool.Pool) *passwordHistoryRepository {
	return &passwordHistoryRepository{db: db}
}

// mostRecentChange returns when the account's current password was set, or the zero time if there is no history yet.
func (r *passwordHistoryRepository) mostRecentChange(ctx context.Context, userID string) (time.Time, error) {
	var t time.Time
	err := r.db.QueryRow(ctx,
		"SELECT created FROM password_history WHERE user_id = $1 ORDER BY created DESC LIMIT 1", userID,
	).Scan(&t)
	if err != nil {
		return time.Time{}, nil // no history yet: treat as never-changed, never blocks a first change
	}
	return t, nil
}

// wasRecentlyUsed reports whether newPassword matches any of the account's last limit stored password hashes.
func (r *passwordHistoryRepository) wasRecentlyUsed(ctx context.Context, userID, newPassword string, limit int) (bool, error) {
	rows, err := r.db.Query(ctx,
		"SELECT password_hash FROM password_history WHERE user_id = $1 ORDER BY created DESC LIMIT $2", userID, limit,
	)
	if err != nil {
		return false, fmt.Errorf("query password history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return false, fmt.Errorf("scan password history row: %w", err)
		}
		match, err := auth.VerifyPassword(newPassword, hash)
		if err != nil {
			continue
		}
		if match {
			return true, nil
		}
	}
	return false, rows.Err()
}

// record appends passwordHash to the account's history.
func (r *passwordHistoryRepository) record(ctx context.Context, userID, passwordHash string) error {
	_, err := r.db.Exec(ctx,
		"INSERT INTO password_history (user_id, password_hash, created) VALUES ($1, $2, $3)",
		userID, passwordHash, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("record password history: %w", err)
	}
	return nil
}
