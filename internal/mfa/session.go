package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrInvalidTicket is returned when a ticket or pending-setup token doesn't exist or was already consumed.
var ErrInvalidTicket = errors.New("invalid or expired MFA ticket")

const pendingTTL = 10 * time.Minute

func pendingKey(userID uuid.UUID) string { return "mfa_pending:" + userID.String() }
func ticketKey(ticket string) string     { return "mfa_ticket:" + ticket }

// StorePendingSecret stores an encrypted TOTP secret in Valkey while a user is mid-setup, replacing any prior pending
// secret. It expires automatically after pendingTTL if the user never confirms.
func StorePendingSecret(ctx context.Context, rdb *redis.Client, userID uuid.UUID, encryptedSecret string) error {
	if err := rdb.Set(ctx, pendingKey(userID), encryptedSecret, pendingTTL).Err(); err != nil {
		return fmt.Errorf("store pending MFA secret: %w", err)
	}
	return nil
}

// ConsumePendingSecret atomically reads and deletes the pending secret for userID.
func ConsumePendingSecret(ctx context.Context, rdb *redis.Client, userID uuid.UUID) (string, error) {
	val, err := rdb.GetDel(ctx, pendingKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidTicket
	}
	if err != nil {
		return "", fmt.Errorf("consume pending MFA secret: %w", err)
	}
	return val, nil
}

// CreateTicket generates a single-use MFA ticket bridging a password-verified login to the MFA-code step, valid for
// ttl.
func CreateTicket(ctx context.Context, rdb *redis.Client, userID uuid.UUID, ttl time.Duration) (string, error) {
	ticket := uuid.New().String()
	if err := rdb.Set(ctx, ticketKey(ticket), userID.String(), ttl).Err(); err != nil {
		return "", fmt.Errorf("store MFA ticket: %w", err)
	}
	return ticket, nil
}

// ConsumeTicket atomically reads and deletes a ticket, returning the user id it named. GETDEL makes this atomic
// without needing a Lua script.
func ConsumeTicket(ctx context.Context, rdb *redis.Client, ticket string) (uuid.UUID, error) {
	val, err := rdb.GetDel(ctx, ticketKey(ticket)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrInvalidTicket
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("consume MFA ticket: %w", err)
	}
	userID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse user id from MFA ticket: %w", err)
	}
	return userID, nil
}
