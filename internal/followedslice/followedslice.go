// Package followedslice implements the FollowedSlice auxiliary resource (spec §3): a per-user pointer to a remote
// Pryv account's data ("slice") the owner follows, specified only to the extent straightforward CRUD serves the
// permission model. Grounded on internal/stream's PGRepository idiom, the closest per-user CRUD analogue in this
// codebase.
package followedslice

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the followedslice package.
var (
	ErrNotFound      = errors.New("followed slice not found")
	ErrAlreadyExists = errors.New("a followed slice with this id already exists")
)

// FollowedSlice is a reference to another account's data, identified by the URL and access token needed to fetch it.
type FollowedSlice struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	AccessToken string    `json:"accessToken"`
	Created     time.Time `json:"created"`
	Modified    time.Time `json:"modified"`
}

// CreateParams groups the inputs for creating a new followed slice.
type CreateParams struct {
	ID          string
	Name        string
	URL         string
	AccessToken string
}

// UpdateParams groups PATCH-semantics changes; nil fields are left untouched.
type UpdateParams struct {
	Name        *string
	URL         *string
	AccessToken *string
}

// Repository is the persistence contract for followed slices.
type Repository interface {
	Create(ctx context.Context, userID string, p CreateParams) (*FollowedSlice, error)
	List(ctx context.Context, userID string) ([]FollowedSlice, error)
	Get(ctx context.Context, userID, id string) (*FollowedSlice, error)
	Update(ctx context.Context, userID, id string, p UpdateParams) (*FollowedSlice, error)
	Delete(ctx context.Context, userID, id string) error
}
