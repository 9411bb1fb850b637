// Package access implements the scoped-credential data model: accesses and the three kinds defined by it
// (personal, app, shared). Permission atoms themselves — and the subset constraint that governs delegation from a
// creating access to the access it creates — live in internal/permission, which this package depends on but is
// never depended on by (the evaluator must not import access).
package access

import (
	"errors"
	"time"

	"github.com/pryv-io/core/internal/permission"
)

// Sentinel errors for the access package.
var (
	ErrNotFound             = errors.New("access not found")
	ErrAlreadyExists        = errors.New("an access with this name already exists")
	ErrDeleted              = errors.New("access has been deleted")
	ErrUpdateGone           = errors.New("accesses.update is deprecated and always returns gone")
	ErrForbiddenDelete      = errors.New("caller may not delete this access")
	ErrForbiddenCreate      = errors.New("requested permissions exceed the caller's own permissions")
	ErrSelfRevokeDisallowed = errors.New("this access cannot revoke itself")
)

// Type distinguishes the three access kinds of the data model.
type Type string

const (
	TypePersonal Type = "personal"
	TypeApp      Type = "app"
	TypeShared   Type = "shared"
)

// ParseType parses the wire representation of a Type.
func ParseType(s string) (Type, bool) {
	switch Type(s) {
	case TypePersonal, TypeApp, TypeShared:
		return Type(s), true
	default:
		return "", false
	}
}

// Access is a scoped credential. Its Permissions are the tagged-union atoms defined by internal/permission.
type Access struct {
	ID          string                  `json:"id"`
	Token       string                  `json:"token"`
	Type        Type                    `json:"type"`
	Name        string                  `json:"name"`
	Permissions []permission.Permission `json:"permissions"`
	Expires     *time.Time              `json:"expires,omitempty"`
	DeviceName  string                  `json:"deviceName,omitempty"`
	ClientData  map[string]any          `json:"clientData,omitempty"`
	CreatedBy   string                  `json:"createdBy"`
	Created     time.Time               `json:"created"`
	Modified    time.Time               `json:"modified"`
	ModifiedBy  string                  `json:"modifiedBy"`
	Deleted     *time.Time              `json:"deleted,omitempty"`
}

// Expired reports whether the access has an expiry in the past relative to now.
func (a *Access) Expired(now time.Time) bool {
	return a.Expires != nil && a.Expires.Before(now)
}

// IsLive reports whether the access is neither deleted nor expired.
func (a *Access) IsLive(now time.Time) bool {
	return a.Deleted == nil && !a.Expired(now)
}

// SelfRevokeForbidden reports whether the access carries {feature: selfRevoke, setting: forbidden}.
func (a *Access) SelfRevokeForbidden() bool {
	for _, p := range a.Permissions {
		if p.Kind == permission.KindFeature && p.Feature == permission.FeatureSelfRevoke && p.Setting == permission.SettingForbidden {
			return true
		}
	}
	return false
}
