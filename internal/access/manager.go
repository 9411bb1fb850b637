package access

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pryv-io/core/internal/legacyprefix"
	"github.com/pryv-io/core/internal/permission"
	"github.com/pryv-io/core/internal/stream"
)

// Caller describes the access performing an accesses.* call: its own record plus an evaluator built from its own
// permission atoms, used by the subset constraint (§4.3.1) and the get/delete visibility rules (§4.6).
type Caller struct {
	Access    *Access
	Evaluator *permission.Evaluator
}

// Manager implements the accesses.* operations of §4.6.
type Manager struct {
	repo Repository
}

// NewManager builds an access Manager over the given repository.
func NewManager(repo Repository) *Manager {
	return &Manager{repo: repo}
}

// CreateParams is the shape accesses.create validates before delegating to the repository.
type CreateParams struct {
	Name        string
	Type        Type
	Permissions []permission.Permission
	Expires     *time.Time
	DeviceName  string
	ClientData  map[string]any
	Deleted     *time.Time // must be absent; present here only so Create can reject it (step 1)
}

// Create implements accesses.create (§4.6): shape validation, the subset constraint relative to the caller, legacy
// stream-id prefix translation, opaque token generation, and insertion with unique-collision mapped to
// item-already-exists.
func (m *Manager) Create(ctx context.Context, userID string, caller Caller, p CreateParams) (*Access, error) {
	if p.Deleted != nil {
		return nil, fmt.Errorf("%w: deleted must not be set on create", ErrForbiddenCreate)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrForbiddenCreate)
	}
	if _, ok := ParseType(string(p.Type)); !ok {
		return nil, fmt.Errorf("%w: invalid access type %q", ErrForbiddenCreate, p.Type)
	}

	translated := make([]permission.Permission, len(p.Permissions))
	for i, atom := range p.Permissions {
		if atom.Kind == permission.KindStream {
			atom.StreamID = legacyprefix.NormalizeStreamID(atom.StreamID)
		}
		translated[i] = atom
	}

	if caller.Evaluator != nil {
		if err := permission.CheckSubset(caller.Evaluator, caller.Access.Permissions, translated); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrForbiddenCreate, err)
		}
		if caller.Access.SelfRevokeForbidden() {
			inherited := false
			for _, atom := range translated {
				if atom.Kind == permission.KindFeature && atom.Feature == permission.FeatureSelfRevoke {
					inherited = true
				}
			}
			if !inherited {
				translated = append(translated, permission.FeaturePermission(permission.FeatureSelfRevoke, permission.SettingForbidden))
			}
		}
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	now := time.Now()
	a := &Access{
		ID:          uuid.New().String(),
		Token:       token,
		Type:        p.Type,
		Name:        p.Name,
		Permissions: translated,
		Expires:     p.Expires,
		DeviceName:  p.DeviceName,
		ClientData:  p.ClientData,
		CreatedBy:   caller.Access.ID,
		Created:     now,
		Modified:    now,
		ModifiedBy:  caller.Access.ID,
	}

	created, err := m.repo.Create(ctx, userID, a)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetResult is the response shape of accesses.get: the live accesses visible to the caller, plus (if requested)
// tombstoned deletions.
type GetResult struct {
	Accesses        []Access
	AccessDeletions []Access
}

// Get implements accesses.get (§4.6). A personal caller sees every access (optionally including expired ones and
// tombstones); an app/shared caller sees only the live accesses it itself created whose permissions are a subset of
// its own.
func (m *Manager) Get(ctx context.Context, userID string, caller Caller, includeExpired, includeDeletions bool) (*GetResult, error) {
	live, deletions, err := m.repo.List(ctx, userID, includeExpired, includeDeletions)
	if err != nil {
		return nil, err
	}

	if caller.Access.Type == TypePersonal {
		return &GetResult{Accesses: live, AccessDeletions: deletions}, nil
	}

	var visible []Access
	for _, a := range live {
		if a.CreatedBy != caller.Access.ID {
			continue
		}
		if caller.Evaluator != nil && permission.CheckSubset(caller.Evaluator, caller.Access.Permissions, a.Permissions) != nil {
			continue
		}
		visible = append(visible, a)
	}
	return &GetResult{Accesses: visible}, nil
}

// CheckAppResult is the response shape of accesses.checkApp.
type CheckAppResult struct {
	MatchingAccess    *Access
	MismatchingAccess *Access
}

// CheckApp implements accesses.checkApp (§4.6): looks up an access by (type=app, name=requestingAppID). If one
// exists and is live, not expired, and its permissions and clientData match exactly, it is returned as
// MatchingAccess. If one exists by name but differs, it is returned as MismatchingAccess. Otherwise both are nil.
func (m *Manager) CheckApp(ctx context.Context, userID, requestingAppID string, requestedPermissions []permission.Permission, clientData map[string]any) (*CheckAppResult, error) {
	existing, err := m.repo.FindByName(ctx, userID, TypeApp, requestingAppID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &CheckAppResult{}, nil
		}
		return nil, err
	}
	if existing.Expired(time.Now()) {
		return &CheckAppResult{}, nil
	}
	if permissionsEqual(existing.Permissions, requestedPermissions) && clientDataEqual(existing.ClientData, clientData) {
		return &CheckAppResult{MatchingAccess: existing}, nil
	}
	return &CheckAppResult{MismatchingAccess: existing}, nil
}

// DeleteResult is the response shape of accesses.delete: the tombstoned target plus any cascaded child accesses.
type DeleteResult struct {
	AccessDeletion   Access
	RelatedDeletions []Access
}

// Delete implements accesses.delete (§4.6). A personal caller may delete any access, cascading to every live access
// created by the target (relatedDeletions); expired descendants are left untouched. An app/shared caller may only
// delete accesses it created itself, or delete itself provided it does not carry selfRevoke=forbidden. Deleting an
// already-deleted access returns ErrForbiddenDelete ("double-delete returns forbidden").
func (m *Manager) Delete(ctx context.Context, userID string, caller Caller, targetID string) (*DeleteResult, error) {
	target, err := m.repo.Get(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}
	if target.Deleted != nil {
		return nil, ErrForbiddenDelete
	}

	if caller.Access.Type != TypePersonal {
		isSelf := target.ID == caller.Access.ID
		createdByCaller := target.CreatedBy == caller.Access.ID
		switch {
		case isSelf:
			if caller.Access.SelfRevokeForbidden() {
				return nil, ErrSelfRevokeDisallowed
			}
		case createdByCaller:
			// allowed
		default:
			return nil, ErrForbiddenDelete
		}
	}

	if caller.Access.Type != TypePersonal {
		// Non-personal callers never cascade: only the target itself is tombstoned.
		deleted, err := m.repo.SoftDelete(ctx, userID, targetID)
		if err != nil {
			return nil, err
		}
		return &DeleteResult{AccessDeletion: *deleted}, nil
	}

	deleted, related, err := m.repo.DeleteCascade(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{AccessDeletion: *deleted, RelatedDeletions: related}, nil
}

// Update implements accesses.update: the operation is deprecated and always returns ErrUpdateGone.
func (m *Manager) Update(ctx context.Context, userID, id string, _ map[string]any) (*Access, error) {
	return nil, ErrUpdateGone
}

// BuildEvaluator is a convenience for constructing the permission.Evaluator a caller needs for subset checks and
// get/delete visibility, from the user's current stream tree.
func BuildEvaluator(a *Access, tree *stream.Tree) *permission.Evaluator {
	return permission.NewEvaluator(a.Permissions, tree)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func permissionsEqual(a, b []permission.Permission) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clientDataEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if fmt.Sprint(v) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
