package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pryv-io/core/internal/permission"
	"github.com/pryv-io/core/internal/stream"
)

type fakeRepo struct {
	byID map[string]*Access
}

func newFakeRepo() *fakeRepo { return &fakeRepo{byID: map[string]*Access{}} }

func (f *fakeRepo) Create(ctx context.Context, userID string, a *Access) (*Access, error) {
	for _, existing := range f.byID {
		if existing.Deleted == nil && existing.Type == a.Type && existing.Name == a.Name {
			return nil, ErrAlreadyExists
		}
	}
	cp := *a
	f.byID[a.ID] = &cp
	return &cp, nil
}

func (f *fakeRepo) Get(ctx context.Context, userID, id string) (*Access, error) {
	a, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) GetByToken(ctx context.Context, token string) (*Access, error) {
	for _, a := range f.byID {
		if a.Token == token && a.Deleted == nil {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeRepo) List(ctx context.Context, userID string, includeExpired, includeDeletions bool) ([]Access, []Access, error) {
	var live, deletions []Access
	now := time.Now()
	for _, a := range f.byID {
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
	return live, deletions, nil
}

func (f *fakeRepo) ListCreatedBy(ctx context.Context, userID, creatorID string) ([]Access, error) {
	var out []Access
	for _, a := range f.byID {
		if a.CreatedBy == creatorID && a.Deleted == nil {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindByName(ctx context.Context, userID string, t Type, name string) (*Access, error) {
	for _, a := range f.byID {
		if a.Type == t && a.Name == name && a.Deleted == nil {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeRepo) SoftDelete(ctx context.Context, userID, id string) (*Access, error) {
	a, ok := f.byID[id]
	if !ok || a.Deleted != nil {
		return nil, ErrDeleted
	}
	now := time.Now()
	a.Deleted = &now
	cp := *a
	return &cp, nil
}

func (f *fakeRepo) DeleteCascade(ctx context.Context, userID, targetID string) (*Access, []Access, error) {
	target, ok := f.byID[targetID]
	if !ok || target.Deleted != nil {
		return nil, nil, ErrDeleted
	}
	now := time.Now()
	target.Deleted = &now
	deleted := *target

	var related []Access
	for _, a := range f.byID {
		if a.CreatedBy == targetID && a.Deleted == nil && !a.Expired(now) {
			a.Deleted = &now
			related = append(related, *a)
		}
	}
	return &deleted, related, nil
}

func personalCaller(id string) Caller {
	a := &Access{ID: id, Type: TypePersonal}
	tree := stream.BuildTree(nil)
	return Caller{Access: a, Evaluator: permission.NewEvaluator(a.Permissions, tree)}
}

func TestManagerCreate_EnforcesSubset(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	mgr := NewManager(repo)

	creator := &Access{ID: "creator", Type: TypeApp, Permissions: []permission.Permission{permission.StreamPermission("diary", permission.LevelContribute)}}
	tree := stream.BuildTree([]stream.Stream{{ID: "diary"}})
	caller := Caller{Access: creator, Evaluator: permission.NewEvaluator(creator.Permissions, tree)}

	_, err := mgr.Create(context.Background(), "user1", caller, CreateParams{
		Name: "too-broad",
		Type: TypeShared,
		Permissions: []permission.Permission{
			permission.StreamPermission("diary", permission.LevelManage),
		},
	})
	if !errors.Is(err, ErrForbiddenCreate) {
		t.Fatalf("got %v, want ErrForbiddenCreate", err)
	}

	created, err := mgr.Create(context.Background(), "user1", caller, CreateParams{
		Name: "narrower",
		Type: TypeShared,
		Permissions: []permission.Permission{
			permission.StreamPermission("diary", permission.LevelRead),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.Token == "" {
		t.Error("expected a generated token")
	}
	if created.CreatedBy != "creator" {
		t.Errorf("CreatedBy = %q, want creator", created.CreatedBy)
	}
}

func TestManagerCreate_RejectsDeletedField(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	mgr := NewManager(repo)
	now := time.Now()

	_, err := mgr.Create(context.Background(), "user1", personalCaller("p1"), CreateParams{
		Name: "x", Type: TypeShared, Deleted: &now,
	})
	if !errors.Is(err, ErrForbiddenCreate) {
		t.Fatalf("got %v, want ErrForbiddenCreate", err)
	}
}

func TestManagerGet_AppSeesOnlyOwnSubset(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	mgr := NewManager(repo)
	ctx := context.Background()

	tree := stream.BuildTree([]stream.Stream{{ID: "diary"}})
	appAccess := &Access{ID: "app1", Type: TypeApp, Name: "app1", Permissions: []permission.Permission{permission.StreamPermission("diary", permission.LevelContribute)}}
	repo.byID[appAccess.ID] = appAccess

	repo.byID["own1"] = &Access{ID: "own1", Type: TypeShared, Name: "own1", CreatedBy: "app1", Permissions: []permission.Permission{permission.StreamPermission("diary", permission.LevelRead)}}
	repo.byID["other1"] = &Access{ID: "other1", Type: TypeShared, Name: "other1", CreatedBy: "someone-else", Permissions: []permission.Permission{permission.StreamPermission("diary", permission.LevelRead)}}

	caller := Caller{Access: appAccess, Evaluator: permission.NewEvaluator(appAccess.Permissions, tree)}
	res, err := mgr.Get(ctx, "user1", caller, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Accesses) != 1 || res.Accesses[0].ID != "own1" {
		t.Errorf("Accesses = %+v, want only own1", res.Accesses)
	}
}

func TestManagerDelete_CascadesForPersonalCaller(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	mgr := NewManager(repo)
	ctx := context.Background()

	repo.byID["target"] = &Access{ID: "target", Type: TypeApp, Name: "target"}
	repo.byID["child1"] = &Access{ID: "child1", Type: TypeShared, Name: "child1", CreatedBy: "target"}
	expired := time.Now().Add(-time.Hour)
	repo.byID["childExpired"] = &Access{ID: "childExpired", Type: TypeShared, Name: "childExpired", CreatedBy: "target", Expires: &expired}

	res, err := mgr.Delete(ctx, "user1", personalCaller("personal1"), "target")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.AccessDeletion.ID != "target" {
		t.Errorf("AccessDeletion.ID = %q, want target", res.AccessDeletion.ID)
	}
	if len(res.RelatedDeletions) != 1 || res.RelatedDeletions[0].ID != "child1" {
		t.Errorf("RelatedDeletions = %+v, want only child1 (expired sibling excluded)", res.RelatedDeletions)
	}
}

func TestManagerDelete_DoubleDeleteIsForbidden(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	mgr := NewManager(repo)
	ctx := context.Background()
	now := time.Now()
	repo.byID["gone"] = &Access{ID: "gone", Type: TypeApp, Name: "gone", Deleted: &now}

	_, err := mgr.Delete(ctx, "user1", personalCaller("p1"), "gone")
	if !errors.Is(err, ErrForbiddenDelete) {
		t.Fatalf("got %v, want ErrForbiddenDelete", err)
	}
}

func TestManagerDelete_SelfRevokeForbidden(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	mgr := NewManager(repo)
	ctx := context.Background()

	self := &Access{ID: "self1", Type: TypeApp, Name: "self1", Permissions: []permission.Permission{
		permission.FeaturePermission(permission.FeatureSelfRevoke, permission.SettingForbidden),
	}}
	repo.byID["self1"] = self
	tree := stream.BuildTree(nil)
	caller := Caller{Access: self, Evaluator: permission.NewEvaluator(self.Permissions, tree)}

	_, err := mgr.Delete(ctx, "user1", caller, "self1")
	if !errors.Is(err, ErrSelfRevokeDisallowed) {
		t.Fatalf("got %v, want ErrSelfRevokeDisallowed", err)
	}
}

func TestManagerDelete_AppCannotDeleteUnrelatedAccess(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	mgr := NewManager(repo)
	ctx := context.Background()

	repo.byID["other"] = &Access{ID: "other", Type: TypeShared, Name: "other", CreatedBy: "someone-else"}
	app := &Access{ID: "app1", Type: TypeApp, Name: "app1"}
	tree := stream.BuildTree(nil)
	caller := Caller{Access: app, Evaluator: permission.NewEvaluator(app.Permissions, tree)}

	_, err := mgr.Delete(ctx, "user1", caller, "other")
	if !errors.Is(err, ErrForbiddenDelete) {
		t.Fatalf("got %v, want ErrForbiddenDelete", err)
	}
}

func TestManagerCheckApp(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	mgr := NewManager(repo)
	ctx := context.Background()

	perms := []permission.Permission{permission.StreamPermission("diary", permission.LevelRead)}
	repo.byID["app1"] = &Access{ID: "app1", Type: TypeApp, Name: "my-app", Permissions: perms}

	res, err := mgr.CheckApp(ctx, "user1", "my-app", perms, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MatchingAccess == nil {
		t.Fatal("expected a matching access")
	}

	res, err = mgr.CheckApp(ctx, "user1", "my-app", []permission.Permission{permission.StreamPermission("diary", permission.LevelManage)}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MismatchingAccess == nil {
		t.Fatal("expected a mismatching access")
	}

	res, err = mgr.CheckApp(ctx, "user1", "unknown-app", perms, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MatchingAccess != nil || res.MismatchingAccess != nil {
		t.Fatal("expected neither for an unknown app name")
	}
}

func TestManagerUpdate_AlwaysGone(t *testing.T) {
	t.Parallel()
	repo := newFakeRepo()
	mgr := NewManager(repo)
	_, err := mgr.Update(context.Background(), "user1", "any", nil)
	if !errors.Is(err, ErrUpdateGone) {
		t.Fatalf("got %v, want ErrUpdateGone", err)
	}
}
