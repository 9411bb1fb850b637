package permission

import (
	"testing"

	"github.com/pryv-io/core/internal/stream"
)

func TestCheckSubset(t *testing.T) {
	t.Parallel()
	tree := stream.BuildTree([]stream.Stream{{ID: "root"}})

	t.Run("contribute creating manage is rejected", func(t *testing.T) {
		t.Parallel()
		parent := NewEvaluator([]Permission{StreamPermission("root", LevelContribute)}, tree)
		child := []Permission{StreamPermission("root", LevelManage)}
		if err := CheckSubset(parent, nil, child); err == nil {
			t.Fatal("expected error creating manage from contribute")
		}
	})

	t.Run("contribute creating read is allowed", func(t *testing.T) {
		t.Parallel()
		parent := NewEvaluator([]Permission{StreamPermission("root", LevelContribute)}, tree)
		child := []Permission{StreamPermission("root", LevelRead)}
		if err := CheckSubset(parent, nil, child); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("manage creating manage is allowed", func(t *testing.T) {
		t.Parallel()
		parent := NewEvaluator([]Permission{StreamPermission("root", LevelManage)}, tree)
		child := []Permission{StreamPermission("root", LevelManage)}
		if err := CheckSubset(parent, nil, child); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("selfRevoke forbidden is inherited", func(t *testing.T) {
		t.Parallel()
		parentPerms := []Permission{
			StreamPermission("root", LevelManage),
			FeaturePermission(FeatureSelfRevoke, SettingForbidden),
		}
		parent := NewEvaluator(parentPerms, tree)
		child := []Permission{
			StreamPermission("root", LevelRead),
			FeaturePermission(FeatureSelfRevoke, "allowed"),
		}
		if err := CheckSubset(parent, parentPerms, child); err != ErrFeatureNotInherited {
			t.Fatalf("got %v, want ErrFeatureNotInherited", err)
		}
	})
}
