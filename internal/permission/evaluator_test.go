package permission

import (
	"testing"

	"github.com/pryv-io/core/internal/stream"
)

func buildTestTree() *stream.Tree {
	a := "A"
	b := "B"
	streams := []stream.Stream{
		{ID: "A"},
		{ID: "B", ParentID: &a},
		{ID: "E", ParentID: &b},
		{ID: "C", ParentID: &a},
		{ID: "D"},
	}
	return stream.BuildTree(streams)
}

func TestEffectiveLevel_WildcardAndScope(t *testing.T) {
	t.Parallel()
	tree := buildTestTree()
	e := NewEvaluator([]Permission{StreamPermission(WildcardStream, LevelManage)}, tree)

	for _, id := range []string{"A", "B", "E", "C", "D"} {
		if got := e.EffectiveLevel(id); got != LevelManage {
			t.Errorf("EffectiveLevel(%q) = %v, want manage", id, got)
		}
	}
}

func TestEffectiveLevel_ForcedExclusionOverridesWildcard(t *testing.T) {
	t.Parallel()
	tree := buildTestTree()
	e := NewEvaluator([]Permission{
		StreamPermission(WildcardStream, LevelRead),
		StreamPermission("B", LevelNone),
	}, tree)

	if e.CanRead("A") != true {
		t.Error("expected A readable")
	}
	if e.CanRead("B") {
		t.Error("expected B excluded")
	}
	if e.CanRead("E") {
		t.Error("expected E (descendant of excluded B) excluded")
	}
	if !e.CanRead("C") {
		t.Error("expected C (sibling of excluded B) readable")
	}
}

func TestCreateOnlyHidesReadsButAllowsCreate(t *testing.T) {
	t.Parallel()
	tree := buildTestTree()
	e := NewEvaluator([]Permission{StreamPermission("A", LevelCreateOnly)}, tree)

	if e.CanRead("A") {
		t.Error("create-only must not allow read")
	}
	if !e.CanCreate("A") {
		t.Error("create-only must allow create")
	}
	if e.CanUpdate("A") {
		t.Error("create-only must not allow update")
	}
	if !e.HidesDescendantListing("A") {
		t.Error("create-only must hide descendant listing")
	}
}

func TestLevelHierarchy(t *testing.T) {
	t.Parallel()
	tree := buildTestTree()

	tests := []struct {
		level                          Level
		read, create, update, manage bool
	}{
		{LevelNone, false, false, false, false},
		{LevelRead, true, false, false, false},
		{LevelCreateOnly, false, true, false, false},
		{LevelContribute, true, true, true, false},
		{LevelManage, true, true, true, true},
	}
	for _, tt := range tests {
		e := NewEvaluator([]Permission{StreamPermission("A", tt.level)}, tree)
		if got := e.CanRead("A"); got != tt.read {
			t.Errorf("level %v: CanRead = %v, want %v", tt.level, got, tt.read)
		}
		if got := e.CanCreate("A"); got != tt.create {
			t.Errorf("level %v: CanCreate = %v, want %v", tt.level, got, tt.create)
		}
		if got := e.CanUpdate("A"); got != tt.update {
			t.Errorf("level %v: CanUpdate = %v, want %v", tt.level, got, tt.update)
		}
		if got := e.CanManage("A"); got != tt.manage {
			t.Errorf("level %v: CanManage = %v, want %v", tt.level, got, tt.manage)
		}
	}
}

func TestCanReadEvent_AnyStreamSuffices(t *testing.T) {
	t.Parallel()
	tree := buildTestTree()
	e := NewEvaluator([]Permission{StreamPermission("C", LevelRead)}, tree)

	if !e.CanReadEvent([]string{"A", "C"}) {
		t.Error("expected read allowed: C is readable")
	}
	if e.CanReadEvent([]string{"A", "D"}) {
		t.Error("expected read denied: neither A nor D readable")
	}
}

func TestCanWriteEvent_CreateOnlyStreamSuffices(t *testing.T) {
	t.Parallel()
	tree := buildTestTree()
	e := NewEvaluator([]Permission{StreamPermission("A", LevelCreateOnly)}, tree)

	if !e.CanWriteEvent([]string{"A"}) {
		t.Error("expected create allowed: A has create-only")
	}
	if e.CanWriteEvent([]string{"D"}) {
		t.Error("expected create denied: D has no permission")
	}
}

func TestCanUpdateEvent_CreateOnlyStreamDoesNotSuffice(t *testing.T) {
	t.Parallel()
	tree := buildTestTree()
	e := NewEvaluator([]Permission{
		StreamPermission("A", LevelCreateOnly),
		StreamPermission("C", LevelContribute),
	}, tree)

	if e.CanUpdateEvent([]string{"A"}) {
		t.Error("expected update denied: create-only does not grant update (§4.3 table)")
	}
	if !e.CanUpdateEvent([]string{"A", "C"}) {
		t.Error("expected update allowed: C has contribute")
	}
	if e.CanUpdateEvent([]string{"D"}) {
		t.Error("expected update denied: D has no permission")
	}
}

func TestCanUpdateEvent_ForcedExclusionOverrides(t *testing.T) {
	t.Parallel()
	tree := buildTestTree()
	e := NewEvaluator([]Permission{
		StreamPermission(WildcardStream, LevelManage),
		StreamPermission("B", LevelNone),
	}, tree)

	if e.CanUpdateEvent([]string{"B"}) {
		t.Error("expected update denied: B is forced-excluded even under a wildcard manage grant")
	}
	if !e.CanUpdateEvent([]string{"A"}) {
		t.Error("expected update allowed: A is unaffected by B's exclusion")
	}
}

func TestCanMoveEvent_RequiresAll(t *testing.T) {
	t.Parallel()
	tree := buildTestTree()
	e := NewEvaluator([]Permission{
		StreamPermission("C", LevelContribute),
		StreamPermission("D", LevelContribute),
	}, tree)

	if !e.CanMoveEvent([]string{"C", "D"}, CanCreate) {
		t.Error("expected move allowed: both C and D have contribute")
	}
	if e.CanMoveEvent([]string{"C", "A"}, CanCreate) {
		t.Error("expected move denied: A has no permission")
	}
}

func TestBackwardCompatNormalizationInEvaluator(t *testing.T) {
	t.Parallel()
	streams := []stream.Stream{{ID: ":system:email"}}
	tree := stream.BuildTree(streams)
	e := NewEvaluator([]Permission{StreamPermission(".email", LevelRead)}, tree)

	if !e.CanRead(":system:email") {
		t.Error("expected legacy-prefixed permission atom to apply to canonical id")
	}
	if !e.CanRead(".email") {
		t.Error("expected legacy-prefixed target to normalize before lookup")
	}
}
