package streamquery

import (
	"errors"
	"testing"

	"github.com/pryv-io/core/internal/permission"
	"github.com/pryv-io/core/internal/stream"
)

func testTree() *stream.Tree {
	a := "A"
	return stream.BuildTree([]stream.Stream{
		{ID: "A"},
		{ID: "B", ParentID: &a},
		{ID: "C"},
	})
}

func TestParse_SingleID(t *testing.T) {
	t.Parallel()
	q, err := Parse("A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q) != 1 || len(q[0].Any) != 1 || q[0].Any[0] != "A" {
		t.Errorf("got %+v", q)
	}
}

func TestParse_ArrayOfIDs(t *testing.T) {
	t.Parallel()
	q, err := Parse([]any{"A", "B"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q) != 1 || len(q[0].Any) != 2 {
		t.Errorf("got %+v", q)
	}
}

func TestParse_QueryObject(t *testing.T) {
	t.Parallel()
	q, err := Parse(map[string]any{
		"any": []any{"A"},
		"not": []any{"B"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q) != 1 || q[0].Any[0] != "A" || q[0].Not[0] != "B" {
		t.Errorf("got %+v", q)
	}
}

func TestParse_JSONStringified(t *testing.T) {
	t.Parallel()
	q, err := Parse(`{"any":["A"]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q) != 1 || q[0].Any[0] != "A" {
		t.Errorf("got %+v", q)
	}
}

func TestParse_MissingAnyFails(t *testing.T) {
	t.Parallel()
	_, err := Parse(map[string]any{"not": []any{"A"}})
	if !errors.Is(err, ErrMissingAny) {
		t.Fatalf("got %v, want ErrMissingAny", err)
	}
}

func TestValidate_WildcardMixing(t *testing.T) {
	t.Parallel()
	if err := Validate(Query{{Any: []string{"*", "A"}}}); !errors.Is(err, ErrWildcardMixedWithIDs) {
		t.Errorf("got %v, want ErrWildcardMixedWithIDs", err)
	}
	if err := Validate(Query{{Any: []string{"*"}, All: []string{"A"}}}); !errors.Is(err, ErrWildcardMixedWithAll) {
		t.Errorf("got %v, want ErrWildcardMixedWithAll", err)
	}
}

func TestExpand_IncludesDescendants(t *testing.T) {
	t.Parallel()
	tree := testTree()
	c := Conjunct{Any: []string{"A"}}
	expanded := Expand(c, tree, nil)
	if len(expanded.Any) != 2 {
		t.Errorf("expected A+B, got %v", expanded.Any)
	}
}

func TestExpand_ExactSuffixExcludesDescendants(t *testing.T) {
	t.Parallel()
	tree := testTree()
	c := Conjunct{Any: []string{"A!"}}
	expanded := Expand(c, tree, nil)
	if len(expanded.Any) != 1 || expanded.Any[0] != "A" {
		t.Errorf("expected just A, got %v", expanded.Any)
	}
}

func TestExpand_UnknownIDIsReported(t *testing.T) {
	t.Parallel()
	tree := testTree()
	var unknown []string
	Expand(Conjunct{Any: []string{"ghost"}}, tree, &unknown)
	if len(unknown) != 1 || unknown[0] != "ghost" {
		t.Errorf("got %v", unknown)
	}
}

func TestMask_RemovesUnreadableStreams(t *testing.T) {
	t.Parallel()
	tree := testTree()
	e := permission.NewEvaluator([]permission.Permission{permission.StreamPermission("A", permission.LevelRead)}, tree)
	masked := Mask(Conjunct{Any: []string{"A", "C"}}, e)
	if len(masked.Any) != 1 || masked.Any[0] != "A" {
		t.Errorf("got %v", masked.Any)
	}
}

func TestCompile_EmptyResultIsNotAnError(t *testing.T) {
	t.Parallel()
	tree := testTree()
	e := permission.NewEvaluator(nil, tree)
	filter, err := Compile("A", tree, e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(filter.Or) != 0 {
		t.Errorf("expected an empty filter tree, got %+v", filter)
	}
}

func TestCompile_UnknownIDFails(t *testing.T) {
	t.Parallel()
	tree := testTree()
	e := permission.NewEvaluator([]permission.Permission{permission.StreamPermission("*", permission.LevelManage)}, tree)
	_, err := Compile("ghost", tree, e)
	if !errors.Is(err, ErrUnknownReferencedID) {
		t.Fatalf("got %v, want ErrUnknownReferencedID", err)
	}
}
