package versioning

import (
	"testing"
	"time"
)

func TestHistoryEntry_Reduce(t *testing.T) {
	t.Parallel()
	now := time.Now()
	full := HistoryEntry{
		ID: "hist-1", HeadID: "head-1", StreamIDs: []string{"diary"}, Type: "note/txt",
		Time: now, Content: "hello", Modified: now, ModifiedBy: "access-1",
	}
	reduced := full.Reduce()
	if reduced.ID != "head-1" || reduced.HeadID != "head-1" {
		t.Errorf("expected reduced id/headId to both be head-1, got %+v", reduced)
	}
	if reduced.Modified != now || reduced.ModifiedBy != "access-1" {
		t.Error("expected modified/modifiedBy to survive reduction")
	}
	if reduced.Content != nil || len(reduced.StreamIDs) != 0 || reduced.Type != "" {
		t.Errorf("expected content/streamIds/type to be cleared, got %+v", reduced)
	}
}

func TestReplaceStreamID(t *testing.T) {
	t.Parallel()
	out := replaceStreamID([]string{"A", "B", "C"}, "B", "A")
	if len(out) != 2 || out[0] != "A" || out[1] != "C" {
		t.Errorf("got %v, want [A C] (B replaced by A then deduplicated)", out)
	}

	out = replaceStreamID([]string{"A", "B"}, "B", "D")
	if len(out) != 2 || out[1] != "D" {
		t.Errorf("got %v, want [A D]", out)
	}
}
