package event

import (
	"errors"
	"testing"
	"time"
)

func dur(seconds float64) *float64 { return &seconds }

func TestEvent_OverlapsPointEvents(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := &Event{Time: base}
	b := &Event{Time: base}
	if !a.Overlaps(b) {
		t.Error("two point events at the same instant should overlap")
	}
	c := &Event{Time: base.Add(time.Second)}
	if a.Overlaps(c) {
		t.Error("point events at distinct instants should not overlap")
	}
}

func TestEvent_OverlapsDurationEvents(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a := &Event{Time: base, Duration: dur(3600)}
	b := &Event{Time: base.Add(30 * time.Minute), Duration: dur(3600)}
	if !a.Overlaps(b) {
		t.Error("expected overlapping duration ranges to overlap")
	}
	c := &Event{Time: base.Add(2 * time.Hour), Duration: dur(3600)}
	if a.Overlaps(c) {
		t.Error("expected disjoint duration ranges not to overlap")
	}
}

func TestEvent_IsPointAndEnd(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	point := &Event{Time: base}
	if !point.IsPoint() {
		t.Error("expected nil duration to be a point event")
	}
	if !point.End().Equal(base) {
		t.Error("expected point event's End() to equal its Time")
	}

	withDuration := &Event{Time: base, Duration: dur(120)}
	if withDuration.IsPoint() {
		t.Error("expected non-nil duration not to be a point event")
	}
	if want := base.Add(120 * time.Second); !withDuration.End().Equal(want) {
		t.Errorf("End() = %v, want %v", withDuration.End(), want)
	}
}

func TestValidateStreamIDs(t *testing.T) {
	t.Parallel()
	isSystem := func(id string) bool { return id == ":system:email" }

	if err := ValidateStreamIDs(nil, isSystem); !errors.Is(err, ErrEmptyStreamIDs) {
		t.Errorf("got %v, want ErrEmptyStreamIDs", err)
	}
	if err := ValidateStreamIDs([]string{":system:email"}, isSystem); !errors.Is(err, ErrAllSystemStreams) {
		t.Errorf("got %v, want ErrAllSystemStreams", err)
	}
	if err := ValidateStreamIDs([]string{":system:email", "diary"}, isSystem); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
