package user

import "testing"

func TestIsLive(t *testing.T) {
	t.Parallel()

	u := &User{}
	if !u.IsLive() {
		t.Error("IsLive() = false for a fresh user, want true")
	}

	var zero = *u
	now := zero.Modified
	zero.Deleted = &now
	if zero.IsLive() {
		t.Error("IsLive() = true once Deleted is set, want false")
	}
}
