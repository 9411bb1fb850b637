package permission

import (
	"github.com/pryv-io/core/internal/legacyprefix"
	"github.com/pryv-io/core/internal/stream"
)

// Evaluator computes effective permission levels over a user's stream tree for a given set of permission atoms. It is
// a pure function in spirit (design notes §9: "a pure function over (Vec<Permission>, StreamTree, Query) ->
// Decision") — it never performs I/O; callers in internal/reqctx supply the tree, typically from a per-user cache.
type Evaluator struct {
	perms []Permission
	tree  *stream.Tree
}

// NewEvaluator builds an Evaluator over the given permission set and stream tree.
func NewEvaluator(perms []Permission, tree *stream.Tree) *Evaluator {
	return &Evaluator{perms: perms, tree: tree}
}

// EffectiveLevel computes the effective level for a stream id (step 2-3 of §4.3): the scope of a stream atom is the
// stream plus all its descendants; the effective level is the max over every atom whose scope contains the
// (backward-compat-normalized) target, with a forced-exclusion atom (level=none) on the stream or an ancestor
// overriding any broader grant even a wildcard manage atom.
func (e *Evaluator) EffectiveLevel(streamID string) Level {
	target := legacyprefix.NormalizeStreamID(streamID)

	best := LevelNone
	forcedExcluded := false

	for _, p := range e.perms {
		if p.Kind != KindStream {
			continue
		}
		if !e.scopeContains(p.StreamID, target) {
			continue
		}
		if p.Level == LevelNone {
			forcedExcluded = true
			continue
		}
		if p.Level > best {
			best = p.Level
		}
	}

	if forcedExcluded {
		return LevelNone
	}
	return best
}

// scopeContains reports whether target falls within the scope of a stream permission's streamId: itself, or any
// descendant in the tree. "*" matches every stream in the user's forest.
func (e *Evaluator) scopeContains(scopeRoot, target string) bool {
	scopeRoot = legacyprefix.NormalizeStreamID(scopeRoot)
	if scopeRoot == WildcardStream {
		return true
	}
	if scopeRoot == target {
		return true
	}
	if e.tree == nil {
		return false
	}
	for _, id := range e.tree.Descendants(scopeRoot, true) {
		if id == target {
			return true
		}
	}
	return false
}

// Can reports whether the access may perform cap on streamID.
func (e *Evaluator) Can(streamID string, cap Capability) bool {
	return levelAllows(e.EffectiveLevel(streamID), cap)
}

// CanRead, CanCreate, CanUpdate, CanManage are the four capability-query methods named in the request context design
// (§4.1: "access.canGetEventsOnStream", "access.canCreateEventsOnStream", …).
func (e *Evaluator) CanRead(streamID string) bool   { return e.Can(streamID, CanRead) }
func (e *Evaluator) CanCreate(streamID string) bool { return e.Can(streamID, CanCreate) }
func (e *Evaluator) CanUpdate(streamID string) bool { return e.Can(streamID, CanUpdate) }
func (e *Evaluator) CanManage(streamID string) bool { return e.Can(streamID, CanManage) }

// HidesDescendantListing reports whether streamID carries an effective create-only level, which (§4.3 special
// rules) "blocks listing that stream's descendants" in addition to hiding the stream's own events.
func (e *Evaluator) HidesDescendantListing(streamID string) bool {
	return e.EffectiveLevel(streamID) == LevelCreateOnly
}

// CanReadEvent implements the multi-stream read rule: read requires read access on at least one of the event's
// stream ids.
func (e *Evaluator) CanReadEvent(streamIDs []string) bool {
	for _, id := range streamIDs {
		if e.CanRead(id) {
			return true
		}
	}
	return false
}

// CanWriteEvent implements the multi-stream create/update/delete rule: requires create/contribute on at least one
// stream id, and none of the ids may be forced-excluded. The open question in design notes §9 is resolved here as
// specified: "allow create provided at least one streamIds[i] satisfies canCreate and none is forced-none".
func (e *Evaluator) CanWriteEvent(streamIDs []string) bool {
	anyCreate := false
	for _, id := range streamIDs {
		if e.EffectiveLevel(id) == LevelNone && e.isForcedExcluded(id) {
			return false
		}
		if e.Can(id, CanCreate) {
			anyCreate = true
		}
	}
	return anyCreate
}

// CanUpdateEvent implements the multi-stream update/delete rule: requires update (contribute/manage) on at least one
// stream id, and none of the ids may be forced-excluded. Unlike CanWriteEvent, a create-only stream never satisfies
// this — §4.3's table has create-only granting canCreate but not canUpdate, so an event sitting only in create-only
// streams can be created but not later modified or deleted.
func (e *Evaluator) CanUpdateEvent(streamIDs []string) bool {
	anyUpdate := false
	for _, id := range streamIDs {
		if e.EffectiveLevel(id) == LevelNone && e.isForcedExcluded(id) {
			return false
		}
		if e.Can(id, CanUpdate) {
			anyUpdate = true
		}
	}
	return anyUpdate
}

// CanMoveEvent implements the move-between-streams rule: the corresponding capability (create on the target, in
// practice contribute/manage for updates that add streams) is required on *every* added stream, unlike the
// any-one-suffices rule for ordinary multi-stream reads/writes.
func (e *Evaluator) CanMoveEvent(addedStreamIDs []string, cap Capability) bool {
	if len(addedStreamIDs) == 0 {
		return true
	}
	for _, id := range addedStreamIDs {
		if !e.Can(id, cap) {
			return false
		}
	}
	return true
}

func (e *Evaluator) isForcedExcluded(target string) bool {
	target = legacyprefix.NormalizeStreamID(target)
	for _, p := range e.perms {
		if p.Kind == KindStream && p.Level == LevelNone && e.scopeContains(p.StreamID, target) {
			return true
		}
	}
	return false
}
